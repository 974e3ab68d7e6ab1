package runtime

import (
	"fmt"
	"time"
)

type FinalStatus string

const (
	FinalSuccess FinalStatus = "success"
	FinalFail    FinalStatus = "fail"
	// FinalDidNotConverge marks a run that exhausted a retry budget.
	FinalDidNotConverge FinalStatus = "did_not_converge"
)

type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID     string `json:"run_id"`
	StepCount int    `json:"step_count"`

	NodeID        *int   `json:"node_id,omitempty"`
	Opcode        string `json:"opcode,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	FinalGitCommitSHA string `json:"final_git_commit_sha,omitempty"`
}

func (fo *FinalOutcome) Save(path string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	return WriteJSONAtomicFile(path, fo)
}
