// Package runstate summarises a run directory for display without loading
// the engine.
package runstate

import "time"

type State string

const (
	StateUnknown        State = "unknown"
	StateLoaded         State = "loaded"
	StateRunning        State = "running"
	StateSuccess        State = "success"
	StateFail           State = "fail"
	StateDidNotConverge State = "did_not_converge"
)

// Terminal reports whether final.json settled the run.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFail || s == StateDidNotConverge
}

type Snapshot struct {
	RunDir  string `json:"run_dir"`
	RunID   string `json:"run_id,omitempty"`
	Project string `json:"project,omitempty"`
	Version int    `json:"version,omitempty"`
	State   State  `json:"state"`

	// ProgramStatus and StepCount come from checkpoint.json.
	ProgramStatus string   `json:"program_status,omitempty"`
	StepCount     int      `json:"step_count"`
	Memory        []string `json:"memory,omitempty"`

	CurrentNodeID string    `json:"current_node_id,omitempty"`
	LastEvent     string    `json:"last_event,omitempty"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`

	PID      int  `json:"pid,omitempty"`
	PIDAlive bool `json:"pid_alive"`
}
