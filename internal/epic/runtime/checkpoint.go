package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// CheckpointVersion is bumped whenever the document layout changes.
const CheckpointVersion = 1

// InputConfig records what a run was started from.
type InputConfig struct {
	RunID         string `json:"run_id"`
	Project       string `json:"project,omitempty"`
	OutputVersion int    `json:"output_version,omitempty"`
	DSLPath       string `json:"dsl_path,omitempty"`
	SourceDigest  string `json:"source_blake3,omitempty"`
	ConfigPath    string `json:"config_path,omitempty"`
	RunDir        string `json:"run_dir,omitempty"`
	CodeDir       string `json:"code_dir,omitempty"`
	RunLogsDir    string `json:"run_logs_dir,omitempty"`
	IterationMax  int    `json:"iteration_max,omitempty"`
}

// Execution is the program counter plus everything the handlers mutate.
type Execution struct {
	// CurrentNodeID is null when no node is current.
	CurrentNodeID *ir.NodeID  `json:"current_node_id"`
	WorkQueue     []ir.NodeID `json:"work_queue"`
	Graph         *ir.Graph   `json:"graph"`
	Memory        []string    `json:"memory"`
	StepCount     int         `json:"step_count"`
}

type Checkpoint struct {
	Version     int           `json:"version"`
	Status      ProgramStatus `json:"status"`
	InputConfig InputConfig   `json:"input_config"`
	Execution   Execution     `json:"execution"`
	SavedAt     time.Time     `json:"saved_at"`
}

// NewCheckpoint snapshots st. The graph is deep-copied so later mutation of
// st does not leak into the checkpoint.
func NewCheckpoint(st *State, in InputConfig) (*Checkpoint, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	cp := &Checkpoint{
		Version:     CheckpointVersion,
		Status:      st.Status,
		InputConfig: in,
		Execution: Execution{
			WorkQueue: append([]ir.NodeID{}, st.Traversal.Queue...),
			Memory:    append([]string{}, st.Memory...),
			StepCount: st.StepCount,
		},
		SavedAt: time.Now().UTC(),
	}
	if cur := st.Traversal.Current; cur != ir.NoNode {
		cp.Execution.CurrentNodeID = &cur
	}
	if st.Graph != nil {
		g, err := st.Graph.Clone()
		if err != nil {
			return nil, err
		}
		cp.Execution.Graph = g
	}
	return cp, nil
}

// State rebuilds the interpreter state recorded in cp.
func (cp *Checkpoint) State() (*State, error) {
	if cp == nil {
		return nil, fmt.Errorf("checkpoint is nil")
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d (want %d)", cp.Version, CheckpointVersion)
	}
	if !cp.Status.Valid() {
		return nil, fmt.Errorf("invalid program status: %q", cp.Status)
	}
	if cp.Execution.Graph == nil {
		return nil, fmt.Errorf("checkpoint has no graph")
	}
	g, err := cp.Execution.Graph.Clone()
	if err != nil {
		return nil, err
	}
	st := &State{
		Status:    cp.Status,
		Graph:     g,
		Traversal: Traversal{Current: ir.NoNode, Queue: append([]ir.NodeID(nil), cp.Execution.WorkQueue...)},
		Memory:    append([]string(nil), cp.Execution.Memory...),
		StepCount: cp.Execution.StepCount,
	}
	if id := cp.Execution.CurrentNodeID; id != nil {
		st.Traversal.Current = *id
	}
	if cur := st.Traversal.Current; cur != ir.NoNode && !g.Has(cur) {
		return nil, fmt.Errorf("current node %d is not in the graph", cur)
	}
	for _, id := range st.Traversal.Queue {
		if !g.Has(id) {
			return nil, fmt.Errorf("queued node %d is not in the graph", id)
		}
	}
	return st, nil
}

func (cp *Checkpoint) Save(path string) error {
	return WriteJSONAtomicFile(path, cp)
}

func LoadCheckpoint(path string) (*Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCheckpoint(b)
}

func DecodeCheckpoint(b []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}
