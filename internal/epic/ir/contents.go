package ir

import (
	"encoding/json"
	"fmt"
)

// Contents is the opcode-specific payload of a node. Each opcode has exactly
// one concrete type; handlers mutate it in place through the owning graph.
type Contents interface {
	Opcode() Opcode
}

type TemplateContents struct {
	Path string `json:"path"`
}

type DocsContents struct {
	Path string `json:"path"`
	// ResolvedPath is filled in once the node has executed.
	ResolvedPath string `json:"resolved_path,omitempty"`
}

type ReadOnlyContents struct {
	Path string `json:"path"`
}

type PromptContents struct {
	Prompt       string   `json:"prompt"`
	CodeRefs     []string `json:"code_refs,omitempty"`
	DocsRefs     []string `json:"docs_refs,omitempty"`
	TemplateRefs []string `json:"template_refs,omitempty"`
	RunLogsRefs  []string `json:"run_logs_refs,omitempty"`
	RunRefs      []NodeID `json:"run_refs,omitempty"`
	ROFolder     []string `json:"ro_folder,omitempty"`
}

// RefKind names an inline @kind:path reference inside prompt text.
type RefKind string

const (
	RefDocs     RefKind = "docs"
	RefTemplate RefKind = "template"
	RefCode     RefKind = "code"
	RefRunLogs  RefKind = "run_logs"
)

func RefKinds() []RefKind { return []RefKind{RefDocs, RefTemplate, RefCode, RefRunLogs} }

// Refs returns the reference list for kind, or nil for an unknown kind.
func (c *PromptContents) Refs(kind RefKind) *[]string {
	switch kind {
	case RefDocs:
		return &c.DocsRefs
	case RefTemplate:
		return &c.TemplateRefs
	case RefCode:
		return &c.CodeRefs
	case RefRunLogs:
		return &c.RunLogsRefs
	default:
		return nil
	}
}

type RunContents struct {
	Command    string `json:"command"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	StdoutFile string `json:"stdout_file,omitempty"`
	StderrFile string `json:"stderr_file,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Executed reports whether the command has produced an exit code.
func (c *RunContents) Executed() bool { return c != nil && c.ExitCode != nil }

type ConditionalContents struct {
	RunNodeID      NodeID `json:"run_node_id"`
	TrueTarget     NodeID `json:"true_node_target"`
	FalseTarget    NodeID `json:"false_node_target"`
	IterationCount int    `json:"iteration_count"`
	IterationMax   int    `json:"iteration_max"`
	ShouldFail     bool   `json:"should_fail,omitempty"`
	Condition      *bool  `json:"condition,omitempty"`
}

type FixContents struct {
	RunRef   NodeID `json:"run_ref"`
	Attempts int    `json:"attempts,omitempty"`
}

type DebugLoopContents struct {
	Command      string `json:"command"`
	ShouldFail   bool   `json:"should_fail,omitempty"`
	IterationMax int    `json:"iteration_max,omitempty"`
}

type ExitContents struct{}

func (*TemplateContents) Opcode() Opcode    { return OpTemplate }
func (*DocsContents) Opcode() Opcode        { return OpDocs }
func (*ReadOnlyContents) Opcode() Opcode    { return OpReadOnly }
func (*PromptContents) Opcode() Opcode      { return OpPrompt }
func (*RunContents) Opcode() Opcode         { return OpRun }
func (*ConditionalContents) Opcode() Opcode { return OpConditional }
func (*FixContents) Opcode() Opcode         { return OpFix }
func (*DebugLoopContents) Opcode() Opcode   { return OpDebugLoop }
func (*ExitContents) Opcode() Opcode        { return OpExit }

// NewContents returns an empty payload for op. Node references start out as
// NoNode so that a key missing from a decoded document is distinguishable
// from a reference to node 0.
func NewContents(op Opcode) (Contents, error) {
	switch op {
	case OpTemplate:
		return &TemplateContents{}, nil
	case OpDocs:
		return &DocsContents{}, nil
	case OpReadOnly:
		return &ReadOnlyContents{}, nil
	case OpPrompt:
		return &PromptContents{}, nil
	case OpRun:
		return &RunContents{}, nil
	case OpConditional:
		return &ConditionalContents{RunNodeID: NoNode, TrueTarget: NoNode, FalseTarget: NoNode}, nil
	case OpFix:
		return &FixContents{RunRef: NoNode}, nil
	case OpDebugLoop:
		return &DebugLoopContents{}, nil
	case OpExit:
		return &ExitContents{}, nil
	default:
		return nil, fmt.Errorf("unknown opcode %q", op)
	}
}

// DecodeContents decodes raw into the payload type for op.
func DecodeContents(op Opcode, raw json.RawMessage) (Contents, error) {
	c, err := NewContents(op)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("decode %s contents: %w", op, err)
	}
	return c, nil
}

// As returns n's contents as T, or an error naming the mismatch.
func As[T Contents](n *Node) (T, error) {
	var zero T
	if n == nil {
		return zero, fmt.Errorf("node is nil")
	}
	c, ok := n.Contents.(T)
	if !ok {
		return zero, fmt.Errorf("node %d (%s): contents have type %T", n.ID, n.Op, n.Contents)
	}
	return c, nil
}
