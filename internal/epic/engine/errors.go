package engine

import (
	"errors"
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

var (
	// ErrIterationLimitExceeded matches every *IterationLimitError.
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	ErrNotLoaded              = errors.New("no program loaded")
	ErrSourceChanged          = errors.New("workflow source changed since the checkpoint was written")
)

// StepError wraps a handler failure with the node it happened on.
type StepError struct {
	NodeID ir.NodeID
	Opcode ir.Opcode
	Step   int
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: node %d (%s): %v", e.Step, e.NodeID, e.Opcode, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// MissingExitCodeError reports a CONDITIONAL evaluated before its RUN node
// produced an exit code.
type MissingExitCodeError struct {
	ConditionalID ir.NodeID
	RunNodeID     ir.NodeID
}

func (e *MissingExitCodeError) Error() string {
	return fmt.Sprintf("conditional %d: run node %d has no exit code", e.ConditionalID, e.RunNodeID)
}

// MissingContentsError reports a node whose contents lack a field its
// handler needs.
type MissingContentsError struct {
	NodeID ir.NodeID
	Opcode ir.Opcode
	Field  string
	Reason string
}

func (e *MissingContentsError) Error() string {
	msg := fmt.Sprintf("node %d (%s): missing %s", e.NodeID, e.Opcode, e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

type IterationLimitError struct {
	NodeID ir.NodeID
	Count  int
	Max    int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("conditional %d: %d of %d iterations used: %v", e.NodeID, e.Count, e.Max, ErrIterationLimitExceeded)
}

func (e *IterationLimitError) Is(target error) bool { return target == ErrIterationLimitExceeded }

// CheckpointError is fatal: without a durable checkpoint the run cannot
// continue.
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
