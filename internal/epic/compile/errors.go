package compile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danshapiro/epic/internal/epic/dsl"
	"github.com/danshapiro/epic/internal/epic/ir"
)

// ErrMultipleDebugLoops is returned when a document declares more than one
// /DEBUG_LOOP. Only a single retry loop per workflow is supported.
var ErrMultipleDebugLoops = errors.New("at most one DEBUG_LOOP is supported per workflow")

// MalformedCommandError reports a /RUN or /DEBUG_LOOP section whose command
// cannot be read.
type MalformedCommandError struct {
	Marker dsl.Marker
	Line   int
	Body   string
	Err    error
}

func (e *MalformedCommandError) Error() string {
	return fmt.Sprintf("%s at line %d: malformed command %q: %v", e.Marker, e.Line, e.Body, e.Err)
}

func (e *MalformedCommandError) Unwrap() error { return e.Err }

// SectionError reports any other section whose body is unusable.
type SectionError struct {
	Marker dsl.Marker
	Line   int
	Reason string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("%s at line %d: %s", e.Marker, e.Line, e.Reason)
}

// DebugLoopShapeError reports a DEBUG_LOOP node that does not have exactly one
// predecessor and one successor.
type DebugLoopShapeError struct {
	NodeID ir.NodeID
	FanIn  int
	FanOut int
}

func (e *DebugLoopShapeError) Error() string {
	return fmt.Sprintf("DEBUG_LOOP node %d must have exactly one predecessor and one successor (found %d in, %d out)", e.NodeID, e.FanIn, e.FanOut)
}

// ValidationError carries the error-severity diagnostics of a lowered graph.
type ValidationError struct {
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			parts = append(parts, d.Rule+": "+d.Message)
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
