// Package runtime holds the interpreter's serializable state: the lifecycle
// status, the traversal cursor, scratch memory and the checkpoint document.
package runtime

import "fmt"

// ProgramStatus is the interpreter lifecycle. Transitions are linear.
type ProgramStatus string

const (
	StatusUninitialized ProgramStatus = "UNINITIALIZED"
	StatusInitialized   ProgramStatus = "INITIALIZED"
	StatusCompiling     ProgramStatus = "COMPILING_PROGRAM"
	StatusLoaded        ProgramStatus = "LOADED_PROGRAM"
	StatusRunning       ProgramStatus = "RUNNING_PROGRAM"
	StatusFinished      ProgramStatus = "FINISHED_RUNNING_PROGRAM"
)

var nextStatus = map[ProgramStatus][]ProgramStatus{
	StatusUninitialized: {StatusInitialized},
	StatusInitialized:   {StatusCompiling},
	StatusCompiling:     {StatusLoaded},
	StatusLoaded:        {StatusRunning, StatusFinished},
	StatusRunning:       {StatusFinished},
}

func (s ProgramStatus) Valid() bool {
	_, ok := nextStatus[s]
	return ok || s == StatusFinished
}

func (s ProgramStatus) CanTransition(to ProgramStatus) bool {
	for _, next := range nextStatus[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Executable reports whether steps may run in this status.
func (s ProgramStatus) Executable() bool { return s == StatusLoaded || s == StatusRunning }

func (s ProgramStatus) Finished() bool { return s == StatusFinished }

func ParseProgramStatus(v string) (ProgramStatus, error) {
	s := ProgramStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid program status: %q", v)
	}
	return s, nil
}
