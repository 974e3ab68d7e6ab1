// Package ir holds the compiled form of an epic workflow: a directed graph of
// typed operation nodes stored in an arena indexed by NodeID.
package ir

import (
	"fmt"
	"strings"
)

// Opcode identifies the kind of a node. The set is closed; Opcodes lists every
// member and Valid rejects anything else.
type Opcode string

const (
	OpTemplate    Opcode = "TEMPLATE"
	OpPrompt      Opcode = "PROMPT"
	OpReadOnly    Opcode = "READ_ONLY"
	OpDocs        Opcode = "DOCS"
	OpRun         Opcode = "RUN"
	OpDebugLoop   Opcode = "DEBUG_LOOP"
	OpConditional Opcode = "CONDITIONAL"
	OpFix         Opcode = "FIX"
	OpExit        Opcode = "EXIT"
)

var opcodes = []Opcode{
	OpTemplate,
	OpPrompt,
	OpReadOnly,
	OpDocs,
	OpRun,
	OpDebugLoop,
	OpConditional,
	OpFix,
	OpExit,
}

// Opcodes returns every opcode in declaration order.
func Opcodes() []Opcode { return append([]Opcode{}, opcodes...) }

// ExecutableOpcodes returns the opcodes that may appear in a lowered graph.
// DEBUG_LOOP is a front-end construct and never reaches the interpreter.
func ExecutableOpcodes() []Opcode {
	out := make([]Opcode, 0, len(opcodes)-1)
	for _, op := range opcodes {
		if op != OpDebugLoop {
			out = append(out, op)
		}
	}
	return out
}

func (o Opcode) Valid() bool {
	for _, op := range opcodes {
		if op == o {
			return true
		}
	}
	return false
}

func (o Opcode) String() string { return string(o) }

func ParseOpcode(s string) (Opcode, error) {
	op := Opcode(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", fmt.Errorf("unknown opcode %q", s)
	}
	return op, nil
}
