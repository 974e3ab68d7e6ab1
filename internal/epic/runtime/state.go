package runtime

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// State is everything the interpreter needs to resume: lifecycle status, the
// compiled graph, the traversal cursor, scratch memory and the step count.
type State struct {
	Status    ProgramStatus
	Graph     *ir.Graph
	Traversal Traversal
	Memory    []string
	StepCount int
}

func NewState() *State {
	return &State{Status: StatusUninitialized, Traversal: Traversal{Current: ir.NoNode}}
}

// Transition moves to status to, rejecting anything but the next lifecycle step.
func (s *State) Transition(to ProgramStatus) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("invalid status transition %s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// Load installs a compiled graph and seeds the traversal with its first node.
func (s *State) Load(g *ir.Graph) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	s.Graph = g
	s.Traversal = NewTraversal(g.First())
	s.Memory = nil
	s.StepCount = 0
	return nil
}

func (s *State) AppendMemory(notes ...string) { s.Memory = append(s.Memory, notes...) }

func (s *State) ReplaceMemory(notes []string) { s.Memory = append([]string(nil), notes...) }

// CurrentNode returns the node the cursor points at, or nil.
func (s *State) CurrentNode() *ir.Node {
	if s.Graph == nil {
		return nil
	}
	return s.Graph.Node(s.Traversal.Current)
}
