package runtime

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// NextKind says how the traversal advances after a node has been processed.
type NextKind int

const (
	// PushSuccessors pushes every graph successor of the processed node.
	PushSuccessors NextKind = iota
	// PushTarget pushes exactly one node chosen by the handler.
	PushTarget
)

func (k NextKind) String() string {
	switch k {
	case PushSuccessors:
		return "push_successors"
	case PushTarget:
		return "push_target"
	default:
		return fmt.Sprintf("NextKind(%d)", int(k))
	}
}

// Next is what a handler returns to drive the traversal.
type Next struct {
	Kind   NextKind
	Target ir.NodeID
}

func Successors() Next { return Next{Kind: PushSuccessors, Target: ir.NoNode} }

func Goto(id ir.NodeID) Next { return Next{Kind: PushTarget, Target: id} }

// Traversal is the program counter: a stack of pending node ids that pops from
// the end, plus the node currently being executed.
type Traversal struct {
	Current ir.NodeID
	Queue   []ir.NodeID
}

// NewTraversal seeds the queue with first. No node is current until Pop.
func NewTraversal(first ir.NodeID) Traversal {
	t := Traversal{Current: ir.NoNode}
	if first != ir.NoNode {
		t.Queue = []ir.NodeID{first}
	}
	return t
}

// Pop makes the top of the stack current. With an empty stack the current
// node is cleared and Pop reports false.
func (t *Traversal) Pop() bool {
	if len(t.Queue) == 0 {
		t.Current = ir.NoNode
		return false
	}
	last := len(t.Queue) - 1
	t.Current = t.Queue[last]
	t.Queue = t.Queue[:last]
	return true
}

// Advance pushes what next asks for after node from has run. Successors are
// pushed in reverse so the first declared successor is popped first.
func (t *Traversal) Advance(g *ir.Graph, from ir.NodeID, next Next) error {
	switch next.Kind {
	case PushSuccessors:
		succ := g.Successors(from)
		for i := len(succ) - 1; i >= 0; i-- {
			t.Queue = append(t.Queue, succ[i])
		}
		return nil
	case PushTarget:
		if !g.Has(next.Target) {
			return fmt.Errorf("node %d routed to missing node %d", from, next.Target)
		}
		t.Queue = append(t.Queue, next.Target)
		return nil
	default:
		return fmt.Errorf("node %d returned unknown next action %s", from, next.Kind)
	}
}

// Step advances past the current node and pops the next one. It reports
// false once the queue is exhausted.
func (t *Traversal) Step(g *ir.Graph, next Next) (bool, error) {
	if t.Current != ir.NoNode {
		if err := t.Advance(g, t.Current, next); err != nil {
			return false, err
		}
	}
	return t.Pop(), nil
}

// Done reports that no node is current and nothing is pending.
func (t *Traversal) Done() bool { return t.Current == ir.NoNode && len(t.Queue) == 0 }
