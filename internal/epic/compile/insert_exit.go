package compile

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// InsertExit guarantees a reachable EXIT node. When none is reachable it adds
// one after the last node in breadth-first order.
type InsertExit struct{}

func (InsertExit) ID() string { return "insert_exit" }

func (InsertExit) Apply(g *ir.Graph) error {
	if g.First() == ir.NoNode {
		if g.Len() != 0 {
			return fmt.Errorf("graph has %d nodes but no first node", g.Len())
		}
		exit := g.AddNode(&ir.ExitContents{})
		return g.SetFirst(exit.ID)
	}
	order := g.Reachable()
	for _, id := range order {
		if g.Node(id).Op == ir.OpExit {
			return nil
		}
	}
	exit := g.AddNode(&ir.ExitContents{})
	return g.AddEdge(order[len(order)-1], exit.ID)
}
