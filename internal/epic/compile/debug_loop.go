package compile

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// LowerDebugLoop rewrites P -> DEBUG_LOOP(cmd) -> S into
//
//	P -> RUN(cmd) -> CONDITIONAL -> S      (condition holds)
//	               CONDITIONAL -> FIX -> RUN (condition fails)
//
// A graph without DEBUG_LOOP nodes is left untouched.
type LowerDebugLoop struct {
	IterationMax int
}

func (LowerDebugLoop) ID() string { return "lower_debug_loop" }

func (p LowerDebugLoop) Apply(g *ir.Graph) error {
	loops := g.NodesOf(ir.OpDebugLoop)
	switch len(loops) {
	case 0:
		return nil
	case 1:
	default:
		ids := make([]ir.NodeID, 0, len(loops))
		for _, n := range loops {
			ids = append(ids, n.ID)
		}
		return fmt.Errorf("%w (found nodes %v)", ErrMultipleDebugLoops, ids)
	}

	loop := loops[0]
	preds := g.Predecessors(loop.ID)
	succs := g.Successors(loop.ID)
	if len(preds) != 1 || len(succs) != 1 {
		return &DebugLoopShapeError{NodeID: loop.ID, FanIn: len(preds), FanOut: len(succs)}
	}
	lc, err := ir.As[*ir.DebugLoopContents](loop)
	if err != nil {
		return err
	}
	pred, succ := preds[0], succs[0]
	limit := lc.IterationMax
	if limit <= 0 {
		limit = p.IterationMax
	}
	if limit <= 0 {
		limit = DefaultIterationMax
	}

	if err := g.RemoveNode(loop.ID); err != nil {
		return err
	}
	run := g.AddNode(&ir.RunContents{Command: lc.Command})
	cond := g.AddNode(&ir.ConditionalContents{
		RunNodeID:    run.ID,
		TrueTarget:   succ,
		FalseTarget:  ir.NoNode,
		IterationMax: limit,
		ShouldFail:   lc.ShouldFail,
	})
	fix := g.AddNode(&ir.FixContents{RunRef: run.ID})
	cond.Contents.(*ir.ConditionalContents).FalseTarget = fix.ID

	for _, e := range []ir.Edge{
		{From: pred, To: run.ID},
		{From: run.ID, To: cond.ID},
		{From: cond.ID, To: succ},
		{From: cond.ID, To: fix.ID},
		{From: fix.ID, To: run.ID},
	} {
		if err := g.AddEdge(e.From, e.To); err != nil {
			return err
		}
	}
	return nil
}
