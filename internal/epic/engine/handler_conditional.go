package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// ConditionalHandler routes on the exit code of the RUN node it references.
// It is the only handler that picks its own successor.
type ConditionalHandler struct{}

func (h *ConditionalHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.ConditionalContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	g := exec.Graph
	if c.RunNodeID == ir.NoNode {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "run_node_id"}
	}
	runNode := g.Node(c.RunNodeID)
	if runNode == nil || runNode.Op != ir.OpRun {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "run_node_id", Reason: "does not reference a RUN node"}
	}
	if !g.Has(c.TrueTarget) {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "true_node_target"}
	}
	if !g.Has(c.FalseTarget) {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "false_node_target"}
	}
	run, err := ir.As[*ir.RunContents](runNode)
	if err != nil {
		return runtime.Next{}, err
	}
	if !run.Executed() {
		return runtime.Next{}, &MissingExitCodeError{ConditionalID: node.ID, RunNodeID: c.RunNodeID}
	}

	cond := *run.ExitCode == 0
	if c.ShouldFail {
		cond = !cond
	}
	limit := c.IterationMax
	if limit <= 0 && exec.Engine != nil {
		limit = exec.Engine.Config.Loop.IterationMax
	}
	if c.IterationCount >= limit {
		return runtime.Next{}, &IterationLimitError{NodeID: node.ID, Count: c.IterationCount, Max: limit}
	}
	c.IterationCount++
	c.Condition = &cond

	target := c.FalseTarget
	if cond {
		target = c.TrueTarget
	}
	exec.Logger.Info("conditional evaluated",
		zap.Int("exit_code", *run.ExitCode),
		zap.Bool("condition", cond),
		zap.Int("iteration", c.IterationCount),
		zap.Int("target", int(target)))
	return runtime.Goto(target), nil
}
