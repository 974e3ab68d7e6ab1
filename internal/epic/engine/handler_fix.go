package engine

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/agent"
	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// Fixer repairs the project after a failed check. agent.Session is the
// default implementation.
type Fixer interface {
	Fix(ctx context.Context, req agent.FixRequest) (agent.FixResult, error)
}

// FixHandler hands the failing RUN node's output to the Fixer and appends
// the notes it returns to memory. Fixer failures are warnings; the loop's
// CONDITIONAL decides whether to keep going.
type FixHandler struct{}

func (h *FixHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.FixContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	g := exec.Graph
	if c.RunRef == ir.NoNode {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "run_ref"}
	}
	runNode := g.Node(c.RunRef)
	if runNode == nil || runNode.Op != ir.OpRun {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "run_ref", Reason: "does not reference a RUN node"}
	}
	run, err := ir.As[*ir.RunContents](runNode)
	if err != nil {
		return runtime.Next{}, err
	}
	c.Attempts++

	e := exec.Engine
	fixer, err := e.fixer()
	if err != nil {
		return runtime.Next{}, err
	}
	if fixer == nil {
		e.warn("no fixer configured; fix skipped", map[string]any{"node_id": int(node.ID)})
		return runtime.Successors(), nil
	}

	req := agent.FixRequest{
		NodeID:   int(node.ID),
		Attempt:  c.Attempts,
		Command:  run.Command,
		ExitCode: -1,
		Stdout:   e.readRunLog(run.StdoutFile),
		Stderr:   e.readRunLog(run.StderrFile),
		Memory:   append([]string(nil), exec.State.Memory...),
		Context:  e.fixContext(g, c.RunRef),
	}
	if run.ExitCode != nil {
		req.ExitCode = *run.ExitCode
	}
	res, err := fixer.Fix(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return runtime.Next{}, ctx.Err()
		}
		e.warn("fix attempt failed", map[string]any{"node_id": int(node.ID), "attempt": c.Attempts, "error": err.Error()}, zap.Error(err))
		return runtime.Successors(), nil
	}
	exec.State.AppendMemory(res.Memory...)
	exec.Logger.Info("fix applied",
		zap.Int("attempt", c.Attempts),
		zap.Strings("files", res.FilesChanged),
		zap.Int("rounds", res.Rounds),
		zap.Int("tool_calls", res.ToolCalls))
	return runtime.Successors(), nil
}

func (e *Engine) readRunLog(name string) string {
	if name == "" || e.Layout.RunLogsDir == "" {
		return ""
	}
	b, err := os.ReadFile(filepath.Join(e.Layout.RunLogsDir, name))
	if err != nil {
		e.log.Warn("read run log", zap.String("file", name), zap.Error(err))
		return ""
	}
	return string(b)
}

// fixContext renders the references of the nearest PROMPT upstream of the
// RUN node, so the fixer sees what the author pointed the model at.
func (e *Engine) fixContext(g *ir.Graph, runID ir.NodeID) string {
	seen := map[ir.NodeID]bool{runID: true}
	frontier := []ir.NodeID{runID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, p := range g.Predecessors(id) {
			if seen[p] {
				continue
			}
			seen[p] = true
			n := g.Node(p)
			if n == nil || n.Op == ir.OpFix {
				continue
			}
			if n.Op == ir.OpPrompt {
				if pc, err := ir.As[*ir.PromptContents](n); err == nil {
					return e.renderRefs(g, n, pc)
				}
			}
			frontier = append(frontier, p)
		}
	}
	return ""
}

// fixer returns the configured Fixer, building an agent session over the
// LLM backend on first use. It returns nil when neither is available.
func (e *Engine) fixer() (Fixer, error) {
	if e.Fixer != nil {
		return e.Fixer, nil
	}
	if e.Backend == nil {
		return nil, nil
	}
	var sys string
	if e.Config.LLM.SystemPromptFile != "" {
		b, err := os.ReadFile(e.Config.LLM.SystemPromptFile)
		if err != nil {
			return nil, err
		}
		sys = string(b)
	}
	ws := agent.NewWorkspace(e.Layout.CodeDir, e.Executor)
	ws.ToolTimeout = msDuration(e.Config.Fix.ToolTimeoutMS)
	s, err := agent.NewSession(e.Backend, ws, agent.SessionConfig{
		MaxToolRounds:      e.Config.Fix.MaxToolRounds,
		ContextTokenBudget: e.Config.Fix.ContextTokenBudget,
		SystemPrompt:       sys,
		Logger:             e.log.Named("agent"),
	})
	if err != nil {
		return nil, err
	}
	e.Fixer = s
	return s, nil
}
