package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
	"github.com/danshapiro/epic/internal/llm"
)

const defaultSystemPrompt = `You are a careful software engineer editing a project on disk.
Reply with exactly one JSON object of the form
{"files": [{"path": "relative/path", "contents": "full file contents"}], "memory": ["short note", ...]}.
Paths are relative to the project root. Always return complete file contents.
"memory" replaces the running notes carried between steps; omit it to keep them.`

// PromptHandler asks the LLM backend for file edits. Backend and decoding
// failures are warnings: the step completes and the workflow moves on.
type PromptHandler struct{}

func (h *PromptHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.PromptContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	if c.Prompt == "" {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "prompt"}
	}
	e := exec.Engine
	nodeField := map[string]any{"node_id": int(node.ID)}
	if e.Backend == nil {
		e.warn("no LLM backend configured; prompt skipped", nodeField)
		return runtime.Successors(), nil
	}
	sys, err := e.systemPrompt()
	if err != nil {
		return runtime.Next{}, err
	}
	user := e.buildPromptContent(exec.Graph, node, c, exec.State.Memory)

	reply, err := e.Backend.Send(ctx, sys, user)
	if err != nil {
		if ctx.Err() != nil {
			return runtime.Next{}, ctx.Err()
		}
		e.warn("LLM request failed", map[string]any{"node_id": int(node.ID), "error": err.Error()}, zap.Error(err))
		return runtime.Successors(), nil
	}
	if e.Layout.RunLogsDir != "" {
		if _, err := writeRunLog(e.Layout.RunLogsDir, logStem(node.ID)+".prompt.txt", []byte(reply)); err != nil {
			return runtime.Next{}, err
		}
	}

	resp, err := llm.ParseEditResponse(reply)
	if err != nil {
		e.warn("unusable LLM response", map[string]any{"node_id": int(node.ID), "error": err.Error()}, zap.Error(err))
		return runtime.Successors(), nil
	}
	written, err := e.applyFileEdits(resp.Files)
	if err != nil {
		return runtime.Next{}, err
	}
	if resp.HasMemory {
		exec.State.ReplaceMemory(resp.Memory)
	}
	exec.Logger.Info("prompt applied", zap.Strings("files", written), zap.Bool("memory_replaced", resp.HasMemory))
	return runtime.Successors(), nil
}

// applyFileEdits writes model-supplied files under the code directory.
// Paths that would land outside it are skipped with a warning.
func (e *Engine) applyFileEdits(files []llm.FileEdit) ([]string, error) {
	var written []string
	for _, f := range files {
		rel := filepath.Clean(filepath.FromSlash(f.Path))
		if !filepath.IsLocal(rel) {
			e.warn("rejected file outside the code directory", map[string]any{"path": f.Path}, zap.String("path", f.Path))
			continue
		}
		dst := filepath.Join(e.Layout.CodeDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, []byte(f.Contents), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", f.Path, err)
		}
		written = append(written, filepath.ToSlash(rel))
	}
	return written, nil
}

func (e *Engine) systemPrompt() (string, error) {
	p := e.Config.LLM.SystemPromptFile
	if p == "" {
		return defaultSystemPrompt, nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("system prompt: %w", err)
	}
	return string(b), nil
}
