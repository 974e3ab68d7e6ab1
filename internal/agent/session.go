// Package agent runs the multi-turn tool-use conversation that FIX nodes
// delegate to: the model inspects and edits the project through tools until
// it replies with a final edit object.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/llm"
)

var ErrMaxToolRounds = errors.New("max tool rounds reached")

type SessionConfig struct {
	MaxToolRounds      int
	ContextTokenBudget int
	// SystemPrompt is prepended to the tool protocol description.
	SystemPrompt string
	// RepeatedMalformedReplyLimit stops the loop after this many consecutive
	// replies that carry no usable JSON.
	RepeatedMalformedReplyLimit int
	Logger                      *zap.Logger
}

func (c *SessionConfig) applyDefaults() {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 20
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 100_000
	}
	if c.RepeatedMalformedReplyLimit <= 0 {
		c.RepeatedMalformedReplyLimit = 3
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// FixRequest describes a failing check the Session should repair.
type FixRequest struct {
	NodeID   int
	Attempt  int
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Memory   []string
	// Context carries any extra reference material, already rendered.
	Context string
}

type FixResult struct {
	Memory       []string
	FilesChanged []string
	Rounds       int
	ToolCalls    int
}

type Session struct {
	backend llm.Backend
	ws      *Workspace
	reg     *ToolRegistry
	cfg     SessionConfig
	log     *zap.Logger
}

func NewSession(backend llm.Backend, ws *Workspace, cfg SessionConfig) (*Session, error) {
	if backend == nil {
		return nil, &llm.ConfigurationError{Message: "agent session requires an LLM backend"}
	}
	if ws == nil || ws.Root == "" {
		return nil, fmt.Errorf("agent session requires a workspace")
	}
	cfg.applyDefaults()
	reg := NewToolRegistry()
	if err := registerCoreTools(reg); err != nil {
		return nil, err
	}
	return &Session{backend: backend, ws: ws, reg: reg, cfg: cfg, log: cfg.Logger}, nil
}

func (s *Session) Tools() *ToolRegistry { return s.reg }

// Fix runs one agentic turn. Files the model writes land on disk as they
// are produced; the returned memory notes come from the final reply.
func (s *Session) Fix(ctx context.Context, req FixRequest) (FixResult, error) {
	s.ws.resetChanged()
	sys := s.systemPrompt()
	var tr Transcript
	tr.Append(TurnUserInput, BuildFixPrompt(req))

	res := FixResult{}
	malformed := 0
	var lastFP string
	for round := 0; round < s.cfg.MaxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Rounds = round + 1
		user, dropped := tr.Render(s.cfg.ContextTokenBudget)
		if dropped > 0 {
			s.log.Debug("transcript truncated", zap.Int("dropped_turns", dropped), zap.Int("node_id", req.NodeID))
		}
		reply, err := s.backend.Send(ctx, sys, user)
		if err != nil {
			return res, err
		}
		tr.Append(TurnAssistant, reply)

		calls, final, perr := parseReply(reply)
		if perr != nil {
			malformed++
			s.log.Warn("unusable agent reply", zap.Int("node_id", req.NodeID), zap.Int("round", res.Rounds), zap.Error(perr))
			if malformed >= s.cfg.RepeatedMalformedReplyLimit {
				return res, fmt.Errorf("repeated malformed replies (limit=%d): %w", s.cfg.RepeatedMalformedReplyLimit, perr)
			}
			tr.Append(TurnSteering, fmt.Sprintf("Your reply could not be used (%v). Reply with exactly one JSON object as described.", perr))
			continue
		}
		malformed = 0

		if final != nil {
			for _, f := range final.Files {
				if err := s.ws.WriteFile(f.Path, f.Contents); err != nil {
					s.log.Warn("rejected file from agent reply", zap.String("path", f.Path), zap.Error(err))
				}
			}
			res.Memory = final.Memory
			res.FilesChanged = s.ws.Changed()
			return res, nil
		}

		fp := toolCallsFingerprint(calls)
		if fp == lastFP {
			tr.Append(TurnSteering, "You are repeating the same tool calls. Change approach or give your final answer.")
		}
		lastFP = fp
		for _, c := range calls {
			r := s.reg.ExecuteCall(ctx, s.ws, c)
			res.ToolCalls++
			s.log.Debug("tool call", zap.String("tool", r.ToolName), zap.String("call_id", r.CallID), zap.Bool("error", r.IsError))
			status := "ok"
			if r.IsError {
				status = "error"
			}
			tr.Append(TurnTool, fmt.Sprintf("%s [%s] %s\n%s", r.ToolName, r.CallID, status, r.Output))
		}
	}
	res.FilesChanged = s.ws.Changed()
	return res, fmt.Errorf("%w (max_tool_rounds=%d)", ErrMaxToolRounds, s.cfg.MaxToolRounds)
}

type replyDoc struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// parseReply returns either tool calls or a final edit object.
func parseReply(text string) ([]ToolCall, *llm.EditResponse, error) {
	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		return nil, nil, err
	}
	var doc replyDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, nil, fmt.Errorf("decode reply JSON: %w", err)
	}
	if len(doc.ToolCalls) > 0 {
		return doc.ToolCalls, nil, nil
	}
	final, err := llm.ParseEditResponse(raw)
	if err != nil {
		return nil, nil, err
	}
	return nil, final, nil
}

func toolCallsFingerprint(calls []ToolCall) string {
	var b strings.Builder
	for _, c := range calls {
		b.WriteString(strings.TrimSpace(c.Name))
		b.WriteByte(':')
		b.WriteString(shortHash(c.Arguments))
		b.WriteByte(';')
	}
	return b.String()
}

func (s *Session) systemPrompt() string {
	var b strings.Builder
	if p := strings.TrimSpace(s.cfg.SystemPrompt); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("You are fixing a project so that a check command passes. Every reply must be exactly one JSON object.\n")
	b.WriteString("To use tools reply {\"tool_calls\":[{\"name\":\"<tool>\",\"arguments\":{...}}]}.\n")
	b.WriteString("When done reply {\"files\":[{\"path\":\"...\",\"contents\":\"...\"}],\"memory\":[\"short note\"]}; files may be empty if you already wrote them.\n\nTools:\n")
	for _, d := range s.reg.Definitions() {
		params, _ := json.Marshal(d.Parameters)
		fmt.Fprintf(&b, "- %s: %s Arguments schema: %s\n", d.Name, d.Description, params)
	}
	return b.String()
}

const outputTailChars = 8_000

// BuildFixPrompt renders the task message for a FixRequest.
func BuildFixPrompt(req FixRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The command `%s` exited with code %d (attempt %d).\n", req.Command, req.ExitCode, req.Attempt)
	if out := strings.TrimSpace(req.Stdout); out != "" {
		b.WriteString("\nSTDOUT (tail):\n")
		b.WriteString(truncateChars(out, outputTailChars, TruncTail))
		b.WriteString("\n")
	}
	if errOut := strings.TrimSpace(req.Stderr); errOut != "" {
		b.WriteString("\nSTDERR (tail):\n")
		b.WriteString(truncateChars(errOut, outputTailChars, TruncTail))
		b.WriteString("\n")
	}
	if len(req.Memory) > 0 {
		b.WriteString("\nNotes from earlier steps:\n")
		for _, m := range req.Memory {
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteString("\n")
		}
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("\nReference material:\n")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nInvestigate with the tools, fix the code, then give your final answer.")
	return b.String()
}
