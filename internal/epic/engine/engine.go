// Package engine interprets compiled workflow graphs: it owns the execution
// state, dispatches each node to its opcode handler, advances the traversal
// and checkpoints after every step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	rdebug "runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/compile"
	"github.com/danshapiro/epic/internal/epic/gitutil"
	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/procutil"
	"github.com/danshapiro/epic/internal/epic/runtime"
	"github.com/danshapiro/epic/internal/epic/store"
	"github.com/danshapiro/epic/internal/llm"
)

type Options struct {
	Config *RunConfigFile
	Layout Layout
	// SourceDir anchors relative TEMPLATE, DOCS and read-only paths when no
	// root is configured for them.
	SourceDir string
	Input     runtime.InputConfig
	Registry  *HandlerRegistry
	Backend   llm.Backend
	Executor  procutil.Executor
	Fixer     Fixer
	// Store overrides the checkpoint store derived from Layout and Config.
	Store  store.Store
	Logger *zap.Logger
}

type Engine struct {
	Config      *RunConfigFile
	Layout      Layout
	SourceDir   string
	Input       runtime.InputConfig
	Registry    *HandlerRegistry
	Backend     llm.Backend
	Executor    procutil.Executor
	Fixer       Fixer
	Store       store.Store
	State       *runtime.State
	Diagnostics []compile.Diagnostic

	log        *zap.Logger
	progressMu sync.Mutex
	closers    []io.Closer
	lastCommit string
}

// StepResult describes one RunStep call.
type StepResult struct {
	// Executed is false when the call was a no-op on a finished program.
	Executed bool
	NodeID   ir.NodeID
	Opcode   ir.Opcode
	Step     int
	Finished bool
}

// New returns an engine in the INITIALIZED state.
func New(opts Options) (*Engine, error) {
	e, err := newEngine(opts)
	if err != nil {
		return nil, err
	}
	e.State = runtime.NewState()
	if err := e.State.Transition(runtime.StatusInitialized); err != nil {
		return nil, err
	}
	return e, nil
}

func newEngine(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewDefaultRegistry()
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		Config:    cfg,
		Layout:    opts.Layout,
		SourceDir: opts.SourceDir,
		Input:     opts.Input,
		Registry:  reg,
		Backend:   opts.Backend,
		Executor:  opts.Executor,
		Fixer:     opts.Fixer,
		Store:     opts.Store,
	}
	if e.Input.RunID == "" {
		e.Input.RunID = ulid.Make().String()
	}
	if e.Input.IterationMax == 0 {
		e.Input.IterationMax = cfg.Loop.IterationMax
	}
	e.Input.RunDir = e.Layout.RunDir
	e.Input.CodeDir = e.Layout.CodeDir
	e.Input.RunLogsDir = e.Layout.RunLogsDir
	e.log = logger.With(zap.String("run_id", e.Input.RunID))

	if e.Executor == nil {
		e.Executor = procutil.ShellExecutor{Shell: cfg.Run.Shell, Timeout: msDuration(cfg.Run.TimeoutMS)}
	}
	if e.Store == nil && e.Layout.RunDir != "" {
		var s store.Store = store.NewFileStore(e.Layout.CheckpointPath())
		if cfg.Checkpoint.History {
			hist, err := store.OpenSQLiteStore(e.Layout.HistoryPath(), e.Input.RunID)
			if err != nil {
				return nil, fmt.Errorf("open checkpoint history: %w", err)
			}
			e.closers = append(e.closers, hist)
			s = store.Multi{s, hist}
		}
		e.Store = s
	}
	return e, nil
}

// Close releases the history database, if any.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Engine) Logger() *zap.Logger { return e.log }

// Compile turns DSL source into the loaded program and writes the first
// checkpoint. The engine must be INITIALIZED.
func (e *Engine) Compile(ctx context.Context, src string) (*compile.Result, error) {
	st := e.State
	if st.Status != runtime.StatusInitialized {
		return nil, fmt.Errorf("compile: program is %s, want %s", st.Status, runtime.StatusInitialized)
	}
	if err := st.Transition(runtime.StatusCompiling); err != nil {
		return nil, err
	}
	res, err := compile.Compile(src, compile.Options{IterationMax: e.Config.Loop.IterationMax})
	if err != nil {
		e.log.Error("compile failed", zap.Error(err))
		return res, err
	}
	e.Diagnostics = res.Diagnostics
	for _, d := range res.Diagnostics {
		e.log.Warn("lint", zap.String("rule", d.Rule), zap.Int("node_id", int(d.NodeID)), zap.String("message", d.Message))
	}
	if err := st.Load(res.Graph); err != nil {
		return res, err
	}
	if err := st.Transition(runtime.StatusLoaded); err != nil {
		return res, err
	}
	e.Input.SourceDigest = runtime.Digest([]byte(src))
	if err := e.persist(ctx); err != nil {
		return res, err
	}
	e.appendProgress(map[string]any{
		"event":  EventCompiled,
		"nodes":  res.Graph.Len(),
		"passes": res.Passes,
	})
	e.log.Info("program loaded", zap.Int("nodes", res.Graph.Len()), zap.Strings("passes", res.Passes))
	return res, nil
}

// RunStep executes the current node, advances the traversal and persists
// the new state. On a finished program it does nothing. A failed step is
// reported as a *StepError and is not checkpointed.
func (e *Engine) RunStep(ctx context.Context) (StepResult, error) {
	st := e.State
	if st.Status.Finished() {
		return StepResult{NodeID: ir.NoNode, Step: st.StepCount, Finished: true}, nil
	}
	if !st.Status.Executable() {
		return StepResult{}, fmt.Errorf("run step: program is %s: %w", st.Status, ErrNotLoaded)
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if st.Status == runtime.StatusLoaded {
		if err := st.Transition(runtime.StatusRunning); err != nil {
			return StepResult{}, err
		}
	}
	if st.Traversal.Current == ir.NoNode && !st.Traversal.Pop() {
		return e.finish(ctx)
	}
	node := st.CurrentNode()
	if node == nil {
		return StepResult{}, fmt.Errorf("run step: current node %d is not in the graph", st.Traversal.Current)
	}
	step := st.StepCount + 1
	res := StepResult{Executed: true, NodeID: node.ID, Opcode: node.Op, Step: step}

	h, ok := e.Registry.Resolve(node.Op)
	if !ok {
		return res, e.fail(node, step, fmt.Errorf("no handler registered for %s", node.Op))
	}
	e.appendProgress(map[string]any{"event": EventStepStart, "step": step, "node_id": int(node.ID), "opcode": string(node.Op)})
	started := time.Now()
	next, err := e.invoke(ctx, h, node, step)
	if err == nil && node.Op == ir.OpConditional && next.Kind != runtime.PushTarget {
		err = fmt.Errorf("%s handler must select a single target", ir.OpConditional)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil && ctx.Err() != nil {
		return res, e.interrupt(node, step, err)
	}
	if err != nil {
		return res, e.fail(node, step, err)
	}
	if _, err := st.Traversal.Step(st.Graph, next); err != nil {
		return res, e.fail(node, step, err)
	}
	st.StepCount = step
	if st.Traversal.Done() {
		if err := st.Transition(runtime.StatusFinished); err != nil {
			return res, err
		}
		res.Finished = true
	}
	e.commitStep(ctx, node, step)
	if err := e.persist(ctx); err != nil {
		return res, e.fail(node, step, err)
	}
	e.appendProgress(map[string]any{
		"event":       EventStepDone,
		"step":        step,
		"node_id":     int(node.ID),
		"opcode":      string(node.Op),
		"next_node":   nodeIDOrNil(st.Traversal.Current),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if res.Finished {
		e.complete()
	}
	return res, nil
}

// RunAll steps until the program finishes or a step fails. It returns the
// number of steps executed by this call.
func (e *Engine) RunAll(ctx context.Context) (int, error) {
	if p := e.Layout.PIDPath(); p != "" {
		if err := os.WriteFile(p, []byte(strconv.Itoa(os.Getpid())), 0o644); err == nil {
			defer func() { _ = os.Remove(p) }()
		}
	}
	n := 0
	for !e.State.Status.Finished() {
		res, err := e.RunStep(ctx)
		if err != nil {
			return n, err
		}
		if res.Executed {
			n++
		}
	}
	return n, nil
}

// finish handles a step call that finds nothing left to run.
func (e *Engine) finish(ctx context.Context) (StepResult, error) {
	st := e.State
	if err := st.Transition(runtime.StatusFinished); err != nil {
		return StepResult{}, err
	}
	if err := e.persist(ctx); err != nil {
		return StepResult{}, err
	}
	e.complete()
	return StepResult{NodeID: ir.NoNode, Step: st.StepCount, Finished: true}, nil
}

func (e *Engine) complete() {
	e.writeFinal(runtime.FinalSuccess, nil, "")
	e.appendProgress(map[string]any{"event": EventRunFinished, "status": string(runtime.FinalSuccess), "steps": e.State.StepCount})
	e.log.Info("program finished", zap.Int("steps", e.State.StepCount))
}

func (e *Engine) invoke(ctx context.Context, h Handler, node *ir.Node, step int) (next runtime.Next, err error) {
	logger := e.log.With(zap.Int("node_id", int(node.ID)), zap.String("opcode", string(node.Op)), zap.Int("step", step))
	defer func() {
		if r := recover(); r != nil {
			stack := string(rdebug.Stack())
			if p := e.Layout.PanicPath(); p != "" {
				_ = os.WriteFile(p, []byte(fmt.Sprintf("%v\n\n%s", r, stack)), 0o644)
			}
			next = runtime.Next{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Process(ctx, &Execution{
		Engine: e,
		State:  e.State,
		Graph:  e.State.Graph,
		Step:   step,
		Logger: logger,
	}, node)
}

// fail records a failed step and returns it as a *StepError.
func (e *Engine) fail(node *ir.Node, step int, err error) error {
	se := &StepError{NodeID: node.ID, Opcode: node.Op, Step: step, Err: err}
	status := runtime.FinalFail
	if errors.Is(err, ErrIterationLimitExceeded) {
		status = runtime.FinalDidNotConverge
	}
	e.log.Error("step failed", zap.Int("node_id", int(node.ID)), zap.String("opcode", string(node.Op)), zap.Int("step", step), zap.Error(err))
	e.appendProgress(map[string]any{
		"event":          EventStepFailed,
		"step":           step,
		"node_id":        int(node.ID),
		"opcode":         string(node.Op),
		"failure_reason": err.Error(),
	})
	id := int(node.ID)
	e.writeFinal(status, &id, se.Error())
	return se
}

// interrupt reports a step abandoned because ctx was cancelled. Neither the
// checkpoint nor final.json is written, so the run resumes at the same node.
func (e *Engine) interrupt(node *ir.Node, step int, err error) error {
	e.log.Warn("step interrupted", zap.Int("node_id", int(node.ID)), zap.String("opcode", string(node.Op)), zap.Int("step", step), zap.Error(err))
	e.appendProgress(map[string]any{
		"event":   EventStepInterrupted,
		"step":    step,
		"node_id": int(node.ID),
		"opcode":  string(node.Op),
	})
	return &StepError{NodeID: node.ID, Opcode: node.Op, Step: step, Err: err}
}

func (e *Engine) writeFinal(status runtime.FinalStatus, nodeID *int, reason string) {
	p := e.Layout.FinalPath()
	if p == "" {
		return
	}
	fo := &runtime.FinalOutcome{
		Timestamp:         time.Now().UTC(),
		Status:            status,
		RunID:             e.Input.RunID,
		StepCount:         e.State.StepCount,
		NodeID:            nodeID,
		FailureReason:     reason,
		FinalGitCommitSHA: e.lastCommit,
	}
	if nodeID != nil && e.State.Graph != nil {
		if n := e.State.Graph.Node(ir.NodeID(*nodeID)); n != nil {
			fo.Opcode = string(n.Op)
		}
	}
	if err := fo.Save(p); err != nil {
		e.log.Warn("write final.json", zap.Error(err))
	}
}

func (e *Engine) persist(ctx context.Context) error {
	if e.Store == nil {
		return nil
	}
	cp, err := runtime.NewCheckpoint(e.State, e.Input)
	if err != nil {
		return &CheckpointError{Path: e.Layout.CheckpointPath(), Err: err}
	}
	if err := e.Store.Save(ctx, cp); err != nil {
		return &CheckpointError{Path: e.Layout.CheckpointPath(), Err: err}
	}
	return nil
}

// commitStep records the code directory in git when enabled. Failures are
// warnings.
func (e *Engine) commitStep(ctx context.Context, node *ir.Node, step int) {
	if !e.Config.Git.CommitPerStep || e.Layout.CodeDir == "" {
		return
	}
	if err := gitutil.EnsureRepo(ctx, e.Layout.CodeDir); err != nil {
		e.warn("git init failed", map[string]any{"error": err.Error()}, zap.Error(err))
		return
	}
	msg := fmt.Sprintf("epic: step %d %s node %d", step, node.Op, node.ID)
	sha, err := gitutil.CommitAll(ctx, e.Layout.CodeDir, msg)
	if err != nil {
		e.warn("git commit failed", map[string]any{"step": step, "error": err.Error()}, zap.Error(err))
		return
	}
	e.lastCommit = sha
}

// resolveInputPath anchors a DSL-supplied path at root, or at SourceDir when
// root is empty.
func (e *Engine) resolveInputPath(root, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return p
	}
	base := root
	if base == "" {
		base = e.SourceDir
	}
	if base == "" {
		return p
	}
	return filepath.Join(base, p)
}

func nodeIDOrNil(id ir.NodeID) any {
	if id == ir.NoNode {
		return nil
	}
	return int(id)
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
