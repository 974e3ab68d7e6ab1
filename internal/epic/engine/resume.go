package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/procutil"
	"github.com/danshapiro/epic/internal/epic/runtime"
	"github.com/danshapiro/epic/internal/epic/store"
	"github.com/danshapiro/epic/internal/llm"
)

type ResumeOptions struct {
	// Force skips the workflow source digest check.
	Force bool
	// Config overrides the config recorded in the checkpoint.
	Config *RunConfigFile

	Logger   *zap.Logger
	Backend  llm.Backend
	Executor procutil.Executor
	Fixer    Fixer
}

// Open rebuilds an engine from runDir/checkpoint.json. The source of truth
// is the checkpoint alone: graph, traversal, memory and step count. The
// caller owns Close.
func Open(ctx context.Context, runDir string, opts ResumeOptions) (*Engine, error) {
	layout := NewLayout(runDir)
	cp, err := runtime.LoadCheckpoint(layout.CheckpointPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", layout.CheckpointPath(), store.ErrNoCheckpoint)
		}
		return nil, &CheckpointError{Path: layout.CheckpointPath(), Err: err}
	}
	if cp.Version != runtime.CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is not supported (want %d)", cp.Version, runtime.CheckpointVersion)
	}
	if err := verifySource(cp.InputConfig, opts.Force); err != nil {
		return nil, err
	}
	st, err := cp.State()
	if err != nil {
		return nil, &CheckpointError{Path: layout.CheckpointPath(), Err: err}
	}

	cfg := opts.Config
	if cfg == nil && cp.InputConfig.ConfigPath != "" {
		if cfg, err = LoadRunConfigFile(cp.InputConfig.ConfigPath); err != nil {
			return nil, fmt.Errorf("load config %s: %w", cp.InputConfig.ConfigPath, err)
		}
	}
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := opts.Backend
	if backend == nil {
		if backend, err = NewBackend(cfg.LLM, logger); err != nil {
			return nil, err
		}
	}
	sourceDir := ""
	if cp.InputConfig.DSLPath != "" {
		sourceDir = filepath.Dir(cp.InputConfig.DSLPath)
	}
	e, err := newEngine(Options{
		Config:    cfg,
		Layout:    layout,
		SourceDir: sourceDir,
		Input:     cp.InputConfig,
		Backend:   backend,
		Executor:  opts.Executor,
		Fixer:     opts.Fixer,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	e.State = st
	e.appendProgress(map[string]any{
		"event":      EventResumed,
		"status":     string(st.Status),
		"step_count": st.StepCount,
	})
	e.log.Info("resumed", zap.String("status", string(st.Status)), zap.Int("step_count", st.StepCount))
	return e, nil
}

// Resume continues the run in runDir to completion. A finished program is a
// no-op.
func Resume(ctx context.Context, runDir string, opts ResumeOptions) (*Result, error) {
	e, err := Open(ctx, runDir, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Close() }()
	n, err := e.RunAll(ctx)
	return e.result(n), err
}

// Step opens the run in runDir and executes exactly one step.
func Step(ctx context.Context, runDir string, opts ResumeOptions) (StepResult, *Result, error) {
	e, err := Open(ctx, runDir, opts)
	if err != nil {
		return StepResult{}, nil, err
	}
	defer func() { _ = e.Close() }()
	res, err := e.RunStep(ctx)
	steps := 0
	if res.Executed {
		steps = 1
	}
	return res, e.result(steps), err
}

// verifySource refuses to resume when the DSL file recorded in the
// checkpoint no longer matches its digest. A missing file only warns.
func verifySource(in runtime.InputConfig, force bool) error {
	if force || in.SourceDigest == "" || in.DSLPath == "" {
		return nil
	}
	b, err := os.ReadFile(in.DSLPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if got := runtime.Digest(b); got != in.SourceDigest {
		return fmt.Errorf("%s: %w", in.DSLPath, ErrSourceChanged)
	}
	return nil
}
