package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/compile"
	"github.com/danshapiro/epic/internal/epic/procutil"
	"github.com/danshapiro/epic/internal/epic/runtime"
	"github.com/danshapiro/epic/internal/llm"
)

type RunOptions struct {
	DSLPath string
	Project string
	// ConfigPath is loaded when Config is nil and the path is set.
	ConfigPath string
	Config     *RunConfigFile
	// OutputRoot overrides Config.OutputRoot.
	OutputRoot   string
	IterationMax int
	CompileOnly  bool

	Logger   *zap.Logger
	Backend  llm.Backend
	Executor procutil.Executor
	Fixer    Fixer
}

// Result summarises a run or resume call.
type Result struct {
	RunID       string
	Project     string
	Version     int
	RunDir      string
	Status      runtime.ProgramStatus
	StepCount   int
	Steps       int
	Diagnostics []compile.Diagnostic
}

func (e *Engine) result(steps int) *Result {
	return &Result{
		RunID:       e.Input.RunID,
		Project:     e.Input.Project,
		Version:     e.Input.OutputVersion,
		RunDir:      e.Layout.RunDir,
		Status:      e.State.Status,
		StepCount:   e.State.StepCount,
		Steps:       steps,
		Diagnostics: e.Diagnostics,
	}
}

func (o RunOptions) config() (*RunConfigFile, error) {
	cfg := o.Config
	if cfg == nil && strings.TrimSpace(o.ConfigPath) != "" {
		c, err := LoadRunConfigFile(o.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", o.ConfigPath, err)
		}
		cfg = c
	}
	if cfg == nil {
		cfg = DefaultRunConfig()
	}
	if o.OutputRoot != "" {
		cfg.OutputRoot = o.OutputRoot
	}
	if o.IterationMax > 0 {
		cfg.Loop.IterationMax = o.IterationMax
	}
	return cfg, nil
}

// Prepare creates the next versioned run directory for the project, writes
// its manifest and a copy of the DSL, and compiles the program. The returned
// engine is LOADED; the caller owns Close.
func Prepare(ctx context.Context, opts RunOptions) (*Engine, error) {
	if strings.TrimSpace(opts.DSLPath) == "" {
		return nil, fmt.Errorf("dsl path is required")
	}
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	dslPath, err := filepath.Abs(opts.DSLPath)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(dslPath)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	project := strings.TrimSpace(opts.Project)
	if project == "" {
		project = strings.TrimSuffix(filepath.Base(dslPath), filepath.Ext(dslPath))
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runDir, version, err := NextVersionDir(cfg.OutputRoot, project)
	if err != nil {
		return nil, err
	}
	layout := NewLayout(runDir)
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	if err := runtime.WriteFileAtomic(layout.SourcePath(), src, 0o644); err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == nil {
		if backend, err = NewBackend(cfg.LLM, logger); err != nil {
			return nil, err
		}
	}
	e, err := New(Options{
		Config:    cfg,
		Layout:    layout,
		SourceDir: filepath.Dir(dslPath),
		Input: runtime.InputConfig{
			Project:       project,
			OutputVersion: version,
			DSLPath:       dslPath,
			ConfigPath:    opts.ConfigPath,
		},
		Backend:  backend,
		Executor: opts.Executor,
		Fixer:    opts.Fixer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		RunID:      e.Input.RunID,
		Project:    project,
		Version:    version,
		DSLPath:    dslPath,
		ConfigPath: opts.ConfigPath,
		RunDir:     layout.RunDir,
		CodeDir:    layout.CodeDir,
		RunLogsDir: layout.RunLogsDir,
		StartedAt:  time.Now().UTC(),
	}
	if err := m.Save(layout.ManifestPath()); err != nil {
		_ = e.Close()
		return nil, err
	}
	if _, err := e.Compile(ctx, string(src)); err != nil {
		e.writeFinal(runtime.FinalFail, nil, err.Error())
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// Run prepares a new run, executes the setup commands and runs the program
// to completion unless CompileOnly is set.
func Run(ctx context.Context, opts RunOptions) (*Result, error) {
	e, err := Prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Close() }()
	if opts.CompileOnly {
		return e.result(0), nil
	}
	if err := e.executeSetupCommands(ctx); err != nil {
		e.writeFinal(runtime.FinalFail, nil, err.Error())
		return e.result(0), err
	}
	n, err := e.RunAll(ctx)
	return e.result(n), err
}
