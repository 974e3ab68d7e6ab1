package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/engine"
	"github.com/danshapiro/epic/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK             = 0
	exitFatal          = 1
	exitDidNotConverge = 2
	exitNoStepsRemain  = 3
	exitUsage          = 64
)

var errNoStepsRemain = errors.New("no steps remain")

// usageError marks bad invocations so they exit with exitUsage.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries the global flags and the logger shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	outputRoot string
	logLevel   string
	logFormat  string

	config *engine.RunConfigFile
	logger *zap.Logger
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	code := exitCode(err)
	if err != nil && !errors.Is(err, errNoStepsRemain) {
		fmt.Fprintln(stderr, "error:", err)
		if code == exitUsage {
			fmt.Fprintln(stderr, "run 'epic --help' for usage")
		}
	}
	return code
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), strings.HasPrefix(err.Error(), "unknown command"):
		return exitUsage
	case errors.Is(err, engine.ErrIterationLimitExceeded):
		return exitDidNotConverge
	case errors.Is(err, errNoStepsRemain):
		return exitNoStepsRemain
	default:
		return exitFatal
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "epic",
		Short: "Compile and run LLM-driven code-generation workflows",
		Long: `epic compiles a workflow written in the marker DSL (/TEMPLATE, /DOCS,
/PROMPT, /RUN, /DEBUG_LOOP, /EXIT) into a graph and interprets it one
checkpointed step at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "run config file (YAML or JSON)")
	pf.StringVar(&a.outputRoot, "output-root", "", "directory holding <project>/v<N> run directories")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format (json or console)")

	root.AddCommand(
		a.runCmd(),
		a.stepCmd(),
		a.resumeCmd(),
		a.compileCmd(),
		a.statusCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads the run config, if any, and builds the logger from it. Flags
// override the config's logging section.
func (a *app) setup() error {
	cfg := engine.DefaultRunConfig()
	if a.configPath != "" {
		c, err := engine.LoadRunConfigFile(a.configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", a.configPath, err)
		}
		cfg = c
	}
	if a.outputRoot != "" {
		cfg.OutputRoot = a.outputRoot
	}
	a.config = cfg

	lc := cfg.Logging
	if a.logLevel != "" {
		lc.Level = a.logLevel
	}
	if a.logFormat != "" {
		lc.Format = a.logFormat
	}
	logger, err := logging.New(lc)
	if err != nil {
		return &usageError{err}
	}
	a.logger = logger
	return nil
}

// runDir resolves a project (and optional version) to its run directory.
func (a *app) runDir(project string, version int) (string, error) {
	dir, _, err := engine.VersionDir(a.config.OutputRoot, project, version)
	return dir, err
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(lo, hi)(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the epic version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, "epic %s\n", version)
			return nil
		},
	}
}
