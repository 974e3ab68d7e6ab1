package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danshapiro/epic/internal/epic/engine"
)

func printResult(w io.Writer, res *engine.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "run_id=%s\n", res.RunID)
	fmt.Fprintf(w, "run_dir=%s\n", res.RunDir)
	fmt.Fprintf(w, "status=%s\n", res.Status)
	fmt.Fprintf(w, "steps=%d\n", res.Steps)
	fmt.Fprintf(w, "step_count=%d\n", res.StepCount)
}

func (a *app) runCmd() *cobra.Command {
	var compileOnly bool
	var iterationMax int
	cmd := &cobra.Command{
		Use:   "run <dsl-file> [project]",
		Short: "Compile a workflow into a new versioned run directory and run it",
		Long: `run creates <output-root>/<project>/v<N>, copies the workflow there, compiles
it, runs the configured setup commands and executes every step. The project
defaults to the workflow file name without its extension.`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RunOptions{
				DSLPath:      args[0],
				ConfigPath:   a.configPath,
				Config:       a.config,
				IterationMax: iterationMax,
				CompileOnly:  compileOnly,
				Logger:       a.logger,
			}
			if len(args) == 2 {
				opts.Project = args[1]
			}
			res, err := engine.Run(cmd.Context(), opts)
			printResult(a.stdout, res)
			for _, d := range resDiagnostics(res) {
				fmt.Fprintf(a.stderr, "%s\n", d)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&compileOnly, "compile-only", false, "stop after compiling and writing the first checkpoint")
	cmd.Flags().IntVar(&iterationMax, "iteration-max", 0, "override loop.iteration_max")
	return cmd
}

func resDiagnostics(res *engine.Result) []string {
	if res == nil {
		return nil
	}
	out := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		out = append(out, d.String())
	}
	return out
}

func (a *app) resumeOptions(force bool) engine.ResumeOptions {
	opts := engine.ResumeOptions{Force: force, Logger: a.logger}
	if a.configPath != "" {
		opts.Config = a.config
	}
	return opts
}

func (a *app) stepCmd() *cobra.Command {
	var version int
	var force bool
	cmd := &cobra.Command{
		Use:   "step <project>",
		Short: "Execute exactly one step of the latest (or given) run",
		Long: `step loads the run's checkpoint, executes one node and checkpoints again.
It exits with status 3 when the program has already finished.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.runDir(args[0], version)
			if err != nil {
				return err
			}
			sr, res, err := engine.Step(cmd.Context(), dir, a.resumeOptions(force))
			if err != nil {
				printResult(a.stdout, res)
				return err
			}
			if !sr.Executed {
				fmt.Fprintf(a.stdout, "finished=true\nstep_count=%d\n", res.StepCount)
				return errNoStepsRemain
			}
			fmt.Fprintf(a.stdout, "step=%d\nnode_id=%d\nopcode=%s\nfinished=%t\n", sr.Step, sr.NodeID, sr.Opcode, sr.Finished)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "run version (default latest)")
	cmd.Flags().BoolVar(&force, "force", false, "step even if the workflow file changed since the run started")
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	var version int
	var force bool
	cmd := &cobra.Command{
		Use:   "resume <project>",
		Short: "Continue the latest (or given) run from its checkpoint to completion",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.runDir(args[0], version)
			if err != nil {
				return err
			}
			res, err := engine.Resume(cmd.Context(), dir, a.resumeOptions(force))
			printResult(a.stdout, res)
			return err
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "run version (default latest)")
	cmd.Flags().BoolVar(&force, "force", false, "resume even if the workflow file changed since the run started")
	return cmd
}
