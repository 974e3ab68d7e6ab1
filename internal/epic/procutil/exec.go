// Package procutil runs shell commands for RUN nodes and inspects processes.
package procutil

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// Sentinel exit codes for commands that never produced a status of their own.
const (
	ExitTimeout     = 124
	ExitCanceled    = 130
	ExitCannotStart = 127
)

type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
	// StartErr is set when the command could not be launched at all.
	StartErr error
}

// Executor runs command in dir. Failures of any kind are reported through
// Result.ExitCode; Execute itself never fails.
type Executor interface {
	Execute(ctx context.Context, command, dir string) Result
}

// ShellExecutor runs commands through "<Shell> -c" in their own process
// group, killing the whole group when Timeout elapses.
type ShellExecutor struct {
	Shell     string
	Timeout   time.Duration
	WaitDelay time.Duration
	Env       []string
}

var _ Executor = ShellExecutor{}

func (e ShellExecutor) Execute(ctx context.Context, command, dir string) Result {
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 3 * time.Second
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Duration: time.Since(start)}

	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		res.ExitCode = ExitCanceled
		if res.TimedOut {
			res.ExitCode = ExitTimeout
		}
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = exitStatus(ee)
			break
		}
		res.StartErr = err
		res.ExitCode = ExitCannotStart
		stderr.WriteString(err.Error())
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res
}

func exitStatus(ee *exec.ExitError) int {
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := ee.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
