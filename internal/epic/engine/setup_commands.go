package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/procutil"
)

// executeSetupCommands runs the configured setup commands in the code
// directory before the first step. They share one timeout and fail fast.
func (e *Engine) executeSetupCommands(ctx context.Context) error {
	if e == nil || e.Config == nil || len(e.Config.Setup.Commands) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, msDuration(e.Config.Setup.TimeoutMS))
	defer cancel()

	exec := e.Executor
	if exec == nil {
		exec = procutil.ShellExecutor{Shell: e.Config.Run.Shell}
	}
	for i, cmdStr := range e.Config.Setup.Commands {
		cmdStr = strings.TrimSpace(cmdStr)
		if cmdStr == "" {
			continue
		}
		e.appendProgress(map[string]any{
			"event":   EventSetupCommandStart,
			"index":   i,
			"command": cmdStr,
		})
		res := exec.Execute(ctx, cmdStr, e.Layout.CodeDir)
		if res.ExitCode != 0 {
			e.appendProgress(map[string]any{
				"event":     EventSetupCommandFail,
				"index":     i,
				"command":   cmdStr,
				"exit_code": res.ExitCode,
				"timed_out": res.TimedOut,
				"stdout":    strings.TrimSpace(string(res.Stdout)),
				"stderr":    strings.TrimSpace(string(res.Stderr)),
			})
			e.log.Error("setup command failed", zap.Int("index", i), zap.String("command", cmdStr), zap.Int("exit_code", res.ExitCode))
			return fmt.Errorf("setup command [%d] %q failed with exit code %d", i, cmdStr, res.ExitCode)
		}
		e.appendProgress(map[string]any{
			"event":   EventSetupCommandOK,
			"index":   i,
			"command": cmdStr,
			"stdout":  strings.TrimSpace(string(res.Stdout)),
		})
	}
	return nil
}
