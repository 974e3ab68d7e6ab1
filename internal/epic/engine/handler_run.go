package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// RunHandler executes a RUN node's command in the code directory. A failing
// command is not an error: its exit code routes the next CONDITIONAL.
type RunHandler struct{}

func (h *RunHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.RunContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	if c.Command == "" {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "command"}
	}
	e := exec.Engine
	c.StdoutFile, c.StderrFile = "", ""

	res := e.Executor.Execute(ctx, c.Command, e.Layout.CodeDir)
	// An interrupted command has no outcome to route on. The executor's own
	// timeout does not cancel ctx and still records exit 124.
	if err := ctx.Err(); err != nil {
		return runtime.Next{}, err
	}
	code := res.ExitCode
	c.ExitCode = &code
	c.DurationMS = res.Duration.Milliseconds()

	if e.Layout.RunLogsDir != "" {
		stem := logStem(node.ID)
		if c.StdoutFile, err = writeRunLog(e.Layout.RunLogsDir, stem+".stdout.log", res.Stdout); err != nil {
			return runtime.Next{}, err
		}
		if c.StderrFile, err = writeRunLog(e.Layout.RunLogsDir, stem+".stderr.log", res.Stderr); err != nil {
			return runtime.Next{}, err
		}
	}
	fields := []zap.Field{zap.String("command", c.Command), zap.Int("exit_code", code), zap.Int64("duration_ms", c.DurationMS)}
	if res.TimedOut {
		fields = append(fields, zap.Bool("timed_out", true))
	}
	if res.StartErr != nil {
		fields = append(fields, zap.NamedError("start_error", res.StartErr))
	}
	exec.Logger.Info("command finished", fields...)
	return runtime.Successors(), nil
}

// logStem names a node's log files. ULIDs sort by creation time, so
// repeated runs of the same node list in order.
func logStem(id ir.NodeID) string {
	return fmt.Sprintf("%s_n%d", ulid.Make().String(), id)
}

// writeRunLog writes b to dir/name and returns name, or "" when b is empty.
func writeRunLog(dir, name string, b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		return "", err
	}
	return name, nil
}
