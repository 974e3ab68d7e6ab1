package engine

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/runtime"
)

// Progress event names written to progress.ndjson.
const (
	EventCompiled          = "compiled"
	EventStepStart         = "step_start"
	EventStepDone          = "step_done"
	EventStepFailed        = "step_failed"
	EventStepInterrupted   = "step_interrupted"
	EventWarning           = "warning"
	EventRunFinished       = "run_finished"
	EventSetupCommandStart = "setup_command_start"
	EventSetupCommandOK    = "setup_command_ok"
	EventSetupCommandFail  = "setup_command_failed"
	EventResumed           = "resumed"
)

// appendProgress appends ev to progress.ndjson and mirrors it to live.json.
// Failures are logged; progress is an activity feed, not state.
func (e *Engine) appendProgress(ev map[string]any) {
	path := e.Layout.ProgressPath()
	if path == "" {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	if _, ok := ev["ts"]; !ok {
		ev["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := ev["run_id"]; !ok && e.Input.RunID != "" {
		ev["run_id"] = e.Input.RunID
	}
	b, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("encode progress event", zap.Error(err))
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		e.log.Warn("open progress log", zap.String("path", path), zap.Error(err))
		return
	}
	_, werr := f.Write(append(b, '\n'))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		e.log.Warn("write progress log", zap.String("path", path), zap.NamedError("write", werr), zap.NamedError("close", cerr))
	}
	if err := runtime.WriteFileAtomic(e.Layout.LivePath(), b, 0o644); err != nil {
		e.log.Warn("write live.json", zap.Error(err))
	}
}

func (e *Engine) warn(msg string, fields map[string]any, zf ...zap.Field) {
	e.log.Warn(msg, zf...)
	ev := map[string]any{"event": EventWarning, "message": msg}
	for k, v := range fields {
		ev[k] = v
	}
	e.appendProgress(ev)
}
