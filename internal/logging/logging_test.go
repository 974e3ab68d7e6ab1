package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	t.Setenv(EnvLevel, "")
	path := filepath.Join(t.TempDir(), "epic.log")
	l, err := New(Config{Level: "info", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("hidden")
	l.Info("step done", zap.Int("node_id", 3))
	_ = l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if strings.Contains(got, "hidden") {
		t.Fatalf("debug line logged at info level: %s", got)
	}
	if !strings.Contains(got, `"msg":"step done"`) || !strings.Contains(got, `"node_id":3`) {
		t.Fatalf("unexpected log output: %s", got)
	}
}

func TestNew_EnvOverridesLevel(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	path := filepath.Join(t.TempDir(), "epic.log")
	l, err := New(Config{Level: "error", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("visible")
	_ = l.Sync()
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "visible") {
		t.Fatalf("env level not applied: %s", b)
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	t.Setenv(EnvLevel, "")
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) returned nil")
	}
}
