package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/danshapiro/epic/internal/agent"
	"github.com/danshapiro/epic/internal/epic/procutil"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// stubExecutor returns queued exit codes; the last one repeats.
type stubExecutor struct {
	mu     sync.Mutex
	codes  []int
	stdout string
	stderr string
	calls  []string
}

func (s *stubExecutor) Execute(ctx context.Context, command, dir string) procutil.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	code := 0
	if len(s.codes) > 0 {
		code = s.codes[0]
		if len(s.codes) > 1 {
			s.codes = s.codes[1:]
		}
	}
	return procutil.Result{ExitCode: code, Stdout: []byte(s.stdout), Stderr: []byte(s.stderr)}
}

type stubFixer struct {
	reqs   []agent.FixRequest
	memory []string
	err    error
}

func (f *stubFixer) Fix(ctx context.Context, req agent.FixRequest) (agent.FixResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return agent.FixResult{}, f.err
	}
	return agent.FixResult{Memory: f.memory}, nil
}

// newTestEngine builds an engine over a fresh run directory. SourceDir
// defaults to the parent of the run directory.
func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	root := t.TempDir()
	opts.Layout = NewLayout(filepath.Join(root, "run"))
	if err := opts.Layout.Ensure(); err != nil {
		t.Fatal(err)
	}
	if opts.SourceDir == "" {
		opts.SourceDir = root
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFinal(t *testing.T, l Layout) runtime.FinalOutcome {
	t.Helper()
	b, err := os.ReadFile(l.FinalPath())
	if err != nil {
		t.Fatalf("read final.json: %v", err)
	}
	var fo runtime.FinalOutcome
	if err := json.Unmarshal(b, &fo); err != nil {
		t.Fatalf("decode final.json: %v", err)
	}
	return fo
}

func mustCompile(t *testing.T, e *Engine, src string) {
	t.Helper()
	if _, err := e.Compile(context.Background(), src); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}
