package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/epic/internal/epic/procutil"
)

// Workspace is the directory a Session may read, write and run commands in.
// Every path a tool receives is resolved inside Root.
type Workspace struct {
	Root        string
	Executor    procutil.Executor
	ToolTimeout time.Duration

	mu      sync.Mutex
	changed map[string]bool
}

func NewWorkspace(root string, exec procutil.Executor) *Workspace {
	if exec == nil {
		exec = procutil.ShellExecutor{}
	}
	return &Workspace{Root: root, Executor: exec}
}

// Resolve maps a model-supplied relative path to an absolute path under Root.
func (w *Workspace) Resolve(rel string) (string, error) {
	rel = filepath.Clean(filepath.FromSlash(strings.TrimSpace(rel)))
	if rel == "." || rel == "" {
		return w.Root, nil
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return filepath.Join(w.Root, rel), nil
}

func (w *Workspace) ReadFile(rel string) (string, error) {
	p, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (w *Workspace) WriteFile(rel, contents string) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if p == w.Root {
		return fmt.Errorf("cannot write to the workspace root")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		return err
	}
	w.mu.Lock()
	if w.changed == nil {
		w.changed = map[string]bool{}
	}
	w.changed[filepath.ToSlash(filepath.Clean(rel))] = true
	w.mu.Unlock()
	return nil
}

// ListFiles returns the files under Root matching a doublestar pattern.
func (w *Workspace) ListFiles(pattern string) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(w.Root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Changed returns the paths written through WriteFile, sorted.
func (w *Workspace) Changed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.changed))
	for p := range w.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (w *Workspace) resetChanged() {
	w.mu.Lock()
	w.changed = nil
	w.mu.Unlock()
}
