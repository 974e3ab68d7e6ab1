package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/epic/internal/epic/runtime"
)

// Layout names the files of one versioned run directory. A zero Layout
// disables every on-disk artifact except the code directory.
type Layout struct {
	RunDir     string
	CodeDir    string
	RunLogsDir string
}

func NewLayout(runDir string) Layout {
	return Layout{
		RunDir:     runDir,
		CodeDir:    filepath.Join(runDir, "code"),
		RunLogsDir: filepath.Join(runDir, "run_logs"),
	}
}

func (l Layout) path(name string) string {
	if l.RunDir == "" {
		return ""
	}
	return filepath.Join(l.RunDir, name)
}

func (l Layout) CheckpointPath() string { return l.path("checkpoint.json") }
func (l Layout) ProgressPath() string   { return l.path("progress.ndjson") }
func (l Layout) LivePath() string       { return l.path("live.json") }
func (l Layout) FinalPath() string      { return l.path("final.json") }
func (l Layout) ManifestPath() string   { return l.path("manifest.json") }
func (l Layout) SourcePath() string     { return l.path("source.epic") }
func (l Layout) HistoryPath() string    { return l.path("history.db") }
func (l Layout) PIDPath() string        { return l.path("run.pid") }
func (l Layout) PanicPath() string      { return l.path("panic.txt") }

// Ensure creates the run, code and run-log directories.
func (l Layout) Ensure() error {
	for _, d := range []string{l.RunDir, l.CodeDir, l.RunLogsDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

var versionDirRE = regexp.MustCompile(`^v([0-9]+)$`)

func validateProject(project string) error {
	project = strings.TrimSpace(project)
	if project == "" {
		return fmt.Errorf("project name is required")
	}
	if !filepath.IsLocal(project) || strings.ContainsAny(project, `/\`) {
		return fmt.Errorf("invalid project name %q", project)
	}
	return nil
}

// listVersions returns the v<N> numbers present under root/project.
func listVersions(root, project string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(root, project))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := versionDirRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out, nil
}

// NextVersionDir creates root/project/v<N+1>, where N is the highest existing
// version (0 when none).
func NextVersionDir(root, project string) (string, int, error) {
	if err := validateProject(project); err != nil {
		return "", 0, err
	}
	versions, err := listVersions(root, project)
	if err != nil {
		return "", 0, err
	}
	next := 1
	for _, v := range versions {
		if v >= next {
			next = v + 1
		}
	}
	if err := os.MkdirAll(filepath.Join(root, project), 0o755); err != nil {
		return "", 0, err
	}
	dir := filepath.Join(root, project, fmt.Sprintf("v%d", next))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", 0, err
	}
	return dir, next, nil
}

// VersionDir returns root/project/v<version>, or the latest version when
// version is 0.
func VersionDir(root, project string, version int) (string, int, error) {
	if err := validateProject(project); err != nil {
		return "", 0, err
	}
	if version <= 0 {
		versions, err := listVersions(root, project)
		if err != nil {
			return "", 0, err
		}
		for _, v := range versions {
			if v > version {
				version = v
			}
		}
		if version <= 0 {
			return "", 0, fmt.Errorf("project %q has no runs under %s", project, root)
		}
	}
	dir := filepath.Join(root, project, fmt.Sprintf("v%d", version))
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", 0, fmt.Errorf("run %s not found", dir)
	}
	return dir, version, nil
}

// Manifest describes a run directory.
type Manifest struct {
	RunID      string    `json:"run_id"`
	Project    string    `json:"project"`
	Version    int       `json:"version"`
	DSLPath    string    `json:"dsl_path"`
	ConfigPath string    `json:"config_path,omitempty"`
	RunDir     string    `json:"run_dir"`
	CodeDir    string    `json:"code_dir"`
	RunLogsDir string    `json:"run_logs_dir"`
	StartedAt  time.Time `json:"started_at"`
}

func (m *Manifest) Save(path string) error {
	return runtime.WriteJSONAtomicFile(path, m)
}
