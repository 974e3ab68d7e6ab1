package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/epic/internal/epic/procutil"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

type finalOutcomeDoc struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id"`
	StepCount     int    `json:"step_count"`
	FailureReason string `json:"failure_reason"`
}

type manifestDoc struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Version int    `json:"version"`
}

// LoadSnapshot reads the artifacts in runDir. final.json is authoritative
// once present; live.json and progress.ndjson only fill in activity.
func LoadSnapshot(runDir string) (*Snapshot, error) {
	root := strings.TrimSpace(runDir)
	if root == "" {
		return nil, fmt.Errorf("run directory is required")
	}
	s := &Snapshot{RunDir: root, State: StateUnknown}

	if err := applyManifest(s); err != nil {
		return nil, err
	}
	if err := applyCheckpoint(s); err != nil {
		return nil, err
	}
	if err := applyFinalOutcome(s); err != nil {
		return nil, err
	}
	terminal := s.State.Terminal()
	if !terminal {
		if err := applyLiveOrProgress(s); err != nil {
			return nil, err
		}
	}
	if err := applyPIDFile(s, terminal); err != nil {
		return nil, err
	}
	if !terminal {
		switch {
		case s.PIDAlive:
			s.State = StateRunning
		case s.ProgramStatus == string(runtime.StatusLoaded) || s.ProgramStatus == string(runtime.StatusRunning):
			// Stepped runs have no live process between steps.
			s.State = StateLoaded
		}
	}
	return s, nil
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func applyManifest(s *Snapshot) error {
	var m manifestDoc
	found, err := readJSON(filepath.Join(s.RunDir, "manifest.json"), &m)
	if err != nil || !found {
		return err
	}
	s.RunID = strings.TrimSpace(m.RunID)
	s.Project = m.Project
	s.Version = m.Version
	return nil
}

func applyCheckpoint(s *Snapshot) error {
	path := filepath.Join(s.RunDir, "checkpoint.json")
	cp, err := runtime.LoadCheckpoint(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.ProgramStatus = string(cp.Status)
	s.StepCount = cp.Execution.StepCount
	s.Memory = cp.Execution.Memory
	if s.RunID == "" {
		s.RunID = cp.InputConfig.RunID
	}
	if id := cp.Execution.CurrentNodeID; id != nil {
		s.CurrentNodeID = strconv.Itoa(int(*id))
	}
	return nil
}

func applyFinalOutcome(s *Snapshot) error {
	var doc finalOutcomeDoc
	found, err := readJSON(filepath.Join(s.RunDir, "final.json"), &doc)
	if err != nil || !found {
		return err
	}
	if rid := strings.TrimSpace(doc.RunID); rid != "" {
		s.RunID = rid
	}
	switch State(strings.ToLower(strings.TrimSpace(doc.Status))) {
	case StateSuccess:
		s.State = StateSuccess
	case StateFail:
		s.State = StateFail
	case StateDidNotConverge:
		s.State = StateDidNotConverge
	}
	if s.State == StateFail || s.State == StateDidNotConverge {
		if reason := strings.TrimSpace(doc.FailureReason); reason != "" {
			s.FailureReason = reason
		}
	}
	return nil
}

func applyLiveOrProgress(s *Snapshot) error {
	live, found, err := readLiveEvent(filepath.Join(s.RunDir, "live.json"))
	if err != nil {
		return err
	}
	if !found {
		live, found, err = readLastProgressEvent(filepath.Join(s.RunDir, "progress.ndjson"))
		if err != nil {
			return err
		}
	}
	if !found {
		return nil
	}
	if rid := eventString(live["run_id"]); rid != "" && s.RunID == "" {
		s.RunID = rid
	}
	s.LastEvent = eventString(live["event"])
	// The checkpoint's cursor wins; a step_done event names the node that
	// already ran, so its next_node is the position.
	if s.CurrentNodeID == "" {
		id := eventString(live["node_id"])
		if next := eventString(live["next_node"]); next != "" || s.LastEvent == "step_done" {
			id = next
		}
		s.CurrentNodeID = id
	}
	if ts := parseEventTime(live["ts"]); !ts.IsZero() {
		s.LastEventAt = ts
	}
	if reason := eventString(live["failure_reason"]); reason != "" {
		s.FailureReason = reason
	}
	return nil
}

func applyPIDFile(s *Snapshot, terminal bool) error {
	path := filepath.Join(s.RunDir, "run.pid")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	raw := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		if terminal {
			return nil
		}
		return fmt.Errorf("parse %s: invalid pid %q", path, raw)
	}
	s.PID = pid
	// A finished run's pid may since have been reused.
	s.PIDAlive = !terminal && procutil.PIDAlive(pid)
	return nil
}

func readLiveEvent(path string) (map[string]any, bool, error) {
	var ev map[string]any
	found, err := readJSON(path, &ev)
	return ev, found, err
}

func readLastProgressEvent(path string) (map[string]any, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	last := ""
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, err
	}
	if last == "" {
		return nil, false, nil
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return ev, true, nil
}

func eventString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseEventTime(v any) time.Time {
	raw := eventString(v)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}
