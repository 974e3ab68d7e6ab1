package runstate

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSnapshot_FinalIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "manifest.json", `{"run_id":"r1","project":"calc","version":3}`)
	write(t, dir, "final.json", `{"status":"did_not_converge","run_id":"r1","failure_reason":"iteration limit"}`)
	write(t, dir, "live.json", `{"event":"step_start","node_id":4,"ts":"2026-01-02T03:04:05Z"}`)
	write(t, dir, "run.pid", strconv.Itoa(os.Getpid()))

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateDidNotConverge || s.FailureReason != "iteration limit" {
		t.Fatalf("state: %+v", s)
	}
	if s.Project != "calc" || s.Version != 3 || s.RunID != "r1" {
		t.Fatalf("manifest fields: %+v", s)
	}
	if s.LastEvent != "" || s.PIDAlive {
		t.Fatalf("terminal snapshot picked up activity: %+v", s)
	}
}

func TestLoadSnapshot_RunningFromLiveProcess(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "progress.ndjson", "{\"event\":\"compiled\"}\n{\"event\":\"step_done\",\"node_id\":2,\"run_id\":\"r9\"}\n")
	write(t, dir, "run.pid", strconv.Itoa(os.Getpid()))

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateRunning || !s.PIDAlive || s.LastEvent != "step_done" || s.CurrentNodeID != "2" || s.RunID != "r9" {
		t.Fatalf("snapshot: %+v", s)
	}
}

func TestLoadSnapshot_SteppedRunIsLoaded(t *testing.T) {
	dir := t.TempDir()
	g := ir.New()
	seed := g.AddNode(&ir.TemplateContents{Path: "seed"})
	exit := g.AddNode(&ir.ExitContents{})
	if err := g.AddEdge(seed.ID, exit.ID); err != nil {
		t.Fatal(err)
	}
	if err := g.SetFirst(seed.ID); err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState()
	for _, s := range []runtime.ProgramStatus{runtime.StatusInitialized, runtime.StatusCompiling} {
		if err := st.Transition(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Load(g); err != nil {
		t.Fatal(err)
	}
	for _, s := range []runtime.ProgramStatus{runtime.StatusLoaded, runtime.StatusRunning} {
		if err := st.Transition(s); err != nil {
			t.Fatal(err)
		}
	}
	// One step taken: TEMPLATE ran and EXIT is current.
	st.Traversal.Pop()
	if _, err := st.Traversal.Step(g, runtime.Successors()); err != nil {
		t.Fatal(err)
	}
	st.StepCount = 1
	cp, err := runtime.NewCheckpoint(st, runtime.InputConfig{RunID: "r2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cp.Save(filepath.Join(dir, "checkpoint.json")); err != nil {
		t.Fatal(err)
	}
	write(t, dir, "live.json", `{"event":"step_done","step":1,"node_id":0,"next_node":1}`)

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateLoaded || s.ProgramStatus != string(runtime.StatusRunning) || s.RunID != "r2" {
		t.Fatalf("snapshot: %+v", s)
	}
	if s.CurrentNodeID != strconv.Itoa(int(exit.ID)) || s.LastEvent != "step_done" || s.StepCount != 1 {
		t.Fatalf("position: current=%q last_event=%q steps=%d", s.CurrentNodeID, s.LastEvent, s.StepCount)
	}
}

func TestLoadSnapshot_EventFillsMissingCursor(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "progress.ndjson", `{"event":"step_start","step":1,"node_id":0}`+"\n"+
		`{"event":"step_done","step":1,"node_id":0,"next_node":2}`+"\n")
	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.CurrentNodeID != "2" {
		t.Fatalf("current node: %q", s.CurrentNodeID)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	if _, err := LoadSnapshot(" "); err == nil {
		t.Fatalf("empty dir should fail")
	}
	dir := t.TempDir()
	write(t, dir, "run.pid", "nope")
	if _, err := LoadSnapshot(dir); err == nil {
		t.Fatalf("invalid pid should fail for a non-terminal run")
	}
	if s, err := LoadSnapshot(t.TempDir()); err != nil || s.State != StateUnknown {
		t.Fatalf("empty run dir: %+v %v", s, err)
	}
}
