package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

func checkpointAt(t *testing.T, step int) *runtime.Checkpoint {
	t.Helper()
	g := ir.New()
	run := g.AddNode(&ir.RunContents{Command: "pytest"})
	exit := g.AddNode(&ir.ExitContents{})
	_ = g.SetFirst(run.ID)
	_ = g.AddEdge(run.ID, exit.ID)

	st := runtime.NewState()
	st.Status = runtime.StatusRunning
	st.Graph = g
	st.Traversal = runtime.Traversal{Current: exit.ID}
	st.StepCount = step
	st.Memory = []string{"note"}
	cp, err := runtime.NewCheckpoint(st, runtime.InputConfig{RunID: "run-1"})
	if err != nil {
		t.Fatalf("NewCheckpoint: %v", err)
	}
	return cp
}

func newTestSQLiteStore(t *testing.T, runID string) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(db, runID)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func assertSameCheckpoint(t *testing.T, want, got *runtime.Checkpoint) {
	t.Helper()
	if diff := cmp.Diff(want.InputConfig, got.InputConfig); diff != "" {
		t.Fatalf("input_config (-want +got):\n%s", diff)
	}
	if got.Execution.StepCount != want.Execution.StepCount || got.Status != want.Status {
		t.Fatalf("step/status: got %d/%s want %d/%s", got.Execution.StepCount, got.Status, want.Execution.StepCount, want.Status)
	}
	if diff := cmp.Diff(want.Execution.CurrentNodeID, got.Execution.CurrentNodeID); diff != "" {
		t.Fatalf("current node (-want +got):\n%s", diff)
	}
	wg, _ := want.Execution.Graph.Document()
	gg, _ := got.Execution.Graph.Document()
	if diff := cmp.Diff(wg, gg); diff != "" {
		t.Fatalf("graph (-want +got):\n%s", diff)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "run", "checkpoint.json"))
	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	cp := checkpointAt(t, 3)
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameCheckpoint(t, cp, got)
}

func TestSQLiteStore_HistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, "run-1")
	other := newTestSQLiteStore(t, "run-2")

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	for step := 1; step <= 3; step++ {
		if err := s.Save(ctx, checkpointAt(t, step)); err != nil {
			t.Fatalf("Save(%d): %v", step, err)
		}
	}
	latest, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameCheckpoint(t, checkpointAt(t, 3), latest)

	hist, err := s.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history length: got %d want 3", len(hist))
	}
	for i, e := range hist {
		if e.StepCount != i+1 || e.Status != runtime.StatusRunning || e.Digest == "" {
			t.Fatalf("entry %d: %+v", i, e)
		}
		if e.CurrentNodeID == nil || *e.CurrentNodeID != 1 {
			t.Fatalf("entry %d current node: %v", i, e.CurrentNodeID)
		}
	}
	if _, err := other.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("stores must be scoped per run, got %v", err)
	}
}

func TestOpenSQLiteStore_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenSQLiteStore(path, "run-1")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	if err := s.Save(ctx, checkpointAt(t, 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLiteStore(path, "run-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	hist, err := reopened.History(ctx)
	if err != nil || len(hist) != 1 {
		t.Fatalf("History after reopen: %v %v", hist, err)
	}
}

func TestMulti_SavesEverywhereLoadsFirst(t *testing.T) {
	ctx := context.Background()
	file := NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	hist := newTestSQLiteStore(t, "run-1")
	m := Multi{file, hist}
	cp := checkpointAt(t, 7)
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameCheckpoint(t, cp, got)
	entries, _ := hist.History(ctx)
	if len(entries) != 1 {
		t.Fatalf("history store not written: %d entries", len(entries))
	}
}
