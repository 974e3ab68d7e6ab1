package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danshapiro/epic/internal/epic/ir"
)

func sampleState(t *testing.T) *State {
	t.Helper()
	g := ir.New()
	tpl := g.AddNode(&ir.TemplateContents{Path: "seed/"})
	run := g.AddNode(&ir.RunContents{Command: "pytest"})
	exit := g.AddNode(&ir.ExitContents{})
	_ = g.SetFirst(tpl.ID)
	_ = g.AddEdge(tpl.ID, run.ID)
	_ = g.AddEdge(run.ID, exit.ID)
	code := 2
	run.Contents.(*ir.RunContents).ExitCode = &code

	st := NewState()
	st.Status = StatusRunning
	st.Graph = g
	st.Traversal = Traversal{Current: run.ID, Queue: []ir.NodeID{exit.ID}}
	st.Memory = []string{"wrote parser.go", "tests failing on edge cases"}
	st.StepCount = 2
	return st
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	st := sampleState(t)
	in := InputConfig{RunID: "01J0000000000000000000000", Project: "demo", OutputVersion: 3, SourceDigest: Digest([]byte("src"))}
	cp, err := NewCheckpoint(st, in)
	if err != nil {
		t.Fatalf("NewCheckpoint: %v", err)
	}
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := cp.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if diff := cmp.Diff(in, loaded.InputConfig); diff != "" {
		t.Fatalf("input_config (-want +got):\n%s", diff)
	}
	back, err := loaded.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if back.Status != st.Status || back.StepCount != st.StepCount {
		t.Fatalf("status/step: got %s/%d want %s/%d", back.Status, back.StepCount, st.Status, st.StepCount)
	}
	if diff := cmp.Diff(st.Traversal, back.Traversal); diff != "" {
		t.Fatalf("traversal (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(st.Memory, back.Memory); diff != "" {
		t.Fatalf("memory (-want +got):\n%s", diff)
	}
	want, _ := st.Graph.Document()
	got, _ := back.Graph.Document()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("graph (-want +got):\n%s", diff)
	}
}

func TestCheckpoint_NullCurrentNode(t *testing.T) {
	st := sampleState(t)
	st.Traversal = Traversal{Current: ir.NoNode}
	st.Status = StatusFinished
	cp, err := NewCheckpoint(st, InputConfig{RunID: "r"})
	if err != nil {
		t.Fatalf("NewCheckpoint: %v", err)
	}
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := cp.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), `"current_node_id": null`) {
		t.Fatalf("expected null current_node_id in:\n%s", b)
	}
	loaded, _ := LoadCheckpoint(path)
	back, err := loaded.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !back.Traversal.Done() {
		t.Fatalf("expected finished traversal, got %+v", back.Traversal)
	}
}

func TestCheckpoint_IsolatedFromLaterMutation(t *testing.T) {
	st := sampleState(t)
	cp, _ := NewCheckpoint(st, InputConfig{})
	st.Graph.Node(1).Contents.(*ir.RunContents).Command = "changed"
	rc := cp.Execution.Graph.Node(1).Contents.(*ir.RunContents)
	if rc.Command != "pytest" {
		t.Fatalf("checkpoint graph aliased live state: %q", rc.Command)
	}
}

func TestCheckpoint_RejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"version":       `{"version":99,"status":"RUNNING_PROGRAM","execution":{"graph":{"first_node":-1,"next_id":0,"nodes":[],"edges":[]}}}`,
		"status":        `{"version":1,"status":"PAUSED","execution":{"graph":{"first_node":-1,"next_id":0,"nodes":[],"edges":[]}}}`,
		"no_graph":      `{"version":1,"status":"RUNNING_PROGRAM","execution":{}}`,
		"dangling_head": `{"version":1,"status":"RUNNING_PROGRAM","execution":{"current_node_id":4,"graph":{"first_node":-1,"next_id":0,"nodes":[],"edges":[]}}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			cp, err := DecodeCheckpoint([]byte(doc))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, err := cp.State(); err == nil {
				t.Fatalf("expected State() to fail")
			}
		})
	}
}

func TestFinalOutcome_Save(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "final.json")
	node := 4
	fo := &FinalOutcome{
		Timestamp:     time.Unix(123, 0).UTC(),
		Status:        FinalDidNotConverge,
		RunID:         "r1",
		NodeID:        &node,
		Opcode:        "CONDITIONAL",
		FailureReason: "iteration limit exceeded",
	}
	if err := fo.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"did_not_converge"`) {
		t.Fatalf("status not persisted:\n%s", b)
	}
}

func TestDigest_Stable(t *testing.T) {
	a, b := Digest([]byte("/RUN make")), Digest([]byte("/RUN make"))
	if a != b || len(a) != 64 {
		t.Fatalf("digest: %q %q", a, b)
	}
	if a == Digest([]byte("/RUN make test")) {
		t.Fatalf("different inputs produced the same digest")
	}
}
