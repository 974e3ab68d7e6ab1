package ir

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func chain(t *testing.T, contents ...Contents) (*Graph, []NodeID) {
	t.Helper()
	g := New()
	var ids []NodeID
	for i, c := range contents {
		n := g.AddNode(c)
		ids = append(ids, n.ID)
		if i == 0 {
			if err := g.SetFirst(n.ID); err != nil {
				t.Fatalf("SetFirst: %v", err)
			}
			continue
		}
		if err := g.AddEdge(ids[i-1], n.ID); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	return g, ids
}

func TestGraph_RemoveNodeNeverReusesID(t *testing.T) {
	g, ids := chain(t, &TemplateContents{Path: "seed"}, &RunContents{Command: "make"}, &ExitContents{})
	if err := g.RemoveNode(ids[1]); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	if g.Has(ids[1]) {
		t.Fatalf("node %d still present", ids[1])
	}
	if got := g.Successors(ids[0]); len(got) != 0 {
		t.Fatalf("dangling successors after removal: %v", got)
	}
	if got := g.Predecessors(ids[2]); len(got) != 0 {
		t.Fatalf("dangling predecessors after removal: %v", got)
	}
	n := g.AddNode(&FixContents{RunRef: ids[0]})
	if n.ID != 3 {
		t.Fatalf("new node id: got %d want 3", n.ID)
	}
	if g.Len() != 3 {
		t.Fatalf("Len: got %d want 3", g.Len())
	}
}

func TestGraph_AddEdgeRejectsMissingEndpoints(t *testing.T) {
	g, ids := chain(t, &ExitContents{})
	if err := g.AddEdge(ids[0], 42); err == nil {
		t.Fatalf("expected error for missing target")
	}
	if err := g.AddEdge(42, ids[0]); err == nil {
		t.Fatalf("expected error for missing source")
	}
	if err := g.AddEdge(ids[0], ids[0]); err != nil {
		t.Fatalf("self edge: %v", err)
	}
	if err := g.AddEdge(ids[0], ids[0]); err != nil {
		t.Fatalf("duplicate edge: %v", err)
	}
	if got := g.Successors(ids[0]); len(got) != 1 {
		t.Fatalf("duplicate edge should be ignored, got %v", got)
	}
}

func TestGraph_ReachableIsBreadthFirst(t *testing.T) {
	g := New()
	a := g.AddNode(&PromptContents{Prompt: "a"})
	b := g.AddNode(&PromptContents{Prompt: "b"})
	c := g.AddNode(&PromptContents{Prompt: "c"})
	d := g.AddNode(&ExitContents{})
	orphan := g.AddNode(&ReadOnlyContents{Path: "lib"})
	_ = g.SetFirst(a.ID)
	_ = g.AddEdge(a.ID, b.ID)
	_ = g.AddEdge(a.ID, c.ID)
	_ = g.AddEdge(b.ID, d.ID)
	_ = g.AddEdge(orphan.ID, c.ID)

	want := []NodeID{a.ID, b.ID, c.ID, d.ID}
	if diff := cmp.Diff(want, g.Reachable()); diff != "" {
		t.Fatalf("Reachable mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_DocumentRoundTrip(t *testing.T) {
	exit := 1
	g, ids := chain(t,
		&TemplateContents{Path: "seed/"},
		&PromptContents{Prompt: "add @docs:a.md", DocsRefs: []string{"a.md"}},
		&RunContents{Command: "pytest", ExitCode: &exit, StdoutFile: "x.stdout.log"},
		&ExitContents{},
	)
	cond := g.AddNode(&ConditionalContents{RunNodeID: ids[2], TrueTarget: ids[3], FalseTarget: ids[1], IterationMax: 5})
	_ = g.AddEdge(ids[2], cond.ID)
	_ = g.RemoveNode(ids[0])
	_ = g.SetFirst(ids[1])

	b, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Graph
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want, _ := g.Document()
	got, _ := back.Document()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
	if back.NextID() != g.NextID() {
		t.Fatalf("NextID: got %d want %d", back.NextID(), g.NextID())
	}
	rc, err := As[*RunContents](back.Node(ids[2]))
	if err != nil {
		t.Fatalf("As: %v", err)
	}
	if rc.ExitCode == nil || *rc.ExitCode != 1 {
		t.Fatalf("exit code did not survive: %+v", rc)
	}
}

func TestDecodeContents_MissingReferencesStayUnset(t *testing.T) {
	c, err := DecodeContents(OpConditional, json.RawMessage(`{"iteration_max":5}`))
	if err != nil {
		t.Fatalf("DecodeContents: %v", err)
	}
	cc := c.(*ConditionalContents)
	if cc.RunNodeID != NoNode || cc.TrueTarget != NoNode || cc.FalseTarget != NoNode {
		t.Fatalf("expected unset references, got %+v", cc)
	}

	if _, err := DecodeContents(Opcode("JUMP"), nil); err == nil {
		t.Fatalf("expected error for unknown opcode")
	}
}

func TestParseOpcode(t *testing.T) {
	op, err := ParseOpcode(" run ")
	if err != nil || op != OpRun {
		t.Fatalf("ParseOpcode: got %q, %v", op, err)
	}
	if _, err := ParseOpcode("LOOP"); err == nil {
		t.Fatalf("expected error")
	}
	for _, op := range ExecutableOpcodes() {
		if op == OpDebugLoop {
			t.Fatalf("DEBUG_LOOP must not be executable")
		}
	}
}
