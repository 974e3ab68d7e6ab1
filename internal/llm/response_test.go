package llm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseEditResponse_FencedJSON(t *testing.T) {
	text := "Here you go:\n```json\n{\"files\":[{\"path\":\"a.py\",\"contents\":\"x = 1\\n\"}],\"memory\":[\"added a.py\"]}\n```\n"
	got, err := ParseEditResponse(text)
	if err != nil {
		t.Fatalf("ParseEditResponse: %v", err)
	}
	want := &EditResponse{
		Files:     []FileEdit{{Path: "a.py", Contents: "x = 1\n"}},
		Memory:    []string{"added a.py"},
		HasMemory: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestParseEditResponse_MemoryAbsentVsEmpty(t *testing.T) {
	got, err := ParseEditResponse(`{"files":[]}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasMemory {
		t.Fatalf("memory key absent, HasMemory should be false")
	}
	got, err = ParseEditResponse(`{"memory":[]}`)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasMemory || len(got.Memory) != 0 {
		t.Fatalf("empty memory list should set HasMemory: %+v", got)
	}
}

func TestParseEditResponse_Rejects(t *testing.T) {
	cases := map[string]string{
		"no object":        "I could not do it.",
		"bad json":         `{"files": [}`,
		"missing contents": `{"files":[{"path":"a.py"}]}`,
		"empty path":       `{"files":[{"path":"","contents":""}]}`,
		"memory not list":  `{"memory":"hello"}`,
	}
	for name, text := range cases {
		if _, err := ParseEditResponse(text); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ParseEditResponse("nothing"); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
}

func TestScripted_ReplaysInOrderAndRecords(t *testing.T) {
	s := NewScripted("one", "two")
	for _, want := range []string{"one", "two"} {
		got, err := s.Send(t.Context(), "sys", "u-"+want)
		if err != nil || got != want {
			t.Fatalf("got %q %v want %q", got, err, want)
		}
	}
	if _, err := s.Send(t.Context(), "", ""); !errors.Is(err, ErrScriptExhausted) {
		t.Fatalf("expected ErrScriptExhausted, got %v", err)
	}
	calls := s.Calls()
	if len(calls) != 3 || calls[1].User != "u-two" || calls[0].System != "sys" {
		t.Fatalf("calls: %+v", calls)
	}
}

func TestLoadScripted_GlobOrder(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"02_fix.json":       `{"files":[]}`,
		"01_prompt.json":    `{"memory":["x"]}`,
		"notes/ignored.txt": "skip",
	} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := LoadScripted(dir, "*.json")
	if err != nil {
		t.Fatalf("LoadScripted: %v", err)
	}
	if s.Remaining() != 2 {
		t.Fatalf("remaining: %d", s.Remaining())
	}
	first, _ := s.Send(t.Context(), "", "")
	if first != `{"memory":["x"]}` {
		t.Fatalf("first reply: %q", first)
	}
	if _, err := LoadScripted(dir, "*.yaml"); err == nil {
		t.Fatalf("expected error when nothing matches")
	}
}
