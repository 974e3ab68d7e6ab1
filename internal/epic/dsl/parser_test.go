package dsl

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_SectionsInSourceOrder(t *testing.T) {
	src := "preamble is dropped\n/TEMPLATE seed/\n/PROMPT add a function\nthat adds\n/RUN pytest\n/EXIT"
	got := Parse(src, DefaultMarkers)
	want := []Section{
		{Marker: MarkerTemplate, Body: "seed/", Line: 2},
		{Marker: MarkerPrompt, Body: "add a function\nthat adds", Line: 3},
		{Marker: MarkerRun, Body: "pytest", Line: 5},
		{Marker: MarkerExit, Body: "", Line: 6},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NoMarkersIsEmpty(t *testing.T) {
	if got := Parse("just prose, no markers", DefaultMarkers); len(got) != 0 {
		t.Fatalf("expected no sections, got %+v", got)
	}
	if got := Parse("", DefaultMarkers); len(got) != 0 {
		t.Fatalf("expected no sections for empty input, got %+v", got)
	}
}

func TestParse_MarkerBoundaries(t *testing.T) {
	src := "/PROMPT read @run_logs:x and /RO lib/ then seed/RUN stays\n/RUN_LOGS is not a marker\n/DEBUG_LOOP @command:\"make test\""
	got := Parse(src, DefaultMarkers)
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(got), got)
	}
	if got[0].Marker != MarkerPrompt || got[1].Marker != MarkerDebugLoop {
		t.Fatalf("unexpected markers: %+v", got)
	}
	if want := "read @run_logs:x and /RO lib/ then seed/RUN stays\n/RUN_LOGS is not a marker"; got[0].Body != want {
		t.Fatalf("prompt body: got %q want %q", got[0].Body, want)
	}
}

func TestCommand(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		err  error
	}{
		{name: "quoted", body: `@command:"go test ./..."`, want: "go test ./..."},
		{name: "quoted_escapes", body: `@command:"echo \"hi\"" trailing`, want: `echo "hi"`},
		{name: "token", body: "@command:pytest -q", want: "pytest"},
		{name: "bare", body: "pytest -q", want: "pytest -q"},
		{name: "bare_with_flags", body: "make check @should_fail:true", want: "make check"},
		{name: "empty", body: "   ", err: ErrEmptyCommand},
		{name: "empty_clause", body: "@command:", err: ErrEmptyCommand},
		{name: "unterminated", body: `@command:"go test`, err: ErrUnterminatedCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Command(tc.body)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err: got %v want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Command: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	body := `@command:"npm test" @should_fail:true @max_iterations:3`
	if !BoolFlag(body, FlagShouldFail) {
		t.Fatalf("should_fail not read")
	}
	n, ok, err := IntFlag(body, FlagMaxIterations)
	if err != nil || !ok || n != 3 {
		t.Fatalf("max_iterations: got %d %v %v", n, ok, err)
	}
	if _, _, err := IntFlag("@max_iterations:many", FlagMaxIterations); err == nil {
		t.Fatalf("expected parse error")
	}
	if BoolFlag("npm test", FlagShouldFail) {
		t.Fatalf("absent flag must be false")
	}
}
