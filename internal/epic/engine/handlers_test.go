package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
	"github.com/danshapiro/epic/internal/llm"
)

func intPtr(v int) *int { return &v }

// conditionalGraph returns RUN -> CONDITIONAL -> {pass, fail} with the RUN
// node's exit code set to code (nil leaves it unexecuted).
func conditionalGraph(code *int, shouldFail bool, limit int) (*ir.Graph, *ir.Node, ir.NodeID, ir.NodeID) {
	g := ir.New()
	run := g.AddNode(&ir.RunContents{Command: "make test", ExitCode: code})
	pass := g.AddNode(&ir.ExitContents{})
	fail := g.AddNode(&ir.FixContents{RunRef: run.ID})
	cond := g.AddNode(&ir.ConditionalContents{
		RunNodeID:    run.ID,
		TrueTarget:   pass.ID,
		FalseTarget:  fail.ID,
		IterationMax: limit,
		ShouldFail:   shouldFail,
	})
	return g, cond, pass.ID, fail.ID
}

func testExecution(g *ir.Graph) *Execution {
	return &Execution{Graph: g, State: runtime.NewState(), Logger: zap.NewNop()}
}

func TestConditionalHandler_Routes(t *testing.T) {
	cases := []struct {
		name       string
		exitCode   int
		shouldFail bool
		wantPass   bool
	}{
		{"success takes true branch", 0, false, true},
		{"failure takes false branch", 2, false, false},
		{"should_fail inverts success", 0, true, false},
		{"should_fail inverts failure", 1, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, cond, pass, fail := conditionalGraph(intPtr(tc.exitCode), tc.shouldFail, 3)
			next, err := (&ConditionalHandler{}).Process(context.Background(), testExecution(g), cond)
			if err != nil {
				t.Fatal(err)
			}
			want := runtime.Goto(fail)
			if tc.wantPass {
				want = runtime.Goto(pass)
			}
			if diff := cmp.Diff(want, next); diff != "" {
				t.Fatalf("next (-want +got):\n%s", diff)
			}
			c, _ := ir.As[*ir.ConditionalContents](cond)
			if c.IterationCount != 1 || c.Condition == nil || *c.Condition != tc.wantPass {
				t.Fatalf("contents not updated: count=%d condition=%v", c.IterationCount, c.Condition)
			}
		})
	}
}

func TestConditionalHandler_MissingExitCode(t *testing.T) {
	g, cond, _, _ := conditionalGraph(nil, false, 3)
	_, err := (&ConditionalHandler{}).Process(context.Background(), testExecution(g), cond)
	var me *MissingExitCodeError
	if !errors.As(err, &me) || me.ConditionalID != cond.ID {
		t.Fatalf("expected MissingExitCodeError, got %v", err)
	}
}

func TestConditionalHandler_IterationCeiling(t *testing.T) {
	g, cond, _, _ := conditionalGraph(intPtr(1), false, 2)
	h := &ConditionalHandler{}
	exec := testExecution(g)
	for i := 0; i < 2; i++ {
		if _, err := h.Process(context.Background(), exec, cond); err != nil {
			t.Fatalf("evaluation %d: %v", i+1, err)
		}
	}
	_, err := h.Process(context.Background(), exec, cond)
	if !errors.Is(err, ErrIterationLimitExceeded) {
		t.Fatalf("expected iteration limit, got %v", err)
	}
	c, _ := ir.As[*ir.ConditionalContents](cond)
	if c.IterationCount != 2 {
		t.Fatalf("count moved past the ceiling: %d", c.IterationCount)
	}
}

func TestConditionalHandler_MissingTarget(t *testing.T) {
	g, cond, _, _ := conditionalGraph(intPtr(0), false, 3)
	cond.Contents.(*ir.ConditionalContents).TrueTarget = ir.NoNode
	_, err := (&ConditionalHandler{}).Process(context.Background(), testExecution(g), cond)
	var mc *MissingContentsError
	if !errors.As(err, &mc) || mc.Field != "true_node_target" {
		t.Fatalf("expected MissingContentsError for true_node_target, got %v", err)
	}
}

func TestRunHandler_RecordsExitCodeAndLogs(t *testing.T) {
	e := newTestEngine(t, Options{Executor: &stubExecutor{codes: []int{3}, stdout: "hello"}})
	g := ir.New()
	run := g.AddNode(&ir.RunContents{Command: "make", StdoutFile: "stale.log", StderrFile: "stale.err"})
	exec := testExecution(g)
	exec.Engine = e

	next, err := (&RunHandler{}).Process(context.Background(), exec, run)
	if err != nil {
		t.Fatal(err)
	}
	if next.Kind != runtime.PushSuccessors {
		t.Fatalf("next: %v", next.Kind)
	}
	c, _ := ir.As[*ir.RunContents](run)
	if c.ExitCode == nil || *c.ExitCode != 3 {
		t.Fatalf("exit code: %v", c.ExitCode)
	}
	if !strings.HasSuffix(c.StdoutFile, "_n0.stdout.log") || c.StderrFile != "" {
		t.Fatalf("log files: stdout=%q stderr=%q", c.StdoutFile, c.StderrFile)
	}
	b, err := os.ReadFile(filepath.Join(e.Layout.RunLogsDir, c.StdoutFile))
	if err != nil || string(b) != "hello" {
		t.Fatalf("stdout log: %q %v", b, err)
	}
}

func TestRunHandler_ShellExecutor(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Run.Shell = "sh"
	e := newTestEngine(t, Options{Config: cfg})
	mustCompile(t, e, "/RUN @command:\"echo built > out.txt; exit 4\"\n/EXIT")
	if _, err := e.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	run := e.State.Graph.NodesOf(ir.OpRun)[0]
	c, _ := ir.As[*ir.RunContents](run)
	if c.ExitCode == nil || *c.ExitCode != 4 {
		t.Fatalf("exit code: %v", c.ExitCode)
	}
	if b, err := os.ReadFile(filepath.Join(e.Layout.CodeDir, "out.txt")); err != nil || strings.TrimSpace(string(b)) != "built" {
		t.Fatalf("command did not run in the code dir: %q %v", b, err)
	}
}

func TestPromptHandler_RejectsEscapingPaths(t *testing.T) {
	backend := llm.NewScripted(`{"files": [
		{"path": "../escape.txt", "contents": "x"},
		{"path": "pkg/ok.go", "contents": "package pkg\n"}
	]}`)
	e := newTestEngine(t, Options{Backend: backend, Executor: &stubExecutor{}})
	mustCompile(t, e, "/PROMPT write pkg\n/EXIT")
	e.State.AppendMemory("keep me")
	if _, err := e.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(e.Layout.CodeDir, "pkg", "ok.go")); err != nil {
		t.Fatalf("local file not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(e.Layout.CodeDir), "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("escaping path was written: %v", err)
	}
	if diff := cmp.Diff([]string{"keep me"}, e.State.Memory); diff != "" {
		t.Fatalf("memory without a memory key must be kept (-want +got):\n%s", diff)
	}
	entries, _ := os.ReadDir(e.Layout.RunLogsDir)
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".prompt.txt") {
		t.Fatalf("raw response not saved: %v", entries)
	}
}

func TestPromptHandler_UnusableReplyIsWarning(t *testing.T) {
	e := newTestEngine(t, Options{Backend: llm.NewScripted("no json here"), Executor: &stubExecutor{}})
	mustCompile(t, e, "/PROMPT write pkg\n/EXIT")
	if _, err := e.RunAll(context.Background()); err != nil {
		t.Fatalf("unusable reply should not fail the run: %v", err)
	}
	b, err := os.ReadFile(e.Layout.ProgressPath())
	if err != nil || !strings.Contains(string(b), `"event":"warning"`) {
		t.Fatalf("expected a warning event: %v", err)
	}
}

func TestTemplateHandler_HonoursExcludes(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Template.Exclude = []string{".git/**", "**/*.tmp"}
	e := newTestEngine(t, Options{Config: cfg, Executor: &stubExecutor{}})
	seed := filepath.Join(e.SourceDir, "seed")
	writeFile(t, filepath.Join(seed, "main.go"), "package main\n")
	writeFile(t, filepath.Join(seed, "build", "cache.tmp"), "x")
	writeFile(t, filepath.Join(seed, ".git", "HEAD"), "ref")

	mustCompile(t, e, "/TEMPLATE seed\n/EXIT")
	if _, err := e.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(e.Layout.CodeDir, "main.go")); err != nil {
		t.Fatalf("main.go not copied: %v", err)
	}
	for _, p := range []string{"build/cache.tmp", ".git/HEAD"} {
		if _, err := os.Stat(filepath.Join(e.Layout.CodeDir, p)); !os.IsNotExist(err) {
			t.Fatalf("%s should be excluded: %v", p, err)
		}
	}
}

func TestTemplateHandler_MissingDirIsFatal(t *testing.T) {
	e := newTestEngine(t, Options{Executor: &stubExecutor{}})
	mustCompile(t, e, "/TEMPLATE nowhere\n/EXIT")
	_, err := e.RunAll(context.Background())
	var se *StepError
	if !errors.As(err, &se) || se.Opcode != ir.OpTemplate {
		t.Fatalf("expected StepError on TEMPLATE, got %v", err)
	}
}

func TestFixHandler_FixerErrorIsWarning(t *testing.T) {
	fixer := &stubFixer{err: errors.New("model unavailable")}
	e := newTestEngine(t, Options{Executor: &stubExecutor{codes: []int{1, 0}}, Fixer: fixer})
	mustCompile(t, e, "/PROMPT x\n/DEBUG_LOOP make\n/EXIT")
	if _, err := e.RunAll(context.Background()); err != nil {
		t.Fatalf("fixer failure should not fail the run: %v", err)
	}
	if len(fixer.reqs) != 1 || len(e.State.Memory) != 0 {
		t.Fatalf("fixer calls=%d memory=%v", len(fixer.reqs), e.State.Memory)
	}
}
