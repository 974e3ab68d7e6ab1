package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--log-level", "error"}, args...)
	code := execute(context.Background(), args, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// workspace writes a workflow and a config whose output root and shell are
// test-local. Extra config lines are appended verbatim.
func workspace(t *testing.T, program string, extraConfig string) (dsl, config string) {
	t.Helper()
	dir := t.TempDir()
	dsl = filepath.Join(dir, "calc.epic")
	config = filepath.Join(dir, "run.yaml")
	mustWrite(t, dsl, program)
	mustWrite(t, filepath.Join(dir, "seed", "calc.py"), "# calc\n")
	mustWrite(t, config, "version: 1\noutput_root: out\nrun:\n  shell: sh\n"+extraConfig)
	return dsl, config
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCompile_TextAndJSON(t *testing.T) {
	dsl, _ := workspace(t, "/TEMPLATE seed/\n/PROMPT add a function\n/RUN pytest\n/EXIT", "")
	res := runCLI(t, "compile", dsl)
	if res.code != exitOK {
		t.Fatalf("exit %d: %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "(4 nodes, first n0)") || !strings.Contains(res.stdout, `RUN         "pytest"`) {
		t.Fatalf("unexpected listing:\n%s", res.stdout)
	}

	res = runCLI(t, "compile", "--json", dsl)
	if res.code != exitOK {
		t.Fatalf("exit %d: %s", res.code, res.stderr)
	}
	var doc struct {
		Graph       json.RawMessage   `json:"graph"`
		Passes      []string          `json:"passes"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.stdout)
	}
	if len(doc.Graph) == 0 || len(doc.Passes) == 0 {
		t.Fatalf("incomplete document: %s", res.stdout)
	}
}

func TestCompile_MalformedWorkflow(t *testing.T) {
	dsl, _ := workspace(t, "/RUN @command:\"unterminated\n/EXIT", "")
	if res := runCLI(t, "compile", dsl); res.code != exitFatal {
		t.Fatalf("exit %d, want %d", res.code, exitFatal)
	}
}

func TestRunThenStepAndStatus(t *testing.T) {
	dsl, cfg := workspace(t, "/TEMPLATE seed/\n/RUN true\n/EXIT", "")
	res := runCLI(t, "--config", cfg, "run", dsl, "calc")
	if res.code != exitOK {
		t.Fatalf("run exit %d: %s", res.code, res.stderr)
	}
	for _, want := range []string{"status=FINISHED_RUNNING_PROGRAM", "steps=3", "run_dir="} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("run output missing %q:\n%s", want, res.stdout)
		}
	}

	if res := runCLI(t, "--config", cfg, "step", "calc"); res.code != exitNoStepsRemain {
		t.Fatalf("step on finished run: exit %d (%s)", res.code, res.stderr)
	}

	res = runCLI(t, "--config", cfg, "status", "--json", "calc")
	if res.code != exitOK {
		t.Fatalf("status exit %d: %s", res.code, res.stderr)
	}
	var snap struct {
		State     string `json:"state"`
		StepCount int    `json:"step_count"`
		Project   string `json:"project"`
		Version   int    `json:"version"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.State != "success" || snap.StepCount != 3 || snap.Project != "calc" || snap.Version != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestCompileOnlyThenStepThrough(t *testing.T) {
	dsl, cfg := workspace(t, "/RUN true\n/EXIT", "checkpoint:\n  history: true\n")
	if res := runCLI(t, "--config", cfg, "run", "--compile-only", dsl); res.code != exitOK {
		t.Fatalf("run exit %d: %s", res.code, res.stderr)
	}
	for i, op := range []string{"RUN", "EXIT"} {
		res := runCLI(t, "--config", cfg, "step", "calc")
		if res.code != exitOK || !strings.Contains(res.stdout, "opcode="+op) {
			t.Fatalf("step %d: exit %d stdout=%s stderr=%s", i+1, res.code, res.stdout, res.stderr)
		}
	}
	if res := runCLI(t, "--config", cfg, "step", "calc"); res.code != exitNoStepsRemain {
		t.Fatalf("extra step: exit %d", res.code)
	}
	res := runCLI(t, "--config", cfg, "status", "--history", "calc")
	if res.code != exitOK {
		t.Fatalf("status exit %d: %s", res.code, res.stderr)
	}
	// compile, two steps, then the finishing no-op is not saved
	if n := strings.Count(res.stdout, "checkpoint seq="); n != 3 {
		t.Fatalf("history rows: %d\n%s", n, res.stdout)
	}
}

func TestRun_DidNotConverge(t *testing.T) {
	dsl, cfg := workspace(t, "/PROMPT fix it\n/DEBUG_LOOP false\n/EXIT", "")
	res := runCLI(t, "--config", cfg, "run", "--iteration-max", "1", dsl)
	if res.code != exitDidNotConverge {
		t.Fatalf("exit %d, want %d: %s", res.code, exitDidNotConverge, res.stderr)
	}
	status := runCLI(t, "--config", cfg, "status", "calc")
	if !strings.Contains(status.stdout, "state=did_not_converge") {
		t.Fatalf("status:\n%s", status.stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"run"},
		{"frobnicate"},
		{"status", "--bogus", "calc"},
		{"step", "a", "b"},
	} {
		if res := runCLI(t, args...); res.code != exitUsage {
			t.Fatalf("%v: exit %d, want %d (%s)", args, res.code, exitUsage, res.stderr)
		}
	}
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "version")
	if res.code != exitOK || strings.TrimSpace(res.stdout) != "epic dev" {
		t.Fatalf("version: %+v", res)
	}
}
