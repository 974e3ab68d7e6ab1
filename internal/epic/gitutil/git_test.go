package gitutil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestCommitAll_InitialisesAndCommits(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := t.TempDir()
	if IsRepo(ctx, dir) {
		t.Fatalf("fresh temp dir should not be a repo")
	}
	if err := EnsureRepo(ctx, dir); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed, err := ChangedFiles(ctx, dir)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if diff := cmp.Diff([]string{"main.go"}, changed); diff != "" {
		t.Fatalf("changed files (-want +got):\n%s", diff)
	}

	first, err := CommitAll(ctx, dir, "epic: step 1 TEMPLATE node 0")
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	second, err := CommitAll(ctx, dir, "epic: step 2 EXIT node 1")
	if err != nil {
		t.Fatalf("CommitAll (empty): %v", err)
	}
	if first == "" || first == second {
		t.Fatalf("expected two distinct commits, got %q and %q", first, second)
	}
	changed, _ = ChangedFiles(ctx, dir)
	if len(changed) != 0 {
		t.Fatalf("tree should be clean, got %v", changed)
	}
}

func TestCommandError_IncludesStderr(t *testing.T) {
	requireGit(t)
	_, err := HeadSHA(context.Background(), t.TempDir())
	if err == nil {
		t.Fatalf("expected error outside a repository")
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Stderr == "" {
		t.Fatalf("expected CommandError with stderr, got %v", err)
	}
}
