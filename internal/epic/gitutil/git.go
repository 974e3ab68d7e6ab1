// Package gitutil records per-step snapshots of a run's code directory in git.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Identity used when the repository has no committer configured.
const (
	fallbackName  = "epic"
	fallbackEmail = "epic@local"
)

type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func git(ctx context.Context, dir string, args ...string) (string, error) {
	// Background maintenance would outlive short step commits.
	full := append([]string{"-C", dir, "-c", "maintenance.auto=0", "-c", "gc.auto=0"}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

func IsRepo(ctx context.Context, dir string) bool {
	out, err := git(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// EnsureRepo initialises dir as a repository unless it already is one.
func EnsureRepo(ctx context.Context, dir string) error {
	if IsRepo(ctx, dir) {
		return nil
	}
	_, err := git(ctx, dir, "init", "--quiet")
	return err
}

func HeadSHA(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitAll stages everything and commits, even when nothing changed, so
// that every step has a commit. It returns the new HEAD.
func CommitAll(ctx context.Context, dir, message string) (string, error) {
	if _, err := git(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}
	_, err := git(ctx, dir, "commit", "--quiet", "--allow-empty", "-m", message)
	if err != nil && missingIdentity(err) {
		_, err = git(ctx, dir,
			"-c", "user.name="+fallbackName,
			"-c", "user.email="+fallbackEmail,
			"commit", "--quiet", "--allow-empty", "-m", message,
		)
	}
	if err != nil {
		return "", err
	}
	return HeadSHA(ctx, dir)
}

// ChangedFiles lists paths with uncommitted changes, untracked files included.
func ChangedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := git(ctx, dir, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, path)
	}
	return files, nil
}

func missingIdentity(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Author identity unknown") ||
		strings.Contains(msg, "Please tell me who you are") ||
		strings.Contains(msg, "unable to auto-detect email address")
}
