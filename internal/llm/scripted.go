package llm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrScriptExhausted is returned once a ScriptedBackend has no replies left.
var ErrScriptExhausted = errors.New("scripted backend: no responses left")

// Call records one request made to a ScriptedBackend.
type Call struct {
	System string
	User   string
}

// ScriptedBackend replays canned replies in order. It backs offline runs
// (llm.backend: scripted) and tests.
type ScriptedBackend struct {
	mu        sync.Mutex
	responses []string
	calls     []Call
}

var _ Backend = (*ScriptedBackend)(nil)

func NewScripted(responses ...string) *ScriptedBackend {
	return &ScriptedBackend{responses: append([]string(nil), responses...)}
}

// LoadScripted reads every file under dir matching pattern (a doublestar
// glob, "**/*" when empty) in lexical path order, one reply per file.
func LoadScripted(dir, pattern string) (*ScriptedBackend, error) {
	if pattern == "" {
		pattern = "**/*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, &ConfigurationError{Message: fmt.Sprintf("invalid scripted response pattern %q", pattern)}
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var replies []string
	for _, m := range matches {
		b, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, err
		}
		replies = append(replies, string(b))
	}
	if len(replies) == 0 {
		return nil, &ConfigurationError{Message: fmt.Sprintf("no scripted responses in %s matching %q", dir, pattern)}
	}
	return NewScripted(replies...), nil
}

func (s *ScriptedBackend) Send(ctx context.Context, systemPrompt, userContent string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: systemPrompt, User: userContent})
	if len(s.responses) == 0 {
		return "", ErrScriptExhausted
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

// Calls returns the requests seen so far.
func (s *ScriptedBackend) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Remaining reports how many replies are still queued.
func (s *ScriptedBackend) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
