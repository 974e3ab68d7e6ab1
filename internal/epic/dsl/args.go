package dsl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrEmptyCommand        = errors.New("command is empty")
	ErrUnterminatedCommand = errors.New("unterminated quoted command")
)

const commandKey = "@command:"

// Flags understood inside /DEBUG_LOOP bodies.
const (
	FlagShouldFail    = "should_fail"
	FlagMaxIterations = "max_iterations"
)

var flagRE = regexp.MustCompile(`@(` + FlagShouldFail + `|` + FlagMaxIterations + `):(\S+)`)

// Command extracts the command of a /RUN or /DEBUG_LOOP body. The body may
// carry @command:"..." (Go string escapes), @command:token, or no clause at
// all, in which case the body minus any @flag:value tokens is the command.
func Command(body string) (string, error) {
	idx := strings.Index(body, commandKey)
	if idx < 0 {
		cmd := strings.TrimSpace(StripFlags(body))
		if cmd == "" {
			return "", ErrEmptyCommand
		}
		return cmd, nil
	}
	rest := body[idx+len(commandKey):]
	if strings.HasPrefix(rest, `"`) {
		end := closingQuote(rest)
		if end < 0 {
			return "", ErrUnterminatedCommand
		}
		cmd, err := strconv.Unquote(rest[:end+1])
		if err != nil {
			return "", fmt.Errorf("unquote command: %w", err)
		}
		if strings.TrimSpace(cmd) == "" {
			return "", ErrEmptyCommand
		}
		return cmd, nil
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" || rest[0] == '\n' || rest[0] == '\r' {
		return "", ErrEmptyCommand
	}
	return FirstToken(rest), nil
}

// closingQuote returns the index of the quote closing s[0], honouring
// backslash escapes, or -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		case '\n':
			return -1
		}
	}
	return -1
}

// Flag returns the value of an @name:value token in body.
func Flag(body, name string) (string, bool) {
	for _, m := range flagRE.FindAllStringSubmatch(body, -1) {
		if m[1] == name {
			return m[2], true
		}
	}
	return "", false
}

// BoolFlag reads a boolean @name:value token; absent or unparsable is false.
func BoolFlag(body, name string) bool {
	v, ok := Flag(body, name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// IntFlag reads an integer @name:value token.
func IntFlag(body, name string) (int, bool, error) {
	v, ok := Flag(body, name)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("@%s: %w", name, err)
	}
	return n, true, nil
}

// StripFlags removes the known @name:value tokens from body.
func StripFlags(body string) string {
	return strings.TrimSpace(flagRE.ReplaceAllString(body, ""))
}

// FirstToken returns the first whitespace-delimited token of s.
func FirstToken(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
