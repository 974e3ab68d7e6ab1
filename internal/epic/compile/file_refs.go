package compile

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/danshapiro/epic/internal/epic/ir"
)

var (
	refPatterns = func() map[ir.RefKind]*regexp.Regexp {
		m := make(map[ir.RefKind]*regexp.Regexp)
		for _, k := range ir.RefKinds() {
			m[k] = regexp.MustCompile(`@` + regexp.QuoteMeta(string(k)) + `:(\S+)`)
		}
		return m
	}()
	runRefPattern = regexp.MustCompile(`@run_ref:(\S+)`)
)

// LowerFileRefs records the @docs:, @template:, @code:, @run_logs: and
// @run_ref: references of every PROMPT node. It only records intent and never
// touches the filesystem. Repeated application merges into existing lists.
type LowerFileRefs struct{}

func (LowerFileRefs) ID() string { return "lower_file_refs" }

func (LowerFileRefs) Apply(g *ir.Graph) error {
	for _, n := range g.NodesOf(ir.OpPrompt) {
		pc, err := ir.As[*ir.PromptContents](n)
		if err != nil {
			return err
		}
		for _, k := range ir.RefKinds() {
			list := pc.Refs(k)
			*list = mergeUnique(*list, ScanRefs(pc.Prompt, k))
		}
		ids, err := scanRunRefs(pc.Prompt)
		if err != nil {
			return fmt.Errorf("node %d: %w", n.ID, err)
		}
		pc.RunRefs = mergeUnique(pc.RunRefs, ids)
	}
	return nil
}

// ScanRefs returns the paths referenced as @kind:path in text, de-duplicated
// in first-seen order.
func ScanRefs(text string, kind ir.RefKind) []string {
	re, ok := refPatterns[kind]
	if !ok {
		return nil
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return mergeUnique(nil, out)
}

func scanRunRefs(text string) ([]ir.NodeID, error) {
	var out []ir.NodeID
	for _, m := range runRefPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("@run_ref:%s is not a node id", m[1])
		}
		out = append(out, ir.NodeID(id))
	}
	return out, nil
}

func mergeUnique[T comparable](existing, add []T) []T {
	if len(existing) == 0 && len(add) == 0 {
		return existing
	}
	seen := make(map[T]bool, len(existing)+len(add))
	out := make([]T, 0, len(existing)+len(add))
	for _, list := range [][]T{existing, add} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
