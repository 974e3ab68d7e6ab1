package compile

import (
	"regexp"

	"github.com/danshapiro/epic/internal/epic/ir"
)

var readOnlyPattern = regexp.MustCompile(`(?:^|\s)/RO[ \t]+(\S+)`)

// ProcessReadOnly handles the older inline "/RO <folder>" syntax. Each folder
// becomes a READ_ONLY node with an edge into the prompt that mentions it and
// is listed under the prompt's ro_folder. The edge expresses a dependency,
// so READ_ONLY nodes are never reached by traversal.
type ProcessReadOnly struct{}

func (ProcessReadOnly) ID() string { return "process_read_only" }

func (ProcessReadOnly) Apply(g *ir.Graph) error {
	for _, n := range g.NodesOf(ir.OpPrompt) {
		pc, err := ir.As[*ir.PromptContents](n)
		if err != nil {
			return err
		}
		for _, m := range readOnlyPattern.FindAllStringSubmatch(pc.Prompt, -1) {
			token := m[1]
			if contains(pc.ROFolder, token) {
				continue
			}
			ro := g.AddNode(&ir.ReadOnlyContents{Path: token})
			if err := g.AddEdge(ro.ID, n.ID); err != nil {
				return err
			}
			pc.ROFolder = append(pc.ROFolder, token)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
