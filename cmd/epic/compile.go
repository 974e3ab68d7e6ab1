package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danshapiro/epic/internal/epic/compile"
	"github.com/danshapiro/epic/internal/epic/ir"
)

func (a *app) compileCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compile <dsl-file>",
		Short: "Compile a workflow and print the lowered graph",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := compile.Compile(string(src), compile.Options{IterationMax: a.config.Loop.IterationMax})
			if err != nil {
				var ve *compile.ValidationError
				if errors.As(err, &ve) {
					for _, d := range ve.Diagnostics {
						fmt.Fprintln(a.stderr, d.String())
					}
				}
				return err
			}
			if asJSON {
				return writeCompileJSON(a.stdout, res)
			}
			writeCompileText(a.stdout, args[0], res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the graph document as JSON")
	return cmd
}

func writeCompileJSON(w io.Writer, res *compile.Result) error {
	diags := res.Diagnostics
	if diags == nil {
		diags = []compile.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"graph":       res.Graph,
		"passes":      res.Passes,
		"diagnostics": diags,
	})
}

func writeCompileText(w io.Writer, name string, res *compile.Result) {
	g := res.Graph
	fmt.Fprintf(w, "ok: %s (%d nodes, first n%d)\n", name, g.Len(), g.First())
	fmt.Fprintf(w, "passes: %s\n", strings.Join(res.Passes, ", "))
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		succ := make([]string, 0)
		for _, s := range g.Successors(n.ID) {
			succ = append(succ, fmt.Sprintf("n%d", s))
		}
		fmt.Fprintf(w, "  n%d %-11s %s -> [%s]\n", n.ID, n.Op, describe(n), strings.Join(succ, " "))
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintln(w, d.String())
	}
}

// describe renders the interesting contents of a node on one line.
func describe(n *ir.Node) string {
	switch c := n.Contents.(type) {
	case *ir.TemplateContents:
		return c.Path
	case *ir.DocsContents:
		return c.Path
	case *ir.ReadOnlyContents:
		return c.Path
	case *ir.PromptContents:
		p := strings.Join(strings.Fields(c.Prompt), " ")
		if len(p) > 48 {
			p = p[:45] + "..."
		}
		return fmt.Sprintf("%q", p)
	case *ir.RunContents:
		return fmt.Sprintf("%q", c.Command)
	case *ir.ConditionalContents:
		return fmt.Sprintf("run=n%d true=n%d false=n%d max=%d", c.RunNodeID, c.TrueTarget, c.FalseTarget, c.IterationMax)
	case *ir.FixContents:
		return fmt.Sprintf("run=n%d", c.RunRef)
	default:
		return ""
	}
}
