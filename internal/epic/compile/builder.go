// Package compile turns epic DSL text into a lowered ir.Graph: the graph
// builder, the ordered lowering passes, and post-lowering lint rules.
package compile

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/dsl"
	"github.com/danshapiro/epic/internal/epic/ir"
)

// Build creates one node per section and chains them in source order. The
// first section becomes the graph's first node.
func Build(sections []dsl.Section) (*ir.Graph, error) {
	g := ir.New()
	prev := ir.NoNode
	for _, s := range sections {
		c, err := sectionContents(s)
		if err != nil {
			return nil, err
		}
		n := g.AddNode(c)
		if prev == ir.NoNode {
			if err := g.SetFirst(n.ID); err != nil {
				return nil, err
			}
		} else if err := g.AddEdge(prev, n.ID); err != nil {
			return nil, err
		}
		prev = n.ID
	}
	return g, nil
}

func sectionContents(s dsl.Section) (ir.Contents, error) {
	switch s.Marker {
	case dsl.MarkerTemplate:
		path := dsl.FirstToken(s.Body)
		if path == "" {
			return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: "template path is required"}
		}
		return &ir.TemplateContents{Path: path}, nil
	case dsl.MarkerDocs:
		path := dsl.FirstToken(s.Body)
		if path == "" {
			return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: "docs path is required"}
		}
		return &ir.DocsContents{Path: path}, nil
	case dsl.MarkerPrompt:
		if s.Body == "" {
			return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: "prompt text is required"}
		}
		return &ir.PromptContents{Prompt: s.Body}, nil
	case dsl.MarkerRun:
		cmd, err := dsl.Command(s.Body)
		if err != nil {
			return nil, &MalformedCommandError{Marker: s.Marker, Line: s.Line, Body: s.Body, Err: err}
		}
		return &ir.RunContents{Command: cmd}, nil
	case dsl.MarkerDebugLoop:
		cmd, err := dsl.Command(s.Body)
		if err != nil {
			return nil, &MalformedCommandError{Marker: s.Marker, Line: s.Line, Body: s.Body, Err: err}
		}
		limit, _, err := dsl.IntFlag(s.Body, dsl.FlagMaxIterations)
		if err != nil {
			return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: err.Error()}
		}
		if limit < 0 {
			return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: fmt.Sprintf("@%s must be positive", dsl.FlagMaxIterations)}
		}
		return &ir.DebugLoopContents{
			Command:      cmd,
			ShouldFail:   dsl.BoolFlag(s.Body, dsl.FlagShouldFail),
			IterationMax: limit,
		}, nil
	case dsl.MarkerExit:
		return &ir.ExitContents{}, nil
	default:
		return nil, &SectionError{Marker: s.Marker, Line: s.Line, Reason: "unknown marker"}
	}
}
