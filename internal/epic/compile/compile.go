package compile

import (
	"github.com/danshapiro/epic/internal/epic/dsl"
	"github.com/danshapiro/epic/internal/epic/ir"
)

type Options struct {
	// Markers overrides dsl.DefaultMarkers.
	Markers []dsl.Marker
	// IterationMax bounds lowered debug loops; <= 0 selects DefaultIterationMax.
	IterationMax int
	// Passes overrides the default lowering pipeline.
	Passes *Registry
}

type Result struct {
	Graph       *ir.Graph
	Sections    []dsl.Section
	Passes      []string
	Diagnostics []Diagnostic
}

// Compile parses src, builds the initial graph, lowers it and validates the
// result. Warnings are returned in Result.Diagnostics; errors fail the call.
func Compile(src string, opts Options) (*Result, error) {
	markers := opts.Markers
	if len(markers) == 0 {
		markers = dsl.DefaultMarkers
	}
	sections := dsl.Parse(src, markers)
	g, err := Build(sections)
	if err != nil {
		return nil, err
	}
	reg := opts.Passes
	if reg == nil {
		reg = DefaultRegistry(opts.IterationMax)
	}
	applied, err := Lower(g, reg)
	if err != nil {
		return nil, err
	}
	diags, err := ValidateOrError(g)
	res := &Result{Graph: g, Sections: sections, Passes: applied, Diagnostics: diags}
	if err != nil {
		return res, err
	}
	return res, nil
}
