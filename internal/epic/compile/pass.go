package compile

import (
	"fmt"

	"github.com/danshapiro/epic/internal/epic/ir"
)

// Pass is a total graph rewrite applied between building and validation.
// Every pass must be safe to apply again to its own output.
type Pass interface {
	ID() string
	Apply(g *ir.Graph) error
}

// Registry stores passes to apply in registration order.
type Registry struct {
	passes []Pass
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(p Pass) {
	if r == nil || p == nil {
		return
	}
	r.passes = append(r.passes, p)
}

func (r *Registry) List() []Pass {
	if r == nil || len(r.passes) == 0 {
		return nil
	}
	return append([]Pass{}, r.passes...)
}

// DefaultIterationMax bounds a lowered debug loop unless overridden.
const DefaultIterationMax = 5

// DefaultRegistry returns the standard lowering pipeline. iterationMax <= 0
// selects DefaultIterationMax.
func DefaultRegistry(iterationMax int) *Registry {
	if iterationMax <= 0 {
		iterationMax = DefaultIterationMax
	}
	r := NewRegistry()
	r.Register(InsertExit{})
	r.Register(LowerDebugLoop{IterationMax: iterationMax})
	r.Register(LowerFileRefs{})
	r.Register(ProcessReadOnly{})
	return r
}

// Lower applies every pass in r to g and returns the ids of the passes run.
func Lower(g *ir.Graph, r *Registry) ([]string, error) {
	var applied []string
	for _, p := range r.List() {
		if err := p.Apply(g); err != nil {
			return applied, fmt.Errorf("pass %s: %w", p.ID(), err)
		}
		applied = append(applied, p.ID())
	}
	return applied, nil
}
