package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// Execution is what a handler sees while processing one node. Handlers
// mutate node contents in place through Graph and memory through State.
type Execution struct {
	Engine *Engine
	State  *runtime.State
	Graph  *ir.Graph
	Step   int
	Logger *zap.Logger
}

// Handler processes one node and says how the traversal continues.
type Handler interface {
	Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error)
}

type HandlerFunc func(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error)

func (f HandlerFunc) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	return f(ctx, exec, node)
}

type HandlerRegistry struct {
	handlers map[ir.Opcode]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[ir.Opcode]Handler{}}
}

// NewDefaultRegistry registers the built-in handler for every executable
// opcode.
func NewDefaultRegistry() *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register(ir.OpTemplate, &TemplateHandler{})
	reg.Register(ir.OpDocs, &DocsHandler{})
	reg.Register(ir.OpReadOnly, &ReadOnlyHandler{})
	reg.Register(ir.OpPrompt, &PromptHandler{})
	reg.Register(ir.OpRun, &RunHandler{})
	reg.Register(ir.OpConditional, &ConditionalHandler{})
	reg.Register(ir.OpFix, &FixHandler{})
	reg.Register(ir.OpExit, &ExitHandler{})
	return reg
}

func (r *HandlerRegistry) Register(op ir.Opcode, h Handler) {
	if r.handlers == nil {
		r.handlers = map[ir.Opcode]Handler{}
	}
	r.handlers[op] = h
}

func (r *HandlerRegistry) Resolve(op ir.Opcode) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[op]
	return h, ok && h != nil
}

// KnownOpcodes returns the registered opcodes, sorted.
func (r *HandlerRegistry) KnownOpcodes() []ir.Opcode {
	if r == nil {
		return nil
	}
	out := make([]ir.Opcode, 0, len(r.handlers))
	for op := range r.handlers {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate fails unless every executable opcode has a handler. DEBUG_LOOP is
// lowered away before execution and must not be registered.
func (r *HandlerRegistry) Validate() error {
	var missing []ir.Opcode
	for _, op := range ir.ExecutableOpcodes() {
		if _, ok := r.Resolve(op); !ok {
			missing = append(missing, op)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for %v", missing)
	}
	if _, ok := r.Resolve(ir.OpDebugLoop); ok {
		return fmt.Errorf("%s is lowered before execution and cannot have a handler", ir.OpDebugLoop)
	}
	return nil
}
