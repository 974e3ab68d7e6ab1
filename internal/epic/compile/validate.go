package compile

import (
	"fmt"
	"strings"

	"github.com/danshapiro/epic/internal/epic/ir"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

type Diagnostic struct {
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	NodeID   ir.NodeID `json:"node_id"`
}

func (d Diagnostic) String() string {
	if d.NodeID == ir.NoNode {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Rule, d.Message)
	}
	return fmt.Sprintf("%s %s (node %d): %s", d.Severity, d.Rule, d.NodeID, d.Message)
}

// Validate lints a lowered graph.
func Validate(g *ir.Graph) []Diagnostic {
	if g == nil {
		return []Diagnostic{{Rule: "graph_nil", Severity: SeverityError, Message: "graph is nil", NodeID: ir.NoNode}}
	}
	var diags []Diagnostic
	diags = append(diags, lintFirstNode(g)...)
	diags = append(diags, lintDebugLoopLowered(g)...)
	diags = append(diags, lintExitReachable(g)...)
	diags = append(diags, lintSuccessorRequired(g)...)
	diags = append(diags, lintExitNoOutgoing(g)...)
	diags = append(diags, lintRunCommand(g)...)
	diags = append(diags, lintConditionals(g)...)
	diags = append(diags, lintFixRunRef(g)...)
	diags = append(diags, lintPromptRunRefs(g)...)
	diags = append(diags, lintReachability(g)...)
	return diags
}

// ValidateOrError returns a *ValidationError when any diagnostic is an error.
func ValidateOrError(g *ir.Graph) ([]Diagnostic, error) {
	diags := Validate(g)
	for _, d := range diags {
		if d.Severity == SeverityError {
			return diags, &ValidationError{Diagnostics: diags}
		}
	}
	return diags, nil
}

func errorAt(rule string, id ir.NodeID, format string, args ...any) Diagnostic {
	return Diagnostic{Rule: rule, Severity: SeverityError, NodeID: id, Message: fmt.Sprintf(format, args...)}
}

func warningAt(rule string, id ir.NodeID, format string, args ...any) Diagnostic {
	return Diagnostic{Rule: rule, Severity: SeverityWarning, NodeID: id, Message: fmt.Sprintf(format, args...)}
}

func lintFirstNode(g *ir.Graph) []Diagnostic {
	if !g.Has(g.First()) {
		return []Diagnostic{errorAt("first_node", ir.NoNode, "graph has no first node")}
	}
	return nil
}

func lintDebugLoopLowered(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpDebugLoop) {
		diags = append(diags, errorAt("debug_loop_lowered", n.ID, "DEBUG_LOOP survived lowering"))
	}
	return diags
}

func lintExitReachable(g *ir.Graph) []Diagnostic {
	if !g.Has(g.First()) {
		return nil
	}
	for _, id := range g.Reachable() {
		if g.Node(id).Op == ir.OpExit {
			return nil
		}
	}
	return []Diagnostic{errorAt("exit_reachable", ir.NoNode, "no EXIT node is reachable from node %d", g.First())}
}

func lintSuccessorRequired(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, id := range g.Reachable() {
		n := g.Node(id)
		if n.Op != ir.OpExit && len(g.Successors(id)) == 0 {
			diags = append(diags, errorAt("successor_required", id, "%s node has no successor", n.Op))
		}
	}
	return diags
}

func lintExitNoOutgoing(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpExit) {
		if succ := g.Successors(n.ID); len(succ) > 0 {
			diags = append(diags, warningAt("exit_no_outgoing", n.ID, "EXIT has outgoing edges to %v", succ))
		}
	}
	return diags
}

func lintRunCommand(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpRun) {
		rc, err := ir.As[*ir.RunContents](n)
		if err != nil || strings.TrimSpace(rc.Command) == "" {
			diags = append(diags, errorAt("run_command", n.ID, "RUN node has no command"))
		}
	}
	return diags
}

func lintConditionals(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpConditional) {
		cc, err := ir.As[*ir.ConditionalContents](n)
		if err != nil {
			diags = append(diags, errorAt("conditional_contents", n.ID, "%v", err))
			continue
		}
		if ref := g.Node(cc.RunNodeID); ref == nil || ref.Op != ir.OpRun {
			diags = append(diags, errorAt("conditional_run_ref", n.ID, "run_node_id %d does not name a RUN node", cc.RunNodeID))
		}
		succ := g.Successors(n.ID)
		for _, target := range []struct {
			name string
			id   ir.NodeID
		}{{"true_node_target", cc.TrueTarget}, {"false_node_target", cc.FalseTarget}} {
			if !g.Has(target.id) {
				diags = append(diags, errorAt("conditional_targets", n.ID, "%s %d does not exist", target.name, target.id))
				continue
			}
			if !hasID(succ, target.id) {
				diags = append(diags, warningAt("conditional_targets", n.ID, "%s %d is not a successor", target.name, target.id))
			}
		}
		if cc.IterationMax <= 0 {
			diags = append(diags, errorAt("conditional_iteration_max", n.ID, "iteration_max must be positive (got %d)", cc.IterationMax))
		}
	}
	return diags
}

func lintFixRunRef(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpFix) {
		fc, err := ir.As[*ir.FixContents](n)
		if err != nil {
			diags = append(diags, errorAt("fix_run_ref", n.ID, "%v", err))
			continue
		}
		if ref := g.Node(fc.RunRef); ref == nil || ref.Op != ir.OpRun {
			diags = append(diags, errorAt("fix_run_ref", n.ID, "run_ref %d does not name a RUN node", fc.RunRef))
		}
	}
	return diags
}

func lintPromptRunRefs(g *ir.Graph) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.NodesOf(ir.OpPrompt) {
		pc, err := ir.As[*ir.PromptContents](n)
		if err != nil {
			continue
		}
		for _, id := range pc.RunRefs {
			if ref := g.Node(id); ref == nil || ref.Op != ir.OpRun {
				diags = append(diags, warningAt("prompt_run_refs", n.ID, "@run_ref:%d does not name a RUN node", id))
			}
		}
	}
	return diags
}

func lintReachability(g *ir.Graph) []Diagnostic {
	reach := map[ir.NodeID]bool{}
	for _, id := range g.Reachable() {
		reach[id] = true
	}
	var diags []Diagnostic
	for _, n := range g.Nodes() {
		if n.Op == ir.OpReadOnly || reach[n.ID] {
			continue
		}
		diags = append(diags, warningAt("reachability", n.ID, "%s node is not reachable from the first node", n.Op))
	}
	return diags
}

func hasID(ids []ir.NodeID, id ir.NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
