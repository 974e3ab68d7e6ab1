package ir

import (
	"fmt"
	"sort"
)

// NodeID indexes a node in its graph's arena. IDs are assigned in creation
// order and never reused, even after the node is removed.
type NodeID int

// NoNode marks an absent node reference.
const NoNode NodeID = -1

func (id NodeID) Valid() bool { return id >= 0 }

type Node struct {
	ID       NodeID
	Op       Opcode
	Contents Contents
}

type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Graph is an arena of nodes plus adjacency lists. Successor order is the
// order edges were added and is significant to traversal.
type Graph struct {
	nodes []*Node
	succ  [][]NodeID
	pred  [][]NodeID
	first NodeID
}

func New() *Graph { return &Graph{first: NoNode} }

// AddNode allocates a node for c and returns it. The opcode comes from c.
func (g *Graph) AddNode(c Contents) *Node {
	if c == nil {
		c = &ExitContents{}
	}
	n := &Node{ID: NodeID(len(g.nodes)), Op: c.Opcode(), Contents: c}
	g.nodes = append(g.nodes, n)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	return n
}

// Node returns the node with id, or nil when it does not exist.
func (g *Graph) Node(id NodeID) *Node {
	if g == nil || id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

func (g *Graph) Has(id NodeID) bool { return g.Node(id) != nil }

// Len reports the number of live nodes.
func (g *Graph) Len() int {
	n := 0
	for _, node := range g.nodes {
		if node != nil {
			n++
		}
	}
	return n
}

// NextID is the id the next AddNode call will assign.
func (g *Graph) NextID() NodeID { return NodeID(len(g.nodes)) }

// Nodes returns the live nodes in id order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// NodesOf returns the live nodes with opcode op in id order.
func (g *Graph) NodesOf(op Opcode) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n != nil && n.Op == op {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) First() NodeID { return g.first }

func (g *Graph) SetFirst(id NodeID) error {
	if id != NoNode && !g.Has(id) {
		return fmt.Errorf("first node %d does not exist", id)
	}
	g.first = id
	return nil
}

// AddEdge adds from -> to. Adding an edge that already exists is a no-op.
func (g *Graph) AddEdge(from, to NodeID) error {
	if !g.Has(from) {
		return fmt.Errorf("edge %d -> %d: source does not exist", from, to)
	}
	if !g.Has(to) {
		return fmt.Errorf("edge %d -> %d: target does not exist", from, to)
	}
	if indexOf(g.succ[from], to) >= 0 {
		return nil
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
	return nil
}

// RemoveEdge deletes from -> to if present.
func (g *Graph) RemoveEdge(from, to NodeID) {
	if !g.Has(from) || !g.Has(to) {
		return
	}
	g.succ[from] = without(g.succ[from], to)
	g.pred[to] = without(g.pred[to], from)
}

// RemoveNode deletes id and every edge touching it. The id is not reused.
func (g *Graph) RemoveNode(id NodeID) error {
	if !g.Has(id) {
		return fmt.Errorf("remove node %d: does not exist", id)
	}
	for _, s := range g.succ[id] {
		g.pred[s] = without(g.pred[s], id)
	}
	for _, p := range g.pred[id] {
		g.succ[p] = without(g.succ[p], id)
	}
	g.nodes[id] = nil
	g.succ[id] = nil
	g.pred[id] = nil
	if g.first == id {
		g.first = NoNode
	}
	return nil
}

// Successors returns a copy of id's successors in edge insertion order.
func (g *Graph) Successors(id NodeID) []NodeID {
	if !g.Has(id) {
		return nil
	}
	return append([]NodeID(nil), g.succ[id]...)
}

// Predecessors returns a copy of id's predecessors.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	if !g.Has(id) {
		return nil
	}
	return append([]NodeID(nil), g.pred[id]...)
}

// Edges lists every edge grouped by source id, in successor order.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for from, tos := range g.succ {
		if g.nodes[from] == nil {
			continue
		}
		for _, to := range tos {
			out = append(out, Edge{From: NodeID(from), To: to})
		}
	}
	return out
}

// Reachable returns the nodes reachable from the first node in breadth-first
// order, following successor edges in insertion order.
func (g *Graph) Reachable() []NodeID {
	if g == nil || !g.Has(g.first) {
		return nil
	}
	seen := map[NodeID]bool{g.first: true}
	order := []NodeID{g.first}
	for i := 0; i < len(order); i++ {
		for _, s := range g.succ[order[i]] {
			if !seen[s] {
				seen[s] = true
				order = append(order, s)
			}
		}
	}
	return order
}

// Clone returns a deep copy of g, contents included.
func (g *Graph) Clone() (*Graph, error) {
	doc, err := g.Document()
	if err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

// SortIDs sorts ids ascending in place and returns them.
func SortIDs(ids []NodeID) []NodeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func indexOf(ids []NodeID, id NodeID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func without(ids []NodeID, id NodeID) []NodeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
