package ir

import (
	"encoding/json"
	"fmt"
)

// Document is the serialized form of a Graph: a full node and edge dump.
type Document struct {
	FirstNode NodeID         `json:"first_node"`
	NextID    NodeID         `json:"next_id"`
	Nodes     []NodeDocument `json:"nodes"`
	Edges     []Edge         `json:"edges"`
}

type NodeDocument struct {
	ID       NodeID          `json:"id"`
	Opcode   Opcode          `json:"opcode"`
	Contents json.RawMessage `json:"contents"`
}

// Document snapshots g. Contents are encoded, so later mutation of g does not
// affect the returned value.
func (g *Graph) Document() (Document, error) {
	doc := Document{FirstNode: g.first, NextID: g.NextID(), Nodes: []NodeDocument{}, Edges: g.Edges()}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	for _, n := range g.Nodes() {
		raw, err := json.Marshal(n.Contents)
		if err != nil {
			return Document{}, fmt.Errorf("encode node %d contents: %w", n.ID, err)
		}
		doc.Nodes = append(doc.Nodes, NodeDocument{ID: n.ID, Opcode: n.Op, Contents: raw})
	}
	return doc, nil
}

// FromDocument rebuilds a graph with the same ids, contents and successor order.
func FromDocument(doc Document) (*Graph, error) {
	next := doc.NextID
	for _, nd := range doc.Nodes {
		if nd.ID >= next {
			next = nd.ID + 1
		}
	}
	g := &Graph{
		nodes: make([]*Node, next),
		succ:  make([][]NodeID, next),
		pred:  make([][]NodeID, next),
		first: NoNode,
	}
	for _, nd := range doc.Nodes {
		if nd.ID < 0 {
			return nil, fmt.Errorf("node id %d is negative", nd.ID)
		}
		if g.nodes[nd.ID] != nil {
			return nil, fmt.Errorf("duplicate node id %d", nd.ID)
		}
		if !nd.Opcode.Valid() {
			return nil, fmt.Errorf("node %d: unknown opcode %q", nd.ID, nd.Opcode)
		}
		c, err := DecodeContents(nd.Opcode, nd.Contents)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", nd.ID, err)
		}
		g.nodes[nd.ID] = &Node{ID: nd.ID, Op: nd.Opcode, Contents: c}
	}
	for _, e := range doc.Edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	if err := g.SetFirst(doc.FirstNode); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	doc, err := g.Document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (g *Graph) UnmarshalJSON(b []byte) error {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	out, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*g = *out
	return nil
}
