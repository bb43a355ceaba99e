package persist

import (
	"context"
	"fmt"
	"sync"
)

// MemoryNode is one stored node.
type MemoryNode struct {
	Type  string
	Props map[string]any
}

// MemoryEdge is one stored edge.
type MemoryEdge struct {
	From  string
	To    string
	Type  string
	Props map[string]any
}

// MemoryGraph is an in-process Graph used by tests and mock runs. It
// implements the interface's idempotence contract: re-creating a node merges
// props, re-creating an edge is a no-op.
type MemoryGraph struct {
	mu     sync.Mutex
	nodes  map[string]*MemoryNode
	edges  map[string]MemoryEdge
	closed bool
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[string]*MemoryNode),
		edges: make(map[string]MemoryEdge),
	}
}

// CreateNode stores a node keyed by props["id"], merging into any existing
// node with that id.
func (g *MemoryGraph) CreateNode(_ context.Context, nodeType string, props map[string]any) error {
	id, ok := props["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("node props missing string id")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("graph is closed")
	}

	node, exists := g.nodes[id]
	if !exists {
		node = &MemoryNode{Type: nodeType, Props: make(map[string]any, len(props))}
		g.nodes[id] = node
	}
	for k, v := range props {
		node.Props[k] = v
	}
	return nil
}

// UpdateNode merges props into an existing node. Unknown ids are stored
// anyway; the persister may race its own create on a flaky transport.
func (g *MemoryGraph) UpdateNode(_ context.Context, id string, props map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("graph is closed")
	}

	node, exists := g.nodes[id]
	if !exists {
		node = &MemoryNode{Props: map[string]any{"id": id}}
		g.nodes[id] = node
	}
	for k, v := range props {
		node.Props[k] = v
	}
	return nil
}

// CreateEdge stores an edge, ignoring duplicates of the same (from, to, type).
func (g *MemoryGraph) CreateEdge(_ context.Context, from, to, edgeType string, props map[string]any) error {
	key := from + "|" + to + "|" + edgeType

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("graph is closed")
	}

	if _, exists := g.edges[key]; exists {
		return nil
	}
	g.edges[key] = MemoryEdge{From: from, To: to, Type: edgeType, Props: props}
	return nil
}

// Close marks the graph closed; further writes fail.
func (g *MemoryGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Node returns a copy of the node with the given id.
func (g *MemoryGraph) Node(id string) (MemoryNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return MemoryNode{}, false
	}
	props := make(map[string]any, len(node.Props))
	for k, v := range node.Props {
		props[k] = v
	}
	return MemoryNode{Type: node.Type, Props: props}, true
}

// Edges returns all stored edges.
func (g *MemoryGraph) Edges() []MemoryEdge {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]MemoryEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	return out
}

// NodeCount returns the number of stored nodes.
func (g *MemoryGraph) NodeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}
