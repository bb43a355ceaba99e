package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Subjects for graph ingestion. The graph service consumes these and applies
// the writes with the idempotence rules of the Graph interface.
const (
	NodeIngestSubject = "graph.ingest.node"
	EdgeIngestSubject = "graph.ingest.edge"
)

// NodeIngest is the wire format for node writes.
type NodeIngest struct {
	Op        string         `json:"op"` // "create" or "update"
	NodeType  string         `json:"nodeType,omitempty"`
	ID        string         `json:"id"`
	Props     map[string]any `json:"props"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// EdgeIngest is the wire format for edge writes.
type EdgeIngest struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	EdgeType  string         `json:"edgeType"`
	Props     map[string]any `json:"props,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NATSGraph publishes graph writes as ingest messages on JetStream. The
// graph service owns the actual database; from the orchestrator's side a
// write is durable once the publish is acknowledged.
type NATSGraph struct {
	js jetstream.JetStream
}

// NewNATSGraph creates a graph backed by the given JetStream context. The
// caller owns the underlying connection.
func NewNATSGraph(js jetstream.JetStream) *NATSGraph {
	return &NATSGraph{js: js}
}

// CreateNode publishes a node create.
func (g *NATSGraph) CreateNode(ctx context.Context, nodeType string, props map[string]any) error {
	id, ok := props["id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("node props missing string id")
	}
	return g.publishNode(ctx, NodeIngest{
		Op:        "create",
		NodeType:  nodeType,
		ID:        id,
		Props:     props,
		UpdatedAt: time.Now(),
	})
}

// UpdateNode publishes a node update.
func (g *NATSGraph) UpdateNode(ctx context.Context, id string, props map[string]any) error {
	return g.publishNode(ctx, NodeIngest{
		Op:        "update",
		ID:        id,
		Props:     props,
		UpdatedAt: time.Now(),
	})
}

func (g *NATSGraph) publishNode(ctx context.Context, msg NodeIngest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal node ingest: %w", err)
	}
	if _, err := g.js.Publish(ctx, NodeIngestSubject, data); err != nil {
		return fmt.Errorf("publish node ingest: %w", err)
	}
	return nil
}

// CreateEdge publishes an edge create.
func (g *NATSGraph) CreateEdge(ctx context.Context, from, to, edgeType string, props map[string]any) error {
	data, err := json.Marshal(EdgeIngest{
		From:      from,
		To:        to,
		EdgeType:  edgeType,
		Props:     props,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal edge ingest: %w", err)
	}
	if _, err := g.js.Publish(ctx, EdgeIngestSubject, data); err != nil {
		return fmt.Errorf("publish edge ingest: %w", err)
	}
	return nil
}

// Close is a no-op; the NATS connection belongs to the caller.
func (g *NATSGraph) Close() error {
	return nil
}
