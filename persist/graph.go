// Package persist writes execution telemetry to a graph database through a
// narrow node/edge interface. Writes are incremental and idempotent, and the
// orchestrator tolerates a fully unavailable graph: persistence failures are
// surfaced as persistError events and logged, never as task or workflow
// failures.
package persist

import "context"

// Graph is the persistence boundary. Implementations must make CreateNode on
// an existing id behave like UpdateNode with the same props, and CreateEdge
// with an identical (from, to, type) triple a no-op.
type Graph interface {
	// CreateNode inserts a node. props carries the node id under "id".
	CreateNode(ctx context.Context, nodeType string, props map[string]any) error

	// UpdateNode merges props into the node with the given id.
	UpdateNode(ctx context.Context, id string, props map[string]any) error

	// CreateEdge links two nodes by id.
	CreateEdge(ctx context.Context, from, to, edgeType string, props map[string]any) error

	// Close releases the implementation's resources.
	Close() error
}

// Node and edge types written by the persister. Names are wire-stable;
// downstream graph consumers query them verbatim.
const (
	NodeExecution     = "orchestration_execution"
	NodeTaskExecution = "task_execution"

	EdgeHasTask    = "HAS_TASK"
	EdgeFailedTask = "FAILED_TASK"
)
