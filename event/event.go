// Package event provides the orchestrator's progress event model and an
// in-process multi-subscriber bus. Publishing never blocks: each
// subscription owns a bounded buffer and slow consumers lose the oldest
// buffered events, with the loss surfaced on the next delivered event.
package event

import "time"

// Kind names an orchestration event. Values are wire-stable.
type Kind string

// Event kinds emitted during a workflow execution.
const (
	KindWorkflowStarted   Kind = "workflowStarted"
	KindTaskStarted       Kind = "taskStarted"
	KindTaskProgress      Kind = "taskProgress"
	KindTaskCompleted     Kind = "taskCompleted"
	KindTaskFailed        Kind = "taskFailed"
	KindQCStarted         Kind = "qcStarted"
	KindQCCompleted       Kind = "qcCompleted"
	KindArtifactCaptured  Kind = "artifactCaptured"
	KindWorkflowCompleted Kind = "workflowCompleted"
	KindWorkflowCancelled Kind = "workflowCancelled"
	KindPersistError      Kind = "persistError"
)

// Event is one progress notification for an execution.
type Event struct {
	// ExecutionID is the execution this event belongs to.
	ExecutionID string `json:"executionId"`

	// Kind identifies what happened.
	Kind Kind `json:"kind"`

	// TaskID is set for task-scoped kinds.
	TaskID string `json:"taskId,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries kind-specific data.
	Payload map[string]any `json:"payload,omitempty"`

	// Dropped is the number of events this subscription lost since its
	// previous delivery. Zero on lossless delivery.
	Dropped int64 `json:"dropped,omitempty"`
}
