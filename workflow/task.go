// Package workflow defines the orchestrator's domain model: workflow and
// task definitions as submitted by callers, execution results, captured
// artifacts, and the context views handed to agents. Types here carry the
// wire names downstream consumers depend on; loaders reject unknown fields.
package workflow

import "fmt"

// DefaultMaxRetries is the retry budget applied when a task omits maxRetries.
const DefaultMaxRetries = 2

// Task is one node of a workflow DAG. Tasks are immutable for the duration
// of an execution.
type Task struct {
	// ID uniquely identifies the task within its workflow.
	ID string `json:"id" yaml:"id"`

	// Title is the human-readable task name.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Prompt is the user-facing instruction handed to the worker agent.
	Prompt string `json:"prompt" yaml:"prompt"`

	// Dependencies lists task ids that must complete before this task runs.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// AgentRoleDescription shapes the worker preamble when present.
	AgentRoleDescription string `json:"agentRoleDescription,omitempty" yaml:"agentRoleDescription,omitempty"`

	// QCRole enables quality-control verification when non-empty and shapes
	// the QC preamble.
	QCRole string `json:"qcRole,omitempty" yaml:"qcRole,omitempty"`

	// VerificationCriteria are the ordered acceptance checks the QC agent
	// applies to the worker output.
	VerificationCriteria []string `json:"verificationCriteria,omitempty" yaml:"verificationCriteria,omitempty"`

	// MaxRetries bounds additional attempts after the first. Nil means the
	// default of 2.
	MaxRetries *int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`

	// RecommendedModel is passed opaquely to the agent runtime.
	RecommendedModel string `json:"recommendedModel,omitempty" yaml:"recommendedModel,omitempty"`
}

// QCEnabled reports whether this task runs the QC verification loop.
func (t *Task) QCEnabled() bool {
	return t.QCRole != ""
}

// RetryBudget returns the effective maxRetries value.
func (t *Task) RetryBudget() int {
	if t.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *t.MaxRetries
}

// MaxAttempts returns the attempt bound: maxRetries + 1.
func (t *Task) MaxAttempts() int {
	return t.RetryBudget() + 1
}

// Validate checks the task in isolation. Cross-task checks (dependency
// references, cycles) belong to Workflow.Validate.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if t.Prompt == "" {
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("task %s: prompt is required", t.ID)}
	}
	if t.MaxRetries != nil && *t.MaxRetries < 0 {
		return &ValidationError{Field: "maxRetries", Message: fmt.Sprintf("task %s: maxRetries must be >= 0", t.ID)}
	}
	return nil
}

// ValidationError reports a single invalid field in a submitted workflow.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
