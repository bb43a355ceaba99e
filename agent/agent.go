// Package agent executes workflow tasks against LLM-backed agents: it
// filters task context per role, assembles prompts, runs the worker attempt
// and the quality-control verification loop, and classifies failures.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// Runtime is the boundary to an agent backend. Implementations must honor
// ctx cancellation at I/O boundaries.
type Runtime interface {
	Invoke(ctx context.Context, inv Invocation) (*Completion, error)
}

// Agent roles. For LLM-backed runtimes each role maps to a model capability.
const (
	RolePM     = "pm"
	RoleWorker = "worker"
	RoleQC     = "qc"
)

// Invocation is a single agent call.
type Invocation struct {
	// Role is the agent role making the call ("worker", or the task's qcRole).
	Role string

	// Prompt is the fully assembled prompt text.
	Prompt string

	// Model optionally pins a model; empty lets the runtime choose by role.
	Model string
}

// Completion is an agent reply with its usage accounting.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

// FailureClass categorizes agent dispatch failures. The class string is
// carried verbatim into task results and persisted telemetry.
type FailureClass string

const (
	// FailureAgentUnavailable covers transport and backend errors.
	FailureAgentUnavailable FailureClass = "agentUnavailable"

	// FailureAgentTimeout is the per-task deadline expiring.
	FailureAgentTimeout FailureClass = "agentTimeout"

	// FailurePromptTooLarge means the assembled prompt exceeds the model budget.
	FailurePromptTooLarge FailureClass = "promptTooLarge"

	// FailureParseError means the worker reply could not be interpreted.
	FailureParseError FailureClass = "parseError"

	// FailureQCSchemaInvalid means the qc reply violated the verdict schema.
	FailureQCSchemaInvalid FailureClass = "qcSchemaInvalid"
)

// RunError is a classified agent failure.
type RunError struct {
	Class FailureClass
	Err   error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// NewRunError wraps err with a failure class.
func NewRunError(class FailureClass, err error) *RunError {
	return &RunError{Class: class, Err: err}
}

// ClassOf extracts the failure class from an error chain, or "" if the error
// is not a classified agent failure.
func ClassOf(err error) FailureClass {
	var re *RunError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}
