package workflow

import "encoding/json"

// FullContext is the unfiltered project context assembled for a task. Only
// the pm view sees all of it; worker and qc views are reduced by the context
// filter before any agent call.
type FullContext struct {
	TaskID       string   `json:"taskId"`
	Title        string   `json:"title,omitempty"`
	Requirements string   `json:"requirements,omitempty"`
	Description  string   `json:"description,omitempty"`
	Files        []string `json:"files,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`

	// Research, PlanningNotes, AllFiles, and FullSubgraph are the bulk
	// fields the worker and qc views drop.
	Research      string          `json:"research,omitempty"`
	PlanningNotes string          `json:"planningNotes,omitempty"`
	AllFiles      []string        `json:"allFiles,omitempty"`
	FullSubgraph  json.RawMessage `json:"fullSubgraph,omitempty"`

	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (c *FullContext) Clone() FullContext {
	out := *c
	out.Files = append([]string(nil), c.Files...)
	out.Dependencies = append([]string(nil), c.Dependencies...)
	out.AllFiles = append([]string(nil), c.AllFiles...)
	out.FullSubgraph = append(json.RawMessage(nil), c.FullSubgraph...)
	return out
}

// WorkerContext is the reduced view a worker agent receives: identity and
// operational fields only, with capped collections.
type WorkerContext struct {
	TaskID       string   `json:"taskId"`
	Title        string   `json:"title,omitempty"`
	Requirements string   `json:"requirements,omitempty"`
	Description  string   `json:"description,omitempty"`
	Files        []string `json:"files,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Status       string   `json:"status,omitempty"`
	Priority     string   `json:"priority,omitempty"`

	// AttemptNumber and ErrorContext are present only on retry attempts.
	AttemptNumber int    `json:"attemptNumber,omitempty"`
	ErrorContext  string `json:"errorContext,omitempty"`
}

// QCContext is the worker view plus the fields a QC agent needs to verify
// the worker's output.
type QCContext struct {
	WorkerContext

	OriginalRequirements string   `json:"originalRequirements,omitempty"`
	VerificationCriteria []string `json:"verificationCriteria,omitempty"`
	WorkerOutput         string   `json:"workerOutput"`
}
