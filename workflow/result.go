package workflow

// ResultStatus is the terminal outcome of one task.
type ResultStatus string

// Task result statuses as persisted downstream.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
)

// TokenUsage carries the token counts reported by the agent runtime.
// Counts are non-negative; zero when the runtime reports nothing.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// QCVerification is the structured verdict a QC agent returns for one
// worker attempt.
type QCVerification struct {
	// Passed is the QC agent's binary verdict.
	Passed bool `json:"passed"`

	// Score grades the output 0..100. Acceptance requires Passed and a
	// score of at least 70.
	Score int `json:"score"`

	// Feedback is free-form guidance carried into the retry prompt.
	Feedback string `json:"feedback,omitempty"`

	// Issues itemizes problems found.
	Issues []string `json:"issues,omitempty"`

	// RequiredFixes lists changes the next attempt must make.
	RequiredFixes []string `json:"requiredFixes,omitempty"`
}

// ExecutionResult is the terminal record of one task: produced once per
// task, after the final attempt.
type ExecutionResult struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"taskId"`

	// Status is success or failure.
	Status ResultStatus `json:"status"`

	// Output is the worker's final free-form output.
	Output string `json:"output,omitempty"`

	// Error describes the failure when Status is failure.
	Error string `json:"error,omitempty"`

	// Duration is the task's wall-clock dispatch time in milliseconds,
	// covering every attempt.
	Duration int64 `json:"duration"`

	// AttemptNumber is the 1-based attempt that produced this result.
	AttemptNumber int `json:"attemptNumber"`

	// Tokens aggregates runtime-reported token counts across attempts.
	Tokens TokenUsage `json:"tokens"`

	// ToolCalls aggregates runtime-reported tool invocations across attempts.
	ToolCalls int `json:"toolCalls"`

	// QCVerification is the last QC verdict, when QC ran.
	QCVerification *QCVerification `json:"qcVerification,omitempty"`
}

// Succeeded reports whether the task ended in success.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == ResultSuccess
}
