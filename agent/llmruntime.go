package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

// DefaultMaxPromptBytes bounds the prompt sent to an agent. Retry feedback
// grows prompts across attempts; past this point the invocation fails as
// promptTooLarge instead of silently truncating context.
const DefaultMaxPromptBytes = 256 * 1024

// completer is the slice of llm.Client the runtime depends on.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// LLMRuntime executes agent invocations against the LLM client. The agent
// role selects the model capability (pm plans, worker codes, qc reviews) and
// a task-level model recommendation, when present, pins the model.
type LLMRuntime struct {
	client         completer
	maxPromptBytes int
	temperature    float64
	maxTokens      int
	logger         *slog.Logger
}

// LLMRuntimeOption configures an LLMRuntime.
type LLMRuntimeOption func(*LLMRuntime)

// WithMaxPromptBytes overrides the prompt size limit. Zero disables the check.
func WithMaxPromptBytes(n int) LLMRuntimeOption {
	return func(r *LLMRuntime) {
		r.maxPromptBytes = n
	}
}

// WithTemperature sets the sampling temperature for agent calls.
func WithTemperature(t float64) LLMRuntimeOption {
	return func(r *LLMRuntime) {
		r.temperature = t
	}
}

// WithMaxTokens sets the completion token limit for agent calls.
func WithMaxTokens(n int) LLMRuntimeOption {
	return func(r *LLMRuntime) {
		r.maxTokens = n
	}
}

// WithRuntimeLogger sets the logger.
func WithRuntimeLogger(logger *slog.Logger) LLMRuntimeOption {
	return func(r *LLMRuntime) {
		r.logger = logger
	}
}

// NewLLMRuntime creates a runtime backed by the given LLM client.
func NewLLMRuntime(client completer, opts ...LLMRuntimeOption) *LLMRuntime {
	r := &LLMRuntime{
		client:         client,
		maxPromptBytes: DefaultMaxPromptBytes,
		temperature:    0.2,
		maxTokens:      4096,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Invoke sends the invocation prompt as a single user message and returns the
// completion. Errors carry a failure class: oversized prompts are
// promptTooLarge, deadline expiry is agentTimeout, transport and provider
// failures are agentUnavailable. Cancellation propagates unclassified.
func (r *LLMRuntime) Invoke(ctx context.Context, inv Invocation) (*Completion, error) {
	if r.maxPromptBytes > 0 && len(inv.Prompt) > r.maxPromptBytes {
		return nil, NewRunError(FailurePromptTooLarge,
			fmt.Errorf("prompt is %d bytes, limit is %d", len(inv.Prompt), r.maxPromptBytes))
	}

	capability := model.CapabilityForRole(inv.Role)
	temp := r.temperature

	r.logger.Debug("Invoking agent",
		"role", inv.Role,
		"capability", capability,
		"model", inv.Model,
		"prompt_bytes", len(inv.Prompt))

	resp, err := r.client.Complete(ctx, llm.Request{
		Capability:  string(capability),
		Messages:    []llm.Message{{Role: "user", Content: inv.Prompt}},
		Temperature: &temp,
		MaxTokens:   r.maxTokens,
		Model:       inv.Model,
	})
	if err != nil {
		return nil, classifyInvokeError(ctx, err)
	}

	return &Completion{
		Text:         resp.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classifyInvokeError maps client errors onto agent failure classes.
// Cancellation is returned as-is so callers can distinguish a cancelled
// workflow from an agent fault.
func classifyInvokeError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded:
		return NewRunError(FailureAgentTimeout, err)
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		return err
	default:
		return NewRunError(FailureAgentUnavailable, err)
	}
}
