package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/llm"
)

type fakeCompleter struct {
	lastRequest llm.Request
	response    *llm.Response
	err         error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.response, nil
}

func TestLLMRuntimeInvoke(t *testing.T) {
	fc := &fakeCompleter{
		response: &llm.Response{
			Content: "done",
			Usage:   llm.TokenUsage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
		},
	}
	rt := NewLLMRuntime(fc)

	comp, err := rt.Invoke(context.Background(), Invocation{
		Role:   RoleWorker,
		Prompt: "do the thing",
		Model:  "claude-sonnet",
	})
	require.NoError(t, err)

	assert.Equal(t, "done", comp.Text)
	assert.Equal(t, 12, comp.InputTokens)
	assert.Equal(t, 7, comp.OutputTokens)

	assert.Equal(t, "coding", fc.lastRequest.Capability)
	assert.Equal(t, "claude-sonnet", fc.lastRequest.Model)
	require.Len(t, fc.lastRequest.Messages, 1)
	assert.Equal(t, "user", fc.lastRequest.Messages[0].Role)
	assert.Equal(t, "do the thing", fc.lastRequest.Messages[0].Content)
}

func TestLLMRuntimeRoleCapabilities(t *testing.T) {
	tests := []struct {
		role       string
		capability string
	}{
		{RolePM, "planning"},
		{RoleWorker, "coding"},
		{RoleQC, "reviewing"},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			fc := &fakeCompleter{response: &llm.Response{Content: "ok"}}
			rt := NewLLMRuntime(fc)

			_, err := rt.Invoke(context.Background(), Invocation{Role: tt.role, Prompt: "p"})
			require.NoError(t, err)
			assert.Equal(t, tt.capability, fc.lastRequest.Capability)
		})
	}
}

func TestLLMRuntimePromptTooLarge(t *testing.T) {
	fc := &fakeCompleter{response: &llm.Response{Content: "unreachable"}}
	rt := NewLLMRuntime(fc, WithMaxPromptBytes(64))

	_, err := rt.Invoke(context.Background(), Invocation{
		Role:   RoleWorker,
		Prompt: strings.Repeat("x", 65),
	})
	require.Error(t, err)
	assert.Equal(t, FailurePromptTooLarge, ClassOf(err))
	assert.Empty(t, fc.lastRequest.Messages, "oversized prompt must not reach the client")
}

func TestLLMRuntimeClassifiesClientError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection refused")}
	rt := NewLLMRuntime(fc)

	_, err := rt.Invoke(context.Background(), Invocation{Role: RoleWorker, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, FailureAgentUnavailable, ClassOf(err))
}

func TestLLMRuntimeClassifiesDeadline(t *testing.T) {
	fc := &fakeCompleter{err: context.DeadlineExceeded}
	rt := NewLLMRuntime(fc)

	_, err := rt.Invoke(context.Background(), Invocation{Role: RoleWorker, Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, FailureAgentTimeout, ClassOf(err))
}

func TestLLMRuntimePropagatesCancellation(t *testing.T) {
	fc := &fakeCompleter{response: &llm.Response{Content: "unreachable"}}
	rt := NewLLMRuntime(fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.Invoke(ctx, Invocation{Role: RoleWorker, Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, string(ClassOf(err)), "cancellation is not an agent failure class")
}
