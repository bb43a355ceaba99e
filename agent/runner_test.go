package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/event"
	"github.com/c360studio/semflow/workflow"
)

type scriptedCall struct {
	text  string
	in    int
	out   int
	tools int
	err   error
}

// scriptRuntime replays a fixed sequence of completions and records every
// invocation it receives.
type scriptRuntime struct {
	mu     sync.Mutex
	calls  []Invocation
	script []scriptedCall
}

func (s *scriptRuntime) Invoke(_ context.Context, inv Invocation) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, inv)
	if len(s.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := s.script[0]
	s.script = s.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &Completion{
		Text:         step.text,
		InputTokens:  step.in,
		OutputTokens: step.out,
		ToolCalls:    step.tools,
	}, nil
}

// blockingRuntime waits for the context to end, as a hung agent would.
type blockingRuntime struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingRuntime) Invoke(ctx context.Context, _ Invocation) (*Completion, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func drainKinds(sub *event.Subscription) []event.Kind {
	var kinds []event.Kind
	for {
		select {
		case e := <-sub.Events():
			kinds = append(kinds, e.Kind)
		default:
			return kinds
		}
	}
}

func countKind(kinds []event.Kind, k event.Kind) int {
	n := 0
	for _, kind := range kinds {
		if kind == k {
			n++
		}
	}
	return n
}

func intPtr(n int) *int { return &n }

const passingVerdict = `{"passed": true, "score": 90, "feedback": "good"}`

func TestExecuteSuccessWithoutQC(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{text: "the implementation", in: 100, out: 40, tools: 2},
	}}
	runner := NewRunner(rt)

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultSuccess, res.Status)
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, "the implementation", res.Output)
	assert.Equal(t, 1, res.AttemptNumber)
	assert.Equal(t, workflow.TokenUsage{Input: 100, Output: 40}, res.Tokens)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Nil(t, res.QCVerification)

	require.Len(t, rt.calls, 1)
	assert.Equal(t, RoleWorker, rt.calls[0].Role)
}

func TestExecuteQCPassFirstAttempt(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{text: "the implementation", in: 100, out: 50},
		{text: passingVerdict, in: 20, out: 10},
	}}
	bus := event.NewBus(32)
	sub := bus.Subscribe(event.Filter{})
	runner := NewRunner(rt, WithBus(bus))

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task: &workflow.Task{
			ID:                   "t1",
			Prompt:               "build it",
			QCRole:               "reviewer",
			VerificationCriteria: []string{"works"},
		},
		Context: workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultSuccess, res.Status)
	assert.Equal(t, 1, res.AttemptNumber)
	require.NotNil(t, res.QCVerification)
	assert.Equal(t, 90, res.QCVerification.Score)
	assert.Equal(t, workflow.TokenUsage{Input: 120, Output: 60}, res.Tokens)

	require.Len(t, rt.calls, 2)
	assert.Equal(t, RoleWorker, rt.calls[0].Role)
	assert.Equal(t, RoleQC, rt.calls[1].Role)
	assert.Contains(t, rt.calls[1].Prompt, "the implementation")

	kinds := drainKinds(sub)
	assert.Equal(t, 1, countKind(kinds, event.KindQCStarted))
	assert.Equal(t, 1, countKind(kinds, event.KindQCCompleted))
}

func TestExecuteRetryAfterQCRejection(t *testing.T) {
	rejection := `{"passed": false, "score": 40, "feedback": "add tests", "issues": ["missing tests"], "requiredFixes": ["write unit tests"]}`
	rt := &scriptRuntime{script: []scriptedCall{
		{text: "first try", in: 10, out: 10},
		{text: rejection, in: 5, out: 5},
		{text: "second try", in: 10, out: 10},
		{text: passingVerdict, in: 5, out: 5},
	}}
	bus := event.NewBus(32)
	sub := bus.Subscribe(event.Filter{})
	runner := NewRunner(rt, WithBus(bus))

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it", QCRole: "reviewer"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultSuccess, res.Status)
	assert.Equal(t, 2, res.AttemptNumber)
	assert.Equal(t, "second try", res.Output)
	assert.Equal(t, workflow.TokenUsage{Input: 30, Output: 30}, res.Tokens)
	require.NotNil(t, res.QCVerification)
	assert.True(t, res.QCVerification.Passed)

	require.Len(t, rt.calls, 4)
	retryPrompt := rt.calls[2].Prompt
	assert.Contains(t, retryPrompt, "## Previous Attempt Feedback")
	assert.Contains(t, retryPrompt, "score 40")
	assert.Contains(t, retryPrompt, "add tests")
	assert.Contains(t, retryPrompt, "missing tests")
	assert.Contains(t, retryPrompt, "write unit tests")
	assert.Contains(t, retryPrompt, `"attemptNumber": 2`)
	assert.Contains(t, retryPrompt, "first try", "retry context carries the previous output")

	kinds := drainKinds(sub)
	assert.Equal(t, 2, countKind(kinds, event.KindQCStarted))
	assert.Equal(t, 2, countKind(kinds, event.KindQCCompleted))
	assert.Equal(t, 1, countKind(kinds, event.KindTaskProgress))
}

func TestExecuteQCExhaustion(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{text: "first"},
		{text: `{"passed": false, "score": 30, "feedback": "wrong"}`},
		{text: "second"},
		{text: `{"passed": false, "score": 50, "feedback": "closer"}`},
	}}
	runner := NewRunner(rt)

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task: &workflow.Task{
			ID:         "t1",
			Prompt:     "build it",
			QCRole:     "reviewer",
			MaxRetries: intPtr(1),
		},
		Context: workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultFailure, res.Status)
	assert.Equal(t, 2, res.AttemptNumber)
	assert.Equal(t, "second", res.Output, "failed results keep the final worker output")
	assert.Contains(t, res.Error, "qc verification failed after 2 attempts")
	assert.Contains(t, res.Error, "score 50")
	require.NotNil(t, res.QCVerification)
	assert.Equal(t, 50, res.QCVerification.Score)
	require.Len(t, rt.calls, 4)
}

func TestExecuteWorkerErrorConsumesAttempt(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{err: NewRunError(FailureAgentUnavailable, errors.New("connection refused"))},
		{text: "recovered"},
	}}
	bus := event.NewBus(32)
	sub := bus.Subscribe(event.Filter{})
	runner := NewRunner(rt, WithBus(bus))

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultSuccess, res.Status)
	assert.Equal(t, 2, res.AttemptNumber)
	assert.Equal(t, "recovered", res.Output)

	kinds := drainKinds(sub)
	assert.Equal(t, 1, countKind(kinds, event.KindTaskProgress))
}

func TestExecuteWorkerErrorExhaustion(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{err: NewRunError(FailureAgentUnavailable, errors.New("connection refused"))},
	}}
	runner := NewRunner(rt)

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task: &workflow.Task{
			ID:         "t1",
			Prompt:     "build it",
			MaxRetries: intPtr(0),
		},
		Context: workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultFailure, res.Status)
	assert.Equal(t, 1, res.AttemptNumber)
	assert.Contains(t, res.Error, "agentUnavailable")
}

func TestExecuteQCSchemaInvalidConsumesAttempt(t *testing.T) {
	rt := &scriptRuntime{script: []scriptedCall{
		{text: "first"},
		{text: "I think it looks fine!"},
		{text: "second"},
		{text: passingVerdict},
	}}
	runner := NewRunner(rt)

	res := runner.Execute(context.Background(), TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it", QCRole: "reviewer"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultSuccess, res.Status)
	assert.Equal(t, 2, res.AttemptNumber)
	require.Len(t, rt.calls, 4)
}

func TestExecuteDeadlineShortCircuits(t *testing.T) {
	rt := &blockingRuntime{}
	runner := NewRunner(rt)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	res := runner.Execute(ctx, TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultFailure, res.Status)
	assert.Contains(t, res.Error, "agentTimeout")
	assert.Equal(t, 1, res.AttemptNumber)
	assert.Equal(t, 1, rt.calls, "remaining attempts are skipped once the deadline is spent")
}

func TestExecuteCancellation(t *testing.T) {
	rt := &blockingRuntime{}
	runner := NewRunner(rt)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := runner.Execute(ctx, TaskInput{
		ExecutionID: "exec-1",
		Task:        &workflow.Task{ID: "t1", Prompt: "build it"},
		Context:     workflow.FullContext{TaskID: "t1"},
	})

	assert.Equal(t, workflow.ResultFailure, res.Status)
	assert.Equal(t, "cancelled", res.Error)
}
