package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semflow/event"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/workflow"
)

// Runner drives one task to a terminal result: worker attempt, optional qc
// verification, retry with feedback until the attempt budget is spent. The
// caller owns the task deadline; the context passed to Execute spans every
// attempt.
type Runner struct {
	runtime Runtime
	filter  *Filter
	bus     *event.Bus
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithFilter overrides the context filter.
func WithFilter(f *Filter) RunnerOption {
	return func(r *Runner) {
		r.filter = f
	}
}

// WithBus sets the event bus for qc and progress events.
func WithBus(b *event.Bus) RunnerOption {
	return func(r *Runner) {
		r.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a task runner on the given agent runtime.
func NewRunner(runtime Runtime, opts ...RunnerOption) *Runner {
	r := &Runner{
		runtime: runtime,
		filter:  NewFilter(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// TaskInput bundles everything Execute needs for one task.
type TaskInput struct {
	ExecutionID string
	Task        *workflow.Task
	Context     workflow.FullContext
}

// Execute runs the task and always returns a terminal result. Token and tool
// counts aggregate across every worker and qc call; AttemptNumber is the
// attempt that produced the result. A spent context ends the loop
// immediately: deadline expiry fails the task as agentTimeout, cancellation
// fails it as cancelled. Every other error consumes an attempt.
func (r *Runner) Execute(ctx context.Context, in TaskInput) workflow.ExecutionResult {
	task := in.Task
	start := time.Now()
	maxAttempts := task.MaxAttempts()

	var (
		tokens       workflow.TokenUsage
		toolCalls    int
		lastOutput   string
		verification *workflow.QCVerification
		lastErr      error
	)

	attempt := 0
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = contextFailure(err)
			break
		}

		wctx := r.filter.ForWorker(&in.Context, attempt, lastOutput)
		completion, err := r.runtime.Invoke(ctx, Invocation{
			Role:   RoleWorker,
			Prompt: WorkerPrompt(task, wctx, verification),
			Model:  task.RecommendedModel,
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				lastErr = contextFailure(ctx.Err())
				break
			}
			r.logger.Warn("Worker attempt failed",
				"executionId", in.ExecutionID,
				"taskId", task.ID,
				"attempt", attempt,
				"error", err)
			r.progress(in, attempt, fmt.Sprintf("worker attempt %d failed: %v", attempt, err))
			continue
		}

		tokens.Input += completion.InputTokens
		tokens.Output += completion.OutputTokens
		toolCalls += completion.ToolCalls
		lastOutput = completion.Text
		lastErr = nil

		if !task.QCEnabled() {
			return r.finish(in, start, workflow.ExecutionResult{
				Status:        workflow.ResultSuccess,
				Output:        completion.Text,
				AttemptNumber: attempt,
				Tokens:        tokens,
				ToolCalls:     toolCalls,
			})
		}

		r.publish(in, event.KindQCStarted, map[string]any{"attempt": attempt})
		metrics.QCAttempts.Inc()

		qctx := r.filter.ForQC(wctx, task, completion.Text)
		qcCompletion, err := r.runtime.Invoke(ctx, Invocation{
			Role:   RoleQC,
			Prompt: QCPrompt(task, qctx),
			Model:  task.RecommendedModel,
		})
		if err != nil {
			lastErr = err
			r.publish(in, event.KindQCCompleted, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			if ctx.Err() != nil {
				lastErr = contextFailure(ctx.Err())
				break
			}
			r.logger.Warn("QC attempt failed",
				"executionId", in.ExecutionID,
				"taskId", task.ID,
				"attempt", attempt,
				"error", err)
			r.progress(in, attempt, fmt.Sprintf("qc attempt %d failed: %v", attempt, err))
			continue
		}

		tokens.Input += qcCompletion.InputTokens
		tokens.Output += qcCompletion.OutputTokens
		toolCalls += qcCompletion.ToolCalls

		verdict, perr := ParseVerdict(qcCompletion.Text)
		if perr != nil {
			lastErr = perr
			r.publish(in, event.KindQCCompleted, map[string]any{
				"attempt": attempt,
				"error":   perr.Error(),
			})
			r.logger.Warn("QC verdict unparseable",
				"executionId", in.ExecutionID,
				"taskId", task.ID,
				"attempt", attempt,
				"error", perr)
			r.progress(in, attempt, fmt.Sprintf("qc verdict unparseable on attempt %d: %v", attempt, perr))
			continue
		}

		verification = verdict
		outcome := "fail"
		if Accepted(verdict) {
			outcome = "pass"
		}
		metrics.QCVerdicts.WithLabelValues(outcome).Inc()
		r.publish(in, event.KindQCCompleted, map[string]any{
			"attempt": attempt,
			"passed":  verdict.Passed,
			"score":   verdict.Score,
		})

		if Accepted(verdict) {
			return r.finish(in, start, workflow.ExecutionResult{
				Status:         workflow.ResultSuccess,
				Output:         completion.Text,
				AttemptNumber:  attempt,
				Tokens:         tokens,
				ToolCalls:      toolCalls,
				QCVerification: verification,
			})
		}

		lastErr = fmt.Errorf("qc verification failed after %d attempts: score %d, threshold %d",
			attempt, verdict.Score, PassScore)
		if attempt < maxAttempts {
			r.progress(in, attempt, fmt.Sprintf("retrying after qc rejection (score %d)", verdict.Score))
		}
	}
	if attempt > maxAttempts {
		attempt = maxAttempts
	}

	errMsg := "task failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return r.finish(in, start, workflow.ExecutionResult{
		Status:         workflow.ResultFailure,
		Output:         lastOutput,
		Error:          errMsg,
		AttemptNumber:  attempt,
		Tokens:         tokens,
		ToolCalls:      toolCalls,
		QCVerification: verification,
	})
}

// finish stamps the shared result fields and records task metrics.
func (r *Runner) finish(in TaskInput, start time.Time, res workflow.ExecutionResult) workflow.ExecutionResult {
	res.TaskID = in.Task.ID
	res.Duration = time.Since(start).Milliseconds()

	metrics.TaskDuration.Observe(time.Since(start).Seconds())
	metrics.TaskTokens.Observe(float64(res.Tokens.Total()))

	return res
}

func (r *Runner) publish(in TaskInput, kind event.Kind, payload map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{
		ExecutionID: in.ExecutionID,
		Kind:        kind,
		TaskID:      in.Task.ID,
		Payload:     payload,
	})
}

func (r *Runner) progress(in TaskInput, attempt int, message string) {
	r.publish(in, event.KindTaskProgress, map[string]any{
		"attempt": attempt,
		"message": message,
	})
}

// contextFailure normalizes a spent context into the task's terminal error:
// agentTimeout when the deadline expired, cancelled otherwise.
func contextFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRunError(FailureAgentTimeout, err)
	}
	return errors.New("cancelled")
}
