package scheduler

import (
	"context"
	"errors"

	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/workflow"
)

// DefaultConcurrency bounds simultaneous task dispatches when Options leaves
// Concurrency unset.
const DefaultConcurrency = 3

// DispatchFunc executes one task to a terminal result. It is called from a
// per-task goroutine and must honor ctx.
type DispatchFunc func(ctx context.Context, task *workflow.Task) workflow.ExecutionResult

// Options tunes a scheduling run.
type Options struct {
	// Concurrency bounds simultaneous dispatches. <= 0 selects the default.
	Concurrency int
}

// Hooks observe the run. All hooks are called from the scheduling goroutine,
// so invocations are strictly serialized: OnResult sees results in completion
// order, with cascade failures immediately after the result that caused them.
type Hooks struct {
	// OnStart fires before a task's dispatch goroutine launches.
	OnStart func(task *workflow.Task)

	// OnPruned fires for each task failed by a dependency cascade, before
	// its synthetic result reaches OnResult. Pruned tasks never dispatch,
	// so OnStart does not fire for them.
	OnPruned func(task *workflow.Task)

	// OnResult fires once per task with its terminal result.
	OnResult func(res workflow.ExecutionResult)
}

// Run executes the workflow's tasks respecting dependencies and the
// concurrency bound. Ready tasks start in workflow input order. A failed
// task fails its dependent subtree without dispatching it, recording one
// synthetic result per pruned task. On cancellation no further tasks start;
// in-flight dispatches are drained and their results recorded, and the
// collected results are returned alongside ctx's error.
func Run(ctx context.Context, wf *workflow.Workflow, dispatch DispatchFunc, opts Options, hooks Hooks) ([]workflow.ExecutionResult, error) {
	if dispatch == nil {
		return nil, errors.New("dispatch function is required")
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	g, err := NewGraph(wf.Tasks)
	if err != nil {
		return nil, err
	}

	results := make([]workflow.ExecutionResult, 0, len(wf.Tasks))
	resultCh := make(chan workflow.ExecutionResult)
	inFlight := 0
	cancelled := false
	done := ctx.Done()

	record := func(res workflow.ExecutionResult) {
		results = append(results, res)
		if hooks.OnResult != nil {
			hooks.OnResult(res)
		}
	}

	launch := func(t *workflow.Task) {
		g.Start(t.ID)
		inFlight++
		metrics.TasksDispatched.Inc()
		if hooks.OnStart != nil {
			hooks.OnStart(t)
		}
		go func() {
			resultCh <- dispatch(ctx, t)
		}()
	}

	for {
		if !cancelled {
			for _, t := range g.Ready() {
				if inFlight >= limit {
					break
				}
				launch(t)
			}
		}
		if inFlight == 0 {
			break
		}

		select {
		case <-done:
			cancelled = true
			done = nil
		case res := <-resultCh:
			inFlight--
			record(res)
			switch {
			case res.Succeeded():
				g.Complete(res.TaskID)
			case cancelled:
				// Drained failures don't cascade: tasks that never
				// started stay pending.
			default:
				for _, c := range g.Fail(res.TaskID) {
					if hooks.OnPruned != nil {
						hooks.OnPruned(c.Task)
					}
					// The cascade result is the task's first and only
					// final attempt; no agent is invoked for it.
					record(workflow.ExecutionResult{
						TaskID:        c.Task.ID,
						Status:        workflow.ResultFailure,
						Error:         "dependency failed: " + c.FailedDependency,
						AttemptNumber: 1,
					})
				}
			}
		}
	}

	if cancelled {
		return results, ctx.Err()
	}
	return results, nil
}
