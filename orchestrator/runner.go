// Package orchestrator coordinates workflow executions: it validates
// submitted workflows, owns the live execution state, drives the DAG
// scheduler with the agent pipeline as its dispatch, captures artifacts,
// and persists telemetry. Run returns an execution id synchronously;
// progress flows through the event bus and the execution registry.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semflow/agent"
	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/event"
	"github.com/c360studio/semflow/execution"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/persist"
	"github.com/c360studio/semflow/scheduler"
	"github.com/c360studio/semflow/workflow"
)

// DefaultTaskTimeout bounds one task's worker and qc calls together,
// across every attempt.
const DefaultTaskTimeout = 10 * time.Minute

// SnapshotStore checkpoints execution snapshots. Implemented by
// storage.ExecutionStore; optional.
type SnapshotStore interface {
	Save(ctx context.Context, snap execution.Snapshot) error
}

// ContextBuilder assembles the full project context for one task before
// filtering. The default builder derives the context from the task record
// alone.
type ContextBuilder func(wf *workflow.Workflow, task *workflow.Task) workflow.FullContext

// Runner is the top-level workflow coordinator.
type Runner struct {
	agents      *agent.Runner
	registry    *execution.Registry
	bus         *event.Bus
	persister   *persist.Persister
	store       SnapshotStore
	buildCtx    ContextBuilder
	logger      *slog.Logger
	concurrency int
	taskTimeout time.Duration

	mu          sync.Mutex
	activePaths map[string]struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithBus sets the event bus lifecycle and task events are published on.
func WithBus(b *event.Bus) Option {
	return func(r *Runner) {
		r.bus = b
	}
}

// WithPersister sets the graph persister. Nil disables persistence.
func WithPersister(p *persist.Persister) Option {
	return func(r *Runner) {
		r.persister = p
	}
}

// WithStore sets the snapshot checkpoint store.
func WithStore(s SnapshotStore) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// WithContextBuilder overrides how task contexts are assembled.
func WithContextBuilder(b ContextBuilder) Option {
	return func(r *Runner) {
		r.buildCtx = b
	}
}

// WithConcurrency sets the default per-workflow concurrency, used when a
// workflow does not specify its own.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithTaskTimeout sets the default per-task timeout.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.taskTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a workflow runner on the given agent pipeline and registry.
func New(agents *agent.Runner, registry *execution.Registry, opts ...Option) *Runner {
	r := &Runner{
		agents:      agents,
		registry:    registry,
		logger:      slog.Default(),
		concurrency: scheduler.DefaultConcurrency,
		taskTimeout: DefaultTaskTimeout,
		activePaths: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.buildCtx == nil {
		r.buildCtx = DefaultContext
	}
	return r
}

// DefaultContext builds a task's full context from the task record alone:
// the prompt becomes the requirements, dependency ids become the context's
// dependency list.
func DefaultContext(wf *workflow.Workflow, task *workflow.Task) workflow.FullContext {
	return workflow.FullContext{
		TaskID:       task.ID,
		Title:        task.Title,
		Requirements: task.Prompt,
		Dependencies: append([]string(nil), task.Dependencies...),
		Status:       "pending",
	}
}

// Run validates the workflow, registers a new execution, and starts driving
// it in the background. The execution id is returned synchronously; callers
// observe progress via the event bus or the registry, and completion via the
// state's Done channel. Validation failures leave no trace: nothing is
// registered, persisted, or published.
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow) (string, error) {
	if err := wf.Validate(); err != nil {
		return "", fmt.Errorf("invalid workflow: %w", err)
	}

	executionID := r.newExecutionID()
	state := execution.NewState(executionID, wf)
	if err := r.registry.Register(state); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state.SetCancelFunc(cancel)

	go r.drive(runCtx, wf, state)
	return executionID, nil
}

// RunFile loads a workflow definition from a file and runs it. Concurrent
// submissions of the same path are rejected while an execution for that path
// is live; the guard clears on every terminal transition.
func (r *Runner) RunFile(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve workflow path: %w", err)
	}

	if !r.claimPath(abs) {
		return "", fmt.Errorf("workflow %s is already running", abs)
	}

	wf, err := workflow.LoadFile(abs)
	if err != nil {
		r.releasePath(abs)
		return "", err
	}
	if wf.WorkflowRoot == "" {
		wf.WorkflowRoot = filepath.Dir(abs)
	}

	executionID, err := r.Run(ctx, wf)
	if err != nil {
		r.releasePath(abs)
		return "", err
	}

	state, _ := r.registry.Get(executionID)
	state.SetSourcePath(abs)
	go func() {
		<-state.Done()
		r.releasePath(abs)
	}()
	return executionID, nil
}

// Cancel requests cooperative cancellation of a running execution. Repeat
// calls are no-ops and produce no additional events.
func (r *Runner) Cancel(executionID string) error {
	state, err := r.registry.Get(executionID)
	if err != nil {
		return err
	}
	if state.Cancel() {
		r.logger.Info("Execution cancellation requested", "executionId", executionID)
	}
	return nil
}

// Wait blocks until the execution reaches a terminal status or ctx expires,
// and returns the final snapshot.
func (r *Runner) Wait(ctx context.Context, executionID string) (execution.Snapshot, error) {
	state, err := r.registry.Get(executionID)
	if err != nil {
		return execution.Snapshot{}, err
	}
	select {
	case <-state.Done():
		return state.Snapshot(), nil
	case <-ctx.Done():
		return execution.Snapshot{}, ctx.Err()
	}
}

// drive runs the workflow to its terminal status. It is the only goroutine
// that finalizes the execution.
func (r *Runner) drive(ctx context.Context, wf *workflow.Workflow, state *execution.State) {
	executionID := state.ExecutionID()
	start := time.Now()
	metrics.WorkflowsStarted.Inc()

	if r.persister != nil {
		r.persister.CreateExecution(ctx, state.Snapshot())
	}
	r.publish(event.Event{
		ExecutionID: executionID,
		Kind:        event.KindWorkflowStarted,
		Payload: map[string]any{
			"workflowName": wf.Name,
			"tasksTotal":   len(wf.Tasks),
		},
	})
	r.logger.Info("Workflow started",
		"executionId", executionID,
		"workflow", wf.Name,
		"tasks", len(wf.Tasks))

	timeout := r.taskTimeout
	if wf.PerTaskTimeoutMs > 0 {
		timeout = time.Duration(wf.PerTaskTimeoutMs) * time.Millisecond
	}
	concurrency := wf.Concurrency
	if concurrency == 0 {
		concurrency = r.concurrency
	}

	dispatch := func(taskCtx context.Context, task *workflow.Task) workflow.ExecutionResult {
		attemptCtx, cancel := context.WithTimeout(taskCtx, timeout)
		defer cancel()
		return r.agents.Execute(attemptCtx, agent.TaskInput{
			ExecutionID: executionID,
			Task:        task,
			Context:     r.buildCtx(wf, task),
		})
	}

	hooks := scheduler.Hooks{
		OnStart: func(task *workflow.Task) {
			if err := state.SetTaskStatus(task.ID, execution.TaskExecuting); err != nil {
				r.logger.Error("Task status update rejected", "taskId", task.ID, "error", err)
			}
			r.publish(event.Event{
				ExecutionID: executionID,
				Kind:        event.KindTaskStarted,
				TaskID:      task.ID,
				Payload:     map[string]any{"title": task.Title},
			})
		},
		OnPruned: func(task *workflow.Task) {
			// A pruned task never executes, but its event stream still
			// opens with taskStarted so per-task subscribers always see
			// taskStarted before taskFailed. Status moves pending → failed
			// when the cascade result lands.
			r.publish(event.Event{
				ExecutionID: executionID,
				Kind:        event.KindTaskStarted,
				TaskID:      task.ID,
				Payload:     map[string]any{"title": task.Title},
			})
		},
		OnResult: func(res workflow.ExecutionResult) {
			r.onTaskResult(ctx, state, res)
		},
	}

	_, schedErr := scheduler.Run(ctx, wf, dispatch, scheduler.Options{Concurrency: concurrency}, hooks)

	snap := state.Snapshot()
	status := execution.StatusCompleted
	errMsg := ""
	switch {
	case schedErr != nil:
		status = execution.StatusCancelled
		errMsg = "cancelled"
	case snap.TasksFailed > 0:
		status = execution.StatusFailed
		errMsg = fmt.Sprintf("%d of %d tasks failed", snap.TasksFailed, snap.TasksTotal)
	}

	state.Finish(status, errMsg)
	final := state.Snapshot()

	if r.persister != nil {
		r.persister.Finalize(ctx, final)
	}
	r.checkpoint(ctx, final)

	metrics.WorkflowsCompleted.WithLabelValues(string(status)).Inc()
	metrics.WorkflowDuration.Observe(time.Since(start).Seconds())

	kind := event.KindWorkflowCompleted
	if status == execution.StatusCancelled {
		kind = event.KindWorkflowCancelled
	}
	r.publish(event.Event{
		ExecutionID: executionID,
		Kind:        kind,
		Payload: map[string]any{
			"status":          string(status),
			"tasksSuccessful": final.TasksSuccessful,
			"tasksFailed":     final.TasksFailed,
			"durationMs":      final.EndTime - final.StartTime,
		},
	})
	r.logger.Info("Workflow finished",
		"executionId", executionID,
		"status", status,
		"tasksSuccessful", final.TasksSuccessful,
		"tasksFailed", final.TasksFailed)
}

// onTaskResult records one terminal task: artifacts, state, events,
// persistence. Called serially from the scheduling goroutine in completion
// order.
func (r *Runner) onTaskResult(ctx context.Context, state *execution.State, res workflow.ExecutionResult) {
	executionID := state.ExecutionID()

	// Artifacts are extracted from the final output regardless of outcome;
	// a failed attempt's files are evidence. Capacity violations fail the
	// task itself.
	if res.Output != "" {
		if err := r.captureArtifacts(state, &res); err != nil {
			res.Status = workflow.ResultFailure
			res.Error = err.Error()
		}
	}

	next := execution.TaskCompleted
	kind := event.KindTaskCompleted
	if res.Status == workflow.ResultFailure {
		next = execution.TaskFailed
		kind = event.KindTaskFailed
	}
	if err := state.SetTaskStatus(res.TaskID, next); err != nil {
		r.logger.Error("Task status update rejected", "taskId", res.TaskID, "error", err)
	}
	if err := state.AppendResult(res); err != nil {
		r.logger.Error("Result append rejected", "taskId", res.TaskID, "error", err)
	}
	metrics.TasksCompleted.WithLabelValues(string(res.Status)).Inc()

	r.publish(event.Event{
		ExecutionID: executionID,
		Kind:        kind,
		TaskID:      res.TaskID,
		Payload:     map[string]any{"result": res},
	})

	snap := state.Snapshot()
	if r.persister != nil {
		r.persister.UpsertTask(ctx, executionID, res)
		r.persister.Progress(ctx, snap)
	}
	r.checkpoint(ctx, snap)
}

// captureArtifacts extracts and stores the task's deliverables, emitting one
// artifactCaptured event per file. The first capacity violation is returned;
// earlier artifacts stay captured.
func (r *Runner) captureArtifacts(state *execution.State, res *workflow.ExecutionResult) error {
	for _, a := range artifact.Extract(res.Output) {
		replaced, err := state.AddArtifact(a)
		if err != nil {
			r.logger.Warn("Artifact rejected",
				"executionId", state.ExecutionID(),
				"taskId", res.TaskID,
				"filename", a.Filename,
				"error", err)
			return err
		}
		metrics.ArtifactsCaptured.Inc()
		metrics.ArtifactBytes.Add(float64(a.Size))
		r.publish(event.Event{
			ExecutionID: state.ExecutionID(),
			Kind:        event.KindArtifactCaptured,
			TaskID:      res.TaskID,
			Payload: map[string]any{
				"filename": a.Filename,
				"mimeType": a.MimeType,
				"size":     a.Size,
				"replaced": replaced,
			},
		})
	}
	return nil
}

// checkpoint saves a snapshot to the store, if one is configured. Store
// failures are logged and ignored.
func (r *Runner) checkpoint(ctx context.Context, snap execution.Snapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Warn("Snapshot checkpoint failed",
			"executionId", snap.ExecutionID,
			"error", err)
	}
}

func (r *Runner) publish(e event.Event) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(e)
}

// newExecutionID builds a unique id. The millisecond form is the common
// case; a uuid suffix resolves same-millisecond collisions.
func (r *Runner) newExecutionID() string {
	id := fmt.Sprintf("exec-%d", time.Now().UnixMilli())
	if !r.registry.Contains(id) {
		return id
	}
	return id + "-" + uuid.NewString()[:8]
}

func (r *Runner) claimPath(abs string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.activePaths[abs]; live {
		return false
	}
	r.activePaths[abs] = struct{}{}
	return true
}

func (r *Runner) releasePath(abs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activePaths, abs)
}
