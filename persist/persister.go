package persist

import (
	"context"
	"log/slog"

	"github.com/c360studio/semflow/event"
	"github.com/c360studio/semflow/execution"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/workflow"
)

// Persister translates execution lifecycle into graph writes. Every method
// absorbs graph errors: they are logged, counted, and emitted as
// persistError events, and the caller proceeds regardless.
type Persister struct {
	graph  Graph
	bus    *event.Bus
	logger *slog.Logger
}

// Option configures a Persister.
type Option func(*Persister)

// WithBus sets the event bus persistError events are published on.
func WithBus(b *event.Bus) Option {
	return func(p *Persister) {
		p.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = logger
	}
}

// New creates a persister over the given graph. A nil graph disables
// persistence entirely; every method becomes a no-op.
func New(graph Graph, opts ...Option) *Persister {
	p := &Persister{
		graph:  graph,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// CreateExecution writes the initial execution node with running status and
// zeroed counters. Re-issuing for the same execution id is a no-op at the
// graph interface.
func (p *Persister) CreateExecution(ctx context.Context, snap execution.Snapshot) {
	if p.graph == nil {
		return
	}

	props := map[string]any{
		"id":              snap.ExecutionID,
		"status":          string(execution.StatusRunning),
		"tasksTotal":      snap.TasksTotal,
		"tasksSuccessful": 0,
		"tasksFailed":     0,
		"tokensInput":     0,
		"tokensOutput":    0,
		"tokensTotal":     0,
		"toolCalls":       0,
		"startTime":       snap.StartTime,
	}
	if snap.PlanID != "" {
		props["planId"] = snap.PlanID
	}

	if err := p.graph.CreateNode(ctx, NodeExecution, props); err != nil {
		p.reportError(snap.ExecutionID, "", "createExecution", err)
	}
}

// UpsertTask writes the terminal record for one task and its edges to the
// parent execution. Failed tasks additionally get a FAILED_TASK edge.
func (p *Persister) UpsertTask(ctx context.Context, executionID string, res workflow.ExecutionResult) {
	if p.graph == nil {
		return
	}

	nodeID := TaskNodeID(executionID, res.TaskID)
	props := map[string]any{
		"id":            nodeID,
		"executionId":   executionID,
		"taskId":        res.TaskID,
		"status":        string(res.Status),
		"output":        res.Output,
		"duration":      res.Duration,
		"attemptNumber": res.AttemptNumber,
		"tokensInput":   res.Tokens.Input,
		"tokensOutput":  res.Tokens.Output,
		"toolCalls":     res.ToolCalls,
	}
	if res.Error != "" {
		props["error"] = res.Error
	}
	if v := res.QCVerification; v != nil {
		props["qcPassed"] = v.Passed
		props["qcScore"] = v.Score
		if v.Feedback != "" {
			props["qcFeedback"] = v.Feedback
		}
		if len(v.Issues) > 0 {
			props["qcIssues"] = v.Issues
		}
		if len(v.RequiredFixes) > 0 {
			props["qcRequiredFixes"] = v.RequiredFixes
		}
	}

	if err := p.graph.CreateNode(ctx, NodeTaskExecution, props); err != nil {
		p.reportError(executionID, res.TaskID, "upsertTask", err)
		return
	}

	if err := p.graph.CreateEdge(ctx, executionID, nodeID, EdgeHasTask, nil); err != nil {
		p.reportError(executionID, res.TaskID, "upsertTask", err)
	}
	if res.Status == workflow.ResultFailure {
		if err := p.graph.CreateEdge(ctx, executionID, nodeID, EdgeFailedTask, nil); err != nil {
			p.reportError(executionID, res.TaskID, "upsertTask", err)
		}
	}
}

// Progress updates the execution node's running aggregates. The execution
// status flips to failed with the first failed task; the terminal status
// still comes from Finalize.
func (p *Persister) Progress(ctx context.Context, snap execution.Snapshot) {
	if p.graph == nil {
		return
	}

	props := map[string]any{
		"tasksSuccessful": snap.TasksSuccessful,
		"tasksFailed":     snap.TasksFailed,
		"tokensInput":     snap.TokensInput,
		"tokensOutput":    snap.TokensOutput,
		"tokensTotal":     snap.TokensInput + snap.TokensOutput,
		"toolCalls":       snap.ToolCalls,
	}
	if snap.TasksFailed > 0 {
		props["status"] = string(execution.StatusFailed)
	}

	if err := p.graph.UpdateNode(ctx, snap.ExecutionID, props); err != nil {
		p.reportError(snap.ExecutionID, "", "progress", err)
	}
}

// Finalize writes the execution's terminal status and timing.
func (p *Persister) Finalize(ctx context.Context, snap execution.Snapshot) {
	if p.graph == nil {
		return
	}

	props := map[string]any{
		"status":          string(snap.Status),
		"endTime":         snap.EndTime,
		"duration":        snap.EndTime - snap.StartTime,
		"tasksSuccessful": snap.TasksSuccessful,
		"tasksFailed":     snap.TasksFailed,
		"tokensInput":     snap.TokensInput,
		"tokensOutput":    snap.TokensOutput,
		"tokensTotal":     snap.TokensInput + snap.TokensOutput,
		"toolCalls":       snap.ToolCalls,
	}
	if snap.Error != "" {
		props["error"] = snap.Error
	}

	if err := p.graph.UpdateNode(ctx, snap.ExecutionID, props); err != nil {
		p.reportError(snap.ExecutionID, "", "finalize", err)
	}
}

// Close closes the underlying graph.
func (p *Persister) Close() error {
	if p.graph == nil {
		return nil
	}
	return p.graph.Close()
}

// reportError logs a failed graph write and surfaces it on the bus. Task and
// workflow status are never affected.
func (p *Persister) reportError(executionID, taskID, op string, err error) {
	metrics.PersistErrors.Inc()
	p.logger.Warn("Graph persistence failed",
		"executionId", executionID,
		"taskId", taskID,
		"op", op,
		"error", err)

	if p.bus == nil {
		return
	}
	p.bus.Publish(event.Event{
		ExecutionID: executionID,
		Kind:        event.KindPersistError,
		TaskID:      taskID,
		Payload: map[string]any{
			"op":    op,
			"error": err.Error(),
		},
	})
}

// TaskNodeID builds the task_execution node id.
func TaskNodeID(executionID, taskID string) string {
	return executionID + "-" + taskID
}
