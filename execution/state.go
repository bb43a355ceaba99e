// Package execution holds the live state of running workflows: the
// per-execution state machine and the process-wide registry.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/workflow"
)

// Status is the workflow-level execution status.
type Status string

// Execution statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TaskStatus is the per-task scheduling status.
type TaskStatus string

// Task statuses. Transitions follow a strict lattice:
// pending → executing → (completed | failed). A task may additionally go
// pending → failed when a dependency fails, since it is never dispatched.
const (
	TaskPending   TaskStatus = "pending"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// State is the mutable record of one execution. All field access goes
// through methods holding the per-execution lock; observers read snapshots.
type State struct {
	mu sync.Mutex

	executionID  string
	workflowName string
	planID       string
	workflowRoot string
	sourcePath   string

	status        Status
	taskStatuses  map[string]TaskStatus
	currentTaskID string
	results       []workflow.ExecutionResult
	deliverables  *artifact.Set

	startTime time.Time
	endTime   time.Time
	errMsg    string
	cancelled bool
	cancel    context.CancelFunc

	done chan struct{}
}

// NewState creates a running execution for the workflow, with every task
// pending.
func NewState(executionID string, wf *workflow.Workflow) *State {
	statuses := make(map[string]TaskStatus, len(wf.Tasks))
	for i := range wf.Tasks {
		statuses[wf.Tasks[i].ID] = TaskPending
	}
	return &State{
		executionID:  executionID,
		workflowName: wf.Name,
		planID:       wf.PlanID,
		workflowRoot: wf.WorkflowRoot,
		status:       StatusRunning,
		taskStatuses: statuses,
		deliverables: artifact.NewSet(),
		startTime:    time.Now(),
		done:         make(chan struct{}),
	}
}

// ExecutionID returns the immutable execution id.
func (s *State) ExecutionID() string { return s.executionID }

// PlanID returns the plan this execution belongs to, if any.
func (s *State) PlanID() string { return s.planID }

// SetSourcePath records the file path this execution was submitted from.
func (s *State) SetSourcePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourcePath = path
}

// SourcePath returns the submitting file path, if any.
func (s *State) SourcePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourcePath
}

// Status returns the current workflow status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TaskStatus returns the status of one task.
func (s *State) TaskStatus(taskID string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.taskStatuses[taskID]
	return st, ok
}

// ExecutingCount returns the number of tasks currently executing.
func (s *State) ExecutingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.taskStatuses {
		if st == TaskExecuting {
			n++
		}
	}
	return n
}

// SetTaskStatus advances one task along the status lattice. Any move
// outside the lattice is rejected.
func (s *State) SetTaskStatus(taskID string, next TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.taskStatuses[taskID]
	if !ok {
		return fmt.Errorf("unknown task: %s", taskID)
	}
	if !validTransition(current, next) {
		return fmt.Errorf("invalid task transition for %s: %s -> %s", taskID, current, next)
	}
	s.taskStatuses[taskID] = next
	if next == TaskExecuting {
		s.currentTaskID = taskID
	}
	return nil
}

func validTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskExecuting || to == TaskFailed
	case TaskExecuting:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// AppendResult records a terminal task result. Results are append-only
// while the execution is running and frozen afterwards.
func (s *State) AppendResult(res workflow.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return fmt.Errorf("execution %s is %s: results are frozen", s.executionID, s.status)
	}
	s.results = append(s.results, res)
	return nil
}

// AddArtifact stores a deliverable under the execution lock, enforcing the
// collector's size bounds. The replaced flag reports filename overwrite.
func (s *State) AddArtifact(a workflow.Artifact) (replaced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return false, fmt.Errorf("execution %s is %s: artifacts are frozen", s.executionID, s.status)
	}
	return s.deliverables.Add(a)
}

// SetCancelFunc wires the context cancellation used by Cancel.
func (s *State) SetCancelFunc(fn context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = fn
}

// Cancel latches the cancellation flag and fires the cancel function once.
// Repeat calls are no-ops; the return reports whether this call latched.
func (s *State) Cancel() bool {
	s.mu.Lock()
	if s.cancelled || s.status != StatusRunning {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	fn := s.cancel
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Cancelled reports whether cancellation was requested.
func (s *State) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Finish moves the execution to a terminal status, setting endTime exactly
// once. Repeat calls are no-ops returning false.
func (s *State) Finish(status Status, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return false
	}
	s.status = status
	s.errMsg = errMsg
	s.endTime = time.Now()
	close(s.done)
	return true
}

// Done is closed when the execution reaches a terminal status.
func (s *State) Done() <-chan struct{} { return s.done }

// StartTime returns when the execution began.
func (s *State) StartTime() time.Time { return s.startTime }

// Snapshot returns a deep copy of the observable state. Counters are
// derived from the recorded results.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]TaskStatus, len(s.taskStatuses))
	for id, st := range s.taskStatuses {
		statuses[id] = st
	}
	results := make([]workflow.ExecutionResult, len(s.results))
	copy(results, s.results)

	snap := Snapshot{
		ExecutionID:   s.executionID,
		WorkflowName:  s.workflowName,
		PlanID:        s.planID,
		Status:        s.status,
		TaskStatuses:  statuses,
		CurrentTaskID: s.currentTaskID,
		Results:       results,
		Deliverables:  s.deliverables.List(),
		StartTime:     s.startTime.UnixMilli(),
		Error:         s.errMsg,
		Cancelled:     s.cancelled,
		TasksTotal:    len(s.taskStatuses),
	}
	if !s.endTime.IsZero() {
		snap.EndTime = s.endTime.UnixMilli()
	}
	for i := range s.results {
		r := &s.results[i]
		if r.Status == workflow.ResultSuccess {
			snap.TasksSuccessful++
		} else {
			snap.TasksFailed++
		}
		snap.TokensInput += r.Tokens.Input
		snap.TokensOutput += r.Tokens.Output
		snap.ToolCalls += r.ToolCalls
	}
	return snap
}

// Snapshot is a point-in-time copy of an execution's observable state.
type Snapshot struct {
	ExecutionID     string                     `json:"executionId"`
	WorkflowName    string                     `json:"workflowName,omitempty"`
	PlanID          string                     `json:"planId,omitempty"`
	Status          Status                     `json:"status"`
	TaskStatuses    map[string]TaskStatus      `json:"taskStatuses"`
	CurrentTaskID   string                     `json:"currentTaskId,omitempty"`
	Results         []workflow.ExecutionResult `json:"results"`
	Deliverables    []workflow.Artifact        `json:"deliverables,omitempty"`
	StartTime       int64                      `json:"startTime"`
	EndTime         int64                      `json:"endTime,omitempty"`
	Error           string                     `json:"error,omitempty"`
	Cancelled       bool                       `json:"cancelled,omitempty"`
	TasksTotal      int                        `json:"tasksTotal"`
	TasksSuccessful int                        `json:"tasksSuccessful"`
	TasksFailed     int                        `json:"tasksFailed"`
	TokensInput     int                        `json:"tokensInput"`
	TokensOutput    int                        `json:"tokensOutput"`
	ToolCalls       int                        `json:"toolCalls"`
}
