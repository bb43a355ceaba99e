package workflow

import "fmt"

// Workflow is a DAG of tasks submitted as one unit.
type Workflow struct {
	// Name labels the workflow in events and telemetry.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// PlanID links the execution to an upstream plan when present.
	PlanID string `json:"planId,omitempty" yaml:"planId,omitempty"`

	// Concurrency overrides the configured parallelism for this workflow.
	// Zero means use the runner default.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// PerTaskTimeoutMs overrides the per-task timeout in milliseconds.
	// Zero means use the runner default.
	PerTaskTimeoutMs int64 `json:"perTaskTimeoutMs,omitempty" yaml:"perTaskTimeoutMs,omitempty"`

	// WorkflowRoot is the directory artifact paths are interpreted against.
	WorkflowRoot string `json:"workflowRoot,omitempty" yaml:"workflowRoot,omitempty"`

	// Tasks are the DAG nodes in submission order. Submission order is the
	// tie-break the scheduler uses when several tasks are ready.
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Validate checks id uniqueness, per-task fields, dependency references, and
// acyclicity. A nil return means the workflow is schedulable.
func (w *Workflow) Validate() error {
	if w.Concurrency < 0 {
		return &ValidationError{Field: "concurrency", Message: "concurrency must be >= 0"}
	}
	if w.PerTaskTimeoutMs < 0 {
		return &ValidationError{Field: "perTaskTimeoutMs", Message: "perTaskTimeoutMs must be >= 0"}
	}

	seen := make(map[string]bool, len(w.Tasks))
	for i := range w.Tasks {
		t := &w.Tasks[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("duplicate task id: %s", t.ID)}
		}
		seen[t.ID] = true
	}

	for i := range w.Tasks {
		t := &w.Tasks[i]
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return &ValidationError{Field: "dependencies", Message: fmt.Sprintf("task %s depends on itself", t.ID)}
			}
			if !seen[dep] {
				return &ValidationError{Field: "dependencies", Message: fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep)}
			}
		}
	}

	if cycle := w.findCycle(); len(cycle) > 0 {
		return &ValidationError{Field: "dependencies", Message: fmt.Sprintf("dependency cycle involving tasks: %v", cycle)}
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (w *Workflow) Task(id string) *Task {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i]
		}
	}
	return nil
}

// findCycle runs Kahn's algorithm and returns the ids left unprocessed,
// which is non-empty exactly when the dependency relation has a cycle.
func (w *Workflow) findCycle() []string {
	inDegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string)
	for i := range w.Tasks {
		t := &w.Tasks[i]
		inDegree[t.ID] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for i := range w.Tasks {
		if inDegree[w.Tasks[i].ID] == 0 {
			queue = append(queue, w.Tasks[i].ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed == len(w.Tasks) {
		return nil
	}
	var remaining []string
	for i := range w.Tasks {
		if inDegree[w.Tasks[i].ID] > 0 {
			remaining = append(remaining, w.Tasks[i].ID)
		}
	}
	return remaining
}
