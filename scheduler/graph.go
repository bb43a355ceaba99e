// Package scheduler runs a workflow's task DAG: it tracks dependency state,
// dispatches ready tasks under a concurrency bound in deterministic input
// order, and cascades failures to dependent tasks without running them.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/c360studio/semflow/workflow"
)

// Graph tracks which tasks are runnable. A task is ready when every
// dependency has completed; completed and failed tasks leave the graph, and
// a failure prunes the task's entire dependent subtree. All methods are safe
// for concurrent use.
type Graph struct {
	mu         sync.Mutex
	tasks      map[string]*workflow.Task
	order      []string            // task ids in workflow input order
	inDegree   map[string]int      // unmet dependencies per pending task
	dependents map[string][]string // tasks that depend on this task
	running    map[string]struct{}
}

// NewGraph builds the dependency graph for a task list. Unknown dependency
// references and cycles are rejected; workflow validation catches these
// earlier, but the graph is safe to build standalone.
func NewGraph(tasks []workflow.Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*workflow.Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		inDegree:   make(map[string]int, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
		running:    make(map[string]struct{}),
	}

	for i := range tasks {
		t := &tasks[i]
		if _, dup := g.tasks[t.ID]; dup {
			return nil, fmt.Errorf("duplicate task id: %s", t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
		g.inDegree[t.ID] = 0
	}

	for _, t := range tasks {
		for _, depID := range t.Dependencies {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %s depends on unknown task %s", t.ID, depID)
			}
			g.inDegree[t.ID]++
			g.dependents[depID] = append(g.dependents[depID], t.ID)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles runs Kahn's algorithm over a scratch copy of the in-degrees.
func (g *Graph) detectCycles() error {
	degree := make(map[string]int, len(g.inDegree))
	for id, deg := range g.inDegree {
		degree[id] = deg
	}

	var queue []string
	for _, id := range g.order {
		if degree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, depID := range g.dependents[id] {
			degree[depID]--
			if degree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed != len(g.tasks) {
		return fmt.Errorf("circular dependency detected: %d tasks could not be ordered", len(g.tasks)-processed)
	}

	return nil
}

// Ready returns the dispatchable tasks in workflow input order: pending,
// not yet started, with every dependency completed.
func (g *Graph) Ready() []*workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*workflow.Task
	for _, id := range g.order {
		deg, pending := g.inDegree[id]
		if !pending || deg != 0 {
			continue
		}
		if _, started := g.running[id]; started {
			continue
		}
		ready = append(ready, g.tasks[id])
	}
	return ready
}

// Start marks a task as dispatched so Ready stops returning it.
func (g *Graph) Start(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running[id] = struct{}{}
}

// Complete removes a finished task and returns the tasks it unblocked, in
// input order.
func (g *Graph) Complete(id string) []*workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inDegree, id)
	delete(g.running, id)

	var newlyReady []*workflow.Task
	for _, depID := range g.dependents[id] {
		if _, pending := g.inDegree[depID]; !pending {
			continue
		}
		g.inDegree[depID]--
		if g.inDegree[depID] == 0 {
			newlyReady = append(newlyReady, g.tasks[depID])
		}
	}
	return newlyReady
}

// Cascade pairs a pruned task with the failed dependency that doomed it.
type Cascade struct {
	Task             *workflow.Task
	FailedDependency string
}

// Fail removes a failed task and prunes every task that transitively depends
// on it. Pruned tasks are returned breadth-first, each with the direct
// dependency whose failure removed it; none of them will ever be dispatched.
func (g *Graph) Fail(id string) []Cascade {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inDegree, id)
	delete(g.running, id)

	var pruned []Cascade
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, depID := range g.dependents[cur] {
			if _, pending := g.inDegree[depID]; !pending {
				continue
			}
			delete(g.inDegree, depID)
			pruned = append(pruned, Cascade{Task: g.tasks[depID], FailedDependency: cur})
			queue = append(queue, depID)
		}
	}
	return pruned
}

// Remaining returns the number of tasks still pending or running.
func (g *Graph) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inDegree)
}

// Empty reports whether every task has left the graph.
func (g *Graph) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inDegree) == 0
}

// Task returns a task by id, or nil.
func (g *Graph) Task(id string) *workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tasks[id]
}

// TopologicalOrder returns the tasks dependencies-first, breaking ties by
// input order. Informational; it snapshots current graph state.
func (g *Graph) TopologicalOrder() []*workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	degree := make(map[string]int, len(g.inDegree))
	for id, deg := range g.inDegree {
		degree[id] = deg
	}

	var order []*workflow.Task
	var queue []string
	for _, id := range g.order {
		if deg, ok := degree[id]; ok && deg == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, g.tasks[id])

		for _, depID := range g.dependents[id] {
			if _, ok := degree[depID]; !ok {
				continue
			}
			degree[depID]--
			if degree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	return order
}
