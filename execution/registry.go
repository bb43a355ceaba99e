package execution

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when an execution id is not registered.
var ErrNotFound = errors.New("execution not found")

// Registry tracks live executions by id. It holds states, not snapshots;
// callers mutate through the State's own lock.
type Registry struct {
	mu         sync.RWMutex
	executions map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executions: make(map[string]*State)}
}

// Register adds an execution. Registering an id twice is an error.
func (r *Registry) Register(s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[s.ExecutionID()]; exists {
		return fmt.Errorf("execution already registered: %s", s.ExecutionID())
	}
	r.executions[s.ExecutionID()] = s
	return nil
}

// Get returns the execution with the given id.
func (r *Registry) Get(executionID string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	return s, nil
}

// Contains reports whether the id is registered.
func (r *Registry) Contains(executionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executions[executionID]
	return ok
}

// List returns snapshots of every registered execution, ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	states := make([]*State, 0, len(r.executions))
	for _, s := range r.executions {
		states = append(states, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(states))
	for _, s := range states {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ExecutionID < snaps[j].ExecutionID })
	return snaps
}

// Remove drops an execution from the registry. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executions, executionID)
}
