package artifact

import (
	"errors"
	"fmt"

	"github.com/c360studio/semflow/workflow"
)

// Size bounds on captured artifacts.
const (
	// MaxArtifactBytes caps a single artifact's content.
	MaxArtifactBytes = 16 << 20

	// MaxWorkflowBytes caps the total artifact bytes of one workflow.
	MaxWorkflowBytes = 256 << 20
)

// ErrCapacityExceeded marks an artifact rejected for exceeding a size bound.
// The enclosing task fails with this classification.
var ErrCapacityExceeded = errors.New("capacityExceeded")

// Set holds one workflow's deliverables with last-writer-wins filename
// uniqueness and byte budgets. Set is not synchronized; the owning
// execution state guards it with the per-execution lock.
type Set struct {
	artifacts map[string]workflow.Artifact
	order     []string
	total     int64

	maxArtifact int64
	maxTotal    int64
}

// NewSet creates a set with the standard bounds.
func NewSet() *Set {
	return NewSetWithLimits(MaxArtifactBytes, MaxWorkflowBytes)
}

// NewSetWithLimits creates a set with explicit bounds, for tests.
func NewSetWithLimits(maxArtifact, maxTotal int64) *Set {
	return &Set{
		artifacts:   make(map[string]workflow.Artifact),
		maxArtifact: maxArtifact,
		maxTotal:    maxTotal,
	}
}

// Add stores an artifact, replacing any earlier artifact with the same
// filename. The replaced flag reports an overwrite; the new size is
// authoritative for the workflow total.
func (s *Set) Add(a workflow.Artifact) (replaced bool, err error) {
	size := int64(a.Size)
	if size > s.maxArtifact {
		return false, fmt.Errorf("%w: artifact %s is %d bytes (limit %d)",
			ErrCapacityExceeded, a.Filename, size, s.maxArtifact)
	}

	prev, exists := s.artifacts[a.Filename]
	newTotal := s.total + size
	if exists {
		newTotal -= int64(prev.Size)
	}
	if newTotal > s.maxTotal {
		return false, fmt.Errorf("%w: workflow artifacts would reach %d bytes (limit %d)",
			ErrCapacityExceeded, newTotal, s.maxTotal)
	}

	s.artifacts[a.Filename] = a
	s.total = newTotal
	if !exists {
		s.order = append(s.order, a.Filename)
	}
	return exists, nil
}

// Get returns the artifact stored under filename.
func (s *Set) Get(filename string) (workflow.Artifact, bool) {
	a, ok := s.artifacts[filename]
	return a, ok
}

// List returns the artifacts in first-capture order.
func (s *Set) List() []workflow.Artifact {
	out := make([]workflow.Artifact, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.artifacts[name])
	}
	return out
}

// Len returns the number of distinct filenames captured.
func (s *Set) Len() int { return len(s.order) }

// TotalBytes returns the current artifact byte total.
func (s *Set) TotalBytes() int64 { return s.total }
