package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/workflow"
)

func sampleContext() workflow.FullContext {
	return workflow.FullContext{
		TaskID:       "task-1",
		Title:        "Implement parser",
		Requirements: "Parse the input format",
		Description:  "Build the tokenizer and parser",
		Files:        []string{"parser.go", "lexer.go", "ast.go"},
		Dependencies: []string{"task-0"},
		Research:     "long research notes",
		AllFiles:     []string{"a.go", "b.go", "c.go"},
		Status:       "in_progress",
		Priority:     "high",
	}
}

func TestForPMReturnsDeepCopy(t *testing.T) {
	full := sampleContext()
	f := NewFilter()

	view := f.ForPM(&full)
	view.Files[0] = "mutated"
	view.Research = "mutated"

	assert.Equal(t, "parser.go", full.Files[0])
	assert.Equal(t, "long research notes", full.Research)
}

func TestForWorkerDropsBulkFields(t *testing.T) {
	full := sampleContext()
	full.PlanningNotes = "planning"
	full.FullSubgraph = json.RawMessage(`{"nodes": []}`)
	f := NewFilter()

	w := f.ForWorker(&full, 1, "")

	data, err := json.Marshal(w)
	require.NoError(t, err)
	s := string(data)
	assert.NotContains(t, s, "research")
	assert.NotContains(t, s, "planningNotes")
	assert.NotContains(t, s, "allFiles")
	assert.NotContains(t, s, "fullSubgraph")
	assert.Contains(t, s, "task-1")
	assert.Contains(t, s, "Implement parser")
}

func TestForWorkerCapsCollections(t *testing.T) {
	full := sampleContext()
	for i := 0; i < 30; i++ {
		full.Files = append(full.Files, fmt.Sprintf("extra%d.go", i))
		full.Dependencies = append(full.Dependencies, fmt.Sprintf("dep-%d", i))
	}
	f := NewFilter()

	w := f.ForWorker(&full, 1, "")

	assert.Len(t, w.Files, DefaultMaxFiles)
	assert.Len(t, w.Dependencies, DefaultMaxDependencies)
	assert.Equal(t, "parser.go", w.Files[0])
}

func TestForWorkerRetryFields(t *testing.T) {
	full := sampleContext()
	f := NewFilter()

	first := f.ForWorker(&full, 1, "should not appear")
	assert.Zero(t, first.AttemptNumber)
	assert.Empty(t, first.ErrorContext)

	retry := f.ForWorker(&full, 2, "previous output")
	assert.Equal(t, 2, retry.AttemptNumber)
	assert.Equal(t, "previous output", retry.ErrorContext)
}

func TestForQC(t *testing.T) {
	full := sampleContext()
	f := NewFilter()
	task := &workflow.Task{
		ID:                   "task-1",
		Prompt:               "Parse the input format",
		QCRole:               "senior reviewer",
		VerificationCriteria: []string{"compiles", "handles empty input"},
	}

	w := f.ForWorker(&full, 1, "")
	qc := f.ForQC(w, task, "the worker output")

	assert.Equal(t, "task-1", qc.TaskID)
	assert.Equal(t, "Parse the input format", qc.OriginalRequirements)
	assert.Equal(t, []string{"compiles", "handles empty input"}, qc.VerificationCriteria)
	assert.Equal(t, "the worker output", qc.WorkerOutput)

	// Criteria are copied, not aliased.
	qc.VerificationCriteria[0] = "mutated"
	assert.Equal(t, "compiles", task.VerificationCriteria[0])
}

func TestMetricsFieldAccounting(t *testing.T) {
	full := sampleContext()
	full.PlanningNotes = "notes"
	f := NewFilter()

	w := f.ForWorker(&full, 1, "")
	m := Metrics(&full, w)

	assert.Greater(t, m.OriginalSize, m.FilteredSize)
	assert.Contains(t, m.FieldsRemoved, "research")
	assert.Contains(t, m.FieldsRemoved, "planningNotes")
	assert.Contains(t, m.FieldsRemoved, "allFiles")
	assert.Contains(t, m.FieldsRetained, "taskId")
	assert.Contains(t, m.FieldsRetained, "title")
}

// When the bulk fields dominate the payload, the worker view must shrink to a
// small fraction of the original.
func TestMetricsReductionOnBloatedContext(t *testing.T) {
	full := workflow.FullContext{
		TaskID:       "task-1",
		Title:        "small",
		Requirements: "short requirement",
	}
	full.Research = strings.Repeat("r", 40_000)
	full.PlanningNotes = strings.Repeat("p", 40_000)
	allFiles := make([]string, 2000)
	for i := range allFiles {
		allFiles[i] = fmt.Sprintf("generated/file_%04d.go", i)
	}
	full.AllFiles = allFiles

	f := NewFilter()
	w := f.ForWorker(&full, 1, "")
	m := Metrics(&full, w)

	assert.GreaterOrEqual(t, m.ReductionPercent, 90.0,
		"filtered view should be at most 10%% of the original, got %.1f%% reduction", m.ReductionPercent)
	assert.LessOrEqual(t, m.FilteredSize*10, m.OriginalSize)
}
