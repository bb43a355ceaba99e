package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowValidate_OK(t *testing.T) {
	wf := Workflow{
		Name: "build-docs",
		Tasks: []Task{
			{ID: "a", Prompt: "write the outline"},
			{ID: "b", Prompt: "write the body", Dependencies: []string{"a"}},
			{ID: "c", Prompt: "review", Dependencies: []string{"a", "b"}},
		},
	}
	require.NoError(t, wf.Validate())
}

func TestWorkflowValidate_DuplicateID(t *testing.T) {
	wf := Workflow{
		Tasks: []Task{
			{ID: "a", Prompt: "one"},
			{ID: "a", Prompt: "two"},
		},
	}
	err := wf.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
	assert.Contains(t, verr.Message, "duplicate task id")
}

func TestWorkflowValidate_UnknownDependency(t *testing.T) {
	wf := Workflow{
		Tasks: []Task{
			{ID: "a", Prompt: "one", Dependencies: []string{"ghost"}},
		},
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task ghost")
}

func TestWorkflowValidate_SelfDependency(t *testing.T) {
	wf := Workflow{
		Tasks: []Task{
			{ID: "a", Prompt: "one", Dependencies: []string{"a"}},
		},
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depends on itself")
}

func TestWorkflowValidate_Cycle(t *testing.T) {
	wf := Workflow{
		Tasks: []Task{
			{ID: "a", Prompt: "one", Dependencies: []string{"c"}},
			{ID: "b", Prompt: "two", Dependencies: []string{"a"}},
			{ID: "c", Prompt: "three", Dependencies: []string{"b"}},
		},
	}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestWorkflowValidate_MissingPrompt(t *testing.T) {
	wf := Workflow{Tasks: []Task{{ID: "a"}}}
	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt is required")
}

func TestWorkflowValidate_NegativeMaxRetries(t *testing.T) {
	neg := -1
	wf := Workflow{Tasks: []Task{{ID: "a", Prompt: "p", MaxRetries: &neg}}}
	require.Error(t, wf.Validate())
}

func TestWorkflowValidate_Empty(t *testing.T) {
	wf := Workflow{}
	require.NoError(t, wf.Validate())
}

func TestTaskRetryBudget(t *testing.T) {
	task := Task{ID: "a", Prompt: "p"}
	assert.Equal(t, 2, task.RetryBudget())
	assert.Equal(t, 3, task.MaxAttempts())

	zero := 0
	task.MaxRetries = &zero
	assert.Equal(t, 0, task.RetryBudget())
	assert.Equal(t, 1, task.MaxAttempts())
}

func TestTaskQCEnabled(t *testing.T) {
	task := Task{ID: "a", Prompt: "p"}
	assert.False(t, task.QCEnabled())

	task.QCRole = "strict reviewer"
	assert.True(t, task.QCEnabled())
}

func TestFullContextClone_SharesNoState(t *testing.T) {
	full := FullContext{
		TaskID: "a",
		Files:  []string{"one.go", "two.go"},
	}
	clone := full.Clone()
	clone.Files[0] = "mutated.go"
	assert.Equal(t, "one.go", full.Files[0])
}
