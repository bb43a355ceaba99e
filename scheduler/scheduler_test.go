package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semflow/workflow"
)

// dispatchRecorder tracks dispatch order and concurrency high-water mark.
type dispatchRecorder struct {
	mu        sync.Mutex
	order     []string
	active    int
	maxActive int
}

func (d *dispatchRecorder) enter(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, id)
	d.active++
	if d.active > d.maxActive {
		d.maxActive = d.active
	}
}

func (d *dispatchRecorder) exit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active--
}

func (d *dispatchRecorder) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func succeed(id string) workflow.ExecutionResult {
	return workflow.ExecutionResult{TaskID: id, Status: workflow.ResultSuccess, AttemptNumber: 1}
}

func fail(id string, msg string) workflow.ExecutionResult {
	return workflow.ExecutionResult{TaskID: id, Status: workflow.ResultFailure, Error: msg, AttemptNumber: 1}
}

func TestRunExecutesAllTasks(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p"},
		{ID: "c", Prompt: "p"},
	}}

	rec := &dispatchRecorder{}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		return succeed(task.ID)
	}

	results, err := Run(context.Background(), wf, dispatch, Options{Concurrency: 2}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != workflow.ResultSuccess {
			t.Errorf("task %s: expected success, got %s (%s)", res.TaskID, res.Status, res.Error)
		}
	}
}

func TestRunRespectsDependencies(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p", Dependencies: []string{"a"}},
		{ID: "c", Prompt: "p", Dependencies: []string{"b"}},
	}}

	rec := &dispatchRecorder{}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		return succeed(task.ID)
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{}, Hooks{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(rec.dispatched(), ","); got != "a,b,c" {
		t.Errorf("expected dispatch order a,b,c, got %s", got)
	}
}

func TestRunHonorsConcurrencyBound(t *testing.T) {
	var tasks []workflow.Task
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, workflow.Task{ID: id, Prompt: "p"})
	}
	wf := &workflow.Workflow{Tasks: tasks}

	rec := &dispatchRecorder{}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		time.Sleep(20 * time.Millisecond)
		return succeed(task.ID)
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{Concurrency: 2}, Hooks{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.maxActive > 2 {
		t.Errorf("expected at most 2 concurrent dispatches, saw %d", rec.maxActive)
	}
	if len(rec.dispatched()) != 6 {
		t.Errorf("expected 6 dispatches, got %d", len(rec.dispatched()))
	}
}

func TestRunDispatchesInInputOrder(t *testing.T) {
	// Input order is the tie-break among simultaneously ready tasks.
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "d", Prompt: "p"},
		{ID: "a", Prompt: "p"},
		{ID: "c", Prompt: "p"},
	}}

	rec := &dispatchRecorder{}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		return succeed(task.ID)
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{Concurrency: 1}, Hooks{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(rec.dispatched(), ","); got != "d,a,c" {
		t.Errorf("expected dispatch order d,a,c, got %s", got)
	}
}

func TestRunFailureCascadesWithoutDispatch(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p", Dependencies: []string{"a"}},
		{ID: "c", Prompt: "p", Dependencies: []string{"b"}},
		{ID: "d", Prompt: "p"},
	}}

	rec := &dispatchRecorder{}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		if task.ID == "a" {
			return fail("a", "agentUnavailable: connection refused")
		}
		return succeed(task.ID)
	}

	results, err := Run(context.Background(), wf, dispatch, Options{}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := make(map[string]workflow.ExecutionResult)
	for _, res := range results {
		byID[res.TaskID] = res
	}
	if len(byID) != 4 {
		t.Fatalf("expected results for 4 tasks, got %d", len(byID))
	}
	if byID["b"].Error != "dependency failed: a" {
		t.Errorf("expected b to fail with dependency failed: a, got %q", byID["b"].Error)
	}
	if byID["c"].Error != "dependency failed: b" {
		t.Errorf("expected c to fail with dependency failed: b, got %q", byID["c"].Error)
	}
	if byID["d"].Status != workflow.ResultSuccess {
		t.Errorf("expected d to succeed, got %s", byID["d"].Status)
	}

	// b and c never reached the dispatch function.
	for _, id := range rec.dispatched() {
		if id == "b" || id == "c" {
			t.Errorf("task %s should not have been dispatched", id)
		}
	}

	// The cascade result is still the task's first final attempt.
	if byID["b"].AttemptNumber != 1 {
		t.Errorf("expected cascade result with attempt 1, got %d", byID["b"].AttemptNumber)
	}
	if byID["c"].AttemptNumber != 1 {
		t.Errorf("expected cascade result with attempt 1, got %d", byID["c"].AttemptNumber)
	}
}

func TestRunOnPrunedFiresBeforeCascadeResult(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p", Dependencies: []string{"a"}},
		{ID: "c", Prompt: "p", Dependencies: []string{"b"}},
	}}

	var seen []string
	hooks := Hooks{
		OnStart: func(task *workflow.Task) {
			seen = append(seen, "start:"+task.ID)
		},
		OnPruned: func(task *workflow.Task) {
			seen = append(seen, "pruned:"+task.ID)
		},
		OnResult: func(res workflow.ExecutionResult) {
			seen = append(seen, "result:"+res.TaskID)
		},
	}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		return fail(task.ID, "boom")
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "start:a,result:a,pruned:b,result:b,pruned:c,result:c"
	if got := strings.Join(seen, ","); got != want {
		t.Errorf("hook order\n got %s\nwant %s", got, want)
	}
}

func TestRunCascadeFollowsTriggerInResultOrder(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p", Dependencies: []string{"a"}},
	}}

	var seen []string
	hooks := Hooks{OnResult: func(res workflow.ExecutionResult) {
		seen = append(seen, res.TaskID)
	}}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		return fail(task.ID, "boom")
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(seen, ","); got != "a,b" {
		t.Errorf("expected OnResult order a,b, got %s", got)
	}
}

func TestRunCancellationDrainsInFlight(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{
		{ID: "a", Prompt: "p"},
		{ID: "b", Prompt: "p", Dependencies: []string{"a"}},
		{ID: "c", Prompt: "p", Dependencies: []string{"b"}},
	}}

	rec := &dispatchRecorder{}
	dispatch := func(ctx context.Context, task *workflow.Task) workflow.ExecutionResult {
		rec.enter(task.ID)
		defer rec.exit()
		<-ctx.Done()
		return fail(task.ID, "cancelled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results, err := Run(ctx, wf, dispatch, Options{}, Hooks{})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Only a started; its in-flight result was drained.
	if got := strings.Join(rec.dispatched(), ","); got != "a" {
		t.Errorf("expected only a dispatched, got %s", got)
	}
	if len(results) != 1 || results[0].TaskID != "a" {
		t.Fatalf("expected the drained result for a, got %v", results)
	}
}

func TestRunEmptyWorkflow(t *testing.T) {
	wf := &workflow.Workflow{}

	results, err := Run(context.Background(), wf, func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		t.Error("dispatch should never be called")
		return succeed(task.ID)
	}, Options{}, Hooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRunRequiresDispatchFunc(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{{ID: "a", Prompt: "p"}}}

	if _, err := Run(context.Background(), wf, nil, Options{}, Hooks{}); err == nil {
		t.Fatal("expected error for nil dispatch")
	}
}

func TestRunOnStartFiresBeforeDispatch(t *testing.T) {
	wf := &workflow.Workflow{Tasks: []workflow.Task{{ID: "a", Prompt: "p"}}}

	var mu sync.Mutex
	var sequence []string
	hooks := Hooks{OnStart: func(task *workflow.Task) {
		mu.Lock()
		sequence = append(sequence, "start:"+task.ID)
		mu.Unlock()
	}}
	dispatch := func(_ context.Context, task *workflow.Task) workflow.ExecutionResult {
		mu.Lock()
		sequence = append(sequence, "dispatch:"+task.ID)
		mu.Unlock()
		return succeed(task.ID)
	}

	if _, err := Run(context.Background(), wf, dispatch, Options{}, hooks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sequence) != 2 || sequence[0] != "start:a" || sequence[1] != "dispatch:a" {
		t.Errorf("expected OnStart before dispatch, got %v", sequence)
	}
}
