package agent

import (
	"encoding/json"
	"sort"

	"github.com/c360studio/semflow/workflow"
)

// Filter caps.
const (
	DefaultMaxFiles        = 10
	DefaultMaxDependencies = 5
)

// Filter reduces full task context to role-appropriate views. Worker and qc
// agents see only identity and operational fields with capped collections;
// the pm role sees everything.
type Filter struct {
	MaxFiles        int
	MaxDependencies int
}

// NewFilter returns a filter with the default caps.
func NewFilter() *Filter {
	return &Filter{
		MaxFiles:        DefaultMaxFiles,
		MaxDependencies: DefaultMaxDependencies,
	}
}

// ForPM returns the unreduced view: a deep copy of the input, so the caller's
// context cannot be mutated through the view.
func (f *Filter) ForPM(full *workflow.FullContext) workflow.FullContext {
	return full.Clone()
}

// ForWorker builds the reduced worker view. attemptNumber and errorContext
// are included only for retry attempts (attempt > 1).
func (f *Filter) ForWorker(full *workflow.FullContext, attempt int, errorContext string) workflow.WorkerContext {
	w := workflow.WorkerContext{
		TaskID:       full.TaskID,
		Title:        full.Title,
		Requirements: full.Requirements,
		Description:  full.Description,
		Files:        capStrings(full.Files, f.MaxFiles),
		Dependencies: capStrings(full.Dependencies, f.MaxDependencies),
		Status:       full.Status,
		Priority:     full.Priority,
	}
	if attempt > 1 {
		w.AttemptNumber = attempt
		w.ErrorContext = errorContext
	}
	return w
}

// ForQC extends a worker view with the fields the qc agent verifies against.
func (f *Filter) ForQC(worker workflow.WorkerContext, task *workflow.Task, workerOutput string) workflow.QCContext {
	return workflow.QCContext{
		WorkerContext:        worker,
		OriginalRequirements: task.Prompt,
		VerificationCriteria: append([]string(nil), task.VerificationCriteria...),
		WorkerOutput:         workerOutput,
	}
}

func capStrings(in []string, max int) []string {
	if in == nil {
		return nil
	}
	if max >= 0 && len(in) > max {
		in = in[:max]
	}
	return append([]string(nil), in...)
}

// FilterMetrics quantifies one filtering pass.
type FilterMetrics struct {
	OriginalSize     int      `json:"originalSize"`
	FilteredSize     int      `json:"filteredSize"`
	ReductionPercent float64  `json:"reductionPercent"`
	FieldsRemoved    []string `json:"fieldsRemoved"`
	FieldsRetained   []string `json:"fieldsRetained"`
}

// Metrics compares a full context against one of its views. Sizes are JSON
// byte lengths; field sets are derived from the marshaled forms, so omitted
// empty fields do not count as removed.
func Metrics(full *workflow.FullContext, view any) FilterMetrics {
	fullJSON, _ := json.Marshal(full)
	viewJSON, _ := json.Marshal(view)

	fullFields := jsonKeys(fullJSON)
	viewFields := jsonKeys(viewJSON)

	var removed, retained []string
	for _, k := range sortedKeys(fullFields) {
		if _, ok := viewFields[k]; ok {
			retained = append(retained, k)
		} else {
			removed = append(removed, k)
		}
	}

	m := FilterMetrics{
		OriginalSize:   len(fullJSON),
		FilteredSize:   len(viewJSON),
		FieldsRemoved:  removed,
		FieldsRetained: retained,
	}
	if m.OriginalSize > 0 {
		m.ReductionPercent = 100 * (1 - float64(m.FilteredSize)/float64(m.OriginalSize))
	}
	return m
}

// jsonKeys returns the top-level key set of a marshaled JSON object.
func jsonKeys(data []byte) map[string]struct{} {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return map[string]struct{}{}
	}
	keys := make(map[string]struct{}, len(obj))
	for k := range obj {
		keys[k] = struct{}{}
	}
	return keys
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
