package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/workflow"
)

// PassScore is the minimum verification score. A verdict passes only when
// passed is true AND score is at least PassScore.
const PassScore = 70

// ParseVerdict interprets a qc agent reply. The reply may wrap its JSON in
// markdown or prose; extraction tolerates that, but the verdict object itself
// is held to the schema: passed and score are required, score must lie in
// [0,100], list fields must be string arrays. Violations are classified
// qcSchemaInvalid.
func ParseVerdict(reply string) (*workflow.QCVerification, error) {
	raw := llm.ExtractJSON(reply)
	if raw == "" {
		return nil, NewRunError(FailureQCSchemaInvalid, errors.New("no JSON object in qc reply"))
	}

	var verdict struct {
		Passed        *bool    `json:"passed"`
		Score         *float64 `json:"score"`
		Feedback      string   `json:"feedback"`
		Issues        []string `json:"issues"`
		RequiredFixes []string `json:"requiredFixes"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, NewRunError(FailureQCSchemaInvalid, fmt.Errorf("decode qc verdict: %w", err))
	}

	if verdict.Passed == nil {
		return nil, NewRunError(FailureQCSchemaInvalid, errors.New("qc verdict missing required field: passed"))
	}
	if verdict.Score == nil {
		return nil, NewRunError(FailureQCSchemaInvalid, errors.New("qc verdict missing required field: score"))
	}
	if *verdict.Score < 0 || *verdict.Score > 100 {
		return nil, NewRunError(FailureQCSchemaInvalid, fmt.Errorf("qc score %v out of range [0,100]", *verdict.Score))
	}

	return &workflow.QCVerification{
		Passed:        *verdict.Passed,
		Score:         int(math.Round(*verdict.Score)),
		Feedback:      verdict.Feedback,
		Issues:        verdict.Issues,
		RequiredFixes: verdict.RequiredFixes,
	}, nil
}

// Accepted applies the pass rule to a parsed verdict.
func Accepted(v *workflow.QCVerification) bool {
	return v != nil && v.Passed && v.Score >= PassScore
}
