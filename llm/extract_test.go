package llm

import (
	"encoding/json"
	"testing"
)

// mustParse fails the test when the extracted string is not valid JSON.
func mustParse(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("extracted string is not valid JSON: %v\n%s", err, s)
	}
	return out
}

func TestExtractJSONPlainObject(t *testing.T) {
	got := ExtractJSON(`{"passed": true, "score": 85, "feedback": "good"}`)
	obj := mustParse(t, got)
	if obj["score"].(float64) != 85 {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONFromFencedBlock(t *testing.T) {
	reply := "Here is my verdict:\n\n```json\n{\"passed\": false, \"score\": 40, \"feedback\": \"incomplete\"}\n```\n\nLet me know if you need detail."
	obj := mustParse(t, ExtractJSON(reply))
	if obj["passed"].(bool) != false || obj["score"].(float64) != 40 {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONFenceWithoutLanguageTag(t *testing.T) {
	reply := "```\n{\"passed\": true, \"score\": 90, \"feedback\": \"ok\"}\n```"
	obj := mustParse(t, ExtractJSON(reply))
	if obj["score"].(float64) != 90 {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONSurroundedByProse(t *testing.T) {
	reply := `The task looks complete. {"passed": true, "score": 78, "feedback": "minor nits"} Overall solid work.`
	obj := mustParse(t, ExtractJSON(reply))
	if obj["feedback"] != "minor nits" {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONStripsComments(t *testing.T) {
	reply := `{
		"passed": true, // the build is green
		"score": 82,
		"feedback": "see https://ci.example.com//run/7" // double slash inside a string survives
	}`
	obj := mustParse(t, ExtractJSON(reply))
	if obj["feedback"] != "see https://ci.example.com//run/7" {
		t.Errorf("string content was mangled: %v", obj["feedback"])
	}
}

func TestExtractJSONStripsTrailingCommas(t *testing.T) {
	reply := `{
		"passed": false,
		"issues": ["missing tests", "no error handling",],
		"score": 35,
	}`
	obj := mustParse(t, ExtractJSON(reply))
	issues := obj["issues"].([]any)
	if len(issues) != 2 {
		t.Errorf("unexpected issues: %v", issues)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	reply := `{"passed": true, "score": 70, "detail": {"notes": "uses {braces} in text"}}`
	obj := mustParse(t, ExtractJSON(reply))
	detail := obj["detail"].(map[string]any)
	if detail["notes"] != "uses {braces} in text" {
		t.Errorf("unexpected detail: %v", detail)
	}
}

func TestExtractJSONTakesFirstBalancedObject(t *testing.T) {
	reply := `{"passed": true, "score": 95, "feedback": "a"} and later {"unrelated": 1}`
	obj := mustParse(t, ExtractJSON(reply))
	if _, ok := obj["unrelated"]; ok {
		t.Error("extraction should stop at the first balanced object")
	}
	if obj["score"].(float64) != 95 {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONUnterminatedFenceFallsBack(t *testing.T) {
	reply := "```json\n{\"passed\": true, \"score\": 60, \"feedback\": \"ok\"}"
	obj := mustParse(t, ExtractJSON(reply))
	if obj["score"].(float64) != 60 {
		t.Errorf("unexpected object: %v", obj)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	for _, reply := range []string{"", "no json here", "```\nplain text\n```", "{unclosed"} {
		if got := ExtractJSON(reply); got != "" {
			t.Errorf("expected empty extraction for %q, got %q", reply, got)
		}
	}
}
