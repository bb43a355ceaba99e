package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a workflow definition from a YAML or JSON
// file, chosen by extension (.yaml/.yml/.json). Unknown fields are rejected.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var wf *Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		wf, err = ParseYAML(data)
	case ".json":
		wf, err = ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported workflow file extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// ParseYAML decodes a workflow from YAML with strict field checking.
func ParseYAML(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ParseJSON decodes a workflow from JSON with strict field checking.
func ParseJSON(data []byte) (*Workflow, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		return nil, err
	}
	// Trailing content after the document is a malformed submission.
	if err := checkTrailing(dec); err != nil {
		return nil, err
	}
	return &wf, nil
}

func checkTrailing(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected trailing content in workflow document")
	}
	return nil
}
