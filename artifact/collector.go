// Package artifact extracts file deliverables from worker output and tracks
// them per workflow under size bounds.
//
// A deliverable is declared either by a FILE: directive line immediately
// before a fenced code block, or by a filename attribute in the fence info
// string:
//
//	FILE: docs/plan.md
//	```markdown
//	...
//	```
//
//	```go filename=cmd/main.go
//	...
//	```
package artifact

import (
	"path/filepath"
	"strings"

	"github.com/c360studio/semflow/workflow"
)

// mimeTypes maps filename extensions to artifact mime types.
var mimeTypes = map[string]string{
	".md":   "text/markdown",
	".json": "application/json",
	".ts":   "text/plain",
	".js":   "text/plain",
	".go":   "text/plain",
	".rs":   "text/plain",
	".py":   "text/plain",
	".html": "text/html",
}

// defaultMimeType is used for extensions outside the table.
const defaultMimeType = "application/octet-stream"

// MimeForPath derives the artifact mime type from the path extension.
func MimeForPath(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return defaultMimeType
}

// ValidPath reports whether a declared artifact path is acceptable: relative
// to the workflow root, with no parent-directory escapes.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// Extract scans worker output for declared artifacts. Declarations with
// invalid paths and fences left open at end of output are skipped. Content
// is the fenced body without the trailing newline the fence introduces.
func Extract(output string) []workflow.Artifact {
	var artifacts []workflow.Artifact

	lines := strings.Split(output, "\n")
	pendingPath := ""

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if path, ok := fileDirective(trimmed); ok {
			pendingPath = path
			continue
		}

		if info, ok := fenceOpener(trimmed); ok {
			path := fenceFilename(info)
			if path == "" {
				path = pendingPath
			}
			pendingPath = ""

			body, next, closed := captureFence(lines, i+1)
			if !closed {
				break
			}
			i = next

			if ValidPath(path) {
				content := strings.Join(body, "\n")
				artifacts = append(artifacts, workflow.Artifact{
					Filename: filepath.ToSlash(filepath.Clean(path)),
					Content:  content,
					MimeType: MimeForPath(path),
					Size:     len(content),
				})
			}
			continue
		}

		// A blank line between the directive and its fence is tolerated;
		// any other content voids the directive.
		if trimmed != "" {
			pendingPath = ""
		}
	}

	return artifacts
}

// fileDirective parses a "FILE: <path>" line.
func fileDirective(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "FILE:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// fenceOpener reports whether the line opens a code fence and returns its
// info string.
func fenceOpener(line string) (string, bool) {
	if !strings.HasPrefix(line, "```") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(line, "`")), true
}

// fenceCloser matches a line consisting only of three or more backticks.
func fenceCloser(line string) bool {
	if len(line) < 3 {
		return false
	}
	return strings.TrimLeft(line, "`") == ""
}

// fenceFilename pulls a filename=<path> attribute out of a fence info string.
func fenceFilename(info string) string {
	for _, field := range strings.Fields(info) {
		if val, ok := strings.CutPrefix(field, "filename="); ok {
			return strings.Trim(val, `"'`)
		}
	}
	return ""
}

// captureFence collects body lines from start until the closing fence.
// Returns the body, the index of the closing line, and whether the fence
// was closed before end of input.
func captureFence(lines []string, start int) ([]string, int, bool) {
	var body []string
	for i := start; i < len(lines); i++ {
		if fenceCloser(strings.TrimSpace(lines[i])) {
			return body, i, true
		}
		body = append(body, lines[i])
	}
	return nil, len(lines), false
}
