package workflow

// Artifact is a named byte-string produced by a task: a file the worker
// declared in its output. Filenames are unique per workflow; a later
// emission of the same filename replaces the earlier content.
type Artifact struct {
	// Filename is the declared path, relative to the workflow root.
	Filename string `json:"filename"`

	// Content is the file body as emitted, without the fence-introduced
	// trailing newline.
	Content string `json:"content"`

	// MimeType is derived from the filename extension.
	MimeType string `json:"mimeType"`

	// Size is the byte length of Content.
	Size int `json:"size"`
}
