package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no snapshot exists for an execution id.
	ErrNotFound = errors.New("execution snapshot not found")
)
