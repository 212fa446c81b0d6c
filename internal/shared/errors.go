package shared

import "errors"

var (
	// ErrNotFound indicates a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an illegal lifecycle transition.
	ErrStateConflict = errors.New("state conflict")
)
