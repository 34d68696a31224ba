package registry

import "errors"

var (
	// ErrRunNotFound is returned when no run has the requested ID
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when a run with the same ID is already stored
	ErrDuplicateRun = errors.New("duplicate run")
)
