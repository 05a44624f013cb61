package worker

import "errors"

// Sentinel errors for worker group operations
var (
	// ErrGroupStopped indicates Go() was called after Stop()
	ErrGroupStopped = errors.New("worker group stopped")

	// ErrNilTask indicates a nil task function was provided
	ErrNilTask = errors.New("task function cannot be nil")
)
