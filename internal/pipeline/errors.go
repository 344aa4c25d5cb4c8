package pipeline

import "fmt"

// ExecutionError wraps any failure raised while building or recording the
// reply. The transport layer only needs this one coarse kind to pick a
// wire-level failure response; the original cause stays reachable through
// Unwrap.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("pipeline execution failed: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
