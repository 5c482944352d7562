package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates no stored workflow carries the given name.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTriggerNotFound indicates no stored trigger rule carries the given name.
	ErrTriggerNotFound = errors.New("trigger rule not found")

	// ErrRunNotFound indicates no run record carries the given UID.
	ErrRunNotFound = errors.New("run not found")
)

// StoreError wraps a persistence failure with the operation and the record
// it was working on.
type StoreError struct {
	Op     string // Operation being performed (e.g., "WorkflowByName", "SaveRun")
	Record string // Record identifier if applicable
	Err    error
}

func (e *StoreError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Record, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, record string, err error) *StoreError {
	return &StoreError{Op: op, Record: record, Err: err}
}

// IsNotFound checks whether an error indicates a missing record of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrRunNotFound)
}
