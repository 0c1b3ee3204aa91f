package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Tier errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")

	// Snapshot errors
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrSerialization      = errors.New("unsupported value kind")
	ErrRestoreConsistency = errors.New("restore consistency check failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Operation errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// StateError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type StateError struct {
	Op      string // Operation that failed (e.g., "snapshotter.SnapshotOnCheckpoint")
	Kind    string // Error kind (e.g., "fast-tier", "durable-tier", "config")
	AgentID string // Optional agent namespace involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *StateError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.AgentID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.AgentID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError creates a new StateError
func NewStateError(op, kind string, err error) *StateError {
	return &StateError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are transient tier availability issues; everything
// else propagates immediately rather than burning the retry budget.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsConsistencyError checks if an error is a restore verification failure
func IsConsistencyError(err error) bool {
	return errors.Is(err, ErrRestoreConsistency)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
