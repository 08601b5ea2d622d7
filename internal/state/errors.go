package state

import (
	"errors"
	"fmt"
)

// ValidationError reports overrides that were rejected: an unknown field or
// a constraint violation on structured state, or an unusable id.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("state validation failed: %s: %s", e.Field, e.Message)
	}
	return "state validation failed: " + e.Message
}

// Unwrap returns the underlying schema error, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RestoreError reports a snapshot that cannot replace the current state.
type RestoreError struct {
	ID      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RestoreError) Error() string {
	msg := "state restore failed: " + e.Message
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *RestoreError) Unwrap() error {
	return e.Err
}

// IsRestoreError returns true if err wraps a RestoreError.
func IsRestoreError(err error) bool {
	var re *RestoreError
	return errors.As(err, &re)
}
