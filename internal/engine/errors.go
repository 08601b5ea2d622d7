package engine

import (
	"errors"
	"fmt"
)

// ErrNoStartMethod is returned by Kickoff when the registry has no start
// methods.
var ErrNoStartMethod = errors.New("no start method defined")

// MethodExecutionError reports a method body that failed during a run.
// It is recovered at the single-method boundary: the failing branch stops,
// sibling branches continue, and the error is surfaced only through logs
// and Report.Failures.
type MethodExecutionError struct {
	Flow   string
	Method string
	RunID  string

	// Panicked is true when the body panicked instead of returning an error.
	Panicked bool

	Err error
}

// Error implements the error interface.
func (e *MethodExecutionError) Error() string {
	verb := "failed"
	if e.Panicked {
		verb = "panicked"
	}
	return fmt.Sprintf("method %s %s (flow=%s, run=%s): %v", e.Method, verb, e.Flow, e.RunID, e.Err)
}

// Unwrap returns the body's error.
func (e *MethodExecutionError) Unwrap() error {
	return e.Err
}

// IsMethodExecutionError returns true if err wraps a MethodExecutionError.
func IsMethodExecutionError(err error) bool {
	var me *MethodExecutionError
	return errors.As(err, &me)
}
