package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts method invocations in one run and enforces an
// optional upper bound.
//
// Neither OR re-triggering nor router chains are checked for cycles, so a
// flow can loop forever. A bound turns such a loop into a StepsExceededError
// instead of a hang.
//
// Not safe for concurrent use; the run mutex guards it.
type QuotaEnforcer struct {
	maxSteps int // 0 = unbounded
	current  int
}

// NewQuotaEnforcer creates an enforcer. maxSteps <= 0 disables the bound.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	if maxSteps < 0 {
		maxSteps = 0
	}
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one invocation and returns StepsExceededError once the bound
// is passed. Every call after the first refusal is refused as well.
func (q *QuotaEnforcer) Check(runID string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &StepsExceededError{
			RunID: runID,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the number of invocations counted so far, refused ones
// included.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the bound, 0 when unbounded.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run exceeds its step bound.
// The run stops launching methods; branches already executing finish.
type StepsExceededError struct {
	RunID string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max steps: %d steps > %d limit",
		e.RunID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
