package harness

import "github.com/roach88/flowkit/internal/events"

// TraceEvent is one lifecycle event as seen by assertions and golden files.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	RunID  string `json:"run_id"`
	Method string `json:"method,omitempty"`
	Result any    `json:"result,omitempty"`
}

func traceEvent(e events.Event) TraceEvent {
	return TraceEvent{
		Seq:    e.Seq,
		Kind:   string(e.Kind),
		RunID:  e.RunID,
		Method: e.MethodName,
		Result: e.Result,
	}
}

// completed reports whether the event is a method completion.
func (e TraceEvent) completed() bool {
	return e.Kind == string(events.MethodExecutionFinished)
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every kickoff expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every lifecycle event in seq order.
	Trace []TraceEvent `json:"trace"`

	// Outputs holds the final output of each kickoff.
	Outputs []any `json:"outputs"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the snapshot persisted after the last kickoff.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Outputs: []any{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
