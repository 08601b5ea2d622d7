package events

import "fmt"

// Kind identifies a lifecycle event.
type Kind string

const (
	FlowStarted             Kind = "flow_started"
	FlowFinished            Kind = "flow_finished"
	MethodExecutionStarted  Kind = "method_execution_started"
	MethodExecutionFinished Kind = "method_execution_finished"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case FlowStarted, FlowFinished, MethodExecutionStarted, MethodExecutionFinished:
		return true
	}
	return false
}

// Event is one lifecycle notification.
//
// Seq is stamped by the Bus and strictly increases in delivery order.
// FlowID is the state id of the flow instance; RunID identifies one kickoff.
// MethodName is empty for flow-level events. Result is set on FlowFinished
// (the final output) and on MethodExecutionFinished (the method's result).
type Event struct {
	Seq        int64  `json:"seq"`
	Kind       Kind   `json:"kind"`
	FlowName   string `json:"flow_name"`
	FlowID     string `json:"flow_id"`
	RunID      string `json:"run_id"`
	MethodName string `json:"method_name,omitempty"`
	Result     any    `json:"result,omitempty"`
}

// String renders a compact one-line form used in logs and traces.
func (e Event) String() string {
	if e.MethodName != "" {
		return fmt.Sprintf("#%d %s %s.%s", e.Seq, e.Kind, e.FlowName, e.MethodName)
	}
	return fmt.Sprintf("#%d %s %s", e.Seq, e.Kind, e.FlowName)
}

// Sink receives events. Deliver is called synchronously by the Bus; a sink
// that blocks stalls delivery but never the engine's bookkeeping.
type Sink interface {
	Deliver(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Deliver calls f(e).
func (f SinkFunc) Deliver(e Event) {
	f(e)
}
