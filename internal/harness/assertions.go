package harness

import (
	"fmt"
	"strings"
)

// AssertionError reports a failed assertion together with the completions
// that were recorded, so a failing scenario can be read without rerunning.
type AssertionError struct {
	Type  string
	Want  string
	Got   string
	Trace []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n  Expected: %s\n  Actual: %s\n", e.Type, e.Want, e.Got)

	first := true
	for _, ev := range e.Trace {
		if !ev.completed() {
			continue
		}
		if first {
			b.WriteString("\nCompletions:\n")
			first = false
		}
		fmt.Fprintf(&b, "  [%d] %s -> %v\n", ev.Seq, ev.Method, ev.Result)
	}
	return b.String()
}

type checkFunc func(result *Result, a Assertion) error

var checks = map[string]checkFunc{
	AssertTraceContains: func(r *Result, a Assertion) error { return assertTraceContains(r.Trace, a) },
	AssertTraceOrder:    func(r *Result, a Assertion) error { return assertTraceOrder(r.Trace, a) },
	AssertTraceCount:    func(r *Result, a Assertion) error { return assertTraceCount(r.Trace, a) },
	AssertFinalState:    func(r *Result, a Assertion) error { return assertFinalState(r.State, a) },
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		check, ok := checks[a.Type]
		if !ok {
			failures = append(failures, fmt.Sprintf("assertion[%d]: unknown assertion type %q", i, a.Type))
			continue
		}
		if err := check(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// completions returns the completion events of method, in trace order.
func completions(trace []TraceEvent, method string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.completed() && ev.Method == method {
			out = append(out, ev)
		}
	}
	return out
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range completions(trace, a.Method) {
		if a.Result == nil || matchResult(ev.Result, a.Result) {
			return nil
		}
	}

	want := "method " + a.Method + " completed"
	if a.Result != nil {
		want += fmt.Sprintf(" with %v", a.Result)
	}
	return &AssertionError{Type: AssertTraceContains, Want: want, Got: "not found in trace", Trace: trace}
}

// assertTraceOrder compares first completions only; other completions may
// interleave.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := make([]int, len(a.Methods))
	for i, m := range a.Methods {
		for j, ev := range trace {
			if ev.completed() && ev.Method == m {
				pos[i] = j + 1
				break
			}
		}
		if pos[i] == 0 {
			return &AssertionError{
				Type:  AssertTraceOrder,
				Want:  fmt.Sprintf("all methods completed: %v", a.Methods),
				Got:   "missing method: " + m,
				Trace: trace,
			}
		}
		if i > 0 && pos[i-1] >= pos[i] {
			return &AssertionError{
				Type: AssertTraceOrder,
				Want: fmt.Sprintf("methods in order: %v", a.Methods),
				Got: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					a.Methods[i-1], pos[i-1], m, pos[i]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := len(completions(trace, a.Method))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:  AssertTraceCount,
		Want:  fmt.Sprintf("%d completions of %s", a.Count, a.Method),
		Got:   fmt.Sprintf("%d completions", n),
		Trace: trace,
	}
}

// assertFinalState matches the persisted snapshot against Expect as a subset.
func assertFinalState(snapshot map[string]any, a Assertion) error {
	if snapshot == nil {
		return &AssertionError{
			Type: AssertFinalState,
			Want: fmt.Sprintf("persisted state containing %v", a.Expect),
			Got:  "no state persisted",
		}
	}
	for key, want := range a.Expect {
		got, ok := snapshot[key]
		switch {
		case !ok:
			return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("%s = %v", key, want), Got: key + " missing"}
		case !matchResult(got, want):
			return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("%s = %v", key, want), Got: fmt.Sprintf("%s = %v", key, got)}
		}
	}
	return nil
}

// matchResult treats expected maps as subsets, recursively. Other values
// compare after number normalization.
func matchResult(actual, expected any) bool {
	want, ok := expected.(map[string]any)
	if !ok {
		return valuesEqual(actual, expected)
	}
	got, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for k, v := range want {
		if g, ok := got[k]; !ok || !matchResult(g, v) {
			return false
		}
	}
	return true
}
