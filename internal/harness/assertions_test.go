package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(seq int64, method string, result any) TraceEvent {
	return TraceEvent{Seq: seq, Kind: "method_execution_finished", RunID: "run-1", Method: method, Result: result}
}

var sampleTrace = []TraceEvent{
	{Seq: 1, Kind: "flow_started", RunID: "run-1"},
	{Seq: 2, Kind: "method_execution_started", RunID: "run-1", Method: "fetch"},
	completion(3, "fetch", map[string]any{"status": int64(200), "body": "ok"}),
	completion(4, "parse", int64(7)),
	completion(5, "fetch", nil),
}

func TestAssertTraceContains(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Method: "fetch"}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Method: "fetch", Result: map[string]any{"status": 200}}))
	assert.NoError(t, assertTraceContains(sampleTrace, Assertion{Method: "parse", Result: 7}))

	err := assertTraceContains(sampleTrace, Assertion{Method: "parse", Result: 8})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method parse completed with 8")
	assert.Contains(t, err.Error(), "[4] parse -> 7")

	assert.Error(t, assertTraceContains(sampleTrace, Assertion{Method: "store"}))
}

func TestAssertTraceOrder(t *testing.T) {
	assert.NoError(t, assertTraceOrder(sampleTrace, Assertion{Methods: []string{"fetch", "parse"}}))

	err := assertTraceOrder(sampleTrace, Assertion{Methods: []string{"parse", "fetch"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse (pos 4) should be before fetch (pos 3)")

	err = assertTraceOrder(sampleTrace, Assertion{Methods: []string{"fetch", "store"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing method: store")
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Method: "fetch", Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace, Assertion{Method: "store", Count: 0}))

	err := assertTraceCount(sampleTrace, Assertion{Method: "parse", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 completions")
}

func TestAssertFinalState(t *testing.T) {
	snap := map[string]any{"id": "s1", "count": int64(3), "meta": map[string]any{"a": "x", "b": true}}

	assert.NoError(t, assertFinalState(snap, Assertion{Expect: map[string]any{"count": 3}}))
	assert.NoError(t, assertFinalState(snap, Assertion{Expect: map[string]any{"meta": map[string]any{"b": true}}}))

	err := assertFinalState(snap, Assertion{Expect: map[string]any{"count": 4}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count = 3")

	err = assertFinalState(snap, Assertion{Expect: map[string]any{"missing": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing missing")

	err = assertFinalState(nil, Assertion{Expect: map[string]any{"count": 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no state persisted")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace
	result.State = map[string]any{"count": int64(1)}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Method: "fetch", Count: 2},
		{Type: AssertFinalState, Expect: map[string]any{"count": 2}},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "final_state")
	assert.Contains(t, errs[1], `assertion[2]: unknown assertion type "bogus"`)
}
