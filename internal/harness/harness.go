package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/engine"
	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/persist"
	"github.com/roach88/flowkit/internal/state"
	"github.com/roach88/flowkit/internal/store"
)

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Compile the flow file
//  2. Create an engine persisting to the database
//  3. Run every kickoff in order, checking its expect clause
//  4. Evaluate assertions against the trace and the persisted state
//
// The returned error reports problems running the scenario at all; failed
// expectations are recorded in the Result.
func Run(scenario *Scenario) (*Result, error) {
	def, err := compiler.CompileFile(scenario.Flow)
	if err != nil {
		return nil, fmt.Errorf("failed to compile flow: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	container, err := def.NewContainer(state.WithIDGenerator(state.NewFixedGenerator(scenario.StateID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}

	runIDs := make([]string, len(scenario.Kickoffs))
	for i := range runIDs {
		runIDs[i] = fmt.Sprintf("run-%d", i+1)
	}

	rec := &events.Recorder{}
	eng, err := engine.New(def.Registry,
		engine.WithState(container),
		engine.WithLogger(logger),
		engine.WithMaxSteps(scenario.MaxSteps),
		engine.WithRunIDs(state.NewFixedGenerator(runIDs...)),
		engine.WithLoader(st),
		engine.WithSink(rec),
		engine.WithSink(persist.New(st, container, persist.WithLogger(logger))))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	result := NewResult()
	for i, k := range scenario.Kickoffs {
		out, err := eng.Kickoff(ctx, k.Inputs)
		result.Outputs = append(result.Outputs, out)
		checkExpect(result, i, k.Expect, out, err)
	}

	for _, e := range rec.Events() {
		result.Trace = append(result.Trace, traceEvent(e))
	}

	snap, found, err := st.Load(ctx, container.ID())
	if err != nil {
		return nil, err
	}
	if found {
		result.State = snap
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func checkExpect(result *Result, i int, expect *Expect, out any, err error) {
	if expect == nil || expect.Error == "" {
		if err != nil {
			result.AddError(fmt.Sprintf("kickoffs[%d]: unexpected error: %v", i, err))
			return
		}
	} else if err == nil {
		result.AddError(fmt.Sprintf("kickoffs[%d]: expected error containing %q, got none", i, expect.Error))
		return
	} else if !strings.Contains(err.Error(), expect.Error) {
		result.AddError(fmt.Sprintf("kickoffs[%d]: expected error containing %q, got %q", i, expect.Error, err.Error()))
		return
	}

	if expect != nil && expect.Output != nil && !valuesEqual(out, expect.Output) {
		result.AddError(fmt.Sprintf("kickoffs[%d]: output mismatch: expected %v, got %v", i, expect.Output, out))
	}
}

// valuesEqual compares two values by their canonical JSON form, so int and
// int64 or YAML and JSON decoded maps compare equal.
func valuesEqual(actual, expected any) bool {
	a, errA := ir.MarshalCanonical(actual)
	e, errE := ir.MarshalCanonical(expected)
	if errA != nil || errE != nil {
		return false
	}
	return bytes.Equal(a, e)
}
