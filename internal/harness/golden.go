package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowkit/internal/ir"
)

// MarshalTrace renders the golden form of a scenario result: canonical JSON
// with sorted keys, and with method and result left out of events that
// have none.
func MarshalTrace(scenario *Scenario, result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, ev := range result.Trace {
		m := map[string]any{"seq": ev.Seq, "kind": ev.Kind, "run_id": ev.RunID}
		if ev.Method != "" {
			m["method"] = ev.Method
		}
		if ev.Result != nil {
			m["result"] = ev.Result
		}
		events = append(events, m)
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenario.Name,
		"state_id":      scenario.StateID,
		"outputs":       result.Outputs,
		"trace":         events,
	})
}

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden, failing t on mismatch. Pass -update to
// rewrite the fixture.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	data, err := MarshalTrace(scenario, result)
	if err != nil {
		return nil, err
	}

	goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	).Assert(t, scenario.Name, data)
	return result, nil
}
