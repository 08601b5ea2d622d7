// Package harness runs scenario files against compiled flows.
//
// A scenario names a flow file, kicks it off one or more times on a single
// engine and then asserts on the recorded event trace and on the state
// snapshot persisted at the end.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	flow: ../flows/counter.yaml
//	state_id: counter-1
//	max_steps: 100
//	kickoffs:
//	  - inputs: { start: 0 }
//	    expect:
//	      output: finished at 3
//	assertions:
//	  - type: trace_count
//	    method: tick
//	    count: 3
//	  - type: trace_order
//	    methods: [tick, check, finish]
//	  - type: final_state
//	    expect: { count: 3 }
//
// The flow path is resolved relative to the scenario file.
//
// # Assertion Types
//
//   - trace_contains: a method completed, optionally with a given result
//   - trace_order: methods first completed in the listed order
//   - trace_count: a method completed exactly N times
//   - final_state: the persisted snapshot contains the expected values
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store with a fixed
// state id and run ids "run-1", "run-2" and so on, so a flow whose methods
// complete in a fixed order always yields the same trace. Flows with
// concurrent branches produce a valid but unordered trace; use trace_count
// and final_state for those instead of golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/counter.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
