package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStateID is the state id used when a scenario does not set one.
const DefaultStateID = "test-state"

// Scenario defines a flow test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flow is the path of the flow file. LoadScenario resolves it relative
	// to the scenario file.
	Flow string `yaml:"flow"`

	// StateID fixes the flow instance id. Defaults to DefaultStateID.
	StateID string `yaml:"state_id,omitempty"`

	// MaxSteps bounds every kickoff; 0 means unbounded.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Kickoffs run in order on the same engine, so later kickoffs see the
	// state left by earlier ones.
	Kickoffs []Kickoff `yaml:"kickoffs"`

	// Assertions validate the final trace and persisted state.
	Assertions []Assertion `yaml:"assertions"`
}

// Kickoff is one run of the flow.
type Kickoff struct {
	Inputs map[string]any `yaml:"inputs,omitempty"`
	Expect *Expect        `yaml:"expect,omitempty"`
}

// Expect specifies the outcome of a kickoff.
type Expect struct {
	// Output is compared with the final output in canonical JSON form.
	// Nil means the output is not checked.
	Output any `yaml:"output,omitempty"`

	// Error, when set, must be a substring of the kickoff error. When empty
	// the kickoff must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": method completed, with Result if set
	// - "trace_order": Methods first completed in order
	// - "trace_count": method completed exactly Count times
	// - "final_state": persisted snapshot contains Expect
	Type string `yaml:"type"`

	// Method is the method name (trace_contains, trace_count).
	Method string `yaml:"method,omitempty"`

	// Result is the expected result (trace_contains). Maps are matched as
	// subsets.
	Result any `yaml:"result,omitempty"`

	// Methods is the expected completion order (trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Count is the expected number of completions (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads a scenario file and resolves its flow path against
// the scenario's directory. The flow file must exist.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(sc.Flow) {
		sc.Flow = filepath.Join(filepath.Dir(path), sc.Flow)
	}
	if _, err := os.Stat(sc.Flow); err != nil {
		return nil, fmt.Errorf("invalid scenario: flow file not found: %s", sc.Flow)
	}
	return sc, nil
}

// ParseScenario decodes scenario YAML. Unknown keys are rejected so a
// misspelled "assertion:" fails instead of silently asserting nothing.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if sc.StateID == "" {
		sc.StateID = DefaultStateID
	}
	return &sc, nil
}

func (s *Scenario) validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is required")
	case s.Flow == "":
		return errors.New("flow is required")
	case s.MaxSteps < 0:
		return errors.New("max_steps must be non-negative")
	case len(s.Kickoffs) == 0:
		return errors.New("kickoffs list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if msg := s.Assertions[i].problem(); msg != "" {
			return fmt.Errorf("assertions[%d]: %s", i, msg)
		}
	}
	return nil
}

// problem describes what is missing from a, or returns "".
func (a *Assertion) problem() string {
	switch a.Type {
	case "":
		return "type is required"
	case AssertTraceContains, AssertTraceCount:
		if a.Method == "" {
			return "method is required for " + a.Type
		}
		if a.Count < 0 {
			return "count must be non-negative for " + a.Type
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return "methods list is required for trace_order"
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return "expect is required for final_state"
		}
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	return ""
}
