package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/knot/internal/apps"
)

// DefaultTimeout bounds each await step when the scenario sets none.
const DefaultTimeout = 5 * time.Second

// Scenario defines a conformance test scenario.
// A scenario starts one bundled application, drives it with changes,
// waits for states and asserts on the recorded transition trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file
	// and prefixes the knot ID.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// App is the registered application to run (see apps.Names).
	App string `yaml:"app"`

	// Timeout bounds each await step (Go duration, default 5s).
	Timeout string `yaml:"timeout,omitempty"`

	// Steps are executed in order against the running knot.
	Steps []Step `yaml:"steps"`

	// FailsWith is the runtime error code the knot is expected to stop
	// with. Empty means the knot must stop cleanly.
	FailsWith string `yaml:"fails_with,omitempty"`

	// Assertions validate the trace and final state.
	// Supported types: state_sequence, trace_contains, trace_order,
	// trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Step is either an accept or an await.
type Step struct {
	// Accept is the change tag to submit.
	Accept string `yaml:"accept,omitempty"`

	// Args are the change fields, encoded to JSON for the app decoder.
	Args map[string]any `yaml:"args,omitempty"`

	// Await is a state tag to wait for. Awaits consume the state stream, so
	// successive awaits for the same tag wait for successive publications.
	Await string `yaml:"await,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state_sequence": the published state tags, in order, starting with the initial state
	// - "trace_contains": a transition with the change (or action) tag and payload fields
	// - "trace_order": change (or action) tags appear in order, not necessarily adjacent
	// - "trace_count": a change (or action) tag appears exactly Count times
	// - "final_state": the last state has tag State and the Expect fields
	Type string `yaml:"type"`

	// Change is the change tag (trace_contains, trace_count).
	Change string `yaml:"change,omitempty"`

	// Action is the action tag (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are expected payload fields of the change or action.
	// Subset match: only the listed fields are compared.
	Args map[string]any `yaml:"args,omitempty"`

	// Changes is the expected change order (trace_order).
	Changes []string `yaml:"changes,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// States is the expected state tag sequence (state_sequence).
	States []string `yaml:"states,omitempty"`

	// State is the expected final state tag (final_state).
	State string `yaml:"state,omitempty"`

	// Expect contains expected final state fields (final_state, subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStateSequence = "state_sequence"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// AwaitTimeout returns the parsed per-await timeout.
func (s *Scenario) AwaitTimeout() time.Duration {
	if s.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.App == "" {
		return fmt.Errorf("app is required")
	}
	if _, ok := apps.Lookup(s.App); !ok {
		return fmt.Errorf("unknown app %q (available: %v)", s.App, apps.Names())
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch {
	case st.Accept != "" && st.Await != "":
		return fmt.Errorf("steps[%d]: accept and await are mutually exclusive", index)
	case st.Accept == "" && st.Await == "":
		return fmt.Errorf("steps[%d]: one of accept or await is required", index)
	case st.Await != "" && st.Args != nil:
		return fmt.Errorf("steps[%d]: args are only valid with accept", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStateSequence:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for state_sequence", index)
		}
	case AssertTraceContains, AssertTraceCount:
		if (a.Change == "") == (a.Action == "") {
			return fmt.Errorf("assertions[%d]: exactly one of change or action is required for %s", index, a.Type)
		}
		if a.Type == AssertTraceCount && a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if (len(a.Changes) == 0) == (len(a.Actions) == 0) {
			return fmt.Errorf("assertions[%d]: exactly one of changes or actions is required for trace_order", index)
		}
	case AssertFinalState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// encodeArgs turns YAML step args into the JSON an app decoder expects.
func encodeArgs(args map[string]any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	return json.Marshal(args)
}
