package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/knot/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", FormatEvent(event))
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStateSequence:
			err = assertStateSequence(result.Trace, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertStateSequence checks the published state tags, initial state
// included, against the expected list exactly.
func assertStateSequence(trace []TraceEvent, assertion Assertion) error {
	actual := make([]string, len(trace))
	for i, event := range trace {
		actual[i] = string(event.State)
	}

	if !slices.Equal(actual, assertion.States) {
		return &AssertionError{
			Type:     AssertStateSequence,
			Expected: strings.Join(assertion.States, " → "),
			Actual:   strings.Join(actual, " → "),
			Trace:    trace,
		}
	}
	return nil
}

// selector picks the tag and payload an assertion targets from an event:
// the change when assertion.Change is set, otherwise the action.
type selector struct {
	kind string
	tag  func(TraceEvent) ir.Tag
	args func(TraceEvent) json.RawMessage
}

var (
	changeSelector = selector{
		kind: "change",
		tag:  func(e TraceEvent) ir.Tag { return e.Change },
		args: func(e TraceEvent) json.RawMessage { return e.ChangeArgs },
	}
	actionSelector = selector{
		kind: "action",
		tag:  func(e TraceEvent) ir.Tag { return e.Action },
		args: func(e TraceEvent) json.RawMessage { return e.ActionArgs },
	}
)

func selectorFor(a Assertion) (selector, string) {
	if a.Change != "" {
		return changeSelector, a.Change
	}
	return actionSelector, a.Action
}

// assertTraceContains checks if the trace contains a change or action
// with the specified tag whose payload matches Args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	sel, tag := selectorFor(assertion)

	for _, event := range trace {
		if string(sel.tag(event)) == tag && matchArgs(sel.args(event), assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s %s with args %v", sel.kind, tag, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if tags appear in the specified order.
// Tags don't need to be consecutive (intervening events are allowed), and
// repeated tags match successive occurrences.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	sel, expected := changeSelector, assertion.Changes
	if len(expected) == 0 {
		sel, expected = actionSelector, assertion.Actions
	}

	next := 0
	for _, event := range trace {
		if next < len(expected) && string(sel.tag(event)) == expected[next] {
			next++
		}
	}

	if next < len(expected) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("%ss in order: %v", sel.kind, expected),
			Actual:   fmt.Sprintf("matched %v, then no %s %s", expected[:next], sel.kind, expected[next]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks if the tag appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	sel, tag := selectorFor(assertion)

	count := 0
	for _, event := range trace {
		if string(sel.tag(event)) == tag {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s %s", assertion.Count, sel.kind, tag),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the last recorded state's tag and fields.
func assertFinalState(result *Result, assertion Assertion) error {
	final, ok := result.Final()
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("final state %s", assertion.State),
			Actual:   "empty trace",
		}
	}

	if string(final.State) != assertion.State {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("final state %s", assertion.State),
			Actual:   fmt.Sprintf("final state %s %s", final.State, final.StateData),
		}
	}

	fields, err := decodeObject(final.StateData)
	if err != nil && len(assertion.Expect) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s fields %v", assertion.State, assertion.Expect),
			Actual:   fmt.Sprintf("undecodable state %s: %v", final.StateData, err),
		}
	}

	for _, key := range sortedKeys(assertion.Expect) {
		actual, exists := fields[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("state %s", final.StateData),
			}
		}
		if !valuesEqual(actual, assertion.Expect[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, assertion.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, actual),
			}
		}
	}

	return nil
}

// matchArgs checks if the payload contains all expected fields (subset match).
// Extra fields in the payload are ignored.
func matchArgs(payload json.RawMessage, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actual, err := decodeObject(payload)
	if err != nil {
		return false
	}

	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func decodeObject(payload json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// valuesEqual compares a decoded JSON value with a YAML-parsed one.
// The expected side goes through a JSON round trip so that YAML ints and
// JSON numbers (float64) compare equal, recursively.
func valuesEqual(actual, expected any) bool {
	b, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return false
	}
	return reflect.DeepEqual(actual, normalized)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
