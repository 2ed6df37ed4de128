package harness

import (
	"encoding/json"

	"github.com/roach88/knot/internal/ir"
)

// TraceEvent is one recorded transition as the harness sees it.
// Payloads are the raw JSON encodings written by the journal.
type TraceEvent struct {
	Seq        int64           `json:"seq"`
	Origin     ir.Origin       `json:"origin"`
	Change     ir.Tag          `json:"change,omitempty"`
	From       ir.Tag          `json:"from,omitempty"`
	State      ir.Tag          `json:"state"`
	Action     ir.Tag          `json:"action,omitempty"`
	ChangeArgs json.RawMessage `json:"change_args,omitempty"`
	StateData  json.RawMessage `json:"state_data,omitempty"`
	ActionArgs json.RawMessage `json:"action_args,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// KnotID identifies the knot the trace was read for.
	KnotID string `json:"knot_id"`

	// Pass indicates overall test success.
	// True if every step completed and all assertions match.
	Pass bool `json:"pass"`

	// Trace contains every recorded transition in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Final returns the last trace event, or false for an empty trace.
func (r *Result) Final() (TraceEvent, bool) {
	if len(r.Trace) == 0 {
		return TraceEvent{}, false
	}
	return r.Trace[len(r.Trace)-1], true
}

// EventFromTransition converts a journal row to a trace event.
func EventFromTransition(t ir.Transition) TraceEvent {
	return TraceEvent{
		Seq:        t.Seq,
		Origin:     t.Origin,
		Change:     t.ChangeTag,
		From:       t.FromTag,
		State:      t.StateTag,
		Action:     t.ActionTag,
		ChangeArgs: raw(t.Change),
		StateData:  raw(t.State),
		ActionArgs: raw(t.Action),
	}
}

func raw(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
