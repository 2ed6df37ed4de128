// Package harness runs YAML scenarios against the bundled applications and
// checks the transition trace they leave in the journal.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: loader_retry
//	description: "A flaky fetch fails once, retries and loads"
//	app: loader
//	timeout: 2s
//	steps:
//	  - accept: load
//	    args: { url: "flaky:1:hello" }
//	  - await: loaded
//	assertions:
//	  - type: state_sequence
//	    states: [idle, loading, failed, loading, loaded]
//	  - type: trace_contains
//	    action: fetch
//	    args: { attempt: 2 }
//	  - type: trace_order
//	    changes: [load, errored, retry, succeeded]
//	  - type: trace_count
//	    change: retry
//	    count: 1
//	  - type: final_state
//	    state: loaded
//	    expect: { body: hello }
//
// Steps run in order. accept submits a change by tag with its fields as
// args; await blocks until the next published state with the given tag.
// After the steps the knot is stopped, and the trace is read back from a
// fresh in-memory journal. fails_with names the runtime error code a
// scenario expects the knot to stop with.
//
// # Determinism
//
// Knot IDs are "<scenario name>-1", so identical runs yield identical
// journals. A trace is deterministic when every change after an accept is
// caused by the previous one; scenarios that race accepts against worker
// feedback should assert with trace_contains and trace_count rather than
// golden files.
//
// # Golden Files
//
// AssertGolden compares FormatTrace output with
// testdata/golden/<name>.golden using goldie.
package harness
