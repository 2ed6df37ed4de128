package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatEvent renders one trace event on a single line:
//
//	#3 trigger change=retry{} state=loading{"url":"flaky:1:x","attempt":2} action=fetch{...}
//
// Payloads are the journal's JSON, so the rendering is deterministic for
// a deterministic run.
func FormatEvent(e TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s", e.Seq, e.Origin)
	if e.Change != "" {
		fmt.Fprintf(&b, " change=%s%s", e.Change, e.ChangeArgs)
	}
	fmt.Fprintf(&b, " state=%s%s", e.State, e.StateData)
	if e.Action != "" {
		fmt.Fprintf(&b, " action=%s%s", e.Action, e.ActionArgs)
	}
	return b.String()
}

// FormatTrace renders a scenario trace: a header line, then one line per event.
func FormatTrace(scenario string, trace []TraceEvent) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenario)
	for _, e := range trace {
		b.WriteString(FormatEvent(e))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// AssertGolden compares the result's trace against a golden file stored in
// testdata/golden/{result.Scenario}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Scenario, FormatTrace(result.Scenario, result.Trace))
}
