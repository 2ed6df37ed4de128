package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knot/internal/ir"
	"github.com/roach88/knot/internal/store"
)

// recordRun runs the loader with a journal and returns the database path.
func recordRun(t *testing.T, url string) string {
	t.Helper()

	db := filepath.Join(t.TempDir(), "knot.db")
	_, _, err := execute(t, "run", "loader", "--db", db,
		"--change", `load={"url":"`+url+`"}`, "--await", "loaded")
	require.NoError(t, err)
	return db
}

func TestTrace_LatestKnot(t *testing.T) {
	db := recordRun(t, "flaky:1:hi")

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err, out)

	assert.Contains(t, out, "(loader, engine ")
	assert.Contains(t, out, "#0 initial state=idle{}")
	assert.Contains(t, out, "trigger change=retry{}")
	assert.Contains(t, out, `state=loaded{"url":"flaky:1:hi","body":"hi"}`)
	assert.Contains(t, out, "5 transitions (5 shown), last seq 4, 2 actions")
}

func TestTrace_JSONAndFilters(t *testing.T) {
	db := recordRun(t, "flaky:1:hi")

	out, _, err := execute(t, "trace", "--db", db, "--format", "json", "--state", "loading")
	require.NoError(t, err, out)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "loader", resp.Data.Knot.Name)
	assert.Equal(t, 5, resp.Data.Stats.Transitions)
	assert.Equal(t, 2, resp.Data.Stats.Shown)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, ir.OriginExternal, resp.Data.Timeline[0].Origin)
	assert.Equal(t, ir.OriginTrigger, resp.Data.Timeline[1].Origin)

	// Tracing by ID finds the same knot
	out, _, err = execute(t, "trace", "--db", db, resp.Data.Knot.ID, "--change", "nothing")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no matching transitions")
}

func TestTrace_List(t *testing.T) {
	db := recordRun(t, "ok:a")

	out, _, err := execute(t, "trace", "--db", db, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "loader")
	assert.Contains(t, out, "3 transitions, last seq 2")
}

func TestTrace_UnknownKnot(t *testing.T) {
	db := recordRun(t, "ok:a")

	_, _, err := execute(t, "trace", "--db", db, "missing-id")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "knot not found")
}

func TestTrace_MissingDatabase(t *testing.T) {
	_, _, err := execute(t, "trace", "--db", filepath.Join(t.TempDir(), "none.db"))

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")
}

func TestTrace_RequiresDB(t *testing.T) {
	_, _, err := execute(t, "trace")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), `"db"`))
}

func TestBuildTrace_Stats(t *testing.T) {
	transitions := []ir.Transition{
		{Seq: 0, Origin: ir.OriginInitial, StateTag: "idle", State: `{}`},
		{Seq: 1, Origin: ir.OriginExternal, ChangeTag: "load", StateTag: "loading", ActionTag: "fetch", Change: `{"url":"u"}`, State: `{}`, Action: `{}`},
		{Seq: 2, Origin: ir.OriginAction, ChangeTag: "succeeded", StateTag: "loaded", State: `{}`},
	}

	result := buildTrace(store.Knot{ID: "k"}, transitions, &TraceOptions{Change: "load"})

	assert.Equal(t, 3, result.Stats.Transitions)
	assert.Equal(t, 1, result.Stats.Shown)
	assert.Equal(t, int64(2), result.Stats.LastSeq)
	assert.Equal(t, 1, result.Stats.Actions)
	assert.Equal(t, map[ir.Origin]int{ir.OriginInitial: 1, ir.OriginExternal: 1, ir.OriginAction: 1}, result.Stats.ByOrigin)
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, ir.Tag("load"), result.Timeline[0].Change)
	assert.JSONEq(t, `{"url":"u"}`, string(result.Timeline[0].ChangeArgs))
}

func TestBuildTrace_Empty(t *testing.T) {
	result := buildTrace(store.Knot{ID: "k"}, nil, &TraceOptions{})
	assert.Equal(t, int64(-1), result.Stats.LastSeq)
	assert.Empty(t, result.Timeline)
}
