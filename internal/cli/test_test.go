package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenarioDir = "../harness/testdata/scenarios"
	goldenDir   = "../harness/testdata/golden"
)

func TestTest_AllScenariosPass(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--golden", goldenDir)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ loader_retry")
	assert.Contains(t, out, "✓ cart_declined")
	assert.Contains(t, out, "7 passed, 0 failed, 7 total")
}

func TestTest_JSONOutput(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--golden", goldenDir, "--format", "json", "--filter", "cart_*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
	for _, sr := range resp.Data.Scenarios {
		assert.True(t, sr.Pass, sr.Name)
		assert.Equal(t, "match", sr.Golden, sr.Name)
	}
}

func TestTest_FailingScenario(t *testing.T) {
	out, _, err := execute(t, "test", "../harness/testdata/invalid/failing.yaml")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTest_UnloadableScenario(t *testing.T) {
	out, _, err := execute(t, "test", "../harness/testdata/invalid/unknown_field.yaml")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestTest_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()

	out, _, err := execute(t, "test", filepath.Join(scenarioDir, "loader_success.yaml"), "--golden", golden, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "loader_success.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "loader_success.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// A second run compares against the file just written
	out, _, err = execute(t, "test", filepath.Join(scenarioDir, "loader_success.yaml"), "--golden", golden)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "(golden updated)")
}

func TestTest_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "loader_success.golden"), []byte("scenario: stale\n"), 0o644))

	out, _, err := execute(t, "test", filepath.Join(scenarioDir, "loader_success.yaml"), "--golden", golden)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_MissingGoldenPasses(t *testing.T) {
	out, _, err := execute(t, "test", filepath.Join(scenarioDir, "loader_success.yaml"), "--golden", t.TempDir(), "--format", "json")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"golden":"missing"`)
}

func TestTest_MissingPath(t *testing.T) {
	_, _, err := execute(t, "test", "does/not/exist")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_BadFilter(t *testing.T) {
	_, _, err := execute(t, "test", scenarioDir, "--filter", "[")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_FilterMatchesNothing(t *testing.T) {
	out, _, err := execute(t, "test", scenarioDir, "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestFilterScenarios(t *testing.T) {
	files := []string{"a/loader_retry.yaml", "a/cart_checkout.yml", "b/loader_success.yaml"}

	got, err := filterScenarios(files, "loader_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/loader_retry.yaml", "b/loader_success.yaml"}, got)

	got, err = filterScenarios(files, "")
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestGoldenPath(t *testing.T) {
	opts := &TestOptions{}
	assert.Equal(t, filepath.Join("s", "golden", "x.golden"), goldenPath(opts, filepath.Join("s", "x.yaml"), "x"))

	opts.Golden = "g"
	assert.Equal(t, filepath.Join("g", "x.golden"), goldenPath(opts, filepath.Join("s", "x.yaml"), "x"))
}
