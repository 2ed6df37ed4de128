package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knot/internal/ir"
)

func TestApps_Text(t *testing.T) {
	out, _, err := execute(t, "apps")
	require.NoError(t, err)

	assert.Contains(t, out, "cart\n")
	assert.Contains(t, out, "loader\n")
	assert.Contains(t, out, "changes: [errored load reset retry succeeded]")
}

func TestApps_JSON(t *testing.T) {
	out, _, err := execute(t, "apps", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []AppInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "cart", resp.Data[0].Name)
	assert.Contains(t, resp.Data[0].Changes, ir.Tag("checkout"))
	assert.Equal(t, "loader", resp.Data[1].Name)
}
