package cli

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_Defaults(t *testing.T) {
	out, _, err := execute(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "source: defaults")
	assert.Contains(t, out, "max_nr_of_changes: 200")
}

func TestConfigCommand_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("dev_mode = true\nmax_nr_of_changes = 5\n"), 0o644))

	out, _, err := execute(t, "--format", "json", "--config", path, "config")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ConfigOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, path, resp.Data.Source)
	assert.True(t, resp.Data.Config.DevMode)
	assert.Equal(t, 5, resp.Data.Limits.MaxNrOfChanges)
	assert.Equal(t, 10000, resp.Data.Limits.MaxTotalNrOfChanges)
}

func TestConfigCommand_DevModeOffIsUnbounded(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "config")
	require.NoError(t, err)

	var resp struct {
		Data ConfigOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, math.MaxInt, resp.Data.Limits.MaxNrOfChanges)
}
