package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_Scenarios(t *testing.T) {
	a := filepath.Join(scenariosDir, "order_total.yaml")
	b := filepath.Join(scenariosDir, "constants.yaml")

	out, _, err := execute(t, "validate", a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS "+a)
	assert.Contains(t, out, "PASS "+b)
}

func TestValidateCommand_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\nbogus: 1\n"), 0o644))

	out, _, err := execute(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Files, 1)
	assert.Contains(t, resp.Data.Files[0].Error, "failed to parse YAML")
}

func TestValidateCommand_Config(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(good, []byte("dev_mode = true\nmax_nr_of_changes = 50\n"), 0o644))
	bad := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_nr_of_changes: -1\n"), 0o644))

	out, _, err := execute(t, "validate", "--kind", "config", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "PASS "+good)
	assert.Contains(t, out, "FAIL "+bad)
}

func TestValidateCommand_UnknownKind(t *testing.T) {
	_, _, err := execute(t, "validate", "--kind", "spec", "x.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
