package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLimits_DevModeOffIsUnbounded(t *testing.T) {
	l := Default().Limits()

	assert.Equal(t, math.MaxInt, l.MaxNrOfChanges)
	assert.Equal(t, math.MaxInt, l.MaxTotalNrOfChanges)
	assert.Equal(t, math.MaxInt, l.MaxNrOfObserved)
	assert.Equal(t, math.MaxInt, l.MaxNrOfObservers)
	assert.Equal(t, 64, l.MaxNrOfHistory, "history is a capacity, not a guard")
	assert.Equal(t, 100, l.MaxInInQueue, "queue size is a capacity, not a guard")
	assert.Positive(t, l.Workers)
}

func TestLimits_DevModeOnKeepsGuards(t *testing.T) {
	cfg := Default()
	cfg.DevMode = true
	cfg.MaxNrOfChanges = 7

	l := cfg.Limits()
	assert.Equal(t, 7, l.MaxNrOfChanges)
	assert.Equal(t, 10000, l.MaxTotalNrOfChanges)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "dclare.yaml", `
dev_mode: true
max_nr_of_changes: 10
run_sequential: true
trace:
  ripple_out: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, 10, cfg.MaxNrOfChanges)
	assert.True(t, cfg.RunSequential)
	assert.True(t, cfg.Trace.RippleOut)
	assert.Equal(t, 1000, cfg.MaxNrOfObservers, "unset fields keep defaults")
}

func TestLoad_YAMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "dclare.yml", "max_changes: 3\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_changes")
}

func TestLoad_EmptyYAMLIsDefault(t *testing.T) {
	path := writeFile(t, "empty.yaml", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "dclare.toml", `
dev_mode = true
max_nr_of_observed = 12
workers = 2

[trace]
actions = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, 12, cfg.MaxNrOfObserved)
	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.Trace.Actions)
}

func TestLoad_TOMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "dclare.toml", "devmode = true\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "devmode")
}

func TestLoad_SchemaViolation(t *testing.T) {
	path := writeFile(t, "dclare.yaml", "max_nr_of_changes: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "dclare.json", "{}")
	_, err := Load(path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
