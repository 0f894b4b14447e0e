package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_Text(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "order_total.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "init: no changes\n")
	assert.Contains(t, out, "setup:\n  l1.amount: 0 -> 3\n")
	assert.Contains(t, out, `  order.lines: ["l1","l2"] -> ["l1"]`)
	assert.Contains(t, out, "PASS order_total (state 4644b243bfaa)")
}

func TestRunCommand_ExpectedFailureStillPasses(t *testing.T) {
	out, _, err := execute(t, "run", filepath.Join(scenariosDir, "runaway.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "enable: failed (too_many_changes)")
	assert.Contains(t, out, "PASS runaway")
}

type runResponse struct {
	Status string `json:"status"`
	Data   struct {
		Scenario    string             `json:"scenario"`
		Pass        bool               `json:"pass"`
		Fingerprint string             `json:"fingerprint"`
		Steps       []json.RawMessage  `json:"steps"`
		Metrics     map[string]float64 `json:"metrics"`
	} `json:"data"`
}

func TestRunCommand_JSONWithMetrics(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run", "--metrics", filepath.Join(scenariosDir, "order_total.yaml"))
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "order_total", resp.Data.Scenario)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, "4644b243bfaa53390ccb8d76b464a28250bf834da20c4231e4b071da39b64a52", resp.Data.Fingerprint)
	assert.Len(t, resp.Data.Steps, 4)
	assert.Equal(t, 1.0, resp.Data.Metrics[`dclare_transactions_total{action="setup"}`])
	assert.Equal(t, 1.0, resp.Data.Metrics[`dclare_transactions_total{action="remove l2"}`])
	assert.Equal(t, 4.0, resp.Data.Metrics["dclare_transaction_duration_seconds_count"])
}

func TestRunCommand_FailingExpectation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: copy
description: "expects the wrong value"
properties:
  - {name: source, type: int}
  - {name: target, type: int}
classes:
  - name: Root
    properties: [source, target]
    rules:
      - {name: copy, kind: copy, from: source, to: target}
objects:
  - {name: root, class: Root}
steps:
  - name: write
    set:
      - {object: root, property: source, value: 2}
    expect:
      state:
        root: {target: 3}
`), 0o644))

	out, _, err := execute(t, "run", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL copy")
	assert.Contains(t, out, `step "write": root.target: got 2, want 3`)
}

func TestRunCommand_MissingFile(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))

	_, _, err := execute(t, "--config", path, "run", filepath.Join(scenariosDir, "order_total.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
