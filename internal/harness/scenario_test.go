package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/order_total.yaml")
	require.NoError(t, err)

	assert.Equal(t, "order_total", scenario.Name)
	assert.True(t, scenario.Config.DevMode, "scenarios default to dev mode")
	assert.Equal(t, 200, scenario.Config.MaxNrOfChanges)
	require.Len(t, scenario.Objects, 3)
	assert.Equal(t, map[string]any{"amount": 3}, scenario.Objects[1].Values)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, []any{"l1"}, scenario.Steps[1].Expect.State["order"]["lines"])
}

func TestLoadScenario_ConfigOverride(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/runaway.yaml")
	require.NoError(t, err)
	assert.Equal(t, 10, scenario.Config.MaxNrOfChanges)
	assert.Equal(t, 10000, scenario.Config.MaxTotalNrOfChanges)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_FromTempDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(copyScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "copy", scenario.Name)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"unknown field", "description:", "descripton:", "failed to parse YAML"},
		{"bad config", "properties:", "config: {max_nr_of_changes: 0}\nproperties:", "invalid scenario config"},
		{"unknown type", "type: int}\n  - {name: target", "type: float}\n  - {name: target", `unknown type "float"`},
		{"unknown rule kind", "kind: copy", "kind: mirror", `unknown rule kind "mirror"`},
		{"rule type mismatch", "{name: target, type: int}", "{name: target, type: string}", `property "target" has type string`},
		{"unknown class", "class: Root}", "class: Nope}", `unknown class "Nope"`},
		{"unknown object", "{object: root,", "{object: ghost,", `unknown object "ghost"`},
		{"bad value", "value: 5}", "value: five}", "is not a int"},
		{"unknown error kind", "state:\n        root: {target: 5}", "error: exploded", `unknown error kind "exploded"`},
		{"no steps", "steps:\n  - name: write", "other:\n  - name: write", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.Replace(copyScenario, tt.from, tt.to, 1)
			require.NotEqual(t, copyScenario, src, "replacement must apply")

			_, err := ParseScenario([]byte(src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_TwoRoots(t *testing.T) {
	src := strings.Replace(copyScenario, "  - {name: root, class: Root}\n", "  - {name: root, class: Root}\n  - {name: other, class: Root}\n", 1)
	_, err := ParseScenario([]byte(src))
	assert.ErrorContains(t, err, "only one object may omit parent")
}

func TestParseScenario_TravelWithWrites(t *testing.T) {
	src := strings.Replace(copyScenario, "  - name: write\n", "  - name: write\n    travel: backward\n", 1)
	_, err := ParseScenario([]byte(src))
	assert.ErrorContains(t, err, "travel cannot be combined with writes")
}

func TestParseScenario_ContainmentNeedsObjects(t *testing.T) {
	src := strings.Replace(copyScenario, "{name: source, type: int}", "{name: source, type: int, containment: true}", 1)
	_, err := ParseScenario([]byte(src))
	assert.ErrorContains(t, err, "containment needs a set or ref type")
}

func TestParseScenarioWithConfig_KeepsBase(t *testing.T) {
	base := DefaultConfig()
	base.RunSequential = true
	base.MaxNrOfHistory = 3

	scenario, err := ParseScenarioWithConfig([]byte(copyScenario), base)
	require.NoError(t, err)
	assert.True(t, scenario.Config.RunSequential)
	assert.Equal(t, 3, scenario.Config.MaxNrOfHistory)
}
