package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_GoldenScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, testContext(t), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

const copyScenario = `
name: copy
description: "copy source into target"
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
      - {object: root, property: source, value: 5}
    expect:
      state:
        root: {target: 5}
`

func TestRun_CopyRule(t *testing.T) {
	scenario, err := ParseScenario([]byte(copyScenario))
	require.NoError(t, err)

	result, err := Run(testContext(t), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, []string{"init", "setup", "write"}, []string{result.Steps[0].Name, result.Steps[1].Name, result.Steps[2].Name})
	assert.Equal(t, []ChangeRecord{
		{Object: "root", Property: "source", Old: 0, New: 5},
		{Object: "root", Property: "target", Old: 0, New: 5},
	}, result.Steps[2].Changes)
	assert.Equal(t, map[string]any{"root": map[string]any{"source": 5, "target": 5}}, result.State)
	assert.Len(t, result.Fingerprint, 64)
}

func TestRun_ReportsMismatches(t *testing.T) {
	src := strings.Replace(copyScenario, "root: {target: 5}", "root: {target: 6}", 1)
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)

	result, err := Run(testContext(t), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, `step "write": root.target: got 5, want 6`, result.Errors[0])
}

func TestRun_UnexpectedErrorSkipsRest(t *testing.T) {
	src := `
name: fail
description: "the first step empties a mandatory property"
properties:
  - {name: label, type: string, mandatory: true, default: x}
classes:
  - name: Root
    properties: [label]
objects:
  - {name: root, class: Root}
steps:
  - name: empty
    set:
      - {object: root, property: label, value: ""}
  - name: never
    set:
      - {object: root, property: label, value: y}
`
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)

	result, err := Run(testContext(t), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Steps, 4)
	assert.Equal(t, ErrorEmptyMandatory, result.Steps[2].Error)
	assert.True(t, result.Steps[3].Skipped)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `step "empty": error = empty_mandatory`)
	assert.Equal(t, `step "never": skipped after failure`, result.Errors[1])
}

func TestRun_ContextCanceled(t *testing.T) {
	scenario, err := ParseScenario([]byte(copyScenario))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, scenario)
	assert.ErrorIs(t, err, context.Canceled)
}
