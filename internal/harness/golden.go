package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/ModelingValueGroup/dclare-sub000/internal/canon"
)

// Snapshot renders the deterministic part of a result as canonical JSON:
// the scenario name, every step's changes and error kind, the final state
// and its fingerprint. Expectation failures are not part of it.
func Snapshot(result *Result) ([]byte, error) {
	steps := make([]any, len(result.Steps))
	for i, step := range result.Steps {
		changes := make([]any, len(step.Changes))
		for j, c := range step.Changes {
			changes[j] = map[string]any{
				"object":   c.Object,
				"property": c.Property,
				"old":      c.Old,
				"new":      c.New,
			}
		}
		entry := map[string]any{
			"name":    step.Name,
			"changes": changes,
		}
		if step.Error != "" {
			entry["error"] = step.Error
		}
		if step.Skipped {
			entry["skipped"] = true
		}
		steps[i] = entry
	}
	return canon.Marshal(map[string]any{
		"scenario":    result.Scenario,
		"steps":       steps,
		"state":       result.State,
		"fingerprint": result.Fingerprint,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(ctx, scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
