package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
)

// Scenario is a small model plus the host steps run against it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides engine settings. Scenarios run in dev mode unless
	// they switch it off.
	Config config.Config `yaml:"config,omitempty"`

	Properties []PropertySpec `yaml:"properties"`
	Classes    []ClassSpec    `yaml:"classes"`

	// Objects are created up front. The one without parent is the root;
	// the others are placed in their parent by the setup transaction unless
	// detached.
	Objects []ObjectSpec `yaml:"objects"`

	// Steps run one universe transaction each, in order. A step that fails
	// kills the universe; later steps are skipped.
	Steps []Step `yaml:"steps"`

	// Expect is checked against the final state.
	Expect *Expect `yaml:"expect,omitempty"`
}

// PropertySpec declares a property shared by every class that lists it.
type PropertySpec struct {
	Name string `yaml:"name"`
	// Type is one of int, string, bool, set (of objects) or ref (one object).
	Type string `yaml:"type"`
	// Kind is observed (default), plain or constant.
	Kind    string `yaml:"kind,omitempty"`
	Default any    `yaml:"default,omitempty"`

	Mandatory   bool   `yaml:"mandatory,omitempty"`
	Containment bool   `yaml:"containment,omitempty"`
	Opposite    string `yaml:"opposite,omitempty"`
	Scope       string `yaml:"scope,omitempty"`

	// From names the constant a constant is derived from; empty derives
	// from the object name. Suffix is appended to the derived string.
	From   string `yaml:"from,omitempty"`
	Suffix string `yaml:"suffix,omitempty"`
}

// ClassSpec groups properties and rules.
type ClassSpec struct {
	Name       string     `yaml:"name"`
	Properties []string   `yaml:"properties"`
	Rules      []RuleSpec `yaml:"rules,omitempty"`
}

// RuleSpec is one observer of a class.
type RuleSpec struct {
	Name string `yaml:"name"`
	// Kind selects the rule body:
	//   copy:      to = from
	//   sum:       to = sum of from over the elements of over
	//   count:     to = number of elements of over
	//   increment: to = to + 1 while to < until (until 0 never stops)
	//   floor:     to = value whenever to < value
	Kind  string `yaml:"kind"`
	From  string `yaml:"from,omitempty"`
	To    string `yaml:"to"`
	Over  string `yaml:"over,omitempty"`
	Value int    `yaml:"value,omitempty"`
	Until int    `yaml:"until,omitempty"`
	// When names a bool property that must be true for the rule to act.
	When string `yaml:"when,omitempty"`
}

// Rule kinds.
const (
	RuleCopy      = "copy"
	RuleSum       = "sum"
	RuleCount     = "count"
	RuleIncrement = "increment"
	RuleFloor     = "floor"
)

// ObjectSpec creates one mutable.
type ObjectSpec struct {
	Name   string         `yaml:"name"`
	Class  string         `yaml:"class"`
	Parent string         `yaml:"parent,omitempty"`
	Via    string         `yaml:"via,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
	// Detached objects are created but not placed; a step adds them.
	Detached bool `yaml:"detached,omitempty"`
}

// Step is one host transaction.
type Step struct {
	Name   string  `yaml:"name"`
	Set    []Write `yaml:"set,omitempty"`
	Add    []Write `yaml:"add,omitempty"`
	Remove []Write `yaml:"remove,omitempty"`
	// Travel is backward or forward; it replaces the writes.
	Travel string  `yaml:"travel,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Write targets one property of one object. For add and remove Value names
// the element.
type Write struct {
	Object   string `yaml:"object"`
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
}

// Expect lists expected values by object and property, and optionally the
// kind of error the step fails with (see ErrorKind).
type Expect struct {
	State map[string]map[string]any `yaml:"state,omitempty"`
	Error string                    `yaml:"error,omitempty"`
}

// DefaultConfig is the base configuration of scenarios: the engine
// defaults in dev mode.
func DefaultConfig() config.Config {
	cfg := config.Default()
	cfg.DevMode = true
	return cfg
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithConfig(path, DefaultConfig())
}

// LoadScenarioWithConfig reads a scenario file whose config section
// overrides base instead of DefaultConfig.
func LoadScenarioWithConfig(path string, base config.Config) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenarioWithConfig(data, base)
}

// ParseScenario decodes a scenario, rejecting unknown fields, and validates
// it.
func ParseScenario(data []byte) (*Scenario, error) {
	return ParseScenarioWithConfig(data, DefaultConfig())
}

// ParseScenarioWithConfig is ParseScenario starting from base.
func ParseScenarioWithConfig(data []byte, base config.Config) (*Scenario, error) {
	scenario := Scenario{Config: base}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := config.Validate(scenario.Config); err != nil {
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Classes) == 0 {
		return fmt.Errorf("classes list is required and must be non-empty")
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("objects list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		writes := len(step.Set) + len(step.Add) + len(step.Remove)
		switch step.Travel {
		case "":
			if writes == 0 {
				return fmt.Errorf("steps[%d]: set, add, remove or travel is required", i)
			}
		case TravelBackward, TravelForward:
			if writes > 0 {
				return fmt.Errorf("steps[%d]: travel cannot be combined with writes", i)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown travel %q", i, step.Travel)
		}
		if step.Expect != nil && step.Expect.Error != "" && !knownErrorKind(step.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
		}
	}
	if s.Expect != nil && s.Expect.Error != "" {
		return fmt.Errorf("expect: error belongs on a step")
	}
	// References between properties, classes and objects are checked when
	// the model is built.
	_, err := buildModel(s)
	return err
}

// Travel directions.
const (
	TravelBackward = "backward"
	TravelForward  = "forward"
)
