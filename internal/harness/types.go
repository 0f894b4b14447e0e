package harness

// ChangeRecord is one non-plumbing value change of a step.
type ChangeRecord struct {
	Object   string `json:"object"`
	Property string `json:"property"`
	Old      any    `json:"old"`
	New      any    `json:"new"`
}

// StepRecord is the outcome of one step. The setup transaction and the
// initial universe transaction are recorded as steps named "setup" and
// "init".
type StepRecord struct {
	Name    string         `json:"name"`
	Changes []ChangeRecord `json:"changes"`
	// Error is the ErrorKind of a failed step.
	Error string `json:"error,omitempty"`
	// Skipped is set for steps after a failure.
	Skipped bool `json:"skipped,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass is true if every expectation matched.
	Pass bool `json:"pass"`

	Steps []StepRecord `json:"steps"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the canonical document of the final state.
	State map[string]any `json:"state"`

	// Fingerprint hashes State.
	Fingerprint string `json:"fingerprint"`
}

// NewResult creates a passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Steps:    []StepRecord{},
		Errors:   []string{},
		State:    map[string]any{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
