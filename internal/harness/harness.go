package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/ModelingValueGroup/dclare-sub000/internal/canon"
	"github.com/ModelingValueGroup/dclare-sub000/internal/engine"
	"github.com/ModelingValueGroup/dclare-sub000/internal/metrics"
)

// runner executes one scenario against a fresh universe.
type runner struct {
	logger  *slog.Logger
	metrics metrics.Recorder
	model   *model
	u       *engine.UniverseTransaction
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger handed to the universe. Logs are discarded by
// default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

// WithMetrics sets the metrics recorder handed to the universe.
func WithMetrics(rec metrics.Recorder) Option {
	return func(r *runner) { r.metrics = rec }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh universe with a sequence id generator.
// Execution flow:
// 1. Build classes, properties, rules and objects from the scenario
// 2. Start the universe and wait for the init transaction
// 3. Place the objects in the setup transaction
// 4. Run the steps, checking each step's expectations
// 5. Check the final expectations and fingerprint the final state
//
// Expectation mismatches are reported in the result; the returned error is
// for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	m, err := buildModel(scenario)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	r := &runner{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics.Noop{},
		model:   m,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.u = engine.NewUniverse(m.root,
		engine.WithConfig(scenario.Config),
		engine.WithLogger(r.logger.With("scenario", scenario.Name)),
		engine.WithMetrics(r.metrics),
		engine.WithIDGenerator(engine.NewSequenceGenerator(scenario.Name)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.u.Start(runCtx); err != nil {
		return nil, fmt.Errorf("failed to start universe: %w", err)
	}
	defer func() {
		r.u.Stop()
		_, _ = r.u.WaitForEnd(ctx)
	}()

	result := NewResult(scenario.Name)
	prev := engine.NewState()
	failed := false

	record := func(name string, s engine.State, stepErr error, expect *Expect) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := StepRecord{Name: name, Changes: changes(prev, s), Error: ErrorKind(stepErr)}
		result.Steps = append(result.Steps, rec)
		r.checkStep(result, name, s, stepErr, expect)
		prev = s
		failed = stepErr != nil
		return nil
	}

	s, err := r.u.WaitForIdle(ctx)
	if err := record("init", s, err, nil); err != nil {
		return nil, err
	}
	if !failed {
		s, err = r.u.PutAndWaitForIdle(ctx, m.setup())
		if err := record("setup", s, err, nil); err != nil {
			return nil, err
		}
	}
	for _, step := range scenario.Steps {
		if failed {
			result.Steps = append(result.Steps, StepRecord{Name: step.Name, Changes: []ChangeRecord{}, Skipped: true})
			result.AddError(fmt.Sprintf("step %q: skipped after failure", step.Name))
			continue
		}
		s, err = r.step(ctx, step)
		if err := record(step.Name, s, err, step.Expect); err != nil {
			return nil, err
		}
	}

	final := r.u.CurrentState()
	if scenario.Expect != nil {
		r.checkState(result, "final", final, scenario.Expect.State)
	}
	if result.State, err = canon.StateDocument(final); err != nil {
		return nil, fmt.Errorf("rendering final state: %w", err)
	}
	if result.Fingerprint, err = canon.Fingerprint(canon.DomainState, result.State); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *runner) step(ctx context.Context, step Step) (engine.State, error) {
	switch step.Travel {
	case TravelBackward:
		if err := r.u.Backward(ctx); err != nil {
			return r.u.CurrentState(), err
		}
		return r.u.WaitForIdle(ctx)
	case TravelForward:
		if err := r.u.Forward(ctx); err != nil {
			return r.u.CurrentState(), err
		}
		return r.u.WaitForIdle(ctx)
	}
	a, err := r.model.action(step)
	if err != nil {
		return r.u.CurrentState(), err
	}
	return r.u.PutAndWaitForIdle(ctx, a)
}

// checkStep compares the outcome of a step with its expectations. A step
// without an expected error must succeed.
func (r *runner) checkStep(result *Result, name string, s engine.State, err error, expect *Expect) {
	want := ""
	if expect != nil {
		want = expect.Error
	}
	if got := ErrorKind(err); got != want {
		if err != nil {
			result.AddError(fmt.Sprintf("step %q: error = %s (%v), want %q", name, got, err, want))
		} else {
			result.AddError(fmt.Sprintf("step %q: no error, want %q", name, want))
		}
	}
	if expect != nil {
		r.checkState(result, "step "+fmt.Sprintf("%q", name), s, expect.State)
	}
}

func (r *runner) checkState(result *Result, where string, s engine.State, want map[string]map[string]any) {
	objects := make([]string, 0, len(want))
	for name := range want {
		objects = append(objects, name)
	}
	sort.Strings(objects)
	for _, object := range objects {
		props := make([]string, 0, len(want[object]))
		for name := range want[object] {
			props = append(props, name)
		}
		sort.Strings(props)
		for _, prop := range props {
			r.checkValue(result, where, s, object, prop, want[object][prop])
		}
	}
}

func (r *runner) checkValue(result *Result, where string, s engine.State, object, prop string, raw any) {
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("%s: %s.%s: ", where, object, prop) + fmt.Sprintf(format, args...))
	}
	o, err := r.model.object(object)
	if err != nil {
		fail("%v", err)
		return
	}
	expected, err := r.model.value(prop, raw)
	if err != nil {
		fail("%v", err)
		return
	}
	p := r.model.props[prop]
	var actual any
	if r.model.specs[prop].Kind == KindConstant {
		if actual, err = r.u.Constants().Get(o, p); err != nil {
			fail("%v", err)
			return
		}
	} else {
		actual = s.Get(o, p)
	}
	got, want := render(actual), render(expected)
	if got != want {
		fail("got %s, want %s", got, want)
	}
}

// render returns the canonical JSON text of a value; nil renders as "".
func render(v any) string {
	c, err := renderValue(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	data, err := canon.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

func renderValue(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	return canon.Value(v)
}

// changes lists the non-plumbing changes from pre to post, sorted by object
// and property name.
func changes(pre, post engine.State) []ChangeRecord {
	out := []ChangeRecord{}
	pre.DiffFunc(post, nil, engine.NonPlumbing, func(c engine.Change) {
		old, errOld := renderValue(c.Old)
		nw, errNew := renderValue(c.New)
		if errOld != nil || errNew != nil {
			return
		}
		out = append(out, ChangeRecord{
			Object:   c.Object.Identity().Name(),
			Property: c.Property.Name(),
			Old:      old,
			New:      nw,
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Object != out[j].Object {
			return out[i].Object < out[j].Object
		}
		return out[i].Property < out[j].Property
	})
	return out
}
