package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ModelingValueGroup/dclare-sub000/internal/canon"
	"github.com/ModelingValueGroup/dclare-sub000/internal/harness"
	"github.com/ModelingValueGroup/dclare-sub000/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Timeout time.Duration
	Metrics bool // collect and print engine metrics
	Trace   bool // switch on every engine trace flag
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	*harness.Result
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and show what every step changed",
		Long: `Run a scenario against a fresh universe.

Prints each step's changes, any failed expectations and the fingerprint of
the final state.

Exit codes:
  0 - All expectations met
  1 - An expectation failed
  2 - Command error (missing file, invalid scenario, etc.)

Examples:
  dclare run scenarios/order_total.yaml
  dclare run scenarios/order_total.yaml --metrics --format json
  dclare run scenarios/runaway.yaml --trace -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "abort the scenario after this long")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "collect Prometheus metrics and print them")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "enable engine trace logging (use with -v)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	base, err := baseConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return err
	}
	scenario, err := harness.LoadScenarioWithConfig(path, base)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Trace {
		scenario.Config.Trace.Universe = true
		scenario.Config.Trace.Mutable = true
		scenario.Config.Trace.Actions = true
		scenario.Config.Trace.RippleOut = true
	}

	runOpts := []harness.Option{harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr()))}
	var registry *prometheus.Registry
	if opts.Metrics {
		registry = prometheus.NewRegistry()
		runOpts = append(runOpts, harness.WithMetrics(metrics.NewPrometheus(registry)))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()
	formatter.VerboseLog("Running %s (%d steps)", scenario.Name, len(scenario.Steps))
	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeExecution, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario could not run", err)
	}

	out := RunOutput{Result: result}
	if registry != nil {
		if out.Metrics, err = gatherMetrics(registry); err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	if formatter.IsJSON() {
		status := "ok"
		if !result.Pass {
			status = "error"
		}
		if err := formatter.JSON(status, out); err != nil {
			return err
		}
	} else {
		printRun(formatter, out)
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func printRun(f *OutputFormatter, out RunOutput) {
	w := f.Writer
	for _, step := range out.Steps {
		switch {
		case step.Skipped:
			fmt.Fprintf(w, "%s: skipped\n", step.Name)
			continue
		case step.Error != "":
			fmt.Fprintf(w, "%s: failed (%s)\n", step.Name, step.Error)
		case len(step.Changes) == 0:
			fmt.Fprintf(w, "%s: no changes\n", step.Name)
		default:
			fmt.Fprintf(w, "%s:\n", step.Name)
		}
		for _, c := range step.Changes {
			fmt.Fprintf(w, "  %s.%s: %s -> %s\n", c.Object, c.Property, text(c.Old), text(c.New))
		}
	}
	if len(out.Metrics) > 0 {
		fmt.Fprintln(w, "metrics:")
		names := make([]string, 0, len(out.Metrics))
		for name := range out.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s %g\n", name, out.Metrics[name])
		}
	}
	f.Verdict(out.Pass, "%s (state %s)", out.Scenario, shortHash(out.Fingerprint))
	for _, e := range out.Errors {
		f.Detail("%s", e)
	}
}

// text renders a change value as canonical JSON.
func text(v any) string {
	data, err := canon.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// gatherMetrics flattens every sample into "name{label=value,...}" keys.
// Histograms report their sample count.
func gatherMetrics(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
