// Package metrics records engine activity.
//
// The engine reports through the Recorder interface. Noop discards
// everything; Prometheus exports counters and a duration histogram through a
// caller-supplied registerer so tests can use an isolated registry.
//
// All Recorder implementations must be safe for concurrent use: observer
// runs and merges are reported from parallel branches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dclare"

// Recorder receives engine events.
type Recorder interface {
	// TransactionCompleted is called once per committed universe transaction.
	TransactionCompleted(action string, d time.Duration)
	// ObserverRun is called once per observer run with its effective changes.
	ObserverRun(observer string, changes int)
	// Merge is called once per parallel merge.
	Merge(branches int)
	// MergeConflict is called when a batch falls back to sequential execution.
	MergeConflict()
	// Deferred is called for every ripple-out deferral.
	Deferred(level string)
	// QueueDepth reports the input queue length.
	QueueDepth(n int)
	// Killed is called when the universe is killed.
	Killed()
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) TransactionCompleted(string, time.Duration) {}
func (Noop) ObserverRun(string, int)                    {}
func (Noop) Merge(int)                                  {}
func (Noop) MergeConflict()                             {}
func (Noop) Deferred(string)                            {}
func (Noop) QueueDepth(int)                             {}
func (Noop) Killed()                                    {}

// Tee forwards every event to all recorders.
func Tee(recorders ...Recorder) Recorder {
	var rs tee
	for _, r := range recorders {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return rs
}

type tee []Recorder

func (t tee) TransactionCompleted(action string, d time.Duration) {
	for _, r := range t {
		r.TransactionCompleted(action, d)
	}
}

func (t tee) ObserverRun(observer string, changes int) {
	for _, r := range t {
		r.ObserverRun(observer, changes)
	}
}

func (t tee) Merge(branches int) {
	for _, r := range t {
		r.Merge(branches)
	}
}

func (t tee) MergeConflict() {
	for _, r := range t {
		r.MergeConflict()
	}
}

func (t tee) Deferred(level string) {
	for _, r := range t {
		r.Deferred(level)
	}
}

func (t tee) QueueDepth(n int) {
	for _, r := range t {
		r.QueueDepth(n)
	}
}

func (t tee) Killed() {
	for _, r := range t {
		r.Killed()
	}
}

// Prometheus exports engine events as Prometheus collectors.
type Prometheus struct {
	// Transactions counts committed universe transactions by action.
	Transactions *prometheus.CounterVec
	// TransactionSeconds measures universe transaction duration.
	TransactionSeconds prometheus.Histogram
	// ObserverRuns counts observer runs by observer.
	ObserverRuns *prometheus.CounterVec
	// Changes counts effective writes made by observers.
	Changes prometheus.Counter
	// Merges counts parallel merges.
	Merges prometheus.Counter
	// MergeBranches counts merged branch states.
	MergeBranches prometheus.Counter
	// MergeConflicts counts batches rerun sequentially.
	MergeConflicts prometheus.Counter
	// Deferrals counts ripple-out deferrals by priority.
	Deferrals *prometheus.CounterVec
	// QueueLength is the input queue length.
	QueueLength prometheus.Gauge
	// Kills counts killed universes.
	Kills prometheus.Counter
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Committed universe transactions by action",
		}, []string{"action"}),
		TransactionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Duration of universe transactions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		ObserverRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_runs_total",
			Help:      "Observer runs by observer",
		}, []string{"observer"}),
		Changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_changes_total",
			Help:      "Effective writes made by observer runs",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Parallel merges",
		}),
		MergeBranches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_branches_total",
			Help:      "Branch states combined by parallel merges",
		}),
		MergeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Batches rerun sequentially after a merge conflict",
		}),
		Deferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferrals_total",
			Help:      "Ripple-out deferrals by priority",
		}, []string{"priority"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_queue_length",
			Help:      "Actions waiting in the universe input queue",
		}),
		Kills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Universes killed by a fatal error",
		}),
	}
	reg.MustRegister(
		p.Transactions,
		p.TransactionSeconds,
		p.ObserverRuns,
		p.Changes,
		p.Merges,
		p.MergeBranches,
		p.MergeConflicts,
		p.Deferrals,
		p.QueueLength,
		p.Kills,
	)
	return p
}

func (p *Prometheus) TransactionCompleted(action string, d time.Duration) {
	p.Transactions.WithLabelValues(action).Inc()
	p.TransactionSeconds.Observe(d.Seconds())
}

func (p *Prometheus) ObserverRun(observer string, changes int) {
	p.ObserverRuns.WithLabelValues(observer).Inc()
	p.Changes.Add(float64(changes))
}

func (p *Prometheus) Merge(branches int) {
	p.Merges.Inc()
	p.MergeBranches.Add(float64(branches))
}

func (p *Prometheus) MergeConflict() { p.MergeConflicts.Inc() }

func (p *Prometheus) Deferred(level string) { p.Deferrals.WithLabelValues(level).Inc() }

func (p *Prometheus) QueueDepth(n int) { p.QueueLength.Set(float64(n)) }

func (p *Prometheus) Killed() { p.Kills.Inc() }
