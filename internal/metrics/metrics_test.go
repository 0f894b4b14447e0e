package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPrometheus(t *testing.T) (*Prometheus, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheus(reg), reg
}

func TestPrometheus_Counts(t *testing.T) {
	p, _ := newTestPrometheus(t)

	p.TransactionCompleted("put", 3*time.Millisecond)
	p.TransactionCompleted("put", time.Millisecond)
	p.ObserverRun("copy", 2)
	p.ObserverRun("copy", 0)
	p.Merge(2)
	p.MergeConflict()
	p.Deferred("two")
	p.QueueDepth(4)
	p.Killed()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Transactions.WithLabelValues("put")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.ObserverRuns.WithLabelValues("copy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.Changes))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Merges))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.MergeBranches))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.MergeConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Deferrals.WithLabelValues("two")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.QueueLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Kills))
}

func TestPrometheus_RegistersAllCollectors(t *testing.T) {
	p, reg := newTestPrometheus(t)
	p.TransactionCompleted("put", time.Millisecond)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)

	assert.Panics(t, func() { NewPrometheus(reg) }, "second registration must collide")
}

type countingRecorder struct {
	Noop
	runs int
}

func (c *countingRecorder) ObserverRun(string, int) { c.runs++ }

func TestTee_ForwardsToAll(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	r := Tee(a, nil, b)

	r.ObserverRun("x", 1)
	r.Merge(2)

	assert.Equal(t, 1, a.runs)
	assert.Equal(t, 1, b.runs)
}
