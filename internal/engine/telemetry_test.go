package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ModelingValueGroup/dclare-sub000/internal/metrics"
)

func TestUniverse_TransactionSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	value := NewObserved[int]("value", 0)
	root := NewNode(NewClass("Root"), "root")
	u := startUniverse(t, root, WithTracerProvider(tp))
	waitIdle(t, u)

	do(t, u, func(tx Tx, root Mutable) error {
		value.Set(tx, root, 1)
		return nil
	})

	var actions []string
	for _, span := range recorder.Ended() {
		if span.Name() != "dclare.transaction" {
			continue
		}
		for _, kv := range span.Attributes() {
			if kv.Key == attribute.Key("action") {
				actions = append(actions, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"init", t.Name()}, actions)
}

func TestUniverse_PrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheus(reg)
	source := NewObserved[int]("source", 0)
	target := NewObserved[int]("target", 0)
	copier := NewObserver("copy", func(tx Tx, m Mutable) error {
		target.Set(tx, m, source.Get(tx, m))
		return nil
	})
	root := NewNode(NewClass("Root").WithObservers(copier), "root")
	u := startUniverse(t, root, WithMetrics(prom))
	waitIdle(t, u)

	do(t, u, func(tx Tx, root Mutable) error {
		source.Set(tx, root, 2)
		return nil
	})

	assert.Equal(t, 1.0, promtest.ToFloat64(prom.Transactions.WithLabelValues("init")))
	assert.Equal(t, 1.0, promtest.ToFloat64(prom.Transactions.WithLabelValues(t.Name())))
	assert.Equal(t, 2.0, promtest.ToFloat64(prom.ObserverRuns.WithLabelValues("copy")))
	assert.Equal(t, 1.0, promtest.ToFloat64(prom.Changes))

	stats := u.Statistics()
	assert.Equal(t, int64(2), stats.Transactions)
	assert.Equal(t, int64(2), stats.ObserverRuns)
	assert.Equal(t, int64(1), stats.Changes)

	count, err := promtest.GatherAndCount(reg, "dclare_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
