package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
	"github.com/ModelingValueGroup/dclare-sub000/internal/metrics"
)

// UniverseOption configures a universe at construction.
type UniverseOption func(*UniverseTransaction)

// PostAction runs on the main loop after every committed universe
// transaction. last is true when no further action is queued.
type PostAction func(pre, post State, last bool)

// WithConfig sets the engine configuration.
//
// Default: config.Default()
func WithConfig(cfg config.Config) UniverseOption {
	return func(u *UniverseTransaction) {
		u.cfg = cfg
	}
}

// WithLogger sets the logger. Records are annotated with the universe id.
//
// Default: slog.Default()
func WithLogger(log *slog.Logger) UniverseOption {
	return func(u *UniverseTransaction) {
		u.log = log
	}
}

// WithMetrics adds a metrics recorder. The universe Statistics are always
// recorded as well.
func WithMetrics(r metrics.Recorder) UniverseOption {
	return func(u *UniverseTransaction) {
		u.recorder = r
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
//
// Default: a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) UniverseOption {
	return func(u *UniverseTransaction) {
		u.tracerProvider = tp
	}
}

// WithIDGenerator sets the universe id generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) UniverseOption {
	return func(u *UniverseTransaction) {
		u.idGen = g
	}
}

// WithConflictHandler sets the handler for merge conflicts.
//
// Default: RaiseConflicts, which makes the batch rerun sequentially.
func WithConflictHandler(h ConflictHandler) UniverseOption {
	return func(u *UniverseTransaction) {
		u.conflicts = h
	}
}

// WithPreAction adds an action triggered on the root at the start of every
// universe transaction.
func WithPreAction(a *Action) UniverseOption {
	return func(u *UniverseTransaction) {
		u.preActions = append(u.preActions, a)
	}
}

// WithPostAction adds a post action; see AddDiffHandler for adding one
// after construction.
func WithPostAction(fn PostAction) UniverseOption {
	return func(u *UniverseTransaction) {
		u.postActions = append(u.postActions, fn)
	}
}

// WithInit sets the host hook run inside the first universe transaction,
// after the root was activated.
func WithInit(fn func(tx Tx) error) UniverseOption {
	return func(u *UniverseTransaction) {
		u.initFn = fn
	}
}

// WithExit sets the host hook run in a final transaction when the universe
// stops without being killed.
func WithExit(fn func(tx Tx) error) UniverseOption {
	return func(u *UniverseTransaction) {
		u.exitFn = fn
	}
}
