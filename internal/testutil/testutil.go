// Package testutil provides shared helpers for engine, harness and CLI tests.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
)

// DefaultTimeout bounds every blocking call made by a test.
const DefaultTimeout = 10 * time.Second

// DevConfig returns the default configuration with dev mode on, so every
// guard is enforced.
func DevConfig() config.Config {
	cfg := config.Default()
	cfg.DevMode = true
	return cfg
}

// Context returns a context cancelled after DefaultTimeout or at the end of
// the test, whichever comes first.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a logger writing through t.Log, so output only shows for
// failing or verbose tests.
func Logger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
