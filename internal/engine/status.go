package engine

import (
	"context"
	"sync"
)

// Mood is the coarse lifecycle phase of a universe.
type Mood int

const (
	// Starting until the init transaction committed.
	Starting Mood = iota
	// Busy while a transaction runs or actions are queued.
	Busy
	// Idle when the input queue is empty.
	Idle
	// Stopped after the main loop ended.
	Stopped
)

func (m Mood) String() string {
	switch m {
	case Starting:
		return "starting"
	case Busy:
		return "busy"
	case Idle:
		return "idle"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the universe lifecycle.
type Status struct {
	Mood   Mood
	State  State
	TxID   TransactionID
	Killed bool
}

// statusBroadcaster publishes Status changes. Waiters take the current
// channel and are woken when it is closed and replaced.
type statusBroadcaster struct {
	mu      sync.Mutex
	current Status
	changed chan struct{}
}

func newStatusBroadcaster(initial Status) *statusBroadcaster {
	return &statusBroadcaster{current: initial, changed: make(chan struct{})}
}

func (b *statusBroadcaster) get() (Status, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.changed
}

func (b *statusBroadcaster) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.current)
	close(b.changed)
	b.changed = make(chan struct{})
}

// waitFor blocks until pred holds for the current status, ctx ends, or the
// status is Stopped.
func (b *statusBroadcaster) waitFor(ctx context.Context, pred func(Status) bool) (Status, error) {
	for {
		st, ch := b.get()
		if pred(st) || st.Mood == Stopped {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}
