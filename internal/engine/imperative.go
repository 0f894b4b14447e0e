package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Imperative mirrors the universe state into a host-owned copy, for code
// that must read and write from its own goroutine (a UI thread, a network
// session). The engine pushes every committed change through the scheduler;
// host writes are batched and sent back as one action by Commit.
//
// Thread-safety model:
//   - Get, Set, State and Commit are safe from any goroutine
//   - the scheduler decides where the mirror is updated; the main loop
//     waits until the scheduled update ran
//   - a slot the host wrote keeps the host value until the engine has
//     applied every commit sent so far
type Imperative struct {
	u         *UniverseTransaction
	name      string
	scheduler func(run func())
	onChange  func(pre, post State)

	mu      sync.Mutex
	state   State
	synced  State
	pending []Change
	dirty   map[slotKey]bool

	sent  atomic.Int64
	acked atomic.Int64
}

// AddImperative registers a mirror. scheduler runs the update on the host's
// goroutine; nil runs it on the main loop. onChange, when set, sees the
// mirror before and after every update.
func (u *UniverseTransaction) AddImperative(name string, scheduler func(run func()), onChange func(pre, post State)) *Imperative {
	if scheduler == nil {
		scheduler = func(run func()) { run() }
	}
	cur := u.CurrentState()
	im := &Imperative{
		u:         u,
		name:      name,
		scheduler: scheduler,
		onChange:  onChange,
		state:     cur,
		synced:    cur,
		dirty:     map[slotKey]bool{},
	}
	u.mu.Lock()
	u.imperatives = append(u.imperatives, im)
	u.mu.Unlock()
	return im
}

// Name returns the mirror name.
func (im *Imperative) Name() string { return im.name }

// Get reads p on o from the mirror.
func (im *Imperative) Get(o Object, p *Property) any {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state.Get(o, p)
}

// Set writes the mirror and records the change for the next Commit.
func (im *Imperative) Set(o Object, p *Property, v any) {
	im.mu.Lock()
	defer im.mu.Unlock()
	old := im.state.Get(o, p)
	if Equal(old, v) {
		return
	}
	im.state = im.state.Set(o, p, v)
	im.pending = append(im.pending, Change{Object: o, Property: p, Old: old, New: v})
	im.dirty[slotKey{o, p}] = true
}

// State returns the mirror.
func (im *Imperative) State() State {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.state
}

// Commit sends the recorded host writes to the universe as one action.
func (im *Imperative) Commit(ctx context.Context) error {
	im.mu.Lock()
	changes := im.pending
	im.pending = nil
	im.mu.Unlock()
	if len(changes) == 0 {
		return nil
	}
	n := im.sent.Add(1)
	return im.u.Put(ctx, NewAction(im.name+" commit", func(tx Tx, _ Mutable) error {
		for _, c := range changes {
			tx.Set(c.Object, c.Property, c.New)
		}
		im.acked.Store(n)
		return nil
	}))
}

// intern2extern brings the mirror up to post. It runs on the main loop after
// every commit and time-travel step.
func (im *Imperative) intern2extern(post State) {
	done := make(chan struct{})
	update := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				im.u.recordError(recovered(r))
			}
		}()
		im.mu.Lock()
		pre := im.state
		settled := im.acked.Load() == im.sent.Load()
		if settled {
			clear(im.dirty)
		}
		im.synced.DiffFunc(post, nil, NonPlumbing, func(c Change) {
			if !settled && im.dirty[slotKey{c.Object, c.Property}] {
				return
			}
			im.state = im.state.Set(c.Object, c.Property, c.New)
		})
		im.synced = post
		next := im.state
		im.mu.Unlock()
		if im.onChange != nil {
			im.onChange(pre, next)
		}
	}
	scheduled := false
	im.u.safely("imperative "+im.name, func() {
		im.scheduler(update)
		scheduled = true
	})
	if !scheduled {
		return
	}
	select {
	case <-done:
	case <-im.u.ctx.Done():
	}
}
