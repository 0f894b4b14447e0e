package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/ModelingValueGroup/dclare-sub000/internal/config"
	"github.com/ModelingValueGroup/dclare-sub000/internal/metrics"
)

const tracerName = "github.com/ModelingValueGroup/dclare-sub000/internal/engine"

// UniverseTransaction owns the root mutable, the input queue and the main
// loop that turns every queued action into one converged State.
//
// Thread-safety model:
//   - Put, TryPut, PutAndWaitForIdle, WaitForIdle, WaitForEnd, Stop, Kill,
//     Status, CurrentState, ReadOnly: safe from any goroutine
//   - transactions run on the main loop goroutine, with parallel branches
//     on pool goroutines
//   - the pass snapshots (preState, innerStart, ...) are written by the
//     main loop between batches and only read inside batches
type UniverseTransaction struct {
	id             string
	root           Mutable
	cfg            config.Config
	limits         config.Limits
	log            *slog.Logger
	recorder       metrics.Recorder
	metrics        metrics.Recorder
	stats          Statistics
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	ctx            context.Context
	idGen          IDGenerator
	clock          *Clock
	txID           atomic.Int64

	inQueue   *queue[*ticket]
	pending   atomic.Int64
	pool      *semaphore.Weighted
	conflicts ConflictHandler
	constants *ConstantState
	guard     *ChangeQuota
	interner  *interner

	initFn     func(tx Tx) error
	exitFn     func(tx Tx) error
	preActions []*Action

	// Pass snapshots of the running universe transaction.
	preState      State
	innerStart    State
	preInnerStart State
	midStart      State
	outerStart    State
	preOuterStart State
	passLevel     Priority
	initialized   bool

	mu          sync.Mutex
	state       State
	history     []State
	future      []State
	errs        []error
	postActions []PostAction
	imperatives []*Imperative

	status  *statusBroadcaster
	started atomic.Bool
	killed  atomic.Bool
	done    chan struct{}
}

type ticketKind int

const (
	ticketAction ticketKind = iota
	ticketBackward
	ticketForward
	ticketDummy
)

// ticket is one entry of the input queue. done is closed once it was
// handled or dropped.
type ticket struct {
	kind   ticketKind
	action *Action
	done   chan struct{}
}

// NewUniverse creates a universe around root. Start runs it.
func NewUniverse(root Mutable, opts ...UniverseOption) *UniverseTransaction {
	u := &UniverseTransaction{
		root:      root,
		cfg:       config.Default(),
		log:       slog.Default(),
		idGen:     UUIDv7Generator{},
		conflicts: RaiseConflicts,
		ctx:       context.Background(),
		clock:     NewClock(),
		interner:  newInterner(),
		state:     NewState(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.id = u.idGen.Generate()
	u.limits = u.cfg.Limits()
	u.log = u.log.With("universe", u.id)
	u.metrics = metrics.Tee(&u.stats, u.recorder)
	if u.tracerProvider == nil {
		u.tracerProvider = noop.NewTracerProvider()
	}
	u.tracer = u.tracerProvider.Tracer(tracerName)
	u.inQueue = newQueue[*ticket](u.limits.MaxInInQueue)
	u.pool = semaphore.NewWeighted(int64(max(u.limits.Workers-1, 0)))
	u.constants = NewConstantState(u.limits.MaxDerivationDepth, u.log)
	u.guard = NewChangeQuota(u.limits.MaxNrOfChanges, u.limits.MaxTotalNrOfChanges)
	u.status = newStatusBroadcaster(Status{Mood: Starting, State: u.state})
	return u
}

// ID returns the universe id.
func (u *UniverseTransaction) ID() string { return u.id }

// Root returns the root mutable.
func (u *UniverseTransaction) Root() Mutable { return u.root }

// Limits returns the effective limits.
func (u *UniverseTransaction) Limits() config.Limits { return u.limits }

// Constants returns the constant table.
func (u *UniverseTransaction) Constants() *ConstantState { return u.constants }

// Statistics returns a copy of the counters.
func (u *UniverseTransaction) Statistics() StatisticsSnapshot { return u.stats.Snapshot() }

// Quota returns the change quota of the running transaction.
func (u *UniverseTransaction) Quota() *ChangeQuota { return u.guard }

// Start runs the main loop. Cancelling ctx stops the universe.
func (u *UniverseTransaction) Start(ctx context.Context) error {
	if !u.started.CompareAndSwap(false, true) {
		return errors.New("universe already started")
	}
	u.ctx = ctx
	u.constants.Start()
	go u.mainLoop()
	go func() {
		select {
		case <-ctx.Done():
			u.Stop()
		case <-u.done:
		}
	}()
	return nil
}

func (u *UniverseTransaction) mainLoop() {
	defer close(u.done)
	u.log.Info("universe starting", "root", objectName(u.root))

	u.runTransaction(NewAction("init", u.initBody))
	u.initialized = true

	for !u.killed.Load() {
		t, ok := u.take()
		if !ok {
			break
		}
		u.handle(t)
		close(t.done)
		if u.pending.Add(-1) == 0 && u.inQueue.Len() == 0 {
			u.setMood(Idle)
		}
	}
	u.dropQueued()

	switch {
	case u.exitFn == nil:
	case u.killed.Load():
		// No transaction runs after a kill; the hook reads the last commit.
		if err := u.ReadOnly(u.exitFn); err != nil {
			u.recordError(err)
		}
	default:
		u.runTransaction(NewAction("exit", func(tx Tx, _ Mutable) error { return u.exitFn(tx) }))
	}
	u.constants.Stop()
	killed := u.killed.Load()
	u.status.update(func(st *Status) {
		st.Mood = Stopped
		st.Killed = killed
	})
	if killed {
		u.log.Info("universe stopped after kill")
	} else {
		u.log.Info("universe stopped")
	}
}

func (u *UniverseTransaction) initBody(tx Tx, root Mutable) error {
	if at := actionTxOf(tx); at != nil {
		at.activate(root)
	}
	if u.initFn != nil {
		return u.initFn(tx)
	}
	return nil
}

// take blocks until a ticket is queued or the queue is closed and drained.
func (u *UniverseTransaction) take() (*ticket, bool) {
	for {
		if t, ok := u.inQueue.TryDequeue(); ok {
			u.setMood(Busy)
			u.metrics.QueueDepth(u.inQueue.Len())
			return t, true
		}
		if u.inQueue.Closed() {
			return nil, false
		}
		if u.pending.Load() == 0 {
			u.setMood(Idle)
		}
		<-u.inQueue.Wait()
	}
}

func (u *UniverseTransaction) dropQueued() {
	for {
		t, ok := u.inQueue.TryDequeue()
		if !ok {
			return
		}
		u.pending.Add(-1)
		close(t.done)
	}
}

func (u *UniverseTransaction) setMood(m Mood) {
	if st, _ := u.status.get(); st.Mood == m {
		return
	}
	u.status.update(func(st *Status) { st.Mood = m })
}

func (u *UniverseTransaction) handle(t *ticket) {
	switch t.kind {
	case ticketAction:
		u.runTransaction(t.action)
	case ticketBackward:
		u.travel(true)
	case ticketForward:
		u.travel(false)
	case ticketDummy:
	}
}

// runTransaction runs a to a fixpoint, checks consistency and commits.
func (u *UniverseTransaction) runTransaction(a *Action) {
	start := time.Now()
	_, span := u.tracer.Start(u.ctx, "dclare.transaction", trace.WithAttributes(
		attribute.String("universe", u.id),
		attribute.String("action", a.name),
	))
	defer span.End()

	pre := u.CurrentState()
	u.openTransaction(pre)
	txid := TransactionID(u.txID.Load())

	s := pre
	for _, pa := range u.preActions {
		s = triggerIn(s, u.root, pa, PriorityOne, nil)
	}
	s = triggerIn(s, u.root, a, PriorityOne, nil)
	s = u.runRoot(s)

	if u.killed.Load() {
		span.SetStatus(codes.Error, "killed")
		return
	}
	if u.initialized {
		if err := u.checkConsistency(pre, s); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "consistency")
			u.handleException(err)
			return
		}
	}
	u.commit(pre, s, txid)

	d := time.Since(start)
	u.metrics.TransactionCompleted(a.name, d)
	if u.limits.TraceUniverse {
		u.log.Debug("universe transaction",
			"action", a.name,
			"txid", txid,
			"duration", d,
			"quota", u.guard.Total(),
		)
	}
	span.SetAttributes(attribute.Int64("txid", int64(txid)))
	u.runPostActions(pre, s)
}

// openTransaction resets the per-transaction bookkeeping.
func (u *UniverseTransaction) openTransaction(pre State) {
	u.preState = pre
	u.innerStart = pre
	u.preInnerStart = pre
	u.midStart = pre
	u.outerStart = pre
	u.preOuterStart = pre
	u.passLevel = PriorityOne
	u.guard.Reset()
	u.txID.Store(int64(u.clock.Next()))
}

// runRoot runs the root mutable transaction and the orphan sweep until
// neither has anything left to do.
func (u *UniverseTransaction) runRoot(s State) State {
	mt := &MutableTransaction{universe: u, mutable: u.root}
	for {
		s = mt.run(s)
		if u.killed.Load() {
			return s
		}
		next, swept := u.sweepOrphans(mt, s)
		if !swept {
			return next
		}
		s = next
	}
}

func (u *UniverseTransaction) commit(pre, post State, txid TransactionID) {
	u.mu.Lock()
	if u.limits.MaxNrOfHistory > 0 {
		u.history = append(u.history, pre)
		if over := len(u.history) - u.limits.MaxNrOfHistory; over > 0 {
			u.history = append(u.history[:0:0], u.history[over:]...)
		}
	}
	u.future = nil
	u.state = post
	u.mu.Unlock()
	u.status.update(func(st *Status) {
		st.State = post
		st.TxID = txid
	})
}

// travel moves one step back or forward through history.
func (u *UniverseTransaction) travel(backward bool) {
	u.mu.Lock()
	from, to := &u.history, &u.future
	if !backward {
		from, to = to, from
	}
	if len(*from) == 0 {
		u.mu.Unlock()
		return
	}
	pre := u.state
	post := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	*to = append(*to, pre)
	u.state = post
	u.mu.Unlock()

	u.status.update(func(st *Status) { st.State = post })
	u.runPostActions(pre, post)
}

func (u *UniverseTransaction) runPostActions(pre, post State) {
	u.mu.Lock()
	actions := append([]PostAction(nil), u.postActions...)
	imperatives := append([]*Imperative(nil), u.imperatives...)
	u.mu.Unlock()

	last := u.pending.Load() <= 1
	for _, fn := range actions {
		u.safely("post action", func() { fn(pre, post, last) })
	}
	for _, im := range imperatives {
		im.intern2extern(post)
	}
}

// safely runs fn and kills the universe if it panics.
func (u *UniverseTransaction) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			u.handleException(fmt.Errorf("%s: %w", what, recovered(r)))
		}
	}()
	fn()
}

// handleException records err and kills the universe. Only the first error
// kills; later ones are recorded.
func (u *UniverseTransaction) handleException(err error) {
	u.mu.Lock()
	u.errs = append(u.errs, err)
	u.mu.Unlock()
	if u.killed.Swap(true) {
		u.log.Debug("error after kill", "error", err)
		return
	}
	u.log.Error("universe killed", "error", err)
	u.metrics.Killed()
	u.inQueue.Close()
	u.status.update(func(st *Status) { st.Killed = true })
}

// recordError records a host-side failure without killing the universe.
func (u *UniverseTransaction) recordError(err error) {
	u.log.Error("host callback failed", "error", err)
	u.mu.Lock()
	u.errs = append(u.errs, err)
	u.mu.Unlock()
}

func (u *UniverseTransaction) constant(o Object, p *Property) any {
	v, err := u.constants.Get(o, p)
	if err != nil {
		panic(err)
	}
	return v
}

func (u *UniverseTransaction) setConstant(o Object, p *Property, v any) any {
	if err := u.constants.Set(o, p, v); err != nil {
		panic(err)
	}
	return p.def
}

// Put queues a for execution on the root, waiting for room in the queue.
func (u *UniverseTransaction) Put(ctx context.Context, a *Action) error {
	return u.enqueue(ctx, &ticket{kind: ticketAction, action: a, done: make(chan struct{})})
}

// TryPut queues a without waiting; a full queue is a QUEUE_FULL error.
func (u *UniverseTransaction) TryPut(a *Action) error {
	if !u.started.Load() {
		return newRuntimeError(ErrCodeNotStarted, "universe %s not started", u.id)
	}
	u.pending.Add(1)
	ok, closed := u.inQueue.TryEnqueue(&ticket{kind: ticketAction, action: a, done: make(chan struct{})})
	switch {
	case ok:
		return nil
	case closed:
		u.pending.Add(-1)
		return u.closedError()
	default:
		u.pending.Add(-1)
		return newRuntimeError(ErrCodeQueueFull, "input queue full (%d)", u.limits.MaxInInQueue)
	}
}

// PutAndWaitForIdle queues a, waits until it ran and the universe is idle,
// and returns the resulting state.
func (u *UniverseTransaction) PutAndWaitForIdle(ctx context.Context, a *Action) (State, error) {
	t := &ticket{kind: ticketAction, action: a, done: make(chan struct{})}
	if err := u.enqueue(ctx, t); err != nil {
		return u.CurrentState(), err
	}
	select {
	case <-t.done:
	case <-u.done:
	case <-ctx.Done():
		return u.CurrentState(), ctx.Err()
	}
	return u.WaitForIdle(ctx)
}

// Backward restores the state before the last transaction.
func (u *UniverseTransaction) Backward(ctx context.Context) error {
	return u.enqueue(ctx, &ticket{kind: ticketBackward, done: make(chan struct{})})
}

// Forward redoes a transaction undone by Backward.
func (u *UniverseTransaction) Forward(ctx context.Context) error {
	return u.enqueue(ctx, &ticket{kind: ticketForward, done: make(chan struct{})})
}

// Dummy queues an entry that changes nothing; useful to wait for everything
// queued before it.
func (u *UniverseTransaction) Dummy(ctx context.Context) error {
	return u.enqueue(ctx, &ticket{kind: ticketDummy, done: make(chan struct{})})
}

// ApplyDelta sets every change through one action. It is the receiving side
// of State.Diff.
func (u *UniverseTransaction) ApplyDelta(ctx context.Context, changes []Change) error {
	return u.Put(ctx, NewAction("apply delta", func(tx Tx, _ Mutable) error {
		for _, c := range changes {
			tx.Set(c.Object, c.Property, c.New)
		}
		return nil
	}))
}

func (u *UniverseTransaction) enqueue(ctx context.Context, t *ticket) error {
	if !u.started.Load() {
		return newRuntimeError(ErrCodeNotStarted, "universe %s not started", u.id)
	}
	u.pending.Add(1)
	for {
		ok, closed := u.inQueue.TryEnqueue(t)
		if ok {
			u.metrics.QueueDepth(u.inQueue.Len())
			return nil
		}
		if closed {
			u.pending.Add(-1)
			return u.closedError()
		}
		select {
		case <-u.inQueue.Space():
		case <-ctx.Done():
			u.pending.Add(-1)
			return ctx.Err()
		}
	}
}

func (u *UniverseTransaction) closedError() error {
	if u.killed.Load() {
		return newRuntimeError(ErrCodeKilled, "universe %s was killed", u.id)
	}
	return newRuntimeError(ErrCodeStopped, "universe %s is stopping", u.id)
}

// WaitForIdle blocks until nothing is queued or running and returns the
// current state. A killed universe returns its errors.
func (u *UniverseTransaction) WaitForIdle(ctx context.Context) (State, error) {
	st, err := u.status.waitFor(ctx, func(st Status) bool {
		return st.Killed || (st.Mood == Idle && u.pending.Load() == 0)
	})
	if err != nil {
		return st.State, err
	}
	if st.Killed {
		return st.State, u.Err()
	}
	return st.State, nil
}

// WaitForEnd blocks until the main loop ended and returns the final state
// and every recorded error.
func (u *UniverseTransaction) WaitForEnd(ctx context.Context) (State, error) {
	if !u.started.Load() {
		return u.CurrentState(), newRuntimeError(ErrCodeNotStarted, "universe %s not started", u.id)
	}
	select {
	case <-u.done:
	case <-ctx.Done():
		return u.CurrentState(), ctx.Err()
	}
	return u.CurrentState(), u.Err()
}

// Stop lets the main loop finish the queued actions, run the exit hook and
// end.
func (u *UniverseTransaction) Stop() {
	u.inQueue.Close()
}

// Kill ends the universe as if a fatal error had occurred.
func (u *UniverseTransaction) Kill() {
	u.handleException(newRuntimeError(ErrCodeKilled, "killed by host"))
}

// IsKilled reports whether a fatal error ended the universe.
func (u *UniverseTransaction) IsKilled() bool {
	return u.killed.Load()
}

// Errors returns the recorded errors.
func (u *UniverseTransaction) Errors() []error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]error(nil), u.errs...)
}

// Err aggregates the recorded errors.
func (u *UniverseTransaction) Err() error {
	return joinErrors(u.Errors())
}

// Status returns the current lifecycle status.
func (u *UniverseTransaction) Status() Status {
	st, _ := u.status.get()
	return st
}

// StatusChanged returns a channel closed at the next status change.
func (u *UniverseTransaction) StatusChanged() <-chan struct{} {
	_, ch := u.status.get()
	return ch
}

// CurrentState returns the last committed state.
func (u *UniverseTransaction) CurrentState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// History returns the number of states that Backward and Forward can reach.
func (u *UniverseTransaction) History() (backward, forward int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.history), len(u.future)
}

// AddDiffHandler registers a post action.
func (u *UniverseTransaction) AddDiffHandler(fn PostAction) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.postActions = append(u.postActions, fn)
}
