package engine

import (
	"errors"
	"sync"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// errSkipRun aborts an observer run that read an empty mandatory value and
// then tried to write an empty value. Writes made before it are kept.
var errSkipRun = errors.New("observer run skipped on empty mandatory input")

// Observer is an Action whose reads are recorded. It is re-triggered for a
// mutable whenever one of the observed values it read there changes.
type Observer struct {
	Action

	atomic bool

	// observeds holds, per mutable, the observedRefs read by the last run.
	observeds *Property
	// exception holds, per mutable, the error returned by the last run.
	exception *Property
}

// ObserverOption configures an observer at declaration.
type ObserverOption func(*Observer)

// Atomic makes a deferred run roll back all of its writes instead of only
// the deferred ones.
func Atomic() ObserverOption {
	return func(o *Observer) { o.atomic = true }
}

// NewObserver declares an observer. Body errors are recorded on the mutable
// (see Exception) instead of killing the universe, except consistency errors.
func NewObserver(name string, body func(tx Tx, m Mutable) error, opts ...ObserverOption) *Observer {
	o := &Observer{Action: Action{id: lastLeafID.Add(1), name: name, body: body}}
	for _, opt := range opts {
		opt(o)
	}
	o.observeds = newProperty(name+"~observeds", KindPlain, emptyObservedRefs, Plumbing(), OnChange(o.reindex))
	o.exception = newProperty(name+"~exception", KindPlain, nil, Plumbing())
	return o
}

// IsAtomic reports whether the observer was declared Atomic.
func (o *Observer) IsAtomic() bool { return o.atomic }

// Exception returns the error recorded by the last run of o on m in s.
func (o *Observer) Exception(s State, m Mutable) error {
	err, _ := s.Get(m, o.exception).(error)
	return err
}

// Observeds returns the (object, property) pairs o read on m in its last run.
func (o *Observer) Observeds(s State, m Mutable) []ObservedSlot {
	refs := cast[observedRefs](s.Get(m, o.observeds))
	slots := make([]ObservedSlot, 0, refs.Len())
	refs.Range(func(r observedRef) bool {
		slots = append(slots, ObservedSlot{Object: r.object, Property: r.property})
		return true
	})
	return slots
}

// ObservedSlot is one dependency of an observer.
type ObservedSlot struct {
	Object   Object
	Property *Property
}

// reindex keeps the observers index on every read object in step with the
// read set of an observer instance.
func (o *Observer) reindex(tx Tx, m Object, pre, post any) {
	at := actionTxOf(tx)
	mutable, ok := m.(Mutable)
	if !ok || at == nil {
		return
	}
	ref := observerRef{observer: o, mutable: mutable}
	pmap.DiffSets(cast[observedRefs](pre), cast[observedRefs](post), func(r observedRef) {
		idx := r.property.observersIndex
		at.apply(r.object, idx, cast[observerRefs](at.cur.Get(r.object, idx)).Add(ref))
	}, func(r observedRef) {
		idx := r.property.observersIndex
		at.apply(r.object, idx, cast[observerRefs](at.cur.Get(r.object, idx)).Remove(ref))
	})
}

// checkTooManyObservers guards the observers index of p on o.
func checkTooManyObservers(tx Tx, o Object, p *Property, post any) {
	refs := cast[observerRefs](post)
	limit := tx.Universe().limits.MaxNrOfObservers
	if refs.Len() > limit {
		panic(&TooManyObserversError{Object: o, Property: p, Count: refs.Len(), Limit: limit})
	}
}

func actionTxOf(tx Tx) *ActionTransaction {
	switch t := tx.(type) {
	case *ActionTransaction:
		return t
	case *ObserverTransaction:
		return &t.ActionTransaction
	}
	return nil
}

func (o *Observer) run(parent *MutableTransaction, m Mutable, pre State) State {
	ot := observerPool.Get().(*ObserverTransaction)
	ot.init(parent, o, m, pre)
	ot.execute()
	post := ot.cur
	ot.release()
	observerPool.Put(ot)
	return post
}

var observerPool = sync.Pool{New: func() any { return new(ObserverTransaction) }}

// ObserverTransaction runs one Observer body, recording what it reads and
// deciding per write whether the change applies now or ripples out to a
// later pass.
type ObserverTransaction struct {
	ActionTransaction

	observer       *Observer
	reads          observedRefs
	writes         map[observedRef]struct{}
	emptyMandatory bool
	deferLevel     Priority
}

func (ot *ObserverTransaction) init(parent *MutableTransaction, o *Observer, m Mutable, pre State) {
	ot.ActionTransaction.init(parent, o, m, pre)
	ot.self = ot
	ot.observer = o
	ot.reads = emptyObservedRefs
	ot.writes = map[observedRef]struct{}{}
	ot.emptyMandatory = false
	ot.deferLevel = PriorityZero
}

func (ot *ObserverTransaction) release() {
	*ot = ObserverTransaction{}
}

func (ot *ObserverTransaction) Get(o Object, p *Property) any {
	v := ot.ActionTransaction.Get(o, p)
	if p.kind == KindObserved {
		ot.reads = ot.reads.Add(observedRef{object: o, property: p})
		if p.mandatory && IsEmpty(v) {
			ot.emptyMandatory = true
		}
	}
	return v
}

func (ot *ObserverTransaction) Set(o Object, p *Property, v any) any {
	if p.kind != KindObserved || p.plumbing {
		return ot.ActionTransaction.Set(o, p, v)
	}
	old := ot.cur.Get(o, p)
	if Equal(old, v) {
		return old
	}
	if ot.emptyMandatory && IsEmpty(v) {
		panic(errSkipRun)
	}
	if level := ot.universe.rippleOut(ot, o, p, old, v); level != PriorityZero {
		if level > ot.deferLevel {
			ot.deferLevel = level
		}
		return old
	}
	ot.writes[observedRef{object: o, property: p}] = struct{}{}
	return ot.apply(o, p, v)
}

func (ot *ObserverTransaction) execute() {
	u := ot.universe
	defer func() {
		if r := recover(); r != nil {
			u.handleException(&TransactionError{Mutable: ot.mutable, Action: ot.observer.name, Err: recovered(r)})
		}
	}()
	err := callBody(ot.observer.body, ot, ot.mutable)
	if errors.Is(err, errSkipRun) {
		err = nil
	}
	if err != nil && IsConsistencyError(err) {
		panic(err)
	}
	ot.finish(err)
}

// finish registers the read set, records the body error and schedules the
// follow-up run.
func (ot *ObserverTransaction) finish(bodyErr error) {
	u := ot.universe
	m := ot.mutable
	o := ot.observer

	if ot.deferLevel != PriorityZero && o.atomic {
		ot.cur = ot.pre
		ot.changes = 0
		clear(ot.writes)
	}

	if n := ot.reads.Len(); n > u.limits.MaxNrOfObserved {
		panic(&TooManyObservedError{Mutable: m, Observer: o.name, Count: n, Limit: u.limits.MaxNrOfObserved})
	}
	ot.apply(m, o.observeds, ot.reads)

	if bodyErr != nil {
		u.log.Warn("observer failed",
			"observer", o.name,
			"mutable", objectName(m),
			"error", bodyErr,
		)
		ot.apply(m, o.exception, bodyErr)
	} else {
		ot.apply(m, o.exception, nil)
	}

	changedSelf := false
	for w := range ot.writes {
		if ot.reads.Contains(w) {
			changedSelf = true
			break
		}
	}

	if ot.changes > 0 {
		u.guard.check(ot)
	}
	u.metrics.ObserverRun(o.name, ot.changes)

	switch {
	case changedSelf:
		ot.Trigger(m, o, PriorityOne)
	case ot.deferLevel != PriorityZero:
		ot.Trigger(m, o, ot.deferLevel)
	}
	ot.traceRun()
}
