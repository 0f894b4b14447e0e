package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ChangeQuota counts state-changing observer runs within one universe
// transaction and stops runaway fixpoints.
//
// Two counters are kept:
//   - per observer instance (observer, mutable): catches one rule that keeps
//     changing its own output (A → A → A ...)
//   - total: catches a ring of rules handing a change around (A → B → C → A)
//
// Crossing a limit first switches on debugging: from then on every counted
// run records an ObserverTrace linked to the trace of the run that last
// wrote one of its reads. The fatal TooManyChangesError is raised once a
// counter reaches twice its limit, so the error always carries a trace.
//
// Counting happens concurrently from parallel branches.
type ChangeQuota struct {
	maxChanges int
	maxTotal   int

	counts    *xsync.MapOf[instanceKey, int]
	total     atomic.Int64
	debugging atomic.Bool

	mu      sync.Mutex
	writers map[slotKey]*ObserverTrace
	last    map[instanceKey]*ObserverTrace
}

type instanceKey struct {
	observer *Observer
	mutable  ObjectID
}

// NewChangeQuota creates a quota with the given limits.
func NewChangeQuota(maxChanges, maxTotal int) *ChangeQuota {
	return &ChangeQuota{
		maxChanges: maxChanges,
		maxTotal:   maxTotal,
		counts:     xsync.NewMapOf[instanceKey, int](),
		writers:    make(map[slotKey]*ObserverTrace),
		last:       make(map[instanceKey]*ObserverTrace),
	}
}

// Reset clears all counters. Called at the start of every universe
// transaction.
func (q *ChangeQuota) Reset() {
	q.counts.Clear()
	q.total.Store(0)
	q.debugging.Store(false)
	q.mu.Lock()
	clear(q.writers)
	clear(q.last)
	q.mu.Unlock()
}

// Debugging reports whether a limit was crossed and traces are recorded.
func (q *ChangeQuota) Debugging() bool {
	return q.debugging.Load()
}

// Total returns the number of counted runs since the last Reset.
func (q *ChangeQuota) Total() int {
	return int(q.total.Load())
}

// check counts one state-changing run of ot and panics with
// TooManyChangesError when a counter doubled its limit.
func (q *ChangeQuota) check(ot *ObserverTransaction) {
	key := instanceKey{observer: ot.observer, mutable: ot.mutable.Identity().ID()}
	n, _ := q.counts.Compute(key, func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
	total := int(q.total.Add(1))

	if n > q.maxChanges || total > q.maxTotal {
		if !q.debugging.Swap(true) {
			ot.universe.log.Warn("change limit crossed, recording traces",
				"observer", ot.observer.name,
				"mutable", objectName(ot.mutable),
				"changes", n,
				"total", total,
			)
		}
	}
	if !q.debugging.Load() {
		return
	}
	trace := q.record(key, ot)

	switch {
	case n/2 > q.maxChanges:
		panic(&TooManyChangesError{Trace: trace, Changes: n, Limit: q.maxChanges})
	case total/2 > q.maxTotal:
		panic(&TooManyChangesError{Trace: trace, Changes: total, Limit: q.maxTotal})
	}
}

func (q *ChangeQuota) record(key instanceKey, ot *ObserverTransaction) *ObserverTrace {
	trace := &ObserverTrace{
		Observer: ot.observer.name,
		Mutable:  objectName(ot.mutable),
		TxID:     TransactionID(ot.universe.txID.Load()),
		Reads:    map[string]string{},
		Writes:   map[string]string{},
	}
	ot.reads.Range(func(r observedRef) bool {
		trace.Reads[slotName(r.object, r.property)] = fmt.Sprint(ot.cur.Get(r.object, r.property))
		return true
	})
	for w := range ot.writes {
		trace.Writes[slotName(w.object, w.property)] = fmt.Sprint(ot.cur.Get(w.object, w.property))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	ot.reads.Range(func(r observedRef) bool {
		if cause, ok := q.writers[slotKey{r.object, r.property}]; ok && trace.Previous == nil {
			trace.Previous = cause
		}
		return true
	})
	if trace.Previous == nil {
		trace.Previous = q.last[key]
	}
	for w := range ot.writes {
		q.writers[slotKey{w.object, w.property}] = trace
	}
	q.last[key] = trace
	return trace
}

func slotName(o Object, p *Property) string {
	return objectName(o) + "." + p.name
}

// ObserverTrace is one recorded observer run with the values it read and
// wrote. Previous points at the run that caused it.
type ObserverTrace struct {
	Observer string
	Mutable  string
	TxID     TransactionID
	Reads    map[string]string
	Writes   map[string]string
	Previous *ObserverTrace
}

// Chain returns the trace followed by its causes, newest first, cut at
// limit entries.
func (t *ObserverTrace) Chain(limit int) []*ObserverTrace {
	var chain []*ObserverTrace
	for c := t; c != nil && len(chain) < limit; c = c.Previous {
		chain = append(chain, c)
	}
	return chain
}

func (t *ObserverTrace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s (tx %d)", t.Observer, t.Mutable, t.TxID)
	writeValues(&b, " read", t.Reads)
	writeValues(&b, " wrote", t.Writes)
	return b.String()
}

func writeValues(b *strings.Builder, label string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString(label)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%s", k, values[k])
	}
}
