package engine

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

type constantValues = pmap.Map[*Property, any]

var emptyConstantValues = pmap.New[*Property, any](hashProperty)

// constants is the table of derived values of one object.
type constants struct {
	identity weak.Pointer[Identity]
	// strong pins the identity for soft and durable entries.
	strong     atomic.Pointer[Identity]
	durability atomic.Uint32
	values     atomic.Pointer[constantValues]
}

func (c *constants) load() constantValues {
	if v := c.values.Load(); v != nil {
		return *v
	}
	return emptyConstantValues
}

type constantIndex = pmap.Map[ObjectID, *constants]

// ConstantState memoizes constant properties outside State.
//
// The index is a persistent map swapped with compare-and-swap, so readers
// never lock. Retention follows the declared Durability of the constants an
// object holds:
//   - Weak: the entry is dropped after the object's Identity is collected.
//     A cleanup registered with runtime.AddCleanup queues the object id;
//     the reclaimer goroutine removes it from the index.
//   - Soft: the Identity is pinned until ReleaseSoft.
//   - Durable: the Identity is pinned for the lifetime of the state.
//
// Derived values that reference their own object keep it reachable, which
// keeps weak entries alive as well.
type ConstantState struct {
	index    atomic.Pointer[constantIndex]
	reclaim  *queue[ObjectID]
	maxDepth int
	log      *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewConstantState creates an empty table. Start runs the reclaimer.
func NewConstantState(maxDepth int, log *slog.Logger) *ConstantState {
	if log == nil {
		log = slog.Default()
	}
	cs := &ConstantState{
		reclaim:  newQueue[ObjectID](0),
		maxDepth: maxDepth,
		log:      log,
		done:     make(chan struct{}),
	}
	idx := pmap.New[ObjectID, *constants](func(id ObjectID) uint64 { return pmap.HashUint64(uint64(id)) })
	cs.index.Store(&idx)
	return cs
}

// Start runs the reclaimer until Stop.
func (cs *ConstantState) Start() {
	go cs.reclaimLoop()
}

// Stop ends the reclaimer. Further collected identities are ignored.
func (cs *ConstantState) Stop() {
	cs.stopOnce.Do(func() {
		cs.reclaim.Close()
	})
}

func (cs *ConstantState) reclaimLoop() {
	defer close(cs.done)
	for {
		for {
			id, ok := cs.reclaim.TryDequeue()
			if !ok {
				break
			}
			cs.remove(id)
		}
		if cs.reclaim.Closed() {
			return
		}
		<-cs.reclaim.Wait()
	}
}

// Get returns the constant p of o, deriving it on first use.
func (cs *ConstantState) Get(o Object, p *Property) (any, error) {
	if v, ok := cs.lookup(o, p); ok {
		return v, nil
	}
	if p.derive == nil {
		return p.def, nil
	}
	d := &Derivation{cs: cs, maxDepth: cs.maxDepth}
	return d.derive(o, p)
}

// Set stores v as the value of p on o. Setting a different value a second
// time is a NonDeterministicError.
func (cs *ConstantState) Set(o Object, p *Property, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	cs.store(o, p, v)
	return nil
}

// Len returns the number of objects with live entries.
func (cs *ConstantState) Len() int {
	n := 0
	cs.index.Load().Range(func(_ ObjectID, c *constants) bool {
		if c.identity.Value() != nil {
			n++
		}
		return true
	})
	return n
}

// ReleaseSoft unpins soft entries, leaving them to the collector like weak
// ones. Durable entries stay pinned.
func (cs *ConstantState) ReleaseSoft() {
	cs.index.Load().Range(func(_ ObjectID, c *constants) bool {
		if Durability(c.durability.Load()) == Soft {
			c.strong.Store(nil)
			c.durability.Store(uint32(Weak))
		}
		return true
	})
}

func (cs *ConstantState) lookup(o Object, p *Property) (any, bool) {
	c, ok := cs.index.Load().Get(o.Identity().ID())
	if !ok {
		return nil, false
	}
	return c.load().Get(p)
}

// store records v unless a value is present. It returns the stored value and
// panics with NonDeterministicError when an existing value differs.
func (cs *ConstantState) store(o Object, p *Property, v any) any {
	c := cs.entry(o)
	cs.retain(c, o.Identity(), p.durability)
	for {
		cur := c.values.Load()
		values := emptyConstantValues
		if cur != nil {
			values = *cur
		}
		if old, ok := values.Get(p); ok {
			if !Equal(old, v) {
				panic(&NonDeterministicError{Object: o, Property: p, First: old, Second: v})
			}
			return old
		}
		next := values.Put(p, v)
		if c.values.CompareAndSwap(cur, &next) {
			return v
		}
	}
}

// entry returns the table of o, inserting it in the index when absent.
func (cs *ConstantState) entry(o Object) *constants {
	id := o.Identity()
	for {
		idx := cs.index.Load()
		if c, ok := idx.Get(id.ID()); ok {
			return c
		}
		c := &constants{identity: weak.Make(id)}
		next := idx.Put(id.ID(), c)
		if cs.index.CompareAndSwap(idx, &next) {
			runtime.AddCleanup(id, cs.collected, id.ID())
			return c
		}
	}
}

func (cs *ConstantState) retain(c *constants, id *Identity, d Durability) {
	for {
		cur := c.durability.Load()
		if Durability(cur) >= d && (d == Weak || c.strong.Load() != nil) {
			return
		}
		if c.durability.CompareAndSwap(cur, uint32(max(Durability(cur), d))) {
			if d > Weak {
				c.strong.Store(id)
			}
			return
		}
	}
}

// collected runs on the cleanup goroutine once an identity is unreachable.
func (cs *ConstantState) collected(id ObjectID) {
	cs.reclaim.TryEnqueue(id)
}

func (cs *ConstantState) remove(id ObjectID) {
	for {
		idx := cs.index.Load()
		if !idx.Contains(id) {
			return
		}
		next := idx.Delete(id)
		if cs.index.CompareAndSwap(idx, &next) {
			cs.log.Debug("constants reclaimed", "object", id)
			return
		}
	}
}
