package engine

import (
	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// ParentContaining is the parent slot of every mutable. Containment writes
// maintain it; writing it directly moves the mutable between containers.
var ParentContaining = NewObserved[ParentRef]("D_PARENT_CONTAINING", ParentRef{}, Plumbing(), Preserved())

// ChangeID is stamped on a mutable and its ancestors whenever one of its
// non-plumbing observed properties changes.
var ChangeID = NewSetable[TransactionID]("D_CHANGE_ID", 0, Plumbing())

// observerRef is one entry of an observers index.
type observerRef struct {
	observer *Observer
	mutable  Mutable
}

// observedRef is one entry of an observer's read set.
type observedRef struct {
	object   Object
	property *Property
}

type (
	observerRefs = pmap.Set[observerRef]
	observedRefs = pmap.Set[observedRef]
)

var (
	emptyObserverRefs = pmap.NewSet(func(r observerRef) uint64 {
		return pmap.Combine(pmap.HashUint64(r.observer.id), hashMutable(r.mutable))
	})
	emptyObservedRefs = pmap.NewSet(func(r observedRef) uint64 {
		return pmap.Combine(hashObject(r.object), hashProperty(r.property))
	})
)

// Parent returns the container of m in s, or nil.
func Parent(s State, m Mutable) Mutable {
	return ParentContaining.In(s, m).Parent
}

// isInTree reports whether m is root or has root as an ancestor in s.
func isInTree(s State, root, m Mutable) bool {
	for m != nil {
		if m == root {
			return true
		}
		m = Parent(s, m)
	}
	return false
}
