package engine

import (
	"fmt"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// Priority orders queued work. Lower values run first.
type Priority int

const (
	// PriorityZero holds the batch a mutable transaction is executing.
	PriorityZero Priority = iota
	// PriorityOne is work to run as soon as possible.
	PriorityOne
	// PriorityTwo is the inner deferral layer of ripple-out.
	PriorityTwo
	// PriorityThree is the mid deferral layer of ripple-out.
	PriorityThree
	// PriorityFour is the outer deferral layer of ripple-out.
	PriorityFour
	// PriorityFive is deferred outermost work.
	PriorityFive

	numPriorities = int(PriorityFive) + 1
)

// Aliases naming the role of each level.
const (
	Current   = PriorityZero
	Immediate = PriorityOne
	Inner     = PriorityTwo
	Mid       = PriorityThree
	Outer     = PriorityFour
	Outermost = PriorityFive
)

var priorityNames = [...]string{"zero", "one", "two", "three", "four", "five"}

func (p Priority) String() string {
	if p < 0 || int(p) >= numPriorities {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

func hashLeaf(l Leaf) uint64 {
	return pmap.HashUint64(l.action().id)
}

var (
	emptyLeaves   = pmap.NewSet(hashLeaf)
	emptyMutables = pmap.NewSet(hashMutable)
)

// queueActions[p] holds the leaves queued on a mutable at priority p.
// queueChildren[p] holds the children with pending work at priority p.
var (
	queueActions  [numPriorities]*Property
	queueChildren [numPriorities]*Property
)

func init() {
	for i := 0; i < numPriorities; i++ {
		queueActions[i] = newProperty("D_ACTIONS_"+priorityNames[i], KindPlain, emptyLeaves, Plumbing())
		queueChildren[i] = newProperty("D_CHILDREN_"+priorityNames[i], KindPlain, emptyMutables, Plumbing())
	}
}

func queuedLeaves(s State, m Mutable, p Priority) pmap.Set[Leaf] {
	return cast[pmap.Set[Leaf]](s.Get(m, queueActions[p]))
}

func queuedChildren(s State, m Mutable, p Priority) pmap.Set[Mutable] {
	return cast[pmap.Set[Mutable]](s.Get(m, queueChildren[p]))
}

func hasQueued(s State, m Mutable, p Priority) bool {
	return queuedLeaves(s, m, p).Len() > 0 || queuedChildren(s, m, p).Len() > 0
}

// move transfers the queues of m at priority from to priority to, following
// the children markers down the subtree.
func move(s State, m Mutable, from, to Priority) State {
	leaves := queuedLeaves(s, m, from)
	if leaves.Len() > 0 {
		s = s.Set(m, queueActions[from], emptyLeaves)
		s = s.Set(m, queueActions[to], queuedLeaves(s, m, to).Union(leaves))
	}
	children := queuedChildren(s, m, from)
	if children.Len() > 0 {
		s = s.Set(m, queueChildren[from], emptyMutables)
		s = s.Set(m, queueChildren[to], queuedChildren(s, m, to).Union(children))
		children.Range(func(c Mutable) bool {
			s = move(s, c, from, to)
			return true
		})
	}
	return s
}
