package engine

// Tx is the handle a body uses to read and write state. It is only valid for
// the duration of the body it was passed to and must not be shared with
// other goroutines.
type Tx interface {
	// Get reads p on o. Reads of observed properties inside an observer are
	// recorded as dependencies.
	Get(o Object, p *Property) any
	// Set writes v and returns the previous value.
	Set(o Object, p *Property, v any) any
	// Pre reads p on o as it was when the universe transaction started.
	Pre(o Object, p *Property) any
	// State returns the snapshot including the writes made so far.
	State() State
	// Mutable returns the mutable the body runs for.
	Mutable() Mutable
	// Universe returns the owning universe.
	Universe() *UniverseTransaction
	// Trigger queues l for m at priority p.
	Trigger(m Mutable, l Leaf, p Priority)
}

// Leaf is a unit of work queued on a mutable: an Action or an Observer.
type Leaf interface {
	Name() string
	action() *Action
	run(parent *MutableTransaction, m Mutable, pre State) State
}

// triggerIn queues leaf on target at prio and marks the parent chain so that
// the enclosing mutable transactions find the work. Marking stops at the
// first ancestor that is already being run by stack.
func triggerIn(s State, target Mutable, leaf Leaf, prio Priority, stack *MutableTransaction) State {
	s = s.Set(target, queueActions[prio], queuedLeaves(s, target, prio).Add(leaf))
	if prio == PriorityOne {
		for p := PriorityTwo; int(p) < numPriorities; p++ {
			if q := queuedLeaves(s, target, p); q.Contains(leaf) {
				s = s.Set(target, queueActions[p], q.Remove(leaf))
			}
		}
	}
	return markChildren(s, target, prio, stack)
}

// markChildren records child as having work at prio in every ancestor up to
// the first one on stack.
func markChildren(s State, child Mutable, prio Priority, stack *MutableTransaction) State {
	for !stack.running(child) {
		parent := Parent(s, child)
		if parent == nil {
			break
		}
		s = s.Set(parent, queueChildren[prio], queuedChildren(s, parent, prio).Add(child))
		child = parent
	}
	return s
}
