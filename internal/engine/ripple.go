package engine

// openPass starts a deferred pass at level p. The root exchanges the queues
// of p into zero right after.
//
// The comparison snapshots move with the pass:
//   - two: the inner start is re-taken
//   - three: inner and mid starts are re-taken
//   - four and five: inner, mid and outer starts are re-taken
//
// Every pass gets a fresh transaction id so that ChangeID stamps made in it
// can be told apart from earlier ones.
func (u *UniverseTransaction) openPass(s State, p Priority) State {
	u.preInnerStart = u.innerStart
	u.innerStart = s
	if p >= PriorityThree {
		u.midStart = s
	}
	if p >= PriorityFour {
		u.preOuterStart = u.outerStart
		u.outerStart = s
	}
	if p > u.passLevel {
		u.passLevel = p
	}
	id := u.clock.Next()
	u.txID.Store(int64(id))
	if u.limits.TraceRippleOut {
		u.log.Debug("deferred pass", "priority", p.String(), "txid", id)
	}
	return s
}

// rippleOut decides whether a write of an observer applies now (zero) or
// defers the observer to a later pass. A run may only defer to a level
// above the deepest pass opened so far, so every deferral chain ends.
//
//   - two: the write restores the value the slot had at the inner start,
//     undoing a change some other rule made in this pass
//   - three: the write references a mutable that entered the tree after the
//     mid start
//   - four: the write replaces a mutable that was outside the tree at the
//     outer start and entered it by the inner start, or it restores the
//     value the slot had before the outer start while the outer start holds
//     another one
func (u *UniverseTransaction) rippleOut(ot *ObserverTransaction, o Object, p *Property, pre, post any) Priority {
	level := PriorityZero
	switch {
	case u.passLevel < PriorityTwo && Equal(u.innerStart.Get(o, p), post):
		level = PriorityTwo
	case u.passLevel < PriorityThree && u.becameContained(ot.cur, pre, post):
		level = PriorityThree
	case u.passLevel < PriorityFour && (u.enteredBeforeInner(pre, post) || u.changedBack(o, p, post)):
		level = PriorityFour
	}
	if level == PriorityZero {
		return level
	}
	u.metrics.Deferred(level.String())
	if u.limits.TraceRippleOut {
		u.log.Debug("ripple out",
			"observer", ot.observer.name,
			"mutable", objectName(ot.mutable),
			"object", objectName(o),
			"property", p.name,
			"priority", level.String(),
		)
	}
	return level
}

// becameContained reports whether post adds a reference to a mutable that
// was outside the tree at the mid start and is inside it now.
func (u *UniverseTransaction) becameContained(cur State, pre, post any) bool {
	found := false
	diffElements(pre, post, func(e any) {
		if found {
			return
		}
		if m, ok := e.(Mutable); ok && !isInTree(u.midStart, u.root, m) && isInTree(cur, u.root, m) {
			found = true
		}
	}, func(any) {})
	return found
}

// enteredBeforeInner reports whether post drops a mutable that had no parent
// at the outer start and had one at the inner start.
func (u *UniverseTransaction) enteredBeforeInner(pre, post any) bool {
	found := false
	diffElements(pre, post, func(any) {}, func(e any) {
		if found {
			return
		}
		if m, ok := e.(Mutable); ok && Parent(u.outerStart, m) == nil && Parent(u.innerStart, m) != nil {
			found = true
		}
	})
	return found
}

// changedBack reports whether post restores the value o.p had at the start
// of the previous outer pass while the current outer pass started from
// another value.
func (u *UniverseTransaction) changedBack(o Object, p *Property, post any) bool {
	before := u.preOuterStart.Get(o, p)
	return Equal(before, post) && !Equal(before, u.outerStart.Get(o, p))
}
