package engine

// checkConsistency validates every mutable that changed between pre and
// post. Orphans are only checked when orphan-state checking is enabled.
func (u *UniverseTransaction) checkConsistency(pre, post State) error {
	var errs []error
	for _, m := range changedMutables(pre, post) {
		if !isInTree(post, u.root, m) {
			if u.limits.CheckOrphanState && hasState(post, m, NonPlumbing) {
				errs = append(errs, &OrphanStateError{Mutable: m})
			}
			continue
		}
		class := m.Class()
		if class == nil {
			continue
		}
		for _, p := range class.properties {
			if p.checksConsistency() {
				errs = append(errs, u.checkProperty(post, m, p)...)
			}
		}
	}
	return joinErrors(errs)
}

// changedMutables returns the mutables with at least one differing value.
func changedMutables(pre, post State) []Mutable {
	var ms []Mutable
	pre.DiffFunc(post, func(o Object) bool {
		if m, ok := o.(Mutable); ok {
			ms = append(ms, m)
		}
		return false
	}, nil, func(Change) {})
	return ms
}

func (u *UniverseTransaction) checkProperty(s State, m Mutable, p *Property) []error {
	var errs []error
	v := s.Get(m, p)
	if p.mandatory && IsEmpty(v) {
		errs = append(errs, &EmptyMandatoryError{Object: m, Property: p})
	}
	if p.scope != nil {
		scope := s.Get(m, p.scope)
		for _, e := range elements(v) {
			if !inScope(scope, e) {
				errs = append(errs, &OutOfScopeError{Object: m, Property: p, Value: e, Scope: scope})
			}
		}
	}
	if p.holdsReferences() {
		for _, e := range elements(v) {
			if ref, ok := e.(Mutable); ok && !isInTree(s, u.root, ref) {
				errs = append(errs, &ReferencedOrphanError{Object: m, Property: p, Orphan: ref})
			}
		}
	}
	return errs
}

func inScope(scope, e any) bool {
	if c, ok := scope.(Collection); ok {
		return c.ContainsValue(e)
	}
	return Equal(scope, e)
}

// hasState reports whether m holds a non-preserved value accepted by filter.
func hasState(s State, m Mutable, filter func(*Property) bool) bool {
	found := false
	s.Properties(m, func(p *Property, _ any) {
		if !p.preserved && (filter == nil || filter(p)) {
			found = true
		}
	})
	return found
}

// sweepOrphans clears the state of every mutable that changed in this
// transaction and is no longer in the tree. Clearing a containment orphans
// its children, which the next call picks up.
func (u *UniverseTransaction) sweepOrphans(mt *MutableTransaction, s State) (State, bool) {
	var orphans []Mutable
	for _, m := range changedMutables(u.preState, s) {
		if m != u.root && !isInTree(s, u.root, m) && hasState(s, m, nil) {
			orphans = append(orphans, m)
		}
	}
	if len(orphans) == 0 {
		return s, false
	}
	sweep := &Action{name: "orphan sweep", body: func(tx Tx, _ Mutable) error {
		at := actionTxOf(tx)
		for _, m := range orphans {
			if class := m.Class(); class != nil && class.OnDeactivate != nil {
				class.OnDeactivate(tx, m)
			}
			var props []*Property
			at.cur.Properties(m, func(p *Property, _ any) {
				if !p.preserved {
					props = append(props, p)
				}
			})
			for _, p := range props {
				at.apply(m, p, p.def)
			}
			at.cur = at.cur.Set(m, ChangeID.Property, ChangeID.def)
		}
		return nil
	}}
	if u.limits.TraceUniverse {
		u.log.Debug("orphan sweep", "orphans", len(orphans))
	}
	return sweep.run(mt, u.root, s), true
}
