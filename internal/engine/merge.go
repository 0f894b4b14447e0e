package engine

// ConflictHandler resolves two or more different branch values written to the
// same slot. Returning an error makes the merge fail; the mutable transaction
// then reruns the batch sequentially.
type ConflictHandler interface {
	HandleConflict(o Object, p *Property, base any, branches []any) (any, error)
}

// ConflictHandlerFunc adapts a function to ConflictHandler.
type ConflictHandlerFunc func(o Object, p *Property, base any, branches []any) (any, error)

func (f ConflictHandlerFunc) HandleConflict(o Object, p *Property, base any, branches []any) (any, error) {
	return f(o, p, base, branches)
}

// RaiseConflicts is the default handler: every conflict is an error.
var RaiseConflicts ConflictHandler = ConflictHandlerFunc(func(o Object, p *Property, base any, branches []any) (any, error) {
	return nil, &ConflictError{Object: o, Property: p, Base: base, Values: branches}
})

// mergedSlot is one slot written by at least one branch.
type mergedSlot struct {
	object   Object
	property *Property
	// branches indexes the branch states that changed the slot.
	branches []int
	values   []any
}

type slotKey struct {
	object   Object
	property *Property
}

// MergeStates merges branch states that all started from base. Slots changed
// in one branch take that value; identical values merge trivially; Mergeable
// values combine; anything else goes to handler.
func MergeStates(base State, branches []State, handler ConflictHandler) (State, error) {
	merged, _, err := mergeStates(base, branches, handler)
	return merged, err
}

func mergeStates(base State, branches []State, handler ConflictHandler) (State, []*mergedSlot, error) {
	if handler == nil {
		handler = RaiseConflicts
	}
	index := map[slotKey]*mergedSlot{}
	var slots []*mergedSlot
	for i, b := range branches {
		base.DiffFunc(b, nil, nil, func(c Change) {
			k := slotKey{c.Object, c.Property}
			s, ok := index[k]
			if !ok {
				s = &mergedSlot{object: c.Object, property: c.Property}
				index[k] = s
				slots = append(slots, s)
			}
			s.branches = append(s.branches, i)
			s.values = append(s.values, c.New)
		})
	}
	result := base
	for _, s := range slots {
		v, err := resolve(base, s, handler)
		if err != nil {
			return base, nil, err
		}
		result = result.Set(s.object, s.property, v)
	}
	return result, slots, nil
}

func resolve(base State, s *mergedSlot, handler ConflictHandler) (any, error) {
	distinct := s.values[:1:1]
	for _, v := range s.values[1:] {
		seen := false
		for _, d := range distinct {
			if Equal(d, v) {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) == 1 {
		return distinct[0], nil
	}
	baseValue := base.Get(s.object, s.property)
	if m := mergeableOf(baseValue, s.values); m != nil {
		return m.Merge(baseValue, s.values), nil
	}
	if s.property == ChangeID.Property {
		highest := cast[TransactionID](distinct[0])
		for _, v := range distinct[1:] {
			if id := cast[TransactionID](v); id > highest {
				highest = id
			}
		}
		return highest, nil
	}
	return handler.HandleConflict(s.object, s.property, baseValue, distinct)
}

func mergeableOf(base any, values []any) Mergeable {
	if m, ok := base.(Mergeable); ok {
		return m
	}
	for _, v := range values {
		if m, ok := v.(Mergeable); ok {
			return m
		}
	}
	return nil
}
