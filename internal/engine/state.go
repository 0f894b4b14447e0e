package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

type properties = pmap.Map[*Property, any]

var (
	emptyObjects    = pmap.New[Object, properties](hashObject)
	emptyProperties = pmap.New[*Property, any](hashProperty)
)

// State is an immutable snapshot mapping objects to property values. Values
// equal to the property default are not stored. The zero State is empty.
type State struct {
	objects pmap.Map[Object, properties]
}

// NewState returns the empty state.
func NewState() State {
	return State{objects: emptyObjects}
}

// Get returns the value of p on o, or the default of p.
func (s State) Get(o Object, p *Property) any {
	props, ok := s.objects.Get(o)
	if !ok {
		return p.def
	}
	v, ok := props.Get(p)
	if !ok {
		return p.def
	}
	return v
}

// Set returns a state with p on o bound to v. The receiver itself is returned
// when the value does not change.
func (s State) Set(o Object, p *Property, v any) State {
	if Equal(s.Get(o, p), v) {
		return s
	}
	objects := s.objects
	if objects.Len() == 0 {
		objects = emptyObjects
	}
	props, ok := objects.Get(o)
	if !ok {
		props = emptyProperties
	}
	if Equal(v, p.def) {
		props = props.Delete(p)
	} else {
		props = props.Put(p, v)
	}
	if props.Len() == 0 {
		return State{objects: objects.Delete(o)}
	}
	return State{objects: objects.Put(o, props)}
}

// Objects returns every object that has at least one non-default value.
func (s State) Objects() []Object {
	return s.objects.Keys()
}

// Properties calls fn for every non-default value of o.
func (s State) Properties(o Object, fn func(p *Property, v any)) {
	props, ok := s.objects.Get(o)
	if !ok {
		return
	}
	props.Range(func(p *Property, v any) bool {
		fn(p, v)
		return true
	})
}

// Len returns the number of objects with values.
func (s State) Len() int {
	return s.objects.Len()
}

// Same reports identity of the underlying tries.
func (s State) Same(other State) bool {
	return s.objects.Same(other.objects)
}

// Equal compares two states by value.
func (s State) Equal(other State) bool {
	return s.objects.Equal(other.objects, func(a, b properties) bool {
		return a.Equal(b, Equal)
	})
}

// Change is one entry of a diff.
type Change struct {
	Object   Object
	Property *Property
	Old      any
	New      any
}

// DiffFunc calls fn for every (object, property) whose value differs between
// s and to. Nil filters accept everything.
func (s State) DiffFunc(to State, objectFilter func(Object) bool, propertyFilter func(*Property) bool, fn func(Change)) {
	pmap.Diff(s.objects, to.objects, properties.Same, func(oc pmap.Change[Object, properties]) {
		if objectFilter != nil && !objectFilter(oc.Key) {
			return
		}
		before, after := oc.Old, oc.New
		if !oc.HasOld {
			before = emptyProperties
		}
		if !oc.HasNew {
			after = emptyProperties
		}
		pmap.Diff(before, after, Equal, func(pc pmap.Change[*Property, any]) {
			p := pc.Key
			if propertyFilter != nil && !propertyFilter(p) {
				return
			}
			old, nw := p.def, p.def
			if pc.HasOld {
				old = pc.Old
			}
			if pc.HasNew {
				nw = pc.New
			}
			if Equal(old, nw) {
				return
			}
			fn(Change{Object: oc.Key, Property: p, Old: old, New: nw})
		})
	})
}

// Diff collects DiffFunc into a slice.
func (s State) Diff(to State, objectFilter func(Object) bool, propertyFilter func(*Property) bool) []Change {
	var changes []Change
	s.DiffFunc(to, objectFilter, propertyFilter, func(c Change) {
		changes = append(changes, c)
	})
	return changes
}

// Apply sets every change on s; it is the inverse of Diff.
func (s State) Apply(changes []Change) State {
	for _, c := range changes {
		s = s.Set(c.Object, c.Property, c.New)
	}
	return s
}

// NonPlumbing is a property filter excluding engine bookkeeping.
func NonPlumbing(p *Property) bool {
	return !p.plumbing
}

// String renders the non-plumbing content sorted by object and property name.
func (s State) String() string {
	type line struct{ object, text string }
	var lines []line
	s.objects.Range(func(o Object, props properties) bool {
		var parts []string
		props.Range(func(p *Property, v any) bool {
			if !p.plumbing {
				parts = append(parts, fmt.Sprintf("%s=%v", p.name, v))
			}
			return true
		})
		if len(parts) > 0 {
			sort.Strings(parts)
			lines = append(lines, line{objectName(o), strings.Join(parts, " ")})
		}
		return true
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].object < lines[j].object })
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.object, l.text)
	}
	return b.String()
}
