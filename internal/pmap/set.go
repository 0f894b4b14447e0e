package pmap

import (
	"fmt"
	"sort"
	"strings"
)

// Set is an immutable hash set. Sets are values: they compare by content
// through Equal and merge through Merge, which makes them usable as property
// values that concurrent branches may grow and shrink independently.
type Set[T comparable] struct {
	m Map[T, struct{}]
}

// NewSet returns a set of elems hashed with hash.
func NewSet[T comparable](hash func(T) uint64, elems ...T) Set[T] {
	s := Set[T]{m: New[T, struct{}](hash)}
	for _, e := range elems {
		s = s.Add(e)
	}
	return s
}

// Len returns the number of elements.
func (s Set[T]) Len() int {
	return s.m.Len()
}

// Contains reports membership.
func (s Set[T]) Contains(e T) bool {
	return s.m.Contains(e)
}

// Add returns a set that contains e.
func (s Set[T]) Add(e T) Set[T] {
	if s.m.Contains(e) {
		return s
	}
	return Set[T]{m: s.m.Put(e, struct{}{})}
}

// Remove returns a set without e.
func (s Set[T]) Remove(e T) Set[T] {
	return Set[T]{m: s.m.Delete(e)}
}

// Range calls fn for each element until it returns false.
func (s Set[T]) Range(fn func(e T) bool) {
	s.m.Range(func(e T, _ struct{}) bool {
		return fn(e)
	})
}

// Elements returns the elements in trie order.
func (s Set[T]) Elements() []T {
	return s.m.Keys()
}

// Union returns the elements of both sets.
func (s Set[T]) Union(other Set[T]) Set[T] {
	result := s
	other.Range(func(e T) bool {
		result = result.Add(e)
		return true
	})
	return result
}

// Difference returns the elements of s that are not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	result := s
	other.Range(func(e T) bool {
		result = result.Remove(e)
		return true
	})
	return result
}

// DiffSets reports the elements added and removed going from a to b.
func DiffSets[T comparable](a, b Set[T], added, removed func(T)) {
	Diff(a.m, b.m, func(struct{}, struct{}) bool { return true }, func(c Change[T, struct{}]) {
		switch {
		case c.HasNew && !c.HasOld:
			added(c.Key)
		case c.HasOld && !c.HasNew:
			removed(c.Key)
		}
	})
}

// Equal implements value equality against any other value.
func (s Set[T]) Equal(other any) bool {
	o, ok := other.(Set[T])
	if !ok {
		return false
	}
	return s.m.Equal(o.m, func(struct{}, struct{}) bool { return true })
}

// Hash is an order-independent hash of the content.
func (s Set[T]) Hash() uint64 {
	var h uint64
	if s.m.root == nil {
		return h
	}
	s.m.root.each(func(e *entry[T, struct{}]) bool {
		h += e.hash
		return true
	})
	return h
}

// ContainsValue is Contains for untyped values.
func (s Set[T]) ContainsValue(v any) bool {
	e, ok := v.(T)
	return ok && s.Contains(e)
}

// Values returns the elements as untyped values.
func (s Set[T]) Values() []any {
	vs := make([]any, 0, s.Len())
	s.Range(func(e T) bool {
		vs = append(vs, e)
		return true
	})
	return vs
}

// WithValue is Add for untyped values; values of another type are ignored.
func (s Set[T]) WithValue(v any) any {
	if e, ok := v.(T); ok {
		return s.Add(e)
	}
	return s
}

// WithoutValue is Remove for untyped values.
func (s Set[T]) WithoutValue(v any) any {
	if e, ok := v.(T); ok {
		return s.Remove(e)
	}
	return s
}

// Merge combines branch versions of a set that all started from base: the
// result is base plus every element some branch added, minus every element
// some branch removed.
func (s Set[T]) Merge(base any, branches []any) any {
	b, ok := base.(Set[T])
	if !ok || b.m.hash == nil {
		b = Set[T]{m: New[T, struct{}](s.m.hash)}
	}
	result := b
	for _, br := range branches {
		x, ok := br.(Set[T])
		if !ok {
			continue
		}
		DiffSets(b, x, func(e T) {
			result = result.Add(e)
		}, func(e T) {
			result = result.Remove(e)
		})
	}
	return result
}

// String renders the elements sorted by their printed form.
func (s Set[T]) String() string {
	parts := make([]string, 0, s.Len())
	s.Range(func(e T) bool {
		parts = append(parts, fmt.Sprint(e))
		return true
	})
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
