package engine

import (
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// Equaler is implemented by values that define their own equality.
type Equaler interface {
	Equal(other any) bool
}

// Mergeable is implemented by values that know how to combine concurrent
// edits. Merge receives the value all branches started from and the values
// of the branches that changed it.
type Mergeable interface {
	Merge(base any, branches []any) any
}

// Collection is the element protocol used for containment, opposites,
// mandatory checks and ripple-out on multi-valued properties. pmap.Set
// implements it.
type Collection interface {
	Len() int
	ContainsValue(v any) bool
	Values() []any
	WithValue(v any) any
	WithoutValue(v any) any
}

// Equal is the value equality used for every property value.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if e, ok := a.(Equaler); ok {
		return e.Equal(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// IsEmpty reports whether v counts as empty for mandatory checks.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if c, ok := v.(Collection); ok {
		return c.Len() == 0
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// elements flattens a single value or a collection into its elements.
func elements(v any) []any {
	if v == nil {
		return nil
	}
	if c, ok := v.(Collection); ok {
		return c.Values()
	}
	return []any{v}
}

// diffElements reports elements present only in post (added) or only in pre
// (removed), treating single values as one-element collections.
func diffElements(pre, post any, added, removed func(any)) {
	pc, preIsColl := pre.(Collection)
	qc, postIsColl := post.(Collection)
	for _, e := range elements(post) {
		if preIsColl {
			if !pc.ContainsValue(e) {
				added(e)
			}
		} else if !Equal(pre, e) {
			added(e)
		}
	}
	for _, e := range elements(pre) {
		if postIsColl {
			if !qc.ContainsValue(e) {
				removed(e)
			}
		} else if !Equal(post, e) {
			removed(e)
		}
	}
}

// hasher is implemented by values that expose a content hash.
type hasher interface {
	Hash() uint64
}

// maxInterned bounds the interner table; it is reset when full.
const maxInterned = 1 << 14

// interner replaces recurring immutable values with one shared instance so
// that later comparisons hit the identity fast path in pmap.
type interner struct {
	table *xsync.MapOf[uint64, any]
}

func newInterner() *interner {
	return &interner{table: xsync.NewMapOf[uint64, any]()}
}

func (in *interner) intern(v any) any {
	var h uint64
	switch x := v.(type) {
	case string:
		if len(x) > 64 {
			return v
		}
		h = pmap.HashString(x)
	case hasher:
		h = x.Hash()
	default:
		return v
	}
	if cur, ok := in.table.Load(h); ok {
		if Equal(cur, v) {
			return cur
		}
		return v
	}
	if in.table.Size() >= maxInterned {
		in.table.Clear()
	}
	in.table.Store(h, v)
	return v
}
