package pmap

// Map is an immutable hash map from K to V. Create maps with New; the zero
// Map is empty and can be read but not updated.
type Map[K comparable, V any] struct {
	root *node[K, V]
	size int
	hash func(K) uint64
}

// New returns an empty map that hashes keys with hash.
func New[K comparable, V any](hash func(K) uint64) Map[K, V] {
	return Map[K, V]{hash: hash}
}

// Len returns the number of entries.
func (m Map[K, V]) Len() int {
	return m.size
}

// Get returns the value stored for key.
func (m Map[K, V]) Get(key K) (V, bool) {
	if m.root == nil {
		var zero V
		return zero, false
	}
	e, ok := m.root.lookup(m.hash(key), key, 0)
	if !ok {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Contains reports whether key is present.
func (m Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put returns a map with key bound to val.
func (m Map[K, V]) Put(key K, val V) Map[K, V] {
	e := &entry[K, V]{hash: m.hash(key), key: key, val: val}
	if m.root == nil {
		root := &node[K, V]{}
		root, _ = root.put(0, e)
		return Map[K, V]{root: root, size: 1, hash: m.hash}
	}
	root, added := m.root.put(0, e)
	size := m.size
	if added {
		size++
	}
	return Map[K, V]{root: root, size: size, hash: m.hash}
}

// Delete returns a map without key. The receiver is returned unchanged when
// key is absent.
func (m Map[K, V]) Delete(key K) Map[K, V] {
	if m.root == nil {
		return m
	}
	root, removed := m.root.remove(0, m.hash(key), key)
	if !removed {
		return m
	}
	if root.empty() {
		return Map[K, V]{hash: m.hash}
	}
	return Map[K, V]{root: root, size: m.size - 1, hash: m.hash}
}

// Range calls fn for every entry until fn returns false. The order is
// deterministic for a given content but otherwise unspecified.
func (m Map[K, V]) Range(fn func(key K, val V) bool) {
	if m.root == nil {
		return
	}
	m.root.each(func(e *entry[K, V]) bool {
		return fn(e.key, e.val)
	})
}

// Keys returns all keys.
func (m Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.size)
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Same reports whether both maps share the same root, which implies equal
// content without inspecting any entry.
func (m Map[K, V]) Same(other Map[K, V]) bool {
	return m.root == other.root
}

// Equal compares two maps by content, using eq for values.
func (m Map[K, V]) Equal(other Map[K, V], eq func(a, b V) bool) bool {
	if m.root == other.root {
		return true
	}
	if m.size != other.size {
		return false
	}
	equal := true
	m.Range(func(k K, v V) bool {
		ov, ok := other.Get(k)
		if !ok || !eq(v, ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// Change describes one key whose binding differs between two maps.
type Change[K comparable, V any] struct {
	Key    K
	Old    V
	HasOld bool
	New    V
	HasNew bool
}

// Diff calls fn for every key bound differently in a and b. Subtrees shared
// by both maps are skipped. Values bound on both sides are reported only when
// same returns false.
func Diff[K comparable, V any](a, b Map[K, V], same func(x, y V) bool, fn func(Change[K, V])) {
	diffNodes(a.root, b.root, 0, same, fn)
}

func diffNodes[K comparable, V any](a, b *node[K, V], shift uint, same func(x, y V) bool, fn func(Change[K, V])) {
	if a == b {
		return
	}
	if a == nil {
		b.each(func(e *entry[K, V]) bool {
			fn(Change[K, V]{Key: e.key, New: e.val, HasNew: true})
			return true
		})
		return
	}
	if b == nil {
		a.each(func(e *entry[K, V]) bool {
			fn(Change[K, V]{Key: e.key, Old: e.val, HasOld: true})
			return true
		})
		return
	}
	if a.collision || b.collision {
		diffFlat(a, b, same, fn)
		return
	}
	union := a.bitmap | b.bitmap
	for union != 0 {
		bit := union & -union
		union ^= bit
		sa, oka := a.slotFor(bit)
		sb, okb := b.slotFor(bit)
		switch {
		case !okb:
			eachInSlot(sa, func(e *entry[K, V]) {
				fn(Change[K, V]{Key: e.key, Old: e.val, HasOld: true})
			})
		case !oka:
			eachInSlot(sb, func(e *entry[K, V]) {
				fn(Change[K, V]{Key: e.key, New: e.val, HasNew: true})
			})
		case sa.child != nil && sb.child != nil:
			diffNodes(sa.child, sb.child, shift+bitsPerLevel, same, fn)
		case sa.entry != nil && sb.entry != nil:
			diffEntries(sa.entry, sb.entry, same, fn)
		case sa.entry != nil:
			diffEntryNode(sa.entry, sb.child, false, same, fn)
		default:
			diffEntryNode(sb.entry, sa.child, true, same, fn)
		}
	}
}

func eachInSlot[K comparable, V any](s slot[K, V], fn func(e *entry[K, V])) {
	if s.entry != nil {
		fn(s.entry)
		return
	}
	s.child.each(func(e *entry[K, V]) bool {
		fn(e)
		return true
	})
}

func diffEntries[K comparable, V any](a, b *entry[K, V], same func(x, y V) bool, fn func(Change[K, V])) {
	if a == b {
		return
	}
	if a.key == b.key {
		if !same(a.val, b.val) {
			fn(Change[K, V]{Key: a.key, Old: a.val, HasOld: true, New: b.val, HasNew: true})
		}
		return
	}
	fn(Change[K, V]{Key: a.key, Old: a.val, HasOld: true})
	fn(Change[K, V]{Key: b.key, New: b.val, HasNew: true})
}

// diffEntryNode compares a lone entry on one side with a subtree on the
// other. When entryIsNew is set the entry belongs to the newer map.
func diffEntryNode[K comparable, V any](e *entry[K, V], n *node[K, V], entryIsNew bool, same func(x, y V) bool, fn func(Change[K, V])) {
	found := false
	n.each(func(x *entry[K, V]) bool {
		if x.key == e.key {
			found = true
			if entryIsNew {
				diffEntries(x, e, same, fn)
			} else {
				diffEntries(e, x, same, fn)
			}
			return true
		}
		if entryIsNew {
			fn(Change[K, V]{Key: x.key, Old: x.val, HasOld: true})
		} else {
			fn(Change[K, V]{Key: x.key, New: x.val, HasNew: true})
		}
		return true
	})
	if found {
		return
	}
	if entryIsNew {
		fn(Change[K, V]{Key: e.key, New: e.val, HasNew: true})
	} else {
		fn(Change[K, V]{Key: e.key, Old: e.val, HasOld: true})
	}
}

func diffFlat[K comparable, V any](a, b *node[K, V], same func(x, y V) bool, fn func(Change[K, V])) {
	olds := map[K]*entry[K, V]{}
	a.each(func(e *entry[K, V]) bool {
		olds[e.key] = e
		return true
	})
	b.each(func(e *entry[K, V]) bool {
		if o, ok := olds[e.key]; ok {
			diffEntries(o, e, same, fn)
			delete(olds, e.key)
		} else {
			fn(Change[K, V]{Key: e.key, New: e.val, HasNew: true})
		}
		return true
	})
	for _, o := range olds {
		fn(Change[K, V]{Key: o.key, Old: o.val, HasOld: true})
	}
}
