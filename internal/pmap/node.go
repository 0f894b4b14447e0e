package pmap

import "math/bits"

const (
	bitsPerLevel = 5
	levelMask    = 1<<bitsPerLevel - 1
	hashBits     = 64
)

type entry[K comparable, V any] struct {
	hash uint64
	key  K
	val  V
}

// slot holds either an entry or a child node, never both.
type slot[K comparable, V any] struct {
	entry *entry[K, V]
	child *node[K, V]
}

// node is an inner trie node. Below the last hash level a node degenerates
// into a collision bucket holding entries whose full hashes are equal.
type node[K comparable, V any] struct {
	bitmap     uint32
	slots      []slot[K, V]
	collision  bool
	collisions []*entry[K, V]
}

func index(hash uint64, shift uint) uint32 {
	return uint32(hash>>shift) & levelMask
}

func (n *node[K, V]) position(bit uint32) int {
	return bits.OnesCount32(n.bitmap & (bit - 1))
}

func (n *node[K, V]) lookup(hash uint64, key K, shift uint) (*entry[K, V], bool) {
	for {
		if n.collision {
			for _, e := range n.collisions {
				if e.key == key {
					return e, true
				}
			}
			return nil, false
		}
		bit := uint32(1) << index(hash, shift)
		if n.bitmap&bit == 0 {
			return nil, false
		}
		s := n.slots[n.position(bit)]
		if s.entry != nil {
			if s.entry.hash == hash && s.entry.key == key {
				return s.entry, true
			}
			return nil, false
		}
		n = s.child
		shift += bitsPerLevel
	}
}

func (n *node[K, V]) put(shift uint, e *entry[K, V]) (*node[K, V], bool) {
	if n.collision {
		for i, c := range n.collisions {
			if c.key == e.key {
				cs := make([]*entry[K, V], len(n.collisions))
				copy(cs, n.collisions)
				cs[i] = e
				return &node[K, V]{collision: true, collisions: cs}, false
			}
		}
		cs := make([]*entry[K, V], len(n.collisions), len(n.collisions)+1)
		copy(cs, n.collisions)
		return &node[K, V]{collision: true, collisions: append(cs, e)}, true
	}
	bit := uint32(1) << index(e.hash, shift)
	pos := n.position(bit)
	if n.bitmap&bit == 0 {
		return n.insertSlot(pos, bit, slot[K, V]{entry: e}), true
	}
	s := n.slots[pos]
	if s.child != nil {
		child, added := s.child.put(shift+bitsPerLevel, e)
		return n.replaceSlot(pos, slot[K, V]{child: child}), added
	}
	if s.entry.hash == e.hash && s.entry.key == e.key {
		return n.replaceSlot(pos, slot[K, V]{entry: e}), false
	}
	return n.replaceSlot(pos, slot[K, V]{child: pair(shift+bitsPerLevel, s.entry, e)}), true
}

func pair[K comparable, V any](shift uint, a, b *entry[K, V]) *node[K, V] {
	if shift >= hashBits {
		return &node[K, V]{collision: true, collisions: []*entry[K, V]{a, b}}
	}
	ia, ib := index(a.hash, shift), index(b.hash, shift)
	if ia == ib {
		return &node[K, V]{
			bitmap: uint32(1) << ia,
			slots:  []slot[K, V]{{child: pair(shift+bitsPerLevel, a, b)}},
		}
	}
	n := &node[K, V]{bitmap: uint32(1)<<ia | uint32(1)<<ib}
	if ia < ib {
		n.slots = []slot[K, V]{{entry: a}, {entry: b}}
	} else {
		n.slots = []slot[K, V]{{entry: b}, {entry: a}}
	}
	return n
}

func (n *node[K, V]) remove(shift uint, hash uint64, key K) (*node[K, V], bool) {
	if n.collision {
		for i, c := range n.collisions {
			if c.key == key {
				cs := make([]*entry[K, V], 0, len(n.collisions)-1)
				cs = append(cs, n.collisions[:i]...)
				cs = append(cs, n.collisions[i+1:]...)
				return &node[K, V]{collision: true, collisions: cs}, true
			}
		}
		return n, false
	}
	bit := uint32(1) << index(hash, shift)
	if n.bitmap&bit == 0 {
		return n, false
	}
	pos := n.position(bit)
	s := n.slots[pos]
	if s.entry != nil {
		if s.entry.hash != hash || s.entry.key != key {
			return n, false
		}
		return n.removeSlot(pos, bit), true
	}
	child, removed := s.child.remove(shift+bitsPerLevel, hash, key)
	if !removed {
		return n, false
	}
	if child.empty() {
		return n.removeSlot(pos, bit), true
	}
	if e := child.single(); e != nil {
		return n.replaceSlot(pos, slot[K, V]{entry: e}), true
	}
	return n.replaceSlot(pos, slot[K, V]{child: child}), true
}

func (n *node[K, V]) empty() bool {
	if n.collision {
		return len(n.collisions) == 0
	}
	return len(n.slots) == 0
}

// single returns the only entry of a node that holds exactly one entry and no
// children, so the parent can inline it.
func (n *node[K, V]) single() *entry[K, V] {
	if n.collision {
		if len(n.collisions) == 1 {
			return n.collisions[0]
		}
		return nil
	}
	if len(n.slots) == 1 && n.slots[0].entry != nil {
		return n.slots[0].entry
	}
	return nil
}

func (n *node[K, V]) insertSlot(pos int, bit uint32, s slot[K, V]) *node[K, V] {
	slots := make([]slot[K, V], len(n.slots)+1)
	copy(slots, n.slots[:pos])
	slots[pos] = s
	copy(slots[pos+1:], n.slots[pos:])
	return &node[K, V]{bitmap: n.bitmap | bit, slots: slots}
}

func (n *node[K, V]) replaceSlot(pos int, s slot[K, V]) *node[K, V] {
	slots := make([]slot[K, V], len(n.slots))
	copy(slots, n.slots)
	slots[pos] = s
	return &node[K, V]{bitmap: n.bitmap, slots: slots}
}

func (n *node[K, V]) removeSlot(pos int, bit uint32) *node[K, V] {
	slots := make([]slot[K, V], 0, len(n.slots)-1)
	slots = append(slots, n.slots[:pos]...)
	slots = append(slots, n.slots[pos+1:]...)
	return &node[K, V]{bitmap: n.bitmap &^ bit, slots: slots}
}

func (n *node[K, V]) each(fn func(e *entry[K, V]) bool) bool {
	if n.collision {
		for _, e := range n.collisions {
			if !fn(e) {
				return false
			}
		}
		return true
	}
	for _, s := range n.slots {
		if s.entry != nil {
			if !fn(s.entry) {
				return false
			}
		} else if !s.child.each(fn) {
			return false
		}
	}
	return true
}

func (n *node[K, V]) slotFor(bit uint32) (slot[K, V], bool) {
	if n.bitmap&bit == 0 {
		return slot[K, V]{}, false
	}
	return n.slots[n.position(bit)], true
}
