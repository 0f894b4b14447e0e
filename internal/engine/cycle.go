package engine

import "fmt"

// Derivation is the derivation stack of one top-level constant read. It is
// passed explicitly to every derive function so that nested constant reads
// can detect cycles without goroutine-local state.
//
// Two failure shapes are told apart:
//   - Cycle: the same (object, constant) pair is already on the stack
//     (A → B → A). This is a definition error and always fatal.
//   - Overflow: the stack is deeper than the configured maximum without a
//     cycle (A → B → C → ... → Z). The top-level read then derives the
//     deepest pending pair first and retries, so long acyclic chains still
//     resolve.
//
// A Derivation must not be shared between goroutines.
type Derivation struct {
	cs       *ConstantState
	stack    []slotKey
	maxDepth int
}

// overflow unwinds a derivation that went deeper than maxDepth. key is the
// frame that could not be opened.
type overflow struct {
	key slotKey
}

// Get reads a constant from inside a derive function, deriving it first when
// needed. Failures unwind the derivation as a panic that the top-level read
// turns into an error.
func (d *Derivation) Get(o Object, p *Property) any {
	if v, ok := d.cs.lookup(o, p); ok {
		return v
	}
	if p.derive == nil {
		return p.def
	}
	key := slotKey{o, p}
	for i, k := range d.stack {
		if k == key {
			panic(&CircularConstantError{Cycle: d.cycle(i)})
		}
	}
	if len(d.stack) >= d.maxDepth {
		panic(overflow{key: key})
	}
	d.stack = append(d.stack, key)
	v := p.derive(d, o)
	d.stack = d.stack[:len(d.stack)-1]
	return d.cs.store(o, p, v)
}

// Depth returns the number of constants currently being derived.
func (d *Derivation) Depth() int {
	return len(d.stack)
}

func (d *Derivation) cycle(from int) []string {
	names := make([]string, 0, len(d.stack)-from+1)
	for _, k := range d.stack[from:] {
		names = append(names, slotName(k.object, k.property))
	}
	return append(names, slotName(d.stack[from].object, d.stack[from].property))
}

// derive is the top-level read. Overflowing pairs are kept on a pending list
// and derived deepest first until the original pair resolves.
func (d *Derivation) derive(o Object, p *Property) (v any, err error) {
	pending := []slotKey{{o, p}}
	seen := map[slotKey]bool{}
	for len(pending) > 0 {
		key := pending[len(pending)-1]
		res, next, err := d.attempt(key)
		if err != nil {
			return nil, err
		}
		if next != nil {
			if seen[*next] {
				return nil, fmt.Errorf("constant %s: derivation does not make progress", slotName(next.object, next.property))
			}
			seen[*next] = true
			pending = append(pending, *next)
			continue
		}
		pending = pending[:len(pending)-1]
		v = res
	}
	return v, nil
}

func (d *Derivation) attempt(key slotKey) (v any, next *slotKey, err error) {
	d.stack = d.stack[:0]
	defer func() {
		if r := recover(); r != nil {
			if of, ok := r.(overflow); ok {
				next = &of.key
				return
			}
			err = recovered(r)
		}
	}()
	return d.Get(key.object, key.property), nil, nil
}
