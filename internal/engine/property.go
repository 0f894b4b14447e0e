package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// Kind is the closed set of property variants.
type Kind uint8

const (
	// KindPlain is a stored slot without dependency tracking.
	KindPlain Kind = iota
	// KindObserved is a stored slot whose readers are recorded and re-triggered.
	KindObserved
	// KindConstant is derived once per object and memoized outside State.
	KindConstant
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindObserved:
		return "observed"
	case KindConstant:
		return "constant"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Durability selects how strongly ConstantState retains a derived value.
type Durability uint8

const (
	// Weak entries disappear with their object.
	Weak Durability = iota
	// Soft entries survive until ConstantState.ReleaseSoft.
	Soft
	// Durable entries are never evicted.
	Durable
)

var lastPropertyID atomic.Uint64

// Property describes one attribute slot. Properties compare by identity.
type Property struct {
	id          uint64
	name        string
	kind        Kind
	def         any
	plumbing    bool
	preserved   bool
	containment bool
	mandatory   bool
	opposite    *Property
	scope       *Property
	onChange    []func(tx Tx, o Object, pre, post any)

	// observersIndex holds, per object, the observers that read this property.
	observersIndex *Property
	// indexOf is set on an observers index and points back at its property.
	indexOf *Property

	derive     func(d *Derivation, o Object) any
	durability Durability
}

// PropertyOption configures a property at declaration.
type PropertyOption func(*Property)

// Mandatory marks an observed property that must not be empty after commit.
func Mandatory() PropertyOption {
	return func(p *Property) { p.mandatory = true }
}

// Containment makes the property own its values: each contained mutable gets
// this object as parent.
func Containment() PropertyOption {
	return func(p *Property) { p.containment = true }
}

// Plumbing marks engine bookkeeping that is exempt from change stamping,
// ripple-out and consistency checks.
func Plumbing() PropertyOption {
	return func(p *Property) { p.plumbing = true }
}

// Preserved keeps the property when its object is swept as an orphan.
func Preserved() PropertyOption {
	return func(p *Property) { p.preserved = true }
}

// Opposite links two properties so that writing one maintains the other.
func Opposite(other *Property) PropertyOption {
	return func(p *Property) {
		p.opposite = other
		other.opposite = p
	}
}

// Scope restricts the values of a property to the elements of another
// collection-valued property of the same object.
func Scope(scope *Property) PropertyOption {
	return func(p *Property) { p.scope = scope }
}

// OnChange registers a hook run inside the writing transaction after every
// effective change.
func OnChange(fn func(tx Tx, o Object, pre, post any)) PropertyOption {
	return func(p *Property) { p.onChange = append(p.onChange, fn) }
}

// WithDurability sets the retention strength of a constant.
func WithDurability(d Durability) PropertyOption {
	return func(p *Property) { p.durability = d }
}

func newProperty(name string, kind Kind, def any, opts ...PropertyOption) *Property {
	p := &Property{
		id:   lastPropertyID.Add(1),
		name: name,
		kind: kind,
		def:  def,
	}
	for _, opt := range opts {
		opt(p)
	}
	if kind == KindObserved {
		p.observersIndex = &Property{
			id:       lastPropertyID.Add(1),
			name:     name + "~observers",
			kind:     KindPlain,
			def:      emptyObserverRefs,
			plumbing: true,
			indexOf:  p,
		}
		p.observersIndex.onChange = []func(Tx, Object, any, any){func(tx Tx, o Object, _, post any) {
			checkTooManyObservers(tx, o, p, post)
		}}
	}
	return p
}

func (p *Property) Name() string { return p.name }

func (p *Property) Kind() Kind { return p.kind }

func (p *Property) Default() any { return p.def }

func (p *Property) IsPlumbing() bool { return p.plumbing }

func (p *Property) IsContainment() bool { return p.containment }

func (p *Property) IsMandatory() bool { return p.mandatory }

func (p *Property) Opposite() *Property { return p.opposite }

func (p *Property) String() string { return p.name }

func hashProperty(p *Property) uint64 {
	return pmap.HashUint64(p.id)
}

// checksConsistency reports whether commit-time checks apply.
func (p *Property) checksConsistency() bool {
	if p.plumbing {
		return false
	}
	return p.mandatory || p.scope != nil || p.holdsReferences()
}

// holdsReferences reports whether values are non-owning references to
// mutables that must stay in the tree.
func (p *Property) holdsReferences() bool {
	return !p.containment && p.kind != KindConstant && p.opposite == nil
}

// Prop is a typed handle on a Property.
type Prop[T any] struct {
	*Property
}

// NewSetable declares a plain stored property.
func NewSetable[T any](name string, def T, opts ...PropertyOption) Prop[T] {
	return Prop[T]{newProperty(name, KindPlain, def, opts...)}
}

// NewObserved declares a dependency-tracked property.
func NewObserved[T any](name string, def T, opts ...PropertyOption) Prop[T] {
	return Prop[T]{newProperty(name, KindObserved, def, opts...)}
}

// NewConstant declares a property derived once per object by derive, which
// must be a pure function of the object and other constants.
func NewConstant[T any](name string, derive func(d *Derivation, o Object) T, opts ...PropertyOption) Prop[T] {
	var zero T
	p := newProperty(name, KindConstant, zero, opts...)
	if derive != nil {
		p.derive = func(d *Derivation, o Object) any { return derive(d, o) }
	}
	return Prop[T]{p}
}

// Get reads the value visible to tx.
func (p Prop[T]) Get(tx Tx, o Object) T {
	return cast[T](tx.Get(o, p.Property))
}

// Set writes v and returns the previous value.
func (p Prop[T]) Set(tx Tx, o Object, v T) T {
	return cast[T](tx.Set(o, p.Property, v))
}

// Pre reads the value at the start of the current universe transaction.
func (p Prop[T]) Pre(tx Tx, o Object) T {
	return cast[T](tx.Pre(o, p.Property))
}

// In reads the value from a state snapshot.
func (p Prop[T]) In(s State, o Object) T {
	return cast[T](s.Get(o, p.Property))
}

// Derive reads a constant from inside another constant's derivation.
func (p Prop[T]) Derive(d *Derivation, o Object) T {
	return cast[T](d.Get(o, p.Property))
}

func cast[T any](v any) T {
	t, _ := v.(T)
	return t
}
