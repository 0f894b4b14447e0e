package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
)

// ObjectID is the process-unique number of an object.
type ObjectID uint64

var lastObjectID atomic.Uint64

// Identity anchors an object's lifetime. Constants held with weak strength are
// released once the identity becomes unreachable, so an object must keep its
// Identity for as long as it lives and nothing else should retain it.
type Identity struct {
	id   ObjectID
	name string
}

// NewIdentity allocates a fresh identity.
func NewIdentity(name string) *Identity {
	return &Identity{id: ObjectID(lastObjectID.Add(1)), name: name}
}

// ID returns the object number.
func (i *Identity) ID() ObjectID { return i.id }

// Name returns the display name given at creation.
func (i *Identity) Name() string { return i.name }

// Object is anything properties can be attached to.
type Object interface {
	Identity() *Identity
}

// Mutable is an object that lives in the containment tree and runs observers.
type Mutable interface {
	Object
	Class() *Class
}

// Node is the standard Mutable implementation. Domain types either use Node
// directly or embed *Node.
type Node struct {
	identity *Identity
	class    *Class
}

// NewNode creates a mutable of the given class.
func NewNode(class *Class, name string) *Node {
	return &Node{identity: NewIdentity(name), class: class}
}

func (n *Node) Identity() *Identity { return n.identity }

func (n *Node) Class() *Class { return n.class }

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.identity.name, n.identity.id)
}

// Class declares the properties, observers and lifecycle hooks shared by a
// kind of mutable.
type Class struct {
	Name string

	// OnActivate runs when a mutable of this class enters the tree.
	OnActivate func(tx Tx, m Mutable)
	// OnDeactivate runs when a mutable of this class is swept as an orphan.
	OnDeactivate func(tx Tx, m Mutable)

	properties []*Property
	observers  []*Observer
}

// NewClass creates an empty class.
func NewClass(name string) *Class {
	return &Class{Name: name}
}

// WithProperties declares properties checked at commit time and cleared when
// a mutable of this class becomes an orphan.
func (c *Class) WithProperties(ps ...*Property) *Class {
	c.properties = append(c.properties, ps...)
	return c
}

// WithObservers declares observers run for every active mutable of this class.
func (c *Class) WithObservers(os ...*Observer) *Class {
	c.observers = append(c.observers, os...)
	return c
}

// Properties returns the declared properties.
func (c *Class) Properties() []*Property { return c.properties }

// Observers returns the declared observers.
func (c *Class) Observers() []*Observer { return c.observers }

// ParentRef is the value of ParentContaining: the container and the
// containment property holding the child.
type ParentRef struct {
	Parent     Mutable
	Containing *Property
}

func hashObject(o Object) uint64 {
	return pmap.HashUint64(uint64(o.Identity().id))
}

func hashMutable(m Mutable) uint64 {
	return hashObject(m)
}

// NewMutableSet creates a set of mutables, the usual value of containment
// properties.
func NewMutableSet(ms ...Mutable) pmap.Set[Mutable] {
	return pmap.NewSet(hashMutable, ms...)
}

// NewObjectSet creates a set of objects.
func NewObjectSet(os ...Object) pmap.Set[Object] {
	return pmap.NewSet(hashObject, os...)
}

func objectName(o Object) string {
	if o == nil {
		return "<nil>"
	}
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	id := o.Identity()
	return fmt.Sprintf("%s#%d", id.name, id.id)
}
