package engine

import (
	"sync"
	"sync/atomic"
)

var lastLeafID atomic.Uint64

// Action is a side-effecting unit of work run once per trigger.
type Action struct {
	id   uint64
	name string
	body func(tx Tx, m Mutable) error
}

// NewAction declares an action. The body runs inside an action transaction;
// a returned error or panic is fatal to the universe.
func NewAction(name string, body func(tx Tx, m Mutable) error) *Action {
	return &Action{id: lastLeafID.Add(1), name: name, body: body}
}

// Name returns the action name.
func (a *Action) Name() string { return a.name }

func (a *Action) String() string { return a.name }

func (a *Action) action() *Action { return a }

func (a *Action) run(parent *MutableTransaction, m Mutable, pre State) State {
	at := actionPool.Get().(*ActionTransaction)
	at.init(parent, a, m, pre)
	at.self = at
	at.execute()
	post := at.cur
	at.release()
	actionPool.Put(at)
	return post
}

var actionPool = sync.Pool{New: func() any { return new(ActionTransaction) }}

// ActionTransaction runs one Action body against a private state lineage.
// Instances are pooled and reused.
type ActionTransaction struct {
	universe *UniverseTransaction
	parent   *MutableTransaction
	leaf     Leaf
	mutable  Mutable
	pre      State
	cur      State
	// self is the outermost transaction value, handed to bodies and hooks.
	self Tx
	// changes counts effective writes to non-plumbing properties.
	changes int
	// moving suppresses orphaning while a child changes container.
	moving bool
}

func (at *ActionTransaction) init(parent *MutableTransaction, leaf Leaf, m Mutable, pre State) {
	at.universe = parent.universe
	at.parent = parent
	at.leaf = leaf
	at.mutable = m
	at.pre = pre
	at.cur = pre
	at.changes = 0
	at.moving = false
}

func (at *ActionTransaction) release() {
	*at = ActionTransaction{}
}

func (at *ActionTransaction) execute() {
	defer func() {
		if r := recover(); r != nil {
			at.universe.handleException(&TransactionError{Mutable: at.mutable, Action: at.leaf.Name(), Err: recovered(r)})
		}
	}()
	if err := callBody(at.leaf.action().body, at.self, at.mutable); err != nil {
		at.universe.handleException(&TransactionError{Mutable: at.mutable, Action: at.leaf.Name(), Err: err})
		return
	}
	at.traceRun()
}

func (at *ActionTransaction) traceRun() {
	u := at.universe
	if u.limits.TraceActions {
		u.log.Debug("action run",
			"action", at.leaf.Name(),
			"mutable", objectName(at.mutable),
			"changes", at.changes,
		)
	}
}

// callBody runs body and converts a panic into an error.
func callBody(body func(Tx, Mutable) error, tx Tx, m Mutable) (err error) {
	if body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return body(tx, m)
}

func (at *ActionTransaction) Get(o Object, p *Property) any {
	if p.kind == KindConstant {
		return at.universe.constant(o, p)
	}
	return at.cur.Get(o, p)
}

func (at *ActionTransaction) Set(o Object, p *Property, v any) any {
	if p.kind == KindConstant {
		return at.universe.setConstant(o, p, v)
	}
	return at.apply(o, p, v)
}

func (at *ActionTransaction) Pre(o Object, p *Property) any {
	if p.kind == KindConstant {
		return at.universe.constant(o, p)
	}
	return at.universe.preState.Get(o, p)
}

func (at *ActionTransaction) State() State { return at.cur }

func (at *ActionTransaction) Mutable() Mutable { return at.mutable }

func (at *ActionTransaction) Universe() *UniverseTransaction { return at.universe }

func (at *ActionTransaction) Trigger(m Mutable, l Leaf, p Priority) {
	at.cur = triggerIn(at.cur, m, l, p, at.parent)
}

// apply writes v without ripple-out and runs change maintenance when the
// value actually changed.
func (at *ActionTransaction) apply(o Object, p *Property, v any) any {
	v = at.universe.interner.intern(v)
	old := at.cur.Get(o, p)
	if Equal(old, v) {
		return old
	}
	at.cur = at.cur.Set(o, p, v)
	if !p.plumbing {
		at.changes++
	}
	at.changed(o, p, old, v)
	return old
}

func (at *ActionTransaction) changed(o Object, p *Property, pre, post any) {
	if p.containment {
		if parent, ok := o.(Mutable); ok {
			diffElements(pre, post, func(e any) {
				if child, ok := e.(Mutable); ok {
					at.adopt(parent, p, child)
				}
			}, func(e any) {
				if child, ok := e.(Mutable); ok {
					at.orphan(parent, child)
				}
			})
		}
	}
	if p.opposite != nil {
		diffElements(pre, post, func(e any) {
			if target, ok := e.(Object); ok {
				at.addElement(target, p.opposite, o)
			}
		}, func(e any) {
			if target, ok := e.(Object); ok {
				at.removeElement(target, p.opposite, o)
			}
		})
	}
	if p == ParentContaining.Property {
		if child, ok := o.(Mutable); ok {
			at.reparent(child, cast[ParentRef](pre), cast[ParentRef](post))
		}
	}
	for _, fn := range p.onChange {
		fn(at.self, o, pre, post)
	}
	if p.kind == KindObserved {
		if m, ok := o.(Mutable); ok && !p.plumbing {
			at.stampChange(m)
		}
		at.triggerObservers(o, p)
	}
}

// adopt makes parent the container of child, removing it from its previous
// container first.
func (at *ActionTransaction) adopt(parent Mutable, p *Property, child Mutable) {
	ref := ParentContaining.In(at.cur, child)
	if ref.Parent == parent && ref.Containing == p {
		return
	}
	if ref.Parent != nil {
		at.moving = true
		at.removeElement(ref.Parent, ref.Containing, child)
		at.moving = false
	}
	at.apply(child, ParentContaining.Property, ParentRef{Parent: parent, Containing: p})
}

func (at *ActionTransaction) orphan(parent, child Mutable) {
	if at.moving {
		return
	}
	if Parent(at.cur, child) == parent {
		at.apply(child, ParentContaining.Property, ParentRef{})
	}
	for p := 0; p < numPriorities; p++ {
		if set := queuedChildren(at.cur, parent, Priority(p)); set.Contains(child) {
			at.cur = at.cur.Set(parent, queueChildren[p], set.Remove(child))
		}
	}
}

// reparent keeps the containment sets in step with a parent link that was
// written directly, and activates a child entering the tree.
func (at *ActionTransaction) reparent(child Mutable, pre, post ParentRef) {
	if pre == post {
		return
	}
	if pre.Parent != nil && pre.Containing != nil {
		at.removeElement(pre.Parent, pre.Containing, child)
	}
	if post.Parent != nil && post.Containing != nil {
		at.addElement(post.Parent, post.Containing, child)
	}
	if pre.Parent == nil && post.Parent != nil {
		at.activate(child)
	}
}

// activate runs when m enters the tree: all class observers are triggered
// and the class hook runs.
func (at *ActionTransaction) activate(m Mutable) {
	class := m.Class()
	if class == nil {
		return
	}
	for _, o := range class.observers {
		at.Trigger(m, o, PriorityOne)
	}
	if class.OnActivate != nil {
		class.OnActivate(at.self, m)
	}
}

func (at *ActionTransaction) addElement(o Object, p *Property, e any) {
	cur := at.cur.Get(o, p)
	if c, ok := cur.(Collection); ok {
		at.apply(o, p, c.WithValue(e))
		return
	}
	if c, ok := p.def.(Collection); ok {
		at.apply(o, p, c.WithValue(e))
		return
	}
	at.apply(o, p, e)
}

func (at *ActionTransaction) removeElement(o Object, p *Property, e any) {
	cur := at.cur.Get(o, p)
	if c, ok := cur.(Collection); ok {
		at.apply(o, p, c.WithoutValue(e))
		return
	}
	if Equal(cur, e) {
		at.apply(o, p, p.def)
	}
}

// stampChange records the running transaction id on m and its ancestors.
func (at *ActionTransaction) stampChange(m Mutable) {
	id := TransactionID(at.universe.txID.Load())
	for m != nil {
		if ChangeID.In(at.cur, m) == id {
			return
		}
		at.cur = at.cur.Set(m, ChangeID.Property, id)
		m = Parent(at.cur, m)
	}
}

// triggerObservers queues every observer that read p on o, except the
// running observer instance itself.
func (at *ActionTransaction) triggerObservers(o Object, p *Property) {
	refs := cast[observerRefs](at.cur.Get(o, p.observersIndex))
	if refs.Len() == 0 {
		return
	}
	refs.Range(func(r observerRef) bool {
		if r.observer == at.leaf && r.mutable == at.mutable {
			return true
		}
		at.cur = triggerIn(at.cur, r.mutable, r.observer, PriorityOne, at.parent)
		return true
	})
}
