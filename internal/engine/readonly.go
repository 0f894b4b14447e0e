package engine

// ReadOnlyTransaction reads a fixed state. Writes and triggers panic with a
// READ_ONLY error; constants are derived as usual.
type ReadOnlyTransaction struct {
	universe *UniverseTransaction
	state    State
}

func (rt *ReadOnlyTransaction) Get(o Object, p *Property) any {
	if p.kind == KindConstant {
		return rt.universe.constant(o, p)
	}
	return rt.state.Get(o, p)
}

func (rt *ReadOnlyTransaction) Set(o Object, p *Property, _ any) any {
	panic(newRuntimeError(ErrCodeReadOnly, "write of %s in read-only transaction", slotName(o, p)))
}

func (rt *ReadOnlyTransaction) Pre(o Object, p *Property) any {
	return rt.Get(o, p)
}

func (rt *ReadOnlyTransaction) State() State { return rt.state }

func (rt *ReadOnlyTransaction) Mutable() Mutable { return rt.universe.root }

func (rt *ReadOnlyTransaction) Universe() *UniverseTransaction { return rt.universe }

func (rt *ReadOnlyTransaction) Trigger(m Mutable, l Leaf, _ Priority) {
	panic(newRuntimeError(ErrCodeReadOnly, "trigger of %s on %s in read-only transaction", l.Name(), objectName(m)))
}

// ReadOnly runs fn against the last committed state from the calling
// goroutine. A panic in fn, including a write, is returned as an error.
func (u *UniverseTransaction) ReadOnly(fn func(tx Tx) error) error {
	return u.ReadOnlyOn(u.CurrentState(), fn)
}

// ReadOnlyOn runs fn against s.
func (u *UniverseTransaction) ReadOnlyOn(s State, fn func(tx Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return fn(&ReadOnlyTransaction{universe: u, state: s})
}
