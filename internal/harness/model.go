package harness

import (
	"fmt"

	"github.com/ModelingValueGroup/dclare-sub000/internal/engine"
)

// Property types.
const (
	TypeInt    = "int"
	TypeString = "string"
	TypeBool   = "bool"
	TypeSet    = "set"
	TypeRef    = "ref"
)

// Property kinds.
const (
	KindObserved = "observed"
	KindPlain    = "plain"
	KindConstant = "constant"
)

// model is a scenario turned into engine declarations.
type model struct {
	props   map[string]*engine.Property
	specs   map[string]PropertySpec
	classes map[string]*engine.Class
	objects map[string]*engine.Node
	// placed lists the non-root objects in declaration order.
	placed []ObjectSpec
	root   *engine.Node
}

func buildModel(s *Scenario) (*model, error) {
	m := &model{
		props:   map[string]*engine.Property{},
		specs:   map[string]PropertySpec{},
		classes: map[string]*engine.Class{},
		objects: map[string]*engine.Node{},
	}
	for i, ps := range s.Properties {
		if err := m.declare(ps); err != nil {
			return nil, fmt.Errorf("properties[%d]: %w", i, err)
		}
	}
	for i, cs := range s.Classes {
		if err := m.declareClass(cs); err != nil {
			return nil, fmt.Errorf("classes[%d]: %w", i, err)
		}
	}
	for i, spec := range s.Objects {
		if err := m.create(spec); err != nil {
			return nil, fmt.Errorf("objects[%d]: %w", i, err)
		}
	}
	if m.root == nil {
		return nil, fmt.Errorf("objects: one object without parent is required")
	}
	for i, spec := range m.placed {
		if err := m.checkPlacement(spec); err != nil {
			return nil, fmt.Errorf("object %q: %w", m.placed[i].Name, err)
		}
	}
	for i, step := range s.Steps {
		if _, err := m.action(step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := m.checkExpect(step.Expect); err != nil {
			return nil, fmt.Errorf("steps[%d].expect: %w", i, err)
		}
	}
	if err := m.checkExpect(s.Expect); err != nil {
		return nil, fmt.Errorf("expect: %w", err)
	}
	return m, nil
}

func (m *model) declare(ps PropertySpec) error {
	if ps.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, dup := m.props[ps.Name]; dup {
		return fmt.Errorf("property %q declared twice", ps.Name)
	}
	def, err := zeroOf(ps.Type)
	if err != nil {
		return err
	}
	if ps.Default != nil {
		if ps.Type == TypeSet || ps.Type == TypeRef {
			return fmt.Errorf("property %q: %s properties cannot have a default", ps.Name, ps.Type)
		}
		if def, err = m.convert(ps, ps.Default); err != nil {
			return err
		}
	}

	var opts []engine.PropertyOption
	if ps.Mandatory {
		opts = append(opts, engine.Mandatory())
	}
	if ps.Containment {
		if ps.Type != TypeSet && ps.Type != TypeRef {
			return fmt.Errorf("property %q: containment needs a set or ref type", ps.Name)
		}
		opts = append(opts, engine.Containment())
	}
	if ps.Opposite != "" {
		other, ok := m.props[ps.Opposite]
		if !ok {
			return fmt.Errorf("property %q: opposite %q must be declared before it", ps.Name, ps.Opposite)
		}
		opts = append(opts, engine.Opposite(other))
	}
	if ps.Scope != "" {
		scope, ok := m.props[ps.Scope]
		if !ok || m.specs[ps.Scope].Type != TypeSet {
			return fmt.Errorf("property %q: scope %q must be a set property declared before it", ps.Name, ps.Scope)
		}
		opts = append(opts, engine.Scope(scope))
	}

	var p *engine.Property
	switch ps.Kind {
	case "", KindObserved:
		p = engine.NewObserved[any](ps.Name, def, opts...).Property
	case KindPlain:
		p = engine.NewSetable[any](ps.Name, def, opts...).Property
	case KindConstant:
		if ps.Type != TypeString {
			return fmt.Errorf("property %q: constants must have type string", ps.Name)
		}
		derive, err := m.deriver(ps)
		if err != nil {
			return err
		}
		p = engine.NewConstant(ps.Name, derive, opts...).Property
	default:
		return fmt.Errorf("property %q: unknown kind %q", ps.Name, ps.Kind)
	}
	m.props[ps.Name] = p
	m.specs[ps.Name] = ps
	return nil
}

func (m *model) deriver(ps PropertySpec) (func(d *engine.Derivation, o engine.Object) string, error) {
	if ps.From == "" {
		return func(_ *engine.Derivation, o engine.Object) string {
			return o.Identity().Name() + ps.Suffix
		}, nil
	}
	base, ok := m.props[ps.From]
	if !ok || m.specs[ps.From].Kind != KindConstant {
		return nil, fmt.Errorf("property %q: from %q must be a constant declared before it", ps.Name, ps.From)
	}
	return func(d *engine.Derivation, o engine.Object) string {
		v, _ := d.Get(o, base).(string)
		return v + ps.Suffix
	}, nil
}

func zeroOf(typ string) (any, error) {
	switch typ {
	case TypeInt:
		return 0, nil
	case TypeString:
		return "", nil
	case TypeBool:
		return false, nil
	case TypeSet:
		return engine.NewMutableSet(), nil
	case TypeRef:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}

func (m *model) declareClass(cs ClassSpec) error {
	if cs.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, dup := m.classes[cs.Name]; dup {
		return fmt.Errorf("class %q declared twice", cs.Name)
	}
	c := engine.NewClass(cs.Name)
	for _, name := range cs.Properties {
		p, ok := m.props[name]
		if !ok {
			return fmt.Errorf("class %q: unknown property %q", cs.Name, name)
		}
		c.WithProperties(p)
	}
	for i, rs := range cs.Rules {
		o, err := m.observer(rs)
		if err != nil {
			return fmt.Errorf("class %q: rules[%d]: %w", cs.Name, i, err)
		}
		c.WithObservers(o)
	}
	m.classes[cs.Name] = c
	return nil
}

// lookup resolves a property name used by a rule, optionally requiring a
// type.
func (m *model) lookup(role, name string, types ...string) (*engine.Property, error) {
	if name == "" {
		return nil, fmt.Errorf("%s is required", role)
	}
	p, ok := m.props[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown property %q", role, name)
	}
	if len(types) == 0 {
		return p, nil
	}
	for _, t := range types {
		if m.specs[name].Type == t {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: property %q has type %s, want %v", role, name, m.specs[name].Type, types)
}

func (m *model) observer(rs RuleSpec) (*engine.Observer, error) {
	if rs.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	var when *engine.Property
	if rs.When != "" {
		var err error
		if when, err = m.lookup("when", rs.When, TypeBool); err != nil {
			return nil, err
		}
	}

	var body func(tx engine.Tx, mu engine.Mutable)
	switch rs.Kind {
	case RuleCopy:
		from, err := m.lookup("from", rs.From)
		if err != nil {
			return nil, err
		}
		to, err := m.lookup("to", rs.To, m.specs[rs.From].Type)
		if err != nil {
			return nil, err
		}
		body = func(tx engine.Tx, mu engine.Mutable) {
			tx.Set(mu, to, tx.Get(mu, from))
		}
	case RuleSum:
		over, err := m.lookup("over", rs.Over, TypeSet, TypeRef)
		if err != nil {
			return nil, err
		}
		from, err := m.lookup("from", rs.From, TypeInt)
		if err != nil {
			return nil, err
		}
		to, err := m.lookup("to", rs.To, TypeInt)
		if err != nil {
			return nil, err
		}
		body = func(tx engine.Tx, mu engine.Mutable) {
			total := 0
			for _, e := range elements(tx.Get(mu, over)) {
				if o, ok := e.(engine.Object); ok {
					total += asInt(tx.Get(o, from))
				}
			}
			tx.Set(mu, to, total)
		}
	case RuleCount:
		over, err := m.lookup("over", rs.Over, TypeSet, TypeRef)
		if err != nil {
			return nil, err
		}
		to, err := m.lookup("to", rs.To, TypeInt)
		if err != nil {
			return nil, err
		}
		body = func(tx engine.Tx, mu engine.Mutable) {
			tx.Set(mu, to, len(elements(tx.Get(mu, over))))
		}
	case RuleIncrement:
		to, err := m.lookup("to", rs.To, TypeInt)
		if err != nil {
			return nil, err
		}
		body = func(tx engine.Tx, mu engine.Mutable) {
			if v := asInt(tx.Get(mu, to)); rs.Until == 0 || v < rs.Until {
				tx.Set(mu, to, v+1)
			}
		}
	case RuleFloor:
		to, err := m.lookup("to", rs.To, TypeInt)
		if err != nil {
			return nil, err
		}
		body = func(tx engine.Tx, mu engine.Mutable) {
			if asInt(tx.Get(mu, to)) < rs.Value {
				tx.Set(mu, to, rs.Value)
			}
		}
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rs.Kind)
	}

	return engine.NewObserver(rs.Name, func(tx engine.Tx, mu engine.Mutable) error {
		if when != nil {
			if on, _ := tx.Get(mu, when).(bool); !on {
				return nil
			}
		}
		body(tx, mu)
		return nil
	}), nil
}

func elements(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case engine.Collection:
		return val.Values()
	default:
		return []any{val}
	}
}

func asInt(v any) int {
	n, _ := v.(int)
	return n
}

func (m *model) create(spec ObjectSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, dup := m.objects[spec.Name]; dup {
		return fmt.Errorf("object %q declared twice", spec.Name)
	}
	c, ok := m.classes[spec.Class]
	if !ok {
		return fmt.Errorf("object %q: unknown class %q", spec.Name, spec.Class)
	}
	n := engine.NewNode(c, spec.Name)
	m.objects[spec.Name] = n
	if spec.Detached {
		if spec.Parent != "" || len(spec.Values) > 0 {
			return fmt.Errorf("object %q: detached objects take no parent or values", spec.Name)
		}
		return nil
	}
	if spec.Parent == "" {
		if m.root != nil {
			return fmt.Errorf("object %q: only one object may omit parent (root is %q)", spec.Name, m.root.Identity().Name())
		}
		m.root = n
		if len(spec.Values) > 0 {
			m.placed = append(m.placed, spec)
		}
		return nil
	}
	m.placed = append(m.placed, spec)
	return nil
}

func (m *model) checkPlacement(spec ObjectSpec) error {
	if spec.Parent != "" {
		if _, ok := m.objects[spec.Parent]; !ok {
			return fmt.Errorf("unknown parent %q", spec.Parent)
		}
		if _, err := m.lookup("via", spec.Via, TypeSet, TypeRef); err != nil {
			return err
		}
		if !m.specs[spec.Via].Containment {
			return fmt.Errorf("via: property %q is not a containment", spec.Via)
		}
	}
	for name, raw := range spec.Values {
		if _, err := m.value(name, raw); err != nil {
			return err
		}
	}
	return nil
}

// value converts a scenario value for the named property.
func (m *model) value(property string, raw any) (any, error) {
	ps, ok := m.specs[property]
	if !ok {
		return nil, fmt.Errorf("unknown property %q", property)
	}
	return m.convert(ps, raw)
}

func (m *model) convert(ps PropertySpec, raw any) (any, error) {
	switch ps.Type {
	case TypeInt:
		if v, ok := raw.(int); ok {
			return v, nil
		}
	case TypeString:
		if v, ok := raw.(string); ok {
			return v, nil
		}
	case TypeBool:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case TypeRef:
		name, ok := raw.(string)
		if !ok {
			break
		}
		if name == "" {
			return nil, nil
		}
		return m.object(name)
	case TypeSet:
		list, ok := raw.([]any)
		if !ok {
			break
		}
		set := engine.NewMutableSet()
		for _, e := range list {
			name, _ := e.(string)
			n, err := m.object(name)
			if err != nil {
				return nil, err
			}
			set = set.Add(n)
		}
		return set, nil
	}
	return nil, fmt.Errorf("property %q: value %v (%T) is not a %s", ps.Name, raw, raw, ps.Type)
}

func (m *model) object(name string) (*engine.Node, error) {
	n, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", name)
	}
	return n, nil
}

// write is a resolved host write.
type write struct {
	op       string
	object   *engine.Node
	property *engine.Property
	value    any
}

const (
	opSet    = "set"
	opAdd    = "add"
	opRemove = "remove"
)

func (m *model) resolve(op string, w Write) (write, error) {
	n, err := m.object(w.Object)
	if err != nil {
		return write{}, err
	}
	ps, ok := m.specs[w.Property]
	if !ok {
		return write{}, fmt.Errorf("unknown property %q", w.Property)
	}
	if ps.Kind == KindConstant {
		return write{}, fmt.Errorf("property %q is a constant", w.Property)
	}
	r := write{op: op, object: n, property: m.props[w.Property]}
	if op == opSet {
		r.value, err = m.convert(ps, w.Value)
		return r, err
	}
	if ps.Type != TypeSet {
		return write{}, fmt.Errorf("%s needs a set property, %q is %s", op, w.Property, ps.Type)
	}
	name, _ := w.Value.(string)
	r.value, err = m.object(name)
	return r, err
}

func (w write) apply(tx engine.Tx) {
	switch w.op {
	case opSet:
		tx.Set(w.object, w.property, w.value)
	case opAdd:
		if c, ok := tx.Get(w.object, w.property).(engine.Collection); ok {
			tx.Set(w.object, w.property, c.WithValue(w.value))
		}
	case opRemove:
		if c, ok := tx.Get(w.object, w.property).(engine.Collection); ok {
			tx.Set(w.object, w.property, c.WithoutValue(w.value))
		}
	}
}

// action builds the universe action of a write step; travel steps have none.
func (m *model) action(step Step) (*engine.Action, error) {
	if step.Travel != "" {
		return nil, nil
	}
	var writes []write
	for _, group := range []struct {
		op     string
		writes []Write
	}{{opSet, step.Set}, {opAdd, step.Add}, {opRemove, step.Remove}} {
		for i, w := range group.writes {
			r, err := m.resolve(group.op, w)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", group.op, i, err)
			}
			writes = append(writes, r)
		}
	}
	return engine.NewAction(step.Name, func(tx engine.Tx, _ engine.Mutable) error {
		for _, w := range writes {
			w.apply(tx)
		}
		return nil
	}), nil
}

// setup places every object in its parent and writes the initial values.
func (m *model) setup() *engine.Action {
	var writes []write
	for _, spec := range m.placed {
		n := m.objects[spec.Name]
		if spec.Parent != "" {
			op := opAdd
			if m.specs[spec.Via].Type == TypeRef {
				op = opSet
			}
			writes = append(writes, write{op: op, object: m.objects[spec.Parent], property: m.props[spec.Via], value: n})
		}
		for name, raw := range spec.Values {
			v, _ := m.value(name, raw)
			writes = append(writes, write{op: opSet, object: n, property: m.props[name], value: v})
		}
	}
	return engine.NewAction("setup", func(tx engine.Tx, _ engine.Mutable) error {
		for _, w := range writes {
			w.apply(tx)
		}
		return nil
	})
}

func (m *model) checkExpect(e *Expect) error {
	if e == nil {
		return nil
	}
	for object, props := range e.State {
		if _, err := m.object(object); err != nil {
			return err
		}
		for name, raw := range props {
			if _, err := m.value(name, raw); err != nil {
				return fmt.Errorf("%s: %w", object, err)
			}
		}
	}
	return nil
}
