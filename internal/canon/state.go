package canon

import (
	"fmt"
	"sort"

	"github.com/ModelingValueGroup/dclare-sub000/internal/engine"
)

// StateDocument renders the non-plumbing content of s as a JSON object:
// object name to property name to value. Objects are named by their identity
// name, so every object in s must have a unique name. Mutable references
// render as the referenced name; collections as sorted arrays.
func StateDocument(s engine.State) (map[string]any, error) {
	doc := map[string]any{}
	for _, o := range s.Objects() {
		props := map[string]any{}
		var err error
		s.Properties(o, func(p *engine.Property, v any) {
			if p.IsPlumbing() || err != nil {
				return
			}
			var rendered any
			if rendered, err = Value(v); err != nil {
				err = fmt.Errorf("%s.%s: %w", o.Identity().Name(), p.Name(), err)
				return
			}
			props[p.Name()] = rendered
		})
		if err != nil {
			return nil, err
		}
		if len(props) == 0 {
			continue
		}
		name := o.Identity().Name()
		if _, dup := doc[name]; dup {
			return nil, fmt.Errorf("object name %q is not unique", name)
		}
		doc[name] = props
	}
	return doc, nil
}

// Value converts one property value into its canonical JSON form.
func Value(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int, int32, int64, uint64:
		return val, nil
	case engine.TransactionID:
		return int64(val), nil
	case error:
		return val.Error(), nil
	case engine.Object:
		return val.Identity().Name(), nil
	case engine.Collection:
		elems := make([]any, 0, val.Len())
		for _, e := range val.Values() {
			r, err := Value(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, r)
		}
		sortValues(elems)
		return elems, nil
	case nil:
		return nil, fmt.Errorf("nil value")
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

// sortValues orders rendered elements by their canonical bytes, so set order
// never shows in the output.
func sortValues(elems []any) {
	keys := make([]string, len(elems))
	for i, e := range elems {
		data, _ := Marshal(e)
		keys[i] = string(data)
	}
	sort.Sort(byKey{elems, keys})
}

type byKey struct {
	elems []any
	keys  []string
}

func (b byKey) Len() int           { return len(b.elems) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.elems[i], b.elems[j] = b.elems[j], b.elems[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

// StateFingerprint hashes the canonical document of s.
func StateFingerprint(s engine.State) (string, error) {
	doc, err := StateDocument(s)
	if err != nil {
		return "", err
	}
	return Fingerprint(DomainState, doc)
}

// TraceDocument renders an observer trace chain, newest first.
func TraceDocument(t *engine.ObserverTrace, limit int) []any {
	var out []any
	for _, c := range t.Chain(limit) {
		out = append(out, map[string]any{
			"observer": c.Observer,
			"mutable":  c.Mutable,
			"reads":    stringMap(c.Reads),
			"writes":   stringMap(c.Writes),
		})
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TraceFingerprint hashes the canonical document of a trace chain.
func TraceFingerprint(t *engine.ObserverTrace, limit int) (string, error) {
	return Fingerprint(DomainTrace, TraceDocument(t, limit))
}
