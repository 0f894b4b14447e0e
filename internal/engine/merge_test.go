package engine

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ModelingValueGroup/dclare-sub000/internal/pmap"
	"github.com/ModelingValueGroup/dclare-sub000/internal/testutil"
)

func TestMergeStates_IndependentWritesCommute(t *testing.T) {
	a := NewObserved[int]("a", 0)
	b := NewObserved[int]("b", 0)
	n1 := NewNode(nil, "n1")
	n2 := NewNode(nil, "n2")
	base := NewState().Set(n1, a.Property, 1)

	left := base.Set(n1, a.Property, 2)
	right := base.Set(n2, b.Property, 3)

	lr, err := MergeStates(base, []State{left, right}, nil)
	require.NoError(t, err)
	rl, err := MergeStates(base, []State{right, left}, nil)
	require.NoError(t, err)

	assert.True(t, lr.Equal(rl))
	assert.Equal(t, 2, a.In(lr, n1))
	assert.Equal(t, 3, b.In(lr, n2))
}

func TestMergeStates_SameValueIsNotAConflict(t *testing.T) {
	a := NewObserved[string]("a", "")
	n := NewNode(nil, "n")
	base := NewState()

	merged, err := MergeStates(base, []State{base.Set(n, a.Property, "x"), base.Set(n, a.Property, "x")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", a.In(merged, n))
}

func TestMergeStates_ConflictRaises(t *testing.T) {
	a := NewObserved[string]("a", "")
	n := NewNode(nil, "n")
	base := NewState().Set(n, a.Property, "base")

	_, err := MergeStates(base, []State{base.Set(n, a.Property, "x"), base.Set(n, a.Property, "y")}, nil)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, "base", conflict.Base)
	assert.ElementsMatch(t, []any{"x", "y"}, conflict.Values)
}

func TestMergeStates_HandlerResolves(t *testing.T) {
	a := NewObserved[string]("a", "")
	n := NewNode(nil, "n")
	base := NewState()
	concat := ConflictHandlerFunc(func(_ Object, _ *Property, _ any, branches []any) (any, error) {
		parts := make([]string, len(branches))
		for i, b := range branches {
			parts[i] = b.(string)
		}
		return strings.Join(parts, "+"), nil
	})

	merged, err := MergeStates(base, []State{base.Set(n, a.Property, "x"), base.Set(n, a.Property, "y")}, concat)
	require.NoError(t, err)
	assert.Equal(t, "x+y", a.In(merged, n))
}

func TestMergeStates_MergeableSetsCombine(t *testing.T) {
	tags := NewObserved[pmap.Set[Object]]("tags", NewObjectSet())
	n := NewNode(nil, "n")
	x := NewNode(nil, "x")
	y := NewNode(nil, "y")
	base := NewState()

	merged, err := MergeStates(base, []State{
		base.Set(n, tags.Property, NewObjectSet(x)),
		base.Set(n, tags.Property, NewObjectSet(y)),
	}, nil)
	require.NoError(t, err)
	got := tags.In(merged, n)
	assert.True(t, got.Contains(x))
	assert.True(t, got.Contains(y))
}

func TestMergeStates_ChangeIDTakesHighest(t *testing.T) {
	n := NewNode(nil, "n")
	base := NewState()

	merged, err := MergeStates(base, []State{
		base.Set(n, ChangeID.Property, TransactionID(4)),
		base.Set(n, ChangeID.Property, TransactionID(9)),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, TransactionID(9), ChangeID.In(merged, n))
}

func TestUniverse_ConflictingSiblingsRerunSequentially(t *testing.T) {
	kids := children()
	last := NewObserved[string]("last", "")
	claim := NewObserver("claim", func(tx Tx, m Mutable) error {
		last.Set(tx, tx.Universe().Root(), m.Identity().Name())
		return nil
	})
	item := NewClass("Item").WithObservers(claim)
	root := NewNode(NewClass("Root").WithProperties(kids.Property), "root")
	u := startUniverse(t, root)
	waitIdle(t, u)

	s := do(t, u, func(tx Tx, root Mutable) error {
		for _, name := range []string{"a", "b", "c", "d"} {
			addChild(tx, kids, root, NewNode(item, name))
		}
		return nil
	})

	assert.Contains(t, []string{"a", "b", "c", "d"}, last.In(s, root))
	assert.Positive(t, u.Statistics().MergeConflicts)
	assert.False(t, u.IsKilled())
}

func TestUniverse_ConflictHandlerIsConsulted(t *testing.T) {
	kids := children()
	last := NewObserved[string]("last", "")
	claim := NewObserver("claim", func(tx Tx, m Mutable) error {
		last.Set(tx, tx.Universe().Root(), m.Identity().Name())
		return nil
	})
	var consulted atomic.Int32
	pickMax := ConflictHandlerFunc(func(_ Object, _ *Property, _ any, branches []any) (any, error) {
		consulted.Add(1)
		best := ""
		for _, b := range branches {
			if s, _ := b.(string); s > best {
				best = s
			}
		}
		return best, nil
	})
	item := NewClass("Item").WithObservers(claim)
	root := NewNode(NewClass("Root").WithProperties(kids.Property), "root")
	u := startUniverse(t, root, WithConflictHandler(pickMax))
	waitIdle(t, u)

	s := do(t, u, func(tx Tx, root Mutable) error {
		for _, name := range []string{"a", "b", "c", "d"} {
			addChild(tx, kids, root, NewNode(item, name))
		}
		return nil
	})

	assert.NotEmpty(t, last.In(s, root))
	assert.Positive(t, consulted.Load())
	assert.Zero(t, u.Statistics().MergeConflicts)
}

func TestUniverse_RunSequentialNeverMerges(t *testing.T) {
	kids := children()
	value := NewObserved[int]("value", 0)
	bump := NewObserver("bump", func(tx Tx, m Mutable) error {
		value.Set(tx, m, 1)
		return nil
	})
	item := NewClass("Item").WithProperties(value.Property).WithObservers(bump)
	cfg := testutil.DevConfig()
	cfg.RunSequential = true
	root := NewNode(NewClass("Root").WithProperties(kids.Property), "root")
	u := startUniverse(t, root, WithConfig(cfg))
	waitIdle(t, u)

	do(t, u, func(tx Tx, root Mutable) error {
		for i := 0; i < 5; i++ {
			addChild(tx, kids, root, NewNode(item, "item"))
		}
		return nil
	})
	assert.Zero(t, u.Statistics().Merges)
}
