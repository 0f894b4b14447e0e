package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ModelingValueGroup/dclare-sub000/internal/testutil"
)

func TestUniverse_OutOfScopeFailsAtCommit(t *testing.T) {
	allowed := NewObserved[string]("allowed", "a")
	choice := NewObserved[string]("choice", "a", Scope(allowed.Property))
	root := NewNode(NewClass("Root").WithProperties(allowed.Property, choice.Property), "root")
	u := startUniverse(t, root)
	waitIdle(t, u)

	s := do(t, u, func(tx Tx, root Mutable) error {
		allowed.Set(tx, root, "b")
		choice.Set(tx, root, "b")
		return nil
	})
	require.Equal(t, "b", choice.In(s, root))

	_, err := u.PutAndWaitForIdle(testutil.Context(t), NewAction("stray", func(tx Tx, root Mutable) error {
		choice.Set(tx, root, "c")
		return nil
	}))

	var scope *OutOfScopeError
	require.ErrorAs(t, err, &scope)
	assert.True(t, IsConsistencyError(err))
	assert.Equal(t, choice.Property, scope.Property)
	assert.Equal(t, "c", scope.Value)
	assert.Equal(t, "b", scope.Scope)
	assert.Equal(t, "b", choice.In(u.CurrentState(), root))
}

func TestUniverse_TooManyObserved(t *testing.T) {
	enabled := NewObserved[bool]("enabled", false)
	a := NewObserved[int]("a", 0)
	b := NewObserved[int]("b", 0)
	reader := NewObserver("reader", func(tx Tx, m Mutable) error {
		if enabled.Get(tx, m) {
			_ = a.Get(tx, m) + b.Get(tx, m)
		}
		return nil
	})
	cfg := testutil.DevConfig()
	cfg.MaxNrOfObserved = 2
	root := NewNode(NewClass("Root").WithObservers(reader), "root")
	u := startUniverse(t, root, WithConfig(cfg))
	waitIdle(t, u)

	_, err := u.PutAndWaitForIdle(testutil.Context(t), NewAction("enable", func(tx Tx, root Mutable) error {
		enabled.Set(tx, root, true)
		return nil
	}))

	var tooMany *TooManyObservedError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, "reader", tooMany.Observer)
	assert.Equal(t, 3, tooMany.Count)
	assert.Equal(t, 2, tooMany.Limit)
	assert.True(t, u.IsKilled())
}

func TestUniverse_TooManyObservers(t *testing.T) {
	kids := children()
	source := NewObserved[int]("source", 0)
	root := NewNode(NewClass("Root").WithProperties(kids.Property, source.Property), "root")
	watch := NewObserver("watch", func(tx Tx, m Mutable) error {
		_ = source.Get(tx, root)
		return nil
	})
	item := NewClass("Item").WithObservers(watch)

	cfg := testutil.DevConfig()
	cfg.MaxNrOfObservers = 2
	cfg.RunSequential = true
	u := startUniverse(t, root, WithConfig(cfg))
	waitIdle(t, u)

	_, err := u.PutAndWaitForIdle(testutil.Context(t), NewAction("add", func(tx Tx, root Mutable) error {
		for _, name := range []string{"i1", "i2", "i3"} {
			addChild(tx, kids, root, NewNode(item, name))
		}
		return nil
	}))

	var tooMany *TooManyObserversError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, root, tooMany.Object)
	assert.Equal(t, source.Property, tooMany.Property)
	assert.Equal(t, 3, tooMany.Count)
	assert.Equal(t, 2, tooMany.Limit)
}
