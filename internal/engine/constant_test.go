package engine

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ModelingValueGroup/dclare-sub000/internal/testutil"
)

func newConstantState(t *testing.T, maxDepth int) *ConstantState {
	cs := NewConstantState(maxDepth, testutil.Logger(t))
	cs.Start()
	t.Cleanup(cs.Stop)
	return cs
}

func TestConstantState_DerivesOnce(t *testing.T) {
	var calls atomic.Int32
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		calls.Add(1)
		return len(o.Identity().Name())
	})
	cs := newConstantState(t, 16)
	node := NewNode(nil, "hello")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cs.Get(node, length.Property)
			assert.NoError(t, err)
			assert.Equal(t, 5, v)
		}()
	}
	wg.Wait()

	v, err := cs.Get(node, length.Property)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.Equal(t, 1, cs.Len())
}

func TestConstantState_NestedDerivation(t *testing.T) {
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		return len(o.Identity().Name())
	})
	double := NewConstant[int]("double", func(d *Derivation, o Object) int {
		return 2 * length.Derive(d, o)
	})
	cs := newConstantState(t, 16)
	node := NewNode(nil, "abc")

	v, err := cs.Get(node, double.Property)
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	v, err = cs.Get(node, length.Property)
	require.NoError(t, err)
	assert.Equal(t, 3, v, "nested constants are memoized too")
}

func TestConstantState_CycleIsAnError(t *testing.T) {
	var ping, pong Prop[int]
	ping = NewConstant[int]("ping", func(d *Derivation, o Object) int { return pong.Derive(d, o) })
	pong = NewConstant[int]("pong", func(d *Derivation, o Object) int { return ping.Derive(d, o) })
	cs := newConstantState(t, 16)
	node := NewNode(nil, "n")

	_, err := cs.Get(node, ping.Property)
	var cycle *CircularConstantError
	require.ErrorAs(t, err, &cycle)
	assert.Len(t, cycle.Cycle, 3)
	assert.True(t, IsConsistencyError(err))
}

func TestConstantState_DeepChainResolves(t *testing.T) {
	const length = 50
	nodes := make([]*Node, length)
	next := map[Object]Object{}
	for i := range nodes {
		nodes[i] = NewNode(nil, "link")
		if i > 0 {
			next[nodes[i-1]] = nodes[i]
		}
	}
	var depth Prop[int]
	depth = NewConstant[int]("depth", func(d *Derivation, o Object) int {
		n, ok := next[o]
		if !ok {
			return 0
		}
		return 1 + depth.Derive(d, n)
	})
	cs := newConstantState(t, 8)

	v, err := cs.Get(nodes[0], depth.Property)
	require.NoError(t, err)
	assert.Equal(t, length-1, v)
}

func TestConstantState_SetIsDeterministic(t *testing.T) {
	label := NewConstant[string]("label", nil)
	cs := newConstantState(t, 16)
	node := NewNode(nil, "n")

	require.NoError(t, cs.Set(node, label.Property, "a"))
	require.NoError(t, cs.Set(node, label.Property, "a"), "same value again is fine")

	err := cs.Set(node, label.Property, "b")
	var nd *NonDeterministicError
	require.ErrorAs(t, err, &nd)
	assert.Equal(t, "a", nd.First)
	assert.Equal(t, "b", nd.Second)

	v, err := cs.Get(node, label.Property)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestConstantState_UnsetWithoutDeriveIsDefault(t *testing.T) {
	label := NewConstant[string]("label", nil)
	cs := newConstantState(t, 16)

	v, err := cs.Get(NewNode(nil, "n"), label.Property)
	require.NoError(t, err)
	assert.Equal(t, "", v, "constants without a derive function hold their default until set")
}

func TestConstantState_WeakEntriesAreReclaimed(t *testing.T) {
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		return len(o.Identity().Name())
	})
	cs := newConstantState(t, 16)

	func() {
		_, err := cs.Get(NewNode(nil, "temporary"), length.Property)
		require.NoError(t, err)
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return cs.index.Load().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConstantState_DurableEntriesArePinned(t *testing.T) {
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		return len(o.Identity().Name())
	}, WithDurability(Durable))
	cs := newConstantState(t, 16)

	func() {
		_, err := cs.Get(NewNode(nil, "kept"), length.Property)
		require.NoError(t, err)
	}()
	runtime.GC()
	runtime.GC()

	assert.Equal(t, 1, cs.Len())
	cs.ReleaseSoft()
	assert.Equal(t, 1, cs.Len(), "durable entries survive ReleaseSoft")
}

func TestUniverse_ConstantsReadThroughTransactions(t *testing.T) {
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		return len(o.Identity().Name())
	})
	size := NewObserved[int]("size", 0)
	measure := NewObserver("measure", func(tx Tx, m Mutable) error {
		size.Set(tx, m, length.Get(tx, m))
		return nil
	})
	root := NewNode(NewClass("Root").WithObservers(measure), "universe")
	u := startUniverse(t, root)

	s := waitIdle(t, u)
	assert.Equal(t, 8, size.In(s, root))
	assert.Equal(t, 1, u.Constants().Len())
}

func TestConstantState_ManyObjectsStayDistinct(t *testing.T) {
	length := NewConstant[int]("length", func(_ *Derivation, o Object) int {
		return len(o.Identity().Name())
	}, WithDurability(Durable))
	cs := newConstantState(t, 16)

	nodes := make([]*Node, 5000)
	for i := range nodes {
		nodes[i] = NewNode(nil, strings.Repeat("x", i%7+1))
		_, err := cs.Get(nodes[i], length.Property)
		require.NoError(t, err)
	}
	for i, n := range nodes {
		v, err := cs.Get(n, length.Property)
		require.NoError(t, err)
		assert.Equal(t, i%7+1, v)
	}
	assert.Equal(t, len(nodes), cs.Len())
}
