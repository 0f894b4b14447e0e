package pmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strSet(elems ...string) Set[string] {
	return NewSet(HashString, elems...)
}

func TestSet_Basics(t *testing.T) {
	s := strSet("a", "b")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))
	assert.Equal(t, "{a,b,c}", s.Add("c").String())
	assert.Equal(t, "{b}", s.Remove("a").String())
	assert.True(t, s.Equal(strSet("b", "a")))
	assert.False(t, s.Equal(strSet("a")))
	assert.False(t, s.Equal("a"))
}

func TestSet_HashIsOrderIndependent(t *testing.T) {
	assert.Equal(t, strSet("x", "y", "z").Hash(), strSet("z", "x", "y").Hash())
}

func TestSet_UnionDifference(t *testing.T) {
	a := strSet("a", "b")
	b := strSet("b", "c")
	assert.True(t, a.Union(b).Equal(strSet("a", "b", "c")))
	assert.True(t, a.Difference(b).Equal(strSet("a")))
}

func TestSet_MergeCombinesBranchEdits(t *testing.T) {
	base := strSet("keep", "drop1", "drop2")
	left := base.Add("l").Remove("drop1")
	right := base.Add("r").Remove("drop2")

	merged := base.Merge(base, []any{left, right})
	assert.True(t, strSet("keep", "l", "r").Equal(merged))

	swapped := base.Merge(base, []any{right, left})
	assert.True(t, strSet("keep", "l", "r").Equal(swapped))
}

func TestSet_UntypedAccess(t *testing.T) {
	s := strSet("a")
	assert.True(t, s.ContainsValue("a"))
	assert.False(t, s.ContainsValue(1))
	assert.True(t, strSet("a", "b").Equal(s.WithValue("b")))
	assert.True(t, strSet().Equal(s.WithoutValue("a")))
	assert.ElementsMatch(t, []any{"a"}, s.Values())
}

func TestDiffSets(t *testing.T) {
	var added, removed []string
	DiffSets(strSet("a", "b"), strSet("b", "c"), func(e string) {
		added = append(added, e)
	}, func(e string) {
		removed = append(removed, e)
	})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
}
