package bitvec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetInitialBits(t *testing.T) {
	words := make([]uint64, 2)
	v := NewView(words, 100)
	v.SetInitialBits(70)
	for i := 0; i < 100; i++ {
		require.Equal(t, i < 70, v.IsSet(i), "bit %d", i)
	}
}

func TestUnion(t *testing.T) {
	a := NewView(make([]uint32, 2), 40)
	b := NewView(make([]uint32, 2), 40)
	a.Set(3)
	b.Set(3)
	b.Set(10)
	changed := a.Union(b)
	require.True(t, changed)
	require.True(t, a.IsSet(3))
	require.True(t, a.IsSet(10))

	changed = a.Union(b)
	require.False(t, changed, "re-union of an already-subsumed set must report no change")
}

func TestUnionIfNotIn(t *testing.T) {
	self := NewView(make([]uint64, 1), 20)
	u := NewView(make([]uint64, 1), 20)
	notIn := NewView(make([]uint64, 1), 20)

	u.Set(1)
	u.Set(2)
	u.Set(3)
	notIn.Set(2)
	self.Set(3)

	changed := self.UnionIfNotIn(u, notIn)
	require.True(t, changed)
	require.True(t, self.IsSet(1), "1 is in u, not in notIn, not in self: must be added")
	require.False(t, self.IsSet(2), "2 is in notIn: must stay clear")
	require.True(t, self.IsSet(3), "3 was already set")

	changed = self.UnionIfNotIn(u, notIn)
	require.False(t, changed)
}

func TestIndexesAscending(t *testing.T) {
	v := NewView(make([]uint64, 2), 90)
	want := []int{0, 5, 31, 32, 63, 64, 89}
	for _, i := range want {
		v.Set(i)
	}
	var got []int
	it := v.Indexes()
	for {
		i, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, i)
	}
	require.Equal(t, want, got)
}

func TestClearAllAndIsAnySet(t *testing.T) {
	v := NewView(make([]uint32, 1), 32)
	require.False(t, v.IsAnySet())
	v.Set(5)
	require.True(t, v.IsAnySet())
	v.ClearAll()
	require.False(t, v.IsAnySet())
}
