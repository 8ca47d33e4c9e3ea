package bitvec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestVectorGrowOnSet(t *testing.T) {
	v := NewVector[uint64](4, true)
	v.Set(2)
	v.Set(200)
	require.True(t, v.IsSet(2))
	require.True(t, v.IsSet(200))
	require.Equal(t, 201, v.Size())
}

func TestVectorNonExpandableReadsFalseOutOfRange(t *testing.T) {
	v := NewFixedVector[uint64](10)
	require.False(t, v.IsSet(100))
	v.Clear(100) // no-op, must not panic
}

func TestVectorMoveNullsSource(t *testing.T) {
	v := NewVector[uint64](8, false)
	v.Set(3)
	moved := v.Move()
	require.Equal(t, 0, v.Size())
	require.True(t, moved.IsSet(3))
}

func TestVectorCopyIsIndependent(t *testing.T) {
	v := NewVector[uint32](8, false)
	v.Set(1)
	c := v.Copy()
	c.Set(2)
	require.False(t, v.IsSet(2))
	if diff := cmp.Diff(allSetBits(v), []int{1}); diff != "" {
		t.Fatalf("unexpected bits (-got +want): %s", diff)
	}
}
