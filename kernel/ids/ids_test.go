package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorMonotonicAndNonzero(t *testing.T) {
	a := New()
	seen := map[uint64]struct{}{}
	var prev uint64
	for i := 0; i < 1000; i++ {
		id := a.Next()
		require.NotZero(t, id)
		require.Greater(t, id, prev)
		_, dup := seen[id]
		require.False(t, dup, "id %d reused", id)
		seen[id] = struct{}{}
		prev = id
	}
}

func TestFreeTombstonesPermanently(t *testing.T) {
	a := New()
	id := a.Next()
	require.False(t, a.IsFreed(id))
	a.Free(id)
	require.True(t, a.IsFreed(id))

	// A later id must never collide with a tombstoned one, and must not
	// itself report as freed.
	next := a.Next()
	require.NotEqual(t, id, next)
	require.False(t, a.IsFreed(next))
}
