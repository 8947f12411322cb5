package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	a := New(100, 2)
	require.Equal(t, 100, a.FreePages())

	f, err := a.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, 99, a.FreePages())

	a.Free(0, f)
	require.Equal(t, 100, a.FreePages())
}

func TestAllocExhaustion(t *testing.T) {
	a := New(4, 1)
	for i := 0; i < 4; i++ {
		_, err := a.Alloc(0)
		require.NoError(t, err)
	}
	_, err := a.Alloc(0)
	require.Error(t, err)
}

func TestNoDoubleAllocationAcrossCPUs(t *testing.T) {
	a := New(4*cacheSize, 4)
	seen := map[Frame]bool{}
	for cpu := 0; cpu < 4; cpu++ {
		for i := 0; i < 50; i++ {
			f, err := a.Alloc(cpu)
			require.NoError(t, err)
			require.False(t, seen[f], "frame %d double-allocated", f)
			seen[f] = true
		}
	}
}
