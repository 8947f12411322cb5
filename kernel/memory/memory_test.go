package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
)

func newTestTable(t *testing.T, id uint64, frames *frame.Allocator, objects *Registry) *Table {
	t.Helper()
	return NewTable(id, arch.AMD64Level4, objects, frames)
}

// TestRegionsRejectOverlap covers spec.md §8's "the union of a table's
// regions is non-overlapping" invariant.
func TestRegionsRejectOverlap(t *testing.T) {
	frames := frame.New(64, 1)
	objects := NewRegistry(frames)
	tbl := newTestTable(t, 1, frames, objects)

	require.NoError(t, tbl.CreateRegion(Region{Start: 0, End: 4, Backing: RegionBacking{Anonymous: true}, Prot: Protection{Read: true, Write: true}}))
	err := tbl.CreateRegion(Region{Start: 2, End: 6, Backing: RegionBacking{Anonymous: true}})
	require.Error(t, err)
}

// TestCOWForkPrivatizesOnWrite is spec.md §8 scenario 4: "Region R in table
// A contains byte 0xAB at v=0x4000. Fork clones the table; both tables map
// R COW. A task in table B writes 0xCD at v=0x4000. A task in table A still
// reads 0xAB at v=0x4000; table B reads 0xCD."
func TestCOWForkPrivatizesOnWrite(t *testing.T) {
	frames := frame.New(64, 1)
	objects := NewRegistry(frames)
	a := newTestTable(t, 1, frames, objects)
	require.NoError(t, a.CreateRegion(Region{Start: 4, End: 5, Backing: RegionBacking{Anonymous: true}, Prot: Protection{Read: true, Write: true}}))

	require.NoError(t, a.Write(0x4000, []byte{0xAB}, 0))

	b, err := a.Clone(2)
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = b.Read(0x4000, buf)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf[0])

	require.NoError(t, b.Write(0x4000, []byte{0xCD}, 0))

	_, err = b.Read(0x4000, buf)
	require.NoError(t, err)
	require.Equal(t, byte(0xCD), buf[0])

	_, err = a.Read(0x4000, buf)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf[0])
}

// TestInvalidateWaitsForAllAcks is spec.md §8 scenario 3: a synchronous
// shootdown blocks until every CPU that had the table loaded has
// acknowledged, and the mapping is absent to both by the time it returns.
func TestInvalidateWaitsForAllAcks(t *testing.T) {
	frames := frame.New(64, 2)
	objects := NewRegistry(frames)
	tbl := newTestTable(t, 1, frames, objects)
	require.NoError(t, tbl.CreateRegion(Region{Start: 4, End: 5, Backing: RegionBacking{Anonymous: true}, Prot: Protection{Read: true, Write: true}}))
	require.NoError(t, tbl.Write(0x4000, []byte{0x01}, 0))

	tbl.Apply(0)
	tbl.Apply(1)

	sd := NewShootdown(2)
	var sawAbsent [2]bool
	for _, cpu := range []int{0, 1} {
		cpu := cpu
		go func() {
			for req := range sd.Listen(cpu) {
				sawAbsent[cpu] = !req.Table.IsMapped(0x4000)
				req.Done <- struct{}{}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sd.Invalidate(ctx, tbl, 0x4000, true, 0))

	require.False(t, tbl.IsMapped(0x4000))
	require.True(t, sawAbsent[0])
	require.True(t, sawAbsent[1])
}

// TestResolveAnonymousPageIsLazy checks that a freshly created anonymous
// region has no resident translation until first touch (spec.md §4.4).
func TestResolveAnonymousPageIsLazy(t *testing.T) {
	frames := frame.New(8, 1)
	objects := NewRegistry(frames)
	tbl := newTestTable(t, 1, frames, objects)
	require.NoError(t, tbl.CreateRegion(Region{Start: 0, End: 1, Backing: RegionBacking{Anonymous: true}, Prot: Protection{Read: true, Write: true}}))

	require.False(t, tbl.IsMapped(0))
	require.NoError(t, tbl.ResolveAnonymousPage(0, Access{}, 0))
	require.True(t, tbl.IsMapped(0))
}

// TestPhysMapObjectNeverFreesFrames covers spec.md §4.4's rule that a
// PhysMap object's frames are never returned to the allocator.
func TestPhysMapObjectNeverFreesFrames(t *testing.T) {
	frames := frame.New(8, 1)
	objects := NewRegistry(frames)
	obj := objects.CreatePhysMap(100, 2)
	before := frames.FreePages()

	objects.Ref(obj)
	objects.Unref(obj, 0)
	objects.Unref(obj, 0)

	require.Equal(t, before, frames.FreePages())
	_, err := objects.Get(obj.ID)
	require.Error(t, err)
}
