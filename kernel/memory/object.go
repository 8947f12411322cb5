// Package memory implements the memory-object/region manager, the
// per-arch page-table mapping engine, and TLB shootdown of spec.md §4.4:
// anonymous and phys-map backed objects, copy-on-clone regions, lazy
// fault resolution, and synchronous cross-CPU invalidation.
package memory

import (
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ids"
)

// Backing distinguishes the two memory-object variants of spec.md §3.
type Backing int

const (
	Anonymous Backing = iota // demand-zero, COW on clone
	PhysMap                  // fixed physical range, e.g. MMIO or framebuffer; never freed by the kernel
)

// pageState is a memory object's per-page life cycle.
type pageState int

const (
	pageUnmapped pageState = iota
	pageResident
	pageSharedCOW
)

// Object is a kernel-managed backing store identified by a 64-bit id,
// per spec.md §3.
type Object struct {
	ID      uint64
	Backing Backing
	Pages   int // size in pages

	mu        sync.Mutex
	frames    []frame.Frame // resident frame per page index, 0 (invalid) if pageUnmapped
	states    []pageState
	physBase  uint64 // valid only for PhysMap
	refs      int
}

// Registry allocates and tracks memory objects for one simulated boot.
type Registry struct {
	ids     *ids.Allocator
	frames  *frame.Allocator
	mu      sync.Mutex
	objects map[uint64]*Object
}

// NewRegistry returns an empty memory-object registry backed by frames.
func NewRegistry(frames *frame.Allocator) *Registry {
	return &Registry{
		ids:     ids.New(),
		frames:  frames,
		objects: make(map[uint64]*Object),
	}
}

// CreateAnonymous allocates a demand-zero object of the given page count.
// No frames are allocated up front: pages become resident lazily on first
// touch, per spec.md §4.4.
func (r *Registry) CreateAnonymous(pages int) *Object {
	o := &Object{
		ID:      r.ids.Next(),
		Backing: Anonymous,
		Pages:   pages,
		frames:  make([]frame.Frame, pages),
		states:  make([]pageState, pages),
		refs:    1,
	}
	r.mu.Lock()
	r.objects[o.ID] = o
	r.mu.Unlock()
	return o
}

// CreatePhysMap creates a fixed-physical-range object (MMIO, framebuffer).
// Its frames are never freed by the kernel, per spec.md §4.4.
func (r *Registry) CreatePhysMap(physBase uint64, pages int) *Object {
	o := &Object{
		ID:       r.ids.Next(),
		Backing:  PhysMap,
		Pages:    pages,
		physBase: physBase,
		states:   make([]pageState, pages),
		refs:     1,
	}
	for i := range o.states {
		o.states[i] = pageResident
	}
	r.mu.Lock()
	r.objects[o.ID] = o
	r.mu.Unlock()
	return o
}

// Get looks up an object by id.
func (r *Registry) Get(id uint64) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objects[id]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotFound, "memory object %d unknown", id)
	}
	return o, nil
}

// Ref increments an object's mapping refcount (called once per region that
// binds to it).
func (r *Registry) Ref(o *Object) {
	o.mu.Lock()
	o.refs++
	o.mu.Unlock()
}

// Unref decrements an object's refcount, freeing every resident anonymous
// frame and removing it from the registry once the count reaches zero
// (spec.md §4.4: "last reference frees all its frames"). PhysMap objects
// are removed from the registry but their frames are never returned to
// the allocator, since the kernel never owned them.
func (r *Registry) Unref(o *Object, cpu int) {
	o.mu.Lock()
	o.refs--
	drop := o.refs <= 0
	var toFree []frame.Frame
	if drop && o.Backing == Anonymous {
		for i, st := range o.states {
			if st == pageResident || st == pageSharedCOW {
				toFree = append(toFree, o.frames[i])
			}
		}
	}
	o.mu.Unlock()
	if !drop {
		return
	}
	for _, f := range toFree {
		r.frames.Free(cpu, f)
	}
	r.mu.Lock()
	delete(r.objects, o.ID)
	r.mu.Unlock()
	r.ids.Free(o.ID)
}

// resolvePage returns the physical frame backing page index idx,
// allocating and zeroing it on first touch for an Anonymous object
// (demand-zero, spec.md §4.4). PhysMap pages are always resident at
// physBase+idx*pageSize and never allocate.
func (o *Object) resolvePage(idx int, frames *frame.Allocator, cpu int) (frame.Frame, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if idx < 0 || idx >= o.Pages {
		return 0, kerr.Wrap(kerr.ErrBadArgument, "page index %d out of range", idx)
	}
	if o.Backing == PhysMap {
		return frame.Frame(o.physBase) + frame.Frame(idx), nil
	}
	if o.states[idx] == pageUnmapped {
		f, err := frames.AllocZeroed(cpu)
		if err != nil {
			return 0, err
		}
		o.frames[idx] = f
		o.states[idx] = pageResident
	}
	return o.frames[idx], nil
}

// markCOW flips every resident anonymous page to shared-COW, used when a
// region backed by this object is cloned (spec.md §4.4).
func (o *Object) markCOW() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Backing != Anonymous {
		return
	}
	for i, st := range o.states {
		if st == pageResident {
			o.states[i] = pageSharedCOW
		}
	}
}

