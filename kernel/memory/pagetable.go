package memory

import (
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
)

// Access distinguishes a read fault from a write fault for
// ResolveAnonymousPage and the COW write-fault path.
type Access struct {
	Write bool
}

// pte is one page table entry in the simulated translation map.
type pte struct {
	frame frame.Frame
	prot  Protection
	cow   bool
	objID uint64 // 0 if the page has no backing object (pure anonymous private frame)
}

// Table is the arch-neutral page-table engine spec.md §9 calls for: a
// small closed interface's worth of operations (Map, Unmap/Invalidate,
// Clone, Walk/GetPageMapping, ResolveAnonymousPage, CopyAnonymousPages,
// Apply, TLBFlushAll) shared by every arch.Descriptor instead of a
// per-arch subclass tree.
type Table struct {
	Desc arch.Descriptor
	ID   uint64

	mu      sync.Mutex
	ptes    map[uint64]*pte // page number -> entry
	regions regionSet

	loadedOn map[int]bool // CPUs that currently have this table Applied

	objects *Registry
	frames  *frame.Allocator
}

// NewTable creates an empty page table of the given arch shape.
func NewTable(id uint64, d arch.Descriptor, objects *Registry, frames *frame.Allocator) *Table {
	return &Table{
		Desc:     d,
		ID:       id,
		ptes:     make(map[uint64]*pte),
		loadedOn: make(map[int]bool),
		objects:  objects,
		frames:   frames,
	}
}

func (t *Table) page(virt uint64) uint64 { return virt >> t.Desc.PageBits }

// CreateRegion installs a new non-overlapping region and, for a
// non-anonymous backing, refs the memory object it names.
func (t *Table) CreateRegion(r Region) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.regions.create(r); err != nil {
		return err
	}
	if !r.Backing.Anonymous {
		if obj, err := t.objects.Get(r.Backing.ObjectID); err == nil {
			t.objects.Ref(obj)
		}
	}
	return nil
}

// DeleteRegion removes the region starting at virtual page `start` and, if
// it named a memory object, drops the table's reference to it.
func (t *Table) DeleteRegion(start uint64, cpu int) error {
	t.mu.Lock()
	r, ok := t.regions.find(start)
	if !ok || r.Start != start {
		t.mu.Unlock()
		return kerr.Wrap(kerr.ErrNotFound, "no region starting at page %d", start)
	}
	if err := t.regions.delete(start); err != nil {
		t.mu.Unlock()
		return err
	}
	for pg := r.Start; pg < r.End; pg++ {
		delete(t.ptes, pg)
	}
	t.mu.Unlock()
	if !r.Backing.Anonymous {
		if obj, err := t.objects.Get(r.Backing.ObjectID); err == nil {
			t.objects.Unref(obj, cpu)
		}
	}
	return nil
}

// Map installs a direct mapping for a PhysMap region page (or any
// pre-resolved frame) at virt with the given protection.
func (t *Table) Map(f frame.Frame, virt uint64, prot Protection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ptes[t.page(virt)] = &pte{frame: f, prot: prot}
	return nil
}

// IsMapped reports whether virt currently has a resident translation.
func (t *Table) IsMapped(virt uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ptes[t.page(virt)]
	return ok
}

// GetPageMapping returns the physical frame and protection mapped at
// virt. phys == 0 (the zero Frame) when nothing is mapped, matching
// spec.md §8's invariant that IsMapped(v) agrees with
// GetPageMapping(v).phys != 0.
func (t *Table) GetPageMapping(virt uint64) (phys frame.Frame, prot Protection, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ptes[t.page(virt)]
	if !ok {
		return 0, Protection{}, false
	}
	return e.frame, e.prot, true
}

// ResolveAnonymousPage handles a first-touch (or COW write) fault on virt,
// per spec.md §4.4: allocate-and-zero on first touch of an anonymous
// region; on a write to a COW page, allocate a private copy instead of
// faulting again. access.Write selects the COW path when the existing
// entry is marked cow.
func (t *Table) ResolveAnonymousPage(virt uint64, access Access, cpu int) error {
	pg := t.page(virt)
	t.mu.Lock()
	r, inRegion := t.regions.find(pg)
	if !inRegion {
		t.mu.Unlock()
		return kerr.Wrap(kerr.ErrBadArgument, "no region covers page %d", pg)
	}
	existing, mapped := t.ptes[pg]
	if mapped && existing.cow && access.Write {
		t.mu.Unlock()
		return t.resolveCOWWrite(pg, existing, cpu)
	}
	if mapped {
		t.mu.Unlock()
		return nil // already resident and not a COW write fault: nothing to do
	}
	t.mu.Unlock()

	if r.Backing.Anonymous {
		f, err := t.frames.AllocZeroed(cpu)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.ptes[pg] = &pte{frame: f, prot: r.Prot}
		t.mu.Unlock()
		return nil
	}

	obj, err := t.objects.Get(r.Backing.ObjectID)
	if err != nil {
		return err
	}
	idx := int(pg-r.Start) + r.Backing.Offset
	f, err := obj.resolvePage(idx, t.frames, cpu)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ptes[pg] = &pte{frame: f, prot: r.Prot, objID: obj.ID}
	t.mu.Unlock()
	return nil
}

// resolveCOWWrite allocates a private frame, copies the shared page's
// current contents into it, and installs it in place of the shared,
// write-protected entry — spec.md §8 scenario 4.
func (t *Table) resolveCOWWrite(pg uint64, shared *pte, cpu int) error {
	newFrame, err := t.frames.CopyFrame(cpu, shared.frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.ptes[pg] = &pte{frame: newFrame, prot: Protection{Read: true, Write: true, Execute: shared.prot.Execute}, objID: shared.objID}
	t.mu.Unlock()
	return nil
}

// Read copies up to len(buf) bytes starting at virt out of this table's
// mapped memory, for tests that need to observe actual COW byte values
// (spec.md §8 scenario 4). Returns bad-argument if virt is unmapped.
func (t *Table) Read(virt uint64, buf []byte) (int, error) {
	t.mu.Lock()
	e, ok := t.ptes[t.page(virt)]
	t.mu.Unlock()
	if !ok {
		return 0, kerr.ErrBadArgument
	}
	off := virt & (t.Desc.PageSize() - 1)
	return copy(buf, t.frames.Contents(e.frame)[off:]), nil
}

// Write copies data into this table's mapped memory at virt, resolving a
// COW write fault first if the page is currently shared. This is the
// simulation-level stand-in for a CPU store instruction hitting the page
// table.
func (t *Table) Write(virt uint64, data []byte, cpu int) error {
	t.mu.Lock()
	e, ok := t.ptes[t.page(virt)]
	cow := ok && e.cow
	t.mu.Unlock()
	if !ok {
		if err := t.ResolveAnonymousPage(virt, Access{Write: true}, cpu); err != nil {
			return err
		}
	} else if cow {
		if err := t.resolveCOWWrite(t.page(virt), e, cpu); err != nil {
			return err
		}
	}
	t.mu.Lock()
	e = t.ptes[t.page(virt)]
	t.mu.Unlock()
	off := virt & (t.Desc.PageSize() - 1)
	copy(t.frames.Contents(e.frame)[off:], data)
	return nil
}

// Clone produces a new table sharing this table's memory objects; every
// anonymous region is remapped read-only/COW in both the parent and the
// clone, so the next write fault on either side privatizes its own copy
// (spec.md §4.4, §8 scenario 4).
func (t *Table) Clone(newID uint64) (*Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clone := NewTable(newID, t.Desc, t.objects, t.frames)
	for _, r := range t.regions.all() {
		if err := clone.regions.create(r); err != nil {
			return nil, err
		}
		if !r.Backing.Anonymous {
			if obj, err := t.objects.Get(r.Backing.ObjectID); err == nil {
				t.objects.Ref(obj)
			}
		}
	}

	for pg, e := range t.ptes {
		r, inRegion := t.regions.find(pg)
		if inRegion && r.Backing.Anonymous {
			e.cow = true
			ro := e.prot
			ro.Write = false
			clone.ptes[pg] = &pte{frame: e.frame, prot: ro, cow: true, objID: e.objID}
			t.ptes[pg] = &pte{frame: e.frame, prot: ro, cow: true, objID: e.objID}
		} else {
			cp := *e
			clone.ptes[pg] = &cp
		}
	}
	return clone, nil
}

// CopyAnonymousPages copies the size bytes of pages starting at from out of
// this table's mappings into target at the same virtual range, skipping
// pages that are not mapped here and
// applying prot to the destination. Used by loaders that need an eager
// (non-lazy) private copy rather than COW sharing.
func (t *Table) CopyAnonymousPages(target *Table, from, size uint64, prot Protection, cpu int) error {
	pages := size >> t.Desc.PageBits
	for i := uint64(0); i < pages; i++ {
		virt := from + i<<t.Desc.PageBits
		t.mu.Lock()
		e, ok := t.ptes[t.page(virt)]
		t.mu.Unlock()
		if !ok {
			continue
		}
		dst, err := t.frames.CopyFrame(cpu, e.frame)
		if err != nil {
			return err
		}
		target.mu.Lock()
		target.ptes[target.page(virt)] = &pte{frame: dst, prot: prot}
		target.mu.Unlock()
	}
	return nil
}

// Apply records that this table is now loaded on cpu, for TLB-shootdown
// targeting (spec.md §4.4).
func (t *Table) Apply(cpu int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadedOn[cpu] = true
}

// Unapply records that cpu no longer has this table loaded (context switch
// away, or the table's last task exited).
func (t *Table) Unapply(cpu int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loadedOn, cpu)
}

// loadedCPUs returns a snapshot of CPUs with this table currently Applied.
func (t *Table) loadedCPUs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.loadedOn))
	for cpu := range t.loadedOn {
		out = append(out, cpu)
	}
	return out
}

// unmapLocal removes the translation for virt (and, if free is true, frees
// the underlying frame back to the allocator) without touching any other
// CPU; Invalidate wraps this with the TLB-shootdown fan-out.
func (t *Table) unmapLocal(virt uint64, free bool, cpu int) {
	pg := t.page(virt)
	t.mu.Lock()
	e, ok := t.ptes[pg]
	if ok {
		delete(t.ptes, pg)
	}
	t.mu.Unlock()
	if ok && free && e.objID == 0 {
		t.frames.Free(cpu, e.frame)
	}
}
