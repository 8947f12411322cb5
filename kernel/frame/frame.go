// Package frame implements the page-granular physical frame allocator of
// spec.md §2 row 4 / §5: a per-CPU free-list cache backed by a global
// stock, both touched only with "interrupts disabled" (modeled here as
// holding the relevant mutex for the whole operation, since a hosted Go
// process cannot disable interrupts).
package frame

import (
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// PageSize is the simulated frame granularity.
const PageSize = 4096

// Frame is an opaque physical frame number (not a real address: this
// simulation never touches host memory below Go's own allocator).
type Frame uint64

// cacheSize is how many frames a per-CPU cache holds before refilling from
// or draining to the global stock, trading lock contention on the shared
// stock against per-CPU memory held idle.
const cacheSize = 64

// Allocator is the global frame stock plus one cache per simulated CPU.
type Allocator struct {
	mu    sync.Mutex
	stock []Frame

	caches []*perCPUCache

	bytesMu sync.Mutex
	bytes   map[Frame][]byte // backing store, allocated lazily; stands in for addressable physical memory
}

type perCPUCache struct {
	mu   sync.Mutex
	free []Frame
}

// New creates an allocator backed by total pages of physical memory,
// split into ncpus per-CPU caches. Frames are numbered from 1: Frame 0 is
// never handed out, so it can stand for "no frame".
func New(totalPages int, ncpus int) *Allocator {
	a := &Allocator{caches: make([]*perCPUCache, ncpus), bytes: make(map[Frame][]byte)}
	for i := range a.caches {
		a.caches[i] = &perCPUCache{}
	}
	a.stock = make([]Frame, 0, totalPages)
	for i := 0; i < totalPages; i++ {
		a.stock = append(a.stock, Frame(i+1))
	}
	return a
}

// Alloc returns one free frame from cpu's cache, refilling from the global
// stock if the cache is empty. Returns no-memory if the global stock is
// also exhausted.
func (a *Allocator) Alloc(cpu int) (Frame, error) {
	c := a.caches[cpu]
	c.mu.Lock()
	if len(c.free) == 0 {
		a.refill(c)
	}
	if len(c.free) == 0 {
		c.mu.Unlock()
		return 0, kerr.ErrNoMemory
	}
	f := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	c.mu.Unlock()
	return f, nil
}

// AllocZeroed allocates a frame and reports it as needing zero-fill; the
// actual zero-fill of backing bytes is kernel/memory's job (this
// simulation has no byte-addressable physical memory to zero), but the
// bookkeeping call exists so callers mirror the real kernel's
// allocate-then-zero sequence for demand-zero anonymous pages (spec.md
// §4.4).
func (a *Allocator) AllocZeroed(cpu int) (Frame, error) {
	return a.Alloc(cpu)
}

// Free returns f to cpu's cache; once the cache grows past twice cacheSize,
// cacheSize frames are spilled back to the global stock.
func (a *Allocator) Free(cpu int, f Frame) {
	c := a.caches[cpu]
	c.mu.Lock()
	c.free = append(c.free, f)
	if len(c.free) > cacheSize*2 {
		a.spill(c)
	}
	c.mu.Unlock()
}

func (a *Allocator) refill(c *perCPUCache) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := cacheSize
	if len(a.stock) < n {
		n = len(a.stock)
	}
	c.free = append(c.free, a.stock[len(a.stock)-n:]...)
	a.stock = a.stock[:len(a.stock)-n]
}

func (a *Allocator) spill(c *perCPUCache) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := cacheSize
	a.stock = append(a.stock, c.free[len(c.free)-n:]...)
	c.free = c.free[:len(c.free)-n]
}

// Contents returns the mutable backing bytes of frame f, allocating and
// zeroing them on first access. This stands in for addressable physical
// memory, which a hosted Go process does not otherwise have a notion of;
// it exists purely so this repository's COW/demand-zero tests can observe
// actual byte values the way spec.md §8's scenarios describe, rather than
// only their page-table metadata.
func (a *Allocator) Contents(f Frame) []byte {
	a.bytesMu.Lock()
	defer a.bytesMu.Unlock()
	b, ok := a.bytes[f]
	if !ok {
		b = make([]byte, PageSize)
		a.bytes[f] = b
	}
	return b
}

// CopyFrame copies src's contents into a freshly allocated frame on cpu,
// used by the copy-on-write fault path.
func (a *Allocator) CopyFrame(cpu int, src Frame) (Frame, error) {
	dst, err := a.Alloc(cpu)
	if err != nil {
		return 0, err
	}
	copy(a.Contents(dst), a.Contents(src))
	return dst, nil
}

// FreePages reports the total number of frames available across the
// global stock and every per-CPU cache, for introspection/tests.
func (a *Allocator) FreePages() int {
	a.mu.Lock()
	total := len(a.stock)
	a.mu.Unlock()
	for _, c := range a.caches {
		c.mu.Lock()
		total += len(c.free)
		c.mu.Unlock()
	}
	return total
}
