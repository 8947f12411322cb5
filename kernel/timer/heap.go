// Package timer implements the per-CPU timer min-heap of spec.md §4.3: a
// deadline-ordered queue of notification requests, delivered as
// Timer_Reply messages in deadline order (ties broken by insertion order,
// per spec.md §8).
package timer

import (
	"container/heap"
	"sort"
	"sync"
)

// entry is one pending timer request.
type entry struct {
	id       uint64
	deadline int64 // monotonic nanoseconds since boot
	seq      uint64
	portID   uint64
	extra    [3]uint64
	index    int // heap.Interface bookkeeping
}

// minHeap is a container/heap.Interface ordering entries by (deadline,
// seq) so that ties are broken by insertion order, per spec.md §5/§8.
type minHeap []*entry

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *minHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// CPUHeap is one simulated CPU's timer heap plus the sequence counter and
// id allocator shared across RequestTimer calls on it.
type CPUHeap struct {
	mu   sync.Mutex
	h    minHeap
	seq  uint64
	next uint64
}

// newCPUHeap returns an empty heap.
func newCPUHeap() *CPUHeap {
	return &CPUHeap{}
}

// push inserts a new entry and returns it.
func (c *CPUHeap) push(deadline int64, portID uint64, extra [3]uint64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.seq++
	e := &entry{id: c.next, deadline: deadline, seq: c.seq, portID: portID, extra: extra}
	heap.Push(&c.h, e)
	return e
}

// peekDeadline returns the earliest pending deadline and whether one
// exists, used to program the one-shot wakeup.
func (c *CPUHeap) peekDeadline() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.h) == 0 {
		return 0, false
	}
	return c.h[0].deadline, true
}

// popExpired removes and returns every entry whose deadline is <= now, in
// deadline order (ties by insertion order).
func (c *CPUHeap) popExpired(now int64) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []*entry
	for len(c.h) > 0 && c.h[0].deadline <= now {
		expired = append(expired, heap.Pop(&c.h).(*entry))
	}
	return expired
}

// EntrySummary is a read-only view of one pending timer request, for
// internal/adminsvc's introspection queries.
type EntrySummary struct {
	ID       uint64
	Deadline int64
	PortID   uint64
}

// snapshot returns every pending entry ordered by (deadline, insertion
// order) without removing anything or disturbing the heap's own bookkeeping.
func (c *CPUHeap) snapshot() []EntrySummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	type keyed struct {
		EntrySummary
		seq uint64
	}
	tmp := make([]keyed, len(c.h))
	for i, e := range c.h {
		tmp[i] = keyed{EntrySummary{ID: e.id, Deadline: e.deadline, PortID: e.portID}, e.seq}
	}
	sort.Slice(tmp, func(i, j int) bool {
		if tmp[i].Deadline != tmp[j].Deadline {
			return tmp[i].Deadline < tmp[j].Deadline
		}
		return tmp[i].seq < tmp[j].seq
	})
	out := make([]EntrySummary, len(tmp))
	for i, k := range tmp {
		out[i] = k.EntrySummary
	}
	return out
}

// removeByPort drops every entry targeting portID without delivering it,
// used when a port is destroyed before its timer fires (spec.md §4.3).
func (c *CPUHeap) removeByPort(portID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for i := 0; i < len(c.h); {
		if c.h[i].portID == portID {
			heap.Remove(&c.h, i)
			removed++
			continue
		}
		i++
	}
	return removed
}
