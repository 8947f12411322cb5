package memory

import (
	"context"

	"github.com/ThatMishakov/pmOS-sub004/internal/spinlock"
)

// Request is one shootdown work item delivered to a CPU's Listen loop: drop
// any cached translation for [Start, End) of Table, then send on Done. Free
// records whether the initiator freed the frames; the freeing itself has
// already happened in Invalidate/InvalidateRange before the Request is sent.
type Request struct {
	Table *Table
	Start uint64
	End   uint64
	Free  bool
	Done  chan<- struct{}
}

// Shootdown coordinates synchronous TLB invalidation across every CPU a
// table is currently loaded on, per spec.md §4.4/§8 scenario 3: "Invalidate
// on table A for virtual address v blocks until every CPU ... has
// acknowledged. Both CPU0 and CPU1 observe the mapping absent before
// Invalidate returns."
//
// A real kernel raises a hardware IPI and the remote handler runs inline;
// here each simulated CPU's boot loop instead pulls Requests off its own
// channel via Listen and replies on Done once it has dropped its local
// cache, which this simulation models as simply forgetting a hint — the
// single shared *Table map is already the source of truth.
type Shootdown struct {
	queues []chan Request
}

// NewShootdown allocates a shootdown coordinator for ncpus simulated CPUs.
func NewShootdown(ncpus int) *Shootdown {
	s := &Shootdown{queues: make([]chan Request, ncpus)}
	for i := range s.queues {
		s.queues[i] = make(chan Request, 4)
	}
	return s
}

// Listen returns the channel cpu's boot loop should range over, acking each
// Request on its Done channel once processed. A CPU that never calls Listen
// simply never acks, so fanOut will block on it for the lifetime of ctx —
// matching real hardware, where a CPU that doesn't have the table loaded is
// never targeted in the first place (Table.loadedOn only ever names CPUs
// that were Applied).
func (s *Shootdown) Listen(cpu int) <-chan Request {
	return s.queues[cpu]
}

// Invalidate removes the translation for virt on t, frees its frame if
// owned outright (free), and blocks until every CPU currently running t has
// acknowledged the invalidation.
func (s *Shootdown) Invalidate(ctx context.Context, t *Table, virt uint64, free bool, cpu int) error {
	t.unmapLocal(virt, free, cpu)
	return s.fanOut(ctx, t, virt, virt+t.Desc.PageSize(), free)
}

// InvalidateRange does the same over every page in [start, end).
func (s *Shootdown) InvalidateRange(ctx context.Context, t *Table, start, end uint64, free bool, cpu int) error {
	step := t.Desc.PageSize()
	for v := start; v < end; v += step {
		t.unmapLocal(v, free, cpu)
	}
	return s.fanOut(ctx, t, start, end, free)
}

// TLBFlushAll invalidates every translation currently cached for t.
func (s *Shootdown) TLBFlushAll(ctx context.Context, t *Table) error {
	return s.fanOut(ctx, t, 0, ^uint64(0), false)
}

// fanOut dispatches a Request to every CPU t is loaded on and waits for all
// of them to ack, using internal/spinlock.Synchronize the same way a
// reschedule IPI fan-in would.
func (s *Shootdown) fanOut(ctx context.Context, t *Table, start, end uint64, free bool) error {
	cpus := t.loadedCPUs()
	if len(cpus) == 0 {
		return nil
	}
	acks := make([]<-chan struct{}, 0, len(cpus))
	for _, cpu := range cpus {
		done := make(chan struct{}, 1)
		s.queues[cpu] <- Request{Table: t, Start: start, End: end, Free: free, Done: done}
		acks = append(acks, done)
	}
	return spinlock.Synchronize(ctx, acks)
}
