// Package spinlock implements the test-and-set lock spec.md §2/§5 calls for:
// non-recursive, held for the entire critical section, with a diagnostic
// watchdog that dumps a stack trace when a lock is contended past a
// threshold. Hosted Go has no way to disable interrupts, so the "interrupts
// disabled for the hold window" half of the invariant is documented rather
// than enforced; Lock itself does nothing to keep the holder from being
// preempted.
package spinlock

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/log"
)

// watchdogThreshold is the number of consecutive failed fast-path
// acquisitions after which a contended Lock logs a diagnostic stack trace.
// Diagnostic only: it never aborts the acquisition.
const watchdogThreshold = 50000

// Spinlock is a non-recursive mutual-exclusion lock. The zero value is
// ready to use.
type Spinlock struct {
	mu       sync.Mutex
	spins    atomic.Uint64
	holder   atomic.Value // string, set while held
	warnOnce sync.Once
}

// Lock acquires the lock, busy-spinning on the fast path before parking,
// mirroring the real kernel's test-and-set loop. It logs at most once per
// hold of the lock (Unlock re-arms the warning) if contention crosses
// watchdogThreshold.
func (s *Spinlock) Lock() {
	var tries uint64
	for !s.mu.TryLock() {
		tries++
		if tries == watchdogThreshold {
			s.warnOnce.Do(func() {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				holder, _ := s.holder.Load().(string)
				log.L.WithField("holder", holder).Warnf(
					"spinlock contended past %d spins, current stack:\n%s",
					watchdogThreshold, buf[:n])
			})
		}
		runtime.Gosched()
	}
	s.holder.Store(callerID())
}

// Unlock releases the lock.
func (s *Spinlock) Unlock() {
	s.holder.Store("")
	s.warnOnce = sync.Once{}
	s.mu.Unlock()
}

func callerID() string {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name() + " " + file + ":" + itoa(line)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Fence is the RCU-style synchronization point used wherever spec.md calls
// for a fence between a mutation and its cross-CPU visibility (page-table
// writes ahead of a TLB shootdown ACK, rights installation ahead of a
// message delivery). On real hardware this is a memory barrier; on a
// goroutine scheduler the happens-before edge is established by the
// channel send/receive that the caller performs immediately after Fence
// returns, so Fence itself only needs to prevent compiler-level reordering
// of the preceding atomic writes, which Go's memory model already
// guarantees for atomic.* operations. It exists as a named call so the
// intent reads the same as in the arch code it mirrors.
func Fence() {
	atomic.CompareAndSwapInt32(new(int32), 0, 0)
}

// Synchronize blocks until every one of the given per-CPU acknowledgement
// channels has produced a value or ctx is done, returning ctx.Err() in the
// latter case. TLB shootdown (kernel/memory) and cross-CPU reschedule IPIs
// (kernel/task) both wait on the same shape of fan-out/fan-in.
func Synchronize(ctx context.Context, acks []<-chan struct{}) error {
	for _, ack := range acks {
		select {
		case <-ack:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			log.L.Warn("synchronize: remote CPU did not ACK within 5s, continuing to wait")
			select {
			case <-ack:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
