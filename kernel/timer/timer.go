package timer

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
)

// Sender is the subset of kernel/port.Table the timer manager needs: kernel
// -originated delivery straight to a port.
type Sender interface {
	SendToPort(portID uint64, payload []byte) error
}

// TimeSource is one candidate clock the monotonic-time chain in spec.md
// §4.3 probes in order: invariant TSC, APIC/LAPIC tick counter scaled by
// measured frequency, RISC-V time CSR scaled by RHCT frequency, and so on.
// Only one TimeSource is ever usable on a given host; Manager keeps the
// list so the arch-selection *shape* of the original survives even though
// a hosted Go process only ever has time.Now() as a real source.
type TimeSource struct {
	Name      string
	Available func() bool
	NowNanos  func() int64
}

func defaultSources() []TimeSource {
	boot := time.Now()
	return []TimeSource{
		{
			Name:      "invariant-tsc",
			Available: func() bool { return true },
			NowNanos:  func() int64 { return time.Since(boot).Nanoseconds() },
		},
	}
}

// Manager owns one CPUHeap per simulated CPU and the goroutine that pops
// expired entries and delivers Timer_Reply messages.
type Manager struct {
	cpus    []*CPUHeap
	sender  Sender
	sources []TimeSource
	clock   *TimeSource

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a timer manager for ncpus simulated CPUs.
func NewManager(ncpus int, sender Sender) *Manager {
	m := &Manager{
		cpus:    make([]*CPUHeap, ncpus),
		sender:  sender,
		sources: defaultSources(),
		stop:    make(chan struct{}),
	}
	for i := range m.cpus {
		m.cpus[i] = newCPUHeap()
	}
	for i := range m.sources {
		if m.sources[i].Available() {
			m.clock = &m.sources[i]
			break
		}
	}
	if m.clock == nil {
		panic("timer: no usable monotonic clock source")
	}
	return m
}

// GetNsSinceBootup implements the get-time syscall's monotonic clock,
// per spec.md §4.3.
func (m *Manager) GetNsSinceBootup() int64 {
	return m.clock.NowNanos()
}

// RequestTimer implements request_timer(port, ms): pushes a deadline
// `now + ms` onto cpu's heap with the three opaque extra words, returning
// the new entry's id.
func (m *Manager) RequestTimer(cpu int, portID uint64, ms int64, extra [3]uint64) (uint64, error) {
	if cpu < 0 || cpu >= len(m.cpus) {
		return 0, kerr.Wrap(kerr.ErrBadArgument, "cpu %d out of range", cpu)
	}
	deadline := m.clock.NowNanos() + ms*int64(time.Millisecond)
	e := m.cpus[cpu].push(deadline, portID, extra)
	return e.id, nil
}

// DumpTimers returns cpu's pending timer heap in deadline order, for
// internal/adminsvc's introspection queries.
func (m *Manager) DumpTimers(cpu int) ([]EntrySummary, error) {
	if cpu < 0 || cpu >= len(m.cpus) {
		return nil, kerr.Wrap(kerr.ErrBadArgument, "cpu %d out of range", cpu)
	}
	return m.cpus[cpu].snapshot(), nil
}

// NumCPUs reports how many per-CPU heaps this manager owns.
func (m *Manager) NumCPUs() int { return len(m.cpus) }

// PortClosed notifies the manager that portID has been destroyed; any
// timers still targeting it are dropped with a logged port-closed event
// instead of being delivered, per spec.md §4.3.
func (m *Manager) PortClosed(portID uint64) {
	for i, c := range m.cpus {
		if n := c.removeByPort(portID); n > 0 {
			log.L.WithField("cpu", i).WithField("port", portID).WithField("dropped", n).
				Debug("timer port closed before delivery")
		}
	}
}

// Run starts the per-CPU pop loops; the timer ISR in a real kernel calls
// update_ticks on every timer interrupt, so here each loop wakes on a
// short fixed interval and pops whatever is due, reprogramming implicitly
// by just looping (the one-shot-reprogram optimization spec.md §4.3 describes
// is an implementation detail of a real APIC/HPET and has no observable
// effect on delivery order in a hosted simulation).
func (m *Manager) Run() {
	for i := range m.cpus {
		m.wg.Add(1)
		go m.loop(i)
	}
}

// Stop halts every per-CPU loop and waits for them to exit.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) loop(cpu int) {
	defer m.wg.Done()
	const tick = 500 * time.Microsecond
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.deliverExpired(cpu)
		}
	}
}

func (m *Manager) deliverExpired(cpu int) {
	now := m.clock.NowNanos()
	for _, e := range m.cpus[cpu].popExpired(now) {
		payload := encodeTimerReply(e.id, e.extra)
		if err := m.sender.SendToPort(e.portID, payload); err != nil {
			kerr.Log(context.TODO(), err, "timer reply delivery failed")
		}
	}
}

func encodeTimerReply(id uint64, extra [3]uint64) []byte {
	buf := make([]byte, 4+8+8+8+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ipc.TimerReply))
	binary.LittleEndian.PutUint64(buf[4:12], id)
	binary.LittleEndian.PutUint64(buf[12:20], extra[0])
	binary.LittleEndian.PutUint64(buf[20:28], extra[1])
	binary.LittleEndian.PutUint64(buf[28:36], extra[2])
	return buf
}

// DecodeTimerReply is the userland-shim-side counterpart, exposed for
// tests and for pkg/runtime's timer client.
func DecodeTimerReply(b []byte) (ipc.TimerReplyPayload, error) {
	if len(b) < 36 {
		return ipc.TimerReplyPayload{}, kerr.ErrFormat
	}
	return ipc.TimerReplyPayload{
		Type:   ipc.Type(binary.LittleEndian.Uint32(b[0:4])),
		ID:     binary.LittleEndian.Uint64(b[4:12]),
		Extra0: binary.LittleEndian.Uint64(b[12:20]),
		Extra1: binary.LittleEndian.Uint64(b[20:28]),
		Extra2: binary.LittleEndian.Uint64(b[28:36]),
	}, nil
}
