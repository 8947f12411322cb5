// Package interrupt implements the interrupt-to-port dispatcher of
// spec.md §4.5: per-CPU GSI/vector bindings, edge delivery as a
// Kernel_Interrupt message, and the register/complete/allocate syscall
// trio. Binding storage is a plain Go map rather than the source's
// per-CPU sorted array, since a hosted simulation never needs the cache
// locality that ordering bought on real hardware (spec.md §9).
package interrupt

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/internal/spinlock"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
)

// Sender delivers a kernel-originated message straight to a port,
// bypassing rights — the same shape kernel/timer.Sender uses.
type Sender interface {
	SendToPort(portID uint64, payload []byte) error
}

// Hooks is the arch hook set spec.md §4.5 calls out: enabling a vector at
// the controller, acknowledging/EOI-ing it on completion, and picking the
// next vector for a GSI under that arch's allocation policy. kernel/interrupt/arch
// supplies one implementation per architecture.
type Hooks interface {
	Enable(cpu int, vector uint32) error
	Complete(cpu int, vector uint32) error
	AllocateVector(cpu int, gsi uint32) (uint32, error)
}

type binding struct {
	owner  uint64
	port   uint64
	gsi    uint32
	active bool
}

type cpuTable struct {
	mu       spinlock.Spinlock
	bindings map[uint32]*binding // vector -> binding
}

// Dispatcher is the kernel-wide interrupt-to-port table: one cpuTable per
// simulated CPU plus the arch hook set and the port sender used for
// delivery.
type Dispatcher struct {
	hooks  Hooks
	sender Sender

	mu     sync.Mutex // protects gsiCPU only; cpuTable has its own lock
	gsiCPU map[uint32]int
	cpus   []*cpuTable
}

// NewDispatcher creates a dispatcher for ncpus simulated CPUs.
func NewDispatcher(ncpus int, hooks Hooks, sender Sender) *Dispatcher {
	d := &Dispatcher{
		hooks:  hooks,
		sender: sender,
		gsiCPU: make(map[uint32]int),
		cpus:   make([]*cpuTable, ncpus),
	}
	for i := range d.cpus {
		d.cpus[i] = &cpuTable{bindings: make(map[uint32]*binding)}
	}
	return d
}

// Load reports cpu's current handler count, the cheap load proxy spec.md
// §4.2 specifies for scheduler wake-time CPU selection; it satisfies
// kernel/task.LoadFunc.
func (d *Dispatcher) Load(cpu int) int {
	c := d.cpus[cpu]
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings)
}

// RegisterInterrupt binds (cpu, vector) to task/port and calls the arch
// enable hook. Fails if the binding already exists (spec.md §7 "exists").
func (d *Dispatcher) RegisterInterrupt(cpu int, vector uint32, gsi uint32, task, port uint64) error {
	if cpu < 0 || cpu >= len(d.cpus) {
		return kerr.Wrap(kerr.ErrBadArgument, "cpu %d out of range", cpu)
	}
	c := d.cpus[cpu]
	c.mu.Lock()
	if _, exists := c.bindings[vector]; exists {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrExists, "vector %d already bound on cpu %d", vector, cpu)
	}
	c.bindings[vector] = &binding{owner: task, port: port, gsi: gsi}
	c.mu.Unlock()

	if err := d.hooks.Enable(cpu, vector); err != nil {
		c.mu.Lock()
		delete(c.bindings, vector)
		c.mu.Unlock()
		return err
	}
	d.mu.Lock()
	d.gsiCPU[gsi] = cpu
	d.mu.Unlock()
	return nil
}

// Deliver handles an edge on (cpu, vector): builds and sends a
// Kernel_Interrupt message to the bound port and marks the binding
// active. A second edge before complete_interrupt is coalesced — no
// second message, no error — per spec.md §8 scenario 5.
func (d *Dispatcher) Deliver(cpu int, vector uint32) error {
	c := d.cpus[cpu]
	c.mu.Lock()
	b, ok := c.bindings[vector]
	if !ok {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrNotFound, "vector %d not bound on cpu %d", vector, cpu)
	}
	if b.active {
		c.mu.Unlock()
		log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("interrupt edge coalesced: binding already active")
		return nil
	}
	b.active = true
	port := b.port
	gsi := b.gsi
	c.mu.Unlock()

	payload := encodeKernelInterrupt(gsi)
	if err := d.sender.SendToPort(port, payload); err != nil {
		kerr.Log(context.TODO(), err, "interrupt delivery failed")
		return err
	}
	return nil
}

// CompleteInterrupt clears the active flag for (cpu, vector) and calls the
// arch completion hook (EOI/ACK). Fails if caller does not own the binding
// or the binding is not active (spec.md §7 "busy").
func (d *Dispatcher) CompleteInterrupt(cpu int, vector uint32, caller uint64) error {
	c := d.cpus[cpu]
	c.mu.Lock()
	b, ok := c.bindings[vector]
	if !ok {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrNotFound, "vector %d not bound on cpu %d", vector, cpu)
	}
	if b.owner != caller {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrPermission, "caller does not own vector %d", vector)
	}
	if !b.active {
		c.mu.Unlock()
		return kerr.Wrap(kerr.ErrBusy, "vector %d not active", vector)
	}
	b.active = false
	c.mu.Unlock()
	return d.hooks.Complete(cpu, vector)
}

// BindingSummary is a read-only view of one interrupt binding, for
// internal/adminsvc's introspection queries.
type BindingSummary struct {
	CPU    int
	Vector uint32
	GSI    uint32
	Owner  uint64
	Port   uint64
	Active bool
}

// DumpBindings returns every interrupt binding across every simulated CPU.
func (d *Dispatcher) DumpBindings() []BindingSummary {
	var out []BindingSummary
	for cpu, c := range d.cpus {
		c.mu.Lock()
		for vector, b := range c.bindings {
			out = append(out, BindingSummary{
				CPU: cpu, Vector: vector, GSI: b.gsi, Owner: b.owner, Port: b.port, Active: b.active,
			})
		}
		c.mu.Unlock()
	}
	return out
}

// AllocateInterrupt chooses the least-loaded CPU by current handler count
// and asks the arch hooks for the next vector to hand out for gsi on that
// CPU (spec.md §4.5 allocate_interrupt).
func (d *Dispatcher) AllocateInterrupt(gsi uint32) (cpu int, vector uint32, err error) {
	best := 0
	bestLoad := d.Load(0)
	for i := 1; i < len(d.cpus); i++ {
		if l := d.Load(i); l < bestLoad {
			best, bestLoad = i, l
		}
	}
	v, err := d.hooks.AllocateVector(best, gsi)
	if err != nil {
		return 0, 0, err
	}
	return best, v, nil
}

// Unregister removes the (cpu, vector) binding outright, used on task
// teardown to release interrupts an exiting task still held.
func (d *Dispatcher) Unregister(cpu int, vector uint32) {
	c := d.cpus[cpu]
	c.mu.Lock()
	b, ok := c.bindings[vector]
	if ok {
		delete(c.bindings, vector)
	}
	c.mu.Unlock()
	if ok {
		d.mu.Lock()
		delete(d.gsiCPU, b.gsi)
		d.mu.Unlock()
	}
}

func encodeKernelInterrupt(id uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ipc.KernelInterrupt))
	binary.LittleEndian.PutUint32(buf[4:8], id)
	return buf
}

// DecodeKernelInterrupt is the userland-shim-side counterpart.
func DecodeKernelInterrupt(b []byte) (ipc.KernelInterruptPayload, error) {
	if len(b) < 8 {
		return ipc.KernelInterruptPayload{}, kerr.ErrFormat
	}
	return ipc.KernelInterruptPayload{
		Type:        ipc.Type(binary.LittleEndian.Uint32(b[0:4])),
		InterruptID: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}
