// Package arch provides the per-architecture interrupt-controller hook
// sets kernel/interrupt.Dispatcher drives: vector allocation policy plus
// the enable/complete (EOI/ACK) calls spec.md §4.5 delegates to hardware.
// Grounded on original_source's devicesd/arch, ioapic, PLIC, and
// LoongArch PIC drivers — none of which are real hardware accessible
// from a hosted Go process, so Enable/Complete here only validate the
// vector range and log, matching how the rest of this tree treats
// hardware-only hooks it cannot execute for real.
package arch

import (
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// x86VectorBase/x86VectorMax bound the IOAPIC-routed vector range; 0..47
// are reserved for exceptions and the legacy PIC range.
const (
	x86VectorBase = 48
	x86VectorMax  = 245
)

// X86 models LAPIC/IOAPIC round-robin vector allocation: each GSI routed
// through the IOAPIC gets the next vector in [48, 245), wrapping once
// exhausted.
type X86 struct {
	mu   sync.Mutex
	next uint32
}

// NewX86 returns an x86 hook set with vector allocation starting at the
// base of the IOAPIC-routed range.
func NewX86() *X86 { return &X86{next: x86VectorBase} }

func (x *X86) Enable(cpu int, vector uint32) error {
	if vector < x86VectorBase || vector >= x86VectorMax {
		return kerr.Wrap(kerr.ErrBadArgument, "vector %d outside IOAPIC range", vector)
	}
	log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("ioapic: interrupt_enable")
	return nil
}

func (x *X86) Complete(cpu int, vector uint32) error {
	log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("lapic: EOI")
	return nil
}

func (x *X86) AllocateVector(cpu int, gsi uint32) (uint32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	v := x.next
	x.next++
	if x.next >= x86VectorMax {
		x.next = x86VectorBase
	}
	return v, nil
}
