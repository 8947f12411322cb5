package interrupt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
)

type fakeSender struct {
	mu  sync.Mutex
	n   int
	got []byte
}

func (f *fakeSender) SendToPort(portID uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	f.got = payload
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// TestInterruptAckCoalescesSecondEdge is spec.md §8 scenario 5: "GSI 5 is
// bound to port P on CPU1. Edge on GSI 5 delivers one message; a second
// edge arrives before complete_interrupt(5) — it is coalesced ... no
// kernel panic occurs. After complete_interrupt(5), the next edge
// delivers a message."
func TestInterruptAckCoalescesSecondEdge(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(2, arch.NewX86(), sender)

	const cpu, vector, gsi, task, port = 1, 48, 5, 10, 20
	require.NoError(t, d.RegisterInterrupt(cpu, vector, gsi, task, port))

	require.NoError(t, d.Deliver(cpu, vector))
	require.Equal(t, 1, sender.count())

	require.NoError(t, d.Deliver(cpu, vector)) // coalesced, no panic, no second send
	require.Equal(t, 1, sender.count())

	require.NoError(t, d.CompleteInterrupt(cpu, vector, task))

	require.NoError(t, d.Deliver(cpu, vector))
	require.Equal(t, 2, sender.count())
}

func TestCompleteInterruptRequiresOwnership(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(1, arch.NewX86(), sender)
	require.NoError(t, d.RegisterInterrupt(0, 48, 5, 10, 20))
	require.NoError(t, d.Deliver(0, 48))

	err := d.CompleteInterrupt(0, 48, 99)
	require.Error(t, err)
}

func TestCompleteInterruptRequiresActive(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(1, arch.NewX86(), sender)
	require.NoError(t, d.RegisterInterrupt(0, 48, 5, 10, 20))

	err := d.CompleteInterrupt(0, 48, 10)
	require.Error(t, err)
}

func TestAllocateInterruptPicksLeastLoaded(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(2, arch.NewX86(), sender)
	require.NoError(t, d.RegisterInterrupt(0, 48, 1, 10, 20))
	require.NoError(t, d.RegisterInterrupt(0, 49, 2, 10, 20))

	cpu, vector, err := d.AllocateInterrupt(3)
	require.NoError(t, err)
	require.Equal(t, 1, cpu)
	require.GreaterOrEqual(t, vector, uint32(48))
}

func TestRegisterInterruptRejectsDuplicate(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(1, arch.NewX86(), sender)
	require.NoError(t, d.RegisterInterrupt(0, 48, 5, 10, 20))
	err := d.RegisterInterrupt(0, 48, 6, 11, 21)
	require.Error(t, err)
}
