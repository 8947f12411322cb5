package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	delivered []ipcDelivery
}

type ipcDelivery struct {
	portID  uint64
	payload []byte
}

func (f *fakeSender) SendToPort(portID uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.delivered = append(f.delivered, ipcDelivery{portID: portID, payload: cp})
	return nil
}

func (f *fakeSender) snapshot() []ipcDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ipcDelivery(nil), f.delivered...)
}

func TestTimerFiresExactlyOnceWithExtras(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(1, sender)
	m.Run()
	defer m.Stop()

	_, err := m.RequestTimer(0, 42, 20, [3]uint64{7, 8, 9})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 1
	}, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	got := sender.snapshot()
	require.Len(t, got, 1, "timer must deliver exactly one reply")

	reply, err := DecodeTimerReply(got[0].payload)
	require.NoError(t, err)
	require.Equal(t, uint64(7), reply.Extra0)
	require.Equal(t, uint64(8), reply.Extra1)
	require.Equal(t, uint64(9), reply.Extra2)
}

func TestTimerOrderingTiesByInsertion(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(1, sender)

	now := m.clock.NowNanos()
	a := m.cpus[0].push(now, 1, [3]uint64{1})
	b := m.cpus[0].push(now, 2, [3]uint64{2})

	expired := m.cpus[0].popExpired(now)
	require.Len(t, expired, 2)
	require.Equal(t, a.id, expired[0].id)
	require.Equal(t, b.id, expired[1].id)
}

func TestPortClosedDropsPendingTimer(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(1, sender)
	id, err := m.RequestTimer(0, 99, 10000, [3]uint64{})
	require.NoError(t, err)
	require.NotZero(t, id)

	m.PortClosed(99)
	require.Empty(t, m.cpus[0].h)
}
