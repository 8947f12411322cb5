package port

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

func TestNamedPortHandshake(t *testing.T) {
	// Mirrors spec.md §8 scenario 1: T2 looks up a name before T1
	// publishes it, blocks, and is unblocked with a usable right once
	// T1 names its port.
	tbl := NewTable()
	ns1 := NewNamespace()
	ns2 := NewNamespace()

	portID, right := tbl.CreatePort(1, ns1)

	resolved := make(chan uint64, 1)
	go func() {
		r, err := tbl.GetRightByName(context.Background(), ns2, "/svc/a")
		require.NoError(t, err)
		resolved <- r
	}()

	time.Sleep(20 * time.Millisecond) // let T2 block first

	require.NoError(t, tbl.NamePort(ns1, right, "/svc/a"))

	var r2 uint64
	select {
	case r2 = <-resolved:
	case <-time.After(time.Second):
		t.Fatal("get_right_by_name never unblocked")
	}

	require.NoError(t, tbl.SendFrom(2, ns2, r2, []byte("hi"), nil))

	n, sender, _, _, err := tbl.GetFirstMessage(context.Background(), portID, ns1, make([]byte, 16), false, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), sender)
	_ = n
}

func TestSendOnceConsumedOnce(t *testing.T) {
	tbl := NewTable()
	ns := NewNamespace()
	portID, _ := tbl.CreatePort(1, ns)
	once, err := tbl.CreateRight(portID, SendOnce, 1, ns)
	require.NoError(t, err)

	require.NoError(t, tbl.Send(ns, once, []byte("a"), nil))
	err = tbl.Send(ns, once, []byte("b"), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, kerr.ErrNotFound), "a consumed send-once right must be not-found (EBADF), got %v", err)
}

func TestConcurrentSendsDeliveredExactlyOnce(t *testing.T) {
	tbl := NewTable()
	ns := NewNamespace()
	portID, right := tbl.CreatePort(1, ns)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, tbl.Send(ns, right, []byte{byte(i)}, nil))
		}(i)
	}
	wg.Wait()

	seen := make(map[byte]bool)
	for i := 0; i < n; i++ {
		buf := make([]byte, 1)
		_, _, _, _, err := tbl.GetFirstMessage(context.Background(), portID, ns, buf, false, false)
		require.NoError(t, err)
		require.False(t, seen[buf[0]], "payload %d delivered twice", buf[0])
		seen[buf[0]] = true
	}
	require.Len(t, seen, n)
}

func TestAttachedRightsAtomicTransfer(t *testing.T) {
	tbl := NewTable()
	nsSender := NewNamespace()
	nsReceiver := NewNamespace()

	destPort, _ := tbl.CreatePort(2, nsReceiver)
	mainPort, mainRight := tbl.CreatePort(1, nsSender)

	// The receiver (destPort's owner) installs a send right to destPort in
	// the sender's namespace; right ids are only meaningful per namespace.
	destRight, err := tbl.CreateRight(destPort, SendMany, 2, nsSender)
	require.NoError(t, err)

	// Give the sender a right to its own reply port to attach.
	replyRight, err := tbl.CreateRight(mainPort, SendOnce, 1, nsSender)
	require.NoError(t, err)

	require.NoError(t, tbl.Send(nsSender, destRight, []byte("hello"), []uint64{replyRight}))

	// The attached right must be gone from the sender's namespace
	// immediately, before the receiver even looks at the message.
	_, err = nsSender.lookup(replyRight)
	require.Error(t, err)

	buf := make([]byte, 16)
	n, _, firstRight, haveReply, err := tbl.GetFirstMessage(context.Background(), destPort, nsReceiver, buf, false, false)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
	require.True(t, haveReply)
	require.NotZero(t, firstRight)

	_ = mainRight
}

func TestPortClosesWhenLastRightDropped(t *testing.T) {
	tbl := NewTable()
	ns := NewNamespace()
	portID, right := tbl.CreatePort(1, ns)

	require.NoError(t, tbl.DeleteRight(right, ns))

	_, err := tbl.GetMessageInfo(context.Background(), portID, false)
	require.Error(t, err)
}
