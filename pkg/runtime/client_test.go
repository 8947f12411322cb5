package runtime

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory"
	march "github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
	"github.com/ThatMishakov/pmOS-sub004/kernel/task"
	"github.com/ThatMishakov/pmOS-sub004/kernel/timer"
)

func newTestKernel(t *testing.T) *syscall.Kernel {
	t.Helper()
	frames := frame.New(256, 2)
	objects := memory.NewRegistry(frames)
	groups := task.NewRegistry()
	ports := port.NewTable()
	sched := task.NewScheduler(2, nil, groups)
	timers := timer.NewManager(2, ports)
	interrupts := interrupt.NewDispatcher(2, arch.NewX86(), ports)
	shootdown := memory.NewShootdown(2)
	return syscall.NewKernel(sched, groups, ports, objects, frames, timers, interrupts, shootdown, march.AMD64Level4)
}

// fakeProcessd stands in for the real processd service: it publishes the
// well-known port and replies to whatever request it is sent.
func fakeProcessd(t *testing.T, ctx context.Context, k *syscall.Kernel) uint64 {
	t.Helper()
	serverTaskID := k.CreateTask(0, 4)
	portID, rightID := k.CreatePort(serverTaskID)
	require.NoError(t, k.NamePort(serverTaskID, rightID, ProcessdPort))

	go func() {
		buf := make([]byte, 4096)
		for {
			n, _, replyRight, haveReply, err := k.GetFirstMessage(ctx, serverTaskID, portID, buf, true, false)
			if err != nil {
				return
			}
			if !haveReply {
				continue
			}
			if n < 4 {
				continue
			}
			msgType := ipc.Type(binary.LittleEndian.Uint32(buf[0:4]))
			var reply []byte
			switch msgType {
			case ipc.RequestFork:
				reply = ipc.EncodeRequestForkReply(4242, 0)
			default:
				reply = ipc.EncodeRegisterProcessReply(0)
			}
			_ = k.Send(serverTaskID, replyRight, reply, nil)
		}
	}()
	return serverTaskID
}

func TestClientRegisterProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	k := newTestKernel(t)
	fakeProcessd(t, ctx, k)

	taskID := k.CreateTask(0, 4)
	c := NewClient(k, taskID)
	defer c.Close()

	require.NoError(t, c.RegisterProcess(ctx, 0, "init"))
}

func TestClientRequestFork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	k := newTestKernel(t)
	fakeProcessd(t, ctx, k)

	taskID := k.CreateTask(0, 4)
	c := NewClient(k, taskID)
	defer c.Close()

	childID, err := c.RequestFork(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(4242), childID)
}

func TestClientNotifyExitDoesNotBlockBeforeProcessdExists(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	k := newTestKernel(t)
	taskID := k.CreateTask(0, 4)
	c := NewClient(k, taskID)
	defer c.Close()

	// processd isn't up yet: NotifyExit must not block or panic.
	c.NotifyExit(ctx)

	time.Sleep(10 * time.Millisecond)
	fakeProcessd(t, ctx, k)

	// the worker, parked in GetRightByName, can now deliver it; give it time.
	time.Sleep(200 * time.Millisecond)
}

func TestClientLookupNamedPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	k := newTestKernel(t)
	ownerID := k.CreateTask(0, 4)
	_, rightID := k.CreatePort(ownerID)
	require.NoError(t, k.NamePort(ownerID, rightID, "devicesd"))

	taskID := k.CreateTask(0, 4)
	c := NewClient(k, taskID)
	defer c.Close()

	got, err := c.LookupNamedPort(ctx, "devicesd")
	require.NoError(t, err)
	require.NotZero(t, got)
}
