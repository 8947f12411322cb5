package syscall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory"
	march "github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/task"
	"github.com/ThatMishakov/pmOS-sub004/kernel/timer"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	frames := frame.New(256, 2)
	objects := memory.NewRegistry(frames)
	groups := task.NewRegistry()
	ports := port.NewTable()
	sched := task.NewScheduler(2, nil, groups)
	timers := timer.NewManager(2, ports)
	interrupts := interrupt.NewDispatcher(2, arch.NewX86(), ports)
	shootdown := memory.NewShootdown(2)
	return NewKernel(sched, groups, ports, objects, frames, timers, interrupts, shootdown, march.AMD64Level4)
}

func TestDispatchCreateAndStartTask(t *testing.T) {
	k := newTestKernel(t)
	res, taskID := k.Dispatch(context.Background(), Regs{Num: SysCreateTask, Arg: [6]uint64{0, 4}})
	require.Equal(t, int64(0), res)
	require.NotZero(t, taskID)

	res, _ = k.Dispatch(context.Background(), Regs{Num: SysStartTask, Arg: [6]uint64{uint64(taskID), 0x1000, 1, 2, 3}})
	require.Equal(t, int64(0), res)
}

func TestDispatchPortSendRecvRoundTrip(t *testing.T) {
	k := newTestKernel(t)
	_, taskID := k.Dispatch(context.Background(), Regs{Num: SysCreateTask})

	res, both := k.Dispatch(context.Background(), Regs{Num: SysCreatePort, Task: uint64(taskID)})
	portID := res
	rightID := both
	require.NotZero(t, portID)
	require.NotZero(t, rightID)

	res, _ = k.Dispatch(context.Background(), Regs{
		Num:     SysSend,
		Task:    uint64(taskID),
		Arg:     [6]uint64{uint64(rightID)},
		Payload: []byte("hello"),
	})
	require.Equal(t, int64(0), res)

	_, n := k.Dispatch(context.Background(), Regs{Num: SysGetMessageInfo, Arg: [6]uint64{uint64(portID), 0}})
	require.Equal(t, int64(len("hello")), n)
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	k := newTestKernel(t)
	res, _ := k.Dispatch(context.Background(), Regs{Num: 0xFFFF})
	require.Equal(t, kerr.ToErrno(kerr.ErrNotSupported), res)
}

func TestDispatchInterruptRegister(t *testing.T) {
	k := newTestKernel(t)
	// affinity 1 binds the task to CPU 0, the CPU it registers on below.
	_, taskID := k.Dispatch(context.Background(), Regs{Num: SysCreateTask, Arg: [6]uint64{1}})
	_, portBoth := k.Dispatch(context.Background(), Regs{Num: SysCreatePort, Task: uint64(taskID)})
	_ = portBoth

	res, _ := k.Dispatch(context.Background(), Regs{
		Num:  SysRegisterInterrupt,
		Task: uint64(taskID),
		Arg:  [6]uint64{0, 48, 5, 1},
	})
	require.Equal(t, int64(0), res)
}

func TestNewTaskIDsAreUnique(t *testing.T) {
	k := newTestKernel(t)
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		id := k.newTaskID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
