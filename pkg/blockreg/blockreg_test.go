package blockreg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt/arch"
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

func TestRegisterRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	k := newTestKernel(t)
	srv, err := NewServer(k)
	require.NoError(t, err)
	go srv.Serve(ctx)

	driverTaskID := k.CreateTask(0, 4)
	require.NoError(t, Register(ctx, k, driverTaskID, 1, 2048, 512))

	disk, err := srv.Registry().Lookup(1)
	require.NoError(t, err)
	require.Equal(t, uint64(2048), disk.SizeBlocks)
	require.Equal(t, uint32(512), disk.BlockSize)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	k := newTestKernel(t)
	srv, err := NewServer(k)
	require.NoError(t, err)
	go srv.Serve(ctx)

	driverTaskID := k.CreateTask(0, 4)
	require.NoError(t, Register(ctx, k, driverTaskID, 5, 100, 512))
	err = Register(ctx, k, driverTaskID, 5, 100, 512)
	require.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Disk{DiskID: 1, SizeBlocks: 10, BlockSize: 512}))
	require.NoError(t, reg.Register(Disk{DiskID: 2, SizeBlocks: 20, BlockSize: 4096}))
	require.Len(t, reg.List(), 2)

	_, err := reg.Lookup(99)
	require.Error(t, err)
}
