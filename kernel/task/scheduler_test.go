package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickCPULeastLoaded(t *testing.T) {
	load := map[int]int{0: 5, 1: 1, 2: 3}
	s := NewScheduler(3, func(cpu int) int { return load[cpu] }, NewRegistry())
	require.Equal(t, 1, s.pickCPU(AnyCPU))
}

func TestMakeRunnableHonorsPriorityOrder(t *testing.T) {
	s := NewScheduler(1, nil, NewRegistry())
	low := s.NewTask(1, 1, 0)
	high := s.NewTask(2, 1, 7)
	require.NoError(t, low.Start(0, 0, 0, 0))
	require.NoError(t, high.Start(0, 0, 0, 0))

	s.MakeRunnable(low)
	s.MakeRunnable(high)

	next := s.PickNext(0)
	require.Equal(t, high.ID, next.ID, "higher priority band must be picked first")

	next = s.PickNext(0)
	require.Equal(t, low.ID, next.ID)
}

func TestTerminateNotifiesGroups(t *testing.T) {
	reg := NewRegistry()
	var events []EventKind
	g := reg.Create("proc", func(portID, taskID uint64, kind EventKind) {
		events = append(events, kind)
	})
	g.RegisterNotifier(42, 0xffff)

	s := NewScheduler(1, nil, reg)
	tk := s.NewTask(1, AnyCPU, 0)
	g.Add(tk)

	s.Terminate(tk, []uint64{g.ID})

	require.Equal(t, Terminated, tk.State())
	require.Contains(t, events, MemberAdded)
	require.Contains(t, events, MemberTerminated)
}

func TestKillWakesBlockedTask(t *testing.T) {
	tk := New(1, AnyCPU, 0)
	wake := tk.BlockOnPort()
	tk.Kill()
	select {
	case <-wake:
	default:
		t.Fatal("killing a blocked task must close its wake channel")
	}
	require.Equal(t, Terminated, tk.State())
}
