// Package task implements the task, task-group, and scheduler core of
// spec.md §4.2: task state machine, per-CPU run queues, cooperative
// preemption, and cross-CPU wake via a channel-based stand-in for the
// reschedule IPI. As SPEC_FULL.md notes, "CPU" here means a scheduler
// worker slot (a goroutine), not a hardware core; the state machine and
// its invariants are unchanged.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// State is a task's position in the spec.md §4.2 state machine:
// Embryo -> Runnable <-> Running <-> Blocked{Port,Timer,Interrupt},
// with Paused and Terminated as orthogonal absorbing transitions.
type State int

const (
	Embryo State = iota
	Runnable
	Running
	BlockedPort
	BlockedTimer
	BlockedInterrupt
	Paused
	Terminated
)

func (s State) String() string {
	switch s {
	case Embryo:
		return "embryo"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case BlockedPort:
		return "blocked-port"
	case BlockedTimer:
		return "blocked-timer"
	case BlockedInterrupt:
		return "blocked-interrupt"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// AnyCPU is the affinity value meaning "the scheduler may place this task
// on whichever CPU it judges least loaded" (spec.md §3, §4.2).
const AnyCPU = 0

// Regs is the arch-neutral slice of the saved register file this package
// actually cares about: the three entry-point argument registers
// start_task fills in. The arch-specific remainder of the register file is
// out of scope for the scheduler and lives with kernel/syscall's Regs.
type Regs struct {
	Arg0, Arg1, Arg2 uint64
	EntryPoint       uint64
}

// Task is a unit of execution, per spec.md §3.
type Task struct {
	ID       uint64
	mu       sync.Mutex
	state    State
	affinity int // 0 = any, N = CPU N-1
	priority int
	cpu      int // CPU this task currently runs/ran on, or -1
	regs     Regs
	name     string

	pageTable uint64 // opaque handle into kernel/memory's table registry

	refs atomic.Int32

	wake chan struct{} // closed to unblock a parked task; replaced on each park
}

// New creates an Embryo task with the given affinity and priority.
func New(id uint64, affinity, priority int) *Task {
	t := &Task{
		ID:       id,
		state:    Embryo,
		affinity: affinity,
		priority: priority,
		cpu:      -1,
	}
	t.refs.Store(1)
	return t
}

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetName implements the set-name family of attribute syscalls (§4.6).
func (t *Task) SetName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

// Name returns the task's debug name.
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Affinity returns the task's CPU affinity (0 = any).
func (t *Task) Affinity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.affinity
}

// SetAffinity implements set_affinity.
func (t *Task) SetAffinity(affinity int) {
	t.mu.Lock()
	t.affinity = affinity
	t.mu.Unlock()
}

// SetPriority implements set_priority.
func (t *Task) SetPriority(p int) {
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

// Priority returns the task's priority band.
func (t *Task) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// Start loads the task's entry point and argument registers and moves it
// Embryo -> Runnable. Fails bad-argument if the task is not Embryo.
func (t *Task) Start(entry, arg0, arg1, arg2 uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Embryo {
		return kerr.Wrap(kerr.ErrBadArgument, "task %d not embryo (state=%s)", t.ID, t.state)
	}
	t.regs = Regs{EntryPoint: entry, Arg0: arg0, Arg1: arg1, Arg2: arg2}
	t.state = Runnable
	return nil
}

// Pause implements the pause syscall: Runnable/Running -> Paused. Fails
// busy if already paused.
func (t *Task) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Paused {
		return kerr.Wrap(kerr.ErrBusy, "task %d already paused", t.ID)
	}
	if t.state == Terminated {
		return kerr.Wrap(kerr.ErrOrphaned, "task %d terminated", t.ID)
	}
	t.state = Paused
	return nil
}

// Resume implements the resume syscall: Paused -> Runnable.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Paused {
		return kerr.Wrap(kerr.ErrBadArgument, "task %d not paused (state=%s)", t.ID, t.state)
	}
	t.state = Runnable
	return nil
}

// block transitions the task into one of the Blocked* states and arms a
// fresh wake channel; callers (kernel/port, kernel/timer) retain the
// channel to select on and pass it to Unblock once satisfied.
func (t *Task) block(reason State) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = reason
	t.wake = make(chan struct{})
	return t.wake
}

// BlockOnPort parks the task awaiting a port event and returns the channel
// that Unblock will close.
func (t *Task) BlockOnPort() <-chan struct{} { return t.block(BlockedPort) }

// BlockOnTimer parks the task awaiting a timer event.
func (t *Task) BlockOnTimer() <-chan struct{} { return t.block(BlockedTimer) }

// BlockOnInterrupt parks the task awaiting an interrupt completion event.
func (t *Task) BlockOnInterrupt() <-chan struct{} { return t.block(BlockedInterrupt) }

// Unblock moves a blocked task back to Runnable and wakes anyone selecting
// on its wake channel. It is a no-op if the task is not currently in a
// Blocked* state (e.g. it raced with Kill).
func (t *Task) Unblock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case BlockedPort, BlockedTimer, BlockedInterrupt:
		t.state = Runnable
		if t.wake != nil {
			close(t.wake)
			t.wake = nil
		}
	}
}

// Kill implements the cancellation path of spec.md §5: a blocked task may
// be killed; its waiter slot is removed atomically (by simply moving it to
// Terminated and closing its wake channel, which callers treat as an
// EINTR-causing wake) and it is marked Terminated regardless of its prior
// state.
func (t *Task) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasBlocked := t.state == BlockedPort || t.state == BlockedTimer || t.state == BlockedInterrupt
	t.state = Terminated
	if wasBlocked && t.wake != nil {
		close(t.wake)
		t.wake = nil
	}
}

// Ref increments the task's reference count (ports that name it as owner
// hold one).
func (t *Task) Ref() { t.refs.Add(1) }

// Unref decrements the reference count; it reports true once the count
// reaches zero and the task is Terminated, meaning it is safe to retire.
func (t *Task) Unref() bool {
	n := t.refs.Add(-1)
	return n <= 0 && t.State() == Terminated
}

// CPU returns the CPU slot this task last ran on, or -1.
func (t *Task) CPU() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpu
}

// PageTable returns the id of the page table this task's address space is
// bound to, or 0 if none (kernel task, or not yet loaded).
func (t *Task) PageTable() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageTable
}

// SetPageTable binds the task to a page table id; kernel/syscall calls this
// from LoadExecutable. kernel/boot does not read it at context-switch time.
func (t *Task) SetPageTable(id uint64) {
	t.mu.Lock()
	t.pageTable = id
	t.mu.Unlock()
}

func (t *Task) setCPU(cpu int) {
	t.mu.Lock()
	t.cpu = cpu
	t.mu.Unlock()
}

// setState transitions the task to s; the scheduler is the sole caller
// (PickNext -> Running, SchedPeriodic's preemption -> Runnable).
func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) logFields() log.Fields {
	return log.Fields{"task": t.ID, "state": t.State().String()}
}
