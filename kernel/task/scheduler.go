package task

import (
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

const numPriorityBands = 8

// cpuSlot is one simulated CPU's scheduler state: a priority-banded run
// queue and the task currently Running on it, per spec.md §2/§5 ("true
// parallelism across CPUs plus preemptive scheduling within a CPU").
type cpuSlot struct {
	mu      sync.Mutex
	queues  [numPriorityBands][]*Task
	current *Task
	ipi     chan uint64 // reschedule IPI: wakes this CPU's loop, payload is the woken task id (0 = generic kick)
}

// LoadFunc reports a CPU's current interrupt-handler load, the cheap
// proxy spec.md §4.2 specifies for least-loaded CPU selection at wake
// time. kernel/interrupt.Dispatcher implements this.
type LoadFunc func(cpu int) int

// Scheduler owns every simulated CPU's run queue and implements task
// lifecycle (create/start/pause/resume/kill) plus the wake/preempt paths.
type Scheduler struct {
	cpus  []*cpuSlot
	load  LoadFunc
	tasks sync.Map // task id -> *Task

	groups *Registry
}

// NewScheduler creates a scheduler for ncpus simulated CPUs. load may be
// nil, in which case CPU 0 is always picked for AnyCPU affinity (a
// single-CPU boot).
func NewScheduler(ncpus int, load LoadFunc, groups *Registry) *Scheduler {
	s := &Scheduler{load: load, groups: groups}
	s.cpus = make([]*cpuSlot, ncpus)
	for i := range s.cpus {
		s.cpus[i] = &cpuSlot{ipi: make(chan uint64, 8)}
	}
	return s
}

// NumCPUs returns the simulated CPU count, backing the CPU/LAPIC query
// syscall family.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// pickCPU resolves an affinity value (0 = any, N = CPU N-1) to a concrete
// CPU index, using LoadFunc as the least-loaded tiebreaker for AnyCPU.
func (s *Scheduler) pickCPU(affinity int) int {
	if affinity != AnyCPU {
		return affinity - 1
	}
	best := 0
	bestLoad := s.loadOf(0)
	for i := 1; i < len(s.cpus); i++ {
		if l := s.loadOf(i); l < bestLoad {
			best, bestLoad = i, l
		}
	}
	return best
}

func (s *Scheduler) loadOf(cpu int) int {
	if s.load == nil {
		return 0
	}
	return s.load(cpu)
}

// NewTask creates an Embryo task, registers it with the scheduler, and
// returns it. The caller starts it separately via Task.Start followed by
// MakeRunnable once the executable and argument registers are
// ready (spec.md §3: "a task is created empty, may be loaded... started
// at a given entry point").
func (s *Scheduler) NewTask(id uint64, affinity, priority int) *Task {
	if priority < 0 {
		priority = 0
	}
	if priority >= numPriorityBands {
		priority = numPriorityBands - 1
	}
	t := New(id, affinity, priority)
	s.tasks.Store(id, t)
	return t
}

// Lookup returns the task named by id.
func (s *Scheduler) Lookup(id uint64) (*Task, error) {
	v, ok := s.tasks.Load(id)
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotFound, "task %d unknown", id)
	}
	return v.(*Task), nil
}

// MakeRunnable places t on the run queue of the CPU its affinity resolves
// to (picking the least-loaded CPU for AnyCPU), and sends that CPU's
// reschedule IPI so a sleeping scheduler loop wakes promptly.
func (s *Scheduler) MakeRunnable(t *Task) {
	cpu := s.pickCPU(t.Affinity())
	t.setCPU(cpu)
	slot := s.cpus[cpu]
	slot.mu.Lock()
	band := t.Priority()
	slot.queues[band] = append(slot.queues[band], t)
	slot.mu.Unlock()
	select {
	case slot.ipi <- t.ID:
	default:
	}
}

// Reschedule implements the ipi_reschedule path (spec.md §4.2): a handler
// that just woke t on a possibly different CPU calls this to make sure
// that CPU's scheduler loop notices on its next pass, instead of waiting
// out the rest of its current quantum.
func (s *Scheduler) Reschedule(t *Task) {
	cpu := t.CPU()
	if cpu < 0 || cpu >= len(s.cpus) {
		return
	}
	select {
	case s.cpus[cpu].ipi <- t.ID:
	default:
	}
}

// PickNext dequeues the highest-priority runnable task for cpu, or nil if
// none is queued. It is the scheduler loop's core decision and is exposed
// directly so kernel/boot's per-CPU goroutine can drive it without this
// package needing to own goroutine lifecycles itself.
func (s *Scheduler) PickNext(cpu int) *Task {
	slot := s.cpus[cpu]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	for band := numPriorityBands - 1; band >= 0; band-- {
		q := slot.queues[band]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		slot.queues[band] = q[1:]
		slot.current = t
		t.setState(Running)
		return t
	}
	slot.current = nil
	return nil
}

// IPI returns the channel a CPU's scheduler loop should select on between
// quanta to notice a reschedule request without busy-waiting.
func (s *Scheduler) IPI(cpu int) <-chan uint64 {
	return s.cpus[cpu].ipi
}

// SchedPeriodic is invoked from the simulated timer interrupt (spec.md
// §4.2): it accounts one tick against the CPU's current task and reports
// whether that task's quantum is exhausted. On exhaustion SchedPeriodic
// itself marks the task Runnable and appends it to the back of its run
// queue band; the caller then calls PickNext again.
func (s *Scheduler) SchedPeriodic(cpu int, budget *int) (preempt bool) {
	slot := s.cpus[cpu]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.current == nil {
		return false
	}
	*budget--
	if *budget <= 0 {
		t := slot.current
		slot.current = nil
		t.setState(Runnable)
		q := &slot.queues[t.Priority()]
		*q = append(*q, t)
		return true
	}
	return false
}

// TaskSummary is a point-in-time, read-only view of one task, for
// internal/adminsvc's introspection queries.
type TaskSummary struct {
	ID       uint64
	State    string
	CPU      int
	Affinity int
	Priority int
	Name     string
}

// Snapshot returns a summary of every task the scheduler has ever created
// (including terminated ones still referenced somewhere). Order is
// unspecified.
func (s *Scheduler) Snapshot() []TaskSummary {
	var out []TaskSummary
	s.tasks.Range(func(_, v interface{}) bool {
		t := v.(*Task)
		out = append(out, TaskSummary{
			ID:       t.ID,
			State:    t.State().String(),
			CPU:      t.CPU(),
			Affinity: t.Affinity(),
			Priority: t.Priority(),
			Name:     t.Name(),
		})
		return true
	})
	return out
}

// Terminate implements the exit/kill syscalls' tail: it moves t to
// Terminated (if not already) and removes it from each group in groupIDs,
// publishing MemberTerminated there. Releasing owned ports is left to the
// caller (kernel/syscall.Kernel.KillTask calls port.Table.Orphan).
func (s *Scheduler) Terminate(t *Task, groupIDs []uint64) {
	t.Kill()
	for _, gid := range groupIDs {
		if g, err := s.groups.Get(gid); err == nil {
			g.NotifyTermination(t.ID)
		}
	}
	log.L.WithField("task", t.ID).Debug("task terminated")
}
