// Package syscall implements the syscall surface of spec.md §4.6: one Go
// function per syscall number, each taking a small arch-neutral register
// file and returning (result, value); Dispatch is the trap-entry adapter
// that turns a syscall number into the matching call and translates any
// error into a negated POSIX errno via internal/kerr.
package syscall

import (
	"context"
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ids"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/task"
	"github.com/ThatMishakov/pmOS-sub004/kernel/timer"
)

// Kernel aggregates every subsystem the syscall surface dispatches into:
// one instance is built at boot (kernel/boot) and shared by every
// simulated CPU's trap handler.
type Kernel struct {
	Scheduler  *task.Scheduler
	Groups     *task.Registry
	Ports      *port.Table
	Objects    *memory.Registry
	Frames     *frame.Allocator
	Timers     *timer.Manager
	Interrupts *interrupt.Dispatcher
	Shootdown  *memory.Shootdown

	Desc arch.Descriptor

	tableIDs *ids.Allocator
	mu       sync.Mutex
	tables   map[uint64]*memory.Table

	nsMu       sync.Mutex
	namespaces map[uint64]*port.Namespace
}

// NewKernel wires the subsystems into a dispatchable kernel instance.
func NewKernel(sched *task.Scheduler, groups *task.Registry, ports *port.Table, objects *memory.Registry, frames *frame.Allocator, timers *timer.Manager, interrupts *interrupt.Dispatcher, shootdown *memory.Shootdown, desc arch.Descriptor) *Kernel {
	return &Kernel{
		Scheduler:  sched,
		Groups:     groups,
		Ports:      ports,
		Objects:    objects,
		Frames:     frames,
		Timers:     timers,
		Interrupts: interrupts,
		Shootdown:  shootdown,
		Desc:       desc,
		tableIDs:   ids.New(),
		tables:     make(map[uint64]*memory.Table),
		namespaces: make(map[uint64]*port.Namespace),
	}
}

func (k *Kernel) namespaceFor(taskID uint64) *port.Namespace {
	k.nsMu.Lock()
	defer k.nsMu.Unlock()
	ns, ok := k.namespaces[taskID]
	if !ok {
		ns = port.NewNamespace()
		k.namespaces[taskID] = ns
	}
	return ns
}

func (k *Kernel) dropNamespace(taskID uint64) {
	k.nsMu.Lock()
	delete(k.namespaces, taskID)
	k.nsMu.Unlock()
}

func (k *Kernel) lookupTable(id uint64) (*memory.Table, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tables[id]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotFound, "page table %d unknown", id)
	}
	return t, nil
}

// --- task lifecycle ---

// CreateTask implements create_task: allocates an Embryo task with a fresh
// rights namespace.
func (k *Kernel) CreateTask(affinity, priority int) uint64 {
	id := k.Scheduler.NewTask(k.newTaskID(), affinity, priority).ID
	k.namespaceFor(id)
	return id
}

// newTaskID draws task ids from the same per-kernel allocator as page-table
// ids (tableIDs), tagged with taskIDTag.
func (k *Kernel) newTaskID() uint64 {
	return k.tableIDs.Next() | taskIDTag
}

// taskIDTag distinguishes task ids from page-table ids drawn from the same
// allocator, since both are surfaced to userspace as opaque uint64s that
// must never collide within one boot.
const taskIDTag = 1 << 62

// StartTask implements start_task.
func (k *Kernel) StartTask(taskID, entry, arg0, arg1, arg2 uint64) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	if err := t.Start(entry, arg0, arg1, arg2); err != nil {
		return err
	}
	k.Scheduler.MakeRunnable(t)
	return nil
}

// PauseTask implements pause.
func (k *Kernel) PauseTask(taskID uint64) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	return t.Pause()
}

// ResumeTask implements resume.
func (k *Kernel) ResumeTask(taskID uint64) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	if err := t.Resume(); err != nil {
		return err
	}
	k.Scheduler.MakeRunnable(t)
	return nil
}

// KillTask implements kill: terminates the task, releases its owned ports
// and rights namespace, and notifies its groups.
func (k *Kernel) KillTask(taskID uint64, groupIDs []uint64) {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return
	}
	k.Scheduler.Terminate(t, groupIDs)
	k.Ports.Orphan(taskID)
	k.dropNamespace(taskID)
}

// Exit is the calling task's own exit(), identical to KillTask from the
// kernel's point of view.
func (k *Kernel) Exit(taskID uint64, groupIDs []uint64) {
	k.KillTask(taskID, groupIDs)
}

// Yield implements yield: re-enqueues the calling task at the back of its
// priority band without changing its state.
func (k *Kernel) Yield(taskID uint64) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	k.Scheduler.MakeRunnable(t)
	return nil
}

// SetName, SetAffinity, SetPriority implement the set-attr family.
func (k *Kernel) SetName(taskID uint64, name string) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	t.SetName(name)
	return nil
}

func (k *Kernel) SetAffinity(taskID uint64, affinity int) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	t.SetAffinity(affinity)
	return nil
}

func (k *Kernel) SetPriority(taskID uint64, priority int) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	t.SetPriority(priority)
	return nil
}

// --- page-table / region / memory-object lifecycle ---

// CreateTable implements create_page_table.
func (k *Kernel) CreateTable() uint64 {
	id := k.tableIDs.Next()
	tbl := memory.NewTable(id, k.Desc, k.Objects, k.Frames)
	k.mu.Lock()
	k.tables[id] = tbl
	k.mu.Unlock()
	return id
}

// DeleteTable drops a page table the kernel no longer needs (its owning
// task was reaped and no clone references it).
func (k *Kernel) DeleteTable(id uint64) {
	k.mu.Lock()
	delete(k.tables, id)
	k.mu.Unlock()
	k.tableIDs.Free(id)
}

// CloneTable implements the fork-time page-table clone (spec.md §4.4).
func (k *Kernel) CloneTable(id uint64) (uint64, error) {
	src, err := k.lookupTable(id)
	if err != nil {
		return 0, err
	}
	newID := k.tableIDs.Next()
	clone, err := src.Clone(newID)
	if err != nil {
		k.tableIDs.Free(newID)
		return 0, err
	}
	k.mu.Lock()
	k.tables[newID] = clone
	k.mu.Unlock()
	return newID, nil
}

// CreateRegion implements create_region.
func (k *Kernel) CreateRegion(tableID uint64, r memory.Region) error {
	t, err := k.lookupTable(tableID)
	if err != nil {
		return err
	}
	return t.CreateRegion(r)
}

// DeleteRegion implements delete_region.
func (k *Kernel) DeleteRegion(tableID, start uint64, cpu int) error {
	t, err := k.lookupTable(tableID)
	if err != nil {
		return err
	}
	return t.DeleteRegion(start, cpu)
}

// CreateAnonymousObject implements create_memory_object for an anonymous
// backing.
func (k *Kernel) CreateAnonymousObject(pages int) uint64 {
	return k.Objects.CreateAnonymous(pages).ID
}

// CreatePhysMapObject implements create_memory_object for a fixed
// physical-range backing (MMIO, framebuffer).
func (k *Kernel) CreatePhysMapObject(physBase uint64, pages int) uint64 {
	return k.Objects.CreatePhysMap(physBase, pages).ID
}

// --- port / right lifecycle, send/recv ---

// CreatePort implements create_port.
func (k *Kernel) CreatePort(owner uint64) (portID, rightID uint64) {
	return k.Ports.CreatePort(owner, k.namespaceFor(owner))
}

// CreateRight implements create_right.
func (k *Kernel) CreateRight(portID uint64, kind port.Kind, callerTaskID uint64) (uint64, error) {
	return k.Ports.CreateRight(portID, kind, callerTaskID, k.namespaceFor(callerTaskID))
}

// DeleteRight implements delete_right.
func (k *Kernel) DeleteRight(callerTaskID, rightID uint64) error {
	return k.Ports.DeleteRight(rightID, k.namespaceFor(callerTaskID))
}

// NamePort implements name_port.
func (k *Kernel) NamePort(callerTaskID, rightID uint64, name string) error {
	return k.Ports.NamePort(k.namespaceFor(callerTaskID), rightID, name)
}

// GetRightByName implements get_right_by_name, blocking until the name is
// published or ctx is done.
func (k *Kernel) GetRightByName(ctx context.Context, callerTaskID uint64, name string) (uint64, error) {
	return k.Ports.GetRightByName(ctx, k.namespaceFor(callerTaskID), name)
}

// Send implements send_message.
func (k *Kernel) Send(callerTaskID, rightID uint64, payload []byte, attached []uint64) error {
	return k.Ports.SendFrom(callerTaskID, k.namespaceFor(callerTaskID), rightID, payload, attached)
}

// GetMessageInfo implements get_message_info.
func (k *Kernel) GetMessageInfo(ctx context.Context, portID uint64, wait bool) (port.Info, error) {
	return k.Ports.GetMessageInfo(ctx, portID, wait)
}

// GetFirstMessage implements get_first_message.
func (k *Kernel) GetFirstMessage(ctx context.Context, callerTaskID, portID uint64, buf []byte, wait, reject bool) (n int, sender, replyRight uint64, haveReply bool, err error) {
	return k.Ports.GetFirstMessage(ctx, portID, k.namespaceFor(callerTaskID), buf, wait, reject)
}

// AcceptRights implements accept_rights: installs every pending attached
// right from the caller's most recently received message.
func (k *Kernel) AcceptRights(callerTaskID uint64) ([]uint64, error) {
	return k.namespaceFor(callerTaskID).AcceptRights()
}

// --- interrupt bind/complete/alloc ---

// RegisterInterrupt implements register_interrupt. spec.md §4.5 requires
// the caller's task to be CPU-bound to the target CPU (affinity N = cpu+1);
// a task with AnyCPU affinity is not bound to any particular CPU and is
// rejected the same as a mismatched one.
func (k *Kernel) RegisterInterrupt(cpu int, vector, gsi uint32, taskID, portID uint64) error {
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	if affinity := t.Affinity(); affinity == task.AnyCPU || affinity-1 != cpu {
		return kerr.Wrap(kerr.ErrPermission, "task %d is not CPU-bound to cpu %d", taskID, cpu)
	}
	return k.Interrupts.RegisterInterrupt(cpu, vector, gsi, taskID, portID)
}

// CompleteInterrupt implements complete_interrupt.
func (k *Kernel) CompleteInterrupt(cpu int, vector uint32, callerTaskID uint64) error {
	return k.Interrupts.CompleteInterrupt(cpu, vector, callerTaskID)
}

// AllocateInterrupt implements allocate_interrupt.
func (k *Kernel) AllocateInterrupt(gsi uint32) (cpu int, vector uint32, err error) {
	return k.Interrupts.AllocateInterrupt(gsi)
}

// --- timer ---

// RequestTimer implements request_timer.
func (k *Kernel) RequestTimer(cpu int, portID uint64, ms int64, extra [3]uint64) (uint64, error) {
	return k.Timers.RequestTimer(cpu, portID, ms, extra)
}

// GetTime implements get_time.
func (k *Kernel) GetTime() int64 {
	return k.Timers.GetNsSinceBootup()
}

// --- task-group lifecycle ---

// CreateGroup implements create_task_group. The group's notifier is
// always wired to the real port table (kernel/task stays independent of
// kernel/port so the two can be unit tested in isolation); it only ever
// fires once a caller arms a port via RegisterGroupNotifier.
func (k *Kernel) CreateGroup(name string) uint64 {
	return k.Groups.Create(name, k.publishGroupNotifier).ID
}

// RegisterGroupNotifier implements register_group_notifier: arms portID
// to receive groupID's membership events.
func (k *Kernel) RegisterGroupNotifier(groupID, portID, mask uint64) error {
	g, err := k.Groups.Get(groupID)
	if err != nil {
		return err
	}
	g.RegisterNotifier(portID, mask)
	return nil
}

func (k *Kernel) publishGroupNotifier(portID, taskID uint64, kind task.EventKind) {
	if err := k.Ports.SendToPort(portID, task.EncodeGroupNotifier(taskID, kind)); err != nil {
		log.L.WithError(err).WithField("port", portID).WithField("task", taskID).
			Debug("group notifier delivery failed")
	}
}

// AddToGroup implements add_to_group.
func (k *Kernel) AddToGroup(groupID, taskID uint64) error {
	g, err := k.Groups.Get(groupID)
	if err != nil {
		return err
	}
	t, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	g.Add(t)
	return nil
}

// RemoveFromGroup implements remove_from_group.
func (k *Kernel) RemoveFromGroup(groupID, taskID uint64) error {
	g, err := k.Groups.Get(groupID)
	if err != nil {
		return err
	}
	g.Remove(taskID)
	return nil
}

// --- CPU query ---

// NumCPUs implements the CPU/LAPIC query family's count half.
func (k *Kernel) NumCPUs() int {
	return k.Scheduler.NumCPUs()
}

// --- load-executable ---

// LoadExecutable implements load_executable: maps objID's pages into
// tableID starting at virtAddr with the given protection and starts
// taskID at entry (relative to virtAddr). The object's pages are mapped
// as-is: no ELF header is parsed and no segments are laid out.
func (k *Kernel) LoadExecutable(tableID, objID, taskID, virtAddr, entry uint64, prot memory.Protection) error {
	t, err := k.lookupTable(tableID)
	if err != nil {
		return err
	}
	obj, err := k.Objects.Get(objID)
	if err != nil {
		return err
	}
	if err := t.CreateRegion(memory.Region{
		Start:   virtAddr >> k.Desc.PageBits,
		End:     (virtAddr >> k.Desc.PageBits) + uint64(obj.Pages),
		Prot:    prot,
		Backing: memory.RegionBacking{Anonymous: false, ObjectID: objID},
		Owner:   taskID,
	}); err != nil {
		return err
	}
	owner, err := k.Scheduler.Lookup(taskID)
	if err != nil {
		return err
	}
	owner.SetPageTable(tableID)
	return k.StartTask(taskID, virtAddr+entry, 0, 0, 0)
}
