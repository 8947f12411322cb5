package task

import (
	"encoding/binary"
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
)

// EventKind names the state transition a Group broadcasts to its
// registered notifier ports, per spec.md §4.2.
type EventKind int

const (
	MemberAdded EventKind = iota
	MemberRemoved
	MemberTerminated
)

func (k EventKind) String() string {
	switch k {
	case MemberAdded:
		return "member-added"
	case MemberRemoved:
		return "member-removed"
	case MemberTerminated:
		return "member-terminated"
	default:
		return "unknown"
	}
}

// Notifier is called once per registered port with the affected task id
// and the event kind whenever a Group's membership changes. kernel/syscall.Kernel.CreateGroup wires this to
// kernel/port.Table.SendToPort via EncodeGroupNotifier's
// Kernel_Group_Notifier message; this package stays independent of
// kernel/port so the two can be tested in isolation.
type Notifier func(portID uint64, taskID uint64, kind EventKind)

// Group is a named collection of tasks used for namespace scoping and
// bulk notification, per spec.md §3. A task may belong to several groups;
// membership is explicit.
type Group struct {
	ID   uint64
	Name string

	mu        sync.Mutex
	members   map[uint64]*Task
	notifiers map[uint64]uint64 // port id -> notification mask
	notify    Notifier
}

// NewGroup creates an empty, named task group.
func NewGroup(id uint64, name string, notify Notifier) *Group {
	return &Group{
		ID:        id,
		Name:      name,
		members:   make(map[uint64]*Task),
		notifiers: make(map[uint64]uint64),
		notify:    notify,
	}
}

// Add admits t to the group, publishing MemberAdded to every registered
// notifier.
func (g *Group) Add(t *Task) {
	g.mu.Lock()
	g.members[t.ID] = t
	g.mu.Unlock()
	g.publish(t.ID, MemberAdded)
}

// Remove explicitly leaves the group (distinct from termination), per
// spec.md §3's "membership is explicit" invariant.
func (g *Group) Remove(taskID uint64) {
	g.mu.Lock()
	_, existed := g.members[taskID]
	delete(g.members, taskID)
	g.mu.Unlock()
	if existed {
		g.publish(taskID, MemberRemoved)
	}
}

// NotifyTermination is called once per group a terminating task belongs to
// (kernel/task.Scheduler.Terminate does the fan-out); it removes the
// member and publishes MemberTerminated rather than MemberRemoved so
// listeners can distinguish a graceful leave from a death.
func (g *Group) NotifyTermination(taskID uint64) {
	g.mu.Lock()
	_, existed := g.members[taskID]
	delete(g.members, taskID)
	g.mu.Unlock()
	if existed {
		g.publish(taskID, MemberTerminated)
	}
}

// RegisterNotifier arms portID to receive this group's membership events
// and stores mask alongside it. The mask is not consulted when publishing:
// every registered port receives every event kind.
func (g *Group) RegisterNotifier(portID, mask uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifiers[portID] = mask
}

// Members returns a stable snapshot of task ids currently in the group.
func (g *Group) Members() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint64, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	return out
}

func (g *Group) publish(taskID uint64, kind EventKind) {
	if g.notify == nil {
		return
	}
	g.mu.Lock()
	ports := make([]uint64, 0, len(g.notifiers))
	for p := range g.notifiers {
		ports = append(ports, p)
	}
	g.mu.Unlock()
	for _, p := range ports {
		g.notify(p, taskID, kind)
	}
}

// Registry is the global task-group namespace: group id allocation plus
// lookup by id, analogous to kernel/port.Table for ports.
type Registry struct {
	mu     sync.Mutex
	groups map[uint64]*Group
	nextID uint64
}

// NewRegistry returns an empty group registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[uint64]*Group)}
}

// Create allocates and registers a new named group.
func (r *Registry) Create(name string, notify Notifier) *Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	g := NewGroup(r.nextID, name, notify)
	r.groups[g.ID] = g
	return g
}

// EncodeGroupNotifier builds a Kernel_Group_Notifier message reporting
// taskID's transition under kind. kernel/syscall.Kernel.CreateGroup wires
// this into the Notifier it hands to Registry.Create, matching how kernel/interrupt and
// kernel/timer build their own kernel-originated payloads next to the
// subsystem that sends them.
func EncodeGroupNotifier(taskID uint64, kind EventKind) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ipc.GroupNotifier))
	binary.LittleEndian.PutUint64(buf[4:12], taskID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(kind))
	return buf
}

// DecodeGroupNotifier is the userland-shim-side counterpart.
func DecodeGroupNotifier(b []byte) (ipc.GroupNotifierPayload, error) {
	if len(b) < 16 {
		return ipc.GroupNotifierPayload{}, kerr.ErrFormat
	}
	return ipc.GroupNotifierPayload{
		Type:   ipc.Type(binary.LittleEndian.Uint32(b[0:4])),
		TaskID: binary.LittleEndian.Uint64(b[4:12]),
		Kind:   binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// Get looks up a group by id.
func (r *Registry) Get(id uint64) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotFound, "task group %d unknown", id)
	}
	return g, nil
}
