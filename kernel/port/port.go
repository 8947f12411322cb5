// Package port implements the kernel's capability-bearing IPC fabric:
// named ports, send-many/send-once rights, and the message queue that
// carries payload bytes and up to four attached rights per message,
// per spec.md §4.1. One spinlock per port protects its queue and notifier
// set, per spec.md §5; ordering of sends on a single port is the
// linearization order of that lock.
package port

import (
	"context"
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/internal/spinlock"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ids"
)

// Notifier is the thing a Port tells about port-closed drains and (via
// Table's task-group integration) group membership events: a destination
// port id plus the notification mask the owner registered for.
type Notifier struct {
	PortID uint64
	Mask   uint64
}

// Port is a kernel-owned mailbox keyed by a 64-bit id. Exactly one owner
// task at a time; messages are delivered to any reader in send order.
type Port struct {
	id    uint64
	mu    spinlock.Spinlock
	owner uint64 // weak: task id, 0 once orphaned

	queue   []*Message
	waiters []chan struct{} // closed, one at a time, to wake a blocked waiter

	notifiers map[uint64]uint64 // group id -> mask
	sendRefs  int               // outstanding rights (send-many counts once per right id, send-once counts per right id) that still name this port
	closed    bool
}

// ID returns the port's stable id.
func (p *Port) ID() uint64 { return p.id }

// Owner returns the current owning task id, or 0 if the port has been
// orphaned (owner terminated but the port itself is still draining).
func (p *Port) Owner() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner
}

// Table is the global registry of live ports and the named-port index.
// One instance exists per simulated boot.
type Table struct {
	ids *ids.Allocator

	mu    sync.Mutex
	ports map[uint64]*Port

	named namedIndex
}

// NewTable returns an empty port table.
func NewTable() *Table {
	return &Table{
		ids:   ids.New(),
		ports: make(map[uint64]*Port),
		named: newNamedIndex(),
	}
}

// CreatePort allocates a port owned by owner and returns the port id plus
// an initial send-many right to it, installed in ns.
func (t *Table) CreatePort(owner uint64, ns *Namespace) (portID, rightID uint64) {
	t.mu.Lock()
	p := &Port{
		id:        t.ids.Next(),
		owner:     owner,
		notifiers: make(map[uint64]uint64),
	}
	p.sendRefs = 1
	t.ports[p.id] = p
	t.mu.Unlock()

	rightID = ns.newRight(capability{portID: p.id, kind: SendMany})
	return p.id, rightID
}

// lookupPort returns the live port named by id, or a not-found error.
func (t *Table) lookupPort(id uint64) (*Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ports[id]
	if !ok {
		return nil, kerr.Wrap(kerr.ErrNotFound, "port %d unknown", id)
	}
	return p, nil
}

// CreateRight allocates an additional right to portID within ns. Fails
// with permission if caller is not the port's current owner.
func (t *Table) CreateRight(portID uint64, kind Kind, callerTaskID uint64, ns *Namespace) (uint64, error) {
	p, err := t.lookupPort(portID)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, kerr.ErrPortClosed
	}
	if p.owner != callerTaskID {
		p.mu.Unlock()
		return 0, kerr.ErrPermission
	}
	p.sendRefs++
	p.mu.Unlock()

	return ns.newRight(capability{portID: portID, kind: kind}), nil
}

// DeleteRight drops a reference to rightID; if it was the last outstanding
// reference to its port, the port is closed and drained.
func (t *Table) DeleteRight(rightID uint64, ns *Namespace) error {
	ns.mu.Lock()
	c, ok := ns.rights[rightID]
	if ok {
		delete(ns.rights, rightID)
	}
	ns.mu.Unlock()
	if !ok {
		return kerr.Wrap(kerr.ErrBadArgument, "right %d unknown", rightID)
	}
	t.dropRef(c.portID)
	return nil
}

// dropRef decrements a port's outstanding-rights count, closing and
// draining it when the count reaches zero (no owner reader, no live send
// right: spec.md §4.1's port-destruction invariant).
func (t *Table) dropRef(portID uint64) {
	p, err := t.lookupPort(portID)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.sendRefs--
	shouldClose := p.sendRefs <= 0 && !p.closed
	if shouldClose {
		p.closed = true
	}
	p.mu.Unlock()
	if shouldClose {
		t.closeAndDrain(p)
	}
}

// closeAndDrain marks p closed and wakes every blocked waiter so pending
// GetFirstMessage calls observe port-closed instead of hanging forever.
// Queued messages are dropped; per spec.md §4.1, draining "acknowledges"
// with port-closed, which in this implementation means any reply right a
// dropped message carried is itself orphaned rather than delivered,
// because its destination (this port) is gone.
func (t *Table) closeAndDrain(p *Port) {
	p.mu.Lock()
	p.closed = true
	queued := p.queue
	p.queue = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	log.L.WithField("port", p.id).WithField("dropped", len(queued)).Debug("port closed, draining queue")
	for _, w := range waiters {
		close(w)
	}

	t.mu.Lock()
	delete(t.ports, p.id)
	t.mu.Unlock()
	t.ids.Free(p.id)
}

// Orphan is called when a task terminates: every port it owns is released,
// its queue drained with port-closed acknowledgements (spec.md §4.2).
func (t *Table) Orphan(taskID uint64) {
	t.mu.Lock()
	owned := make([]*Port, 0)
	for _, p := range t.ports {
		p.mu.Lock()
		if p.owner == taskID {
			p.owner = 0
			owned = append(owned, p)
		}
		p.mu.Unlock()
	}
	t.mu.Unlock()

	for _, p := range owned {
		t.closeAndDrain(p)
	}
}

// Summary is a read-only view of one port, for internal/adminsvc's
// introspection queries.
type Summary struct {
	ID        uint64
	Owner     uint64
	QueueLen  int
	SendRefs  int
	Closed    bool
}

// List returns a summary of every live port in the table, in no
// particular order.
func (t *Table) List() []Summary {
	t.mu.Lock()
	ports := make([]*Port, 0, len(t.ports))
	for _, p := range t.ports {
		ports = append(ports, p)
	}
	t.mu.Unlock()

	out := make([]Summary, 0, len(ports))
	for _, p := range ports {
		p.mu.Lock()
		out = append(out, Summary{
			ID:       p.id,
			Owner:    p.owner,
			QueueLen: len(p.queue),
			SendRefs: p.sendRefs,
			Closed:   p.closed,
		})
		p.mu.Unlock()
	}
	return out
}

// Send enqueues a message to the port rightID refers to, on behalf of the
// kernel itself (sender id 0). Most callers are tasks and should use
// SendFrom instead.
func (t *Table) Send(ns *Namespace, rightID uint64, payload []byte, attachedRightIDs []uint64) error {
	return t.SendFrom(0, ns, rightID, payload, attachedRightIDs)
}

// SendFrom enqueues a message to the port rightID refers to, stamping
// sender as its origin task id. The payload is copied into a fresh
// buffer; up to four attachedRightIDs are removed from ns and transferred
// into the message atomically with the payload. A SendOnce rightID
// self-deletes on a successful send; a SendMany rightID remains valid for
// reuse.
func (t *Table) SendFrom(sender uint64, ns *Namespace, rightID uint64, payload []byte, attachedRightIDs []uint64) error {
	if len(attachedRightIDs) > maxAttached {
		return kerr.Wrap(kerr.ErrBadArgument, "too many attached rights: %d", len(attachedRightIDs))
	}
	c, err := ns.lookup(rightID)
	if err != nil {
		return err
	}
	p, err := t.lookupPort(c.portID)
	if err != nil {
		return err
	}

	// Validate and snapshot attached capabilities before mutating
	// anything, so a failure below leaves both ns and the port untouched
	// (spec.md §4.1's atomic-failure guarantee).
	attached := make([]capability, 0, len(attachedRightIDs))
	ns.mu.Lock()
	for _, rid := range attachedRightIDs {
		ac, ok := ns.rights[rid]
		if !ok {
			ns.mu.Unlock()
			return kerr.Wrap(kerr.ErrBadArgument, "attached right %d unknown", rid)
		}
		attached = append(attached, ac)
	}
	ns.mu.Unlock()

	payloadCopy := append([]byte(nil), payload...)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kerr.ErrPortClosed
	}
	msg := &Message{
		Sender:   sender,
		RightID:  rightID,
		Payload:  payloadCopy,
		attached: attached,
	}
	p.queue = append(p.queue, msg)
	var wake chan struct{}
	if len(p.waiters) > 0 {
		wake = p.waiters[0]
		p.waiters = p.waiters[1:]
	}
	p.mu.Unlock()
	if wake != nil {
		close(wake)
	}

	// Commit: remove attached rights from the sender's namespace and, for
	// a send-once invoking right, consume it too. This happens only after
	// the enqueue succeeded, keeping rights transfer atomic with delivery.
	ns.mu.Lock()
	for _, rid := range attachedRightIDs {
		delete(ns.rights, rid)
	}
	if c.kind == SendOnce {
		delete(ns.rights, rightID)
	}
	ns.mu.Unlock()

	return nil
}

// SendToPort delivers a kernel-originated message (sender id 0, right id
// 0) directly to portID, bypassing rights lookup. This is how the kernel
// itself notifies a port it already holds a resolved reference to —
// timer replies, interrupt delivery, and task-group notifications all use
// this instead of spending a right, since the kernel is not a namespace
// participant.
func (t *Table) SendToPort(portID uint64, payload []byte) error {
	p, err := t.lookupPort(portID)
	if err != nil {
		return err
	}
	payloadCopy := append([]byte(nil), payload...)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kerr.ErrPortClosed
	}
	p.queue = append(p.queue, &Message{Payload: payloadCopy})
	var wake chan struct{}
	if len(p.waiters) > 0 {
		wake = p.waiters[0]
		p.waiters = p.waiters[1:]
	}
	p.mu.Unlock()
	if wake != nil {
		close(wake)
	}
	return nil
}

// GetMessageInfo peeks at the head message without dequeuing it. If wait
// is true and the queue is empty, it blocks until a message arrives or ctx
// is cancelled.
func (t *Table) GetMessageInfo(ctx context.Context, portID uint64, wait bool) (Info, error) {
	p, err := t.lookupPort(portID)
	if err != nil {
		return Info{}, err
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Info{}, kerr.ErrPortClosed
		}
		if len(p.queue) > 0 {
			m := p.queue[0]
			info := Info{SenderID: m.Sender, RightID: m.RightID, Size: len(m.Payload), AttachedCount: len(m.attached)}
			p.mu.Unlock()
			return info, nil
		}
		if !wait {
			p.mu.Unlock()
			return Info{}, kerr.ErrNoMessages
		}
		ch := make(chan struct{})
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Info{}, kerr.ErrInterrupted
		}
	}
}

// GetFirstMessage dequeues the head message, copying up to len(buf) bytes
// into buf (returning the actual payload size), and — unless reject is
// true — auto-accepts the first attached right (conventionally the reply
// right) into ns, returning its freshly allocated id. Any remaining
// attached rights become claimable via ns.AcceptRights.
func (t *Table) GetFirstMessage(ctx context.Context, portID uint64, ns *Namespace, buf []byte, wait, reject bool) (n int, senderID uint64, replyRight uint64, haveReply bool, err error) {
	p, err := t.lookupPort(portID)
	if err != nil {
		return 0, 0, 0, false, err
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, 0, 0, false, kerr.ErrPortClosed
		}
		if len(p.queue) > 0 {
			m := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			n = copy(buf, m.Payload)

			if reject || len(m.attached) == 0 {
				ns.setPending(m.attached)
				return n, m.Sender, 0, false, nil
			}
			installed := ns.installAttached(m.attached[:1])
			ns.setPending(m.attached[1:])
			return n, m.Sender, installed[0], true, nil
		}
		if !wait {
			p.mu.Unlock()
			return 0, 0, 0, false, kerr.ErrNoMessages
		}
		ch := make(chan struct{})
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, 0, 0, false, kerr.ErrInterrupted
		}
	}
}
