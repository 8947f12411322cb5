package port

import (
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ids"
)

// Kind distinguishes a send-many right (duplicable, reusable) from a
// send-once right (single use, auto-deleted on a successful send),
// per spec.md §3.
type Kind int

const (
	SendMany Kind = iota
	SendOnce
)

func (k Kind) String() string {
	if k == SendOnce {
		return "send-once"
	}
	return "send-many"
}

// capability is what a right actually refers to: a port and the kind of
// use it grants. Rights that name the same port but different kinds are
// distinct capabilities; a namespace may hold many rights to one port.
type capability struct {
	portID uint64
	kind   Kind
}

// Namespace is a rights namespace: a flat set of right ids, unique only
// within this namespace, per spec.md §3's "Right namespace" glossary
// entry. In practice a namespace is owned by one task-group (the kernel's
// rights-namespace role), but this package does not depend on
// kernel/task — callers pass whatever namespace their task-group resolved
// to.
type Namespace struct {
	mu       sync.Mutex
	ids      *ids.Allocator
	rights   map[uint64]capability
	pending  []pendingCap // leftover attached rights from the last GetFirstMessage, awaiting AcceptRights
}

type pendingCap struct {
	cap capability
}

// NewNamespace returns an empty rights namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		ids:    ids.New(),
		rights: make(map[uint64]capability),
	}
}

// newRight allocates a right id bound to cap within ns. Callers must hold
// the namespace or port invariants that make installing this right valid
// (e.g. the port exists); newRight itself cannot fail.
func (ns *Namespace) newRight(cap capability) uint64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	id := ns.ids.Next()
	ns.rights[id] = cap
	return id
}

// lookup returns the capability named by rightID, or an error if the right
// does not exist (never existed, was deleted, or was already consumed by a
// send-once send).
func (ns *Namespace) lookup(rightID uint64) (capability, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	c, ok := ns.rights[rightID]
	if !ok {
		return capability{}, kerr.Wrap(kerr.ErrNotFound, "right %d unknown in namespace", rightID)
	}
	return c, nil
}

// consume removes rightID from ns unconditionally (used by
// Namespace.DeleteRight; Table.SendFrom and Table.DeleteRight delete from
// ns.rights directly).
func (ns *Namespace) consume(rightID uint64) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.rights, rightID)
}

// DeleteRight drops one reference on rightID. Per spec.md §4.1, send-once
// rights are auto-deleted on a successful send, so an explicit delete here
// is mainly for send-many rights and for reply rights the caller decided
// not to use.
func (ns *Namespace) DeleteRight(rightID uint64) error {
	if _, err := ns.lookup(rightID); err != nil {
		return err
	}
	ns.consume(rightID)
	return nil
}

// installAttached installs up to four capabilities as freshly allocated
// rights in ns, returning their ids in order. Used on message delivery to
// transfer attached rights into the receiver's namespace.
func (ns *Namespace) installAttached(caps []capability) []uint64 {
	out := make([]uint64, len(caps))
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i, c := range caps {
		id := ns.ids.Next()
		ns.rights[id] = c
		out[i] = id
	}
	return out
}

// setPending records the attached capabilities left over after a
// GetFirstMessage call that did not accept them all, for a later
// AcceptRights. Replaces whatever was previously pending: only the most
// recently dequeued message's leftovers are claimable, matching a single
// task processing one message at a time.
func (ns *Namespace) setPending(caps []capability) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.pending = ns.pending[:0]
	for _, c := range caps {
		ns.pending = append(ns.pending, pendingCap{cap: c})
	}
}

// AcceptRights installs every currently pending attached right into ns,
// atomically: either all of them install and their ids are returned, or
// (if nothing is pending) it fails bad-argument and nothing changes. This
// resolves spec.md §9's open question on an undersized accept buffer in
// favor of all-or-nothing.
func (ns *Namespace) AcceptRights() ([]uint64, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if len(ns.pending) == 0 {
		return nil, kerr.Wrap(kerr.ErrBadArgument, "no pending rights to accept")
	}
	out := make([]uint64, len(ns.pending))
	for i, p := range ns.pending {
		id := ns.ids.Next()
		ns.rights[id] = p.cap
		out[i] = id
	}
	ns.pending = nil
	return out, nil
}
