package port

import (
	"context"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/internal/spinlock"
)

// namedIndex binds human-readable paths to ports. Protected by its own
// spinlock per spec.md §5 ("one per named-port namespace"). A lookup for
// an as-yet-unpublished name parks the caller in a waiter list rather than
// failing, matching spec.md §4.1 and the scenario in §8.1.
type namedIndex struct {
	mu      spinlock.Spinlock
	entries map[string]uint64 // name -> port id
	waiters map[string][]chan uint64
}

func newNamedIndex() namedIndex {
	return namedIndex{
		entries: make(map[string]uint64),
		waiters: make(map[string][]chan uint64),
	}
}

// NamePort binds name to the port rightID refers to. A right (rather than
// a bare port id) is required so the caller must actually hold a
// capability to publish under that name.
func (t *Table) NamePort(ns *Namespace, rightID uint64, name string) error {
	c, err := ns.lookup(rightID)
	if err != nil {
		return err
	}
	if _, err := t.lookupPort(c.portID); err != nil {
		return err
	}

	t.named.mu.Lock()
	if _, exists := t.named.entries[name]; exists {
		t.named.mu.Unlock()
		return kerr.Wrap(kerr.ErrExists, "name %q already published", name)
	}
	t.named.entries[name] = c.portID
	waiting := t.named.waiters[name]
	delete(t.named.waiters, name)
	t.named.mu.Unlock()

	log.L.WithField("name", name).WithField("port", c.portID).Debug("named port published")
	for _, w := range waiting {
		w <- c.portID
		close(w)
	}
	return nil
}

// GetRightByName resolves name to a freshly allocated send-many right in
// ns. If name is not yet published, the call blocks (per spec.md §4.1 and
// §5) until NamePort publishes it or ctx is cancelled; internally this is
// the Kernel_Named_Port_Notification handshake of spec.md §6, collapsed
// here into a single blocking call since no other kernel entry point needs
// to observe the intermediate state.
func (t *Table) GetRightByName(ctx context.Context, ns *Namespace, name string) (uint64, error) {
	t.named.mu.Lock()
	if portID, ok := t.named.entries[name]; ok {
		t.named.mu.Unlock()
		return ns.newRight(capability{portID: portID, kind: SendMany}), nil
	}
	ch := make(chan uint64, 1)
	t.named.waiters[name] = append(t.named.waiters[name], ch)
	t.named.mu.Unlock()

	select {
	case portID := <-ch:
		return ns.newRight(capability{portID: portID, kind: SendMany}), nil
	case <-ctx.Done():
		return 0, kerr.ErrInterrupted
	}
}
