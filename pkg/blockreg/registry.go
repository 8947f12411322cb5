// Package blockreg is blockd's registration bookkeeping: the
// Disk_Register/_Reply protocol's server side (SPEC_FULL.md's pkg/blockreg
// module), supplementing the distilled spec from original_source's
// blockd/main.cc and ahcid/ata.cc. A real blockd reads a disk's geometry
// from ahcid's ATA IDENTIFY response and advertises it here; this package
// only keeps the registry and serves the wire
// protocol, since blockd itself is an external collaborator (spec.md §2)
// and the message kinds are what's core.
package blockreg

import (
	"sync"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// Disk is one registered backing store: its id and geometry only. No
// partition information is stored, and blockreg does not parse MBR/GPT.
type Disk struct {
	DiskID     uint64
	SizeBlocks uint64
	BlockSize  uint32
}

// Registry is the set of disks registered so far, keyed by disk id.
type Registry struct {
	mu    sync.Mutex
	disks map[uint64]Disk
}

// NewRegistry returns an empty disk registry.
func NewRegistry() *Registry {
	return &Registry{disks: make(map[uint64]Disk)}
}

// Register records disk, rejecting a second registration under the same
// disk id (re-registration after a real unplug/replug is out of scope —
// blockd would allocate a fresh id for the replacement device).
func (r *Registry) Register(d Disk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.disks[d.DiskID]; exists {
		return kerr.Wrap(kerr.ErrExists, "disk %d already registered", d.DiskID)
	}
	r.disks[d.DiskID] = d
	return nil
}

// Lookup returns the registered disk by id.
func (r *Registry) Lookup(diskID uint64) (Disk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disks[diskID]
	if !ok {
		return Disk{}, kerr.ErrNotFound
	}
	return d, nil
}

// List returns every registered disk, in no particular order.
func (r *Registry) List() []Disk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Disk, 0, len(r.disks))
	for _, d := range r.disks {
		out = append(out, d)
	}
	return out
}
