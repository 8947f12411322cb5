package memory

import "github.com/ThatMishakov/pmOS-sub004/internal/kerr"

// Protection is the read/write/execute triple spec.md §3 attaches to a
// Region.
type Protection struct {
	Read, Write, Execute bool
}

// RegionBacking names what a Region's virtual range is backed by: either
// an explicit memory object at a page offset, or Anonymous (demand-zero,
// COW-on-clone), per spec.md §3/§4.4.
type RegionBacking struct {
	Anonymous bool
	ObjectID  uint64 // valid when !Anonymous
	Offset    int    // page offset into the object
}

// Region is a half-open virtual range [Start, End) within one page table,
// per spec.md §3. Start/End are page numbers, not byte addresses, to keep
// the overlap arithmetic exact regardless of arch page size.
type Region struct {
	Start, End uint64
	Prot       Protection
	Backing    RegionBacking
	Owner      uint64 // owning task id
}

func (r Region) overlaps(o Region) bool {
	return r.Start < o.End && o.Start < r.End
}

// regionSet is the non-overlapping region map a Table carries alongside
// its translation structures.
type regionSet struct {
	regions []Region
}

// create inserts a new region, rejecting it if it overlaps an existing
// one (spec.md §4.4/§8: "the union of its regions is non-overlapping").
func (rs *regionSet) create(r Region) error {
	for _, existing := range rs.regions {
		if existing.overlaps(r) {
			return kerr.Wrap(kerr.ErrExists, "region [%d,%d) overlaps existing [%d,%d)", r.Start, r.End, existing.Start, existing.End)
		}
	}
	rs.regions = append(rs.regions, r)
	return nil
}

// find returns the region containing page pg, if any.
func (rs *regionSet) find(pg uint64) (Region, bool) {
	for _, r := range rs.regions {
		if pg >= r.Start && pg < r.End {
			return r, true
		}
	}
	return Region{}, false
}

// delete removes the region starting at start.
func (rs *regionSet) delete(start uint64) error {
	for i, r := range rs.regions {
		if r.Start == start {
			rs.regions = append(rs.regions[:i], rs.regions[i+1:]...)
			return nil
		}
	}
	return kerr.Wrap(kerr.ErrNotFound, "no region starting at page %d", start)
}

// all returns a snapshot of every region currently mapped, used by Clone.
func (rs *regionSet) all() []Region {
	return append([]Region(nil), rs.regions...)
}
