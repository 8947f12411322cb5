// Package arch catalogues the per-architecture page-table shapes spec.md
// §2/§4.4 enumerates. Each Descriptor is a small, closed set of facts
// about one arch/mode combination — page size, level count, and whether
// the kernel has a fixed direct map (which lets the temp-mapper be pure
// arithmetic instead of a per-CPU slot pool, per spec.md §4.4). The actual
// mapping engine lives in kernel/memory and is shared across all of them
// (spec.md §9's "enum of structs" resolution of the source's deep
// Page_Table inheritance), so this package holds data, not behavior.
package arch

// Descriptor describes one arch/mode's page-table shape.
type Descriptor struct {
	Name         string
	PageBits     uint // log2(page size)
	Levels       int
	HasDirectMap bool // true => temp mapper is pure arithmetic
	TempMapSlots int  // used only when !HasDirectMap
}

var (
	AMD64Level4 = Descriptor{Name: "amd64-4level", PageBits: 12, Levels: 4, HasDirectMap: true}
	AMD64Level5 = Descriptor{Name: "amd64-5level", PageBits: 12, Levels: 5, HasDirectMap: true}
	I686        = Descriptor{Name: "i686", PageBits: 12, Levels: 2, HasDirectMap: false, TempMapSlots: 16}
	I686PAE     = Descriptor{Name: "i686-pae", PageBits: 12, Levels: 3, HasDirectMap: false, TempMapSlots: 16}
	RISCVSv39   = Descriptor{Name: "riscv-sv39", PageBits: 12, Levels: 3, HasDirectMap: true}
	RISCVSv48   = Descriptor{Name: "riscv-sv48", PageBits: 12, Levels: 4, HasDirectMap: true}
	LoongArch   = Descriptor{Name: "loongarch64", PageBits: 12, Levels: 4, HasDirectMap: true}
	ARM64       = Descriptor{Name: "arm64", PageBits: 12, Levels: 4, HasDirectMap: true}
)

// PageSize returns the descriptor's page size in bytes.
func (d Descriptor) PageSize() uint64 { return 1 << d.PageBits }
