package arch

import (
	"github.com/containerd/log"
)

// RISCV models the PLIC, where a GSI number is already the vector: no
// remapping, just priority/enable-bit bookkeeping the simulation logs
// instead of writing to real PLIC MMIO.
type RISCV struct{}

func NewRISCV() *RISCV { return &RISCV{} }

func (RISCV) Enable(cpu int, vector uint32) error {
	log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("plic: enable bit set")
	return nil
}

func (RISCV) Complete(cpu int, vector uint32) error {
	log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("plic: claim/complete")
	return nil
}

// AllocateVector returns gsi unchanged: PLIC interrupt ids are the vector.
func (RISCV) AllocateVector(cpu int, gsi uint32) (uint32, error) {
	return gsi, nil
}
