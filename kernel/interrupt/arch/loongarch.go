package arch

import (
	"sync"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
)

// loongArchExtVectors/loongArchLegacyVectors are the EIO-PIC (extended,
// 256 lines) and LIO-PIC (legacy, 32 lines) vector counts.
const (
	loongArchExtVectors    = 256
	loongArchLegacyVectors = 32
)

// LoongArch models the two-tier EIO-PIC/LIO-PIC controller: legacy GSIs
// (<32) route through LIO-PIC, the rest through EIO-PIC, each with its
// own vector space.
type LoongArch struct {
	mu       sync.Mutex
	nextExt  uint32
	nextLio  uint32
}

func NewLoongArch() *LoongArch { return &LoongArch{nextExt: loongArchLegacyVectors} }

func (l *LoongArch) Enable(cpu int, vector uint32) error {
	if vector >= loongArchExtVectors {
		return kerr.Wrap(kerr.ErrBadArgument, "vector %d outside EIO-PIC range", vector)
	}
	controller := "eiointc"
	if vector < loongArchLegacyVectors {
		controller = "liointc"
	}
	log.L.WithField("cpu", cpu).WithField("vector", vector).WithField("controller", controller).Debug("interrupt_enable")
	return nil
}

func (l *LoongArch) Complete(cpu int, vector uint32) error {
	log.L.WithField("cpu", cpu).WithField("vector", vector).Debug("eiointc/liointc: ack")
	return nil
}

func (l *LoongArch) AllocateVector(cpu int, gsi uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gsi < loongArchLegacyVectors {
		v := l.nextLio
		l.nextLio = (l.nextLio + 1) % loongArchLegacyVectors
		return v, nil
	}
	v := l.nextExt
	l.nextExt++
	if l.nextExt >= loongArchExtVectors {
		l.nextExt = loongArchLegacyVectors
	}
	return v, nil
}
