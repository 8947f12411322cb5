package boot

import (
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"

	"github.com/ThatMishakov/pmOS-sub004/kernel/frame"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
	"github.com/ThatMishakov/pmOS-sub004/kernel/task"
	"github.com/ThatMishakov/pmOS-sub004/kernel/timer"
)

// Plugin types for the subsystem dependency graph, one per [MODULE] this
// kernel wires at boot. Requires chains below encode the same ordering the
// teacher expresses for its own services (content/snapshot/events before
// metadata, metadata before the GC scheduler, and so on): frame allocator
// first, then the memory map, then ports, then the pieces that send
// through a port (interrupts, timers), then the scheduler, which picks the
// least-loaded CPU off the interrupt dispatcher's load, and finally the
// syscall surface that aggregates everything else.
const (
	FrameAllocatorPlugin plugin.Type = "io.pmos.kernel.frame"
	MemoryPlugin         plugin.Type = "io.pmos.kernel.memory"
	PortPlugin           plugin.Type = "io.pmos.kernel.port"
	InterruptPlugin      plugin.Type = "io.pmos.kernel.interrupt"
	SchedulerPlugin      plugin.Type = "io.pmos.kernel.scheduler"
	TimerPlugin          plugin.Type = "io.pmos.kernel.timer"
	SyscallPlugin        plugin.Type = "io.pmos.kernel.syscall"
)

// FrameConfig configures the frame-allocator plugin.
type FrameConfig struct {
	TotalPages int
	NCPUs      int
}

// InterruptConfig configures the interrupt-dispatcher plugin; Hooks selects
// the arch (x86 LAPIC/IOAPIC, RISC-V PLIC, LoongArch EIO/LIO-PIC).
type InterruptConfig struct {
	NCPUs int
	Hooks interrupt.Hooks
}

// SchedulerConfig configures the scheduler plugin.
type SchedulerConfig struct {
	NCPUs int
}

// TimerConfig configures the timer-manager plugin.
type TimerConfig struct {
	NCPUs int
}

// SyscallConfig configures the final syscall-surface plugin.
type SyscallConfig struct {
	Desc arch.Descriptor
}

// memorySubsystem is the instance the memory plugin hands back: the
// object registry and the shootdown coordinator are inseparable at boot
// time (both need the same frame allocator), but callers downstream want
// them as two distinct handles.
type memorySubsystem struct {
	Objects   *memory.Registry
	Shootdown *memory.Shootdown
}

// schedulerSubsystem is the instance the scheduler plugin hands back.
type schedulerSubsystem struct {
	Groups    *task.Registry
	Scheduler *task.Scheduler
}

func init() {
	registry.Register(&plugin.Registration{
		Type: FrameAllocatorPlugin,
		ID:   "allocator",
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			cfg := ic.Config.(*FrameConfig)
			return frame.New(cfg.TotalPages, cfg.NCPUs), nil
		},
	})

	registry.Register(&plugin.Registration{
		Type:     MemoryPlugin,
		ID:       "registry",
		Requires: []plugin.Type{FrameAllocatorPlugin},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			fa, err := ic.GetSingle(FrameAllocatorPlugin)
			if err != nil {
				return nil, err
			}
			frames := fa.(*frame.Allocator)
			cfg := ic.Config.(*FrameConfig)
			return &memorySubsystem{
				Objects:   memory.NewRegistry(frames),
				Shootdown: memory.NewShootdown(cfg.NCPUs),
			}, nil
		},
	})

	registry.Register(&plugin.Registration{
		Type: PortPlugin,
		ID:   "table",
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			return port.NewTable(), nil
		},
	})

	registry.Register(&plugin.Registration{
		Type:     InterruptPlugin,
		ID:       "dispatcher",
		Requires: []plugin.Type{PortPlugin},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			p, err := ic.GetSingle(PortPlugin)
			if err != nil {
				return nil, err
			}
			cfg := ic.Config.(*InterruptConfig)
			return interrupt.NewDispatcher(cfg.NCPUs, cfg.Hooks, p.(*port.Table)), nil
		},
	})

	registry.Register(&plugin.Registration{
		Type:     SchedulerPlugin,
		ID:       "scheduler",
		Requires: []plugin.Type{InterruptPlugin},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			in, err := ic.GetSingle(InterruptPlugin)
			if err != nil {
				return nil, err
			}
			disp := in.(*interrupt.Dispatcher)
			cfg := ic.Config.(*SchedulerConfig)
			groups := task.NewRegistry()
			return &schedulerSubsystem{
				Groups:    groups,
				Scheduler: task.NewScheduler(cfg.NCPUs, disp.Load, groups),
			}, nil
		},
	})

	registry.Register(&plugin.Registration{
		Type:     TimerPlugin,
		ID:       "manager",
		Requires: []plugin.Type{PortPlugin},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			p, err := ic.GetSingle(PortPlugin)
			if err != nil {
				return nil, err
			}
			cfg := ic.Config.(*TimerConfig)
			return timer.NewManager(cfg.NCPUs, p.(*port.Table)), nil
		},
	})

	registry.Register(&plugin.Registration{
		Type: SyscallPlugin,
		ID:   "kernel",
		Requires: []plugin.Type{
			FrameAllocatorPlugin, MemoryPlugin, PortPlugin,
			InterruptPlugin, SchedulerPlugin, TimerPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			fa, err := ic.GetSingle(FrameAllocatorPlugin)
			if err != nil {
				return nil, err
			}
			mm, err := ic.GetSingle(MemoryPlugin)
			if err != nil {
				return nil, err
			}
			p, err := ic.GetSingle(PortPlugin)
			if err != nil {
				return nil, err
			}
			in, err := ic.GetSingle(InterruptPlugin)
			if err != nil {
				return nil, err
			}
			sc, err := ic.GetSingle(SchedulerPlugin)
			if err != nil {
				return nil, err
			}
			tm, err := ic.GetSingle(TimerPlugin)
			if err != nil {
				return nil, err
			}
			mem := mm.(*memorySubsystem)
			sched := sc.(*schedulerSubsystem)
			cfg := ic.Config.(*SyscallConfig)
			return syscall.NewKernel(
				sched.Scheduler, sched.Groups, p.(*port.Table), mem.Objects,
				fa.(*frame.Allocator), tm.(*timer.Manager), in.(*interrupt.Dispatcher),
				mem.Shootdown, cfg.Desc,
			), nil
		},
	})
}
