// Package boot implements early boot / CPU bring-up (spec.md §6, §10):
// parsing the simulated bootloader hand-off tag chain and sequencing
// subsystem construction through containerd/plugin's registration graph,
// the same Requires-ordered InitFn pattern containerd uses to bring up
// content/snapshot/metadata/services before the gRPC server starts. Once
// every subsystem exists, Boot starts one goroutine per simulated CPU
// running kernel/task's scheduler loop, each also draining its
// kernel/memory.Shootdown queue and reschedule IPI channel.
package boot

import (
	"context"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/google/uuid"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory/arch"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
)

// Config is the set of knobs a real kernel would read off the hand-off
// chain or a build-time arch select; here it is supplied by cmd/pmoskernel.
type Config struct {
	NCPUs       int
	TotalPages  int
	Arch        arch.Descriptor
	Hooks       interrupt.Hooks
	QuantumTick time.Duration // scheduler preemption tick; zero picks a default
}

// Kernel is everything Boot hands back: the dispatchable syscall surface
// plus the handle needed to shut the simulated machine down cleanly.
type Kernel struct {
	Syscall   *syscall.Kernel
	SessionID uuid.UUID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Shutdown stops every per-CPU loop and the timer manager's pop loops,
// waiting for them to exit.
func (k *Kernel) Shutdown() {
	k.cancel()
	k.Syscall.Timers.Stop()
	k.wg.Wait()
}

const defaultQuantumTick = 2 * time.Millisecond

// Boot brings up a simulated machine per cfg: it resolves the subsystem
// dependency graph registered in this package's init(), builds every
// plugin's instance in Requires order, and starts cfg.NCPUs scheduler-loop
// goroutines plus the timer manager's pop loops.
func Boot(ctx context.Context, cfg Config) (*Kernel, error) {
	sessionID := uuid.New()
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("boot-session", sessionID.String()))

	k, err := loadPlugins(ctx, cfg)
	if err != nil {
		return nil, kerr.Wrap(kerr.ErrBadArgument, "boot: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	out := &Kernel{Syscall: k, SessionID: sessionID, cancel: cancel}

	k.Timers.Run()

	tick := cfg.QuantumTick
	if tick <= 0 {
		tick = defaultQuantumTick
	}
	for cpu := 0; cpu < cfg.NCPUs; cpu++ {
		out.wg.Add(1)
		go func(cpu int) {
			defer out.wg.Done()
			runCPU(runCtx, cpu, k, tick)
		}(cpu)
	}

	log.G(ctx).WithField("ncpus", cfg.NCPUs).WithField("arch", cfg.Arch.Name).Info("boot complete")
	return out, nil
}

// loadPlugins walks registry.Graph's Requires-ordered registration list
// and runs each InitFn, handing it the typed Config struct this package's
// plugins.go registrations expect. The syscall plugin's instance is the
// whole point: everything before it exists only to be wired into it.
func loadPlugins(ctx context.Context, cfg Config) (*syscall.Kernel, error) {
	set := plugin.NewPluginSet()
	var kernelInstance interface{}
	for _, reg := range registry.Graph(func(*plugin.Registration) bool { return true }) {
		reg := reg
		ic := plugin.NewContext(ctx, set, map[string]string{})
		ic.Config = configFor(reg.Type, cfg)
		p := plugin.NewPlugin(&reg, ic, ic.Config)
		if err := set.Add(p); err != nil {
			return nil, err
		}
		inst, err := p.Instance()
		if err != nil {
			return nil, kerr.Wrap(kerr.ErrBadArgument, "plugin %s/%s: %v", reg.Type, reg.ID, err)
		}
		if reg.Type == SyscallPlugin {
			kernelInstance = inst
		}
	}
	if kernelInstance == nil {
		return nil, kerr.Wrap(kerr.ErrNotFound, "boot: syscall plugin never registered")
	}
	return kernelInstance.(*syscall.Kernel), nil
}

func configFor(t plugin.Type, cfg Config) interface{} {
	switch t {
	case FrameAllocatorPlugin:
		return &FrameConfig{TotalPages: cfg.TotalPages, NCPUs: cfg.NCPUs}
	case MemoryPlugin:
		return &FrameConfig{TotalPages: cfg.TotalPages, NCPUs: cfg.NCPUs}
	case InterruptPlugin:
		return &InterruptConfig{NCPUs: cfg.NCPUs, Hooks: cfg.Hooks}
	case SchedulerPlugin:
		return &SchedulerConfig{NCPUs: cfg.NCPUs}
	case TimerPlugin:
		return &TimerConfig{NCPUs: cfg.NCPUs}
	case SyscallPlugin:
		return &SyscallConfig{Desc: cfg.Arch}
	default:
		return nil
	}
}

// quantumBudget is how many ticks a task runs before SchedPeriodic
// preempts it back onto its run queue; spec.md leaves the actual number
// arch/policy-defined, so a fixed budget stands in for whatever the real
// scheduler's priority-band quantum table would say.
const quantumBudget = 5

// runCPU is one simulated CPU's scheduler loop: pick the next runnable
// task, "run" it until its quantum expires or a shootdown/reschedule event
// arrives, and repeat. There being no real user-mode execution to run in
// this simulation, a picked task simply occupies the CPU for one tick at a
// time; the loop's real job is servicing the two cross-CPU event sources
// spec.md calls out — TLB shootdown acks and the reschedule IPI — promptly
// enough that neither scenario in §8 stalls.
func runCPU(ctx context.Context, cpu int, k *syscall.Kernel, tick time.Duration) {
	logger := log.G(ctx).WithField("cpu", cpu)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	budget := quantumBudget
	for {
		if k.Scheduler.PickNext(cpu) == nil {
			select {
			case <-ctx.Done():
				return
			case req := <-k.Shootdown.Listen(cpu):
				req.Done <- struct{}{}
			case <-k.Scheduler.IPI(cpu):
			case <-ticker.C:
			}
			continue
		}
		budget = quantumBudget

		for {
			select {
			case <-ctx.Done():
				return
			case req := <-k.Shootdown.Listen(cpu):
				req.Done <- struct{}{}
				continue
			case <-k.Scheduler.IPI(cpu):
				continue
			case <-ticker.C:
			}
			if preempt := k.Scheduler.SchedPeriodic(cpu, &budget); preempt {
				logger.Debug("quantum exhausted, rescheduling")
				break
			}
		}
	}
}
