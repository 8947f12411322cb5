package syscall

import (
	"context"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/memory"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
)

// Regs is the arch-neutral register file Dispatch reads its arguments from
// and writes its result pair into, per spec.md §4.6. Callers fill Regs
// directly; kernel/boot has no trap path into Dispatch. Name/Payload/Rights
// carry the handful of syscalls whose true argument is a userspace
// pointer+length pair rather than a register value, since this package has
// no notion of userspace memory itself. kill and exit read their group ids
// from Rights.
type Regs struct {
	Num  uint32
	Arg  [6]uint64
	CPU  int
	Task uint64 // id of the task that trapped into the kernel

	Name    string
	Payload []byte
	Rights  []uint64
}

// Syscall numbers. One per §4.6 category; grouped the way the category
// list in spec.md orders them, not by any wire-compatibility requirement
// (this repository does not need to match the original's numeric values).
const (
	SysCreateTask uint32 = iota
	SysStartTask
	SysPauseTask
	SysResumeTask
	SysKillTask
	SysExit
	SysYield
	SysSetName
	SysSetAffinity
	SysSetPriority

	SysCreateTable
	SysDeleteTable
	SysCloneTable
	SysCreateRegion
	SysDeleteRegion
	SysCreateAnonymousObject
	SysCreatePhysMapObject

	SysCreatePort
	SysCreateRight
	SysDeleteRight
	SysNamePort
	SysGetRightByName
	SysSend
	SysGetMessageInfo
	SysGetFirstMessage
	SysAcceptRights

	SysRegisterInterrupt
	SysCompleteInterrupt
	SysAllocateInterrupt

	SysRequestTimer
	SysGetTime

	SysCreateGroup
	SysAddToGroup
	SysRemoveFromGroup
	SysRegisterGroupNotifier

	SysNumCPUs
	SysLoadExecutable
)

// Dispatch is the trap-entry adapter: it decodes regs, calls the matching
// Kernel method, and encodes the result as (result, value), with result
// 0 on success and a negated POSIX errno otherwise (spec.md §4.6). Three
// calls put a non-negative value in the result word on success instead of
// 0: create_port (the port id; value is the right id), get_first_message
// (bytes copied) and allocate_interrupt (the CPU index).
func (k *Kernel) Dispatch(ctx context.Context, regs Regs) (result, value int64) {
	switch regs.Num {
	case SysCreateTask:
		id := k.CreateTask(int(regs.Arg[0]), int(regs.Arg[1]))
		return 0, int64(id)

	case SysStartTask:
		err := k.StartTask(regs.Arg[0], regs.Arg[1], regs.Arg[2], regs.Arg[3], regs.Arg[4])
		return errResult(err), 0

	case SysPauseTask:
		return errResult(k.PauseTask(regs.Arg[0])), 0

	case SysResumeTask:
		return errResult(k.ResumeTask(regs.Arg[0])), 0

	case SysKillTask:
		k.KillTask(regs.Arg[0], regs.Rights)
		return 0, 0

	case SysExit:
		k.Exit(regs.Task, regs.Rights)
		return 0, 0

	case SysYield:
		return errResult(k.Yield(regs.Task)), 0

	case SysSetName:
		return errResult(k.SetName(regs.Task, regs.Name)), 0

	case SysSetAffinity:
		return errResult(k.SetAffinity(regs.Task, int(regs.Arg[0]))), 0

	case SysSetPriority:
		return errResult(k.SetPriority(regs.Task, int(regs.Arg[0]))), 0

	case SysCreateTable:
		return 0, int64(k.CreateTable())

	case SysDeleteTable:
		k.DeleteTable(regs.Arg[0])
		return 0, 0

	case SysCloneTable:
		id, err := k.CloneTable(regs.Arg[0])
		return errResult(err), int64(id)

	case SysCreateRegion:
		r := memory.Region{
			Start: regs.Arg[1],
			End:   regs.Arg[2],
			Prot:  decodeProt(regs.Arg[3]),
			Backing: memory.RegionBacking{
				Anonymous: regs.Arg[4] == 0,
				ObjectID:  regs.Arg[4],
			},
			Owner: regs.Task,
		}
		return errResult(k.CreateRegion(regs.Arg[0], r)), 0

	case SysDeleteRegion:
		return errResult(k.DeleteRegion(regs.Arg[0], regs.Arg[1], regs.CPU)), 0

	case SysCreateAnonymousObject:
		return 0, int64(k.CreateAnonymousObject(int(regs.Arg[0])))

	case SysCreatePhysMapObject:
		return 0, int64(k.CreatePhysMapObject(regs.Arg[0], int(regs.Arg[1])))

	case SysCreatePort:
		portID, rightID := k.CreatePort(regs.Task)
		return int64(portID), int64(rightID)

	case SysCreateRight:
		rightID, err := k.CreateRight(regs.Arg[0], port.Kind(regs.Arg[1]), regs.Task)
		return errResult(err), int64(rightID)

	case SysDeleteRight:
		return errResult(k.DeleteRight(regs.Task, regs.Arg[0])), 0

	case SysNamePort:
		return errResult(k.NamePort(regs.Task, regs.Arg[0], regs.Name)), 0

	case SysGetRightByName:
		rightID, err := k.GetRightByName(ctx, regs.Task, regs.Name)
		return errResult(err), int64(rightID)

	case SysSend:
		err := k.Send(regs.Task, regs.Arg[0], regs.Payload, regs.Rights)
		return errResult(err), 0

	case SysGetMessageInfo:
		info, err := k.GetMessageInfo(ctx, regs.Arg[0], regs.Arg[1] != 0)
		if err != nil {
			return errResult(err), 0
		}
		return 0, int64(info.Size)

	case SysGetFirstMessage:
		buf := make([]byte, regs.Arg[2])
		n, _, replyRight, haveReply, err := k.GetFirstMessage(ctx, regs.Task, regs.Arg[0], buf, regs.Arg[3] != 0, regs.Arg[4] != 0)
		if err != nil {
			return errResult(err), 0
		}
		if haveReply {
			return int64(n), int64(replyRight)
		}
		return int64(n), 0

	case SysAcceptRights:
		ids, err := k.AcceptRights(regs.Task)
		if err != nil {
			return errResult(err), 0
		}
		if len(ids) == 0 {
			return 0, 0
		}
		return 0, int64(ids[0])

	case SysRegisterInterrupt:
		err := k.RegisterInterrupt(int(regs.Arg[0]), uint32(regs.Arg[1]), uint32(regs.Arg[2]), regs.Task, regs.Arg[3])
		return errResult(err), 0

	case SysCompleteInterrupt:
		return errResult(k.CompleteInterrupt(int(regs.Arg[0]), uint32(regs.Arg[1]), regs.Task)), 0

	case SysAllocateInterrupt:
		cpu, vector, err := k.AllocateInterrupt(uint32(regs.Arg[0]))
		if err != nil {
			return errResult(err), 0
		}
		return int64(cpu), int64(vector)

	case SysRequestTimer:
		id, err := k.RequestTimer(regs.CPU, regs.Arg[0], int64(regs.Arg[1]), [3]uint64{regs.Arg[2], regs.Arg[3], regs.Arg[4]})
		return errResult(err), int64(id)

	case SysGetTime:
		return 0, k.GetTime()

	case SysCreateGroup:
		return 0, int64(k.CreateGroup(regs.Name))

	case SysAddToGroup:
		return errResult(k.AddToGroup(regs.Arg[0], regs.Arg[1])), 0

	case SysRemoveFromGroup:
		return errResult(k.RemoveFromGroup(regs.Arg[0], regs.Arg[1])), 0

	case SysRegisterGroupNotifier:
		return errResult(k.RegisterGroupNotifier(regs.Arg[0], regs.Arg[1], regs.Arg[2])), 0

	case SysNumCPUs:
		return 0, int64(k.NumCPUs())

	case SysLoadExecutable:
		err := k.LoadExecutable(regs.Arg[0], regs.Arg[1], regs.Arg[2], regs.Arg[3], regs.Arg[4], decodeProt(regs.Arg[5]))
		return errResult(err), 0

	default:
		return errResult(kerr.Wrap(kerr.ErrNotSupported, "unknown syscall %d", regs.Num)), 0
	}
}

func errResult(err error) int64 {
	return kerr.ToErrno(err)
}

func decodeProt(bits uint64) memory.Protection {
	return memory.Protection{
		Read:    bits&1 != 0,
		Write:   bits&2 != 0,
		Execute: bits&4 != 0,
	}
}
