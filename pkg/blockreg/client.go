package blockreg

import (
	"context"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
)

// Register is what a disk driver (ahcid) calls once per disk it finds:
// resolve blockd's named port, send Disk_Register, and wait for the reply.
// callerTaskID must already be a live task (the driver's own).
func Register(ctx context.Context, k *syscall.Kernel, callerTaskID, diskID, sizeBlocks uint64, blockSize uint32) error {
	replyPort, _ := k.CreatePort(callerTaskID)
	replyRight, err := k.CreateRight(replyPort, port.SendOnce, callerTaskID)
	if err != nil {
		return err
	}

	rightID, err := k.GetRightByName(ctx, callerTaskID, PortName)
	if err != nil {
		return err
	}
	payload := ipc.EncodeDiskRegister(diskID, sizeBlocks, blockSize)
	if err := k.Send(callerTaskID, rightID, payload, []uint64{replyRight}); err != nil {
		return err
	}

	buf := make([]byte, 64)
	n, _, _, _, err := k.GetFirstMessage(ctx, callerTaskID, replyPort, buf, true, false)
	if err != nil {
		return err
	}
	reply, err := ipc.DecodeDiskRegisterReply(buf[:n])
	if err != nil {
		return err
	}
	if reply.Result != 0 {
		return kerr.Wrap(kerr.ErrBadArgument, "blockd rejected disk %d: %d", diskID, reply.Result)
	}
	return nil
}
