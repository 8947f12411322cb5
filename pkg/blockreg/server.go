package blockreg

import (
	"context"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
)

// PortName is the name blockreg's server publishes its registration port
// under, the well-known address ahcid (or any other disk driver) sends
// Disk_Register to.
const PortName = "blockd"

// Server owns a kernel port and the registry it feeds.
type Server struct {
	k      *syscall.Kernel
	taskID uint64
	portID uint64
	reg    *Registry
}

// NewServer creates blockd's registration task, names its port PortName,
// and returns the server ready to Serve.
func NewServer(k *syscall.Kernel) (*Server, error) {
	taskID := k.CreateTask(0, 4)
	portID, rightID := k.CreatePort(taskID)
	if err := k.NamePort(taskID, rightID, PortName); err != nil {
		return nil, err
	}
	return &Server{k: k, taskID: taskID, portID: portID, reg: NewRegistry()}, nil
}

// Registry exposes the disk table so other packages (e.g. a future
// introspection query) can read it without going through the wire protocol.
func (s *Server) Registry() *Registry { return s.reg }

// Serve runs the request loop until ctx is cancelled: decode Disk_Register,
// register the disk, reply with the result. Every other message kind is
// logged and dropped, matching blockd's original single-purpose role.
func (s *Server) Serve(ctx context.Context) {
	logger := log.G(ctx).WithField("service", "blockd")
	buf := make([]byte, 4096)
	for {
		n, _, replyRight, haveReply, err := s.k.GetFirstMessage(ctx, s.taskID, s.portID, buf, true, false)
		if err != nil {
			logger.WithError(err).Debug("blockd: stopping request loop")
			return
		}

		req, err := ipc.DecodeDiskRegister(buf[:n])
		if err != nil {
			logger.WithError(err).Warn("blockd: malformed Disk_Register")
			continue
		}
		if req.Type != ipc.DiskRegister {
			logger.WithField("type", req.Type).Warn("blockd: unexpected message kind")
			continue
		}

		result := int32(0)
		if err := s.reg.Register(Disk{DiskID: req.DiskID, SizeBlocks: req.SizeBlocks, BlockSize: req.BlockSize}); err != nil {
			logger.WithError(err).Warn("blockd: registration rejected")
			result = -1
		}

		if !haveReply {
			continue
		}
		if err := s.k.Send(s.taskID, replyRight, ipc.EncodeDiskRegisterReply(result), nil); err != nil {
			logger.WithError(err).Warn("blockd: reply send failed")
		}
	}
}
