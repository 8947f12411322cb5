// Package ipc defines the wire-level message envelope and the catalogue of
// message kinds exchanged over kernel/port ports, per spec.md §6. Every IPC
// payload begins with a 32-bit type tag; everything kind-specific follows,
// starting on an 8-byte boundary.
package ipc

// Type is the 32-bit tag that opens every IPC payload.
type Type uint32

// Message kinds. Numbers are stable for a boot and match the layout
// convention of the source repository's IPC header (sequential allocation
// within a kind group); this repository does not need to match the
// original's literal numeric values since no out-of-tree userspace links
// against them, only the Go types below.
const (
	KernelInterrupt Type = 1 + iota
	KernelNamedPortNotification
	TimerReply
	MutexUnlock
	ThreadFinished
	DiskRegister
	DiskRegisterReply
	WritePlain
	RegisterLogOutput
	RegisterLogOutputReply
	FramebufferRequest
	FramebufferReply
	RequestSerial
	SerialReply
	RegisterProcess
	RegisterProcessReply
	RequestFork
	RequestForkReply
	Open
	OpenReply
	MountFS
	MountFSReply
	RegisterFS
	RegisterFSReply
	BUSPublishObject
	GroupNotifier
)

// Envelope is the kernel-delivered side-band plus the raw payload bytes
// copied into the receiver's buffer by get_first_message. The four
// side-band fields (sender, right, size, attached count) are delivered
// out-of-band from the payload itself, per spec.md §6.
type Envelope struct {
	Sender        uint64 // 0 if sent by the kernel itself
	RightInvoked  uint64 // 0 if sent by the kernel
	Payload       []byte
	AttachedCount int
}

// KernelInterruptPayload is the body of a KernelInterrupt message.
type KernelInterruptPayload struct {
	Type        Type
	InterruptID uint32
}

// KernelNamedPortNotificationPayload resolves a previously blocked
// get_right_by_name call.
type KernelNamedPortNotificationPayload struct {
	Type Type
	Name string
}

// TimerReplyPayload carries a fired timer's id and the three opaque extra
// words the requester supplied to request_timer.
type TimerReplyPayload struct {
	Type   Type
	ID     uint64
	Extra0 uint64
	Extra1 uint64
	Extra2 uint64
}

// DiskRegisterPayload is blockd's registration of a backing disk with its
// geometry (pkg/blockreg); it carries no partition information.
type DiskRegisterPayload struct {
	Type       Type
	DiskID     uint64
	SizeBlocks uint64
	BlockSize  uint32
}

// DiskRegisterReplyPayload acknowledges a DiskRegister.
type DiskRegisterReplyPayload struct {
	Type   Type
	Result int32
}

// RegisterProcessPayload tells processd a new process exists.
type RegisterProcessPayload struct {
	Type      Type
	TaskID    uint64
	ParentID  uint64
	GroupName string
}

// RegisterProcessReplyPayload acknowledges registration.
type RegisterProcessReplyPayload struct {
	Type   Type
	Result int32
}

// RequestForkPayload preregisters a forked child's task-group ahead of the
// fork syscall completing.
type RequestForkPayload struct {
	Type       Type
	ParentID   uint64
	ProvisionID uint64
}

// RequestForkReplyPayload returns the preregistered child task id.
type RequestForkReplyPayload struct {
	Type   Type
	ChildID uint64
	Result  int32
}

// GroupNotifierPayload reports a task-group membership change to a
// registered notifier port: the affected task and which transition fired
// (member added, member removed, member terminated).
type GroupNotifierPayload struct {
	Type   Type
	TaskID uint64
	Kind   uint32
}

// WritePlainPayload is raw log/terminal text.
type WritePlainPayload struct {
	Type Type
	Text string
}
