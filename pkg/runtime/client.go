// Package runtime is the userland-facing runtime shim every simulated
// process link against instead of talking to kernel/syscall directly: the
// Go-goroutine equivalent of what a real pmOS program gets from its libc
// at startup. It owns one task's lifecycle conversation with processd
// (RegisterProcess, RequestFork) and exposes the handful of other syscalls
// a process needs as plain client helpers (RequestTimer, LookupNamedPort).
//
// Grounded on pkg/shim/publisher.go's queued-retry forwarder: a worker
// goroutine drains a buffered retry queue. A target name that is not yet
// published (processd publishes its well-known port late in boot) is
// waited out inside GetRightByName, which blocks the worker until the name
// appears; a notice whose Send fails is requeued with a short backoff, and
// dropped after a fixed number of requeues rather than retried forever.
package runtime

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/containerd/log"

	"github.com/ThatMishakov/pmOS-sub004/internal/kerr"
	"github.com/ThatMishakov/pmOS-sub004/kernel/ipc"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
)

const (
	queueSize  = 256
	maxRequeue = 5
)

// ProcessdPort is the name processd publishes its registration port under.
const ProcessdPort = "processd"

// notice is a fire-and-forget message queued for delivery to a named
// port, retried with backoff if its Send fails.
type notice struct {
	port    string
	payload []byte
	count   int
}

// Client is the per-task handle a simulated process uses to reach the
// kernel and processd. One Client exists per task; NewClient starts its
// background retry worker.
type Client struct {
	k      *syscall.Kernel
	taskID uint64

	closed  chan struct{}
	closer  sync.Once
	requeue chan *notice
}

// NewClient wraps k for use by the task taskID already names in the
// scheduler (the caller is expected to have created the task via
// k.CreateTask first).
func NewClient(k *syscall.Kernel, taskID uint64) *Client {
	c := &Client{
		k:       k,
		taskID:  taskID,
		closed:  make(chan struct{}),
		requeue: make(chan *notice, queueSize),
	}
	go c.processQueue()
	return c
}

// Close stops the retry worker. Pending notices are dropped.
func (c *Client) Close() error {
	c.closer.Do(func() { close(c.closed) })
	return nil
}

func (c *Client) processQueue() {
	for {
		select {
		case <-c.closed:
			return
		case n := <-c.requeue:
			if n.count > maxRequeue {
				log.L.WithField("task", c.taskID).WithField("port", n.port).
					Error("evicting notice from retry queue")
				continue
			}
			if err := c.sendTo(context.Background(), n.port, n.payload); err != nil {
				log.L.WithError(err).WithField("port", n.port).Debug("notice delivery failed, requeuing")
				c.scheduleRequeue(n)
			}
		}
	}
}

func (c *Client) scheduleRequeue(n *notice) {
	go func() {
		n.count++
		delay := time.Duration(n.count) * 20 * time.Millisecond
		select {
		case <-time.After(delay):
		case <-c.closed:
			return
		}
		select {
		case c.requeue <- n:
		case <-c.closed:
		}
	}()
}

// notify hands a fire-and-forget payload to the retry worker rather than
// sending it inline: GetRightByName blocks until the target name is
// published, which a caller on its way out (NotifyExit) should never wait
// on, so delivery always happens on the background goroutine.
func (c *Client) notify(portName string, payload []byte) {
	n := &notice{port: portName, payload: payload}
	select {
	case c.requeue <- n:
	case <-c.closed:
	default:
		go c.scheduleRequeue(n)
	}
}

func (c *Client) sendTo(ctx context.Context, portName string, payload []byte) error {
	rightID, err := c.k.GetRightByName(ctx, c.taskID, portName)
	if err != nil {
		return err
	}
	return c.k.Send(c.taskID, rightID, payload, nil)
}

// call performs a request/reply round trip to a named port: it opens a
// reply port, attaches a send-once right to it as the message's sole
// attached capability (the convention every kernel-adjacent service here
// follows: the first attached right is the reply right), sends payload,
// and blocks for the single reply message.
func (c *Client) call(ctx context.Context, portName string, payload []byte) ([]byte, error) {
	replyPort, _ := c.k.CreatePort(c.taskID)
	replyRight, err := c.k.CreateRight(replyPort, port.SendOnce, c.taskID)
	if err != nil {
		return nil, err
	}

	rightID, err := c.k.GetRightByName(ctx, c.taskID, portName)
	if err != nil {
		return nil, err
	}
	if err := c.k.Send(c.taskID, rightID, payload, []uint64{replyRight}); err != nil {
		return nil, err
	}

	buf := make([]byte, 4096)
	n, _, _, _, err := c.k.GetFirstMessage(ctx, c.taskID, replyPort, buf, true, false)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// RegisterProcess tells processd this task exists, as parentID's child in
// task-group groupName, and waits for its acknowledgement.
func (c *Client) RegisterProcess(ctx context.Context, parentID uint64, groupName string) error {
	reply, err := c.call(ctx, ProcessdPort, ipc.EncodeRegisterProcess(c.taskID, parentID, groupName))
	if err != nil {
		return err
	}
	decoded, err := ipc.DecodeRegisterProcessReply(reply)
	if err != nil {
		return err
	}
	if decoded.Result != 0 {
		return kerr.Wrap(kerr.ErrBadArgument, "processd rejected registration: %d", decoded.Result)
	}
	return nil
}

// RequestFork preregisters a child task-group with processd ahead of the
// kernel-level fork-equivalent syscall completing, so processd's
// bookkeeping is never racing the child's first RegisterProcess. provisionID
// is a caller-chosen token correlating this call with the fork that follows.
func (c *Client) RequestFork(ctx context.Context, provisionID uint64) (childID uint64, err error) {
	reply, err := c.call(ctx, ProcessdPort, ipc.EncodeRequestFork(c.taskID, provisionID))
	if err != nil {
		return 0, err
	}
	decoded, err := ipc.DecodeRequestForkReply(reply)
	if err != nil {
		return 0, err
	}
	if decoded.Result != 0 {
		return 0, kerr.Wrap(kerr.ErrBadArgument, "processd rejected fork request: %d", decoded.Result)
	}
	return decoded.ChildID, nil
}

// NotifyExit tells processd this task is gone. Best effort: processd may
// not be up yet at the time a very early task dies, so delivery happens on
// the retry worker and errors are never returned to the caller.
func (c *Client) NotifyExit(context.Context) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ipc.ThreadFinished))
	binary.LittleEndian.PutUint64(buf[4:12], c.taskID)
	c.notify(ProcessdPort, buf)
}

// RequestTimer arms a one-shot timer on cpu that fires in ms milliseconds,
// delivering a TimerReply to portID so callers can GetFirstMessage for it
// themselves; this is a thin pass-through to
// kernel/syscall since the kernel already owns the whole timer/port wiring.
func (c *Client) RequestTimer(cpu int, portID uint64, ms int64, extra [3]uint64) (uint64, error) {
	return c.k.RequestTimer(cpu, portID, ms, extra)
}

// LookupNamedPort resolves name to a freshly allocated send-many right in
// this task's namespace, blocking until the name is published if necessary.
func (c *Client) LookupNamedPort(ctx context.Context, name string) (uint64, error) {
	return c.k.GetRightByName(ctx, c.taskID, name)
}

