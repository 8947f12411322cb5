// Package adminsvc is the read-only introspection control plane
// (SPEC_FULL.md's internal/adminsvc + cmd/pmosctl module): list tasks,
// list ports, dump a CPU's timer heap, dump interrupt bindings, against a
// running simulated kernel. It mirrors cmd/ctr's relationship to the
// containerd daemon, but speaks a hand-rolled ttrpc.ServiceDesc over a
// JSON wire codec instead of generated protobuf stubs, since there is no
// container/image-shaped API surface here to generate against.
package adminsvc

import (
	"context"

	"github.com/ThatMishakov/pmOS-sub004/kernel/interrupt"
	"github.com/ThatMishakov/pmOS-sub004/kernel/port"
	"github.com/ThatMishakov/pmOS-sub004/kernel/syscall"
	"github.com/ThatMishakov/pmOS-sub004/kernel/task"
	"github.com/ThatMishakov/pmOS-sub004/kernel/timer"
)

// ListTasksRequest has no parameters; every task the scheduler knows about
// is returned.
type ListTasksRequest struct{}

// ListTasksResponse carries one summary per known task.
type ListTasksResponse struct {
	Tasks []task.TaskSummary `json:"tasks"`
}

// ListPortsRequest has no parameters.
type ListPortsRequest struct{}

// ListPortsResponse carries one summary per live port.
type ListPortsResponse struct {
	Ports []port.Summary `json:"ports"`
}

// DumpTimersRequest names the simulated CPU whose heap to dump.
type DumpTimersRequest struct {
	CPU int `json:"cpu"`
}

// DumpTimersResponse carries the named CPU's pending timer entries, in
// deadline order.
type DumpTimersResponse struct {
	Entries []timer.EntrySummary `json:"entries"`
}

// DumpInterruptsRequest has no parameters.
type DumpInterruptsRequest struct{}

// DumpInterruptsResponse carries every interrupt binding across every
// simulated CPU.
type DumpInterruptsResponse struct {
	Bindings []interrupt.BindingSummary `json:"bindings"`
}

// Service is the admin query surface, backed directly by a running
// kernel's subsystem handles. It holds no state of its own: every query is
// a live read against the kernel.
type Service struct {
	k *syscall.Kernel
}

// NewService wraps k for serving admin queries.
func NewService(k *syscall.Kernel) *Service {
	return &Service{k: k}
}

// ListTasks returns every task the scheduler has ever created.
func (s *Service) ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error) {
	return &ListTasksResponse{Tasks: s.k.Scheduler.Snapshot()}, nil
}

// ListPorts returns every live port.
func (s *Service) ListPorts(context.Context, *ListPortsRequest) (*ListPortsResponse, error) {
	return &ListPortsResponse{Ports: s.k.Ports.List()}, nil
}

// DumpTimers returns req.CPU's pending timer heap.
func (s *Service) DumpTimers(_ context.Context, req *DumpTimersRequest) (*DumpTimersResponse, error) {
	entries, err := s.k.Timers.DumpTimers(req.CPU)
	if err != nil {
		return nil, err
	}
	return &DumpTimersResponse{Entries: entries}, nil
}

// DumpInterrupts returns every interrupt binding.
func (s *Service) DumpInterrupts(context.Context, *DumpInterruptsRequest) (*DumpInterruptsResponse, error) {
	return &DumpInterruptsResponse{Bindings: s.k.Interrupts.DumpBindings()}, nil
}
