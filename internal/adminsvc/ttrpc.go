package adminsvc

import (
	"context"
	"encoding/json"

	"github.com/containerd/ttrpc"
)

// ServiceName is the ttrpc service name pmosctl dials, mirroring the
// "pkg.name.vN.Service" convention of containerd's generated stubs even
// though nothing here is generated.
const ServiceName = "pmos.adminsvc.v1.Admin"

// jsonCodec replaces ttrpc's default protobuf codec: every request/reply
// type in this package is a plain Go struct with json tags, since the
// admin surface has no protobuf-generated types to marshal.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(p []byte, v interface{}) error {
	return json.Unmarshal(p, v)
}

// Codec is the shared codec both NewServer and NewClientConn install;
// ttrpc has no on-wire negotiation of codec, so server and client sides
// have to agree on it out of band.
var Codec = jsonCodec{}

// RegisterService installs svc's methods on srv under ServiceName, using
// the hand-rolled dispatch table a protoc-gen-go-ttrpc-generated service
// would otherwise produce.
func RegisterService(srv *ttrpc.Server, svc *Service) {
	srv.Register(ServiceName, map[string]ttrpc.Method{
		"ListTasks": func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
			var req ListTasksRequest
			if err := unmarshal(&req); err != nil {
				return nil, err
			}
			return svc.ListTasks(ctx, &req)
		},
		"ListPorts": func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
			var req ListPortsRequest
			if err := unmarshal(&req); err != nil {
				return nil, err
			}
			return svc.ListPorts(ctx, &req)
		},
		"DumpTimers": func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
			var req DumpTimersRequest
			if err := unmarshal(&req); err != nil {
				return nil, err
			}
			return svc.DumpTimers(ctx, &req)
		},
		"DumpInterrupts": func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
			var req DumpInterruptsRequest
			if err := unmarshal(&req); err != nil {
				return nil, err
			}
			return svc.DumpInterrupts(ctx, &req)
		},
	})
}

// Client is the pmosctl-side stub for the admin service.
type Client struct {
	c *ttrpc.Client
}

// NewClient wraps an established ttrpc client connection.
func NewClient(c *ttrpc.Client) *Client {
	return &Client{c: c}
}

// ListTasks calls the remote ListTasks method.
func (c *Client) ListTasks(ctx context.Context) (*ListTasksResponse, error) {
	var resp ListTasksResponse
	if err := c.c.Call(ctx, ServiceName, "ListTasks", &ListTasksRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPorts calls the remote ListPorts method.
func (c *Client) ListPorts(ctx context.Context) (*ListPortsResponse, error) {
	var resp ListPortsResponse
	if err := c.c.Call(ctx, ServiceName, "ListPorts", &ListPortsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DumpTimers calls the remote DumpTimers method for the given CPU.
func (c *Client) DumpTimers(ctx context.Context, cpu int) (*DumpTimersResponse, error) {
	var resp DumpTimersResponse
	if err := c.c.Call(ctx, ServiceName, "DumpTimers", &DumpTimersRequest{CPU: cpu}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DumpInterrupts calls the remote DumpInterrupts method.
func (c *Client) DumpInterrupts(ctx context.Context) (*DumpInterruptsResponse, error) {
	var resp DumpInterruptsResponse
	if err := c.c.Call(ctx, ServiceName, "DumpInterrupts", &DumpInterruptsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
