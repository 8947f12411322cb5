package adminsvc

import (
	"net"

	"github.com/containerd/ttrpc"
)

// NewServer returns a ttrpc server configured with this package's JSON
// codec. ttrpc negotiates nothing about codec on the wire, so every
// client must be built with the same Codec via NewClientConn.
func NewServer() (*ttrpc.Server, error) {
	return ttrpc.NewServer(ttrpc.WithServerCodec(Codec))
}

// NewClientConn wraps an already-dialed connection (the admin surface
// listens on a Unix socket, same transport cmd/ctr uses against
// containerd's own API) in a ttrpc client using this package's JSON codec.
func NewClientConn(conn net.Conn) *ttrpc.Client {
	return ttrpc.NewClient(conn, ttrpc.WithCodec(Codec))
}
