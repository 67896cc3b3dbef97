package grpcpeer

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/transport"
	"google.golang.org/grpc"
)

// remoteEndpoint adapts a dialed gRPC connection to transport.Endpoint
// so it can be handed to a transport.Router's Directory just like an
// in-process peer.
type remoteEndpoint struct {
	self ids.PeerId
	cc   *grpc.ClientConn
}

func (e *remoteEndpoint) RegisterHandler(transport.MessageType, transport.Handler) {
	panic("grpcpeer: remoteEndpoint cannot register handlers, it only forwards requests")
}

func (e *remoteEndpoint) Dispatch(ctx context.Context, from ids.PeerId, msg transport.MessageType, payload []byte) ([]byte, error) {
	in := &envelope{from: e.self.Address(), msgType: string(msg), payload: payload}
	out := new(envelope)

	err := e.cc.Invoke(ctx, "/"+serviceName+"/"+methodName, in, out, grpc.CallContentSubtype(rawCodecName))

	if err != nil {
		return nil, fmt.Errorf("%w: %s", faults.Unavailable, err)
	}

	return out.payload, nil
}

// Directory dials remote peers over gRPC on demand, caching
// connections by address, and falls back to a local Endpoint for its
// own address so a Router built on top of it can talk to itself
// without a network hop.
type Directory struct {
	self  ids.PeerId
	local transport.Endpoint

	mu    sync.Mutex
	conns map[ids.PeerId]*remoteEndpoint
}

// NewDirectory builds a Directory that answers Lookup(self) with
// local and dials every other peer's address as a gRPC target.
func NewDirectory(self ids.PeerId, local transport.Endpoint) *Directory {
	return &Directory{self: self, local: local, conns: make(map[ids.PeerId]*remoteEndpoint)}
}

func (d *Directory) Self() ids.PeerId {
	return d.self
}

func (d *Directory) Lookup(peer ids.PeerId) (transport.Endpoint, bool) {
	if peer.Equal(d.self) {
		return d.local, true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ep, ok := d.conns[peer]; ok {
		return ep, true
	}

	cc, err := grpc.Dial(peer.Address(), grpc.WithInsecure(), grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)))

	if err != nil {
		return nil, false
	}

	ep := &remoteEndpoint{self: d.self, cc: cc}
	d.conns[peer] = ep

	return ep, true
}

// Close tears down every cached connection.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error

	for peer, ep := range d.conns {
		if err := ep.cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		delete(d.conns, peer)
	}

	return firstErr
}
