// Package transport implements the peer messaging facade: every
// cross-peer operation in kvswarm — raft RPCs, chunk replication,
// locking, discovery — is expressed as a typed request/response pair
// dispatched through a Messenger, never as a direct network call from
// domain code. Domain packages depend only on the Messenger interface;
// transport/grpcpeer supplies the real gRPC wiring, and an in-process
// Router is enough for tests.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvswarm/kvswarm/ids"
)

// Handler processes one request of a registered MessageType and
// produces a response payload or an error.
type Handler func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error)

// Messenger is how domain code talks to peers. It never exposes
// sockets, streams, or codecs — only typed request/response.
type Messenger interface {
	// Request sends payload to peer under msg and returns the
	// handler's response. A peer that cannot be reached is a protocol
	// violation for callers that assumed reachability (e.g.
	// mid-transaction); Request panics in that case rather than
	// returning a swallowable error, so callers that can tolerate
	// failure must use TryRequest instead.
	Request(ctx context.Context, peer ids.PeerId, msg MessageType, payload []byte) []byte

	// TryRequest is Request without the reachability assumption: it
	// returns faults.Unavailable instead of panicking when peer
	// cannot be reached or its handler errors.
	TryRequest(ctx context.Context, peer ids.PeerId, msg MessageType, payload []byte) ([]byte, error)

	// Broadcast sends payload to every peer in peers and collects
	// whichever responses arrive without error; unreachable peers
	// are silently skipped (used for best-effort fan-out like
	// snapshot solicitation).
	Broadcast(ctx context.Context, peers []ids.PeerId, msg MessageType, payload []byte) map[ids.PeerId][]byte

	// UndisputableBroadcast is like Broadcast but requires every
	// peer to answer without error; it returns the first error
	// encountered (used for operations, like commit-phase unlock,
	// where a peer's absence indicates a protocol violation rather
	// than an ordinary partition).
	UndisputableBroadcast(ctx context.Context, peers []ids.PeerId, msg MessageType, payload []byte) (map[ids.PeerId][]byte, error)
}

// Endpoint is the receiving half of the facade: it's how a peer
// advertises which message types it can handle. Router implements
// both Messenger and Endpoint, so an in-process peer can wire itself
// up without a network hop; transport/grpcpeer's Server wraps an
// Endpoint (typically a Router) and forwards inbound RPCs into its
// Dispatch.
type Endpoint interface {
	RegisterHandler(msg MessageType, h Handler)
	Dispatch(ctx context.Context, from ids.PeerId, msg MessageType, payload []byte) ([]byte, error)
}

// Directory resolves a peer id to whatever a concrete Messenger needs
// to reach it — an in-process Endpoint for Router, a dial target for
// transport/grpcpeer.
type Directory interface {
	Lookup(peer ids.PeerId) (Endpoint, bool)
	Self() ids.PeerId
}

// staticDirectory is the simplest Directory: a fixed peer-to-endpoint
// map, suitable for tests and for single-process multi-peer
// simulations.
type staticDirectory struct {
	mu   sync.RWMutex
	self ids.PeerId
	byId map[ids.PeerId]Endpoint
}

// NewStaticDirectory builds a Directory around self that peers can be
// added to after construction with Add, since peers typically don't
// all know each other's endpoints until after they've all started.
func NewStaticDirectory(self ids.PeerId) *staticDirectory {
	return &staticDirectory{self: self, byId: make(map[ids.PeerId]Endpoint)}
}

func (d *staticDirectory) Add(peer ids.PeerId, ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.byId[peer] = ep
}

func (d *staticDirectory) Remove(peer ids.PeerId) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.byId, peer)
}

func (d *staticDirectory) Lookup(peer ids.PeerId) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ep, ok := d.byId[peer]

	return ep, ok
}

func (d *staticDirectory) Self() ids.PeerId {
	return d.self
}

// Router is the default Messenger/Endpoint: it dispatches Request and
// Broadcast calls through a Directory, and answers inbound Dispatch
// calls against its own handler table. transport/grpcpeer.Server can
// hold a Router as the local Endpoint its gRPC service forwards into.
type Router struct {
	dir ids.PeerId
	d   Directory

	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewRouter builds a Router that resolves peers through d.
func NewRouter(d Directory) *Router {
	return &Router{dir: d.Self(), d: d, handlers: make(map[MessageType]Handler)}
}

func (r *Router) RegisterHandler(msg MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[msg] = h
}

func (r *Router) Dispatch(ctx context.Context, from ids.PeerId, msg MessageType, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[msg]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler registered for %s", msg)
	}

	return h(ctx, from, payload)
}

func (r *Router) TryRequest(ctx context.Context, peer ids.PeerId, msg MessageType, payload []byte) ([]byte, error) {
	ep, ok := r.d.Lookup(peer)

	if !ok {
		return nil, fmt.Errorf("%w: peer %s not reachable", errUnavailable, peer)
	}

	resp, err := ep.Dispatch(ctx, r.dir, msg, payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %s", errUnavailable, err)
	}

	return resp, nil
}

func (r *Router) Request(ctx context.Context, peer ids.PeerId, msg MessageType, payload []byte) []byte {
	resp, err := r.TryRequest(ctx, peer, msg, payload)

	if err != nil {
		panic(fmt.Sprintf("transport: Request(%s, %s): %s", peer, msg, err))
	}

	return resp
}

func (r *Router) Broadcast(ctx context.Context, peers []ids.PeerId, msg MessageType, payload []byte) map[ids.PeerId][]byte {
	out := make(map[ids.PeerId][]byte, len(peers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		peer := peer
		wg.Add(1)

		go func() {
			defer wg.Done()

			resp, err := r.TryRequest(ctx, peer, msg, payload)

			if err != nil {
				return
			}

			mu.Lock()
			out[peer] = resp
			mu.Unlock()
		}()
	}

	wg.Wait()

	return out
}

func (r *Router) UndisputableBroadcast(ctx context.Context, peers []ids.PeerId, msg MessageType, payload []byte) (map[ids.PeerId][]byte, error) {
	out := make(map[ids.PeerId][]byte, len(peers))

	for _, peer := range peers {
		resp, err := r.TryRequest(ctx, peer, msg, payload)

		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", peer, err)
		}

		out[peer] = resp
	}

	return out, nil
}
