// Package hub implements the process-wide peer arena: cyclic
// references between a peer, its lock, and its chunk are resolved by
// owning every peer in one place and handing out borrow-only
// references (an ids.PeerId plus the shared transport and discovery
// handles) instead of letting a chunk or lock hold a pointer back into
// another chunk's state. Generalized from a plain thread-safe
// observable map to the peer arena's specific key/value shapes and
// given an explicit init/shutdown lifecycle in place of a
// package-level singleton.
package hub

import (
	"fmt"
	"sync"

	"github.com/kvswarm/kvswarm/discovery"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/transport"
)

// PeerObserver is notified when the arena's membership changes.
type PeerObserver func(peer ids.PeerId)

// Hub is the process-wide handle used in place of a singleton: one
// Hub per process, passed explicitly to whatever needs to resolve a
// PeerId into a live transport handle or enumerate the current peer
// set.
type Hub struct {
	self      ids.PeerId
	messenger transport.Messenger
	ring      *discovery.Ring

	mu    sync.RWMutex
	peers map[ids.PeerId]struct{}
	live  bool

	joinObservers  []PeerObserver
	leaveObservers []PeerObserver
}

// Init constructs a Hub for self, backed by messenger for transport
// and ring for chunk-holder discovery. Nothing is considered live
// until Init returns; callers own calling Shutdown.
func Init(self ids.PeerId, messenger transport.Messenger, ring *discovery.Ring) *Hub {
	return &Hub{
		self:      self,
		messenger: messenger,
		ring:      ring,
		peers:     make(map[ids.PeerId]struct{}),
		live:      true,
	}
}

// Shutdown marks the hub dead; further Admit calls fail. It
// does not close the underlying transport, which callers may still be
// draining in-flight requests through.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.live = false
}

// Self returns this process's own peer id.
func (h *Hub) Self() ids.PeerId { return h.self }

// Admit adds peer to the arena, registering it with the discovery ring
// at the position given by its id, and notifies join observers.
func (h *Hub) Admit(peer ids.PeerId, ringPosition ids.Id) error {
	h.mu.Lock()

	if !h.live {
		h.mu.Unlock()
		return fmt.Errorf("hub is shut down")
	}

	_, exists := h.peers[peer]
	h.peers[peer] = struct{}{}
	observers := append([]PeerObserver(nil), h.joinObservers...)
	h.mu.Unlock()

	if exists {
		return nil
	}

	if h.ring != nil {
		h.ring.Join(ringPosition, peer)
	}

	for _, obs := range observers {
		obs(peer)
	}

	return nil
}

// Evict removes peer from the arena and the discovery ring.
func (h *Hub) Evict(peer ids.PeerId, ringPosition ids.Id) {
	h.mu.Lock()

	if _, exists := h.peers[peer]; !exists {
		h.mu.Unlock()
		return
	}

	delete(h.peers, peer)
	observers := append([]PeerObserver(nil), h.leaveObservers...)
	h.mu.Unlock()

	if h.ring != nil {
		h.ring.Leave(ringPosition)
	}

	for _, obs := range observers {
		obs(peer)
	}
}

// OnJoin registers a callback fired after a new peer is admitted.
func (h *Hub) OnJoin(fn PeerObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.joinObservers = append(h.joinObservers, fn)
}

// OnLeave registers a callback fired after a peer is evicted.
func (h *Hub) OnLeave(fn PeerObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveObservers = append(h.leaveObservers, fn)
}

// Peers returns a snapshot of every admitted peer id, self excluded.
func (h *Hub) Peers() []ids.PeerId {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ids.PeerId, 0, len(h.peers))

	for p := range h.peers {
		out = append(out, p)
	}

	return out
}

// Messenger returns the shared transport.Messenger every chunk and
// lock in this process should send RPCs through, rather than each
// holding its own connection: a borrow-only reference in place of a
// chunk owning a peer directly.
func (h *Hub) Messenger() transport.Messenger {
	return h.messenger
}

// Locate resolves which peer holds the record or chunk at id, via the
// discovery ring, when it isn't held locally.
func (h *Hub) Locate(id ids.Id) (ids.PeerId, bool) {
	if h.ring == nil {
		return ids.PeerId{}, false
	}

	peer := h.ring.Locate(id)

	return peer, peer.IsValid()
}
