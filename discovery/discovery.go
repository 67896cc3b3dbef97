// Package discovery implements a Chord-like peer-lookup overlay:
// locating which peer holds a given chunk or record when it isn't
// hosted locally. Only the "stabilize" join mode is implemented,
// matching config.Validate's rejection of "clean".
package discovery

import (
	"sort"
	"sync"

	"github.com/kvswarm/kvswarm/ids"
)

// PeerLocator answers "who owns this id" queries against the overlay.
// nettable.GetById falls back to this when a record's chunk isn't held
// locally.
type PeerLocator interface {
	// Locate returns the peer responsible for id's position on the
	// ring.
	Locate(id ids.Id) ids.PeerId
}

// Ring is a minimal in-memory Chord-style ring: peers are placed by
// their id's position, and Locate walks to the first peer at or after
// the queried id, wrapping around (the "successor" rule). Stabilize
// join mode means membership changes are applied by Join/Leave and
// take effect immediately, rather than through a hub.discovery
// broadcast + convergence delay a full Chord implementation would add.
// The ring's own gossip/anti-entropy protocol is out of scope here;
// this interface only needs to exist and resolve holders correctly.
type Ring struct {
	mu      sync.RWMutex
	members map[ids.Id]ids.PeerId
	sorted  []ids.Id
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{members: make(map[ids.Id]ids.PeerId)}
}

// Join adds peer at position id on the ring (a peer's chunk id or a
// hash of its address, chosen by the caller).
func (r *Ring) Join(id ids.Id, peer ids.PeerId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[id]; !exists {
		i := sort.Search(len(r.sorted), func(i int) bool { return id.Compare(r.sorted[i]) < 0 })
		r.sorted = append(r.sorted, ids.Id{})
		copy(r.sorted[i+1:], r.sorted[i:])
		r.sorted[i] = id
	}

	r.members[id] = peer
}

// Leave removes the member at position id.
func (r *Ring) Leave(id ids.Id) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[id]; !exists {
		return
	}

	delete(r.members, id)

	i := sort.Search(len(r.sorted), func(i int) bool { return id.Compare(r.sorted[i]) <= 0 })

	if i < len(r.sorted) && r.sorted[i].Compare(id) == 0 {
		r.sorted = append(r.sorted[:i], r.sorted[i+1:]...)
	}
}

// Locate returns the ring's successor of id: the first member at or
// after id, wrapping to the lowest member if id is past every entry.
// The zero PeerId is returned if the ring is empty.
func (r *Ring) Locate(id ids.Id) ids.PeerId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 {
		return ids.PeerId{}
	}

	i := sort.Search(len(r.sorted), func(i int) bool { return id.Compare(r.sorted[i]) <= 0 })

	if i == len(r.sorted) {
		i = 0
	}

	return r.members[r.sorted[i]]
}

// Members returns every peer currently on the ring, in ring order.
func (r *Ring) Members() []ids.PeerId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ids.PeerId, len(r.sorted))

	for i, id := range r.sorted {
		out[i] = r.members[id]
	}

	return out
}

// Stabilize is a no-op convergence pass in this in-memory ring: Join
// and Leave already keep r.sorted consistent, so there is nothing
// pending to reconcile. It exists so a caller can run it on
// config.StabilizePeriodUs's timer the way a real Chord node would,
// without that caller needing to know this ring never actually drifts.
func (r *Ring) Stabilize() {}
