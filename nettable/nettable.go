// Package nettable implements a named table's registry of chunks,
// creating them locally or from a snapshot, and routing getById
// lookups to the chunk that actually holds the record —
// locally if it's one of this table's own chunks, or via the
// discovery ring's chord-style lookup if not.
package nettable

import (
	"context"
	"fmt"
	"sync"

	"github.com/kvswarm/kvswarm/chunk"
	"github.com/kvswarm/kvswarm/discovery"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/transport"
)

// Table is a named table's chunk registry.
type Table struct {
	name      string
	desc      *revision.TableDescriptor
	self      ids.PeerId
	messenger transport.Messenger
	locator   discovery.PeerLocator
	mode      chunk.Mode

	mu     sync.RWMutex
	chunks map[ids.ChunkId]*chunk.Chunk
}

// New returns an empty table named name, whose chunks are validated
// against desc and, once created, write through mode.
func New(name string, desc *revision.TableDescriptor, self ids.PeerId, messenger transport.Messenger, locator discovery.PeerLocator, mode chunk.Mode) *Table {
	return &Table{
		name:      name,
		desc:      desc,
		self:      self,
		messenger: messenger,
		locator:   locator,
		mode:      mode,
		chunks:    make(map[ids.ChunkId]*chunk.Chunk),
	}
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// CreateChunk starts a brand-new, empty chunk owned solely by self,
// generating its id locally.
func (t *Table) CreateChunk() *chunk.Chunk {
	id := ids.ChunkId(ids.NewId())

	return t.NewChunk(id, []ids.PeerId{t.self})
}

// NewChunk registers a chunk with a caller-supplied id and initial
// peer set — the path used when a chunk is being restored from a
// snapshot rather than created fresh.
func (t *Table) NewChunk(id ids.ChunkId, peers []ids.PeerId) *chunk.Chunk {
	var c *chunk.Chunk

	if t.mode == chunk.Consensus {
		c = chunk.NewConsensus(id, t.self, peers, t.desc, t.messenger)
	} else {
		c = chunk.NewLegacy(id, t.self, peers, t.desc, t.messenger)
	}

	t.mu.Lock()
	t.chunks[id] = c
	t.mu.Unlock()

	return c
}

// GetChunk returns the chunk registered under id, if this table owns
// it locally.
func (t *Table) GetChunk(id ids.ChunkId) (*chunk.Chunk, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.chunks[id]

	return c, ok
}

// Chunks returns every chunk this table hosts locally.
func (t *Table) Chunks() []*chunk.Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*chunk.Chunk, 0, len(t.chunks))

	for _, c := range t.chunks {
		out = append(out, c)
	}

	return out
}

// GetById searches every locally hosted chunk for id's head at time t;
// if none has it, it consults the discovery locator for the peer that
// might, and issues a remote getById RPC.
func (t *Table) GetById(ctx context.Context, id ids.RecordId, tm uint64) (*revision.Revision, error) {
	t.mu.RLock()
	local := make([]*chunk.Chunk, 0, len(t.chunks))

	for _, c := range t.chunks {
		local = append(local, c)
	}

	t.mu.RUnlock()

	for _, c := range local {
		rev, err := c.GetById(id, tm)

		if err != nil {
			return nil, err
		}

		if rev != nil {
			return rev, nil
		}
	}

	if t.locator == nil {
		return nil, nil
	}

	peer := t.locator.Locate(ids.Id(id))

	if !peer.IsValid() || peer.Equal(t.self) {
		return nil, nil
	}

	resp, err := t.messenger.TryRequest(ctx, peer, getByIdMessage, encodeGetByIdRequest(t.name, id, tm))

	if err != nil {
		return nil, fmt.Errorf("locating record %s via %s: %w", id, peer, err)
	}

	if len(resp) == 0 {
		return nil, nil
	}

	return revision.Parse(t.desc, resp)
}

const getByIdMessage transport.MessageType = "nettable.get_by_id"

// RegisterHandler wires this table's remote getById responder against
// ep, so peers can resolve a record this table hosts locally without
// needing this table's caller to expose its own RPC surface.
func (t *Table) RegisterHandler(ep transport.Endpoint) {
	ep.RegisterHandler(getByIdMessage, func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error) {
		table, id, tm, err := decodeGetByIdRequest(payload)

		if err != nil {
			return nil, err
		}

		if table != t.name {
			return nil, fmt.Errorf("nettable: got request for table %q, this table is %q", table, t.name)
		}

		t.mu.RLock()
		defer t.mu.RUnlock()

		for _, c := range t.chunks {
			rev, err := c.GetById(id, tm)

			if err != nil {
				return nil, err
			}

			if rev != nil {
				return rev.Serialize()
			}
		}

		return nil, nil
	})
}
