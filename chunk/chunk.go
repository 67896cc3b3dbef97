// Package chunk implements the union of a chunk's data container, its
// write primitive (either the legacy distributed lock or the
// consensus Raft node), and its trigger registry. Both modes expose
// the same insert/update/dump API: a capability set of mutate under
// lock, read at time, patch.
package chunk

import (
	"context"
	"sync"

	"github.com/kvswarm/kvswarm/distlock"
	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/raftchunk"
	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/storage/container"
	"github.com/kvswarm/kvswarm/transport"
	"go.uber.org/zap"
)

// Mode selects a chunk's write primitive.
type Mode int

const (
	// Legacy commits under the distributed RW-lock and broadcasts
	// patches to every replica.
	Legacy Mode = iota
	// Consensus commits through the Raft chunk node.
	Consensus
)

// Trigger is a callback registered with a Chunk, invoked once after
// each remote commit span completes. inserted and updated
// list the record ids touched since the lock was last acquired.
type Trigger func(inserted, updated []ids.RecordId)

// Chunk is the container/write-primitive/trigger union described
// above.
type Chunk struct {
	id        ids.ChunkId
	self      ids.PeerId
	mode      Mode
	desc      *revision.TableDescriptor
	container *container.Container
	messenger transport.Messenger

	lock *distlock.Lock  // Legacy mode only
	raft *raftchunk.Node // Consensus mode only
	logger *zap.Logger

	mu       sync.Mutex
	peers    map[ids.PeerId]bool
	relinquished bool

	// leaseMu/leaseCond guard the Consensus-mode write-lock lease: the
	// state applyLockAcquire/applyLockRelease update as LockAcquire/
	// LockRelease entries commit, and Lock/Unlock block on.
	leaseMu      sync.Mutex
	leaseCond    *sync.Cond
	leaseHeld    bool
	leaseIndex   uint64          // commit index of the currently held acquisition, 0 if unheld
	leaseApplied uint64          // highest log index whose lease effect has been applied
	leaseGrant   map[uint64]bool // acquire index -> granted, consumed once by the proposer

	triggerMu sync.Mutex
	triggers  []Trigger
	pending   struct {
		inserted []ids.RecordId
		updated  []ids.RecordId
	}
}

// staticPeers adapts Chunk's own peer set to distlock.Peers.
type staticPeers struct{ c *Chunk }

func (p staticPeers) Members() []ids.PeerId {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	out := make([]ids.PeerId, 0, len(p.c.peers)+1)
	out = append(out, p.c.self)

	for peer := range p.c.peers {
		out = append(out, peer)
	}

	return out
}

// lockTransport adapts transport.Messenger to distlock.Transport,
// whose TransportMessage type is a plain string underneath
// transport.MessageType.
type lockTransport struct{ m transport.Messenger }

func (t lockTransport) TryRequest(ctx context.Context, peer ids.PeerId, msg distlock.TransportMessage, payload []byte) ([]byte, error) {
	return t.m.TryRequest(ctx, peer, transport.MessageType(msg), payload)
}

type raftTransport struct{ m transport.Messenger }

func (t raftTransport) TryRequest(ctx context.Context, peer ids.PeerId, msg raftchunk.TransportMessage, payload []byte) ([]byte, error) {
	return t.m.TryRequest(ctx, peer, transport.MessageType(msg), payload)
}

// NewLegacy creates a chunk that commits under the distributed lock.
func NewLegacy(id ids.ChunkId, self ids.PeerId, peers []ids.PeerId, desc *revision.TableDescriptor, messenger transport.Messenger) *Chunk {
	c := &Chunk{
		id:        id,
		self:      self,
		mode:      Legacy,
		desc:      desc,
		container: container.New(id, desc),
		messenger: messenger,
		peers:     toPeerSet(peers, self),
		logger:    zap.NewNop(),
	}

	c.leaseCond = sync.NewCond(&c.leaseMu)
	c.leaseGrant = make(map[uint64]bool)
	c.lock = distlock.New(self, staticPeers{c}, lockTransport{messenger})

	if ep, ok := messenger.(transport.Endpoint); ok {
		ep.RegisterHandler(transport.MsgChunkLock, func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error) {
			return distlock.Dispatch(c.lock, from, distlock.TransportMessage(transport.MsgChunkLock), payload)
		})
		ep.RegisterHandler(transport.MsgChunkUnlock, func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error) {
			return distlock.Dispatch(c.lock, from, distlock.TransportMessage(transport.MsgChunkUnlock), payload)
		})
	}

	return c
}

// NewConsensus creates a chunk that commits through a Raft chunk node,
// calling apply(entry) as raftchunk.Node's ApplyFunc.
func NewConsensus(id ids.ChunkId, self ids.PeerId, peers []ids.PeerId, desc *revision.TableDescriptor, messenger transport.Messenger) *Chunk {
	c := &Chunk{
		id:        id,
		self:      self,
		mode:      Consensus,
		desc:      desc,
		container: container.New(id, desc),
		messenger: messenger,
		peers:     toPeerSet(peers, self),
		logger:    zap.NewNop(),
	}

	c.leaseCond = sync.NewCond(&c.leaseMu)
	c.leaseGrant = make(map[uint64]bool)
	c.raft = raftchunk.New(self, peers, raftTransport{messenger}, c.applyLogEntry, nil)

	if ep, ok := messenger.(transport.Endpoint); ok {
		ep.RegisterHandler(transport.MsgRaftAppendEntries, func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error) {
			return raftchunk.Dispatch(c.raft, from, raftchunk.TransportMessage(transport.MsgRaftAppendEntries), payload)
		})
		ep.RegisterHandler(transport.MsgRaftVoteRequest, func(ctx context.Context, from ids.PeerId, payload []byte) ([]byte, error) {
			return raftchunk.Dispatch(c.raft, from, raftchunk.TransportMessage(transport.MsgRaftVoteRequest), payload)
		})
	}

	go c.raft.Run(context.Background())

	return c
}

func toPeerSet(peers []ids.PeerId, self ids.PeerId) map[ids.PeerId]bool {
	set := make(map[ids.PeerId]bool, len(peers))

	for _, p := range peers {
		if !p.Equal(self) {
			set[p] = true
		}
	}

	return set
}

// Id returns the chunk id.
func (c *Chunk) Id() ids.ChunkId { return c.id }

// NumItems returns the count of non-tombstoned records at t. It fails
// with container.ErrCompacted if t predates the chunk's compaction
// watermark.
func (c *Chunk) NumItems(t uint64) (int, error) { return c.container.Count(t) }

// NumPeers returns the size of the current replica set, self included.
func (c *Chunk) NumPeers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.peers) + 1
}

// Dump returns the head revision of every live record at t. It fails
// with container.ErrCompacted if t predates the chunk's compaction
// watermark.
func (c *Chunk) Dump(t uint64) ([]*revision.Revision, error) { return c.container.Dump(t) }

// History returns id's full revision history, reflecting only what
// Compact has retained.
func (c *Chunk) History(id ids.RecordId) []*revision.Revision { return c.container.History(id) }

// GetById reads the head revision for id at t from the local
// container. It fails with container.ErrCompacted if t predates the
// chunk's compaction watermark.
func (c *Chunk) GetById(id ids.RecordId, t uint64) (*revision.Revision, error) {
	return c.container.GetById(id, t)
}

// Compact discards history entries no live query at or after before
// will need, bounding how much history a long-lived chunk retains.
// Callers must ensure no in-flight transaction still needs to read
// before before compacting past it — kvswarm leaves the watermark
// choice (e.g. trailing the oldest active transaction's begin time) to
// the caller rather than tracking active readers itself.
func (c *Chunk) Compact(before uint64) { c.container.Compact(before) }

// AddTrigger registers a callback invoked after each remote commit
// span completes.
func (c *Chunk) AddTrigger(fn Trigger) {
	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()

	c.triggers = append(c.triggers, fn)
}

func (c *Chunk) recordPending(kind raftchunk.PayloadKind, id ids.RecordId) {
	c.triggerMu.Lock()
	defer c.triggerMu.Unlock()

	switch kind {
	case raftchunk.PayloadInsert:
		c.pending.inserted = append(c.pending.inserted, id)
	case raftchunk.PayloadUpdate, raftchunk.PayloadRemove:
		c.pending.updated = append(c.pending.updated, id)
	}
}

// runTriggers fires every registered trigger with the ids accumulated
// since the last run, then clears them. Triggers run outside the
// chunk's write lock and are drained before the next lock acquisition,
// so callers invoke this immediately after releasing the write
// primitive.
func (c *Chunk) runTriggers() {
	c.triggerMu.Lock()
	inserted := c.pending.inserted
	updated := c.pending.updated
	c.pending.inserted = nil
	c.pending.updated = nil
	triggers := append([]Trigger(nil), c.triggers...)
	c.triggerMu.Unlock()

	if len(inserted) == 0 && len(updated) == 0 {
		return
	}

	for _, fn := range triggers {
		fn(inserted, updated)
	}
}

// applyLogEntry is raftchunk.Node's ApplyFunc: it turns a committed
// log entry into a container mutation, membership change, or lock
// state transition, then schedules the trigger run.
func (c *Chunk) applyLogEntry(entry raftchunk.LogEntry) {
	switch entry.Payload.Kind {
	case raftchunk.PayloadInsert:
		rev, err := c.parseRevision(entry.Payload.Revision)

		if err == nil {
			if err := c.container.Insert(rev); err == nil {
				c.recordPending(entry.Payload.Kind, rev.Id())
			}
		}
	case raftchunk.PayloadUpdate:
		rev, err := c.parseRevision(entry.Payload.Revision)

		if err == nil {
			if err := c.container.Update(rev); err == nil {
				c.recordPending(entry.Payload.Kind, rev.Id())
			}
		}
	case raftchunk.PayloadRemove:
		rev, err := c.parseRevision(entry.Payload.Revision)

		if err == nil {
			if err := c.container.Remove(rev); err == nil {
				c.recordPending(entry.Payload.Kind, rev.Id())
			}
		}
	case raftchunk.PayloadAddPeer:
		c.mu.Lock()
		c.peers[ids.NewPeerId(entry.Payload.Peer)] = true
		c.mu.Unlock()
	case raftchunk.PayloadRemovePeer:
		c.mu.Lock()
		delete(c.peers, ids.NewPeerId(entry.Payload.Peer))
		c.mu.Unlock()
	case raftchunk.PayloadLockAcquire:
		c.applyLockAcquire(entry)
	case raftchunk.PayloadLockRelease:
		c.applyLockRelease(entry)
	}

	c.runTriggers()
}

// applyLockAcquire grants the write-lock lease to entry's acquisition
// if no other lease is currently held, deterministically so every
// replica reaches the same verdict for the same committed index.
func (c *Chunk) applyLockAcquire(entry raftchunk.LogEntry) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	granted := !c.leaseHeld

	if granted {
		c.leaseHeld = true
		c.leaseIndex = entry.Index
	}

	c.leaseGrant[entry.Index] = granted
	c.leaseApplied = entry.Index
	c.leaseCond.Broadcast()
}

// applyLockRelease clears the write-lock lease if entry's PriorIndex
// matches the index of the acquisition currently holding it. A
// mismatch means a release was proposed without a matching acquire,
// which the log's LockAcquire/LockRelease contract should never allow
// — a protocol violation, fatal to this replica.
func (c *Chunk) applyLockRelease(entry raftchunk.LogEntry) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	if !c.leaseHeld || c.leaseIndex != entry.Payload.PriorIndex {
		c.leaseApplied = entry.Index
		c.leaseCond.Broadcast()

		faults.Violation(context.Background(), c.logger, "lock release without matching acquire",
			zap.Uint64("prior_index", entry.Payload.PriorIndex), zap.Uint64("held_index", c.leaseIndex))

		return
	}

	c.leaseHeld = false
	c.leaseIndex = 0
	c.leaseApplied = entry.Index
	c.leaseCond.Broadcast()
}

// awaitLeaseApplied blocks until the lease effect of the entry at
// index has been applied locally.
func (c *Chunk) awaitLeaseApplied(index uint64) {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	for c.leaseApplied < index {
		c.leaseCond.Wait()
	}
}

// leaseGranted reports (and consumes) whether the acquisition proposed
// at index was granted once applied.
func (c *Chunk) leaseGranted(index uint64) bool {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	granted := c.leaseGrant[index]
	delete(c.leaseGrant, index)

	return granted
}

// currentLeaseIndex returns the commit index of the lease currently
// held, for a caller about to propose its release.
func (c *Chunk) currentLeaseIndex() uint64 {
	c.leaseMu.Lock()
	defer c.leaseMu.Unlock()

	return c.leaseIndex
}

func (c *Chunk) parseRevision(data []byte) (*revision.Revision, error) {
	return revision.Parse(c.descriptorHint(), data)
}

// descriptorHint exists because revision.Parse needs a
// *revision.TableDescriptor and the container doesn't expose its own;
// chunk keeps the descriptor it was built with for exactly this.
func (c *Chunk) descriptorHint() *revision.TableDescriptor {
	return c.desc
}

// Leave marks this replica as having relinquished the chunk: legacy
// mode declines further lock requests; consensus mode is expected to
// be removed via a RemovePeer entry by the leader first. Data is not
// moved off a leaving peer. TODO: rebalance the departed replica's
// data onto the remaining peers before production use.
func (c *Chunk) Leave() {
	c.mu.Lock()
	c.relinquished = true
	c.mu.Unlock()

	if c.mode == Legacy {
		c.lock.Relinquish()
	} else {
		c.raft.Stop()
	}
}

// Leader returns the current Raft leader in consensus mode, or the
// zero PeerId in legacy mode (which has no leader concept).
func (c *Chunk) Leader() ids.PeerId {
	if c.mode != Consensus {
		return ids.PeerId{}
	}

	return c.raft.Leader()
}

// EnsureWritable returns faults.NotLeaderError in consensus mode if
// this replica isn't the leader; legacy mode is always writable
// locally (writability there is enforced by acquiring the lock).
func (c *Chunk) EnsureWritable() error {
	if c.mode == Consensus && !c.raft.Leader().Equal(c.self) {
		return &faults.NotLeaderError{Leader: c.raft.Leader().Address()}
	}

	return nil
}
