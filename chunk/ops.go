package chunk

import (
	"context"
	"fmt"
	"time"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/raftchunk"
	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/transport"
)

// writerThread identifies "this goroutine" to distlock's recursive
// write-lock accounting. kvswarm has no notion of OS thread ids, so
// every caller passes the same fixed id, singleWriter: a nested
// acquisition while the lock is held locally is always treated as
// recursion by the holder.
type writerThread = uint64

const singleWriter writerThread = 1

// Insert appends a brand-new record through this chunk's write
// primitive.
func (c *Chunk) Insert(ctx context.Context, rev *revision.Revision) error {
	return c.mutate(ctx, raftchunk.PayloadInsert, rev, func() error { return c.container.Insert(rev) })
}

// BulkInsert inserts every revision atomically w.r.t. Duplicate.
func (c *Chunk) BulkInsert(ctx context.Context, revs []*revision.Revision) error {
	if c.mode == Consensus {
		for _, rev := range revs {
			if err := c.Insert(ctx, rev); err != nil {
				return err
			}
		}

		return nil
	}

	return c.withLegacyWriteLock(ctx, func() error {
		if err := c.container.BulkInsert(revs); err != nil {
			return err
		}

		for _, rev := range revs {
			c.recordPending(raftchunk.PayloadInsert, rev.Id())
			c.broadcastPatch(ctx, rev, transport.MessageType(chunkInsertMessage))
		}

		return nil
	})
}

// Update appends a new head for rev's id.
func (c *Chunk) Update(ctx context.Context, rev *revision.Revision) error {
	return c.mutate(ctx, raftchunk.PayloadUpdate, rev, func() error { return c.container.Update(rev) })
}

// Remove appends a tombstone head for rev's id.
func (c *Chunk) Remove(ctx context.Context, rev *revision.Revision) error {
	return c.mutate(ctx, raftchunk.PayloadRemove, rev, func() error { return c.container.Remove(rev) })
}

const (
	chunkInsertMessage transport.MessageType = "chunk.insert"
	chunkUpdateMessage transport.MessageType = "chunk.update"
)

// mutate is the shared body of Insert/Update/Remove: consensus mode
// proposes a log entry and lets applyLogEntry perform the actual
// container mutation once committed; legacy mode mutates locally under
// the write lock and broadcasts the patch to every replica.
func (c *Chunk) mutate(ctx context.Context, kind raftchunk.PayloadKind, rev *revision.Revision, localApply func() error) error {
	if c.mode == Consensus {
		data, err := rev.Serialize()

		if err != nil {
			return err
		}

		_, err = c.raft.Propose(raftchunk.Payload{Kind: kind, Revision: data})

		return err
	}

	msg := chunkUpdateMessage

	if kind == raftchunk.PayloadInsert {
		msg = chunkInsertMessage
	}

	return c.withLegacyWriteLock(ctx, func() error {
		if err := localApply(); err != nil {
			return err
		}

		c.recordPending(kind, rev.Id())
		c.broadcastPatch(ctx, rev, msg)

		return nil
	})
}

// broadcastPatch sends rev to every other replica as a patch. It's
// best-effort: an unreachable replica catches up later via
// chunk.connect/chunk.init when it rejoins.
func (c *Chunk) broadcastPatch(ctx context.Context, rev *revision.Revision, msg transport.MessageType) {
	data, err := rev.Serialize()

	if err != nil {
		return
	}

	c.mu.Lock()
	peers := make([]ids.PeerId, 0, len(c.peers))

	for p := range c.peers {
		peers = append(peers, p)
	}

	c.mu.Unlock()

	c.messenger.Broadcast(ctx, peers, msg, data)
}

func (c *Chunk) withLegacyWriteLock(ctx context.Context, fn func() error) error {
	if err := c.lock.WriteLock(ctx, singleWriter); err != nil {
		return fmt.Errorf("%w: %s", faults.LockDeclined, err)
	}

	err := fn()

	if unlockErr := c.lock.WriteUnlock(ctx, singleWriter); unlockErr != nil && err == nil {
		err = unlockErr
	}

	c.runTriggers()

	return err
}

// leaseRetryDelay is the back-off between a declined lock-lease
// acquisition and the next proposal, mirroring distlock's own
// retryDelay for the legacy write lock.
const leaseRetryDelay = 20 * time.Millisecond

// Lock acquires the chunk's write primitive without performing a
// mutation, for callers (like a multi-chunk transaction coordinator)
// that need to hold it across several operations. In Consensus mode
// this proposes a LockAcquire entry and blocks until it commits and is
// applied, retrying if some other acquisition holds the lease at that
// point.
func (c *Chunk) Lock(ctx context.Context) error {
	if c.mode == Consensus {
		return c.consensusLock(ctx)
	}

	return c.lock.WriteLock(ctx, singleWriter)
}

func (c *Chunk) consensusLock(ctx context.Context) error {
	for {
		index, err := c.raft.Propose(raftchunk.Payload{Kind: raftchunk.PayloadLockAcquire})

		if err != nil {
			return err
		}

		c.awaitLeaseApplied(index)

		if c.leaseGranted(index) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leaseRetryDelay):
		}
	}
}

// Unlock releases what Lock acquired. In Consensus mode this proposes
// a LockRelease entry quoting the held acquisition's committed index
// and blocks until it has been applied.
func (c *Chunk) Unlock(ctx context.Context) error {
	if c.mode == Consensus {
		return c.consensusUnlock(ctx)
	}

	err := c.lock.WriteUnlock(ctx, singleWriter)
	c.runTriggers()

	return err
}

func (c *Chunk) consensusUnlock(ctx context.Context) error {
	index, err := c.raft.Propose(raftchunk.Payload{Kind: raftchunk.PayloadLockRelease, PriorIndex: c.currentLeaseIndex()})

	if err != nil {
		return err
	}

	c.awaitLeaseApplied(index)
	c.runTriggers()

	return nil
}

// RequestParticipation asks to be admitted to the chunk's replica set:
// in consensus mode this is the Connect/AddPeer handshake — send this
// peer a full snapshot, then have the leader propose AddPeer once it's
// acked. Callers on the leader use this; followers redirect via
// EnsureWritable/Leader.
func (c *Chunk) RequestParticipation(ctx context.Context, peer ids.PeerId) error {
	if c.mode == Consensus && !c.raft.Leader().Equal(c.self) {
		return &faults.NotLeaderError{Leader: c.raft.Leader().Address()}
	}

	c.mu.Lock()
	c.peers[peer] = true
	c.mu.Unlock()

	if c.mode == Consensus {
		_, err := c.raft.Propose(raftchunk.Payload{Kind: raftchunk.PayloadAddPeer, Peer: peer.Address()})
		return err
	}

	return nil
}
