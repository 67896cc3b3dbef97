package txn

import (
	"context"
	"fmt"

	"github.com/kvswarm/kvswarm/chunk"
	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/logicaltime"
)

// Transaction is a client-visible handle scoped to one or more tables
// at a begin time, staging insertions/updates per chunk and
// coordinating their commit across every chunk touched.
type Transaction struct {
	clock     *logicaltime.Clock
	beginTime uint64
	perChunk  map[ids.ChunkId]*ChunkTxn
	order     []ids.ChunkId // ascending chunk_id, built as chunks are touched
}

// Begin opens a transaction at clock's current logical time; reads
// against it are at this begin time.
func Begin(clock *logicaltime.Clock) *Transaction {
	return &Transaction{
		clock:     clock,
		beginTime: clock.Sample(),
		perChunk:  make(map[ids.ChunkId]*ChunkTxn),
	}
}

// BeginTime returns the transaction's begin time.
func (tx *Transaction) BeginTime() uint64 { return tx.beginTime }

// chunkTxn returns (creating if needed) the staging area for c,
// keeping tx.order sorted ascending by chunk id so Commit acquires
// locks in a deadlock-free order.
func (tx *Transaction) chunkTxn(c *chunk.Chunk) *ChunkTxn {
	if ct, ok := tx.perChunk[c.Id()]; ok {
		return ct
	}

	ct := newChunkTxn(c, tx.beginTime)
	tx.perChunk[c.Id()] = ct

	i := 0

	for ; i < len(tx.order); i++ {
		if c.Id().Compare(tx.order[i]) < 0 {
			break
		}
	}

	tx.order = append(tx.order, ids.ChunkId{})
	copy(tx.order[i+1:], tx.order[i:])
	tx.order[i] = c.Id()

	return ct
}

// Chunk returns the staging area for c, creating it if this is the
// first operation against c in this transaction.
func (tx *Transaction) Chunk(c *chunk.Chunk) *ChunkTxn {
	return tx.chunkTxn(c)
}

// Commit acquires every touched chunk's write primitive in ascending
// chunk_id order, runs every chunk's check, and on all-pass applies
// every staged write at a single commit time strictly greater than
// begin_time, then releases in reverse order. Any check failure aborts
// with faults.ConflictRetry.
func (tx *Transaction) Commit(ctx context.Context) error {
	chunks := make(map[ids.ChunkId]*chunk.Chunk, len(tx.perChunk))

	for id, ct := range tx.perChunk {
		chunks[id] = ct.chunk
	}

	acquired := make([]ids.ChunkId, 0, len(tx.order))

	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = chunks[acquired[i]].Unlock(ctx)
		}
	}

	for _, id := range tx.order {
		if err := chunks[id].Lock(ctx); err != nil {
			release()
			return fmt.Errorf("%w: acquiring chunk %s: %s", faults.Unavailable, id, err)
		}

		acquired = append(acquired, id)
	}

	for _, id := range tx.order {
		if err := tx.perChunk[id].check(); err != nil {
			release()
			return fmt.Errorf("%w: %s", faults.ConflictRetry, err)
		}
	}

	// Sample() is a strictly increasing counter and beginTime was taken
	// from an earlier Sample() call, so commitTime > beginTime always
	// holds without an explicit check.
	commitTime := tx.clock.Sample()

	for _, id := range tx.order {
		if err := tx.perChunk[id].applyAt(ctx, commitTime); err != nil {
			release()
			return err
		}
	}

	release()

	return nil
}
