// Package txn implements the transaction engine: a per-chunk staging
// area (ChunkTxn) and a multi-chunk coordinator (Transaction) that
// locks, checks, commits, and unlocks the chunks a transaction
// touches.
package txn

import (
	"context"
	"fmt"

	"github.com/kvswarm/kvswarm/chunk"
	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/revision"
)

// ConflictCondition is a declared "fail if a record matching this
// field exists at commit time" check.
type ConflictCondition struct {
	FieldIndex int
	Value      revision.Value
}

// ChunkTxn is one chunk's staging area within a Transaction.
type ChunkTxn struct {
	chunk      *chunk.Chunk
	beginTime  uint64
	insertions map[ids.RecordId]*revision.Revision
	updates    map[ids.RecordId]*revision.Revision
	conflicts  []ConflictCondition
}

func newChunkTxn(c *chunk.Chunk, beginTime uint64) *ChunkTxn {
	return &ChunkTxn{
		chunk:      c,
		beginTime:  beginTime,
		insertions: make(map[ids.RecordId]*revision.Revision),
		updates:    make(map[ids.RecordId]*revision.Revision),
	}
}

// Insert stages rev as a new record. It fails if rev's shape doesn't
// match another already-staged revision in this chunk txn, or if id
// is already staged.
func (t *ChunkTxn) Insert(rev *revision.Revision) error {
	if _, exists := t.insertions[rev.Id()]; exists {
		return fmt.Errorf("%w: record %s already staged for insert in this transaction", faults.Duplicate, rev.Id())
	}

	if _, exists := t.updates[rev.Id()]; exists {
		return fmt.Errorf("record %s is staged for both insert and update", rev.Id())
	}

	for _, staged := range t.insertions {
		if !rev.StructureMatch(staged) {
			return fmt.Errorf("%w: record %s does not match the structure of revisions already staged", faults.SchemaMismatch, rev.Id())
		}

		break
	}

	t.insertions[rev.Id()] = rev.WithChunkId(t.chunk.Id())

	return nil
}

// Update stages rev as a new head for its id.
func (t *ChunkTxn) Update(rev *revision.Revision) error {
	if _, exists := t.updates[rev.Id()]; exists {
		return fmt.Errorf("%w: record %s already staged for update in this transaction", faults.Duplicate, rev.Id())
	}

	if _, exists := t.insertions[rev.Id()]; exists {
		return fmt.Errorf("record %s is staged for both insert and update", rev.Id())
	}

	t.updates[rev.Id()] = rev.WithChunkId(t.chunk.Id())

	return nil
}

// AddConflictCondition declares a commit-time check: the commit fails
// if any live record's field at fieldIndex equals value.
func (t *ChunkTxn) AddConflictCondition(fieldIndex int, value revision.Value) {
	t.conflicts = append(t.conflicts, ConflictCondition{FieldIndex: fieldIndex, Value: value})
}

// GetById returns the staged revision for id if present, else the
// chunk's head at the transaction's begin time. It fails with
// container.ErrCompacted if the chunk has compacted past begin_time.
func (t *ChunkTxn) GetById(id ids.RecordId) (*revision.Revision, error) {
	if rev, ok := t.insertions[id]; ok {
		return rev, nil
	}

	if rev, ok := t.updates[id]; ok {
		return rev, nil
	}

	return t.chunk.GetById(id, t.beginTime)
}

// check runs the commit-time validation against the chunk's current
// state. Caller must already hold the chunk's write primitive.
func (t *ChunkTxn) check() error {
	for id := range t.insertions {
		head, err := t.chunk.GetById(id, ^uint64(0))

		if err != nil {
			return err
		}

		if head != nil {
			return fmt.Errorf("%w: record %s already exists", faults.Duplicate, id)
		}
	}

	for id := range t.updates {
		head, err := t.chunk.GetById(id, ^uint64(0))

		if err != nil {
			return err
		}

		if head == nil {
			return fmt.Errorf("record %s has no prior head to update", id)
		}

		if head.UpdateTime() >= t.beginTime {
			return fmt.Errorf("%w: record %s was modified since begin_time %d", faults.StaleUpdate, id, t.beginTime)
		}
	}

	for _, cond := range t.conflicts {
		matches, err := t.chunkFindByField(cond.FieldIndex, cond.Value)

		if err != nil {
			return err
		}

		if len(matches) > 0 {
			return fmt.Errorf("%w: field %d matched %d live record(s)", faults.ConflictCondition, cond.FieldIndex, len(matches))
		}
	}

	return nil
}

func (t *ChunkTxn) chunkFindByField(fieldIndex int, value revision.Value) ([]*revision.Revision, error) {
	// chunk.Chunk doesn't currently expose FindByField directly (it's a
	// storage/container capability); txn only needs it for conflict
	// checks, so it reaches into the chunk's dump instead of widening
	// chunk's public surface for one caller.
	dump, err := t.chunk.Dump(^uint64(0))

	if err != nil {
		return nil, err
	}

	var out []*revision.Revision

	for _, rev := range dump {
		v, err := rev.Get(fieldIndex)

		if err != nil {
			return nil, err
		}

		if v.Equal(value) {
			out = append(out, rev)
		}
	}

	return out, nil
}

// applyAt commits every staged insertion and update at commitTime.
// Caller must hold the chunk's write primitive and must have already
// called check() successfully.
func (t *ChunkTxn) applyAt(ctx context.Context, commitTime uint64) error {
	for _, rev := range t.insertions {
		if err := t.chunk.Insert(ctx, rev.WithTimes(commitTime, commitTime)); err != nil {
			return err
		}
	}

	for _, rev := range t.updates {
		if err := t.chunk.Update(ctx, rev.WithTimes(rev.InsertTime(), commitTime)); err != nil {
			return err
		}
	}

	return nil
}
