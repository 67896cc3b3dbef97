// Package container implements the in-memory per-chunk record history:
// every record's revisions ordered newest-first, queried at a point in
// logical time.
package container

import (
	"fmt"
	"sort"
	"sync"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/revision"
)

// Container is the in-memory history container for a single chunk. All
// exported methods are safe for concurrent use; mutation is serialized
// by a single read/write mutex, matching storage/mvcc.partition's
// per-container locking pattern of wrapping every op in the
// underlying kv transaction's lock.
type Container struct {
	mu      sync.RWMutex
	chunkId ids.ChunkId
	desc    *revision.TableDescriptor
	records map[ids.RecordId]*recordHistory

	// timeline indexes every revision ever accepted by update_time, to
	// answer ChunkHistory without rescanning every record. Keyed by
	// (update_time, sequence) so simultaneous revisions at the same
	// logical time keep a stable relative order.
	timeline    *redblacktree.Tree
	timelineSeq uint64

	// compactedBefore is the largest `before` ever passed to Compact: a
	// point-in-time read for any t < compactedBefore can no longer be
	// answered correctly, since Compact has discarded the revisions
	// that would resolve it.
	compactedBefore uint64
}

type recordHistory struct {
	// revisions is ordered newest-first, by descending update_time.
	revisions []*revision.Revision
}

type timelineKey struct {
	updateTime uint64
	seq        uint64
}

func timelineComparator(a, b interface{}) int {
	ka := a.(timelineKey)
	kb := b.(timelineKey)

	switch {
	case ka.updateTime < kb.updateTime:
		return -1
	case ka.updateTime > kb.updateTime:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// New creates an empty container for chunkId, validating revisions
// against desc.
func New(chunkId ids.ChunkId, desc *revision.TableDescriptor) *Container {
	return &Container{
		chunkId:  chunkId,
		desc:     desc,
		records:  make(map[ids.RecordId]*recordHistory),
		timeline: redblacktree.NewWith(timelineComparator),
	}
}

// ChunkId returns the chunk id this container holds records for.
func (c *Container) ChunkId() ids.ChunkId {
	return c.chunkId
}

func (c *Container) recordTimeline(rev *revision.Revision) {
	c.timelineSeq++
	c.timeline.Put(timelineKey{updateTime: rev.UpdateTime(), seq: c.timelineSeq}, rev)
}

// insertLocked places rev as the sole (first) entry for its id. Caller
// holds c.mu for writing.
func (c *Container) insertLocked(rev *revision.Revision) error {
	if rev.ChunkId().Compare(c.chunkId) != 0 {
		return fmt.Errorf("revision chunk_id %s does not match container chunk_id %s", rev.ChunkId(), c.chunkId)
	}

	if _, exists := c.records[rev.Id()]; exists {
		return fmt.Errorf("%w: record %s already exists in chunk %s", faults.Duplicate, rev.Id(), c.chunkId)
	}

	c.records[rev.Id()] = &recordHistory{revisions: []*revision.Revision{rev}}
	c.recordTimeline(rev)

	return nil
}

// Insert adds a brand-new record. It fails with faults.Duplicate if id
// already exists.
func (c *Container) Insert(rev *revision.Revision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.insertLocked(rev)
}

// BulkInsert inserts every revision in revs, atomically with respect to
// faults.Duplicate: if any id already exists, none are inserted.
func (c *Container) BulkInsert(revs []*revision.Revision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rev := range revs {
		if rev.ChunkId().Compare(c.chunkId) != 0 {
			return fmt.Errorf("revision chunk_id %s does not match container chunk_id %s", rev.ChunkId(), c.chunkId)
		}

		if _, exists := c.records[rev.Id()]; exists {
			return fmt.Errorf("%w: record %s already exists in chunk %s", faults.Duplicate, rev.Id(), c.chunkId)
		}
	}

	seen := make(map[ids.RecordId]bool, len(revs))

	for _, rev := range revs {
		if seen[rev.Id()] {
			return fmt.Errorf("%w: record %s appears twice in bulk insert", faults.Duplicate, rev.Id())
		}

		seen[rev.Id()] = true
	}

	for _, rev := range revs {
		c.records[rev.Id()] = &recordHistory{revisions: []*revision.Revision{rev}}
		c.recordTimeline(rev)
	}

	return nil
}

// Update appends rev as the new head for its id. It requires a prior
// head to exist and rev.UpdateTime() > prior head's update time.
func (c *Container) Update(rev *revision.Revision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hist, exists := c.records[rev.Id()]

	if !exists || len(hist.revisions) == 0 {
		return fmt.Errorf("record %s has no prior head to update", rev.Id())
	}

	head := hist.revisions[0]

	if rev.UpdateTime() <= head.UpdateTime() {
		return fmt.Errorf("%w: update time %d is not after current head time %d", faults.StaleUpdate, rev.UpdateTime(), head.UpdateTime())
	}

	hist.revisions = append([]*revision.Revision{rev}, hist.revisions...)
	c.recordTimeline(rev)

	return nil
}

// Remove appends a tombstone revision as the new head for its id,
// following the same ordering rule as Update.
func (c *Container) Remove(rev *revision.Revision) error {
	return c.Update(rev)
}

// Patch idempotently applies a revision received from a peer: if newer
// than the head, insert at the front; if older, insert at its correct
// position in history; if equal to an existing entry, drop it. Patch
// never fails on missing prior state — it's how a fresh
// replica bootstraps its history from a snapshot or a lagging follower
// catches up.
func (c *Container) Patch(rev *revision.Revision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rev.ChunkId().Compare(c.chunkId) != 0 {
		return fmt.Errorf("revision chunk_id %s does not match container chunk_id %s", rev.ChunkId(), c.chunkId)
	}

	hist, exists := c.records[rev.Id()]

	if !exists {
		c.records[rev.Id()] = &recordHistory{revisions: []*revision.Revision{rev}}
		c.recordTimeline(rev)

		return nil
	}

	for _, existing := range hist.revisions {
		if existing.UpdateTime() == rev.UpdateTime() {
			// Equal: treat any entry at the same update_time as the one
			// being patched, since two distinct revisions of the same
			// record can't legitimately share an update_time.
			return nil
		}
	}

	i := sort.Search(len(hist.revisions), func(i int) bool {
		return hist.revisions[i].UpdateTime() <= rev.UpdateTime()
	})

	hist.revisions = append(hist.revisions, nil)
	copy(hist.revisions[i+1:], hist.revisions[i:])
	hist.revisions[i] = rev
	c.recordTimeline(rev)

	return nil
}

// checkRetainedLocked reports ErrCompacted if t falls before the
// compaction watermark. Caller holds c.mu (any lock mode).
func (c *Container) checkRetainedLocked(t uint64) error {
	if t < c.compactedBefore {
		return ErrCompacted
	}

	return nil
}

// latestAtLocked returns the revision for id with the greatest
// update_time <= t, or nil if none exists.
func (c *Container) latestAtLocked(id ids.RecordId, t uint64) *revision.Revision {
	hist, exists := c.records[id]

	if !exists {
		return nil
	}

	for _, rev := range hist.revisions {
		if rev.UpdateTime() <= t {
			return rev
		}
	}

	return nil
}

// GetById returns the head revision for id at time t, or nil if id
// doesn't exist at t or its head at t is a tombstone. It fails with
// ErrCompacted if t is older than the container's compaction
// watermark, since the history needed to answer it may be gone.
func (c *Container) GetById(id ids.RecordId, t uint64) (*revision.Revision, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkRetainedLocked(t); err != nil {
		return nil, err
	}

	rev := c.latestAtLocked(id, t)

	if rev == nil || rev.Removed() {
		return nil, nil
	}

	return rev, nil
}

// History returns the full, newest-first revision history for id.
// Callers must not mutate the returned slice.
func (c *Container) History(id ids.RecordId) []*revision.Revision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hist, exists := c.records[id]

	if !exists {
		return nil
	}

	return append([]*revision.Revision(nil), hist.revisions...)
}

// AvailableIds returns every record id whose head at t is not a
// tombstone. Order is unspecified but stable within one call. It fails
// with ErrCompacted under the same condition as GetById.
func (c *Container) AvailableIds(t uint64) ([]ids.RecordId, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkRetainedLocked(t); err != nil {
		return nil, err
	}

	out := make([]ids.RecordId, 0, len(c.records))

	for id := range c.records {
		if rev := c.latestAtLocked(id, t); rev != nil && !rev.Removed() {
			out = append(out, id)
		}
	}

	return out, nil
}

// Count returns the number of records whose head at t is not a
// tombstone; count(t) == len(dump(t)).
func (c *Container) Count(t uint64) (int, error) {
	available, err := c.AvailableIds(t)

	if err != nil {
		return 0, err
	}

	return len(available), nil
}

// FindByField returns every record whose head at t has the given
// positional field equal to value.
func (c *Container) FindByField(fieldIndex int, value revision.Value, t uint64) ([]*revision.Revision, error) {
	if fieldIndex < 0 || fieldIndex >= c.desc.NumColumns() {
		return nil, fmt.Errorf("field index %d out of range", fieldIndex)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkRetainedLocked(t); err != nil {
		return nil, err
	}

	var out []*revision.Revision

	for id := range c.records {
		rev := c.latestAtLocked(id, t)

		if rev == nil || rev.Removed() {
			continue
		}

		fv, err := rev.Get(fieldIndex)

		if err != nil {
			return nil, err
		}

		if fv.Equal(value) {
			out = append(out, rev)
		}
	}

	return out, nil
}

// Dump returns the head revision of every non-tombstoned record at t.
// It fails with ErrCompacted under the same condition as GetById.
func (c *Container) Dump(t uint64) ([]*revision.Revision, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkRetainedLocked(t); err != nil {
		return nil, err
	}

	out := make([]*revision.Revision, 0, len(c.records))

	for id := range c.records {
		if rev := c.latestAtLocked(id, t); rev != nil && !rev.Removed() {
			out = append(out, rev)
		}
	}

	return out, nil
}

// ChunkHistory returns every revision accepted by this container with
// update_time <= t, in ascending time order, provided chunkId matches
// this container's chunk.
func (c *Container) ChunkHistory(chunkId ids.ChunkId, t uint64) ([]*revision.Revision, error) {
	if chunkId.Compare(c.chunkId) != 0 {
		return nil, fmt.Errorf("chunk id %s does not match container chunk %s", chunkId, c.chunkId)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkRetainedLocked(t); err != nil {
		return nil, err
	}

	out := make([]*revision.Revision, 0, c.timeline.Size())
	it := c.timeline.Iterator()

	for it.Next() {
		key := it.Key().(timelineKey)

		if key.updateTime > t {
			break
		}

		out = append(out, it.Value().(*revision.Revision))
	}

	return out, nil
}

// Compact discards history entries older than before for every record
// that has a newer entry, keeping the newest entry with update_time <=
// before so that latestAt/dump continue to answer correctly for any
// retained time >= before. It prunes the same discarded entries out of
// the timeline index, so ChunkHistory shrinks along with History/Dump
// instead of continuing to report revisions no other read can still
// see. This is a maintenance operation storage/mvcc's own Compact
// motivates: a container that no chunk holder ever compacts will grow
// its history forever, since remove() and update() only append.
//
// Compact raises the container's compaction watermark to before (it
// never lowers it, so calling Compact with an older `before` than a
// prior call is a no-op); every read that takes a point-in-time
// argument fails with ErrCompacted once its t falls below the
// watermark.
func (c *Container) Compact(before uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if before <= c.compactedBefore {
		return
	}

	discarded := make(map[*revision.Revision]bool)

	for _, hist := range c.records {
		i := sort.Search(len(hist.revisions), func(i int) bool {
			return hist.revisions[i].UpdateTime() <= before
		})

		if i < len(hist.revisions) {
			// Keep index i (the first entry with update_time <= before);
			// everything after it is now unreachable from any retained
			// query since queries at t >= before resolve to an entry at
			// or above index i.
			for _, rev := range hist.revisions[i+1:] {
				discarded[rev] = true
			}

			hist.revisions = hist.revisions[:i+1]
		}
	}

	// timeline holds every revision ever accepted, independent of
	// records; without this pass ChunkHistory would keep returning
	// revisions History/GetById/Dump can no longer see, and the
	// timeline itself would never shrink.
	if len(discarded) > 0 {
		var staleKeys []timelineKey

		it := c.timeline.Iterator()

		for it.Next() {
			if discarded[it.Value().(*revision.Revision)] {
				staleKeys = append(staleKeys, it.Key().(timelineKey))
			}
		}

		for _, key := range staleKeys {
			c.timeline.Remove(key)
		}
	}

	c.compactedBefore = before
}
