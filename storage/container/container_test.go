package container_test

import (
	"errors"
	"testing"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/storage/container"
)

func newDesc(t *testing.T) *revision.TableDescriptor {
	t.Helper()

	desc, err := revision.NewTableDescriptor("widgets", []revision.FieldDescriptor{
		{Name: "field0", Type: revision.FieldInt32},
	})

	if err != nil {
		t.Fatalf("NewTableDescriptor: %s", err)
	}

	return desc
}

func newRev(t *testing.T, desc *revision.TableDescriptor, chunkId ids.ChunkId, id ids.RecordId, at uint64, value int32) *revision.Revision {
	t.Helper()

	rev, err := revision.New(desc, id, chunkId, at, at, false, []revision.Value{revision.Int32Value(value)})

	if err != nil {
		t.Fatalf("New: %s", err)
	}

	return rev
}

// Single-peer insert/read.
func TestSinglePeerInsertRead(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	rev := newRev(t, desc, chunkId, recordId, 10, 42)

	if err := c.Insert(rev); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	dump10, err := c.Dump(10)

	if err != nil {
		t.Fatalf("Dump(10): %s", err)
	}

	if len(dump10) != 1 || dump10[0].Id() != recordId {
		t.Fatalf("dump(10) = %v, want just %s", dump10, recordId)
	}

	dump9, err := c.Dump(9)

	if err != nil {
		t.Fatalf("Dump(9): %s", err)
	}

	if len(dump9) != 0 {
		t.Fatalf("dump(9) = %v, want empty", dump9)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	rev := newRev(t, desc, chunkId, recordId, 1, 1)

	if err := c.Insert(rev); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	err := c.Insert(rev)

	if !errors.Is(err, faults.Duplicate) {
		t.Fatalf("expected Duplicate, got %v", err)
	}
}

func TestBulkInsertAllOrNone(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	c := container.New(chunkId, desc)

	existing := ids.RecordId(ids.NewId())

	if err := c.Insert(newRev(t, desc, chunkId, existing, 1, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	fresh := ids.RecordId(ids.NewId())
	err := c.BulkInsert([]*revision.Revision{
		newRev(t, desc, chunkId, fresh, 2, 2),
		newRev(t, desc, chunkId, existing, 3, 3),
	})

	if !errors.Is(err, faults.Duplicate) {
		t.Fatalf("expected Duplicate, got %v", err)
	}

	got, err := c.GetById(fresh, 100)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got != nil {
		t.Fatal("bulk insert must not partially apply on failure")
	}
}

func TestUpdateRequiresPriorHeadAndLaterTime(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	if err := c.Update(newRev(t, desc, chunkId, recordId, 1, 1)); err == nil {
		t.Fatal("expected update without prior insert to fail")
	}

	if err := c.Insert(newRev(t, desc, chunkId, recordId, 5, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	staleErr := c.Update(newRev(t, desc, chunkId, recordId, 5, 2))

	if !errors.Is(staleErr, faults.StaleUpdate) {
		t.Fatalf("expected StaleUpdate, got %v", staleErr)
	}

	if err := c.Update(newRev(t, desc, chunkId, recordId, 6, 2)); err != nil {
		t.Fatalf("Update: %s", err)
	}

	got, err := c.GetById(recordId, 6)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got == nil {
		t.Fatal("expected head at t=6")
	}

	v, _ := got.Get(0)
	n, _ := v.Int32()

	if n != 2 {
		t.Fatalf("expected updated value 2, got %d", n)
	}
}

func TestRemoveIsTombstone(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	if err := c.Insert(newRev(t, desc, chunkId, recordId, 1, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	tombstone := newRev(t, desc, chunkId, recordId, 1, 1).WithTombstone(2)

	if err := c.Remove(tombstone); err != nil {
		t.Fatalf("Remove: %s", err)
	}

	got, err := c.GetById(recordId, 2)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got != nil {
		t.Fatal("expected removed record to be absent from GetById")
	}

	count, err := c.Count(2)

	if err != nil {
		t.Fatalf("Count: %s", err)
	}

	if count != 0 {
		t.Fatalf("expected count(2) == 0 after remove, got %d", count)
	}

	if len(c.History(recordId)) != 2 {
		t.Fatalf("expected 2 history entries (insert + tombstone), got %d", len(c.History(recordId)))
	}
}

func TestPatchIdempotence(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	rev := newRev(t, desc, chunkId, recordId, 5, 1)

	if err := c.Patch(rev); err != nil {
		t.Fatalf("Patch: %s", err)
	}

	if err := c.Patch(rev); err != nil {
		t.Fatalf("Patch (again): %s", err)
	}

	if len(c.History(recordId)) != 1 {
		t.Fatalf("patching the same revision twice must equal patching once, got %d entries", len(c.History(recordId)))
	}
}

func TestPatchOutOfOrderInsertsAtCorrectPosition(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	if err := c.Patch(newRev(t, desc, chunkId, recordId, 10, 3)); err != nil {
		t.Fatalf("Patch: %s", err)
	}

	if err := c.Patch(newRev(t, desc, chunkId, recordId, 5, 1)); err != nil {
		t.Fatalf("Patch: %s", err)
	}

	hist := c.History(recordId)

	if len(hist) != 2 || hist[0].UpdateTime() != 10 || hist[1].UpdateTime() != 5 {
		t.Fatalf("expected history ordered newest-first [10, 5], got %v", hist)
	}
}

func TestChunkHistoryOrdersByTime(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	c := container.New(chunkId, desc)

	a := ids.RecordId(ids.NewId())
	b := ids.RecordId(ids.NewId())

	if err := c.Insert(newRev(t, desc, chunkId, a, 3, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	if err := c.Insert(newRev(t, desc, chunkId, b, 1, 2)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	if err := c.Update(newRev(t, desc, chunkId, a, 5, 3)); err != nil {
		t.Fatalf("Update: %s", err)
	}

	hist, err := c.ChunkHistory(chunkId, 4)

	if err != nil {
		t.Fatalf("ChunkHistory: %s", err)
	}

	if len(hist) != 2 {
		t.Fatalf("expected 2 revisions with update_time <= 4, got %d", len(hist))
	}

	if hist[0].UpdateTime() > hist[1].UpdateTime() {
		t.Fatal("expected ChunkHistory in ascending time order")
	}
}

// A read at a time Compact has discarded fails with ErrCompacted
// rather than silently returning a stale or empty answer, while reads
// at or after the watermark keep working normally.
func TestCompactFailsReadsBelowWatermark(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	recordId := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	if err := c.Insert(newRev(t, desc, chunkId, recordId, 1, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	if err := c.Update(newRev(t, desc, chunkId, recordId, 5, 2)); err != nil {
		t.Fatalf("Update: %s", err)
	}

	if err := c.Update(newRev(t, desc, chunkId, recordId, 10, 3)); err != nil {
		t.Fatalf("Update: %s", err)
	}

	c.Compact(10)

	if _, err := c.GetById(recordId, 3); !errors.Is(err, container.ErrCompacted) {
		t.Fatalf("GetById(3) after Compact(10) = %v, want ErrCompacted", err)
	}

	if _, err := c.Dump(3); !errors.Is(err, container.ErrCompacted) {
		t.Fatalf("Dump(3) after Compact(10) = %v, want ErrCompacted", err)
	}

	got, err := c.GetById(recordId, 10)

	if err != nil {
		t.Fatalf("GetById(10): %s", err)
	}

	v, _ := got.Get(0)
	n, _ := v.Int32()

	if n != 3 {
		t.Fatalf("GetById(10) after compact = %d, want 3", n)
	}

	// A later before that's no larger than a prior one is a no-op: it
	// must not lower the watermark and re-permit reads it had already
	// closed off.
	c.Compact(5)

	if _, err := c.GetById(recordId, 6); !errors.Is(err, container.ErrCompacted) {
		t.Fatalf("GetById(6) after Compact(10) then Compact(5) = %v, want ErrCompacted", err)
	}
}

// History and ChunkHistory read two different indexes over the same
// underlying revisions (the per-record slice and the chunk-wide
// timeline); Compact must prune both in lockstep or the two ways of
// asking "what happened to this chunk" disagree.
func TestCompactPrunesTimelineAlongsideHistory(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	a := ids.RecordId(ids.NewId())
	b := ids.RecordId(ids.NewId())
	c := container.New(chunkId, desc)

	if err := c.Insert(newRev(t, desc, chunkId, a, 1, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}
	if err := c.Insert(newRev(t, desc, chunkId, b, 2, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}
	if err := c.Update(newRev(t, desc, chunkId, a, 5, 2)); err != nil {
		t.Fatalf("Update: %s", err)
	}
	if err := c.Update(newRev(t, desc, chunkId, b, 6, 2)); err != nil {
		t.Fatalf("Update: %s", err)
	}
	if err := c.Update(newRev(t, desc, chunkId, a, 10, 3)); err != nil {
		t.Fatalf("Update: %s", err)
	}

	// Before compacting, both indexes see every revision ever accepted.
	beforeHist, err := c.ChunkHistory(chunkId, 10)

	if err != nil {
		t.Fatalf("ChunkHistory: %s", err)
	}

	if len(beforeHist) != 5 {
		t.Fatalf("ChunkHistory(10) before compact = %d entries, want 5", len(beforeHist))
	}

	c.Compact(10)

	if len(c.History(a)) != 1 {
		t.Fatalf("History(a) after Compact(10) = %d entries, want 1 (just the retained head)", len(c.History(a)))
	}

	if len(c.History(b)) != 1 {
		t.Fatalf("History(b) after Compact(10) = %d entries, want 1 (just the retained head)", len(c.History(b)))
	}

	afterHist, err := c.ChunkHistory(chunkId, 10)

	if err != nil {
		t.Fatalf("ChunkHistory after Compact: %s", err)
	}

	if len(afterHist) != 2 {
		t.Fatalf("ChunkHistory(10) after Compact(10) = %d entries, want 2 (one retained head per record), got %v", len(afterHist), afterHist)
	}
}
