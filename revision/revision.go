// Package revision implements the versioned record envelope and its
// wire format.
package revision

import (
	"fmt"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
)

// Revision is an immutable-once-published record envelope: a record id,
// its owning chunk, insert/update times, a removed (tombstone) flag, and
// an ordered list of typed fields checked against a TableDescriptor.
//
// A Revision is shared (reference-counted by Go's GC) between the
// staging transaction that created it, a chunk container's history, and
// outbound network payloads; once published it must not be mutated —
// callers that need to change a field must build a new Revision with
// With* below.
type Revision struct {
	id         ids.RecordId
	chunkId    ids.ChunkId
	insertTime uint64
	updateTime uint64
	removed    bool
	fields     []Value
	desc       *TableDescriptor
}

// New constructs a Revision against desc, validating that fields
// positionally match desc's columns. insertTime and updateTime must
// satisfy insertTime <= updateTime; callers are
// responsible for the "<= now" half of that invariant, which requires a
// wall-clock or logical-time source this package doesn't have.
func New(desc *TableDescriptor, id ids.RecordId, chunkId ids.ChunkId, insertTime, updateTime uint64, removed bool, fields []Value) (*Revision, error) {
	if desc == nil {
		return nil, fmt.Errorf("table descriptor is required")
	}

	if err := desc.ValidateFields(fields); err != nil {
		return nil, err
	}

	if insertTime > updateTime {
		return nil, fmt.Errorf("insert_time (%d) must not exceed update_time (%d)", insertTime, updateTime)
	}

	return &Revision{
		id:         id,
		chunkId:    chunkId,
		insertTime: insertTime,
		updateTime: updateTime,
		removed:    removed,
		fields:     append([]Value(nil), fields...),
		desc:       desc,
	}, nil
}

// Id returns the record id this revision belongs to.
func (r *Revision) Id() ids.RecordId { return r.id }

// ChunkId returns the chunk this revision was inserted into.
func (r *Revision) ChunkId() ids.ChunkId { return r.chunkId }

// InsertTime returns the logical time the record was first inserted.
func (r *Revision) InsertTime() uint64 { return r.insertTime }

// UpdateTime returns the logical time this specific revision was
// produced.
func (r *Revision) UpdateTime() uint64 { return r.updateTime }

// Removed reports whether this revision is a tombstone.
func (r *Revision) Removed() bool { return r.removed }

// Descriptor returns the table descriptor this revision was validated
// against.
func (r *Revision) Descriptor() *TableDescriptor { return r.desc }

// NumFields returns the number of positional fields.
func (r *Revision) NumFields() int { return len(r.fields) }

// Get returns the field at index i. It fails with SchemaMismatch if i is
// out of range, the degenerate case of "no agreeing type at that index".
func (r *Revision) Get(i int) (Value, error) {
	if i < 0 || i >= len(r.fields) {
		return Value{}, fmt.Errorf("%w: field index %d out of range", faults.SchemaMismatch, i)
	}

	return r.fields[i], nil
}

// Set returns a copy of r with the field at index i replaced by v. It
// fails with SchemaMismatch if i is out of range or v's type disagrees
// with the descriptor's type at that index.
func (r *Revision) Set(i int, v Value) (*Revision, error) {
	if i < 0 || i >= len(r.fields) {
		return nil, fmt.Errorf("%w: field index %d out of range", faults.SchemaMismatch, i)
	}

	expected, err := r.desc.TypeAt(i)

	if err != nil {
		return nil, err
	}

	if expected != v.Type() {
		return nil, fmt.Errorf("%w: field %d expects %s, got %s", faults.SchemaMismatch, i, expected, v.Type())
	}

	next := *r
	next.fields = append([]Value(nil), r.fields...)
	next.fields[i] = v

	return &next, nil
}

// StructureMatch reports whether r and other were built against
// descriptors with the same columns in the same order.
func (r *Revision) StructureMatch(other *Revision) bool {
	if other == nil {
		return false
	}

	return r.desc.Match(other.desc)
}

// WithChunkId returns a copy of r with its chunk id replaced. Used when
// a ChunkTxn stages an insertion into a specific chunk.
func (r *Revision) WithChunkId(chunkId ids.ChunkId) *Revision {
	next := *r
	next.chunkId = chunkId

	return &next
}

// WithTombstone returns a copy of r marked removed, with updateTime set
// to t, used to build a remove revision.
func (r *Revision) WithTombstone(t uint64) *Revision {
	next := *r
	next.updateTime = t
	next.removed = true

	return &next
}

// WithTimes returns a copy of r with insertTime and updateTime
// replaced, fields unchanged. Used to timestamp a staged transaction
// revision at commit time.
func (r *Revision) WithTimes(insertTime, updateTime uint64) *Revision {
	next := *r
	next.insertTime = insertTime
	next.updateTime = updateTime

	return &next
}

// WithUpdate returns a copy of r with updateTime set to t and fields
// replaced, used to build the next head revision for update().
func (r *Revision) WithUpdate(t uint64, fields []Value) (*Revision, error) {
	if err := r.desc.ValidateFields(fields); err != nil {
		return nil, err
	}

	next := *r
	next.updateTime = t
	next.fields = append([]Value(nil), fields...)

	return &next, nil
}

// Equal reports deep equality of two revisions.
func (r *Revision) Equal(other *Revision) bool {
	if other == nil {
		return false
	}

	if r.id.Compare(other.id) != 0 || r.chunkId.Compare(other.chunkId) != 0 {
		return false
	}

	if r.insertTime != other.insertTime || r.updateTime != other.updateTime || r.removed != other.removed {
		return false
	}

	if len(r.fields) != len(other.fields) {
		return false
	}

	for i := range r.fields {
		if !r.fields[i].Equal(other.fields[i]) {
			return false
		}
	}

	return true
}
