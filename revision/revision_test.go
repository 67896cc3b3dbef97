package revision_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/revision"
)

func testDescriptor(t *testing.T) *revision.TableDescriptor {
	t.Helper()

	desc, err := revision.NewTableDescriptor("widgets", []revision.FieldDescriptor{
		{Name: "name", Type: revision.FieldString},
		{Name: "count", Type: revision.FieldInt32},
		{Name: "weight", Type: revision.FieldDouble},
		{Name: "tag", Type: revision.FieldHash},
		{Name: "payload", Type: revision.FieldBytes},
		{Name: "seen_at", Type: revision.FieldLogicalTime},
		{Name: "meta", Type: revision.FieldMessage},
	})

	if err != nil {
		t.Fatalf("NewTableDescriptor: %s", err)
	}

	return desc
}

func testRevision(t *testing.T) *revision.Revision {
	t.Helper()

	desc := testDescriptor(t)

	rev, err := revision.New(
		desc,
		ids.RecordId(ids.NewId()),
		ids.ChunkId(ids.NewId()),
		10, 10, false,
		[]revision.Value{
			revision.StringValue("widget-1"),
			revision.Int32Value(-42),
			revision.DoubleValue(3.5),
			revision.HashValue(ids.NewId()),
			revision.BytesValue([]byte{1, 2, 3}),
			revision.LogicalTimeValue(99),
			revision.MessageValue(revision.Message{Values: []revision.Value{
				revision.BoolValue(true),
				revision.Int64Value(-1),
			}}),
		},
	)

	if err != nil {
		t.Fatalf("New: %s", err)
	}

	return rev
}

func TestSchemaMismatchOnArity(t *testing.T) {
	desc := testDescriptor(t)

	_, err := revision.New(desc, ids.RecordId(ids.NewId()), ids.ChunkId(ids.NewId()), 1, 1, false, []revision.Value{revision.StringValue("x")})

	if !revision.IsSchemaMismatch(err) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestSchemaMismatchOnType(t *testing.T) {
	desc := testDescriptor(t)

	_, err := revision.New(desc, ids.RecordId(ids.NewId()), ids.ChunkId(ids.NewId()), 1, 1, false, []revision.Value{
		revision.Int32Value(1), // should be string
		revision.Int32Value(1),
		revision.DoubleValue(1),
		revision.HashValue(ids.NewId()),
		revision.BytesValue(nil),
		revision.LogicalTimeValue(1),
		revision.MessageValue(revision.Message{}),
	})

	if !revision.IsSchemaMismatch(err) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestInsertTimeMustNotExceedUpdateTime(t *testing.T) {
	desc := testDescriptor(t)

	_, err := revision.New(desc, ids.RecordId(ids.NewId()), ids.ChunkId(ids.NewId()), 10, 5, false, []revision.Value{
		revision.StringValue("x"),
		revision.Int32Value(1),
		revision.DoubleValue(1),
		revision.HashValue(ids.NewId()),
		revision.BytesValue(nil),
		revision.LogicalTimeValue(1),
		revision.MessageValue(revision.Message{}),
	})

	if err == nil {
		t.Fatal("expected error when insert_time > update_time")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	desc := testDescriptor(t)
	rev := testRevision(t)

	data, err := rev.Serialize()

	if err != nil {
		t.Fatalf("Serialize: %s", err)
	}

	parsed, err := revision.Parse(desc, data)

	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	if !rev.Equal(parsed) {
		t.Fatalf("parse(serialize(r)) != r")
	}
}

func TestStructureMatch(t *testing.T) {
	desc := testDescriptor(t)
	other, err := revision.NewTableDescriptor("gadgets", desc.Columns())

	if err != nil {
		t.Fatalf("NewTableDescriptor: %s", err)
	}

	a, err := revision.New(desc, ids.RecordId(ids.NewId()), ids.ChunkId(ids.NewId()), 1, 1, false, []revision.Value{
		revision.StringValue("a"), revision.Int32Value(1), revision.DoubleValue(1),
		revision.HashValue(ids.NewId()), revision.BytesValue(nil), revision.LogicalTimeValue(1),
		revision.MessageValue(revision.Message{}),
	})

	if err != nil {
		t.Fatalf("New: %s", err)
	}

	b, err := revision.New(other, ids.RecordId(ids.NewId()), ids.ChunkId(ids.NewId()), 1, 1, false, []revision.Value{
		revision.StringValue("b"), revision.Int32Value(2), revision.DoubleValue(2),
		revision.HashValue(ids.NewId()), revision.BytesValue(nil), revision.LogicalTimeValue(2),
		revision.MessageValue(revision.Message{}),
	})

	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if !a.StructureMatch(b) {
		t.Fatal("expected structure match across differently-named same-shaped tables")
	}
}

func TestEvolveAppendPreservesIndices(t *testing.T) {
	desc := testDescriptor(t)

	evolved, err := desc.EvolveAppend([]revision.FieldDescriptor{{Name: "extra", Type: revision.FieldBool}})

	if err != nil {
		t.Fatalf("EvolveAppend: %s", err)
	}

	for _, name := range []string{"name", "count", "weight", "tag", "payload", "seen_at", "meta"} {
		if desc.IndexOf(name) != evolved.IndexOf(name) {
			t.Fatalf("index of %q shifted after schema evolution", name)
		}
	}

	if diff := cmp.Diff(desc.Columns(), evolved.Columns()[:desc.NumColumns()]); diff != "" {
		t.Fatalf("evolved descriptor changed existing columns (-want +got):\n%s", diff)
	}
}
