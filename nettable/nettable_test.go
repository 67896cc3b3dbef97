package nettable_test

import (
	"context"
	"testing"

	"github.com/kvswarm/kvswarm/chunk"
	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/nettable"
	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/transport"
)

func testDesc(t *testing.T) *revision.TableDescriptor {
	t.Helper()

	desc, err := revision.NewTableDescriptor("widgets", []revision.FieldDescriptor{
		{Name: "field0", Type: revision.FieldInt32},
	})

	if err != nil {
		t.Fatalf("NewTableDescriptor: %s", err)
	}

	return desc
}

func TestCreateChunkAndGetByIdLocal(t *testing.T) {
	desc := testDesc(t)
	self := ids.NewPeerId("a:1")
	dir := transport.NewStaticDirectory(self)
	router := transport.NewRouter(dir)
	dir.Add(self, router)

	table := nettable.New("widgets", desc, self, router, nil, chunk.Legacy)
	c := table.CreateChunk()

	recordId := ids.RecordId(ids.NewId())
	rev, err := revision.New(desc, recordId, c.Id(), 5, 5, false, []revision.Value{revision.Int32Value(1)})

	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := c.Insert(context.Background(), rev); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	got, err := table.GetById(context.Background(), recordId, 5)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got == nil || got.Id() != recordId {
		t.Fatalf("GetById = %v, want %s", got, recordId)
	}
}

func TestGetByIdMissingReturnsNil(t *testing.T) {
	desc := testDesc(t)
	self := ids.NewPeerId("a:1")
	dir := transport.NewStaticDirectory(self)
	router := transport.NewRouter(dir)
	dir.Add(self, router)

	table := nettable.New("widgets", desc, self, router, nil, chunk.Legacy)
	table.CreateChunk()

	got, err := table.GetById(context.Background(), ids.RecordId(ids.NewId()), 5)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got != nil {
		t.Fatalf("GetById of unknown id = %v, want nil", got)
	}
}
