package container_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/snapshotio"
	"github.com/kvswarm/kvswarm/storage/container"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	c := container.New(chunkId, desc)

	recordId := ids.RecordId(ids.NewId())

	if err := c.Insert(newRev(t, desc, chunkId, recordId, 10, 7)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	path := filepath.Join(t.TempDir(), "chunk.bolt")

	if err := c.PersistTo(path); err != nil {
		t.Fatalf("PersistTo: %s", err)
	}

	restored := container.New(chunkId, desc)

	if err := restored.LoadFrom(path); err != nil {
		t.Fatalf("LoadFrom: %s", err)
	}

	got, err := restored.GetById(recordId, 10)

	if err != nil {
		t.Fatalf("GetById: %s", err)
	}

	if got == nil || got.Id() != recordId {
		t.Fatalf("GetById after LoadFrom = %v, want %s", got, recordId)
	}
}

func TestSnapshotToProducesReadableStream(t *testing.T) {
	desc := newDesc(t)
	chunkId := ids.ChunkId(ids.NewId())
	c := container.New(chunkId, desc)

	recordId := ids.RecordId(ids.NewId())

	if err := c.Insert(newRev(t, desc, chunkId, recordId, 3, 1)); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	var buf bytes.Buffer

	if err := c.SnapshotTo(&buf); err != nil {
		t.Fatalf("SnapshotTo: %s", err)
	}

	records, err := snapshotio.ReadAll(&buf)

	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}

	if len(records) != 1 {
		t.Fatalf("ReadAll = %d records, want 1", len(records))
	}
}
