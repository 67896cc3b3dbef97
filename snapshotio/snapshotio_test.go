package snapshotio_test

import (
	"bytes"
	"testing"

	"github.com/kvswarm/kvswarm/snapshotio"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := snapshotio.NewWriter(&buf)

	w.Put([]byte("first"))
	w.Put([]byte("second"))

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	records, err := snapshotio.ReadAll(&buf)

	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}

	if len(records) != 2 || string(records[0]) != "first" || string(records[1]) != "second" {
		t.Fatalf("ReadAll = %v, want [first second]", records)
	}
}

func TestReadAllEmptyFile(t *testing.T) {
	records, err := snapshotio.ReadAll(&bytes.Buffer{})

	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}

	if records != nil {
		t.Fatalf("ReadAll of empty input = %v, want nil", records)
	}
}

func TestWriteReadZeroRecords(t *testing.T) {
	var buf bytes.Buffer
	w := snapshotio.NewWriter(&buf)

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	records, err := snapshotio.ReadAll(&buf)

	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}

	if len(records) != 0 {
		t.Fatalf("ReadAll = %v, want empty", records)
	}
}
