// Package snapshotio implements a table-scoped snapshot format: a
// gzip-compressed stream of a one-byte format version followed by
// length-prefixed revision payloads, `{version, u32 count, [u32 size,
// bytes]*}`, framed the same way length-prefixed
// values are elsewhere on the wire in this codebase, but buffered
// rather than streamed since a chunk snapshot is bounded by the
// chunk's own size.
package snapshotio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// versionInitial is written ahead of the u32 count header so a future
// format can coexist with this one; a reader that fell back to
// treating the byte itself as the top bits of a very old, unversioned
// count header would produce nonsense, so instead versionInitial is
// chosen to be a value an unversioned reader would never see as a
// plausible leading byte of a real record count in practice-sized
// snapshots (kvswarm's own writer always emits it).
const versionInitial byte = 0x01

// Writer emits a snapshot: call Put for every live revision's already
// serialized bytes, then Close to flush the gzip trailer.
type Writer struct {
	gz  *gzip.Writer
	buf *bufio.Writer
	w   io.Writer

	staged [][]byte
}

// NewWriter wraps w. Nothing is written until Close, since the record
// count must be known before the header.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Put stages one serialized revision for inclusion in the snapshot.
func (sw *Writer) Put(payload []byte) {
	sw.staged = append(sw.staged, payload)
}

// Close writes the version byte, the count header, every staged
// payload length-prefixed, and flushes the gzip stream.
func (sw *Writer) Close() error {
	gz := gzip.NewWriter(sw.w)

	if _, err := gz.Write([]byte{versionInitial}); err != nil {
		return err
	}

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(sw.staged)))

	if _, err := gz.Write(countBuf[:]); err != nil {
		return err
	}

	var sizeBuf [4]byte

	for _, payload := range sw.staged {
		binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))

		if _, err := gz.Write(sizeBuf[:]); err != nil {
			return err
		}

		if _, err := gz.Write(payload); err != nil {
			return err
		}
	}

	return gz.Close()
}

// ReadAll decodes a snapshot written by Writer, returning every
// payload in order. A zero-length input (an empty file) yields a nil
// slice and no error, tolerating an empty snapshot file.
func ReadAll(r io.Reader) ([][]byte, error) {
	buffered := bufio.NewReader(r)

	if _, err := buffered.Peek(1); err == io.EOF {
		return nil, nil
	}

	gz, err := gzip.NewReader(buffered)

	if err != nil {
		return nil, fmt.Errorf("opening snapshot stream: %w", err)
	}

	defer gz.Close()

	var version [1]byte

	if _, err := io.ReadFull(gz, version[:]); err != nil {
		return nil, fmt.Errorf("reading format version: %w", err)
	}

	if version[0] != versionInitial {
		return nil, fmt.Errorf("unrecognized snapshot format version %d", version[0])
	}

	var countBuf [4]byte

	if _, err := io.ReadFull(gz, countBuf[:]); err != nil {
		return nil, fmt.Errorf("reading record count: %w", err)
	}

	count := binary.BigEndian.Uint32(countBuf[:])
	out := make([][]byte, 0, count)

	for i := uint32(0); i < count; i++ {
		var sizeBuf [4]byte

		if _, err := io.ReadFull(gz, sizeBuf[:]); err != nil {
			return nil, fmt.Errorf("reading record %d size: %w", i, err)
		}

		payload := make([]byte, binary.BigEndian.Uint32(sizeBuf[:]))

		if _, err := io.ReadFull(gz, payload); err != nil {
			return nil, fmt.Errorf("reading record %d body: %w", i, err)
		}

		out = append(out, payload)
	}

	return out, nil
}
