package nettable

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
	"github.com/kvswarm/kvswarm/ids"
)

// encodeGetByIdRequest frames the hub.discovery-style remote lookup as
// table name, record id, and query time. The message catalogue names
// chunk-scoped RPCs elsewhere with the same tagged-varint framing;
// nettable's cross-table getById fallback follows the same wire
// family.
func encodeGetByIdRequest(table string, id ids.RecordId, t uint64) []byte {
	buf := proto.NewBuffer(nil)

	_ = buf.EncodeStringBytes(table)

	hi, lo := ids.Id(id).Words()
	buf.EncodeVarint(hi)
	buf.EncodeVarint(lo)
	buf.EncodeVarint(t)

	return buf.Bytes()
}

// decodeGetByIdRequest is the receiving side, used by whatever
// registers getByIdMessage against a transport.Router for this table.
func decodeGetByIdRequest(data []byte) (table string, id ids.RecordId, t uint64, err error) {
	buf := proto.NewBuffer(data)

	table, err = buf.DecodeStringBytes()

	if err != nil {
		return "", ids.RecordId{}, 0, fmt.Errorf("decode table: %w", err)
	}

	hi, err := buf.DecodeVarint()

	if err != nil {
		return "", ids.RecordId{}, 0, fmt.Errorf("decode record id: %w", err)
	}

	lo, err := buf.DecodeVarint()

	if err != nil {
		return "", ids.RecordId{}, 0, fmt.Errorf("decode record id: %w", err)
	}

	t, err = buf.DecodeVarint()

	if err != nil {
		return "", ids.RecordId{}, 0, fmt.Errorf("decode time: %w", err)
	}

	return table, ids.RecordId(ids.IdFromWords(hi, lo)), t, nil
}
