package revision

import (
	"fmt"
	"math"

	"github.com/gogo/protobuf/proto"
	"github.com/kvswarm/kvswarm/ids"
)

// wire type tags. These are the stable bytes that identify a field's
// type on the wire; they must never be renumbered once revisions with a
// given tag have shipped.
const (
	wireBool        byte = 1
	wireInt32       byte = 2
	wireInt64       byte = 3
	wireDouble      byte = 4
	wireString      byte = 5
	wireBytes       byte = 6
	wireHash        byte = 7
	wireLogicalTime byte = 8
	wireMessage     byte = 9
)

// Serialize encodes r into kvswarm's length-prefixed, tagged wire
// format. It does not encode the table descriptor: a peer
// receiving these bytes is expected to already know the table's schema
// (by table name, out of band) and supplies it to Parse.
func (r *Revision) Serialize() ([]byte, error) {
	buf := proto.NewBuffer(nil)

	idHi, idLo := ids.Id(r.id).Words()
	chunkHi, chunkLo := ids.Id(r.chunkId).Words()

	buf.EncodeVarint(idHi)
	buf.EncodeVarint(idLo)
	buf.EncodeVarint(chunkHi)
	buf.EncodeVarint(chunkLo)
	buf.EncodeVarint(r.insertTime)
	buf.EncodeVarint(r.updateTime)

	removed := uint64(0)

	if r.removed {
		removed = 1
	}

	buf.EncodeVarint(removed)
	buf.EncodeVarint(uint64(len(r.fields)))

	for _, v := range r.fields {
		if err := encodeValue(buf, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func encodeValue(buf *proto.Buffer, v Value) error {
	switch v.typ {
	case FieldBool:
		buf.EncodeVarint(uint64(wireBool))
		n := uint64(0)

		if v.b {
			n = 1
		}

		buf.EncodeVarint(n)
	case FieldInt32:
		buf.EncodeVarint(uint64(wireInt32))
		buf.EncodeZigzag32(uint64(v.i32))
	case FieldInt64:
		buf.EncodeVarint(uint64(wireInt64))
		buf.EncodeZigzag64(uint64(v.i64))
	case FieldDouble:
		buf.EncodeVarint(uint64(wireDouble))
		buf.EncodeVarint(math.Float64bits(v.f64))
	case FieldString:
		buf.EncodeVarint(uint64(wireString))

		if err := buf.EncodeStringBytes(v.s); err != nil {
			return fmt.Errorf("encode string field: %s", err.Error())
		}
	case FieldBytes:
		buf.EncodeVarint(uint64(wireBytes))

		if err := buf.EncodeRawBytes(v.by); err != nil {
			return fmt.Errorf("encode bytes field: %s", err.Error())
		}
	case FieldHash:
		buf.EncodeVarint(uint64(wireHash))
		hi, lo := v.hash.Words()
		buf.EncodeVarint(hi)
		buf.EncodeVarint(lo)
	case FieldLogicalTime:
		buf.EncodeVarint(uint64(wireLogicalTime))
		buf.EncodeVarint(v.lt)
	case FieldMessage:
		buf.EncodeVarint(uint64(wireMessage))

		nested := proto.NewBuffer(nil)
		nested.EncodeVarint(uint64(len(v.msg.Values)))

		for _, nv := range v.msg.Values {
			if err := encodeValue(nested, nv); err != nil {
				return err
			}
		}

		if err := buf.EncodeRawBytes(nested.Bytes()); err != nil {
			return fmt.Errorf("encode message field: %s", err.Error())
		}
	default:
		return fmt.Errorf("unknown field type tag %d", v.typ)
	}

	return nil
}

func decodeValue(buf *proto.Buffer) (Value, error) {
	tag, err := buf.DecodeVarint()

	if err != nil {
		return Value{}, fmt.Errorf("decode field tag: %s", err.Error())
	}

	switch byte(tag) {
	case wireBool:
		n, err := buf.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode bool field: %s", err.Error())
		}

		return BoolValue(n != 0), nil
	case wireInt32:
		n, err := buf.DecodeZigzag32()

		if err != nil {
			return Value{}, fmt.Errorf("decode int32 field: %s", err.Error())
		}

		return Int32Value(int32(n)), nil
	case wireInt64:
		n, err := buf.DecodeZigzag64()

		if err != nil {
			return Value{}, fmt.Errorf("decode int64 field: %s", err.Error())
		}

		return Int64Value(int64(n)), nil
	case wireDouble:
		n, err := buf.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode double field: %s", err.Error())
		}

		return DoubleValue(math.Float64frombits(n)), nil
	case wireString:
		s, err := buf.DecodeStringBytes()

		if err != nil {
			return Value{}, fmt.Errorf("decode string field: %s", err.Error())
		}

		return StringValue(s), nil
	case wireBytes:
		b, err := buf.DecodeRawBytes(true)

		if err != nil {
			return Value{}, fmt.Errorf("decode bytes field: %s", err.Error())
		}

		return BytesValue(b), nil
	case wireHash:
		hi, err := buf.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode hash field: %s", err.Error())
		}

		lo, err := buf.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode hash field: %s", err.Error())
		}

		return HashValue(ids.IdFromWords(hi, lo)), nil
	case wireLogicalTime:
		t, err := buf.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode logical_time field: %s", err.Error())
		}

		return LogicalTimeValue(t), nil
	case wireMessage:
		raw, err := buf.DecodeRawBytes(true)

		if err != nil {
			return Value{}, fmt.Errorf("decode message field: %s", err.Error())
		}

		nested := proto.NewBuffer(raw)
		count, err := nested.DecodeVarint()

		if err != nil {
			return Value{}, fmt.Errorf("decode message field count: %s", err.Error())
		}

		values := make([]Value, 0, count)

		for i := uint64(0); i < count; i++ {
			v, err := decodeValue(nested)

			if err != nil {
				return Value{}, err
			}

			values = append(values, v)
		}

		return MessageValue(Message{Values: values}), nil
	default:
		return Value{}, fmt.Errorf("unknown wire tag %d", tag)
	}
}

// Parse decodes bytes produced by Serialize back into a Revision,
// validating the recovered fields against desc.
func Parse(desc *TableDescriptor, data []byte) (*Revision, error) {
	buf := proto.NewBuffer(data)

	idHi, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode id: %s", err.Error())
	}

	idLo, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode id: %s", err.Error())
	}

	chunkHi, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode chunk_id: %s", err.Error())
	}

	chunkLo, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode chunk_id: %s", err.Error())
	}

	insertTime, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode insert_time: %s", err.Error())
	}

	updateTime, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode update_time: %s", err.Error())
	}

	removedFlag, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode removed: %s", err.Error())
	}

	fieldCount, err := buf.DecodeVarint()

	if err != nil {
		return nil, fmt.Errorf("decode field count: %s", err.Error())
	}

	fields := make([]Value, 0, fieldCount)

	for i := uint64(0); i < fieldCount; i++ {
		v, err := decodeValue(buf)

		if err != nil {
			return nil, err
		}

		fields = append(fields, v)
	}

	return New(
		desc,
		ids.RecordId(ids.IdFromWords(idHi, idLo)),
		ids.ChunkId(ids.IdFromWords(chunkHi, chunkLo)),
		insertTime,
		updateTime,
		removedFlag != 0,
		fields,
	)
}
