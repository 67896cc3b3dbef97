package revision

import "github.com/kvswarm/kvswarm/ids"

// FieldType tags the kind of value carried by a field or table column.
type FieldType uint8

const (
	// FieldBool is a boolean field.
	FieldBool FieldType = iota
	// FieldInt32 is a signed 32-bit integer field.
	FieldInt32
	// FieldInt64 is a signed 64-bit integer field.
	FieldInt64
	// FieldDouble is a 64-bit floating point field.
	FieldDouble
	// FieldString is a UTF-8 string field.
	FieldString
	// FieldBytes is an opaque byte-string field.
	FieldBytes
	// FieldHash is a 128-bit id field.
	FieldHash
	// FieldLogicalTime is a logical-time field.
	FieldLogicalTime
	// FieldMessage is an embedded, recursively-typed message field.
	FieldMessage
)

// String names the field type for diagnostics.
func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "bool"
	case FieldInt32:
		return "int32"
	case FieldInt64:
		return "int64"
	case FieldDouble:
		return "double"
	case FieldString:
		return "string"
	case FieldBytes:
		return "bytes"
	case FieldHash:
		return "hash"
	case FieldLogicalTime:
		return "logical_time"
	case FieldMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Message is an embedded, positional list of values, used by
// FieldMessage fields. It has no field names of its own; its shape is
// whatever the application that reads it expects.
type Message struct {
	Values []Value
}

// Value is a tagged union over the field types a Revision can carry.
// Values are immutable once constructed.
type Value struct {
	typ  FieldType
	b    bool
	i32  int32
	i64  int64
	f64  float64
	s    string
	by   []byte
	hash ids.Id
	lt   uint64
	msg  Message
}

// Type reports which field type this value holds.
func (v Value) Type() FieldType {
	return v.typ
}

// BoolValue constructs a bool-typed value.
func BoolValue(b bool) Value { return Value{typ: FieldBool, b: b} }

// Int32Value constructs an int32-typed value.
func Int32Value(i int32) Value { return Value{typ: FieldInt32, i32: i} }

// Int64Value constructs an int64-typed value.
func Int64Value(i int64) Value { return Value{typ: FieldInt64, i64: i} }

// DoubleValue constructs a double-typed value.
func DoubleValue(f float64) Value { return Value{typ: FieldDouble, f64: f} }

// StringValue constructs a string-typed value.
func StringValue(s string) Value { return Value{typ: FieldString, s: s} }

// BytesValue constructs a bytes-typed value. The slice is retained, not
// copied; callers must not mutate it after construction.
func BytesValue(b []byte) Value { return Value{typ: FieldBytes, by: b} }

// HashValue constructs a hash-typed (id) value.
func HashValue(id ids.Id) Value { return Value{typ: FieldHash, hash: id} }

// LogicalTimeValue constructs a logical-time-typed value.
func LogicalTimeValue(t uint64) Value { return Value{typ: FieldLogicalTime, lt: t} }

// MessageValue constructs an embedded-message-typed value.
func MessageValue(m Message) Value { return Value{typ: FieldMessage, msg: m} }

// Bool returns the value as a bool. ok is false if v is not FieldBool.
func (v Value) Bool() (bool, bool) { return v.b, v.typ == FieldBool }

// Int32 returns the value as an int32. ok is false if v is not FieldInt32.
func (v Value) Int32() (int32, bool) { return v.i32, v.typ == FieldInt32 }

// Int64 returns the value as an int64. ok is false if v is not FieldInt64.
func (v Value) Int64() (int64, bool) { return v.i64, v.typ == FieldInt64 }

// Double returns the value as a float64. ok is false if v is not FieldDouble.
func (v Value) Double() (float64, bool) { return v.f64, v.typ == FieldDouble }

// String returns the value as a string. ok is false if v is not FieldString.
func (v Value) String() (string, bool) { return v.s, v.typ == FieldString }

// Bytes returns the value as a byte slice. ok is false if v is not FieldBytes.
func (v Value) Bytes() ([]byte, bool) { return v.by, v.typ == FieldBytes }

// Hash returns the value as an id. ok is false if v is not FieldHash.
func (v Value) Hash() (ids.Id, bool) { return v.hash, v.typ == FieldHash }

// LogicalTime returns the value as a logical time. ok is false if v is
// not FieldLogicalTime.
func (v Value) LogicalTime() (uint64, bool) { return v.lt, v.typ == FieldLogicalTime }

// Message returns the value as an embedded message. ok is false if v is
// not FieldMessage.
func (v Value) Message() (Message, bool) { return v.msg, v.typ == FieldMessage }

// Equal reports whether v and other have the same type and content.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}

	switch v.typ {
	case FieldBool:
		return v.b == other.b
	case FieldInt32:
		return v.i32 == other.i32
	case FieldInt64:
		return v.i64 == other.i64
	case FieldDouble:
		return v.f64 == other.f64
	case FieldString:
		return v.s == other.s
	case FieldBytes:
		if len(v.by) != len(other.by) {
			return false
		}

		for i := range v.by {
			if v.by[i] != other.by[i] {
				return false
			}
		}

		return true
	case FieldHash:
		return v.hash.Compare(other.hash) == 0
	case FieldLogicalTime:
		return v.lt == other.lt
	case FieldMessage:
		if len(v.msg.Values) != len(other.msg.Values) {
			return false
		}

		for i := range v.msg.Values {
			if !v.msg.Values[i].Equal(other.msg.Values[i]) {
				return false
			}
		}

		return true
	default:
		return false
	}
}
