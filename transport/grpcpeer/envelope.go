package grpcpeer

import (
	"errors"

	"github.com/gogo/protobuf/proto"
)

var errNotEnvelope = errors.New("grpcpeer: rawCodec only marshals *envelope")

// envelope is the wire frame for the single Dispatch RPC: sender
// address, the transport.MessageType being invoked, and the opaque
// payload the registered handler understands. It's encoded with the
// same proto.Buffer primitives revision.Serialize uses, rather than a
// generated protobuf message, since there's no .proto source for this
// pack to compile against.
type envelope struct {
	from    string
	msgType string
	payload []byte
}

func (e *envelope) encode() []byte {
	buf := proto.NewBuffer(nil)
	buf.EncodeStringBytes(e.from)
	buf.EncodeStringBytes(e.msgType)
	buf.EncodeRawBytes(e.payload)

	return buf.Bytes()
}

func (e *envelope) decode(data []byte) error {
	buf := proto.NewBuffer(data)

	from, err := buf.DecodeStringBytes()

	if err != nil {
		return err
	}

	msgType, err := buf.DecodeStringBytes()

	if err != nil {
		return err
	}

	payload, err := buf.DecodeRawBytes(true)

	if err != nil {
		return err
	}

	e.from = from
	e.msgType = msgType
	e.payload = payload

	return nil
}
