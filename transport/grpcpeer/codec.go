package grpcpeer

import "google.golang.org/grpc/encoding"

// rawCodecName is registered as a grpc encoding.Codec so the hand-built
// service's single Dispatch RPC can move envelope bytes without a .proto file:
// kvswarm's wire format is already length-prefixed and self-describing
// (see the revision package's codec and messages.go's catalogue), so
// there's nothing for protobuf codegen to add here except another
// framing layer.
const rawCodecName = "kvswarm-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec marshals *envelope (and only *envelope) as its own raw
// bytes, skipping protobuf entirely.
type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	e, ok := v.(*envelope)

	if !ok {
		return nil, errNotEnvelope
	}

	return e.encode(), nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	e, ok := v.(*envelope)

	if !ok {
		return errNotEnvelope
	}

	return e.decode(data)
}
