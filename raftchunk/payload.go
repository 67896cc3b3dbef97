package raftchunk

import (
	"fmt"

	"github.com/gogo/protobuf/proto"
)

// PayloadKind tags which of the closed set of chunk operations a log
// entry carries.
type PayloadKind byte

const (
	PayloadInsert PayloadKind = iota + 1
	PayloadUpdate
	PayloadRemove
	PayloadLockAcquire
	PayloadLockRelease
	PayloadAddPeer
	PayloadRemovePeer
)

// Payload is the tagged union carried by one LogEntry. Only the
// fields relevant to Kind are meaningful.
type Payload struct {
	Kind PayloadKind

	// Revision is the serialized revision for Insert/Update/Remove
	// (see revision.Serialize).
	Revision []byte

	// Serial identifies a lock acquisition for LockAcquire/LockRelease.
	Serial uint64
	// PriorIndex is the committed index of the acquisition a
	// LockRelease quotes.
	PriorIndex uint64

	// Peer is the address touched by AddPeer/RemovePeer.
	Peer string
}

func (p Payload) encode(buf *proto.Buffer) error {
	buf.EncodeVarint(uint64(p.Kind))

	switch p.Kind {
	case PayloadInsert, PayloadUpdate, PayloadRemove:
		return buf.EncodeRawBytes(p.Revision)
	case PayloadLockAcquire:
		buf.EncodeVarint(p.Serial)
	case PayloadLockRelease:
		buf.EncodeVarint(p.Serial)
		buf.EncodeVarint(p.PriorIndex)
	case PayloadAddPeer, PayloadRemovePeer:
		return buf.EncodeStringBytes(p.Peer)
	default:
		return fmt.Errorf("raftchunk: unknown payload kind %d", p.Kind)
	}

	return nil
}

func decodePayload(buf *proto.Buffer) (Payload, error) {
	kind, err := buf.DecodeVarint()

	if err != nil {
		return Payload{}, fmt.Errorf("decode payload kind: %s", err.Error())
	}

	p := Payload{Kind: PayloadKind(kind)}

	switch p.Kind {
	case PayloadInsert, PayloadUpdate, PayloadRemove:
		rev, err := buf.DecodeRawBytes(true)

		if err != nil {
			return Payload{}, fmt.Errorf("decode payload revision: %s", err.Error())
		}

		p.Revision = rev
	case PayloadLockAcquire:
		serial, err := buf.DecodeVarint()

		if err != nil {
			return Payload{}, fmt.Errorf("decode payload serial: %s", err.Error())
		}

		p.Serial = serial
	case PayloadLockRelease:
		serial, err := buf.DecodeVarint()

		if err != nil {
			return Payload{}, fmt.Errorf("decode payload serial: %s", err.Error())
		}

		prior, err := buf.DecodeVarint()

		if err != nil {
			return Payload{}, fmt.Errorf("decode payload prior_index: %s", err.Error())
		}

		p.Serial = serial
		p.PriorIndex = prior
	case PayloadAddPeer, PayloadRemovePeer:
		peer, err := buf.DecodeStringBytes()

		if err != nil {
			return Payload{}, fmt.Errorf("decode payload peer: %s", err.Error())
		}

		p.Peer = peer
	default:
		return Payload{}, fmt.Errorf("raftchunk: unknown payload kind %d", p.Kind)
	}

	return p, nil
}
