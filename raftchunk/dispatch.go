package raftchunk

import (
	"fmt"

	"github.com/kvswarm/kvswarm/ids"
)

// Dispatch decodes an inbound raft RPC payload, routes it to the
// matching Node handler, and re-encodes the reply. It's the function a
// transport.Handler registered for MsgAppendEntries/MsgVoteRequest
// should call; transport/grpcpeer and the in-memory test transport
// both use it as their single entry point into a Node.
func Dispatch(n *Node, from ids.PeerId, msg TransportMessage, payload []byte) ([]byte, error) {
	switch msg {
	case MsgAppendEntries:
		req, err := decodeAppendEntriesRequest(payload)

		if err != nil {
			return nil, fmt.Errorf("raftchunk: decode append_entries: %s", err)
		}

		return n.HandleAppendEntries(from, req).encode(), nil
	case MsgVoteRequest:
		req, err := decodeVoteRequest(payload)

		if err != nil {
			return nil, fmt.Errorf("raftchunk: decode vote_request: %s", err)
		}

		return n.HandleVoteRequest(from, req).encode(), nil
	default:
		return nil, fmt.Errorf("raftchunk: unrecognized message type %s", msg)
	}
}
