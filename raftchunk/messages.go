package raftchunk

import (
	"github.com/gogo/protobuf/proto"
)

// AppendResult is the follower's verdict on an AppendEntries call.
type AppendResult byte

const (
	ResultSuccess AppendResult = iota + 1
	ResultAlreadyPresent
	ResultRejected
	ResultFailed
)

// AppendEntriesRequest carries at most one new entry per message; a
// request with NewEntry == nil is a heartbeat.
type AppendEntriesRequest struct {
	Term          uint64
	PrevLogIndex  uint64
	PrevLogTerm   uint64
	NewEntry      *LogEntry // nil for heartbeats
	CommitIndex   uint64
	LastLogIndex  uint64
	LastLogTerm   uint64
}

// AppendEntriesResponse is the follower's reply.
type AppendEntriesResponse struct {
	Term         uint64
	Result       AppendResult
	LastLogIndex uint64
	LastLogTerm  uint64
	CommitIndex  uint64
}

// VoteRequest is RequestVote's payload.
type VoteRequest struct {
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
	CommitIndex  uint64
}

// VoteResponse is RequestVote's reply.
type VoteResponse struct {
	Vote             bool
	PreviousLogIndex uint64
	PreviousLogTerm  uint64
}

func (r AppendEntriesRequest) encode() []byte {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(r.Term)
	buf.EncodeVarint(r.PrevLogIndex)
	buf.EncodeVarint(r.PrevLogTerm)

	if r.NewEntry == nil {
		buf.EncodeVarint(0)
	} else {
		buf.EncodeVarint(1)
		buf.EncodeVarint(r.NewEntry.Index)
		buf.EncodeVarint(r.NewEntry.Term)
		r.NewEntry.Payload.encode(buf)
	}

	buf.EncodeVarint(r.CommitIndex)
	buf.EncodeVarint(r.LastLogIndex)
	buf.EncodeVarint(r.LastLogTerm)

	return buf.Bytes()
}

func decodeAppendEntriesRequest(data []byte) (AppendEntriesRequest, error) {
	buf := proto.NewBuffer(data)
	var r AppendEntriesRequest
	var err error

	if r.Term, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.PrevLogIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.PrevLogTerm, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	has, err := buf.DecodeVarint()

	if err != nil {
		return r, err
	}

	if has != 0 {
		entry := &LogEntry{}

		if entry.Index, err = buf.DecodeVarint(); err != nil {
			return r, err
		}

		if entry.Term, err = buf.DecodeVarint(); err != nil {
			return r, err
		}

		if entry.Payload, err = decodePayload(buf); err != nil {
			return r, err
		}

		r.NewEntry = entry
	}

	if r.CommitIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.LastLogIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.LastLogTerm, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	return r, nil
}

func (r AppendEntriesResponse) encode() []byte {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(r.Term)
	buf.EncodeVarint(uint64(r.Result))
	buf.EncodeVarint(r.LastLogIndex)
	buf.EncodeVarint(r.LastLogTerm)
	buf.EncodeVarint(r.CommitIndex)

	return buf.Bytes()
}

func decodeAppendEntriesResponse(data []byte) (AppendEntriesResponse, error) {
	buf := proto.NewBuffer(data)
	var r AppendEntriesResponse
	var err error
	var result uint64

	if r.Term, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if result, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	r.Result = AppendResult(result)

	if r.LastLogIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.LastLogTerm, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.CommitIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	return r, nil
}

func (r VoteRequest) encode() []byte {
	buf := proto.NewBuffer(nil)
	buf.EncodeVarint(r.Term)
	buf.EncodeVarint(r.LastLogIndex)
	buf.EncodeVarint(r.LastLogTerm)
	buf.EncodeVarint(r.CommitIndex)

	return buf.Bytes()
}

func decodeVoteRequest(data []byte) (VoteRequest, error) {
	buf := proto.NewBuffer(data)
	var r VoteRequest
	var err error

	if r.Term, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.LastLogIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.LastLogTerm, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.CommitIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	return r, nil
}

func (r VoteResponse) encode() []byte {
	buf := proto.NewBuffer(nil)
	vote := uint64(0)

	if r.Vote {
		vote = 1
	}

	buf.EncodeVarint(vote)
	buf.EncodeVarint(r.PreviousLogIndex)
	buf.EncodeVarint(r.PreviousLogTerm)

	return buf.Bytes()
}

func decodeVoteResponse(data []byte) (VoteResponse, error) {
	buf := proto.NewBuffer(data)
	var r VoteResponse
	var err error
	var vote uint64

	if vote, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	r.Vote = vote != 0

	if r.PreviousLogIndex, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	if r.PreviousLogTerm, err = buf.DecodeVarint(); err != nil {
		return r, err
	}

	return r, nil
}
