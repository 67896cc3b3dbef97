package transport

// MessageType is a stable wire token identifying a request kind.
type MessageType string

// The message catalogue. Handlers are registered against
// these tokens; transport/grpcpeer carries them inside the envelope of
// its single Dispatch RPC.
const (
	MsgRaftAppendEntries         MessageType = "raft.append_entries"
	MsgRaftAppendEntriesResponse MessageType = "raft.append_entries_response"
	MsgRaftVoteRequest           MessageType = "raft.vote_request"
	MsgRaftVoteResponse          MessageType = "raft.vote_response"
	MsgChunkConnect              MessageType = "chunk.connect"
	MsgChunkInit                 MessageType = "chunk.init"
	MsgChunkInsert               MessageType = "chunk.insert"
	MsgChunkUpdate               MessageType = "chunk.update"
	MsgChunkLock                 MessageType = "chunk.lock"
	MsgChunkUnlock               MessageType = "chunk.unlock"
	MsgChunkNewPeer              MessageType = "chunk.new_peer"
	MsgChunkLeave                MessageType = "chunk.leave"
	MsgHubDiscovery              MessageType = "hub.discovery"
)
