// Package raftchunk implements the per-chunk replicated log: a
// from-scratch Raft-style consensus node — not etcd's raft library,
// since the log entries here aren't opaque bytes but a closed set of
// chunk operations (Insert/Update/Remove, LockAcquire/LockRelease,
// AddPeer/RemovePeer) that the chunk layer applies directly as they
// commit. Durable on-disk logs are out of scope; the log lives in
// memory for the node's lifetime.
package raftchunk

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
	"go.uber.org/zap"
)

// Role is one of the three Raft roles a node holds at a time.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// H is the leader heartbeat period.
const H = 30 * time.Millisecond

// Transport is the subset of transport.Messenger a Node needs.
type Transport interface {
	TryRequest(ctx context.Context, peer ids.PeerId, msg TransportMessage, payload []byte) ([]byte, error)
}

// TransportMessage mirrors transport.MessageType without importing
// the transport package, the same way distlock.TransportMessage does.
type TransportMessage string

const (
	MsgAppendEntries         TransportMessage = "raft.append_entries"
	MsgAppendEntriesResponse TransportMessage = "raft.append_entries_response"
	MsgVoteRequest           TransportMessage = "raft.vote_request"
	MsgVoteResponse          TransportMessage = "raft.vote_response"
)

// ApplyFunc is invoked once, in index order, for every entry that
// crosses the commit line — on the leader as trackers reach majority
// replication, on a follower as AppendEntries advances its commit
// index.
type ApplyFunc func(entry LogEntry)

// Node is one chunk's Raft participant.
type Node struct {
	self ids.PeerId
	t    Transport
	apply ApplyFunc
	logger *zap.Logger

	mu          sync.RWMutex
	role        Role
	currentTerm uint64
	votedTerm   uint64
	votedFor    ids.PeerId
	leaderID    ids.PeerId
	log         []LogEntry // 1-indexed: log[i-1] has Index == i
	commitIndex uint64
	peers       map[ids.PeerId]bool // replica set, self excluded

	electionDeadline time.Time
	electionTimeout  time.Duration
	lostElections    int // consecutive losses, for the 4x backoff rule

	trackers map[ids.PeerId]*followerTracker
	rng      *rand.Rand

	stop     chan struct{}
	stopOnce sync.Once
	wake     chan struct{} // signals the event loop to recompute its timer
}

// LogEntry is one committed-or-not entry in the replicated log.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Payload Payload
}

// New builds a Node starting as a follower with no leader known. peers
// is the initial replica set, self excluded. apply is called
// synchronously, in index order and with the node's mutex held, by
// whichever goroutine advances the commit index (a follower tracker or
// the event loop on the leader, the AppendEntries handler on a
// follower) — it must not block on anything that itself waits on the
// node.
func New(self ids.PeerId, peers []ids.PeerId, t Transport, apply ApplyFunc, logger *zap.Logger) *Node {
	peerSet := make(map[ids.PeerId]bool, len(peers))

	for _, p := range peers {
		if !p.Equal(self) {
			peerSet[p] = true
		}
	}

	n := &Node{
		self:     self,
		t:        t,
		apply:    apply,
		logger:   logger,
		role:     Follower,
		peers:    peerSet,
		trackers: make(map[ids.PeerId]*followerTracker),
		rng:      rand.New(rand.NewSource(int64(hashSeed(self)))),
		stop:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}

	n.resetElectionTimeout()

	return n
}

func hashSeed(p ids.PeerId) uint64 {
	var h uint64 = 1469598103934665603

	for _, b := range []byte(p.Address()) {
		h ^= uint64(b)
		h *= 1099511628211
	}

	if h == 0 {
		return 1
	}

	return h
}

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.role
}

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.currentTerm
}

// Leader returns the last known leader, or the zero PeerId if none is
// known.
func (n *Node) Leader() ids.PeerId {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.leaderID
}

// Members returns the full replica set, self included, satisfying
// distlock.Peers.
func (n *Node) Members() []ids.PeerId {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]ids.PeerId, 0, len(n.peers)+1)
	out = append(out, n.self)

	for p := range n.peers {
		out = append(out, p)
	}

	return out
}

// Stop terminates the node's event loop and any follower trackers.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
}

// resetElectionTimeout samples a new randomized election timeout in
// [2H, 6H], applying the 4x backoff if the node has just
// lost an election.
func (n *Node) resetElectionTimeout() {
	base := 2*H + time.Duration(n.rng.Int63n(int64(4*H)))

	for i := 0; i < n.lostElections; i++ {
		base *= 4
	}

	n.electionTimeout = base
	n.electionDeadline = time.Now().Add(base)
}

func (n *Node) nudge() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Propose appends a new entry to the leader's log and returns once the
// caller may consider it submitted (not yet committed — callers that
// need commit confirmation must rely on apply being invoked). Returns faults.NotLeaderError if this node isn't
// currently the leader.
func (n *Node) Propose(payload Payload) (uint64, error) {
	n.mu.Lock()

	if n.role != Leader {
		leader := n.leaderID
		n.mu.Unlock()

		return 0, &faults.NotLeaderError{Leader: leader.Address()}
	}

	entry := LogEntry{Index: uint64(len(n.log)) + 1, Term: n.currentTerm, Payload: payload}
	n.log = append(n.log, entry)
	n.mu.Unlock()

	n.nudge()

	return entry.Index, nil
}

func (n *Node) lastLogIndexTerm() (uint64, uint64) {
	if len(n.log) == 0 {
		return 0, 0
	}

	last := n.log[len(n.log)-1]

	return last.Index, last.Term
}

func (n *Node) becomeFollower(term uint64, leader ids.PeerId) {
	n.role = Follower
	n.currentTerm = term
	n.leaderID = leader

	for _, tr := range n.trackers {
		tr.stop()
	}

	n.trackers = make(map[ids.PeerId]*followerTracker)
	n.resetElectionTimeout()
}
