package raftchunk

import (
	"context"
	"sync"
	"time"

	"github.com/kvswarm/kvswarm/ids"
)

// followerTracker is the leader-side per-peer replication loop: it
// maintains next_index for its peer and sends AppendEntries — one new
// entry per message, plus idle heartbeats.
type followerTracker struct {
	n    *Node
	peer ids.PeerId

	mu        sync.Mutex
	nextIndex uint64
	matched   map[uint64]bool // entries this peer has acked, by index

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newFollowerTracker(n *Node, peer ids.PeerId) *followerTracker {
	t := &followerTracker{
		n:         n,
		peer:      peer,
		nextIndex: 1,
		matched:   make(map[uint64]bool),
		stopCh:    make(chan struct{}),
	}

	go t.run()

	return t
}

func (t *followerTracker) stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *followerTracker) run() {
	ticker := time.NewTicker(H)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.replicateOnce()
		}
	}
}

func (t *followerTracker) replicateOnce() {
	t.n.mu.RLock()

	if t.n.role != Leader {
		t.n.mu.RUnlock()
		return
	}

	term := t.n.currentTerm
	commitIndex := t.n.commitIndex
	lastIndex, lastTerm := t.n.lastLogIndexTerm()

	t.mu.Lock()
	next := t.nextIndex
	t.mu.Unlock()

	var prevIndex, prevTerm uint64
	var newEntry *LogEntry

	if next > 1 {
		prevEntry := t.n.entryAtLocked(next - 1)

		if prevEntry != nil {
			prevIndex, prevTerm = prevEntry.Index, prevEntry.Term
		}
	}

	if entry := t.n.entryAtLocked(next); entry != nil {
		e := *entry
		newEntry = &e
	}

	t.n.mu.RUnlock()

	req := AppendEntriesRequest{
		Term:         term,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		NewEntry:     newEntry,
		CommitIndex:  commitIndex,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*H)
	defer cancel()

	raw, err := t.n.t.TryRequest(ctx, t.peer, MsgAppendEntries, req.encode())

	if err != nil {
		return
	}

	resp, err := decodeAppendEntriesResponse(raw)

	if err != nil {
		return
	}

	t.n.handleAppendEntriesResponse(t, resp, next, newEntry)
}

// entryAtLocked returns the entry at index (1-based), or nil if index
// is out of range. Caller holds n.mu (any lock mode).
func (n *Node) entryAtLocked(index uint64) *LogEntry {
	if index < 1 || index > uint64(len(n.log)) {
		return nil
	}

	return &n.log[index-1]
}

// handleAppendEntriesResponse applies a tracker's AppendEntries result
// to the shared leader state: advancing next_index/replicator sets and
// the commit index.
func (n *Node) handleAppendEntriesResponse(t *followerTracker, resp AppendEntriesResponse, sentNext uint64, sentEntry *LogEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.currentTerm {
		n.becomeFollower(resp.Term, ids.PeerId{})
		return
	}

	if n.role != Leader || resp.Term != n.currentTerm {
		return
	}

	switch resp.Result {
	case ResultSuccess, ResultAlreadyPresent:
		if sentEntry != nil {
			t.mu.Lock()
			t.matched[sentEntry.Index] = true
			t.nextIndex = sentEntry.Index + 1
			t.mu.Unlock()
			n.advanceCommitLocked()
		}
	case ResultFailed:
		t.mu.Lock()

		if t.nextIndex > 1 {
			t.nextIndex--
		}

		t.mu.Unlock()
	case ResultRejected:
		// The follower knows a different, equal-or-greater-term leader;
		// nothing to do here but let the next heartbeat surface the
		// term conflict through resp.Term above.
	}
}

// advanceCommitLocked moves commit_index forward as far as a strict
// majority of the replica set (including self) has replicated each
// next entry, applying each newly committed entry as it crosses the
// line. Caller holds n.mu for writing.
func (n *Node) advanceCommitLocked() {
	majority := (len(n.peers)+1)/2 + 1

	for {
		candidate := n.commitIndex + 1
		entry := n.entryAtLocked(candidate)

		if entry == nil || entry.Term != n.currentTerm {
			return
		}

		acks := 1 // self

		for _, tr := range n.trackers {
			tr.mu.Lock()
			if tr.matched[candidate] {
				acks++
			}
			tr.mu.Unlock()
		}

		if acks < majority {
			return
		}

		n.commitIndex = candidate

		if n.apply != nil {
			n.apply(*entry)
		}
	}
}

// HandleAppendEntries answers an incoming AppendEntries call, applying
// the follower's log-append rules.
func (n *Node) HandleAppendEntries(from ids.PeerId, req AppendEntriesRequest) AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	lastIndex, lastTerm := n.lastLogIndexTerm()

	if n.shouldRejectLocked(from, req.Term) {
		return AppendEntriesResponse{
			Term: n.currentTerm, Result: ResultRejected,
			LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
		}
	}

	if n.shouldAdoptLeaderLocked(from, req.Term, req.LastLogTerm, req.LastLogIndex) {
		n.becomeFollower(req.Term, from)
	}

	if req.Term > n.currentTerm {
		n.currentTerm = req.Term
	}

	if req.NewEntry == nil {
		// Heartbeat: advance commit_index up to min(leader_commit,
		// local_tail) and apply the newly exposed prefix.
		n.commitFollowerUpToLocked(req.CommitIndex)
		lastIndex, lastTerm = n.lastLogIndexTerm()

		return AppendEntriesResponse{
			Term: n.currentTerm, Result: ResultSuccess,
			LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
		}
	}

	entry := *req.NewEntry
	localTail := uint64(len(n.log))

	switch {
	case req.PrevLogIndex == localTail && (localTail == 0 || req.PrevLogTerm == n.log[localTail-1].Term):
		n.log = append(n.log, entry)
		n.commitFollowerUpToLocked(req.CommitIndex)
		lastIndex, lastTerm = n.lastLogIndexTerm()

		return AppendEntriesResponse{
			Term: n.currentTerm, Result: ResultSuccess,
			LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
		}
	case req.PrevLogIndex < localTail && req.PrevLogIndex >= 1 && n.log[req.PrevLogIndex-1].Term == req.PrevLogTerm:
		if req.PrevLogIndex < localTail && n.log[req.PrevLogIndex].Index == entry.Index && n.log[req.PrevLogIndex].Term == entry.Term {
			lastIndex, lastTerm = n.lastLogIndexTerm()

			return AppendEntriesResponse{
				Term: n.currentTerm, Result: ResultAlreadyPresent,
				LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
			}
		}

		// Truncate (prev_index, tail] — asserting none were committed.
		n.log = append(n.log[:req.PrevLogIndex], entry)
		n.commitFollowerUpToLocked(req.CommitIndex)
		lastIndex, lastTerm = n.lastLogIndexTerm()

		return AppendEntriesResponse{
			Term: n.currentTerm, Result: ResultSuccess,
			LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
		}
	default:
		return AppendEntriesResponse{
			Term: n.currentTerm, Result: ResultFailed,
			LastLogIndex: lastIndex, LastLogTerm: lastTerm, CommitIndex: n.commitIndex,
		}
	}
}

// commitFollowerUpToLocked advances this follower's commit_index to
// min(leaderCommit, local tail) and applies every newly committed
// entry in order.
func (n *Node) commitFollowerUpToLocked(leaderCommit uint64) {
	tail := uint64(len(n.log))
	target := leaderCommit

	if target > tail {
		target = tail
	}

	for n.commitIndex < target {
		n.commitIndex++
		entry := n.entryAtLocked(n.commitIndex)

		if entry != nil && n.apply != nil {
			n.apply(*entry)
		}
	}
}

// shouldRejectLocked implements the rejection rule: a follower that
// knows a different leader of equal-or-greater term than the sender
// rejects.
func (n *Node) shouldRejectLocked(sender ids.PeerId, senderTerm uint64) bool {
	return n.leaderID.IsValid() && !n.leaderID.Equal(sender) && senderTerm <= n.currentTerm
}

// shouldAdoptLeaderLocked implements the sender-change/leader-adoption
// rule.
func (n *Node) shouldAdoptLeaderLocked(sender ids.PeerId, senderTerm, senderLastLogTerm, senderLastLogIndex uint64) bool {
	if n.leaderID.Equal(sender) && n.currentTerm == senderTerm {
		return false
	}

	if senderTerm > n.currentTerm {
		return true
	}

	if senderTerm == n.currentTerm && !n.leaderID.IsValid() {
		return true
	}

	if senderTerm < n.currentTerm && !n.leaderID.IsValid() {
		lastIndex, lastTerm := n.lastLogIndexTerm()
		return logNewerOrEqual(senderLastLogTerm, senderLastLogIndex, lastTerm, lastIndex) && !logNewerOrEqual(lastTerm, lastIndex, senderLastLogTerm, senderLastLogIndex)
	}

	return false
}
