package raftchunk

import (
	"context"
	"time"
)

// Run drives the node's election timer until ctx is done or Stop is
// called. It must run in its own goroutine for the lifetime of the
// chunk; HandleAppendEntries/HandleVoteRequest and Propose are safe to
// call concurrently from other goroutines (transport handlers, chunk
// callers).
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(H)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.Stop()
			return
		case <-n.stop:
			return
		case <-ticker.C:
			n.mu.RLock()
			isLeader := n.role == Leader
			deadline := n.electionDeadline
			n.mu.RUnlock()

			if !isLeader && time.Now().After(deadline) {
				n.startElection(ctx)
			}
		case <-n.wake:
			// Propose() nudges here. A leader whose own copy is already
			// a majority (no peers, so no follower trackers) commits
			// here; with peers, replication and commit are driven by the
			// follower trackers on their own ticker.
			n.mu.Lock()
			if n.role == Leader {
				n.advanceCommitLocked()
			}
			n.mu.Unlock()
		}
	}
}
