package raftchunk

import (
	"context"

	"github.com/kvswarm/kvswarm/ids"
	"go.uber.org/zap"
)

// logNewerOrEqual reports whether (termA, indexA) is at least as
// up-to-date as (termB, indexB) by the standard Raft comparison:
// compare terms first, then indices.
func logNewerOrEqual(termA, indexA, termB, indexB uint64) bool {
	if termA != termB {
		return termA > termB
	}

	return indexA >= indexB
}

// HandleVoteRequest answers an incoming RequestVote. A vote is
// granted only if req.Term is strictly greater than this node's
// current_term and the requester's log is at least as up-to-date.
func (n *Node) HandleVoteRequest(from ids.PeerId, req VoteRequest) VoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	lastIndex, lastTerm := n.lastLogIndexTerm()
	resp := VoteResponse{PreviousLogIndex: lastIndex, PreviousLogTerm: lastTerm}

	grant := req.Term > n.currentTerm && logNewerOrEqual(req.LastLogTerm, req.LastLogIndex, lastTerm, lastIndex)

	if grant {
		n.currentTerm = req.Term
		n.votedTerm = req.Term
		n.role = Follower
		n.leaderID = ids.PeerId{}
		n.resetElectionTimeout()
	}

	resp.Vote = grant

	return resp
}

// startElection transitions this node to Candidate, votes for itself,
// and asks every peer for a vote. Called from the event loop when the
// election timer fires.
func (n *Node) startElection(ctx context.Context) {
	n.mu.Lock()

	if n.currentTerm > n.votedTerm {
		n.votedTerm = n.currentTerm
	}

	n.currentTerm = n.votedTerm + 1
	n.votedTerm = n.currentTerm
	n.role = Candidate
	n.leaderID = ids.PeerId{}
	n.votedFor = n.self
	term := n.currentTerm
	lastIndex, lastTerm := n.lastLogIndexTerm()
	peers := make([]ids.PeerId, 0, len(n.peers))

	for p := range n.peers {
		peers = append(peers, p)
	}

	n.mu.Unlock()

	if n.logger != nil {
		n.logger.Debug("raftchunk: starting election", zap.Uint64("term", term))
	}

	grants := 1 // self-vote
	total := len(peers) + 1
	results := make(chan bool, len(peers))

	req := VoteRequest{Term: term, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	for _, peer := range peers {
		peer := peer

		go func() {
			resp, err := n.t.TryRequest(ctx, peer, MsgVoteRequest, req.encode())

			if err != nil {
				results <- false
				return
			}

			vr, err := decodeVoteResponse(resp)

			if err != nil {
				results <- false
				return
			}

			results <- vr.Vote
		}()
	}

	for i := 0; i < len(peers); i++ {
		if <-results {
			grants++
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Candidate || n.currentTerm != term {
		// Something else happened while votes were in flight (stepped
		// down, saw a higher term, or already won via another path).
		return
	}

	if grants*2 > total {
		n.becomeLeaderLocked()
		n.lostElections = 0
	} else {
		n.role = Follower
		n.lostElections++
		n.resetElectionTimeout()
	}
}

func (n *Node) becomeLeaderLocked() {
	n.role = Leader
	n.leaderID = n.self
	n.resetElectionTimeout()

	for peer := range n.peers {
		if _, exists := n.trackers[peer]; !exists {
			n.trackers[peer] = newFollowerTracker(n, peer)
		}
	}
}
