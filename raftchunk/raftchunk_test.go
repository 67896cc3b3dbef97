package raftchunk_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvswarm/kvswarm/ids"
	"github.com/kvswarm/kvswarm/raftchunk"
)

// memTransport wires a fixed set of nodes together in-process, the
// same role transport/grpcpeer plays for real network peers.
type memTransport struct {
	mu    sync.RWMutex
	nodes map[ids.PeerId]*raftchunk.Node
}

func newMemTransport() *memTransport {
	return &memTransport{nodes: make(map[ids.PeerId]*raftchunk.Node)}
}

func (m *memTransport) add(peer ids.PeerId, n *raftchunk.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes[peer] = n
}

func (m *memTransport) TryRequest(ctx context.Context, peer ids.PeerId, msg raftchunk.TransportMessage, payload []byte) ([]byte, error) {
	m.mu.RLock()
	n, ok := m.nodes[peer]
	m.mu.RUnlock()

	if !ok {
		return nil, errPeerUnknown
	}

	return raftchunk.Dispatch(n, peer, msg, payload)
}

var errPeerUnknown = fmtErr("raftchunk_test: unknown peer")

type fmtErr string

func (e fmtErr) Error() string { return string(e) }

func waitForLeader(t *testing.T, nodes map[ids.PeerId]*raftchunk.Node, timeout time.Duration) ids.PeerId {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for peer, n := range nodes {
			if n.Role() == raftchunk.Leader {
				return peer
			}
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("no leader elected within timeout")

	return ids.PeerId{}
}

// Three peers elect exactly one leader.
func TestThreePeerLeaderElection(t *testing.T) {
	peers := []ids.PeerId{ids.NewPeerId("a:1"), ids.NewPeerId("b:1"), ids.NewPeerId("c:1")}
	tr := newMemTransport()
	nodes := make(map[ids.PeerId]*raftchunk.Node)

	for _, self := range peers {
		others := make([]ids.PeerId, 0, len(peers)-1)

		for _, p := range peers {
			if !p.Equal(self) {
				others = append(others, p)
			}
		}

		n := raftchunk.New(self, others, tr, func(raftchunk.LogEntry) {}, nil)
		nodes[self] = n
		tr.add(self, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, n := range nodes {
		go n.Run(ctx)
	}

	leader := waitForLeader(t, nodes, 2*time.Second)

	term := nodes[leader].Term()

	for peer, n := range nodes {
		if n.Role() == raftchunk.Leader && !peer.Equal(leader) {
			t.Fatalf("two leaders elected: %s and %s", leader, peer)
		}
	}

	if term == 0 {
		t.Fatal("expected a nonzero term after election")
	}
}

// TestApplyIsSynchronousAndInOrder proposes several entries back to
// back on a single-node cluster and checks apply sees them in strict
// index order with no gaps, matching New's documented contract that
// apply runs synchronously, in index order, as entries commit.
func TestApplyIsSynchronousAndInOrder(t *testing.T) {
	tr := newMemTransport()
	self := ids.NewPeerId("solo:1")

	var mu sync.Mutex
	var applied []uint64

	n := raftchunk.New(self, nil, tr, func(entry raftchunk.LogEntry) {
		mu.Lock()
		applied = append(applied, entry.Index)
		mu.Unlock()
	}, nil)
	tr.add(self, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.Run(ctx)
	waitForLeader(t, map[ids.PeerId]*raftchunk.Node{self: n}, 2*time.Second)

	const count = 20

	for i := 0; i < count; i++ {
		if _, err := n.Propose(raftchunk.Payload{Kind: raftchunk.PayloadInsert, Revision: []byte{byte(i)}}); err != nil {
			t.Fatalf("Propose(%d): %s", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)

	for {
		mu.Lock()
		got := len(applied)
		mu.Unlock()

		if got == count {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("only %d/%d entries applied before the deadline", got, count)
		}

		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	for i, index := range applied {
		if index != uint64(i+1) {
			t.Fatalf("applied out of order: applied[%d] = index %d, want %d", i, index, i+1)
		}
	}
}

func TestProposeRejectedWhenNotLeader(t *testing.T) {
	tr := newMemTransport()
	self := ids.NewPeerId("solo:1")
	n := raftchunk.New(self, nil, tr, func(raftchunk.LogEntry) {}, nil)
	tr.add(self, n)

	_, err := n.Propose(raftchunk.Payload{Kind: raftchunk.PayloadInsert, Revision: []byte("x")})

	if err == nil {
		t.Fatal("expected NotLeaderError for a node that hasn't been elected yet")
	}
}
