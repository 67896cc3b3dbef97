package distlock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvswarm/kvswarm/distlock"
	"github.com/kvswarm/kvswarm/ids"
)

type singlePeer struct {
	self ids.PeerId
}

func (p singlePeer) Members() []ids.PeerId { return []ids.PeerId{p.self} }

type noopTransport struct{}

func (noopTransport) TryRequest(ctx context.Context, peer ids.PeerId, msg distlock.TransportMessage, payload []byte) ([]byte, error) {
	return []byte{1}, nil
}

func TestWriteLockUnlockSymmetric(t *testing.T) {
	self := ids.NewPeerId("a:1")
	l := distlock.New(self, singlePeer{self}, noopTransport{})

	for i := 0; i < 3; i++ {
		if err := l.WriteLock(context.Background(), 1); err != nil {
			t.Fatalf("WriteLock: %s", err)
		}
	}

	if l.State() != distlock.WriteLocked {
		t.Fatalf("expected WriteLocked after nested acquisition, got %s", l.State())
	}

	for i := 0; i < 3; i++ {
		if err := l.WriteUnlock(context.Background(), 1); err != nil {
			t.Fatalf("WriteUnlock: %s", err)
		}
	}

	if l.State() != distlock.Unlocked {
		t.Fatalf("expected Unlocked after symmetric unlocks, got %s", l.State())
	}
}

func TestHandleLockRequestUnlockedGrants(t *testing.T) {
	self := ids.NewPeerId("a:1")
	l := distlock.New(self, singlePeer{self}, noopTransport{})
	requester := ids.NewPeerId("b:1")

	if !l.HandleLockRequest(requester) {
		t.Fatal("expected Ack from Unlocked state")
	}

	if l.State() != distlock.WriteLocked {
		t.Fatalf("expected WriteLocked after granting remote request, got %s", l.State())
	}

	l.HandleUnlockRequest(requester)

	if l.State() != distlock.Unlocked {
		t.Fatalf("expected Unlocked after remote release, got %s", l.State())
	}
}

func TestHandleLockRequestDeclinesWhenAlreadyHeld(t *testing.T) {
	self := ids.NewPeerId("a:1")
	l := distlock.New(self, singlePeer{self}, noopTransport{})

	if err := l.WriteLock(context.Background(), 1); err != nil {
		t.Fatalf("WriteLock: %s", err)
	}

	if l.HandleLockRequest(ids.NewPeerId("b:1")) {
		t.Fatal("expected Decline while locally write-locked")
	}
}

func TestRelinquishDeclinesAllRequests(t *testing.T) {
	self := ids.NewPeerId("a:1")
	l := distlock.New(self, singlePeer{self}, noopTransport{})
	l.Relinquish()

	if l.HandleLockRequest(ids.NewPeerId("b:1")) {
		t.Fatal("expected relinquished peer to decline")
	}
}

// lockRouter wires two or more *distlock.Lock instances together so
// their TryRequest calls land on each other's Dispatch, the way two
// real peers would over a transport.Messenger.
type lockRouter struct {
	mu    sync.Mutex
	locks map[ids.PeerId]*distlock.Lock
}

func newLockRouter() *lockRouter {
	return &lockRouter{locks: make(map[ids.PeerId]*distlock.Lock)}
}

func (r *lockRouter) register(id ids.PeerId, l *distlock.Lock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.locks[id] = l
}

func (r *lockRouter) transportFor(self ids.PeerId) distlock.Transport {
	return routedTransport{self: self, router: r}
}

type routedTransport struct {
	self   ids.PeerId
	router *lockRouter
}

func (t routedTransport) TryRequest(ctx context.Context, peer ids.PeerId, msg distlock.TransportMessage, payload []byte) ([]byte, error) {
	t.router.mu.Lock()
	l := t.router.locks[peer]
	t.router.mu.Unlock()

	return distlock.Dispatch(l, t.self, msg, payload)
}

type twoPeerSet struct{ a, b ids.PeerId }

func (p twoPeerSet) Members() []ids.PeerId { return []ids.PeerId{p.a, p.b} }

// TestConcurrentWriteLockMutualExclusion drives two real *distlock.Lock
// instances, wired to each other through Dispatch exactly as two peers
// would be over a transport, into WriteLock at the same time. Before
// HandleLockRequest tracked the lowest concurrently-attempting peer
// itself, this always granted the Attempting-state tie-break check a
// permanently invalid comparand and let both sides believe they held
// the write lock simultaneously.
func TestConcurrentWriteLockMutualExclusion(t *testing.T) {
	a := ids.NewPeerId("a:1")
	b := ids.NewPeerId("b:1")

	r := newLockRouter()

	la := distlock.New(a, twoPeerSet{a, b}, r.transportFor(a))
	lb := distlock.New(b, twoPeerSet{a, b}, r.transportFor(b))

	r.register(a, la)
	r.register(b, lb)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = la.WriteLock(ctx, 1) }()
	go func() { defer wg.Done(); errs[1] = lb.WriteLock(ctx, 1) }()
	wg.Wait()

	aOwns := errs[0] == nil && la.State() == distlock.WriteLocked
	bOwns := errs[1] == nil && lb.State() == distlock.WriteLocked

	if aOwns && bOwns {
		t.Fatal("both peers believe they hold the write lock at once")
	}

	if !aOwns && !bOwns {
		t.Fatalf("neither peer acquired the write lock before the deadline: a=%v b=%v", errs[0], errs[1])
	}
}
