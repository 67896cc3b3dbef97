// Package distlock implements the per-chunk distributed read/write
// lock: a fair lock over a replica set that avoids deadlock by always
// acquiring peers in ascending address order and releasing in
// descending order, with the lowest-address peer acting as
// tie-breaker when two peers attempt a write lock at the same time.
package distlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kvswarm/kvswarm/faults"
	"github.com/kvswarm/kvswarm/ids"
)

// State names the lock's local state machine positions.
type State int

const (
	Unlocked State = iota
	ReadLocked
	Attempting
	WriteLocked
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case ReadLocked:
		return "read_locked"
	case Attempting:
		return "attempting"
	case WriteLocked:
		return "write_locked"
	default:
		return "unknown"
	}
}

// Peers abstracts the chunk's current replica set so distlock doesn't
// import chunk (which imports distlock).
type Peers interface {
	// Members returns the current replica set, self included.
	Members() []ids.PeerId
}

// Transport is the subset of transport.Messenger a Lock needs to
// issue remote lock/unlock requests. It's satisfied by
// *transport.Router.
type Transport interface {
	TryRequest(ctx context.Context, peer ids.PeerId, msg TransportMessage, payload []byte) ([]byte, error)
}

// TransportMessage avoids importing the transport package's
// MessageType directly, so distlock has no import-cycle risk with
// transport's own consumers; grpcpeer and transport.Router both key
// off plain strings underneath.
type TransportMessage string

const (
	MsgLock   TransportMessage = "chunk.lock"
	MsgUnlock TransportMessage = "chunk.unlock"
)

// retryDelay is the back-off between a declined write-lock attempt and
// the next retry.
var retryDelay = 20 * time.Millisecond

// Lock is one chunk's distributed read/write lock.
type Lock struct {
	self  ids.PeerId
	peers Peers
	t     Transport

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	readers int

	// holder/thread/depth describe the current write-lock owner. depth
	// tracks same-thread recursive writeLock calls.
	holder ids.PeerId
	thread uint64
	depth  int

	// attempting is the lowest-address peer (other than self) seen
	// requesting the write lock while this peer is itself Attempting.
	// It's reset at the start of each Attempting round and updated as
	// incoming requests arrive, giving HandleLockRequest a real
	// tie-break comparand instead of depending on a caller-supplied one.
	attempting ids.PeerId

	// relinquished peers decline every lock request.
	relinquished bool
}

// New builds an unlocked Lock for a chunk with the given replica-set
// view and RPC transport.
func New(self ids.PeerId, peers Peers, t Transport) *Lock {
	l := &Lock{self: self, peers: peers, t: t, state: Unlocked}
	l.cond = sync.NewCond(&l.mu)

	return l
}

// ReadLock blocks until a read lock is granted: it waits while the
// state is WriteLocked or Attempting, unless the caller already holds
// the write lock on the same thread, in which case it recurses into
// that write lock instead of counting as a separate reader.
func (l *Lock) ReadLock(thread uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for (l.state == WriteLocked || l.state == Attempting) && !(l.state == WriteLocked && l.thread == thread) {
		l.cond.Wait()
	}

	if l.state == WriteLocked && l.thread == thread {
		l.depth++
		return
	}

	l.readers++
	l.state = ReadLocked
}

// ReadUnlock releases one reader.
func (l *Lock) ReadUnlock(thread uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == WriteLocked && l.thread == thread {
		l.depth--

		if l.depth == 0 {
			l.state = Unlocked
			l.cond.Broadcast()
		}

		return
	}

	l.readers--

	if l.readers <= 0 {
		l.readers = 0
		l.state = Unlocked
		l.cond.Broadcast()
	}
}

// WriteLock acquires the write lock across the whole replica set,
// retrying on decline until it succeeds. thread
// identifies the calling logical thread so recursive acquisition by
// the same thread is a no-op depth increment rather than a deadlock.
func (l *Lock) WriteLock(ctx context.Context, thread uint64) error {
	l.mu.Lock()

	if l.state == WriteLocked && l.thread == thread {
		l.depth++
		l.mu.Unlock()

		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-done:
		}
	}()

	for {
		for l.state != Unlocked {
			if err := ctx.Err(); err != nil {
				l.mu.Unlock()
				return err
			}
			l.cond.Wait()
		}

		l.state = Attempting
		l.attempting = ids.PeerId{}
		l.mu.Unlock()

		ok, err := l.attemptRemote(ctx)

		l.mu.Lock()

		if err != nil {
			l.state = Unlocked
			l.cond.Broadcast()
			l.mu.Unlock()

			return err
		}

		if ok {
			l.state = WriteLocked
			l.holder = l.self
			l.thread = thread
			l.depth = 1
			l.cond.Broadcast()
			l.mu.Unlock()

			return nil
		}

		// Declined: roll back to Unlocked, sleep briefly, retry.
		l.state = Unlocked
		l.cond.Broadcast()
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}

		l.mu.Lock()
	}
}

// attemptRemote asks every other peer in the replica set for the
// write lock, requiring every response to be Ack. The metadata mutex
// is never held across these RPCs.
func (l *Lock) attemptRemote(ctx context.Context) (bool, error) {
	for _, peer := range l.peers.Members() {
		if peer.Equal(l.self) {
			continue
		}

		resp, err := l.t.TryRequest(ctx, peer, MsgLock, []byte(l.self.Address()))

		if err != nil {
			return false, fmt.Errorf("%w: lock request to %s failed: %s", faults.Unavailable, peer, err)
		}

		if len(resp) == 0 || resp[0] == 0 {
			return false, nil
		}
	}

	return true, nil
}

// WriteUnlock releases one level of the write lock. At depth 0 it
// notifies peers in descending address order, transitioning this
// peer's own state to Unlocked only once every strictly-greater peer
// has acknowledged the release, preserving the deadlock-avoidance
// invariant.
func (l *Lock) WriteUnlock(ctx context.Context, thread uint64) error {
	l.mu.Lock()

	if l.state != WriteLocked || l.thread != thread {
		l.mu.Unlock()
		return fmt.Errorf("distlock: unlock called by thread %d that does not hold the write lock", thread)
	}

	l.depth--

	if l.depth > 0 {
		l.mu.Unlock()
		return nil
	}

	members := l.peers.Members()
	l.mu.Unlock()

	higher := make([]ids.PeerId, 0, len(members))

	for _, peer := range members {
		if l.self.Less(peer) {
			higher = append(higher, peer)
		}
	}

	ids.SortPeers(higher)

	for i := len(higher) - 1; i >= 0; i-- {
		if _, err := l.t.TryRequest(ctx, higher[i], MsgUnlock, []byte(l.self.Address())); err != nil {
			return fmt.Errorf("%w: unlock request to %s failed: %s", faults.Unavailable, higher[i], err)
		}
	}

	lower := make([]ids.PeerId, 0, len(members))

	for _, peer := range members {
		if peer.Less(l.self) {
			lower = append(lower, peer)
		}
	}

	ids.SortPeers(lower)

	for i := len(lower) - 1; i >= 0; i-- {
		if _, err := l.t.TryRequest(ctx, lower[i], MsgUnlock, []byte(l.self.Address())); err != nil {
			return fmt.Errorf("%w: unlock request to %s failed: %s", faults.Unavailable, lower[i], err)
		}
	}

	l.mu.Lock()
	l.state = Unlocked
	l.holder = ids.PeerId{}
	l.thread = 0
	l.cond.Broadcast()
	l.mu.Unlock()

	return nil
}

// Relinquish marks this peer as having left the chunk; every
// subsequent incoming lock request is declined.
func (l *Lock) Relinquish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.relinquished = true
}

// State reports the current local state, for diagnostics and tests.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// HandleLockRequest is the remote side of the lock-request handler:
// it decides Ack/Decline for an incoming write lock request from
// requester, given this peer's local state and its view of who else
// is attempting.
//
// While this peer is itself Attempting, it remembers the lowest-address
// requester it has seen so far in l.attempting and uses that as the
// tie-break comparand: "if self_peer < lowest_other_attempting and
// requester > self_peer, Decline". This only sees peers that have
// actually contacted this one, which is all a peer can know without a
// shared view of global state, but it's enough to resolve the
// two-peer collision the rule exists for.
func (l *Lock) HandleLockRequest(requester ids.PeerId) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.relinquished {
		return false
	}

	switch l.state {
	case Unlocked:
		l.state = WriteLocked
		l.holder = requester
		return true
	case ReadLocked:
		for l.readers > 0 {
			l.cond.Wait()
		}

		l.state = WriteLocked
		l.holder = requester
		return true
	case Attempting:
		if !requester.Equal(l.self) && (!l.attempting.IsValid() || requester.Less(l.attempting)) {
			l.attempting = requester
		}

		if l.attempting.IsValid() && l.self.Less(l.attempting) && !requester.Less(l.self) && !requester.Equal(l.self) {
			return false
		}

		l.state = WriteLocked
		l.holder = requester
		return true
	case WriteLocked:
		return false
	default:
		return false
	}
}

// HandleUnlockRequest is the remote side of unlock: it clears the
// WriteLocked state that HandleLockRequest most recently granted to
// requester.
func (l *Lock) HandleUnlockRequest(requester ids.PeerId) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == WriteLocked && l.holder.Equal(requester) {
		l.state = Unlocked
		l.holder = ids.PeerId{}
		l.cond.Broadcast()
	}
}
