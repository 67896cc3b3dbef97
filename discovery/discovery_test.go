package discovery_test

import (
	"testing"

	"github.com/kvswarm/kvswarm/discovery"
	"github.com/kvswarm/kvswarm/ids"
)

func TestLocateWrapsToLowestMember(t *testing.T) {
	r := discovery.NewRing()

	low := ids.IdFromWords(0, 10)
	high := ids.IdFromWords(0, 20)

	peerLow := ids.NewPeerId("low:1")
	peerHigh := ids.NewPeerId("high:1")

	r.Join(low, peerLow)
	r.Join(high, peerHigh)

	if got := r.Locate(ids.IdFromWords(0, 15)); !got.Equal(peerHigh) {
		t.Fatalf("Locate(15) = %s, want %s", got, peerHigh)
	}

	if got := r.Locate(ids.IdFromWords(0, 25)); !got.Equal(peerLow) {
		t.Fatalf("Locate(25) = %s, want %s (wraparound)", got, peerLow)
	}
}

func TestLeaveRemovesMember(t *testing.T) {
	r := discovery.NewRing()
	id := ids.IdFromWords(0, 1)
	peer := ids.NewPeerId("a:1")

	r.Join(id, peer)
	r.Leave(id)

	if got := r.Locate(ids.IdFromWords(0, 5)); got.IsValid() {
		t.Fatalf("Locate after Leave = %s, want zero value", got)
	}
}

func TestLocateEmptyRing(t *testing.T) {
	r := discovery.NewRing()

	if got := r.Locate(ids.IdFromWords(0, 1)); got.IsValid() {
		t.Fatalf("Locate on empty ring = %s, want zero value", got)
	}
}
