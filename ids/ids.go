// Package ids defines the opaque 128-bit identifiers used throughout
// kvswarm: chunk ids, record ids, table ids, and peer addresses.
package ids

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Id is a 128-bit opaque identifier. The zero value is never valid; it is
// reserved to mean "no id" in APIs that need one.
type Id struct {
	hi uint64
	lo uint64
}

// NewId generates a random, non-zero Id.
func NewId() Id {
	for {
		raw := uuid.New()
		id := Id{
			hi: binary.BigEndian.Uint64(raw[0:8]),
			lo: binary.BigEndian.Uint64(raw[8:16]),
		}

		if !id.IsZero() {
			return id
		}
	}
}

// IdFromWords builds an Id from its two 64-bit words, as they appear on
// the wire.
func IdFromWords(hi, lo uint64) Id {
	return Id{hi: hi, lo: lo}
}

// IsZero reports whether id is the reserved zero value.
func (id Id) IsZero() bool {
	return id.hi == 0 && id.lo == 0
}

// Words returns the two 64-bit words that make up id, in wire order.
func (id Id) Words() (hi, lo uint64) {
	return id.hi, id.lo
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other, comparing the high word first. This total order is used
// to break ties deterministically (e.g. ascending chunk id order for
// multi-chunk transaction lock acquisition).
func (id Id) Compare(other Id) int {
	if id.hi != other.hi {
		if id.hi < other.hi {
			return -1
		}

		return 1
	}

	if id.lo != other.lo {
		if id.lo < other.lo {
			return -1
		}

		return 1
	}

	return 0
}

// Less reports whether id sorts before other.
func (id Id) Less(other Id) bool {
	return id.Compare(other) < 0
}

// String renders id as a hex string, hi word first.
func (id Id) String() string {
	return fmt.Sprintf("%016x%016x", id.hi, id.lo)
}

// ChunkId identifies a chunk: the unit of replication.
type ChunkId Id

// IsZero reports whether id is the reserved zero value.
func (id ChunkId) IsZero() bool { return Id(id).IsZero() }

// Compare orders chunk ids; used to acquire multi-chunk locks in a fixed
// order to avoid deadlock.
func (id ChunkId) Compare(other ChunkId) int { return Id(id).Compare(Id(other)) }

// String renders id as a hex string.
func (id ChunkId) String() string { return Id(id).String() }

// RecordId identifies a single record within a chunk.
type RecordId Id

// IsZero reports whether id is the reserved zero value.
func (id RecordId) IsZero() bool { return Id(id).IsZero() }

// Compare orders record ids.
func (id RecordId) Compare(other RecordId) int { return Id(id).Compare(Id(other)) }

// String renders id as a hex string.
func (id RecordId) String() string { return Id(id).String() }

// TableId identifies a logical table.
type TableId Id

// IsZero reports whether id is the reserved zero value.
func (id TableId) IsZero() bool { return Id(id).IsZero() }

// String renders id as a hex string.
func (id TableId) String() string { return Id(id).String() }

// PeerId is a transport address. Equality is by address; ordering is
// lexicographic on the address string, which the distributed lock
// relies on to break simultaneous write-lock attempts deterministically.
type PeerId struct {
	address string
}

// NewPeerId wraps an address string as a PeerId.
func NewPeerId(address string) PeerId {
	return PeerId{address: address}
}

// Address returns the raw transport address.
func (p PeerId) Address() string {
	return p.address
}

// IsValid reports whether p has a non-empty address.
func (p PeerId) IsValid() bool {
	return p.address != ""
}

// Less reports whether p sorts before other by address.
func (p PeerId) Less(other PeerId) bool {
	return p.address < other.address
}

// Equal reports whether p and other name the same address.
func (p PeerId) Equal(other PeerId) bool {
	return p.address == other.address
}

func (p PeerId) String() string {
	return p.address
}

// SortPeers sorts peers in ascending address order in place and also
// returns the slice, for use at both lock-acquire (ascending) and
// unlock (reverse) time.
func SortPeers(peers []PeerId) []PeerId {
	sort.Slice(peers, func(i, j int) bool { return peers[i].Less(peers[j]) })

	return peers
}

// MinPeer returns the lowest-address peer among peers, or the zero
// PeerId if peers is empty. It encodes the same rule as the distributed
// lock's tie-break (the peer with the lowest address wins a collision
// between two concurrently attempting peers), which distlock evaluates
// incrementally without calling MinPeer.
func MinPeer(peers []PeerId) PeerId {
	if len(peers) == 0 {
		return PeerId{}
	}

	min := peers[0]

	for _, p := range peers[1:] {
		if p.Less(min) {
			min = p
		}
	}

	return min
}
