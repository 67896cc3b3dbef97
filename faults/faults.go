// Package faults collects the cross-cutting error taxonomy.
// Individual packages are free to define narrower sentinel errors of
// their own, following storage/mvcc's pattern; this package holds the
// kinds that cross package boundaries: they show up in transaction
// results, RPC responses, and the fatal ProtocolViolation path.
package faults

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// SchemaMismatch: a field type or arity disagrees with the table
	// descriptor. Fatal to the operation, surfaced to the caller.
	SchemaMismatch = errors.New("schema mismatch")
	// Duplicate: insert of an id that already exists. Surfaced;
	// transaction aborts.
	Duplicate = errors.New("duplicate id")
	// StaleUpdate: an update's target head is newer than the
	// transaction's begin time. Transaction aborts with ConflictRetry.
	StaleUpdate = errors.New("stale update")
	// ConflictCondition: a declared conflict-check query matched at
	// commit time. Transaction aborts.
	ConflictCondition = errors.New("conflict condition matched")
	// ConflictRetry is returned to the client of a transaction whose
	// commit-time checks failed; the client may re-read and retry.
	ConflictRetry = errors.New("conflict, retry transaction")
	// LockDeclined: a remote peer declined a write-lock request.
	// Retried locally with back-off.
	LockDeclined = errors.New("lock declined")
	// Unavailable is the user-visible form of a Transport failure: the
	// RPC could not complete after retry.
	Unavailable = errors.New("peer unavailable")
	// NotLeader: a write was attempted on a non-leader raft replica.
	// See NotLeaderError for the variant that carries the known leader.
	NotLeader = errors.New("not the leader")
)

// NotLeaderError carries the last known leader so a client can
// redirect its request.
type NotLeaderError struct {
	// Leader is the last known leader's address, or "" if unknown.
	Leader string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "not the leader, leader unknown"
	}

	return fmt.Sprintf("not the leader, current leader is %s", e.Leader)
}

// Unwrap lets errors.Is(err, NotLeader) succeed against a *NotLeaderError.
func (e *NotLeaderError) Unwrap() error {
	return NotLeader
}

// Violation reports a ProtocolViolation: two leaders elected in the same
// term, a committed entry that conflicts with the log, a lock release
// without a matching acquire. These are fatal: they crash the peer
// with diagnostic context. Violation logs at
// Fatal via the supplied logger, which zap will terminate the process
// after flushing; ctx fields (chunk id, peer, term, ...) are attached so
// the crash carries the context that produced it.
func Violation(ctx context.Context, logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Fatal("protocol violation: "+msg, fields...)
}

// ViolationError is used in call paths (like tests) that need to observe
// a ProtocolViolation without invoking zap's Fatal exit behavior.
type ViolationError struct {
	Msg string
}

func (e *ViolationError) Error() string {
	return "protocol violation: " + e.Msg
}
