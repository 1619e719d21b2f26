package raft

import "errors"

// Sentinel errors standing in for braft's errno-style result codes.
// Compare with errors.Is, never by message or type assertion.
var (
	// ErrBusy marks a transient refusal to install a snapshot (snapshot
	// throttle full, or a witness node without EnableWitnessToLeader); the
	// replicator blocks for RetryReplicateIntervalMs and retries.
	ErrBusy = errors.New("raft: busy")

	// ErrInterrupted marks an install-snapshot request the follower
	// rejected without a higher term; like ErrBusy, the replicator blocks
	// for RetryReplicateIntervalMs and retries.
	ErrInterrupted = errors.New("raft: interrupted")

	// ErrStop marks a replicator that is being, or has been, torn down.
	ErrStop = errors.New("raft: stopped")

	// ErrTimedOut marks an RPC or wait that exceeded its deadline.
	ErrTimedOut = errors.New("raft: timed out")

	// ErrPermission marks a replicator giving up because the local node is
	// no longer leader (stepped down, or about to).
	ErrPermission = errors.New("raft: not leader")

	// ErrHigherTerm marks a follower response carrying a term higher than
	// ours; the caller must step down.
	ErrHigherTerm = errors.New("raft: higher term observed")

	// ErrReadonly marks an append blocked by the readonly boundary: only
	// configuration entries are let through past readonly_index.
	ErrReadonly = errors.New("raft: readonly boundary reached")

	// ErrInvalid marks a malformed argument (e.g. a PeerId string that does
	// not parse, or a duplicate wait_for_caught_up call).
	ErrInvalid = errors.New("raft: invalid argument")

	// ErrHostUnreachable marks a channel that failed to dial.
	ErrHostUnreachable = errors.New("raft: host unreachable")

	// ErrRange marks a request that would exceed a configured size limit
	// (max_body_size), or a prev-log position older than first_log_index.
	ErrRange = errors.New("raft: out of range")

	// ErrNoEntry marks a missing log entry at an expected index.
	ErrNoEntry = errors.New("raft: no such log entry")

	// ErrIO marks a snapshot reader/storage I/O failure.
	ErrIO = errors.New("raft: io error")

	// ErrNotFound marks a lookup against the id-keyed latch registry that
	// found no live replicator for the given id (already destroyed, or
	// never existed).
	ErrNotFound = errors.New("raft: replicator not found")
)
