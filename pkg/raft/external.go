package raft

// LogManager is the external log store this module reads from and waits
// on. Implementing on-disk storage is explicitly out of scope (spec.md
// §1) — this module only ever reads through this interface.
type LogManager interface {
	// FirstLogIndex returns the oldest index still retained (entries below
	// it have been compacted into a snapshot).
	FirstLogIndex() int64

	// LastLogIndex returns the newest index appended locally.
	LastLogIndex() int64

	// TermOf returns the term of the entry at index, or 0 if index is 0 or
	// out of the retained range.
	TermOf(index int64) int64

	// GetEntry returns the entry at index, or ok=false if it is out of the
	// retained range ([FirstLogIndex, LastLogIndex]).
	GetEntry(index int64) (entry *LogEntry, ok bool)

	// Wait registers cb to fire once the log has advanced past
	// lastKnownIndex, or once cb must be woken for another reason (e.g. the
	// waiter was removed). Returns an opaque wait id for RemoveWaiter, or 0
	// if the log has already advanced past lastKnownIndex and cb has been
	// scheduled without registering a waiter.
	Wait(lastKnownIndex int64, cb func(err error)) int64

	// RemoveWaiter cancels a previously registered Wait callback. A no-op
	// if it has already fired or didn't exist.
	RemoveWaiter(waitID int64)
}

// BallotBox is the external quorum counter. Implementing quorum counting is
// explicitly out of scope — this module only ever reports progress into it.
type BallotBox interface {
	// LastCommittedIndex returns the highest index known to be committed.
	LastCommittedIndex() int64

	// CommitAt reports that peer has acknowledged every entry in
	// [firstLogIndex, lastLogIndex].
	CommitAt(firstLogIndex, lastLogIndex int64, peer PeerId)
}

// SnapshotReader exposes a previously opened snapshot for transfer to a
// follower that has fallen behind the retained log.
type SnapshotReader interface {
	// GenerateURIForCopy returns a transport-specific URI the follower can
	// use to pull snapshot data. Actual file transport is out of scope.
	GenerateURIForCopy() string

	// LoadMeta returns the last-included index/term/configuration the
	// snapshot covers.
	LoadMeta() (SnapshotMeta, error)
}

// SnapshotStorage is the external snapshot store.
type SnapshotStorage interface {
	// Open returns the most recent snapshot for installing on a follower,
	// or ok=false if none exists yet.
	Open() (reader SnapshotReader, ok bool)

	// Close releases a reader obtained from Open.
	Close(reader SnapshotReader)
}

// SnapshotThrottle bounds how many concurrent snapshot installs/reads the
// node allows, independent of replication pipelining.
type SnapshotThrottle interface {
	// AddOneMoreTask reports whether one more concurrent snapshot task
	// (install=true) or read task (install=false) may start.
	AddOneMoreTask(install bool) bool

	// FinishOneTask releases the slot acquired by AddOneMoreTask.
	FinishOneTask(install bool)
}

// Node is the external node-level role machine: election, term, and
// step-down state this module reports into and reacts to. Implementing it
// is explicitly out of scope (spec.md §1).
type Node interface {
	// AddRef/Release bracket the lifetime of a Replicator's use of the
	// node, so the node can defer destruction until every replicator has
	// let go of it.
	AddRef()
	Release()

	// IncreaseTermTo asks the node to step down to follower and adopt
	// newTerm, because of reason (typically ErrHigherTerm).
	IncreaseTermTo(newTerm int64, reason error)

	// OnError reports a replicator-level error the node might want to act
	// on (e.g. log it, or trigger a leadership check).
	OnError(err error)

	// ChangeReadonlyConfig reports a readonly-mode change observed for
	// peer at term, so the node can update its own bookkeeping.
	ChangeReadonlyConfig(term int64, peer PeerId, readonly bool)

	// IsWitness reports whether the local node is a non-voting witness
	// (a witness node does not send snapshots unless
	// Tunables.EnableWitnessToLeader is set).
	IsWitness() bool
}
