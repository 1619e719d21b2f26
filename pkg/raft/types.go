package raft

// LogEntryType distinguishes log entry payloads the replicator must treat
// specially (configuration changes) from opaque application data.
type LogEntryType int

// Log entry kinds, mirrored from the original's EntryType enum.
const (
	EntryTypeUnknown LogEntryType = iota
	EntryTypeNoOp
	EntryTypeData
	EntryTypeConfiguration
)

func (t LogEntryType) String() string {
	switch t {
	case EntryTypeNoOp:
		return "no-op"
	case EntryTypeData:
		return "data"
	case EntryTypeConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// LogEntry is the unit LogManager hands back for a given index. Peers/
// OldPeers are only populated for EntryTypeConfiguration entries.
type LogEntry struct {
	Index    int64
	Term     int64
	Type     LogEntryType
	Data     []byte
	Peers    []PeerId
	OldPeers []PeerId
}

// SnapshotMeta describes the last entry folded into a snapshot.
type SnapshotMeta struct {
	LastIncludedIndex int64
	LastIncludedTerm  int64
	Peers             []PeerId
	OldPeers          []PeerId
}

// ReplicatorState is the coarse state a Replicator reports via Stat.
type ReplicatorState int

const (
	// StateIdle: no RPC outstanding, nothing queued.
	StateIdle ReplicatorState = iota
	// StateBlocking: backing off after a failure, a timer is armed.
	StateBlocking
	// StateAppendingEntries: one or more append-entries RPCs in flight.
	StateAppendingEntries
	// StateInstallingSnapshot: an install-snapshot RPC in flight.
	StateInstallingSnapshot
)

func (s ReplicatorState) String() string {
	switch s {
	case StateBlocking:
		return "blocking"
	case StateAppendingEntries:
		return "appending-entries"
	case StateInstallingSnapshot:
		return "installing-snapshot"
	default:
		return "idle"
	}
}

// Stat is the point-in-time snapshot a Replicator reports through
// GetStatus/Describe.
type Stat struct {
	Kind          ReplicatorState
	FirstLogIndex int64
	LastLogIndex  int64
}
