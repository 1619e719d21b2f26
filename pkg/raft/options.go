package raft

import "go.uber.org/atomic"

// Tunables collects the knobs spec.md §6.6 names, with the same defaults
// braft ships.
type Tunables struct {
	// MaxEntriesSize caps how many log entries (not bytes) may be in
	// flight across all pipelined append-entries RPCs at once.
	MaxEntriesSize int

	// MaxBodySize caps the cumulative byte size of entry payloads packed
	// into a single append-entries RPC.
	MaxBodySize int

	// MaxParallelAppendEntriesRPCNum caps how many append-entries RPCs may
	// be outstanding to one peer simultaneously.
	MaxParallelAppendEntriesRPCNum int

	// RetryReplicateIntervalMs is the backoff used after a busy/interrupted
	// failure, before retrying.
	RetryReplicateIntervalMs int

	// RPCChannelConnectTimeoutMs bounds how long channel construction may
	// block before giving up.
	RPCChannelConnectTimeoutMs int

	// EnableWitnessToLeader lets log entry bodies be sent to witness peers,
	// and lets a replicator on a witness node install snapshots (both
	// normally suppressed).
	EnableWitnessToLeader bool
}

// DefaultTunables returns the values braft ships by default.
func DefaultTunables() Tunables {
	return Tunables{
		MaxEntriesSize:                  1024,
		MaxBodySize:                     512 * 1024,
		MaxParallelAppendEntriesRPCNum:  1,
		RetryReplicateIntervalMs:        1000,
		RPCChannelConnectTimeoutMs:      1000,
		EnableWitnessToLeader:           false,
	}
}

// ReplicatorStatus is shared, mutable state a Replicator updates and an
// external reader (e.g. the node's health check) polls without taking the
// replicator's own lock. Only the timestamp needs this: everything else a
// reader wants goes through GetStatus/Describe, which do take the lock.
type ReplicatorStatus struct {
	lastRPCSendTimestampMs atomic.Int64
	refs                   atomic.Int64
}

// NewReplicatorStatus returns a zeroed status.
func NewReplicatorStatus() *ReplicatorStatus {
	return &ReplicatorStatus{}
}

// LastRPCSendTimestampMs returns the wall-clock time, in epoch
// milliseconds, the most recent successful RPC was sent at.
func (s *ReplicatorStatus) LastRPCSendTimestampMs() int64 {
	return s.lastRPCSendTimestampMs.Load()
}

func (s *ReplicatorStatus) update(tsMs int64) {
	s.lastRPCSendTimestampMs.Store(tsMs)
}

// AddRef/Release bracket the lifetime of every Replicator sharing this
// status, so a node can tell when the last one has let go.
func (s *ReplicatorStatus) AddRef()   { s.refs.Inc() }
func (s *ReplicatorStatus) Release()  { s.refs.Dec() }
func (s *ReplicatorStatus) RefCount() int64 { return s.refs.Load() }

// ReplicatorOptions configures one Replicator instance: which peer it
// drives, the collaborators it reports into, and its tunables. Built with
// plain struct literals by the caller — this is a library, not a service
// with its own config file.
type ReplicatorOptions struct {
	GroupID  string
	ServerID PeerId
	PeerID   PeerId
	Term     int64

	LogManager       LogManager
	BallotBox        BallotBox
	Node             Node
	SnapshotStorage  SnapshotStorage
	SnapshotThrottle SnapshotThrottle // optional, may be nil

	// HeartbeatTimeoutMs and ElectionTimeoutMs are read at call time (not
	// copied), so a node can adjust them live as it re-elects.
	HeartbeatTimeoutMs *int64
	ElectionTimeoutMs  *int64

	Status *ReplicatorStatus

	Tunables Tunables

	ChannelFactory   ChannelFactory
	TransportFactory TransportFactory
}

func (o ReplicatorOptions) validate() error {
	if o.LogManager == nil || o.BallotBox == nil || o.Node == nil {
		return ErrInvalid
	}
	if o.Status == nil || o.HeartbeatTimeoutMs == nil || o.ElectionTimeoutMs == nil {
		return ErrInvalid
	}
	if o.ChannelFactory == nil || o.TransportFactory == nil {
		return ErrInvalid
	}
	if o.PeerID.IsEmpty() {
		return ErrInvalid
	}
	return nil
}
