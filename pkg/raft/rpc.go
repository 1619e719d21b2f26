package raft

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// EntryMeta is the wire-shaped view of one LogEntry carried inside an
// AppendEntriesRequest. Data is omitted for witness peers unless
// Tunables.EnableWitnessToLeader is set, matching _prepare_entry.
type EntryMeta struct {
	Term     int64
	Type     LogEntryType
	DataLen  int
	Data     []byte
	Peers    []PeerId
	OldPeers []PeerId
}

// AppendEntriesRequest is the field contract of spec.md §6.5 for both
// heartbeats (Entries empty, IsHeartbeat true) and real replication calls.
type AppendEntriesRequest struct {
	GroupID        string
	Term           int64
	ServerID       PeerId
	PeerID         PeerId
	PrevLogIndex   int64
	PrevLogTerm    int64
	CommittedIndex int64
	Entries        []EntryMeta
	IsHeartbeat    bool
}

// AppendEntriesResponse is the follower's reply.
type AppendEntriesResponse struct {
	Term         int64
	Success      bool
	LastLogIndex int64
	HasReadonly  bool
	Readonly     bool
}

// InstallSnapshotRequest asks a follower to pull and apply the snapshot
// described by Meta from URI. The snapshot bytes themselves are never
// marshalled by this module (out of scope) — URI is transport-specific.
type InstallSnapshotRequest struct {
	GroupID  string
	Term     int64
	ServerID PeerId
	PeerID   PeerId
	Meta     SnapshotMeta
	URI      string
}

// InstallSnapshotResponse is the follower's reply.
type InstallSnapshotResponse struct {
	Term    int64
	Success bool
}

// TimeoutNowRequest asks a caught-up follower to start an election
// immediately, for leadership transfer.
type TimeoutNowRequest struct {
	GroupID              string
	Term                 int64
	ServerID             PeerId
	PeerID               PeerId
	OldLeaderSteppedDown bool
}

// TimeoutNowResponse is the follower's reply.
type TimeoutNowResponse struct {
	Term    int64
	Success bool
}

// Transport sends the three RPC kinds a Replicator issues. Marshalling onto
// the wire (protobuf, or anything else) is explicitly out of scope — a
// caller supplies a Transport built on its own generated stubs over the
// *grpc.ClientConn this module dials via ChannelFactory.
type Transport interface {
	AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	TimeoutNow(ctx context.Context, req *TimeoutNowRequest) (*TimeoutNowResponse, error)
	Close() error
}

// TransportFactory builds a Transport over an already-dialed connection.
// Kept as a plain func type rather than an interface so callers can hand in
// a closure wrapping their generated grpc client constructor.
type TransportFactory func(conn *grpc.ClientConn) Transport

// ChannelFactory owns connection lifecycle for a peer: direct dial for
// endpoint peers, or name resolution plus load balancing for hostname
// peers. This is the one piece of RPC channel construction spec.md places
// in scope (§4.2 step 2); what rides over the channel is not.
type ChannelFactory interface {
	Dial(ctx context.Context, peer PeerId, connectTimeoutMs int) (*grpc.ClientConn, error)
}

// GRPCChannelFactory is the default ChannelFactory: direct "ip:port" dial
// for endpoint peers, "dns:///host:port" with round_robin for hostname
// peers — mirroring the original's branch between a plain Init(addr) and
// HostNameAddr2NSUrl + LOAD_BALANCER_NAME.
type GRPCChannelFactory struct {
	// DialOptions are appended after the factory's own defaults, letting a
	// caller add interceptors, TLS credentials, etc.
	DialOptions []grpc.DialOption
}

// Dial implements ChannelFactory.
func (f GRPCChannelFactory) Dial(ctx context.Context, peer PeerId, connectTimeoutMs int) (*grpc.ClientConn, error) {
	target := peer.addrString()
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if peer.IsHostname() {
		target = fmt.Sprintf("dns:///%s", target)
		opts = append(opts, grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`))
	}
	opts = append(opts, f.DialOptions...)

	dialCtx := ctx
	var cancel context.CancelFunc
	if connectTimeoutMs > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(connectTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrHostUnreachable, target, err)
	}
	return conn, nil
}
