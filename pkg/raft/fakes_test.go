package raft

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// The fakes below stand in for the external collaborators spec.md places
// out of scope (LogManager, BallotBox, Node, Transport). They hold just
// enough state for the Replicator/ReplicatorGroup tests in this package.

type fakeWaiter struct {
	lastKnownIndex int64
	cb             func(error)
}

type fakeLogManager struct {
	mu         sync.Mutex
	entries    map[int64]*LogEntry
	first      int64
	last       int64
	waiters    map[int64]fakeWaiter
	nextWaitID int64
}

func newFakeLogManager(first, last int64) *fakeLogManager {
	return &fakeLogManager{
		entries: make(map[int64]*LogEntry),
		waiters: make(map[int64]fakeWaiter),
		first:   first,
		last:    last,
	}
}

// put appends/overwrites an entry and fires (and removes) any waiter whose
// lastKnownIndex the new last log index has advanced past, the way a real
// LogManager wakes pipeline waiters once new entries land.
func (m *fakeLogManager) put(e *LogEntry) {
	m.mu.Lock()
	m.entries[e.Index] = e
	if e.Index > m.last {
		m.last = e.Index
	}
	var fire []func(error)
	for id, w := range m.waiters {
		if m.last > w.lastKnownIndex {
			fire = append(fire, w.cb)
			delete(m.waiters, id)
		}
	}
	m.mu.Unlock()
	for _, cb := range fire {
		go cb(nil)
	}
}

func (m *fakeLogManager) FirstLogIndex() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.first
}

func (m *fakeLogManager) LastLogIndex() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *fakeLogManager) TermOf(index int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index == 0 {
		return 0
	}
	if e, ok := m.entries[index]; ok {
		return e.Term
	}
	return 0
}

func (m *fakeLogManager) GetEntry(index int64) (*LogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[index]
	return e, ok
}

func (m *fakeLogManager) Wait(lastKnownIndex int64, cb func(error)) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last > lastKnownIndex {
		go cb(nil)
		return 0
	}
	m.nextWaitID++
	id := m.nextWaitID
	m.waiters[id] = fakeWaiter{lastKnownIndex: lastKnownIndex, cb: cb}
	return id
}

func (m *fakeLogManager) RemoveWaiter(waitID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiters, waitID)
}

type ballotCall struct {
	first, last int64
	peer        PeerId
}

type fakeBallotBox struct {
	mu        sync.Mutex
	committed int64
	calls     []ballotCall
}

func (b *fakeBallotBox) LastCommittedIndex() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

func (b *fakeBallotBox) CommitAt(first, last int64, peer PeerId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, ballotCall{first, last, peer})
	if last > b.committed {
		b.committed = last
	}
}

type readonlyChange struct {
	term     int64
	peer     PeerId
	readonly bool
}

type fakeNode struct {
	mu              sync.Mutex
	refs            int
	increasedTerm   int64
	increaseReason  error
	witness         bool
	readonlyChanges []readonlyChange
}

func (n *fakeNode) AddRef()  { n.mu.Lock(); n.refs++; n.mu.Unlock() }
func (n *fakeNode) Release() { n.mu.Lock(); n.refs--; n.mu.Unlock() }

func (n *fakeNode) IncreaseTermTo(term int64, reason error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.increasedTerm = term
	n.increaseReason = reason
}

func (n *fakeNode) OnError(err error) {}

func (n *fakeNode) ChangeReadonlyConfig(term int64, peer PeerId, readonly bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readonlyChanges = append(n.readonlyChanges, readonlyChange{term, peer, readonly})
}

func (n *fakeNode) IsWitness() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.witness
}

func (n *fakeNode) refCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs
}

// fakeTransport lets each test script the next response to every RPC kind
// via a function field, swapped under lock between dispatches.
type fakeTransport struct {
	mu                sync.Mutex
	appendEntriesFn   func(*AppendEntriesRequest) (*AppendEntriesResponse, error)
	installSnapshotFn func(*InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	timeoutNowFn      func(*TimeoutNowRequest) (*TimeoutNowResponse, error)
	appendCalls       []*AppendEntriesRequest
}

func (t *fakeTransport) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	t.mu.Lock()
	t.appendCalls = append(t.appendCalls, req)
	fn := t.appendEntriesFn
	t.mu.Unlock()
	if fn == nil {
		return &AppendEntriesResponse{Success: true, Term: req.Term, LastLogIndex: req.PrevLogIndex + int64(len(req.Entries))}, nil
	}
	return fn(req)
}

func (t *fakeTransport) InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	t.mu.Lock()
	fn := t.installSnapshotFn
	t.mu.Unlock()
	if fn == nil {
		return &InstallSnapshotResponse{Success: true, Term: req.Term}, nil
	}
	return fn(req)
}

func (t *fakeTransport) TimeoutNow(ctx context.Context, req *TimeoutNowRequest) (*TimeoutNowResponse, error) {
	t.mu.Lock()
	fn := t.timeoutNowFn
	t.mu.Unlock()
	if fn == nil {
		return &TimeoutNowResponse{Success: true, Term: req.Term}, nil
	}
	return fn(req)
}

func (t *fakeTransport) Close() error { return nil }

type fakeSnapshotReader struct{}

func (fakeSnapshotReader) GenerateURIForCopy() string { return "remote://snapshot" }

func (fakeSnapshotReader) LoadMeta() (SnapshotMeta, error) {
	return SnapshotMeta{LastIncludedIndex: 3, LastIncludedTerm: 1}, nil
}

type fakeSnapshotStorage struct {
	mu     sync.Mutex
	opened int
}

func (s *fakeSnapshotStorage) Open() (SnapshotReader, bool) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return fakeSnapshotReader{}, true
}

func (s *fakeSnapshotStorage) Close(SnapshotReader) {}

func (s *fakeSnapshotStorage) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// fakeChannelFactory dials a passthrough, never-connected target: tests
// never exercise the real network, only the Transport fakes above, so the
// *grpc.ClientConn this returns is never actually used to carry traffic.
type fakeChannelFactory struct{}

func (fakeChannelFactory) Dial(ctx context.Context, peer PeerId, connectTimeoutMs int) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "passthrough:///"+peer.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func int64Ptr(v int64) *int64 { return &v }

func newTestOptions(peer PeerId, lm *fakeLogManager, bb *fakeBallotBox, node *fakeNode, transport *fakeTransport) ReplicatorOptions {
	tun := DefaultTunables()
	tun.MaxEntriesSize = 8
	tun.RetryReplicateIntervalMs = 20
	return ReplicatorOptions{
		GroupID:            "group-1",
		ServerID:           mustParsePeer("10.0.0.1:9000:0:0"),
		PeerID:             peer,
		Term:               1,
		LogManager:         lm,
		BallotBox:          bb,
		Node:               node,
		HeartbeatTimeoutMs: int64Ptr(60_000),
		ElectionTimeoutMs:  int64Ptr(120_000),
		Status:             NewReplicatorStatus(),
		Tunables:           tun,
		ChannelFactory:     fakeChannelFactory{},
		TransportFactory:   func(*grpc.ClientConn) Transport { return transport },
	}
}

func mustParsePeer(s string) PeerId {
	p, err := ParsePeerId(s)
	if err != nil {
		panic(err)
	}
	return p
}
