package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTestReplicator(t *testing.T, g *ReplicatorGroup, peer PeerId, lm *fakeLogManager, bb *fakeBallotBox, node *fakeNode, transport *fakeTransport) {
	t.Helper()
	require.NoError(t, g.AddReplicator(newTestOptions(peer, lm, bb, node, transport)))
}

func TestReplicatorGroup_AddContainsPeersStop(t *testing.T) {
	lm := newFakeLogManager(1, 5)
	seedEntries(lm, 1, 1, 5)
	bb := &fakeBallotBox{}
	node := &fakeNode{}

	g := NewReplicatorGroup()
	p1 := mustParsePeer("10.0.0.1:9000:0:0")
	p2 := mustParsePeer("10.0.0.2:9000:0:0")
	addTestReplicator(t, g, p1, lm, bb, node, &fakeTransport{})
	addTestReplicator(t, g, p2, lm, bb, node, &fakeTransport{})

	assert.True(t, g.Contains(p1))
	assert.True(t, g.Contains(p2))
	assert.ErrorIs(t, g.AddReplicator(newTestOptions(p1, lm, bb, node, &fakeTransport{})), ErrInvalid)

	peers := g.Peers()
	require.Len(t, peers, 2)
	assert.True(t, peers[0].Less(peers[1]) || peers[0].Equal(peers[1]))

	g.StopReplicator(p1)
	assert.False(t, g.Contains(p1))
	assert.True(t, g.Contains(p2))
}

func TestReplicatorGroup_StopAllRemovesEveryReplicator(t *testing.T) {
	lm := newFakeLogManager(1, 5)
	seedEntries(lm, 1, 1, 5)
	bb := &fakeBallotBox{}
	node := &fakeNode{}

	g := NewReplicatorGroup()
	peers := []PeerId{
		mustParsePeer("10.0.0.1:9000:0:0"),
		mustParsePeer("10.0.0.2:9000:0:0"),
		mustParsePeer("10.0.0.3:9000:0:0"),
	}
	for _, p := range peers {
		addTestReplicator(t, g, p, lm, bb, node, &fakeTransport{})
	}

	require.NoError(t, g.StopAll())
	for _, p := range peers {
		assert.False(t, g.Contains(p))
	}
	assert.Equal(t, 0, g.reg.len())
}

func TestReplicatorGroup_FindTheNextCandidate(t *testing.T) {
	lm := newFakeLogManager(1, 10)
	seedEntries(lm, 1, 1, 10)
	bb := &fakeBallotBox{}
	// One shared Node, as every Replicator in a real group has: witness-ness
	// below is a property of the peer (PeerId.Role), never of this Node.
	node := &fakeNode{}

	g := NewReplicatorGroup()
	pBehind := mustParsePeer("10.0.0.1:9000:0:0")
	pAhead := mustParsePeer("10.0.0.2:9000:0:0")
	pWitness := mustParsePeer("10.0.0.3:9000:0:1")
	pSelf := mustParsePeer("10.0.0.4:9000:0:0")
	require.True(t, pWitness.IsWitness())

	addTestReplicator(t, g, pBehind, lm, bb, node, &fakeTransport{})
	addTestReplicator(t, g, pAhead, lm, bb, node, &fakeTransport{})
	addTestReplicator(t, g, pWitness, lm, bb, node, &fakeTransport{})
	addTestReplicator(t, g, pSelf, lm, bb, node, &fakeTransport{})

	require.Eventually(t, func() bool {
		for _, p := range []PeerId{pBehind, pAhead, pWitness, pSelf} {
			st, err := GetStatus(g.reg, g.byPeer[p.key()])
			if err != nil || st.State != StateIdle {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	candidate, ok := g.FindTheNextCandidate(pSelf)
	require.True(t, ok)
	assert.False(t, candidate.Equal(pSelf))
	assert.False(t, candidate.Equal(pWitness))
}

func TestReplicatorGroup_ReadonlyPropagation(t *testing.T) {
	lm := newFakeLogManager(1, 5)
	seedEntries(lm, 1, 1, 5)
	bb := &fakeBallotBox{}
	node := &fakeNode{}

	g := NewReplicatorGroup()
	p1 := mustParsePeer("10.0.0.1:9000:0:0")
	p2 := mustParsePeer("10.0.0.2:9000:0:0")
	addTestReplicator(t, g, p1, lm, bb, node, &fakeTransport{})
	addTestReplicator(t, g, p2, lm, bb, node, &fakeTransport{})

	require.NoError(t, g.ChangeReadonlyConfig(true))
	for _, p := range []PeerId{p1, p2} {
		readonly, err := g.Readonly(p)
		require.NoError(t, err)
		assert.True(t, readonly)
	}

	require.NoError(t, g.ChangeReadonlyConfig(false))
	readonly, err := g.Readonly(p1)
	require.NoError(t, err)
	assert.False(t, readonly)
}

func TestReplicatorGroup_StopAllAndFindTheNextCandidate(t *testing.T) {
	lm := newFakeLogManager(1, 5)
	seedEntries(lm, 1, 1, 5)
	bb := &fakeBallotBox{}
	node := &fakeNode{}

	timeoutNowSent := make(chan PeerId, 1)
	newTransportFor := func(peer PeerId) *fakeTransport {
		t := &fakeTransport{}
		t.timeoutNowFn = func(req *TimeoutNowRequest) (*TimeoutNowResponse, error) {
			timeoutNowSent <- req.PeerID
			return &TimeoutNowResponse{Success: true, Term: req.Term}, nil
		}
		return t
	}

	g := NewReplicatorGroup()
	p1 := mustParsePeer("10.0.0.1:9000:0:0")
	p2 := mustParsePeer("10.0.0.2:9000:0:0")
	pSelf := mustParsePeer("10.0.0.3:9000:0:0")
	addTestReplicator(t, g, p1, lm, bb, node, newTransportFor(p1))
	addTestReplicator(t, g, p2, lm, bb, node, newTransportFor(p2))
	addTestReplicator(t, g, pSelf, lm, bb, node, newTransportFor(pSelf))

	target, err := g.StopAllAndFindTheNextCandidate(pSelf)
	require.NoError(t, err)
	assert.False(t, target.Equal(pSelf))

	select {
	case gotPeer := <-timeoutNowSent:
		assert.True(t, gotPeer.Equal(target))
	case <-time.After(time.Second):
		t.Fatal("timeout-now was never sent to the chosen candidate")
	}

	require.Eventually(t, func() bool {
		return g.reg.len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReplicatorGroup_TransferLeadershipToValidation(t *testing.T) {
	lm := newFakeLogManager(1, 5)
	seedEntries(lm, 1, 1, 5)
	bb := &fakeBallotBox{}
	node := &fakeNode{}

	g := NewReplicatorGroup()
	healthy := mustParsePeer("10.0.0.1:9000:0:0")
	unreachable := mustParsePeer("10.0.0.2:9000:0:0")
	absent := mustParsePeer("10.0.0.9:9000:0:0")

	addTestReplicator(t, g, healthy, lm, bb, node, &fakeTransport{})

	failing := &fakeTransport{}
	failing.appendEntriesFn = func(req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
		return nil, assert.AnError
	}
	addTestReplicator(t, g, unreachable, lm, bb, node, failing)

	require.Eventually(t, func() bool {
		st, err := GetStatus(g.reg, g.byPeer[unreachable.key()])
		return err == nil && st.ConsecutiveErrorTimes > 0
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, g.TransferLeadershipTo(absent, 0), ErrInvalid)
	assert.ErrorIs(t, g.TransferLeadershipTo(unreachable, 0), ErrHostUnreachable)

	require.Eventually(t, func() bool {
		st, err := GetStatus(g.reg, g.byPeer[healthy.key()])
		return err == nil && st.State == StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, g.TransferLeadershipTo(healthy, 0))
}
