package raft

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ReplicatorGroup multiplexes one Replicator per peer for a single Raft
// group, the leader-side fan-out spec.md §4.10 describes. It owns the
// id-keyed registry every Replicator in the group is addressed through.
type ReplicatorGroup struct {
	reg *registry

	mu     sync.Mutex
	byPeer map[string]ReplicatorID
}

// NewReplicatorGroup returns an empty group.
func NewReplicatorGroup() *ReplicatorGroup {
	return &ReplicatorGroup{
		reg:    newRegistry(),
		byPeer: make(map[string]ReplicatorID),
	}
}

// AddReplicator starts a Replicator for peer and tracks it under the
// group. Returns ErrInvalid if a replicator for this peer already exists.
func (g *ReplicatorGroup) AddReplicator(opts ReplicatorOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := opts.PeerID.key()
	if _, ok := g.byPeer[key]; ok {
		return ErrInvalid
	}
	id, err := StartReplicator(g.reg, opts)
	if err != nil {
		return err
	}
	g.byPeer[key] = id
	return nil
}

// StopReplicator stops and forgets the replicator for peer, if any.
func (g *ReplicatorGroup) StopReplicator(peer PeerId) {
	g.mu.Lock()
	id, ok := g.byPeer[peer.key()]
	if ok {
		delete(g.byPeer, peer.key())
	}
	g.mu.Unlock()
	if ok {
		_ = Stop(g.reg, id)
	}
}

// Contains reports whether the group is currently replicating to peer.
func (g *ReplicatorGroup) Contains(peer PeerId) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.byPeer[peer.key()]
	return ok
}

// Peers returns every peer the group currently replicates to, sorted for
// reproducible iteration.
func (g *ReplicatorGroup) Peers() []PeerId {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PeerId, 0, len(g.byPeer))
	for _, id := range g.byPeer {
		if st, err := GetStatus(g.reg, id); err == nil {
			out = append(out, st.Peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StopAll stops every replicator in the group concurrently, via errgroup,
// and reports every replicator that was already gone combined through
// go-multierror (the Go-idiomatic replacement for fanning out
// bthread_id_join across every peer and collecting errors).
func (g *ReplicatorGroup) StopAll() error {
	g.mu.Lock()
	ids := make([]ReplicatorID, 0, len(g.byPeer))
	for peer, id := range g.byPeer {
		ids = append(ids, id)
		delete(g.byPeer, peer)
	}
	g.mu.Unlock()

	var mu sync.Mutex
	var merr *multierror.Error
	var eg errgroup.Group
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			if err := Stop(g.reg, id); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return merr.ErrorOrNil()
}

// candidate pairs a peer with its replication progress, used to rank
// leadership-transfer targets.
type candidate struct {
	peer      PeerId
	nextIndex int64
}

// FindTheNextCandidate selects the peer best positioned to take over as
// leader: the most caught-up non-witness replica (highest next_index),
// excluding the local server itself. Returns ok=false if no eligible
// candidate exists. Mirrors find_the_next_candidate's selection rule.
func (g *ReplicatorGroup) FindTheNextCandidate(exclude PeerId) (PeerId, bool) {
	g.mu.Lock()
	ids := make(map[string]ReplicatorID, len(g.byPeer))
	for k, v := range g.byPeer {
		ids[k] = v
	}
	g.mu.Unlock()

	var best *candidate
	for _, id := range ids {
		rep, ok := g.reg.lock(id)
		if !ok {
			continue
		}
		if rep.options.PeerID.Equal(exclude) || rep.options.PeerID.IsWitness() {
			rep.mu.Unlock()
			continue
		}
		cur := candidate{peer: rep.options.PeerID, nextIndex: rep.nextIndex}
		rep.mu.Unlock()
		if best == nil || cur.nextIndex > best.nextIndex {
			c := cur
			best = &c
		}
	}
	if best == nil {
		return PeerId{}, false
	}
	return best.peer, true
}

// TransferLeadershipTo arms the replicator for peer to send TimeoutNow once
// its pipeline has drained past logIndex (0 meaning the log's current
// tail), handing leadership over cooperatively. Returns ErrInvalid if peer
// is not part of this group, or ErrHostUnreachable if that peer currently
// has outstanding consecutive RPC failures. Mirrors
// transfer_leadership_to(peer, log_index).
func (g *ReplicatorGroup) TransferLeadershipTo(peer PeerId, logIndex int64) error {
	g.mu.Lock()
	id, ok := g.byPeer[peer.key()]
	g.mu.Unlock()
	if !ok {
		return ErrInvalid
	}
	return RequestTransferLeadershipTo(g.reg, id, logIndex)
}

// StopAllAndFindTheNextCandidate picks the best handoff target, forces an
// immediate handoff to it via SendTimeoutNowAndStop, and stops every other
// replicator in the group concurrently — used when the local node has
// already stepped down and must hand off without waiting for a
// cooperative drain. Mirrors the combined
// stop_all()+send_timeout_now_and_stop() sequence braft's node-level step-
// down path drives (the node-level sequencing itself stays out of scope;
// only this group-level operation does).
func (g *ReplicatorGroup) StopAllAndFindTheNextCandidate(exclude PeerId) (PeerId, error) {
	target, ok := g.FindTheNextCandidate(exclude)

	g.mu.Lock()
	var targetID ReplicatorID
	ids := make([]ReplicatorID, 0, len(g.byPeer))
	for peer, id := range g.byPeer {
		if ok && peer == target.key() {
			targetID = id
			continue
		}
		ids = append(ids, id)
	}
	g.byPeer = make(map[string]ReplicatorID)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			_ = Stop(g.reg, id)
			return nil
		})
	}
	_ = eg.Wait()

	if !ok {
		return PeerId{}, ErrNotFound
	}
	if err := SendTimeoutNowAndStop(g.reg, targetID); err != nil {
		return PeerId{}, err
	}
	return target, nil
}

// ChangeReadonlyConfig propagates a readonly-mode change to every
// replicator in the group (used when the node-level configuration change
// sets or clears the cluster's readonly boundary).
func (g *ReplicatorGroup) ChangeReadonlyConfig(readonly bool) error {
	g.mu.Lock()
	ids := make([]ReplicatorID, 0, len(g.byPeer))
	for _, id := range g.byPeer {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var merr *multierror.Error
	for _, id := range ids {
		if err := ChangeReplicatorReadonly(g.reg, id, readonly); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Readonly reports whether a given peer currently has the readonly
// boundary set.
func (g *ReplicatorGroup) Readonly(peer PeerId) (bool, error) {
	g.mu.Lock()
	id, ok := g.byPeer[peer.key()]
	g.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}
	st, err := GetStatus(g.reg, id)
	if err != nil {
		return false, err
	}
	return st.Readonly, nil
}

// waitAll blocks until context cancellation or until the group no longer
// tracks any peer (its peer map is empty), polling every 5ms. It does not
// check the registry itself.
func waitAll(ctx context.Context, g *ReplicatorGroup) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		g.mu.Lock()
		n := len(g.byPeer)
		g.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
