package raft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/flowraft/replicator/pkg/metrics"
	"github.com/flowraft/replicator/pkg/util"
)

// Replicator drives log replication to a single follower: pipelined
// append-entries RPCs, heartbeats, snapshot-install fallback when the
// follower has fallen behind the retained log, readonly propagation, and
// leadership transfer. A Replicator is never touched through a raw
// pointer once started — every re-entry (timer, RPC callback, external
// call) goes through the owning registry by ReplicatorID (spec.md §9
// Design Notes).
type Replicator struct {
	mu        sync.Mutex
	id        ReplicatorID
	registry  *registry
	destroyed bool

	options ReplicatorOptions
	log     *zap.SugaredLogger
	metrics *metrics.ReplicatorMetrics

	conn      *grpc.ClientConn
	transport Transport

	nextIndex               int64
	flyingAppendEntriesSize int64
	inFlight                InFlightTracker
	consecutiveErrorTimes   int
	hasSucceeded            bool

	readonlyIndex   int64
	peerReadonly    bool
	timeoutNowIndex int64

	waitID           int64
	isWaiterCanceled bool

	st Stat

	heartbeatCallID string
	heartbeatTimer  *time.Timer
	blockTimer      *time.Timer

	appendEntriesCancels  map[string]context.CancelFunc
	heartbeatCancel       context.CancelFunc
	installSnapshotCancel context.CancelFunc
	timeoutNowCancel      context.CancelFunc

	reader  SnapshotReader
	catchup *catchupWaiter
}

// StartReplicator dials the peer, registers a new Replicator under a fresh
// ReplicatorID, and kicks off its first probe (an empty append-entries
// RPC establishing next_index against the follower's real log state).
// Mirrors Replicator::start.
func StartReplicator(reg *registry, opts ReplicatorOptions) (ReplicatorID, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}

	conn, err := opts.ChannelFactory.Dial(context.Background(), opts.PeerID, opts.Tunables.RPCChannelConnectTimeoutMs)
	if err != nil {
		return "", err
	}
	transport := opts.TransportFactory(conn)

	opts.Node.AddRef()
	opts.Status.AddRef()

	r := &Replicator{
		registry:             reg,
		options:              opts,
		log:                  util.Scoped("group", opts.GroupID, "peer", opts.PeerID.String()),
		metrics:              metrics.NewReplicatorMetrics(opts.GroupID, opts.PeerID.String()),
		conn:                 conn,
		transport:            transport,
		nextIndex:            opts.LogManager.LastLogIndex() + 1,
		appendEntriesCancels: make(map[string]context.CancelFunc),
	}

	id := newReplicatorID()
	r.id = id
	reg.put(id, r)

	r.mu.Lock()
	r.startHeartbeatTimer()
	r.sendEmptyEntries(false) // unlocks
	return id, nil
}

// Stop tears down the replicator named by id. Returns ErrNotFound if it
// was already gone. Matches Replicator::stop: the catch-up closure, if
// any, is delivered ErrPermission here — by the time destroy's own
// notifyOnCaughtUp(ErrStop, ...) would run, the closure has already been
// cleared, so ErrStop is in practice never what an operator-initiated stop
// delivers (see DESIGN.md Open Question 2).
func Stop(reg *registry, id ReplicatorID) error {
	rep, ok := reg.lock(id)
	if !ok {
		return ErrNotFound
	}
	rep.notifyOnCaughtUp(ErrPermission, true)
	rep.destroy()
	return nil
}

// destroy must be called with r.mu held; it always releases r.mu. No
// further use of r is valid afterward.
func (r *Replicator) destroy() {
	r.registry.remove(r.id)
	r.destroyed = true

	r.cancelHeartbeatTimer()
	if r.blockTimer != nil {
		r.blockTimer.Stop()
	}
	r.cancelAppendEntriesRPCs()
	if r.heartbeatCancel != nil {
		r.heartbeatCancel()
	}
	if r.installSnapshotCancel != nil {
		r.installSnapshotCancel()
	}
	if r.timeoutNowCancel != nil {
		r.timeoutNowCancel()
	}

	if r.waitID != 0 {
		r.options.LogManager.RemoveWaiter(r.waitID)
		r.waitID = 0
	}
	if r.reader != nil {
		r.options.SnapshotStorage.Close(r.reader)
		r.reader = nil
	}
	if r.catchup != nil {
		r.notifyOnCaughtUp(ErrStop, true)
	}

	if r.conn != nil {
		r.conn.Close()
	}
	r.log.Infow("replicator stopped", "next_index", r.nextIndex)

	r.mu.Unlock()

	r.options.Node.Release()
	r.options.Status.Release()
}

func (r *Replicator) cancelHeartbeatTimer() {
	if r.heartbeatTimer != nil {
		r.heartbeatTimer.Stop()
	}
}

func (r *Replicator) cancelAppendEntriesRPCs() {
	for _, cancel := range r.appendEntriesCancels {
		cancel()
	}
	r.appendEntriesCancels = make(map[string]context.CancelFunc)
	r.inFlight.Reset()
}

// resetNextIndex rewinds next_index back to the start of whatever was in
// flight, and cancels every outstanding append-entries RPC and log-manager
// waiter — every response they eventually deliver is now stale and must be
// ignored by ValidCallID.
func (r *Replicator) resetNextIndex() {
	r.nextIndex -= r.flyingAppendEntriesSize
	r.flyingAppendEntriesSize = 0
	r.cancelAppendEntriesRPCs()
	r.isWaiterCanceled = true
	if r.waitID != 0 {
		r.options.LogManager.RemoveWaiter(r.waitID)
		r.waitID = 0
	}
}

// minFlyingIndex returns the pipeline's oldest outstanding index, or
// next_index when the pipeline has fully drained — "whatever index comes
// next" once nothing is left in flight. Used by the transfer-leadership /
// timeout-now drained check and to fill st.FirstLogIndex in sendEntries.
func (r *Replicator) minFlyingIndex() int64 {
	if r.inFlight.Len() > 0 {
		return r.inFlight.MinFlyingIndex()
	}
	return r.nextIndex
}

// startHeartbeatTimer arms the next periodic heartbeat. Must be called
// with r.mu held.
func (r *Replicator) startHeartbeatTimer() {
	d := time.Duration(*r.options.HeartbeatTimeoutMs) * time.Millisecond
	reg := r.registry
	id := r.id
	r.heartbeatTimer = time.AfterFunc(d, func() {
		rep, ok := reg.lock(id)
		if !ok {
			return
		}
		rep.startHeartbeatTimer()
		rep.sendEmptyEntries(true) // unlocks
	})
}

// block puts the replicator into StateBlocking for a backoff period, then
// resumes sending. Must be called with r.mu held; always releases it.
func (r *Replicator) block(errCode error) {
	if r.st.Kind == StateBlocking {
		r.mu.Unlock()
		return
	}

	var d time.Duration
	if errors.Is(errCode, ErrBusy) || errors.Is(errCode, ErrInterrupted) {
		d = time.Duration(r.options.Tunables.RetryReplicateIntervalMs) * time.Millisecond
	} else {
		d = time.Duration(*r.options.HeartbeatTimeoutMs) * time.Millisecond
	}
	r.st.Kind = StateBlocking

	reg := r.registry
	id := r.id
	r.blockTimer = time.AfterFunc(d, func() {
		rep, ok := reg.lock(id)
		if !ok {
			return
		}
		rep.st.Kind = StateIdle
		rep.mu.Unlock()
		continueSending(reg, id, ErrTimedOut)
	})
	r.mu.Unlock()
}

// continueSending resumes replication after a block timer fires or a
// log-manager Wait callback runs. Always acquires and releases its own
// lock via the registry.
func continueSending(reg *registry, id ReplicatorID, errCode error) {
	rep, ok := reg.lock(id)
	if !ok {
		return
	}
	if errors.Is(errCode, ErrTimedOut) {
		if rep.waitID != 0 {
			rep.mu.Unlock()
			return
		}
		rep.sendEmptyEntries(false) // unlocks
		return
	}
	if !errors.Is(errCode, ErrStop) && !rep.isWaiterCanceled {
		rep.waitID = 0
		rep.sendEntries() // unlocks
		return
	}
	rep.mu.Unlock()
}

// fillCommonFields fills the fields shared by heartbeat and real
// append-entries requests. When the entry at prevLogIndex has been
// compacted out of the log (TermOf returns 0 for a non-zero index), a
// heartbeat probe degrades to prev_log_index=prev_log_term=0 (it only
// needs to poke the follower's last-contact timestamp), while a real
// append-entries attempt reports ErrRange so the caller falls back to
// installing a snapshot. Mirrors _fill_common_fields(..., is_heartbeat).
func (r *Replicator) fillCommonFields(req *AppendEntriesRequest, prevLogIndex int64, forHeartbeat bool) error {
	prevLogTerm := r.options.LogManager.TermOf(prevLogIndex)
	if prevLogTerm == 0 && prevLogIndex != 0 {
		if !forHeartbeat {
			return ErrRange
		}
		prevLogIndex = 0
	}
	req.GroupID = r.options.GroupID
	req.Term = r.options.Term
	req.ServerID = r.options.ServerID
	req.PeerID = r.options.PeerID
	req.PrevLogIndex = prevLogIndex
	req.PrevLogTerm = prevLogTerm
	req.CommittedIndex = r.options.BallotBox.LastCommittedIndex()
	return nil
}

// sendEmptyEntries sends a probe: either a true heartbeat (on the periodic
// timer) or a zero-entry append-entries RPC used to establish/confirm
// next_index before real pipelining resumes. Must be called with r.mu
// held; always releases it.
func (r *Replicator) sendEmptyEntries(isHeartbeat bool) {
	req := &AppendEntriesRequest{IsHeartbeat: isHeartbeat}
	if err := r.fillCommonFields(req, r.nextIndex-1, isHeartbeat); err != nil {
		r.installSnapshot() // unlocks
		return
	}

	callID := uuid.NewString()
	var ctx context.Context
	if isHeartbeat {
		r.heartbeatCallID = callID
		timeoutMs := *r.options.ElectionTimeoutMs / 2
		if timeoutMs <= 0 {
			timeoutMs = 1
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
		r.heartbeatCancel = cancel
	} else {
		r.st = Stat{Kind: StateAppendingEntries, FirstLogIndex: r.nextIndex, LastLogIndex: r.nextIndex - 1}
		r.inFlight.Reset()
		r.inFlight.Push(r.nextIndex, 0, callID)
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		r.appendEntriesCancels[callID] = cancel
	}

	sendTime := time.Now()
	transport := r.transport
	reg := r.registry
	id := r.id
	r.mu.Unlock()

	go func() {
		resp, err := transport.AppendEntries(ctx, req)
		if isHeartbeat {
			onHeartbeatReturned(reg, id, callID, resp, err, sendTime)
		} else {
			onAppendEntriesReturned(reg, id, callID, req, resp, err, sendTime)
		}
	}()
}

// prepareEntry fills one EntryMeta for the log entry at nextIndex+offset,
// enforcing the cumulative request body-size cap and the readonly
// boundary. Returns ErrRange once the accumulated body size has reached
// Tunables.MaxBodySize, ErrNoEntry once the log runs out of entries at
// this offset, or ErrReadonly once a non-configuration entry at or past
// readonly_index would be sent (configuration entries are always let
// through, and advance readonly_index past themselves). Mirrors
// _prepare_entry.
func (r *Replicator) prepareEntry(offset int, bodySize *int) (*EntryMeta, error) {
	if *bodySize >= r.options.Tunables.MaxBodySize {
		return nil, ErrRange
	}
	logIndex := r.nextIndex + int64(offset)
	entry, ok := r.options.LogManager.GetEntry(logIndex)
	if !ok {
		return nil, ErrNoEntry
	}
	if r.readonlyIndex != 0 && logIndex >= r.readonlyIndex {
		if entry.Type != EntryTypeConfiguration {
			return nil, ErrReadonly
		}
		r.readonlyIndex = logIndex + 1
	}

	em := &EntryMeta{Term: entry.Term, Type: entry.Type, Peers: entry.Peers, OldPeers: entry.OldPeers}
	if !r.options.PeerID.IsWitness() || r.options.Tunables.EnableWitnessToLeader {
		em.DataLen = len(entry.Data)
		em.Data = entry.Data
		*bodySize += len(entry.Data)
	}
	return em, nil
}

// sendEntries packs as many log entries as the pipeline budget and body
// size cap allow into one append-entries RPC and dispatches it, or falls
// back to installSnapshot/waitMoreEntries as appropriate. Must be called
// with r.mu held; always releases it.
func (r *Replicator) sendEntries() {
	if r.flyingAppendEntriesSize >= int64(r.options.Tunables.MaxEntriesSize) ||
		r.inFlight.Len() >= r.options.Tunables.MaxParallelAppendEntriesRPCNum ||
		r.st.Kind == StateBlocking {
		r.mu.Unlock()
		return
	}

	req := &AppendEntriesRequest{}
	if err := r.fillCommonFields(req, r.nextIndex-1, false); err != nil {
		r.installSnapshot() // unlocks
		return
	}

	maxEntries := int(int64(r.options.Tunables.MaxEntriesSize) - r.flyingAppendEntriesSize)
	bodySize := 0
	var prepErr error
	for i := 0; i < maxEntries; i++ {
		em, err := r.prepareEntry(i, &bodySize)
		if err != nil {
			prepErr = err
			break
		}
		req.Entries = append(req.Entries, *em)
	}

	if len(req.Entries) == 0 {
		if r.nextIndex < r.options.LogManager.FirstLogIndex() {
			r.installSnapshot() // unlocks
			return
		}
		if errors.Is(prepErr, ErrReadonly) {
			if r.flyingAppendEntriesSize == 0 {
				r.st.Kind = StateIdle
			}
			r.mu.Unlock()
			return
		}
		r.waitMoreEntries() // unlocks
		return
	}

	callID := uuid.NewString()
	firstIndex := r.nextIndex
	r.inFlight.Push(firstIndex, int64(len(req.Entries)), callID)
	r.nextIndex += int64(len(req.Entries))
	r.flyingAppendEntriesSize += int64(len(req.Entries))
	r.st.Kind = StateAppendingEntries
	r.st.FirstLogIndex = r.minFlyingIndex()
	r.st.LastLogIndex = r.nextIndex - 1
	r.metrics.ObserveBatch(len(req.Entries))

	ctx, cancel := context.WithCancel(context.Background())
	r.appendEntriesCancels[callID] = cancel
	sendTime := time.Now()
	transport := r.transport
	reg := r.registry
	id := r.id

	r.waitMoreEntries() // unlocks

	go func() {
		resp, err := transport.AppendEntries(ctx, req)
		onAppendEntriesReturned(reg, id, callID, req, resp, err, sendTime)
	}()
}

// waitMoreEntries registers a LogManager.Wait callback if the pipeline has
// spare budget and none is already registered, and updates st to Idle if
// nothing is outstanding. Must be called with r.mu held; always releases
// it.
func (r *Replicator) waitMoreEntries() {
	if r.waitID == 0 &&
		int64(r.options.Tunables.MaxEntriesSize) > r.flyingAppendEntriesSize &&
		r.options.Tunables.MaxParallelAppendEntriesRPCNum > r.inFlight.Len() {
		reg := r.registry
		id := r.id
		r.waitID = r.options.LogManager.Wait(r.nextIndex-1, func(err error) {
			continueSending(reg, id, err)
		})
		r.isWaiterCanceled = false
	}
	if r.flyingAppendEntriesSize == 0 {
		r.st.Kind = StateIdle
	}
	r.mu.Unlock()
}

// onAppendEntriesReturned handles a real append-entries RPC's response:
// failure backoff, term step-down, next_index correction on rejection, or
// ack-and-pipeline-more on success. Mirrors on_rpc_returned.
func onAppendEntriesReturned(reg *registry, id ReplicatorID, callID string, req *AppendEntriesRequest, resp *AppendEntriesResponse, transportErr error, sendTime time.Time) {
	rep, ok := reg.lock(id)
	if !ok {
		return
	}
	delete(rep.appendEntriesCancels, callID)

	rpcFirstIndex := req.PrevLogIndex + 1
	if !rep.inFlight.ValidCallID(rpcFirstIndex, callID) {
		// Superseded by a reset (next_index was rewound after we sent
		// this RPC); this response no longer describes live state.
		rep.mu.Unlock()
		return
	}
	minFlyingIndex := rep.inFlight.MinFlyingIndex()

	if transportErr != nil {
		rep.consecutiveErrorTimes++
		if rep.consecutiveErrorTimes%10 == 1 {
			rep.log.Warnw("append-entries rpc failed", "err", transportErr, "consecutive_errors", rep.consecutiveErrorTimes)
		}
		rep.metrics.SetConsecutiveErrorTimes(rep.consecutiveErrorTimes)
		rep.resetNextIndex()
		rep.block(transportErr) // unlocks
		return
	}
	rep.consecutiveErrorTimes = 0
	rep.metrics.SetConsecutiveErrorTimes(0)

	if !resp.Success {
		if resp.Term > rep.options.Term {
			rep.notifyOnCaughtUp(ErrPermission, true)
			rep.destroy()
			rep.options.Node.IncreaseTermTo(resp.Term, ErrHigherTerm)
			return
		}
		rep.options.Status.update(sendTime.UnixMilli())
		rep.resetNextIndex()
		if resp.LastLogIndex+1 < rep.nextIndex {
			rep.nextIndex = resp.LastLogIndex + 1
		} else if rep.nextIndex > 1 {
			rep.nextIndex--
		}
		rep.sendEmptyEntries(false) // unlocks
		return
	}

	if resp.Term != rep.options.Term {
		// Stale success from a term we no longer hold; don't trust its
		// next_index implications, just resync from a clean probe.
		rep.resetNextIndex()
		rep.mu.Unlock()
		return
	}

	rep.options.Status.update(sendTime.UnixMilli())
	entriesSize := len(req.Entries)
	rpcLastLogIndex := req.PrevLogIndex + int64(entriesSize)
	if entriesSize > 0 {
		rep.options.BallotBox.CommitAt(minFlyingIndex, rpcLastLogIndex, rep.options.PeerID)
		rep.metrics.ObserveLatency(time.Since(sendTime).Seconds(), entriesSize)
	}
	rep.flyingAppendEntriesSize -= rep.inFlight.AckThrough(rpcFirstIndex)
	rep.hasSucceeded = true
	rep.notifyOnCaughtUp(nil, false)

	if rep.timeoutNowIndex > 0 && rep.minFlyingIndex() > rep.timeoutNowIndex {
		rep.timeoutNowIndex = 0
		rep.sendTimeoutNow(false) // unlocks
		return
	}
	rep.sendEntries() // unlocks
}

// onHeartbeatReturned handles a heartbeat probe's response: a stale
// callID (superseded by a newer heartbeat) is ignored, a higher term
// triggers step-down exactly like a real append-entries rejection, and a
// readonly-flag change is forwarded to Node independent of the
// append-entries ack path. Mirrors on_heartbeat_returned.
func onHeartbeatReturned(reg *registry, id ReplicatorID, callID string, resp *AppendEntriesResponse, transportErr error, sendTime time.Time) {
	rep, ok := reg.lock(id)
	if !ok {
		return
	}
	if callID != rep.heartbeatCallID {
		rep.mu.Unlock()
		return
	}
	rep.heartbeatCancel = nil

	if transportErr != nil {
		rep.consecutiveErrorTimes++
		rep.mu.Unlock()
		return
	}
	rep.consecutiveErrorTimes = 0

	if !resp.Success {
		if resp.Term > rep.options.Term {
			rep.notifyOnCaughtUp(ErrPermission, true)
			rep.destroy()
			rep.options.Node.IncreaseTermTo(resp.Term, ErrHigherTerm)
			return
		}
		rep.mu.Unlock()
		return
	}

	rep.options.Status.update(sendTime.UnixMilli())
	if resp.HasReadonly && resp.Readonly != rep.peerReadonly {
		rep.peerReadonly = resp.Readonly
		node := rep.options.Node
		term := rep.options.Term
		peer := rep.options.PeerID
		rep.mu.Unlock()
		node.ChangeReadonlyConfig(term, peer, resp.Readonly)
		return
	}
	rep.mu.Unlock()
}

// installSnapshot opens the latest local snapshot and sends it to the
// follower, used whenever the follower needs log entries the leader has
// already compacted away. Refuses (blocking with ErrBusy) while the local
// node is a witness (Node.IsWitness) unless EnableWitnessToLeader is set: a
// witness normally carries no log bodies, so it has no snapshot to send.
// Must be called with r.mu held;
// always releases it.
func (r *Replicator) installSnapshot() {
	if r.options.Node.IsWitness() && !r.options.Tunables.EnableWitnessToLeader {
		r.block(ErrBusy)
		return
	}
	if r.options.SnapshotStorage == nil {
		r.block(ErrNoEntry)
		return
	}
	if r.reader != nil {
		// Already installing one.
		r.mu.Unlock()
		return
	}
	if r.options.SnapshotThrottle != nil && !r.options.SnapshotThrottle.AddOneMoreTask(true) {
		r.block(ErrBusy)
		return
	}

	reader, ok := r.options.SnapshotStorage.Open()
	if !ok {
		if r.options.SnapshotThrottle != nil {
			r.options.SnapshotThrottle.FinishOneTask(true)
		}
		r.block(ErrNoEntry)
		return
	}
	meta, err := reader.LoadMeta()
	if err != nil {
		r.options.SnapshotStorage.Close(reader)
		if r.options.SnapshotThrottle != nil {
			r.options.SnapshotThrottle.FinishOneTask(true)
		}
		r.block(ErrIO)
		return
	}

	r.reader = reader
	r.st.Kind = StateInstallingSnapshot
	req := &InstallSnapshotRequest{
		GroupID:  r.options.GroupID,
		Term:     r.options.Term,
		ServerID: r.options.ServerID,
		PeerID:   r.options.PeerID,
		Meta:     meta,
		URI:      reader.GenerateURIForCopy(),
	}

	transport := r.transport
	reg := r.registry
	id := r.id
	ctx, cancel := context.WithCancel(context.Background())
	r.installSnapshotCancel = cancel
	r.mu.Unlock()

	go func() {
		resp, err := transport.InstallSnapshot(ctx, req)
		onInstallSnapshotReturned(reg, id, meta, resp, err)
	}()
}

// onInstallSnapshotReturned handles an install-snapshot RPC's response.
// Mirrors on_install_snapshot_returned.
func onInstallSnapshotReturned(reg *registry, id ReplicatorID, meta SnapshotMeta, resp *InstallSnapshotResponse, transportErr error) {
	rep, ok := reg.lock(id)
	if !ok {
		return
	}
	rep.installSnapshotCancel = nil

	if rep.options.SnapshotThrottle != nil {
		rep.options.SnapshotThrottle.FinishOneTask(true)
	}
	if rep.reader != nil {
		rep.options.SnapshotStorage.Close(rep.reader)
		rep.reader = nil
	}

	if transportErr != nil {
		rep.consecutiveErrorTimes++
		rep.block(transportErr) // unlocks
		return
	}
	rep.consecutiveErrorTimes = 0

	if !resp.Success {
		if resp.Term > rep.options.Term {
			rep.notifyOnCaughtUp(ErrPermission, true)
			rep.destroy()
			rep.options.Node.IncreaseTermTo(resp.Term, ErrHigherTerm)
			return
		}
		rep.block(ErrInterrupted) // unlocks
		return
	}

	rep.nextIndex = meta.LastIncludedIndex + 1
	rep.hasSucceeded = true
	rep.notifyOnCaughtUp(nil, false)
	rep.sendEmptyEntries(false) // unlocks
}

// RequestTransferLeadershipTo arms id to send a TimeoutNow RPC once its
// pipeline has drained past logIndex, sending it immediately if it has
// already caught up. logIndex of 0 means "the log's current tail". Returns
// ErrHostUnreachable if the replicator has any outstanding consecutive RPC
// failures, since a follower that is not currently reachable cannot be
// handed leadership. Mirrors the cooperative leadership-transfer path
// described in spec.md §4.9 / transfer_leadership_to.
func RequestTransferLeadershipTo(reg *registry, id ReplicatorID, logIndex int64) error {
	rep, ok := reg.lock(id)
	if !ok {
		return ErrNotFound
	}
	if rep.consecutiveErrorTimes > 0 {
		rep.mu.Unlock()
		return ErrHostUnreachable
	}
	rep.requestTransferLeadershipTo(logIndex) // unlocks
	return nil
}

func (r *Replicator) requestTransferLeadershipTo(logIndex int64) {
	if logIndex <= 0 {
		logIndex = r.options.LogManager.LastLogIndex()
	}
	if r.minFlyingIndex() > logIndex {
		r.timeoutNowIndex = 0
		r.sendTimeoutNow(false) // unlocks
		return
	}
	r.timeoutNowIndex = logIndex
	r.mu.Unlock()
}

// SendTimeoutNowAndStop forces an immediate handoff and tears the
// replicator down regardless of the RPC's outcome — used when the local
// node has already stepped down and cannot afford to wait for the
// cooperative drain-then-transfer path. Mirrors
// send_timeout_now_and_stop.
func SendTimeoutNowAndStop(reg *registry, id ReplicatorID) error {
	rep, ok := reg.lock(id)
	if !ok {
		return ErrNotFound
	}
	rep.sendTimeoutNow(true) // unlocks
	return nil
}

func (r *Replicator) sendTimeoutNow(oldLeaderSteppedDown bool) {
	req := &TimeoutNowRequest{
		GroupID:              r.options.GroupID,
		Term:                 r.options.Term,
		ServerID:             r.options.ServerID,
		PeerID:               r.options.PeerID,
		OldLeaderSteppedDown: oldLeaderSteppedDown,
	}
	transport := r.transport
	reg := r.registry
	id := r.id
	ctx, cancel := context.WithCancel(context.Background())
	r.timeoutNowCancel = cancel
	r.mu.Unlock()

	go func() {
		resp, err := transport.TimeoutNow(ctx, req)
		onTimeoutNowReturned(reg, id, resp, err, oldLeaderSteppedDown)
	}()
}

func onTimeoutNowReturned(reg *registry, id ReplicatorID, resp *TimeoutNowResponse, transportErr error, oldLeaderSteppedDown bool) {
	rep, ok := reg.lock(id)
	if !ok {
		return
	}
	rep.timeoutNowCancel = nil

	if oldLeaderSteppedDown {
		rep.destroy()
		return
	}
	if transportErr != nil || resp == nil || !resp.Success {
		rep.log.Warnw("timeout-now rejected", "err", transportErr)
		rep.mu.Unlock()
		return
	}
	rep.mu.Unlock()
}

// ChangeReplicatorReadonly arms or clears the readonly boundary for a
// single replicator: once set, only configuration entries are sent past
// readonly_index, gating ordinary writes from reaching this follower.
func ChangeReplicatorReadonly(reg *registry, id ReplicatorID, readonly bool) error {
	rep, ok := reg.lock(id)
	if !ok {
		return ErrNotFound
	}
	defer rep.mu.Unlock()
	if readonly {
		if rep.readonlyIndex == 0 {
			rep.readonlyIndex = rep.options.LogManager.LastLogIndex() + 1
		}
	} else {
		rep.readonlyIndex = 0
	}
	return nil
}

// GetNextIndex returns the replicator's current next_index. Mirrors
// get_next_index.
func GetNextIndex(reg *registry, id ReplicatorID) (int64, error) {
	rep, ok := reg.lock(id)
	if !ok {
		return 0, ErrNotFound
	}
	defer rep.mu.Unlock()
	return rep.nextIndex, nil
}

// GetConsecutiveErrorTimes returns the replicator's current consecutive
// RPC failure count. Mirrors get_consecutive_error_times.
func GetConsecutiveErrorTimes(reg *registry, id ReplicatorID) (int, error) {
	rep, ok := reg.lock(id)
	if !ok {
		return 0, ErrNotFound
	}
	defer rep.mu.Unlock()
	return rep.consecutiveErrorTimes, nil
}

// Status is the point-in-time snapshot GetStatus/Describe report, used by
// ReplicatorGroup and by tests.
type Status struct {
	Peer                    PeerId
	State                   ReplicatorState
	NextIndex               int64
	FlyingAppendEntriesSize int64
	ConsecutiveErrorTimes   int
	Readonly                bool
	LastRPCSendTimestampMs  int64
}

// GetStatus returns a Status snapshot for id. Mirrors _get_status.
func GetStatus(reg *registry, id ReplicatorID) (Status, error) {
	rep, ok := reg.lock(id)
	if !ok {
		return Status{}, ErrNotFound
	}
	defer rep.mu.Unlock()
	return Status{
		Peer:                    rep.options.PeerID,
		State:                   rep.st.Kind,
		NextIndex:               rep.nextIndex,
		FlyingAppendEntriesSize: rep.flyingAppendEntriesSize,
		ConsecutiveErrorTimes:   rep.consecutiveErrorTimes,
		Readonly:                rep.readonlyIndex != 0,
		LastRPCSendTimestampMs:  rep.options.Status.LastRPCSendTimestampMs(),
	}, nil
}

// Describe renders a Status as a single human-readable line, the Go
// equivalent of _describe's ostream output.
func Describe(reg *registry, id ReplicatorID) (string, error) {
	st, err := GetStatus(reg, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("peer=%s state=%s next_index=%d flying=%d consecutive_errors=%d readonly=%v",
		st.Peer.String(), st.State, st.NextIndex, st.FlyingAppendEntriesSize, st.ConsecutiveErrorTimes, st.Readonly), nil
}
