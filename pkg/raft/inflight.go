package raft

import "github.com/gammazero/deque"

// flyingRPC records one outstanding append-entries RPC: the first log index
// it carries, how many entries it carries, and the call id used to match a
// late response against the RPC that is actually still current (a stale
// response for a superseded RPC must be ignored, never acted on).
type flyingRPC struct {
	logIndex    int64
	entriesSize int64
	callID      string
}

// InFlightTracker is the ordered queue of outstanding append-entries RPCs
// described in spec.md §3 invariant 2: entries are pushed back as RPCs are
// sent and popped from the front as responses ack a contiguous prefix, so
// the queue always covers a contiguous index range with no gaps.
type InFlightTracker struct {
	rpcs       deque.Deque[flyingRPC]
	flyingSize int64
}

// Push records a newly dispatched RPC carrying entriesSize entries starting
// at logIndex, under callID.
func (t *InFlightTracker) Push(logIndex, entriesSize int64, callID string) {
	t.rpcs.PushBack(flyingRPC{logIndex: logIndex, entriesSize: entriesSize, callID: callID})
	t.flyingSize += entriesSize
}

// Len returns the number of outstanding RPCs.
func (t *InFlightTracker) Len() int { return t.rpcs.Len() }

// FlyingSize returns the total number of entries outstanding across every
// tracked RPC.
func (t *InFlightTracker) FlyingSize() int64 { return t.flyingSize }

// MinFlyingIndex returns the log index of the oldest outstanding RPC, or 0
// if the queue is empty. Callers needing "what index has the pipeline fully
// drained past" should use Replicator.minFlyingIndex instead, which
// substitutes next_index when the queue is empty.
func (t *InFlightTracker) MinFlyingIndex() int64 {
	if t.rpcs.Len() == 0 {
		return 0
	}
	return t.rpcs.Front().logIndex
}

// ValidCallID reports whether callID matches some RPC at or before
// rpcFirstIndex still tracked in the queue — i.e. whether a response
// claiming to cover [rpcFirstIndex, ...) is for an RPC this tracker still
// considers live, rather than one already acked or superseded by a reset.
func (t *InFlightTracker) ValidCallID(rpcFirstIndex int64, callID string) bool {
	for i := 0; i < t.rpcs.Len(); i++ {
		e := t.rpcs.At(i)
		if e.logIndex > rpcFirstIndex {
			break
		}
		if e.callID == callID {
			return true
		}
	}
	return false
}

// AckThrough pops every tracked RPC whose logIndex is <= rpcFirstIndex,
// i.e. every RPC that is now known to be a strict prefix of what the
// follower has acknowledged, and returns the total entriesSize popped so the
// caller can keep its own flying-size accounting in sync.
func (t *InFlightTracker) AckThrough(rpcFirstIndex int64) int64 {
	var acked int64
	for t.rpcs.Len() > 0 && t.rpcs.Front().logIndex <= rpcFirstIndex {
		f := t.rpcs.PopFront()
		t.flyingSize -= f.entriesSize
		acked += f.entriesSize
	}
	return acked
}

// Reset discards every tracked RPC, as happens whenever next_index is
// rewound: every previously dispatched RPC is now for stale positions and
// any response it eventually returns must be ignored via ValidCallID.
func (t *InFlightTracker) Reset() {
	t.rpcs.Clear()
	t.flyingSize = 0
}
