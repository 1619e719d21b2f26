package raft

import (
	"errors"
	"time"
)

// CatchupClosure is invoked exactly once, with one of: nil (caught up),
// ErrPermission, ErrTimedOut, or ErrStop (spec.md §4.8); WaitForCaughtUp
// also fails it with ErrNotFound (no live replicator) or ErrInvalid (a
// registration is already outstanding). It runs off the
// replicator's lock, in its own goroutine, so it may safely call back into
// this package.
type CatchupClosure func(err error)

// catchupWaiter holds the single outstanding WaitForCaughtUp registration a
// Replicator may have at a time.
type catchupWaiter struct {
	maxMargin   int64
	timer       *time.Timer
	errorWasSet bool
	fn          CatchupClosure
}

// isCaughtUp reports whether the replicator's pipeline has advanced to
// within maxMargin of the log's tail. Defined as next_index - 1 (the last
// index actually acknowledged, once has_succeeded is true) per spec.md
// §4.8.
func (r *Replicator) isCaughtUp(maxMargin int64) bool {
	if !r.hasSucceeded {
		return false
	}
	return r.nextIndex-1 >= r.options.LogManager.LastLogIndex()-maxMargin
}

// WaitForCaughtUp registers fn to fire once the replicator named by id has
// caught up to within maxMargin of the log tail, or at dueTime (if
// non-nil), whichever comes first. Only one registration may be
// outstanding per replicator; a second call fails the new fn immediately
// with ErrInvalid without disturbing the first.
func WaitForCaughtUp(reg *registry, id ReplicatorID, maxMargin int64, dueTime *time.Time, fn CatchupClosure) {
	rep, ok := reg.lock(id)
	if !ok {
		go fn(ErrNotFound)
		return
	}
	rep.waitForCaughtUp(maxMargin, dueTime, fn)
}

// waitForCaughtUp must be called with r.mu held; it always releases it.
func (r *Replicator) waitForCaughtUp(maxMargin int64, dueTime *time.Time, fn CatchupClosure) {
	if r.catchup != nil {
		r.mu.Unlock()
		go fn(ErrInvalid)
		return
	}

	if r.isCaughtUp(maxMargin) {
		r.mu.Unlock()
		go fn(nil)
		return
	}

	c := &catchupWaiter{maxMargin: maxMargin, fn: fn}
	if dueTime != nil {
		id := r.id
		d := time.Until(*dueTime)
		c.timer = time.AfterFunc(d, func() {
			rep, ok := r.registry.lock(id)
			if !ok {
				return
			}
			rep.notifyOnCaughtUp(ErrTimedOut, false)
			rep.mu.Unlock()
		})
	}
	r.catchup = c
	r.mu.Unlock()
}

// notifyOnCaughtUp delivers the outstanding catchup closure, if any and if
// conditions allow. Must be called with r.mu held; never unlocks it — the
// caller remains responsible for r.mu after this returns.
//
// beforeDestroy suppresses the ABA race on the timer-cancel path: when
// destroy is in progress, a concurrently firing timer must not be allowed
// to race notifyOnCaughtUp's own delivery, so the cancel-check is skipped
// and delivery proceeds unconditionally for EPERM/ETIMEDOUT/ESTOP codes.
func (r *Replicator) notifyOnCaughtUp(errCode error, beforeDestroy bool) {
	c := r.catchup
	if c == nil {
		return
	}

	terminal := errors.Is(errCode, ErrTimedOut) || errors.Is(errCode, ErrPermission) || errors.Is(errCode, ErrStop)
	if !terminal {
		if !r.isCaughtUp(c.maxMargin) {
			return
		}
		if c.errorWasSet {
			return
		}
		if c.timer != nil && !beforeDestroy {
			if !c.timer.Stop() {
				// the timer already fired (or is about to); let that path
				// deliver instead of double-delivering here.
				return
			}
		}
	} else {
		if c.errorWasSet {
			return
		}
		c.errorWasSet = true
	}

	r.catchup = nil
	go c.fn(errCode)
}
