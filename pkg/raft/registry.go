package raft

import (
	"sync"

	"github.com/google/uuid"
)

// ReplicatorID opaquely names a Replicator the way braft's bthread_id_t
// names a latch: callbacks capture the id, not a pointer, so a callback
// that fires after the replicator has been destroyed resolves to
// ErrNotFound instead of touching freed state (spec.md §9 Design Notes).
type ReplicatorID string

func newReplicatorID() ReplicatorID {
	return ReplicatorID(uuid.NewString())
}

// registry is the id-keyed latch table: the only way to get from a
// ReplicatorID back to a live *Replicator. Every re-entry into a
// Replicator from outside its own call stack — a timer firing, an RPC
// response arriving, an external Stop/WaitForCaughtUp call — goes through
// registry.lock, never through a captured pointer.
type registry struct {
	mu      sync.Mutex
	entries map[ReplicatorID]*Replicator
}

func newRegistry() *registry {
	return &registry{entries: make(map[ReplicatorID]*Replicator)}
}

func (r *registry) put(id ReplicatorID, rep *Replicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = rep
}

// lock looks up id and, if still present, locks the replicator's own mutex
// and returns it. Returns ok=false if id names no live replicator — either
// it never existed, or it has already been destroyed. The caller owns
// rep.mu on success and must unlock it (directly, or via a method that
// documents doing so).
func (r *registry) lock(id ReplicatorID) (rep *Replicator, ok bool) {
	r.mu.Lock()
	rep, ok = r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	rep.mu.Lock()
	if rep.destroyed {
		rep.mu.Unlock()
		return nil, false
	}
	return rep, true
}

// remove drops id from the table. Called once, by destroy, while rep.mu is
// already held.
func (r *registry) remove(id ReplicatorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// len reports how many replicators are currently registered; tests use it
// to check that destroyed replicators were removed.
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
