package pirate

import (
	"encoding/hex"
	"time"
)

// worker is the broker's record of one backend peer: its opaque
// routing identity, derived print id (hex of identity, used as map
// key), expiry, and the client it is currently serving, if any.
type worker struct {
	identity      []byte
	id            string
	expiry        time.Time
	currentClient []byte
}

func workerID(identity []byte) string {
	return hex.EncodeToString(identity)
}

// workerRegistry owns every worker known to the broker: the full
// map keyed by id-string, and the available queue — a FIFO of idle
// workers, oldest-ready at head. Every worker in the available queue
// is also in the map; the reverse need not hold (a busy worker is in
// the map only). Not safe for concurrent use: the broker's event loop
// is the sole owner and caller.
type workerRegistry struct {
	byID      map[string]*worker
	available []*worker
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{
		byID: make(map[string]*worker),
	}
}

// touch looks up or creates the worker record for identity and
// refreshes its expiry. Returns the record and whether it was newly
// created.
func (r *workerRegistry) touch(identity []byte, now time.Time) (w *worker, created bool) {
	id := workerID(identity)
	w, ok := r.byID[id]
	if !ok {
		w = &worker{identity: identity, id: id}
		r.byID[id] = w
		created = true
	}
	w.expiry = now.Add(HeartbeatLiveness * HeartbeatInterval)
	return w, created
}

// markAvailable appends w to the tail of the available queue unless it
// is already present there. Used on READY, idle HEARTBEAT, and reply
// completion — every event that proves liveness and yields capacity.
func (r *workerRegistry) markAvailable(w *worker) {
	for _, existing := range r.available {
		if existing == w {
			return
		}
	}
	r.available = append(r.available, w)
}

// dispatch pops the head of the available queue (oldest-ready,
// least-recently-used). Returns nil if the queue is empty.
func (r *workerRegistry) dispatch() *worker {
	if len(r.available) == 0 {
		return nil
	}
	w := r.available[0]
	r.available = r.available[1:]
	return w
}

// hasAvailable reports whether at least one worker can be dispatched
// to right now — the broker's frontend admission gate.
func (r *workerRegistry) hasAvailable() bool {
	return len(r.available) > 0
}

// remove deletes w from both the map and the available queue, if
// present in either. Used on purge.
func (r *workerRegistry) remove(w *worker) {
	delete(r.byID, w.id)
	for i, existing := range r.available {
		if existing == w {
			r.available = append(r.available[:i], r.available[i+1:]...)
			return
		}
	}
}

// expired returns every worker whose expiry has elapsed as of now,
// without mutating the registry — the caller purges each in turn.
func (r *workerRegistry) expired(now time.Time) []*worker {
	var out []*worker
	for _, w := range r.byID {
		if now.After(w.expiry) {
			out = append(out, w)
		}
	}
	return out
}

// all returns every known worker, busy or available, for heartbeating.
func (r *workerRegistry) all() []*worker {
	out := make([]*worker, 0, len(r.byID))
	for _, w := range r.byID {
		out = append(out, w)
	}
	return out
}
