// Package eventlog keeps a bounded, recent history of broker lifecycle
// events for operational visibility (internal/httpapi, internal/tui).
package eventlog

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	WorkerID string    `json:"worker_id,omitempty"`
	At       time.Time `json:"at"`
}

// Log is a fixed-capacity ring of the most recent entries. Once full,
// appending evicts the oldest entry — exactly the behavior an LRU
// cache gives for free when every entry is touched only once, at
// insertion.
type Log struct {
	mu    sync.Mutex
	cache *lru.Cache[uint64, Entry]
	seq   uint64
}

// New creates a Log retaining at most capacity entries.
func New(capacity int) *Log {
	cache, err := lru.New[uint64, Entry](capacity)
	if err != nil {
		// Only returned for capacity <= 0, which is a caller bug.
		panic(err)
	}
	return &Log{cache: cache}
}

// Append records a new event and returns its assigned sequence number.
func (l *Log) Append(kind, workerID string, at time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.cache.Add(l.seq, Entry{Seq: l.seq, Kind: kind, WorkerID: workerID, At: at})
	return l.seq
}

// Recent returns up to the full retained history, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.cache.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := l.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}
