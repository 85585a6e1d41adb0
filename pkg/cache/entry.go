package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
)

// State is the population state of an entry.
type State uint32

const (
	// StatePending entries have been requested but not yet answered.
	StatePending State = iota
	// StateValid entries carry content.
	StateValid
	// StateNegative entries record that the key has no value.
	StateNegative
	// StateExpiring entries have been unhashed by a replacement, a purge or
	// the cleaner. Holders may still read them but Check will not accept them.
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateValid:
		return "valid"
	case StateNegative:
		return "negative"
	case StateExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// Entry is one reference-counted record owned by a Detail.
//
// The table holds one reference while the entry is hashed; Lookup and Update
// hand one more to the caller. Item contents are written only while the
// entry is pending and are immutable once Check has accepted it.
type Entry[T any] struct {
	item T
	hash uint64

	state  atomic.Uint32
	expiry atomic.Int64 // unix seconds
	refs   atomic.Int32

	// upcallAt is the unix-nano time of the last queued request, 0 if none.
	upcallAt atomic.Int64

	done     chan struct{}
	doneOnce sync.Once

	// hashed is guarded by the owning Detail's lock.
	hashed bool
	name   string
}

func newEntry[T any](name string, hash uint64, expiry time.Time) *Entry[T] {
	e := &Entry[T]{
		hash: hash,
		done: make(chan struct{}),
		name: name,
	}
	e.expiry.Store(expiry.Unix())
	return e
}

// Item returns the record. Callers must not modify it.
func (e *Entry[T]) Item() *T {
	return &e.item
}

// State returns the current population state.
func (e *Entry[T]) State() State {
	return State(e.state.Load())
}

// Expiry returns the time after which the entry is stale.
func (e *Entry[T]) Expiry() time.Time {
	return time.Unix(e.expiry.Load(), 0)
}

// Refs reports the current reference count.
func (e *Entry[T]) Refs() int32 {
	return e.refs.Load()
}

// Negative reports whether the entry records absence.
func (e *Entry[T]) Negative() bool {
	return e.State() == StateNegative
}

// Get takes an additional reference.
func (e *Entry[T]) Get() *Entry[T] {
	e.refs.Add(1)
	return e
}

// Put drops a reference. Every Lookup, Update and successful Check result
// must be paired with exactly one Put.
func (e *Entry[T]) Put() {
	if n := e.refs.Add(-1); n < 0 {
		logger.Error("cache %s: reference count underflow (%d)", e.name, n)
	}
}

func (e *Entry[T]) expired(now time.Time) bool {
	return e.expiry.Load() <= now.Unix()
}

// wake releases every Check waiting on the entry.
func (e *Entry[T]) wake() {
	e.doneOnce.Do(func() { close(e.done) })
}
