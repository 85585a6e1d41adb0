// Package cache implements a generic, reference-counted, hash-bucketed cache
// whose entries are populated asynchronously by a trusted agent.
//
// A miss inserts a PENDING entry and queues a textual request line. The agent
// answers by writing a population line, which the owning package parses and
// applies with Update. Callers wait for the answer for a bounded time in Check
// and get ErrRetry when it does not arrive.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
)

const (
	// DefaultHashBits gives 256 buckets.
	DefaultHashBits = 8

	// DefaultUpcallTimeout bounds how long Check blocks on a pending entry.
	DefaultUpcallTimeout = 2 * time.Second

	// DefaultQueueSize is the number of outstanding request lines kept
	// before new ones are dropped.
	DefaultQueueSize = 256

	// PendingLifetime is how long an unanswered entry stays hashed.
	PendingLifetime = 30 * time.Second
)

// Ops supplies the per-record behavior of a Detail.
type Ops[T any] struct {
	// Hash hashes the key fields of item.
	Hash func(item *T) uint64

	// Match reports whether a and b have the same key.
	Match func(a, b *T) bool

	// Init copies the key fields of src into a fresh entry.
	Init func(dst, src *T)

	// Update copies the content fields of src into dst.
	Update func(dst, src *T)

	// Request renders the newline-terminated request line for item.
	Request func(item *T) string

	// Header is the comment line Show writes first, without newline.
	Header string

	// Show writes one newline-terminated row describing e.
	Show func(w io.Writer, e *Entry[T]) error
}

// Config configures a Detail.
type Config struct {
	// Name identifies the cache in logs, metrics and the control channel.
	Name string

	// HashBits sets the bucket count to 1<<HashBits.
	HashBits int

	// UpcallTimeout bounds the wait in Check.
	UpcallTimeout time.Duration

	// QueueSize is the capacity of the request queue.
	QueueSize int

	// Metrics receives cache events. Nil means no-op.
	Metrics Metrics

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.HashBits <= 0 {
		c.HashBits = DefaultHashBits
	}
	if c.UpcallTimeout <= 0 {
		c.UpcallTimeout = DefaultUpcallTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Detail is one cache instance: a hash table of entries plus its request queue.
//
// Lookups take the read lock; inserting, replacing and unhashing take the
// write lock. Individual entries outlive their bucket for as long as someone
// holds a reference.
type Detail[T any] struct {
	cfg Config
	ops Ops[T]

	mu      sync.RWMutex
	buckets [][]*Entry[T]
	mask    uint64
	entries int

	reqMu    sync.RWMutex
	requests chan Request
	closed   bool

	parse func(line string) error
}

// New creates a Detail.
func New[T any](cfg Config, ops Ops[T]) *Detail[T] {
	cfg.applyDefaults()
	size := 1 << cfg.HashBits
	return &Detail[T]{
		cfg:      cfg,
		ops:      ops,
		buckets:  make([][]*Entry[T], size),
		mask:     uint64(size - 1),
		requests: make(chan Request, cfg.QueueSize),
	}
}

// Name returns the cache name.
func (d *Detail[T]) Name() string {
	return d.cfg.Name
}

// Now returns the cache clock.
func (d *Detail[T]) Now() time.Time {
	return d.cfg.Now()
}

// Len returns the number of hashed entries.
func (d *Detail[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries
}

// Lookup returns the live entry matching key, inserting a PENDING one on a
// miss. An expired match is unhashed and replaced. The result carries a
// reference the caller must Put.
func (d *Detail[T]) Lookup(key *T) *Entry[T] {
	hash := d.ops.Hash(key)
	idx := hash & d.mask
	now := d.cfg.Now()

	d.mu.RLock()
	for _, e := range d.buckets[idx] {
		if e.hash == hash && d.ops.Match(&e.item, key) && !e.expired(now) {
			e.Get()
			d.mu.RUnlock()
			d.cfg.Metrics.RecordLookup(d.cfg.Name, true)
			return e
		}
	}
	d.mu.RUnlock()

	fresh := newEntry[T](d.cfg.Name, hash, now.Add(PendingLifetime))
	d.ops.Init(&fresh.item, key)

	d.mu.Lock()
	bucket := d.buckets[idx]
	for i := 0; i < len(bucket); i++ {
		e := bucket[i]
		if e.hash != hash || !d.ops.Match(&e.item, key) {
			continue
		}
		if e.expired(now) {
			bucket = d.unhashAt(bucket, i)
			i--
			continue
		}
		// Lost the race to another inserter.
		d.buckets[idx] = bucket
		e.Get()
		d.mu.Unlock()
		d.cfg.Metrics.RecordLookup(d.cfg.Name, true)
		return e
	}
	fresh.refs.Store(2)
	fresh.hashed = true
	d.buckets[idx] = append(bucket, fresh)
	d.entries++
	n := d.entries
	d.mu.Unlock()

	d.cfg.Metrics.RecordLookup(d.cfg.Name, false)
	d.cfg.Metrics.SetEntries(d.cfg.Name, n)
	return fresh
}

// Update installs the content of item for the key of old.
//
// A PENDING old entry is filled in place and its waiters are woken. Any other
// old entry is replaced in the table by a new one and marked expiring. Update
// consumes the caller's reference on old and returns an entry carrying one
// reference for the caller.
func (d *Detail[T]) Update(item *T, old *Entry[T], negative bool, expiry time.Time) *Entry[T] {
	state := StateValid
	if negative {
		state = StateNegative
	}

	d.mu.Lock()
	if old.hashed && old.State() == StatePending {
		if !negative {
			d.ops.Update(&old.item, item)
		}
		old.expiry.Store(expiry.Unix())
		old.state.Store(uint32(state))
		d.mu.Unlock()
		old.wake()
		return old
	}

	fresh := newEntry[T](d.cfg.Name, d.ops.Hash(item), expiry)
	d.ops.Init(&fresh.item, item)
	if !negative {
		d.ops.Update(&fresh.item, item)
	}
	fresh.state.Store(uint32(state))
	fresh.refs.Store(2)
	fresh.hashed = true
	fresh.wake()

	idx := fresh.hash & d.mask
	bucket := d.buckets[idx]
	for i := 0; i < len(bucket); i++ {
		e := bucket[i]
		if e == old || (e.hash == fresh.hash && d.ops.Match(&e.item, item)) {
			bucket = d.unhashAt(bucket, i)
			i--
		}
	}
	d.buckets[idx] = append(bucket, fresh)
	d.entries++
	n := d.entries
	d.mu.Unlock()

	old.Put()
	d.cfg.Metrics.SetEntries(d.cfg.Name, n)
	return fresh
}

// unhashAt removes bucket[i], marks it expiring and drops the table's
// reference. Caller holds the write lock.
func (d *Detail[T]) unhashAt(bucket []*Entry[T], i int) []*Entry[T] {
	e := bucket[i]
	bucket = append(bucket[:i], bucket[i+1:]...)
	e.hashed = false
	e.state.Store(uint32(StateExpiring))
	e.wake()
	e.Put()
	d.entries--
	return bucket
}

// Check decides whether e may be used.
//
//   - VALID and unexpired: nil.
//   - NEGATIVE and unexpired: ErrNotFound.
//   - PENDING: queue a request and wait for the answer until the upcall
//     timeout or ctx ends, then re-evaluate; still pending gives ErrRetry.
//   - expired or expiring: queue a request and return ErrRetry.
//
// On error the caller's reference is released; on success the caller still
// owns it.
func (d *Detail[T]) Check(ctx context.Context, e *Entry[T]) error {
	err := d.check(ctx, e)
	switch {
	case err == nil:
		d.cfg.Metrics.RecordCheck(d.cfg.Name, "ok")
	case errors.Is(err, ErrNotFound):
		d.cfg.Metrics.RecordCheck(d.cfg.Name, "negative")
	default:
		d.cfg.Metrics.RecordCheck(d.cfg.Name, "retry")
	}
	if err != nil {
		e.Put()
	}
	return err
}

func (d *Detail[T]) check(ctx context.Context, e *Entry[T]) error {
	if e.State() == StatePending {
		d.upcall(e)
		d.wait(ctx, e)
	}

	switch e.State() {
	case StateValid:
		if !e.expired(d.cfg.Now()) {
			return nil
		}
	case StateNegative:
		if !e.expired(d.cfg.Now()) {
			return ErrNotFound
		}
	case StatePending:
		return ErrRetry
	}
	d.upcall(e)
	return ErrRetry
}

func (d *Detail[T]) wait(ctx context.Context, e *Entry[T]) {
	timer := time.NewTimer(d.cfg.UpcallTimeout)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-ctx.Done():
	case <-timer.C:
		logger.Debug("cache %s: no answer after %v", d.cfg.Name, d.cfg.UpcallTimeout)
	}
}

// Purge unhashes every entry. Held references stay readable; Check on them
// reports ErrRetry.
func (d *Detail[T]) Purge() {
	d.mu.Lock()
	for idx, bucket := range d.buckets {
		for len(bucket) > 0 {
			bucket = d.unhashAt(bucket, len(bucket)-1)
		}
		d.buckets[idx] = bucket
	}
	d.mu.Unlock()

	d.cfg.Metrics.RecordPurge(d.cfg.Name)
	logger.Debug("cache %s: purged", d.cfg.Name)
}

// CleanExpired unhashes expired entries and returns how many were removed.
func (d *Detail[T]) CleanExpired() int {
	now := d.cfg.Now()
	removed := 0

	d.mu.Lock()
	for idx, bucket := range d.buckets {
		for i := 0; i < len(bucket); i++ {
			if bucket[i].expired(now) {
				bucket = d.unhashAt(bucket, i)
				i--
				removed++
			}
		}
		d.buckets[idx] = bucket
	}
	n := d.entries
	d.mu.Unlock()

	if removed > 0 {
		d.cfg.Metrics.SetEntries(d.cfg.Name, n)
		logger.Debug("cache %s: cleaned %d expired entries", d.cfg.Name, removed)
	}
	return removed
}

// Show writes the header and one row per hashed entry.
func (d *Detail[T]) Show(w io.Writer) error {
	if _, err := fmt.Fprintln(w, d.ops.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	d.mu.RLock()
	snapshot := make([]*Entry[T], 0, d.entries)
	for _, bucket := range d.buckets {
		for _, e := range bucket {
			snapshot = append(snapshot, e.Get())
		}
	}
	d.mu.RUnlock()

	var err error
	for _, e := range snapshot {
		if err == nil {
			err = d.ops.Show(w, e)
		}
		e.Put()
	}
	return err
}

// RequestLine renders the request line for item. It names the item's key
// and so also serves as a stable identifier for it.
func (d *Detail[T]) RequestLine(item *T) string {
	return d.ops.Request(item)
}

// SetParser installs the function that applies population lines.
func (d *Detail[T]) SetParser(parse func(line string) error) {
	d.parse = parse
}

// Parse applies one population line. Rejected lines come back as *ParseError
// and are logged at warn level.
func (d *Detail[T]) Parse(line string) error {
	if d.parse == nil {
		return fmt.Errorf("cache %s: no parser installed", d.cfg.Name)
	}
	if d.isClosed() {
		return ErrClosed
	}
	if err := d.parse(line); err != nil {
		perr := &ParseError{Cache: d.cfg.Name, Line: line, Err: err}
		logger.Warn("%v", perr)
		return perr
	}
	return nil
}
