package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
)

const journalPrefix = "line:"

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the journal in memory only.
	InMemory bool

	// SyncWrites makes every accepted line durable before Record returns.
	SyncWrites bool
}

// BadgerStore journals accepted population lines in BadgerDB, each with a
// TTL matching the line's expiry, so a restarted server can refill its
// caches without waiting for the agent.
//
// Keys are "line:<cache>\x00<request line>"; the value is the population
// line itself. A newer answer for the same cache key overwrites the older one.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

var _ export.Journal = (*BadgerStore)(nil)

// OpenBadgerStore opens (creating if needed) the journal database.
func OpenBadgerStore(cfg BadgerStoreConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func journalKey(cacheName, id string) []byte {
	return []byte(journalPrefix + cacheName + "\x00" + id)
}

// Record stores line until expiry.
func (s *BadgerStore) Record(cacheName, id, line string, expiry time.Time) error {
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(journalKey(cacheName, id), []byte(line)).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Lines returns every unexpired journaled line, grouped by cache name.
func (s *BadgerStore) Lines() (map[string][]string, error) {
	out := make(map[string][]string)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), journalPrefix)
			cacheName, _, ok := strings.Cut(key, "\x00")
			if !ok {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %q: %w", key, err)
			}
			out[cacheName] = append(out[cacheName], string(val))
		}
		return nil
	})
	return out, err
}

// Replay feeds every journaled line back into the registry's caches. Lines a
// cache now rejects, for example because the client was removed, are skipped.
func (s *BadgerStore) Replay(ctx context.Context, reg *cache.Registry) (int, error) {
	lines, err := s.Lines()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range reg.Names() {
		ch, err := reg.Get(name)
		if err != nil {
			return applied, err
		}
		for _, line := range lines[name] {
			if err := ctx.Err(); err != nil {
				return applied, err
			}
			if err := ch.Parse(line); err != nil {
				logger.Debug("replay %s: skipped %q: %v", name, line, err)
				continue
			}
			applied++
		}
	}
	logger.Info("Replayed %d journaled cache lines", applied)
	return applied, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
