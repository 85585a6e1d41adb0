// Package export resolves client file handles and paths to export policy.
//
// Two caches back the resolver. The key cache maps (client, fsid type, fsid)
// to the path of an export root; the export cache maps (client, path) to the
// policy for that path. Both are populated by an agent answering the request
// lines they queue.
package export

import (
	"context"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// Journal records accepted population lines so a restarted server can replay
// them. id names the cache key the line populates; a later line with the same
// id replaces the earlier one.
type Journal interface {
	Record(cacheName, id, line string, expiry time.Time) error
}

// Config configures both caches of a Net.
type Config struct {
	HashBits      int
	UpcallTimeout time.Duration
	QueueSize     int
	Metrics       cache.Metrics
	Journal       Journal
	Now           func() time.Time
}

// Net is one isolated server instance: its caches, the auth domains their
// lines name, and the filesystem their paths resolve in.
type Net struct {
	Domains *auth.Table
	FS      vfs.Filesystem

	// BootTime is fixed at construction and doubles as the write verifier.
	BootTime time.Time

	keys     *cache.Detail[Key]
	exports  *cache.Detail[Record]
	registry *cache.Registry
	journal  Journal
}

// NewNet creates the caches for one server instance.
func NewNet(fs vfs.Filesystem, domains *auth.Table, cfg Config) *Net {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base := cache.Config{
		HashBits:      cfg.HashBits,
		UpcallTimeout: cfg.UpcallTimeout,
		QueueSize:     cfg.QueueSize,
		Metrics:       cfg.Metrics,
		Now:           cfg.Now,
	}

	keyCfg := base
	keyCfg.Name = KeyCacheName
	exportCfg := base
	exportCfg.Name = ExportCacheName

	n := &Net{
		Domains:  domains,
		FS:       fs,
		BootTime: cfg.Now(),
		keys:     cache.New(keyCfg, keyOps()),
		exports:  cache.New(exportCfg, recordOps()),
		journal:  cfg.Journal,
	}
	n.keys.SetParser(n.parseKey)
	n.exports.SetParser(n.parseRecord)
	n.registry = cache.NewRegistry(n.keys, n.exports)
	return n
}

// Keys returns the fsid-to-path cache.
func (n *Net) Keys() *cache.Detail[Key] {
	return n.keys
}

// Exports returns the client+path to policy cache.
func (n *Net) Exports() *cache.Detail[Record] {
	return n.exports
}

// Registry returns both caches by name.
func (n *Net) Registry() *cache.Registry {
	return n.registry
}

// Flush drops every cached key and export. Handles already held by in-flight
// requests stay usable until released.
func (n *Net) Flush() {
	n.keys.Purge()
	n.exports.Purge()
	logger.Info("export caches flushed")
}

// Shutdown flushes both caches and closes their request queues.
func (n *Net) Shutdown() {
	n.Flush()
	n.keys.Close()
	n.exports.Close()
	logger.Info("export caches shut down")
}

// CleanExpired removes expired entries from both caches.
func (n *Net) CleanExpired() int {
	return n.keys.CleanExpired() + n.exports.CleanExpired()
}

// RunCleaner calls CleanExpired every interval until ctx is done.
func (n *Net) RunCleaner(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := n.CleanExpired(); removed > 0 {
				logger.Debug("export caches: cleaned %d expired entries", removed)
			}
		}
	}
}

func (n *Net) persist(cacheName, id, line string, expiry time.Time) {
	if n.journal == nil || !expiry.After(n.keys.Now()) {
		return
	}
	if err := n.journal.Record(cacheName, id, line, expiry); err != nil {
		logger.Warn("journal %s line %q: %v", cacheName, line, err)
	}
}
