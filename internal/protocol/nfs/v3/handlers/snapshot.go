package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// snapshot is a directory listing taken by a READDIR call with cookie 0.
// Continuation calls present its verifier and keep reading from it, so
// entries never shift between calls while the directory changes.
type snapshot struct {
	dev     vfs.Dev
	ino     uint64
	entries []vfs.DirEntry
}

// snapshotCache keeps recent snapshots keyed by cookie verifier.
type snapshotCache struct {
	lru *expirable.LRU[[types.CookieVerfSize]byte, *snapshot]
}

func newSnapshotCache(size int, ttl time.Duration) *snapshotCache {
	return &snapshotCache{lru: expirable.NewLRU[[types.CookieVerfSize]byte, *snapshot](size, nil, ttl)}
}

// take lists dir and stores the result under a fresh verifier.
func (c *snapshotCache) take(fs vfs.Filesystem, dir vfs.Dentry) ([types.CookieVerfSize]byte, *snapshot, error) {
	var verf [types.CookieVerfSize]byte
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return verf, nil, err
	}
	id := uuid.New()
	copy(verf[:], id[:types.CookieVerfSize])
	s := &snapshot{dev: dir.Dev, ino: dir.Ino, entries: entries}
	c.lru.Add(verf, s)
	return verf, s, nil
}

// get returns the snapshot of dir stored under verf.
func (c *snapshotCache) get(verf [types.CookieVerfSize]byte, dir vfs.Dentry) (*snapshot, bool) {
	s, ok := c.lru.Get(verf)
	if !ok || s.dev != dir.Dev || s.ino != dir.Ino {
		return nil, false
	}
	return s, true
}
