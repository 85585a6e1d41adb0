package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ErrNoClient is returned when a request carries no auth domain.
var ErrNoClient = fmt.Errorf("no client domain: %w", cache.ErrNotFound)

// FindByFsid resolves an fsid from a file handle to the export it names.
//
// The key entry is released before returning on every path. cache.ErrNotFound
// means the client has no export with that fsid; cache.ErrRetry means an
// answer is still outstanding.
func (n *Net) FindByFsid(ctx context.Context, client *auth.Domain, fsidType uint8, fsid []byte) (*Export, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if KeyLen(fsidType) == 0 || len(fsid) < KeyLen(fsidType) {
		return nil, fmt.Errorf("fsid type %d: %w", fsidType, cache.ErrNotFound)
	}

	key := n.keys.Lookup(&Key{Client: client, FsidType: fsidType, Fsid: fsid[:KeyLen(fsidType)]})
	if err := n.keys.Check(ctx, key); err != nil {
		return nil, fmt.Errorf("key %s/%d: %w", client.Name(), fsidType, err)
	}
	defer key.Put()

	return n.FindByPath(ctx, client, key.Item().Path)
}

// FindByPath returns the export of path for client.
func (n *Net) FindByPath(ctx context.Context, client *auth.Domain, path string) (*Export, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	e := n.exports.Lookup(&Record{Client: client, Path: vfs.Clean(path)})
	if err := n.exports.Check(ctx, e); err != nil {
		return nil, fmt.Errorf("export %s:%s: %w", client.Name(), path, err)
	}
	return &Export{entry: e}, nil
}

// FindParent returns the export covering d: the export of d itself or of its
// closest exported ancestor. Ancestors recorded as not exported are skipped;
// any other failure ends the walk.
func (n *Net) FindParent(ctx context.Context, client *auth.Domain, d vfs.Dentry) (*Export, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	for {
		exp, err := n.FindByPath(ctx, client, d.Path)
		if err == nil || !errors.Is(err, cache.ErrNotFound) || d.Path == "/" {
			return exp, err
		}
		parent, perr := n.FS.Parent(d)
		if perr != nil {
			return nil, fmt.Errorf("parent of %s: %w", d.Path, perr)
		}
		if parent.Same(d) {
			return nil, err
		}
		d = parent
	}
}

// FindFsidZero returns the export the client sees with numeric fsid 0, the
// root of its pseudo filesystem.
func (n *Net) FindFsidZero(ctx context.Context, client *auth.Domain) (*Export, error) {
	return n.FindByFsid(ctx, client, FsidNum, MkFsid(FsidNum, vfs.Dev{}, 0, 0))
}
