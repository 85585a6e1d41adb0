package fh

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// Request is the per-call context handles are verified in: the namespace,
// the caller's auth domain and credential, and the credential the call
// currently runs under.
type Request struct {
	Net    *export.Net
	Client *auth.Domain

	cred      auth.Cred
	effective auth.Cred
}

// NewRequest creates a request for a caller already mapped to client.
func NewRequest(net *export.Net, client *auth.Domain, cred auth.Cred) *Request {
	return &Request{Net: net, Client: client, cred: cred, effective: cred}
}

// Cred returns the credential filesystem calls must run under.
func (r *Request) Cred() auth.Cred {
	return r.effective
}

// setUser switches to the identity exp maps the caller to.
func (r *Request) setUser(exp *export.Export) {
	r.effective = exp.Squash(r.cred)
}

// RevertUser restores the caller's own credential.
func (r *Request) RevertUser() {
	r.effective = r.cred
}

// FH is a file handle together with what it resolved to. A verified or
// composed FH holds an export reference that Put releases.
type FH struct {
	Handle  Handle
	MaxSize int

	Export *export.Export
	Dentry vfs.Dentry
}

// New returns an empty FH that Compose may fill with at most maxSize bytes.
func New(maxSize int) *FH {
	if maxSize <= 0 || maxSize > MaxSize {
		maxSize = MaxSize
	}
	return &FH{MaxSize: maxSize}
}

// FromWire wraps a handle received from a client.
func FromWire(h Handle) *FH {
	return &FH{Handle: h, MaxSize: MaxSize}
}

// Copy returns an unverified FH carrying the same handle bytes.
func (f *FH) Copy() *FH {
	return &FH{Handle: f.Handle, MaxSize: f.MaxSize}
}

// Verified reports whether f resolved to an export and object.
func (f *FH) Verified() bool {
	return f.Export != nil
}

// Put releases the export reference. It is safe to call more than once.
func (f *FH) Put() {
	if f.Export != nil {
		f.Export.Put()
		f.Export = nil
	}
	f.Dentry = vfs.Dentry{}
}

// Verify resolves f to its export and object and switches req to the
// identity the export maps the caller to. Verifying an already verified FH
// only repeats the identity switch.
//
// Whatever the outcome, the caller must Put f.
func Verify(ctx context.Context, req *Request, f *FH) error {
	if f.Export != nil {
		req.setUser(f.Export)
		return nil
	}

	l, err := parse(f.Handle)
	if err != nil {
		return err
	}

	exp, err := req.Net.FindByFsid(ctx, req.Client, l.fsidType, l.fsid)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return fmt.Errorf("%w: no export for fsid type %d: %v", ErrStale, l.fsidType, err)
	case err != nil:
		return err
	}

	req.setUser(exp)

	var d vfs.Dentry
	if l.fileidType == vfs.FileIDRoot {
		d = exp.Root()
	} else {
		d, err = req.Net.FS.DecodeFH(exp.Root().Dev, l.fileidType, l.fid)
		if err != nil {
			exp.Put()
			if errors.Is(err, unix.EINVAL) {
				return fmt.Errorf("%w: fileid type %d", ErrBadHandle, l.fileidType)
			}
			return err
		}
		if d.Dev != exp.Root().Dev || !vfs.IsSubdir(d.Path, exp.Path()) {
			exp.Put()
			return fmt.Errorf("%w: %s is outside export %s", ErrStale, d.Path, exp.Path())
		}
	}

	f.Export = exp
	f.Dentry = d
	logger.Debug("fh_verify %s -> %s", f.Handle, d.Path)
	return nil
}

// Compose builds the handle of d under exp into f, taking a reference on exp.
// A ref handle under the same export keeps its fsid type; otherwise exports
// with a fixed fsid use the numeric fsid and all others the device fsid.
//
// A zero d leaves the fileid as the root sentinel until Update fills it in.
func Compose(fs vfs.Filesystem, f *FH, exp *export.Export, d vfs.Dentry, ref *FH) error {
	fsidType := export.FsidDev
	switch {
	case ref != nil && ref.Export != nil && ref.Export.Record() == exp.Record() && len(ref.Handle) >= 12:
		fsidType = uint8(ref.Handle[11])
	case exp.Flags().Has(export.FlagFSID):
		fsidType = export.FsidNum
	}

	root := exp.Root()
	fsid := export.MkFsid(fsidType, root.Dev, root.Ino, exp.Fsid())
	if f.MaxSize == 0 {
		f.MaxSize = MaxSize
	}
	if len(fsid)+headerSize > f.MaxSize {
		return fmt.Errorf("%w: fsid type %d does not fit %d bytes", ErrNotSupported, fsidType, f.MaxSize)
	}

	held := exp.Get()
	f.Put()
	f.Handle = build(fsidType, fsid)
	f.Export = held
	f.Dentry = d

	if d.Ino != 0 {
		if err := update(fs, f); err != nil {
			f.Put()
			return err
		}
	}
	return nil
}

// Update fills in the fileid of a handle composed before its object existed.
// A handle that already carries a fileid is left alone.
func Update(fs vfs.Filesystem, f *FH, d vfs.Dentry) error {
	if f.Export == nil {
		return fmt.Errorf("update of unverified handle: %w", unix.EINVAL)
	}
	if d.Ino == 0 {
		return fmt.Errorf("update %s with negative object: %w", f.Handle, unix.EINVAL)
	}
	f.Dentry = d
	if f.Handle.fileidType() != vfs.FileIDRoot {
		return nil
	}
	return update(fs, f)
}

func update(fs vfs.Filesystem, f *FH) error {
	if f.Dentry.Same(f.Export.Root()) {
		f.Handle = f.Handle.setFileID(vfs.FileIDRoot, nil)
		return nil
	}
	room := f.MaxSize - len(f.Handle)
	room -= room % 4
	typ, fid := fs.EncodeFH(f.Dentry, room)
	if typ == vfs.FileIDInvalid || len(fid) > room {
		return fmt.Errorf("%w: %s in %d bytes", ErrNotSupported, f.Dentry.Path, room)
	}
	f.Handle = f.Handle.setFileID(typ, fid)
	return nil
}
