package handlers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// CreateRequest is CREATE3args.
//
// RFC 1813 Section 3.3.8 specifies the CREATE procedure as:
//
//	CREATE3res NFSPROC3_CREATE(CREATE3args) = 8;
type CreateRequest struct {
	fhArgs

	// Name is the entry to create in the directory.
	Name string

	// Mode is the createmode3: UNCHECKED, GUARDED or EXCLUSIVE.
	Mode uint32

	// Attr are the initial attributes. UNCHECKED and GUARDED only.
	Attr vfs.SetAttr

	// Verf identifies the create attempt. EXCLUSIVE only.
	Verf [types.CreateVerfSize]byte
}

// CreateResponse is CREATE3res. MKDIR3res has the same layout.
type CreateResponse struct {
	NFSResponseBase

	// FH and Attr describe the new object. Only sent on success.
	FH   *fh.FH
	Attr *types.FileAttr

	// DirBefore and DirAfter are the wcc_data of the parent directory,
	// sent whatever the status.
	DirBefore *types.WccAttr
	DirAfter  *types.FileAttr
}

func (resp *CreateResponse) Release() {
	if resp.FH != nil {
		resp.FH.Put()
	}
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Create makes a regular file (RFC 1813 Section 3.3.8).
//
// Create modes:
//   - UNCHECKED: an existing regular file is kept and only its size is set
//   - GUARDED: an existing entry fails with EXIST
//   - EXCLUSIVE: the verifier is stored in the file's times, so a
//     retransmitted call finding the same verifier succeeds
func (h *Handler) Create(ctx *NFSHandlerContext, req *CreateRequest) *CreateResponse {
	resp := &CreateResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("CREATE %s %q: %v", req.FH.Handle, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	resp.DirBefore = h.wcc(req.FH)
	f, err := h.create(ctx, req)
	if err != nil {
		logger.Debug("CREATE %s %q: %v", req.FH.Dentry.Path, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
	} else {
		resp.FH = f
		resp.Attr = h.attrs(f)
	}
	resp.DirAfter = h.attrs(req.FH)
	return resp
}

func (h *Handler) create(ctx *NFSHandlerContext, req *CreateRequest) (*fh.FH, error) {
	dir := req.FH.Dentry
	if !dir.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir.Path, unix.ENOTDIR)
	}
	if err := writable(req.FH); err != nil {
		return nil, err
	}

	// The handle is composed before the object exists and filled in once
	// it does.
	f := h.newFH()
	if err := fh.Compose(h.Net.FS, f, req.FH.Export, vfs.Dentry{}, req.FH); err != nil {
		return nil, err
	}

	d, err := h.createObject(ctx.Request.Cred(), dir, req)
	if err == nil {
		err = fh.Update(h.Net.FS, f, d)
	}
	if err != nil {
		f.Put()
		return nil, err
	}
	return f, nil
}

func (h *Handler) createObject(cred auth.Cred, dir vfs.Dentry, req *CreateRequest) (vfs.Dentry, error) {
	fs := h.Net.FS

	d, err := fs.Lookup(dir, req.Name)
	switch {
	case err == nil:
		return h.existing(cred, d, req)
	case !errors.Is(err, unix.ENOENT):
		return vfs.Dentry{}, err
	}

	mode := uint32(0o644)
	if req.Attr.Mode != nil {
		mode = *req.Attr.Mode
	}
	d, err = fs.Create(dir, req.Name, mode, cred)
	if err != nil {
		return vfs.Dentry{}, err
	}

	s := req.Attr
	s.Mode = nil
	if req.Mode == types.CreateExclusive {
		s = verfTimes(req.Verf)
	}
	if err := setInitial(fs, d, s, cred); err != nil {
		return vfs.Dentry{}, err
	}
	return d, nil
}

// existing handles a CREATE whose name is already taken.
func (h *Handler) existing(cred auth.Cred, d vfs.Dentry, req *CreateRequest) (vfs.Dentry, error) {
	exist := fmt.Errorf("%s: %w", d.Path, unix.EEXIST)

	switch req.Mode {
	case types.CreateGuarded:
		return vfs.Dentry{}, exist

	case types.CreateExclusive:
		a, err := h.Net.FS.Getattr(d)
		if err != nil {
			return vfs.Dentry{}, err
		}
		want := verfTimes(req.Verf)
		if d.Type != vfs.TypeRegular ||
			types.NewTimeVal(a.Mtime).Seconds != uint32(want.Mtime.Unix()) ||
			types.NewTimeVal(a.Atime).Seconds != uint32(want.Atime.Unix()) {
			return vfs.Dentry{}, exist
		}
		return d, nil

	default:
		if d.Type != vfs.TypeRegular {
			return vfs.Dentry{}, exist
		}
		if req.Attr.Size != nil {
			if _, err := h.Net.FS.Setattr(d, vfs.SetAttr{Size: req.Attr.Size}, cred); err != nil {
				return vfs.Dentry{}, err
			}
		}
		return d, nil
	}
}

// verfTimes stores an exclusive create verifier in the mtime and atime
// seconds of the new file.
func verfTimes(verf [types.CreateVerfSize]byte) vfs.SetAttr {
	mtime := time.Unix(int64(binary.BigEndian.Uint32(verf[0:4])), 0)
	atime := time.Unix(int64(binary.BigEndian.Uint32(verf[4:8])), 0)
	return vfs.SetAttr{Mtime: &mtime, Atime: &atime}
}

// setInitial applies the attributes that creation itself did not set.
func setInitial(fs vfs.Filesystem, d vfs.Dentry, s vfs.SetAttr, cred auth.Cred) error {
	if s == (vfs.SetAttr{}) {
		return nil
	}
	_, err := fs.Setattr(d, s, cred)
	return err
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeCreate(h *Handler, r *xdr.Reader) (*CreateRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &CreateRequest{fhArgs: a}

	if req.Name, err = r.Target(); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if req.Mode, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("createmode: %w", err)
	}

	switch req.Mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attr, err = r.SetAttr(h.now()); err != nil {
			return nil, fmt.Errorf("obj_attributes: %w", err)
		}
	case types.CreateExclusive:
		verf, err := r.Fixed(types.CreateVerfSize)
		if err != nil {
			return nil, fmt.Errorf("verf: %w", err)
		}
		copy(req.Verf[:], verf)
	default:
		return nil, fmt.Errorf("%w: createmode %d", xdr.ErrDecode, req.Mode)
	}
	return req, nil
}

// Encode writes CREATE3res and MKDIR3res:
//
//	OK:   status, post_op_fh3, post_op_attr, wcc_data dir
//	FAIL: status, wcc_data dir
func (resp *CreateResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if resp.Status == types.NFS3OK {
		if err := b.PostOpHandle(resp.FH.Handle); err != nil {
			return err
		}
		if err := b.PostOpAttr(resp.Attr); err != nil {
			return err
		}
	}
	return b.WccData(resp.DirBefore, resp.DirAfter)
}
