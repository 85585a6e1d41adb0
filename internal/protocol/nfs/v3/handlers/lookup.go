package handlers

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// LookupRequest represents a LOOKUP request from an NFS client.
// The client provides a directory handle and a filename to search for.
//
// RFC 1813 Section 3.3.3 specifies the LOOKUP procedure as:
//
//	LOOKUP3res NFSPROC3_LOOKUP(LOOKUP3args) = 3;
type LookupRequest struct {
	fhArgs

	// Name is the component to search for. "." and ".." are accepted.
	Name string
}

// LookupResponse represents the response to a LOOKUP request.
type LookupResponse struct {
	NFSResponseBase

	// FH is the handle of the object found. Only sent on success.
	FH   *fh.FH
	Attr *types.FileAttr

	// DirAttr is sent whatever the status.
	DirAttr *types.FileAttr
}

func (resp *LookupResponse) Release() {
	if resp.FH != nil {
		resp.FH.Put()
	}
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Lookup searches a directory for a name and returns its file handle
// (RFC 1813 Section 3.3.3).
//
// ".." of an export root resolves to the root itself, so clients cannot
// walk out of the export through LOOKUP. The new handle keeps the fsid
// encoding of the directory handle it was looked up in.
func (h *Handler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) *LookupResponse {
	resp := &LookupResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("LOOKUP %s %q: %v", req.FH.Handle, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	f, err := h.lookup(req)
	if err != nil {
		logger.Debug("LOOKUP %s %q: %v", req.FH.Dentry.Path, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
		resp.DirAttr = h.attrs(req.FH)
		return resp
	}

	resp.FH = f
	resp.Attr = h.attrs(f)
	resp.DirAttr = h.attrs(req.FH)
	logger.Debug("LOOKUP %s %q -> %s", req.FH.Dentry.Path, req.Name, f.Handle)
	return resp
}

func (h *Handler) lookup(req *LookupRequest) (*fh.FH, error) {
	dir := req.FH.Dentry
	if !dir.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir.Path, unix.ENOTDIR)
	}

	d := dir
	switch req.Name {
	case ".":
	case "..":
		if !isExportRoot(req.FH, dir) {
			p, err := h.Net.FS.Parent(dir)
			if err != nil {
				return nil, err
			}
			d = p
		}
	default:
		c, err := h.Net.FS.Lookup(dir, req.Name)
		if err != nil {
			return nil, err
		}
		d = c
	}

	f := h.newFH()
	if err := fh.Compose(h.Net.FS, f, req.FH.Export, d, req.FH); err != nil {
		return nil, err
	}
	return f, nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeLookup(_ *Handler, r *xdr.Reader) (*LookupRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	name, err := r.Name()
	if err != nil {
		a.Release()
		return nil, fmt.Errorf("name: %w", err)
	}
	return &LookupRequest{fhArgs: a, Name: name}, nil
}

// Encode writes LOOKUP3res:
//
//	OK:   status, object fh, post_op_attr object, post_op_attr dir
//	FAIL: status, post_op_attr dir
func (resp *LookupResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if resp.Status == types.NFS3OK {
		if err := b.Handle(resp.FH.Handle); err != nil {
			return err
		}
		if err := b.PostOpAttr(resp.Attr); err != nil {
			return err
		}
	}
	return b.PostOpAttr(resp.DirAttr)
}
