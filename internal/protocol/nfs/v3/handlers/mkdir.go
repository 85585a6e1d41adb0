package handlers

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// MkdirRequest is MKDIR3args.
//
// RFC 1813 Section 3.3.9 specifies the MKDIR procedure as:
//
//	MKDIR3res NFSPROC3_MKDIR(MKDIR3args) = 9;
type MkdirRequest struct {
	fhArgs
	Name string

	// Attr are the initial attributes. A size is ignored.
	Attr vfs.SetAttr
}

// Mkdir creates a directory (RFC 1813 Section 3.3.9). The reply has the
// same layout as CREATE.
func (h *Handler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) *CreateResponse {
	resp := &CreateResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("MKDIR %s %q: %v", req.FH.Handle, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	resp.DirBefore = h.wcc(req.FH)
	f, err := h.mkdir(ctx, req)
	if err != nil {
		logger.Debug("MKDIR %s %q: %v", req.FH.Dentry.Path, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
	} else {
		resp.FH = f
		resp.Attr = h.attrs(f)
	}
	resp.DirAfter = h.attrs(req.FH)
	return resp
}

func (h *Handler) mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*fh.FH, error) {
	dir := req.FH.Dentry
	if !dir.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir.Path, unix.ENOTDIR)
	}
	if err := writable(req.FH); err != nil {
		return nil, err
	}

	f := h.newFH()
	if err := fh.Compose(h.Net.FS, f, req.FH.Export, vfs.Dentry{}, req.FH); err != nil {
		return nil, err
	}

	cred := ctx.Request.Cred()
	mode := uint32(0o755)
	if req.Attr.Mode != nil {
		mode = *req.Attr.Mode
	}
	d, err := h.Net.FS.Mkdir(dir, req.Name, mode, cred)
	if err == nil {
		s := req.Attr
		s.Mode, s.Size = nil, nil
		err = setInitial(h.Net.FS, d, s, cred)
	}
	if err == nil {
		err = fh.Update(h.Net.FS, f, d)
	}
	if err != nil {
		f.Put()
		return nil, err
	}
	return f, nil
}

func decodeMkdir(h *Handler, r *xdr.Reader) (*MkdirRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &MkdirRequest{fhArgs: a}
	if req.Name, err = r.Target(); err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	if req.Attr, err = r.SetAttr(h.now()); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	return req, nil
}
