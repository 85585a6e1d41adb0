package handlers

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// RemoveRequest is REMOVE3args and RMDIR3args: a directory handle and the
// name of the entry to remove.
type RemoveRequest struct {
	fhArgs
	Name string
}

// RemoveResponse is REMOVE3res and RMDIR3res: the wcc_data of the
// directory, whatever the status.
type RemoveResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.FileAttr
}

// Remove deletes a non-directory entry (RFC 1813 Section 3.3.12).
func (h *Handler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) *RemoveResponse {
	return h.remove(ctx, req, "REMOVE", h.Net.FS.Remove)
}

// Rmdir deletes an empty directory (RFC 1813 Section 3.3.13).
func (h *Handler) Rmdir(ctx *NFSHandlerContext, req *RemoveRequest) *RemoveResponse {
	return h.remove(ctx, req, "RMDIR", h.Net.FS.Rmdir)
}

func (h *Handler) remove(ctx *NFSHandlerContext, req *RemoveRequest, op string, unlink unlinkFunc) *RemoveResponse {
	resp := &RemoveResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("%s %s %q: %v", op, req.FH.Handle, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	dir := req.FH.Dentry
	resp.DirBefore = h.wcc(req.FH)

	err := writable(req.FH)
	if err == nil && !dir.IsDir() {
		err = fmt.Errorf("%s: %w", dir.Path, unix.ENOTDIR)
	}
	if err == nil {
		err = unlink(dir, req.Name, ctx.Request.Cred())
	}
	if err != nil {
		logger.Debug("%s %s %q: %v", op, dir.Path, req.Name, err)
		resp.Status = xdr.StatusFromError(err)
	}

	resp.DirAfter = h.attrs(req.FH)
	return resp
}

func decodeRemove(_ *Handler, r *xdr.Reader) (*RemoveRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	name, err := r.Target()
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	return &RemoveRequest{fhArgs: a, Name: name}, nil
}

func (resp *RemoveResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	return b.WccData(resp.DirBefore, resp.DirAfter)
}
