package handlers

import (
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// AccessRequest is ACCESS3args: an object handle and the access bits the
// client wants checked.
type AccessRequest struct {
	fhArgs
	Access uint32
}

// AccessResponse is ACCESS3res.
type AccessResponse struct {
	NFSResponseBase
	Attr   *types.FileAttr
	Access uint32
}

// Access reports which of the requested rights the caller holds
// (RFC 1813 Section 3.3.4).
//
// Permission is enforced by each operation against the mapped credential,
// so every requested bit is granted here and the real check happens when
// the client acts on it.
func (h *Handler) Access(ctx *NFSHandlerContext, req *AccessRequest) *AccessResponse {
	resp := &AccessResponse{}
	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("ACCESS %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}
	resp.Attr = h.attrs(req.FH)
	resp.Access = req.Access
	return resp
}

func decodeAccess(_ *Handler, r *xdr.Reader) (*AccessRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	access, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	return &AccessRequest{fhArgs: a, Access: access}, nil
}

func (resp *AccessResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.PostOpAttr(resp.Attr); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	return b.Uint32(resp.Access)
}
