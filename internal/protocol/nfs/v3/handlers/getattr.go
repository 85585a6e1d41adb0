package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// GetAttrRequest is GETATTR3args: the handle of the object.
type GetAttrRequest struct {
	fhArgs
}

// GetAttrResponse is GETATTR3res. Attr is only sent on success.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.FileAttr
}

func decodeGetAttr(_ *Handler, r *xdr.Reader) (*GetAttrRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	return &GetAttrRequest{fhArgs: a}, nil
}

func (resp *GetAttrResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	return b.FileAttr(resp.Attr)
}

// GetAttr returns the attributes of an object (RFC 1813 Section 3.3.1).
func (h *Handler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) *GetAttrResponse {
	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("GETATTR %s: %v", req.FH.Handle, err)
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: xdr.StatusFromError(err)}}
	}

	a, err := h.Net.FS.Getattr(req.FH.Dentry)
	if err != nil {
		logger.Debug("GETATTR %s: %v", req.FH.Dentry.Path, err)
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: xdr.StatusFromError(err)}}
	}

	fa := types.NewFileAttr(a, wireFsid(req.FH))
	return &GetAttrResponse{Attr: &fa}
}
