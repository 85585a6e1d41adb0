package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// FsInfoRequest is FSINFO3args: the handle of the filesystem root.
type FsInfoRequest struct {
	fhArgs
}

// FsInfoResponse is FSINFO3res.
type FsInfoResponse struct {
	NFSResponseBase
	Attr *types.FileAttr
	Info types.FSInfo
}

// FsInfo returns the static transfer limits and properties of the
// filesystem (RFC 1813 Section 3.3.19).
func (h *Handler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) *FsInfoResponse {
	resp := &FsInfoResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("FSINFO %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	st, err := h.Net.FS.Statfs(req.FH.Dentry)
	if err != nil {
		logger.Debug("FSINFO %s: %v", req.FH.Dentry.Path, err)
		resp.Status = xdr.StatusFromError(err)
		resp.Attr = h.attrs(req.FH)
		return resp
	}

	resp.Info = types.FSInfo{
		Rtmax:       h.maxPayload,
		Rtpref:      h.maxPayload,
		Rtmult:      xdr.PageSize,
		Wtmax:       h.maxPayload,
		Wtpref:      h.maxPayload,
		Wtmult:      xdr.PageSize,
		Dtpref:      xdr.PageSize,
		MaxFileSize: st.MaxFileSize,
		TimeDelta:   types.TimeVal{Seconds: 1},
		Properties:  types.FSFDefault,
	}
	resp.Attr = h.attrs(req.FH)
	return resp
}

func decodeFsInfo(_ *Handler, r *xdr.Reader) (*FsInfoRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	return &FsInfoRequest{fhArgs: a}, nil
}

func (resp *FsInfoResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.PostOpAttr(resp.Attr); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	return b.Marshal(&resp.Info)
}
