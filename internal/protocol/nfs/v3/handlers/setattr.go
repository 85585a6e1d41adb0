package handlers

import (
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// SetAttrRequest is SETATTR3args.
//
// RFC 1813 Section 3.3.2 specifies the SETATTR procedure as:
//
//	SETATTR3res NFSPROC3_SETATTR(SETATTR3args) = 2;
type SetAttrRequest struct {
	fhArgs

	// Attr selects the attributes to change.
	Attr vfs.SetAttr

	// Guard, when Check is set, makes the call fail with NOT_SYNC unless
	// the object's ctime still equals Guard.Time.
	Guard types.TimeGuard
}

// SetAttrResponse is SETATTR3res: wcc_data of the object, whatever the
// status.
type SetAttrResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.FileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// SetAttr changes attributes of an object (RFC 1813 Section 3.3.2).
//
// The guard is checked against the ctime read just before the change.
// Read-only exports refuse the call with ROFS.
func (h *Handler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) *SetAttrResponse {
	resp := &SetAttrResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("SETATTR %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	resp.Before = h.wcc(req.FH)
	if err := h.setattr(ctx, req, resp.Before); err != nil {
		logger.Debug("SETATTR %s: %v", req.FH.Dentry.Path, err)
		resp.Status = xdr.StatusFromError(err)
	}
	resp.After = h.attrs(req.FH)
	return resp
}

func (h *Handler) setattr(ctx *NFSHandlerContext, req *SetAttrRequest, before *types.WccAttr) error {
	if err := writable(req.FH); err != nil {
		return err
	}
	if req.Guard.Check {
		if before == nil {
			a, err := h.Net.FS.Getattr(req.FH.Dentry)
			if err != nil {
				return err
			}
			w := types.NewWccAttr(a)
			before = &w
		}
		if before.Ctime != req.Guard.Time {
			return fmt.Errorf("ctime %v, guard %v: %w", before.Ctime, req.Guard.Time, xdr.ErrNotSync)
		}
	}
	_, err := h.Net.FS.Setattr(req.FH.Dentry, req.Attr, ctx.Request.Cred())
	return err
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeSetAttr(h *Handler, r *xdr.Reader) (*SetAttrRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &SetAttrRequest{fhArgs: a}

	if req.Attr, err = r.SetAttr(h.now()); err != nil {
		return nil, fmt.Errorf("new_attributes: %w", err)
	}
	if req.Guard.Check, err = r.Bool(); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	if req.Guard.Check {
		if req.Guard.Time, err = r.Time(); err != nil {
			return nil, fmt.Errorf("guard ctime: %w", err)
		}
	}
	return req, nil
}

func (resp *SetAttrResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	return b.WccData(resp.Before, resp.After)
}
