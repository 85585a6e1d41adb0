package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// FsStatRequest represents an FSSTAT request from an NFS client.
//
// RFC 1813 Section 3.3.18 specifies the FSSTAT procedure as:
//
//	FSSTAT3res NFSPROC3_FSSTAT(FSSTAT3args) = 18;
//
// The request contains only a file handle, typically the root handle of the
// mounted filesystem.
type FsStatRequest struct {
	fhArgs
}

// FsStatResponse represents the response to an FSSTAT request.
type FsStatResponse struct {
	NFSResponseBase

	// Attr is the post-operation attributes of the object, sent whatever
	// the status.
	Attr *types.FileAttr

	// Stat holds the capacity figures. Only sent on success.
	Stat types.FSStat
}

// ============================================================================
// Protocol Handler
// ============================================================================

// FsStat returns the capacity of the filesystem an object lives on
// (RFC 1813 Section 3.3.18).
//
// Byte figures are the block size times the block counts. File counts are
// reported as-is with avail equal to free, and invarsec is 0 because the
// filesystem may change at any time.
func (h *Handler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) *FsStatResponse {
	resp := &FsStatResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("FSSTAT %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	st, err := h.Net.FS.Statfs(req.FH.Dentry)
	if err != nil {
		logger.Debug("FSSTAT %s: %v", req.FH.Dentry.Path, err)
		resp.Status = xdr.StatusFromError(err)
		resp.Attr = h.attrs(req.FH)
		return resp
	}

	resp.Stat = types.FSStat{
		TotalBytes: st.Bsize * st.Blocks,
		FreeBytes:  st.Bsize * st.Bfree,
		AvailBytes: st.Bsize * st.Bavail,
		TotalFiles: st.Files,
		FreeFiles:  st.Ffree,
		AvailFiles: st.Ffree,
	}
	resp.Attr = h.attrs(req.FH)
	return resp
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeFsStat(_ *Handler, r *xdr.Reader) (*FsStatRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	return &FsStatRequest{fhArgs: a}, nil
}

// Encode writes FSSTAT3res:
//
//	OK:   status, post_op_attr, tbytes, fbytes, abytes, tfiles, ffiles, afiles, invarsec
//	FAIL: status, post_op_attr
func (resp *FsStatResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.PostOpAttr(resp.Attr); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	return b.Marshal(&resp.Stat)
}
