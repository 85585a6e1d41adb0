package handlers

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// WriteRequest is WRITE3args.
//
// RFC 1813 Section 3.3.7 specifies the WRITE procedure as:
//
//	WRITE3res NFSPROC3_WRITE(WRITE3args) = 7;
type WriteRequest struct {
	fhArgs

	Offset uint64

	// Stable is the stability the client asked for: UNSTABLE, DATA_SYNC
	// or FILE_SYNC.
	Stable uint32

	// Data aliases the call buffer. Its length equals the count the client
	// sent, clamped to the server's maximum payload.
	Data []byte
}

// WriteResponse is WRITE3res.
type WriteResponse struct {
	NFSResponseBase

	// Before and After are the wcc_data of the file, sent whatever the
	// status.
	Before *types.WccAttr
	After  *types.FileAttr

	Count     uint32
	Committed uint32
	Verf      [types.WriteVerfSize]byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Write stores data into a regular file (RFC 1813 Section 3.3.7).
//
// The reply carries the server's write verifier, which only changes across
// restarts, so clients can detect lost unstable writes.
func (h *Handler) Write(ctx *NFSHandlerContext, req *WriteRequest) *WriteResponse {
	resp := &WriteResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("WRITE %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	resp.Before = h.wcc(req.FH)
	n, err := h.write(ctx, req)
	if err != nil {
		logger.Debug("WRITE %s @%d+%d: %v", req.FH.Dentry.Path, req.Offset, len(req.Data), err)
		resp.Status = xdr.StatusFromError(err)
	} else {
		resp.Count = uint32(n)
		resp.Committed = req.Stable
		resp.Verf = h.writeVerifier()
		h.metrics.RecordBytesTransferred("write", int64(n))
	}
	resp.After = h.attrs(req.FH)
	return resp
}

func (h *Handler) write(ctx *NFSHandlerContext, req *WriteRequest) (int, error) {
	if err := writable(req.FH); err != nil {
		return 0, err
	}
	d := req.FH.Dentry
	switch {
	case d.IsDir():
		return 0, fmt.Errorf("%s: %w", d.Path, unix.EISDIR)
	case d.Type != vfs.TypeRegular:
		return 0, fmt.Errorf("%s is a %s: %w", d.Path, d.Type, unix.EINVAL)
	}
	return h.Net.FS.Write(d, req.Offset, req.Data, ctx.Request.Cred())
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

// decodeWrite reads WRITE3args. The opaque data length must equal count,
// and the buffered payload must cover it.
func decodeWrite(h *Handler, r *xdr.Reader) (*WriteRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &WriteRequest{fhArgs: a}

	if req.Offset, err = r.Uint64(); err != nil {
		return nil, fmt.Errorf("offset: %w", err)
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if req.Stable, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("stable: %w", err)
	}
	if req.Stable > types.WriteFileSync {
		return nil, fmt.Errorf("%w: stable_how %d", xdr.ErrDecode, req.Stable)
	}
	n, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("data length: %w", err)
	}
	if n != count {
		return nil, fmt.Errorf("%w: count %d but %d data bytes", xdr.ErrDecode, count, n)
	}
	data, err := r.Payload(n)
	if err != nil {
		return nil, err
	}
	req.Data = data[:min(n, h.maxPayload)]
	return req, nil
}

// Encode writes WRITE3res:
//
//	OK:   status, wcc_data, count, committed, writeverf3
//	FAIL: status, wcc_data
func (resp *WriteResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.WccData(resp.Before, resp.After); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	if err := b.Uint32(resp.Count); err != nil {
		return err
	}
	if err := b.Uint32(resp.Committed); err != nil {
		return err
	}
	return b.Fixed(resp.Verf[:])
}
