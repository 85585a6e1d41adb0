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

// ReadRequest is READ3args.
//
// RFC 1813 Section 3.3.6 specifies the READ procedure as:
//
//	READ3res NFSPROC3_READ(READ3args) = 6;
type ReadRequest struct {
	fhArgs

	// Offset is the byte position to start reading from.
	Offset uint64

	// Count is the number of bytes requested. It is clamped to the
	// server's maximum payload before reading.
	Count uint32
}

// ReadResponse is READ3res.
type ReadResponse struct {
	NFSResponseBase

	// Attr is sent whatever the status.
	Attr *types.FileAttr

	// Eof is set when the read reached the end of the file.
	Eof  bool
	Data []byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Read returns data from a regular file (RFC 1813 Section 3.3.6).
func (h *Handler) Read(ctx *NFSHandlerContext, req *ReadRequest) *ReadResponse {
	resp := &ReadResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("READ %s: %v", req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	if err := h.read(req, resp); err != nil {
		logger.Debug("READ %s @%d+%d: %v", req.FH.Dentry.Path, req.Offset, req.Count, err)
		resp.Status = xdr.StatusFromError(err)
		resp.Data = nil
	}
	resp.Attr = h.attrs(req.FH)
	return resp
}

func (h *Handler) read(req *ReadRequest, resp *ReadResponse) error {
	d := req.FH.Dentry
	switch {
	case d.IsDir():
		return fmt.Errorf("%s: %w", d.Path, unix.EISDIR)
	case d.Type != vfs.TypeRegular:
		return fmt.Errorf("%s is a %s: %w", d.Path, d.Type, unix.EINVAL)
	}

	a, err := h.Net.FS.Getattr(d)
	if err != nil {
		return err
	}

	count := min(req.Count, h.maxPayload)
	buf := make([]byte, count)
	n, err := h.Net.FS.Read(d, req.Offset, buf)
	if err != nil {
		return err
	}

	resp.Data = buf[:n]
	resp.Eof = req.Offset+uint64(n) >= a.Size
	h.metrics.RecordBytesTransferred("read", int64(n))
	return nil
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeRead(_ *Handler, r *xdr.Reader) (*ReadRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &ReadRequest{fhArgs: a}
	if req.Offset, err = r.Uint64(); err != nil {
		return nil, fmt.Errorf("offset: %w", err)
	}
	if req.Count, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	return req, nil
}

// Encode writes READ3res:
//
//	OK:   status, post_op_attr, count, eof, opaque data
//	FAIL: status, post_op_attr
func (resp *ReadResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.PostOpAttr(resp.Attr); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	if err := b.Uint32(uint32(len(resp.Data))); err != nil {
		return err
	}
	if err := b.Bool(resp.Eof); err != nil {
		return err
	}
	return b.Opaque(resp.Data)
}
