package handlers

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadDirRequest is READDIR3args. READDIRPLUS3args adds DirCount and puts
// its byte budget in Count.
//
// RFC 1813 Sections 3.3.16 and 3.3.17 specify the procedures as:
//
//	READDIR3res     NFSPROC3_READDIR(READDIR3args)         = 16;
//	READDIRPLUS3res NFSPROC3_READDIRPLUS(READDIRPLUS3args) = 17;
type ReadDirRequest struct {
	fhArgs

	// Cookie is the position to resume from. 0 starts a new listing.
	Cookie uint64

	// Verf is the cookie verifier returned with the listing being resumed.
	Verf [types.CookieVerfSize]byte

	// DirCount is the READDIRPLUS budget for the plain entry fields. The
	// reply is bounded by Count alone.
	DirCount uint32

	// Count is the largest reply the client accepts, in bytes.
	Count uint32

	plus bool
}

// ReadDirResponse is READDIR3res and READDIRPLUS3res.
type ReadDirResponse struct {
	NFSResponseBase

	// DirAttr is sent whatever the status.
	DirAttr *types.FileAttr
	Verf    [types.CookieVerfSize]byte

	// Entries is the packed entry list, without the terminating
	// value_follows flag.
	Entries []byte
	Eof     bool
}

// ============================================================================
// Protocol Handler
// ============================================================================

// ReadDir lists a directory (RFC 1813 Section 3.3.16).
func (h *Handler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) *ReadDirResponse {
	return h.readdir(ctx, req)
}

// ReadDirPlus lists a directory with the attributes and handle of each
// entry (RFC 1813 Section 3.3.17).
func (h *Handler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirRequest) *ReadDirResponse {
	return h.readdir(ctx, req)
}

// readdir packs entries from a directory snapshot.
//
// A call with cookie 0, or with an all-zero verifier, lists the directory
// afresh under a new verifier. A continuation reads from the snapshot its
// verifier names, so entries are neither repeated nor skipped while the
// directory changes. Each entry's cookie is the snapshot position of the
// entry after it.
func (h *Handler) readdir(ctx *NFSHandlerContext, req *ReadDirRequest) *ReadDirResponse {
	op := "READDIR"
	if req.plus {
		op = "READDIRPLUS"
	}
	resp := &ReadDirResponse{}

	if err := ctx.verify(req.FH); err != nil {
		logger.Debug("%s %s: %v", op, req.FH.Handle, err)
		resp.Status = xdr.StatusFromError(err)
		return resp
	}

	if err := h.pack(req, resp); err != nil {
		logger.Debug("%s %s cookie=%d: %v", op, req.FH.Dentry.Path, req.Cookie, err)
		resp.Status = xdr.StatusFromError(err)
		resp.Entries = nil
		resp.Eof = false
	}
	resp.DirAttr = h.attrs(req.FH)
	return resp
}

func (h *Handler) pack(req *ReadDirRequest, resp *ReadDirResponse) error {
	dir := req.FH.Dentry
	if !dir.IsDir() {
		return fmt.Errorf("%s: %w", dir.Path, unix.ENOTDIR)
	}

	verf, snap, err := h.listing(req)
	if err != nil {
		return err
	}
	resp.Verf = verf
	if req.Cookie > uint64(len(snap.entries)) {
		return fmt.Errorf("cookie %d past %d entries: %w", req.Cookie, len(snap.entries), xdr.ErrBadCookie)
	}

	count := min(req.Count, xdr.PageSize)
	if req.plus {
		count = min(req.Count, h.maxPayload)
	}
	words := int(count>>2) - 2
	if words <= 0 {
		return fmt.Errorf("count %d: %w", req.Count, xdr.ErrTooSmall)
	}

	p := xdr.NewDirPacker(xdr.AllocPages(int(count)), words, req.plus)
	i := req.Cookie
	for ; i < uint64(len(snap.entries)); i++ {
		e := snap.entries[i]
		de := xdr.DirEntry{Name: e.Name, Fileid: e.Ino, Offset: i}
		if req.plus {
			de.Attr, de.Handle = h.entryHandle(req, e)
		}
		err := p.Add(de)
		if errors.Is(err, xdr.ErrTooSmall) {
			break
		}
		if err != nil {
			return err
		}
	}
	p.Finish(i)

	if p.Count() == 0 && i < uint64(len(snap.entries)) {
		return fmt.Errorf("entry %d does not fit %d bytes: %w", i, count, xdr.ErrTooSmall)
	}

	resp.Entries = p.Bytes()
	resp.Eof = i == uint64(len(snap.entries))
	return nil
}

// listing returns the snapshot a call reads from and the verifier the
// reply carries.
func (h *Handler) listing(req *ReadDirRequest) ([types.CookieVerfSize]byte, *snapshot, error) {
	var zero [types.CookieVerfSize]byte
	if req.Cookie == 0 || req.Verf == zero {
		return h.snapshots.take(h.Net.FS, req.FH.Dentry)
	}
	s, ok := h.snapshots.get(req.Verf, req.FH.Dentry)
	if !ok {
		return zero, nil, fmt.Errorf("verifier %x: %w", req.Verf, xdr.ErrBadCookie)
	}
	return req.Verf, s, nil
}

// entryHandle returns the attributes and handle of a READDIRPLUS entry, or
// nils when the entry gets no handle: ".." of an export or filesystem root,
// or an entry that no longer names the object listed.
func (h *Handler) entryHandle(req *ReadDirRequest, e vfs.DirEntry) (*types.FileAttr, []byte) {
	fs := h.Net.FS
	dir := req.FH.Dentry

	var d vfs.Dentry
	switch e.Name {
	case ".":
		d = dir
	case "..":
		if isExportRoot(req.FH, dir) {
			return nil, nil
		}
		p, err := fs.Parent(dir)
		if err != nil || p.Same(dir) {
			return nil, nil
		}
		d = p
	default:
		c, err := fs.Lookup(dir, e.Name)
		if err != nil || c.Ino != e.Ino {
			return nil, nil
		}
		d = c
	}

	a, err := fs.Getattr(d)
	if err != nil {
		return nil, nil
	}
	f := h.newFH()
	defer f.Put()
	if err := fh.Compose(fs, f, req.FH.Export, d, req.FH); err != nil {
		logger.Debug("READDIRPLUS %s %q: no handle: %v", dir.Path, e.Name, err)
		return nil, nil
	}
	fa := types.NewFileAttr(a, wireFsid(req.FH))
	return &fa, f.Handle
}

// ============================================================================
// XDR Decoding / Encoding
// ============================================================================

func decodeReadDir(_ *Handler, r *xdr.Reader) (*ReadDirRequest, error) {
	return decodeReadDirArgs(r, false)
}

func decodeReadDirPlus(_ *Handler, r *xdr.Reader) (*ReadDirRequest, error) {
	return decodeReadDirArgs(r, true)
}

func decodeReadDirArgs(r *xdr.Reader, plus bool) (*ReadDirRequest, error) {
	a, err := decodeFH(r)
	if err != nil {
		return nil, err
	}
	req := &ReadDirRequest{fhArgs: a, plus: plus}

	if req.Cookie, err = r.Uint64(); err != nil {
		return nil, fmt.Errorf("cookie: %w", err)
	}
	verf, err := r.Fixed(types.CookieVerfSize)
	if err != nil {
		return nil, fmt.Errorf("cookieverf: %w", err)
	}
	copy(req.Verf[:], verf)

	if plus {
		if req.DirCount, err = r.Uint32(); err != nil {
			return nil, fmt.Errorf("dircount: %w", err)
		}
	}
	if req.Count, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	return req, nil
}

// Encode writes READDIR3res and READDIRPLUS3res:
//
//	OK:   status, post_op_attr dir, cookieverf3, entries, FALSE, eof
//	FAIL: status, post_op_attr dir
func (resp *ReadDirResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if err := b.PostOpAttr(resp.DirAttr); err != nil {
		return err
	}
	if resp.Status != types.NFS3OK {
		return nil
	}
	if err := b.Fixed(resp.Verf[:]); err != nil {
		return err
	}
	if _, err := b.Write(resp.Entries); err != nil {
		return err
	}
	if err := b.Bool(false); err != nil {
		return err
	}
	return b.Bool(resp.Eof)
}
