// Package handlers implements the MOUNT v3 program (RFC 1813 Appendix I).
//
// MNT resolves a path through the export resolver and returns the same root
// handle the rootfh transaction composes. The server keeps an in-memory
// mount list for DUMP; it is advisory and lost on restart, as RFC 1813
// allows.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/nfsd/internal/logger"
	nfs "github.com/marmos91/nfsd/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/export/table"
)

// replyLimit bounds every MOUNT reply. EXPORT and DUMP stop listing once it
// is reached.
const replyLimit = 64 * 1024

// ExportLister supplies the export table EXPORT reports.
// *table.Agent implements it.
type ExportLister interface {
	Table() *table.Table
}

// MountContext carries one call's identity.
type MountContext struct {
	Context context.Context

	// ClientAddr is the transport address, for logging only.
	ClientAddr string

	// Host names the caller in the mount list: the AUTH_UNIX machine name
	// or the client address.
	Host string

	// Client is the caller's auth domain. The dispatcher holds the reference.
	Client *auth.Domain
}

// Handler executes MOUNT procedures.
type Handler struct {
	Net     *export.Net
	exports ExportLister

	mu     sync.Mutex
	mounts map[MountEntry]struct{}
}

// MountEntry is one mount list row.
type MountEntry struct {
	Host string
	Dir  string
}

// NewHandler creates a handler resolving mounts through net. exports may
// be nil, in which case EXPORT reports an empty list.
func NewHandler(net *export.Net, exports ExportLister) *Handler {
	return &Handler{
		Net:     net,
		exports: exports,
		mounts:  make(map[MountEntry]struct{}),
	}
}

// Dispatch decodes, executes and encodes one MOUNT call and returns the reply
// body. Failures wrap the v3 dispatch errors so callers map both programs to
// the same accept_stat.
func (h *Handler) Dispatch(ctx *MountContext, proc uint32, args []byte) ([]byte, error) {
	r := xdr.NewReader(args)
	b := xdr.NewBuffer(replyLimit)

	var err error
	switch proc {
	case MountProcNull:
		logger.Debug("MOUNT NULL: client=%s", ctx.ClientAddr)
	case MountProcMnt, MountProcUmnt:
		path, derr := decodeDirPath(r)
		if derr != nil {
			logger.Warn("MOUNT proc=%d client=%s: decode: %v", proc, ctx.ClientAddr, derr)
			return nil, fmt.Errorf("%w: mount procedure %d: %v", nfs.ErrGarbageArgs, proc, derr)
		}
		if proc == MountProcUmnt {
			h.Umnt(ctx, path)
			break
		}
		err = h.Mnt(ctx, path).Encode(b)
	case MountProcDump:
		err = encodeMountList(b, h.Dump())
	case MountProcUmntAll:
		h.UmntAll(ctx)
	case MountProcExport:
		err = encodeExports(b, h.Export())
	default:
		logger.Debug("MOUNT procedure %d unavailable: client=%s", proc, ctx.ClientAddr)
		return nil, fmt.Errorf("%w: mount procedure %d", nfs.ErrProcUnavail, proc)
	}
	if err != nil {
		logger.Error("MOUNT proc=%d client=%s: encode: %v", proc, ctx.ClientAddr, err)
		return nil, fmt.Errorf("%w: mount procedure %d: %v", nfs.ErrSystem, proc, err)
	}
	return b.Bytes(), nil
}

// record adds a mount list entry.
func (h *Handler) record(host, dir string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mounts[MountEntry{Host: host, Dir: dir}] = struct{}{}
}

// Dump returns the mount list sorted by host then directory.
func (h *Handler) Dump() []MountEntry {
	h.mu.Lock()
	out := make([]MountEntry, 0, len(h.mounts))
	for m := range h.mounts {
		out = append(out, m)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Dir < out[j].Dir
	})
	return out
}

// Umnt removes one mount list entry. UMNT returns void whether or not the
// entry existed.
func (h *Handler) Umnt(ctx *MountContext, dir string) {
	h.mu.Lock()
	delete(h.mounts, MountEntry{Host: ctx.Host, Dir: dir})
	h.mu.Unlock()
	logger.Info("Unmount: path=%s host=%s", dir, ctx.Host)
}

// UmntAll removes every mount list entry of the caller.
func (h *Handler) UmntAll(ctx *MountContext) {
	h.mu.Lock()
	n := 0
	for m := range h.mounts {
		if m.Host == ctx.Host {
			delete(h.mounts, m)
			n++
		}
	}
	h.mu.Unlock()
	logger.Info("Unmount all: host=%s removed=%d", ctx.Host, n)
}
