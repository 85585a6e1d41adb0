package handlers

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/cache"
)

// MountResponse is mountres3.
type MountResponse struct {
	Status uint32

	// FileHandle and AuthFlavors are only sent on success.
	FileHandle  fh.Handle
	AuthFlavors []uint32
}

// Mnt returns the root handle of path for the caller (RFC 1813 Appendix I,
// MOUNTPROC3_MNT).
//
// path must name a directory inside an export the caller's domain may use.
// The handle is composed exactly like a rootfh transaction answer, so it
// resolves through the key cache like any other. A successful mount is
// added to the mount list.
func (h *Handler) Mnt(ctx *MountContext, path string) *MountResponse {
	logger.Info("Mount request: path=%s host=%s client=%s", path, ctx.Host, ctx.ClientAddr)

	d, err := h.Net.FS.Resolve(path)
	if err != nil {
		logger.Warn("Mount denied: path=%s host=%s: %v", path, ctx.Host, err)
		return &MountResponse{Status: MountErrNoEnt}
	}
	if !d.IsDir() {
		logger.Warn("Mount denied: path=%s host=%s: not a directory", path, ctx.Host)
		return &MountResponse{Status: MountErrNotDir}
	}

	handle, flavors, err := fh.MountHandle(ctx.Context, h.Net, ctx.Client, path, fh.MaxSize)
	if err != nil {
		status := mountStatus(err)
		logger.Warn("Mount denied: path=%s host=%s status=%d: %v", path, ctx.Host, status, err)
		return &MountResponse{Status: status}
	}

	resp := &MountResponse{Status: MountOK, FileHandle: handle}
	for _, f := range flavors {
		resp.AuthFlavors = append(resp.AuthFlavors, f.Pseudoflavor)
	}
	if len(resp.AuthFlavors) == 0 {
		resp.AuthFlavors = []uint32{authUnix}
	}

	h.record(ctx.Host, path)
	logger.Info("Mount successful: path=%s host=%s handle=%s auth_flavors=%v",
		path, ctx.Host, handle, resp.AuthFlavors)
	return resp
}

// mountStatus maps a root handle failure to mountstat3.
func mountStatus(err error) uint32 {
	switch {
	case errors.Is(err, unix.EPERM):
		return MountErrNoEnt
	case errors.Is(err, unix.EINVAL):
		return MountErrInval
	case errors.Is(err, unix.ENOTDIR):
		return MountErrNotDir
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, unix.EACCES):
		return MountErrAccess
	default:
		return MountErrServerFault
	}
}

// decodeDirPath reads a dirpath: string<MNTPATHLEN>.
func decodeDirPath(r *xdr.Reader) (string, error) {
	p, err := r.Opaque(MaxPathLen)
	if err != nil {
		return "", fmt.Errorf("dirpath: %w", err)
	}
	if len(p) == 0 || p[0] != '/' {
		return "", fmt.Errorf("dirpath %q: %w", p, xdr.ErrDecode)
	}
	return string(p), nil
}

// Encode writes mountres3:
//
//	OK:   status, fhandle3, auth_flavors<>
//	FAIL: status
func (resp *MountResponse) Encode(b *xdr.Buffer) error {
	if err := b.Uint32(resp.Status); err != nil {
		return err
	}
	if resp.Status != MountOK {
		return nil
	}
	if err := b.Opaque(resp.FileHandle); err != nil {
		return err
	}
	if err := b.Uint32(uint32(len(resp.AuthFlavors))); err != nil {
		return err
	}
	for _, f := range resp.AuthFlavors {
		if err := b.Uint32(f); err != nil {
			return err
		}
	}
	return nil
}
