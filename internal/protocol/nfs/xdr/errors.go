package xdr

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/cache"
)

var (
	// ErrBadCookie reports a READDIR cookie or verifier that no longer
	// names a position in the directory.
	ErrBadCookie = errors.New("stale readdir cookie")

	// ErrNotSync reports a SETATTR guard whose ctime did not match.
	ErrNotSync = errors.New("update synchronization mismatch")
)

// ============================================================================
// Error Mapping - Errors → NFS Status Codes
// ============================================================================

// errnoTable translates filesystem errno values to nfsstat3 (RFC 1813
// Section 2.6). The transient conditions become NFS3ERR_JUKEBOX so the
// client retries later.
var errnoTable = map[unix.Errno]uint32{
	unix.EPERM:        types.NFS3ErrPerm,
	unix.ENOENT:       types.NFS3ErrNoEnt,
	unix.EIO:          types.NFS3ErrIO,
	unix.ENXIO:        types.NFS3ErrNxio,
	unix.E2BIG:        types.NFS3ErrFBig,
	unix.EACCES:       types.NFS3ErrAcces,
	unix.EEXIST:       types.NFS3ErrExist,
	unix.EXDEV:        types.NFS3ErrXdev,
	unix.EMLINK:       types.NFS3ErrMlink,
	unix.ENODEV:       types.NFS3ErrNodev,
	unix.ENOTDIR:      types.NFS3ErrNotDir,
	unix.EISDIR:       types.NFS3ErrIsDir,
	unix.EINVAL:       types.NFS3ErrInval,
	unix.EFBIG:        types.NFS3ErrFBig,
	unix.ENOSPC:       types.NFS3ErrNoSpc,
	unix.EROFS:        types.NFS3ErrRofs,
	unix.ENAMETOOLONG: types.NFS3ErrNameTooLong,
	unix.ENOTEMPTY:    types.NFS3ErrNotEmpty,
	unix.EDQUOT:       types.NFS3ErrDquot,
	unix.ESTALE:       types.NFS3ErrStale,
	unix.ETIMEDOUT:    types.NFS3ErrJukebox,
	unix.EAGAIN:       types.NFS3ErrJukebox,
	unix.ENOMEM:       types.NFS3ErrJukebox,
	unix.ETXTBSY:      types.NFS3ErrIO,
	unix.EOPNOTSUPP:   types.NFS3ErrNotSupp,
	unix.ENFILE:       types.NFS3ErrServerFault,
}

// StatusFromError maps an error from the handle codec, the export caches or
// the filesystem to an NFS status code.
//
// Per RFC 1813 Section 2.6 (nfsstat3), every failure must be reported with
// one of the fixed status codes. Errors without a mapping become
// NFS3ERR_IO and are logged so they are never lost silently.
//
// Parameters:
//   - err: Error to map (nil = success)
//
// Returns:
//   - uint32: NFS status code (NFS3OK on success, error code on failure)
func StatusFromError(err error) uint32 {
	if err == nil {
		return types.NFS3OK
	}

	switch {
	case errors.Is(err, fh.ErrBadHandle):
		return types.NFS3ErrBadHandle
	case errors.Is(err, fh.ErrStale), errors.Is(err, cache.ErrNotFound):
		return types.NFS3ErrStale
	case errors.Is(err, fh.ErrNotSupported):
		return types.NFS3ErrNotSupp
	case errors.Is(err, cache.ErrRetry), errors.Is(err, context.DeadlineExceeded):
		return types.NFS3ErrJukebox
	case errors.Is(err, ErrTooSmall):
		return types.NFS3ErrTooSmall
	case errors.Is(err, ErrBadCookie):
		return types.NFS3ErrBadCookie
	case errors.Is(err, ErrNotSync):
		return types.NFS3ErrNotSync
	case errors.Is(err, cache.ErrClosed):
		return types.NFS3ErrServerFault
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		if status, ok := errnoTable[errno]; ok {
			return status
		}
	}

	logger.Warn("nfsd: non-standard errno: %v", err)
	return types.NFS3ErrIO
}
