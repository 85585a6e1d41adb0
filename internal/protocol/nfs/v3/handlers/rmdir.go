package handlers

import (
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// unlinkFunc removes name from dir: vfs.Filesystem.Remove or Rmdir.
type unlinkFunc func(dir vfs.Dentry, name string, cred auth.Cred) error

// RMDIR3args has the same layout as REMOVE3args.
func decodeRmdir(h *Handler, r *xdr.Reader) (*RemoveRequest, error) {
	return decodeRemove(h, r)
}
