package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// NullRequest carries no arguments.
type NullRequest struct{}

func (*NullRequest) Release() {}

// NullResponse is empty on the wire.
type NullResponse struct {
	NFSResponseBase
}

func (*NullResponse) Encode(*xdr.Buffer) error { return nil }

func decodeNull(_ *Handler, _ *xdr.Reader) (*NullRequest, error) {
	return &NullRequest{}, nil
}

// Null does nothing. Clients use it to ping the server and to measure round
// trip time (RFC 1813 Section 3.3.0).
func (h *Handler) Null(ctx *NFSHandlerContext, _ *NullRequest) *NullResponse {
	logger.Debug("NULL xid=%#x", ctx.XID)
	return &NullResponse{}
}
