package handlers

import (
	"context"

	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
)

// NFSHandlerContext carries what every procedure needs about its call.
type NFSHandlerContext struct {
	Context context.Context

	// XID is the RPC transaction id, for logging.
	XID uint32

	// Request holds the caller's auth domain and credential. Verifying a
	// handle switches its effective credential to the export's mapping.
	Request *fh.Request
}

func (c *NFSHandlerContext) GetContext() context.Context {
	return c.Context
}

// verify resolves f for this call.
func (c *NFSHandlerContext) verify(f *fh.FH) error {
	return fh.Verify(c.Context, c.Request, f)
}
