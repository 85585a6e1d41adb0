package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	mount "github.com/marmos91/nfsd/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
	"github.com/marmos91/nfsd/internal/ratelimiter"
	"github.com/marmos91/nfsd/pkg/auth"
)

// Version is the NFS program version served.
const Version = 3

// DefaultAnonID is the uid and gid AUTH_NULL callers run as.
const DefaultAnonID = 65534

// ============================================================================
// Authentication Context Creation
// ============================================================================

// AuthContext is the caller identity extracted from an RPC call.
type AuthContext struct {
	Context context.Context

	// ClientAddr is the transport address, for logging only.
	ClientAddr string

	AuthFlavor uint32

	// Machine is the AUTH_UNIX machine name, empty for AUTH_NULL.
	Machine string

	Cred auth.Cred
}

// extractAuthContext decodes the caller's credential. A non-zero auth_stat
// means the call must be denied.
func (s *Server) extractAuthContext(ctx context.Context, call *rpc.RPCCallMessage, clientAddr string) (*AuthContext, uint32) {
	authCtx := &AuthContext{
		Context:    ctx,
		ClientAddr: clientAddr,
		AuthFlavor: call.GetAuthFlavor(),
	}

	switch authCtx.AuthFlavor {
	case rpc.AuthNull:
		authCtx.Cred = auth.Cred{UID: s.cfg.AnonUID, GID: s.cfg.AnonGID}
		return authCtx, rpc.AuthOK

	case rpc.AuthUnix:
		ua, err := rpc.ParseUnixAuth(call.GetAuthBody())
		if err != nil {
			logger.Warn("xid=0x%x client=%s: %v", call.XID, clientAddr, err)
			return nil, rpc.AuthBadCred
		}
		logger.Debug("xid=0x%x client=%s: %s", call.XID, clientAddr, ua)
		authCtx.Machine = ua.MachineName
		authCtx.Cred = ua.Cred()
		return authCtx, rpc.AuthOK

	default:
		logger.Debug("xid=0x%x client=%s: auth flavor %d not supported", call.XID, clientAddr, authCtx.AuthFlavor)
		return nil, rpc.AuthTooWeak
	}
}

// ============================================================================
// Server
// ============================================================================

// Config tunes caller mapping.
type Config struct {
	// DefaultDomain serves callers whose machine name is not a registered
	// domain. Empty denies them.
	DefaultDomain string

	// AnonUID and AnonGID are the AUTH_NULL credential.
	AnonUID uint32
	AnonGID uint32

	// Limiter throttles calls per auth domain. Nil does not limit.
	Limiter *ratelimiter.Keyed

	// Mount serves the MOUNT program alongside NFS. Nil answers MOUNT
	// calls with PROG_UNAVAIL.
	Mount *mount.Handler
}

// Server answers NFSv3 RPC calls, and MOUNT v3 calls when configured.
type Server struct {
	handler *handlers.Handler
	domains *auth.Table
	cfg     Config
}

// NewServer creates a server dispatching to h. Zero anonymous ids default
// to DefaultAnonID.
func NewServer(h *handlers.Handler, cfg Config) *Server {
	if cfg.AnonUID == 0 {
		cfg.AnonUID = DefaultAnonID
	}
	if cfg.AnonGID == 0 {
		cfg.AnonGID = DefaultAnonID
	}
	return &Server{handler: h, domains: h.Net.Domains, cfg: cfg}
}

// HandleCall processes one unframed RPC call message and returns the
// unframed reply.
//
// Every call that parses gets a reply, denied or accepted with the matching
// accept_stat. An error is returned only when the header cannot be parsed,
// so there is no XID to answer, or when ctx ends first.
func (s *Server) HandleCall(ctx context.Context, clientAddr string, msg []byte) ([]byte, error) {
	call, err := rpc.ReadCall(msg)
	if err != nil {
		return nil, fmt.Errorf("read call from %s: %w", clientAddr, err)
	}

	logger.Debug("RPC Call Details: XID=0x%x Program=%d Version=%d Procedure=%d",
		call.XID, call.Program, call.Version, call.Procedure)

	switch {
	case call.RPCVersion != rpc.RPCVersion:
		return rpc.MakeRPCMismatchReply(call.XID)
	case call.Program == rpc.ProgramNFS && call.Version != Version:
		return rpc.MakeProgMismatchReply(call.XID, Version, Version)
	case call.Program == rpc.ProgramMount && s.cfg.Mount != nil && call.Version != mount.Version:
		return rpc.MakeProgMismatchReply(call.XID, mount.Version, mount.Version)
	case call.Program != rpc.ProgramNFS && (call.Program != rpc.ProgramMount || s.cfg.Mount == nil):
		logger.Debug("Unknown program: %d", call.Program)
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}

	args, err := rpc.ReadData(msg, call)
	if err != nil {
		logger.Debug("xid=0x%x: %v", call.XID, err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}

	authCtx, stat := s.extractAuthContext(ctx, call, clientAddr)
	if stat != rpc.AuthOK {
		return rpc.MakeAuthErrorReply(call.XID, stat)
	}

	client, err := s.clientDomain(authCtx)
	if err != nil {
		logger.Warn("xid=0x%x client=%s: %v", call.XID, clientAddr, err)
		return rpc.MakeAuthErrorReply(call.XID, rpc.AuthTooWeak)
	}
	defer client.Put()

	if err := s.cfg.Limiter.Wait(ctx, client.Name()); err != nil {
		logger.Debug("RPC call throttled: XID=0x%x client=%s domain=%s error=%v",
			call.XID, clientAddr, client.Name(), err)
		return nil, fmt.Errorf("rate limit %s: %w", client.Name(), err)
	}

	select {
	case <-ctx.Done():
		logger.Debug("RPC call cancelled before dispatch: XID=0x%x client=%s error=%v",
			call.XID, clientAddr, ctx.Err())
		return nil, ctx.Err()
	default:
	}

	var body []byte
	if call.Program == rpc.ProgramMount {
		mctx := &mount.MountContext{
			Context:    ctx,
			ClientAddr: clientAddr,
			Host:       mountHost(authCtx),
			Client:     client,
		}
		body, err = s.cfg.Mount.Dispatch(mctx, call.Procedure, args)
	} else {
		hctx := &handlers.NFSHandlerContext{
			Context: ctx,
			XID:     call.XID,
			Request: fh.NewRequest(s.handler.Net, client, authCtx.Cred),
		}
		body, err = s.handler.Dispatch(hctx, call.Procedure, args)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return rpc.MakeErrorReply(call.XID, acceptStat(err))
	}
	return rpc.MakeSuccessReply(call.XID, body)
}

// clientDomain maps the caller to an auth domain, with a reference the
// caller must Put.
func (s *Server) clientDomain(a *AuthContext) (*auth.Domain, error) {
	if a.Machine != "" {
		if d, err := s.domains.Find(a.Machine); err == nil {
			return d, nil
		}
	}
	if s.cfg.DefaultDomain == "" {
		return nil, fmt.Errorf("no domain for %q: %w", a.Machine, auth.ErrUnknownDomain)
	}
	return s.domains.Find(s.cfg.DefaultDomain)
}

// mountHost names the caller in the MOUNT list.
func mountHost(a *AuthContext) string {
	if a.Machine != "" {
		return a.Machine
	}
	host, _, err := net.SplitHostPort(a.ClientAddr)
	if err != nil {
		return a.ClientAddr
	}
	return host
}

// acceptStat maps a dispatch failure to its accept_stat.
func acceptStat(err error) uint32 {
	switch {
	case errors.Is(err, handlers.ErrProcUnavail):
		return rpc.RPCProcUnavail
	case errors.Is(err, handlers.ErrGarbageArgs):
		return rpc.RPCGarbageArgs
	default:
		return rpc.RPCSystemErr
	}
}
