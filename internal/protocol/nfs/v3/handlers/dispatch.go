package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

var (
	// ErrProcUnavail reports a procedure this server does not implement.
	ErrProcUnavail = errors.New("procedure unavailable")

	// ErrGarbageArgs reports arguments that failed to decode. The call was
	// not executed.
	ErrGarbageArgs = errors.New("garbage arguments")

	// ErrSystem reports a reply that could not be encoded after the call
	// executed.
	ErrSystem = errors.New("system error")
)

// ============================================================================
// Procedure Descriptors
// ============================================================================

// Procedure describes one v3 procedure: how to decode its arguments, how to
// execute them and how large its reply can get.
type Procedure struct {
	Proc types.Procedure

	// ReplySize is the largest reply in XDR words. 0 means the reply is
	// bounded by the count the client sent.
	ReplySize int

	// Payload marks procedures whose reply also carries up to MaxPayload
	// data bytes.
	Payload bool

	decode  func(h *Handler, r *xdr.Reader) (Args, error)
	execute func(h *Handler, ctx *NFSHandlerContext, a Args) Result
}

func procedure[A Args, R Result](
	proc types.Procedure,
	replySize int,
	decode func(*Handler, *xdr.Reader) (A, error),
	execute func(*Handler, *NFSHandlerContext, A) R,
) *Procedure {
	return &Procedure{
		Proc:      proc,
		ReplySize: replySize,
		decode: func(h *Handler, r *xdr.Reader) (Args, error) {
			a, err := decode(h, r)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		execute: func(h *Handler, ctx *NFSHandlerContext, a Args) Result {
			return execute(h, ctx, a.(A))
		},
	}
}

// Reply sizes, in words.
const (
	st  = xdr.WordsStatus
	fhw = xdr.WordsFH
	at  = xdr.WordsAttr
	pat = xdr.WordsPostOp
	wc  = xdr.WordsWcc
)

var (
	procNull        = procedure(types.ProcNull, st, decodeNull, (*Handler).Null)
	procGetAttr     = procedure(types.ProcGetAttr, st+at, decodeGetAttr, (*Handler).GetAttr)
	procSetAttr     = procedure(types.ProcSetAttr, st+wc, decodeSetAttr, (*Handler).SetAttr)
	procLookup      = procedure(types.ProcLookup, st+fhw+pat+pat, decodeLookup, (*Handler).Lookup)
	procAccess      = procedure(types.ProcAccess, st+pat+1, decodeAccess, (*Handler).Access)
	procRead        = withPayload(procedure(types.ProcRead, st+pat+4, decodeRead, (*Handler).Read))
	procWrite       = procedure(types.ProcWrite, st+wc+2+xdr.WordsWriteVerf, decodeWrite, (*Handler).Write)
	procCreate      = procedure(types.ProcCreate, st+(1+fhw+pat)+wc, decodeCreate, (*Handler).Create)
	procMkdir       = procedure(types.ProcMkdir, st+(1+fhw+pat)+wc, decodeMkdir, (*Handler).Mkdir)
	procRemove      = procedure(types.ProcRemove, st+wc, decodeRemove, (*Handler).Remove)
	procRmdir       = procedure(types.ProcRmdir, st+wc, decodeRmdir, (*Handler).Rmdir)
	procReadDir     = procedure(types.ProcReadDir, 0, decodeReadDir, (*Handler).ReadDir)
	procReadDirPlus = procedure(types.ProcReadDirPlus, 0, decodeReadDirPlus, (*Handler).ReadDirPlus)
	procFsStat      = procedure(types.ProcFsStat, st+pat+2*6+1, decodeFsStat, (*Handler).FsStat)
	procFsInfo      = procedure(types.ProcFsInfo, st+pat+12, decodeFsInfo, (*Handler).FsInfo)
)

func withPayload(p *Procedure) *Procedure {
	p.Payload = true
	return p
}

// LookupProcedure returns the descriptor of proc. Procedures outside the
// supported set report false.
func LookupProcedure(proc types.Procedure) (*Procedure, bool) {
	switch proc {
	case types.ProcNull:
		return procNull, true
	case types.ProcGetAttr:
		return procGetAttr, true
	case types.ProcSetAttr:
		return procSetAttr, true
	case types.ProcLookup:
		return procLookup, true
	case types.ProcAccess:
		return procAccess, true
	case types.ProcRead:
		return procRead, true
	case types.ProcWrite:
		return procWrite, true
	case types.ProcCreate:
		return procCreate, true
	case types.ProcMkdir:
		return procMkdir, true
	case types.ProcRemove:
		return procRemove, true
	case types.ProcRmdir:
		return procRmdir, true
	case types.ProcReadDir:
		return procReadDir, true
	case types.ProcReadDirPlus:
		return procReadDirPlus, true
	case types.ProcFsStat:
		return procFsStat, true
	case types.ProcFsInfo:
		return procFsInfo, true
	case types.ProcReadLink, types.ProcSymlink, types.ProcMknod, types.ProcRename,
		types.ProcLink, types.ProcPathConf, types.ProcCommit:
		return nil, false
	default:
		return nil, false
	}
}

// replyLimit is the encode budget of one reply in bytes.
func (h *Handler) replyLimit(p *Procedure) int {
	if p.ReplySize == 0 {
		return int(h.maxPayload) + xdr.PageSize
	}
	n := p.ReplySize * 4
	if p.Payload {
		n += int(h.maxPayload)
	}
	return n
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch decodes, executes and encodes one call and returns the reply
// body that follows the accepted RPC reply header.
//
// Arguments that fail to decode yield ErrGarbageArgs without executing
// anything. Unimplemented procedures yield ErrProcUnavail. Every reference
// taken by the call is released before Dispatch returns.
func (h *Handler) Dispatch(ctx *NFSHandlerContext, proc uint32, args []byte) ([]byte, error) {
	p, ok := LookupProcedure(types.Procedure(proc))
	if !ok {
		logger.Debug("NFS xid=%#x: procedure %s unavailable", ctx.XID, types.Procedure(proc))
		return nil, fmt.Errorf("%w: %s", ErrProcUnavail, types.Procedure(proc))
	}

	name := p.Proc.String()
	start := time.Now()
	h.metrics.RecordRequestStart(name)
	defer h.metrics.RecordRequestEnd(name)

	a, err := p.decode(h, xdr.NewReader(args))
	if err != nil {
		h.metrics.RecordDecodeFailure(name)
		logger.Warn("%s xid=%#x: decode: %v", name, ctx.XID, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrGarbageArgs, name, err)
	}
	defer a.Release()

	res := p.execute(h, ctx, a)
	defer res.Release()
	ctx.Request.RevertUser()

	status := types.StatusString(res.GetStatus())
	buf := xdr.NewBuffer(h.replyLimit(p))
	if err := res.Encode(buf); err != nil {
		logger.Error("%s xid=%#x: encode reply (%s): %v", name, ctx.XID, status, err)
		return nil, fmt.Errorf("%w: encode %s: %v", ErrSystem, name, err)
	}

	h.metrics.RecordRequest(name, status, time.Since(start))
	logger.Debug("%s xid=%#x: %s, %d bytes", name, ctx.XID, status, buf.Len())
	return buf.Bytes(), nil
}
