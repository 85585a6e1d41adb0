// Package fh composes and verifies NFSv3 file handles.
//
// A handle is a sequence of XDR words:
//
//	version (1) | auth type (0) | fsid type | fsid (1 or 2 words) | fileid type | fileid ...
//
// The fsid names the export through the key cache; the fileid is the
// filesystem's own encoding of the object, absent for the export root.
package fh

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/vfs"
)

const (
	// Version is the only handle version this server writes or accepts.
	Version = 1

	// MaxSize is the largest handle ever composed.
	MaxSize = types.FHSize

	// MinRootSize is the smallest maximum a root handle may be requested with.
	MinRootSize = 32

	// headerSize covers version, auth type, fsid type and fileid type.
	headerSize = 16
)

var (
	// ErrBadHandle reports a handle that cannot be parsed.
	ErrBadHandle = errors.New("bad file handle")

	// ErrStale reports a handle whose export or object no longer exists.
	ErrStale = errors.New("stale file handle")

	// ErrNotSupported reports an object the filesystem cannot encode in the
	// space left in the handle.
	ErrNotSupported = errors.New("file handle encoding not supported")
)

// Handle is the opaque wire form of a file handle.
type Handle []byte

// String renders h as lowercase hex.
func (h Handle) String() string {
	return hex.EncodeToString(h)
}

// layout is a parsed handle. fsid and fid alias the handle bytes.
type layout struct {
	fsidType   uint8
	fsid       []byte
	fileidType uint8
	fid        []byte
}

// parse checks every declared length against the bytes supplied.
func parse(h Handle) (layout, error) {
	var l layout
	if len(h) == 0 || len(h)%4 != 0 || len(h) > MaxSize {
		return l, fmt.Errorf("%w: size %d", ErrBadHandle, len(h))
	}
	if len(h) < 12 {
		return l, fmt.Errorf("%w: truncated header", ErrBadHandle)
	}
	if v := binary.BigEndian.Uint32(h[0:4]); v != Version {
		return l, fmt.Errorf("%w: version %d", ErrBadHandle, v)
	}
	if a := binary.BigEndian.Uint32(h[4:8]); a != 0 {
		return l, fmt.Errorf("%w: auth type %d", ErrBadHandle, a)
	}
	ft := binary.BigEndian.Uint32(h[8:12])
	n := export.KeyLen(uint8(ft))
	if ft > 0xff || n == 0 {
		return l, fmt.Errorf("%w: fsid type %d", ErrBadHandle, ft)
	}
	if len(h) < headerSize+n {
		return l, fmt.Errorf("%w: size %d too small for fsid type %d", ErrBadHandle, len(h), ft)
	}
	l.fsidType = uint8(ft)
	l.fsid = h[12 : 12+n]

	it := binary.BigEndian.Uint32(h[12+n : 16+n])
	if it > 0xff {
		return l, fmt.Errorf("%w: fileid type %d", ErrBadHandle, it)
	}
	l.fileidType = uint8(it)
	l.fid = h[headerSize+n:]
	return l, nil
}

// build lays out the header for fsidType and fsid, leaving the fileid type
// word as FileIDRoot.
func build(fsidType uint8, fsid []byte) Handle {
	h := make(Handle, headerSize+len(fsid), MaxSize)
	binary.BigEndian.PutUint32(h[0:4], Version)
	binary.BigEndian.PutUint32(h[8:12], uint32(fsidType))
	copy(h[12:], fsid)
	binary.BigEndian.PutUint32(h[12+len(fsid):], uint32(vfs.FileIDRoot))
	return h
}

// setFileID replaces the fileid part of a handle built by build. The fid is
// zero padded to a whole word.
func (h Handle) setFileID(fileidType uint8, fid []byte) Handle {
	n := export.KeyLen(uint8(binary.BigEndian.Uint32(h[8:12])))
	out := make(Handle, headerSize+n, MaxSize)
	copy(out, h[:12+n])
	binary.BigEndian.PutUint32(out[12+n:], uint32(fileidType))
	out = append(out, fid...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// fileidType returns the fileid type word of a handle built by build.
func (h Handle) fileidType() uint8 {
	n := export.KeyLen(uint8(binary.BigEndian.Uint32(h[8:12])))
	return uint8(binary.BigEndian.Uint32(h[12+n:]))
}
