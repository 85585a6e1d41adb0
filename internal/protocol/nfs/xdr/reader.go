package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ErrDecode reports call arguments that do not follow the wire layout. A
// call that fails to decode is never executed.
var ErrDecode = errors.New("xdr: malformed arguments")

// ============================================================================
// Argument Decoding - Wire Format → Go Values
// ============================================================================

// Reader decodes call arguments from the received bytes. Slices it returns
// alias the buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Offset returns the position of the next unread byte.
func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, fmt.Errorf("%w: %d bytes at offset %d, %d left", ErrDecode, n, r.off, r.Len())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint32 reads one XDR word.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 reads a hyper: two words, high word first.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bool reads an XDR boolean. Values other than 0 and 1 are rejected.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint32()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: boolean %d", ErrDecode, v)
	}
}

// Fixed reads n bytes of fixed-length opaque data and skips the padding.
func (r *Reader) Fixed(n int) ([]byte, error) {
	b, err := r.take(quadLen(n) * 4)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

// Opaque reads variable-length opaque data of at most max bytes.
//
// Per RFC 4506 Section 4.10 (Variable-Length Opaque Data):
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
//
// Parameters:
//   - max: Largest length accepted; longer declared lengths fail decode
//
// Returns:
//   - []byte: The data, aliasing the request buffer
//   - error: ErrDecode on an oversized or truncated field
func (r *Reader) Opaque(max int) ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if n > uint32(max) {
		return nil, fmt.Errorf("%w: opaque length %d exceeds %d", ErrDecode, n, max)
	}
	return r.Fixed(int(n))
}

// Handle reads an nfs_fh3. Handles longer than FHSize are rejected.
func (r *Reader) Handle() (fh.Handle, error) {
	b, err := r.Opaque(types.FHSize)
	if err != nil {
		return nil, fmt.Errorf("file handle: %w", err)
	}
	return fh.Handle(b), nil
}

// Name reads a filename3 used to look an entry up. "." and ".." are allowed;
// empty names and names holding a slash or a NUL are not.
func (r *Reader) Name() (string, error) {
	b, err := r.Opaque(types.MaxPathLen)
	if err != nil {
		return "", fmt.Errorf("filename: %w", err)
	}
	name := string(b)
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return "", fmt.Errorf("%w: filename %q", ErrDecode, name)
	}
	return name, nil
}

// Target reads a filename3 naming an entry to create or remove. On top of
// the rules of Name, "." and ".." are rejected.
func (r *Reader) Target() (string, error) {
	name, err := r.Name()
	if err != nil {
		return "", err
	}
	if name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q cannot be created or removed", ErrDecode, name)
	}
	return name, nil
}

// Payload returns the n data bytes of a WRITE, aliasing the request buffer.
// The buffered bytes, rounded up to a word, must cover the declared count.
func (r *Reader) Payload(n uint32) ([]byte, error) {
	if need := quadLen(int(n)) * 4; r.Len() < need {
		return nil, fmt.Errorf("%w: write payload of %d bytes but only %d buffered", ErrDecode, n, r.Len())
	}
	return r.Fixed(int(n))
}

// Time reads an nfstime3.
func (r *Reader) Time() (types.TimeVal, error) {
	sec, err := r.Uint32()
	if err != nil {
		return types.TimeVal{}, err
	}
	nsec, err := r.Uint32()
	if err != nil {
		return types.TimeVal{}, err
	}
	return types.TimeVal{Seconds: sec, Nseconds: nsec}, nil
}

// SetAttr reads a sattr3. Times set to server time take now.
//
// Per RFC 1813 Section 2.5.6 (sattr3), each field is a union on a boolean,
// except the times which switch on time_how:
//   - DONT_CHANGE (0): leave the time alone
//   - SET_TO_SERVER_TIME (1): use the server's clock, no value follows
//   - SET_TO_CLIENT_TIME (2): an nfstime3 follows
//
// A uid or gid of 0xffffffff is not a valid identity and is ignored, and
// sizes are capped at the largest file offset.
func (r *Reader) SetAttr(now time.Time) (vfs.SetAttr, error) {
	var s vfs.SetAttr

	if set, err := r.Bool(); err != nil {
		return s, fmt.Errorf("set_mode: %w", err)
	} else if set {
		mode, err := r.Uint32()
		if err != nil {
			return s, fmt.Errorf("mode: %w", err)
		}
		s.Mode = &mode
	}

	for _, id := range []struct {
		name string
		dst  **uint32
	}{{"uid", &s.UID}, {"gid", &s.GID}} {
		set, err := r.Bool()
		if err != nil {
			return s, fmt.Errorf("set_%s: %w", id.name, err)
		}
		if !set {
			continue
		}
		v, err := r.Uint32()
		if err != nil {
			return s, fmt.Errorf("%s: %w", id.name, err)
		}
		if v != ^uint32(0) {
			*id.dst = &v
		}
	}

	if set, err := r.Bool(); err != nil {
		return s, fmt.Errorf("set_size: %w", err)
	} else if set {
		size, err := r.Uint64()
		if err != nil {
			return s, fmt.Errorf("size: %w", err)
		}
		size = min(size, types.OffsetMax)
		s.Size = &size
	}

	var err error
	if s.Atime, err = r.setTime(now); err != nil {
		return s, fmt.Errorf("atime: %w", err)
	}
	if s.Mtime, err = r.setTime(now); err != nil {
		return s, fmt.Errorf("mtime: %w", err)
	}
	return s, nil
}

func (r *Reader) setTime(now time.Time) (*time.Time, error) {
	how, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	switch how {
	case types.DontChange:
		return nil, nil
	case types.SetToServerTime:
		return &now, nil
	case types.SetToClientTime:
		tv, err := r.Time()
		if err != nil {
			return nil, err
		}
		t := tv.Time()
		return &t, nil
	default:
		return nil, fmt.Errorf("%w: time_how %d", ErrDecode, how)
	}
}
