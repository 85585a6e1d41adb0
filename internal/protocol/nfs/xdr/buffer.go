// Package xdr encodes and decodes NFSv3 call arguments and replies.
//
// Requests are decoded with a Reader over the received bytes; bulk payloads
// alias that buffer rather than being copied. Replies are encoded into a
// Buffer of fixed capacity, and directory listings into fixed pages by a
// DirPacker. Every encode call fails with ErrTooSmall once the capacity is
// exhausted; nothing ever grows past the limit it was created with.
package xdr

import (
	"encoding/binary"
	"errors"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// PageSize is the granularity of reply pages.
const PageSize = 4096

// ErrTooSmall reports that an encode call ran out of result space.
var ErrTooSmall = errors.New("xdr: result buffer too small")

// ============================================================================
// Reply Buffer
// ============================================================================

// Buffer accumulates an encoded reply up to a fixed capacity. It implements
// io.Writer so fixed-layout records can be marshalled straight into it.
type Buffer struct {
	data  []byte
	limit int
	full  bool
}

// NewBuffer returns an empty buffer that accepts at most limit bytes.
func NewBuffer(limit int) *Buffer {
	return &Buffer{data: make([]byte, 0, min(limit, PageSize)), limit: limit}
}

// wrap returns a buffer writing into dst in place. It never reallocates.
func wrap(dst []byte) *Buffer {
	return &Buffer{data: dst[:0], limit: len(dst)}
}

// Write appends p, or fails with ErrTooSmall if p does not fit whole.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(b.data)+len(p) > b.limit {
		b.full = true
		return 0, ErrTooSmall
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Avail returns the number of bytes that still fit.
func (b *Buffer) Avail() int {
	return b.limit - len(b.data)
}

// Bytes returns the encoded reply. It aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Uint32 writes one XDR word.
func (b *Buffer) Uint32(v uint32) error {
	var w [4]byte
	binary.BigEndian.PutUint32(w[:], v)
	_, err := b.Write(w[:])
	return err
}

// Uint64 writes a hyper: high word first.
func (b *Buffer) Uint64(v uint64) error {
	var w [8]byte
	binary.BigEndian.PutUint64(w[:], v)
	_, err := b.Write(w[:])
	return err
}

// Bool writes 1 for true and 0 for false.
func (b *Buffer) Bool(v bool) error {
	if v {
		return b.Uint32(1)
	}
	return b.Uint32(0)
}

// Fixed writes fixed-length opaque data zero padded to a word boundary.
func (b *Buffer) Fixed(data []byte) error {
	if pad(len(data))+len(data) > b.Avail() {
		b.full = true
		return ErrTooSmall
	}
	b.data = append(b.data, data...)
	for i := 0; i < pad(len(data)); i++ {
		b.data = append(b.data, 0)
	}
	return nil
}

// Opaque writes variable-length opaque data.
//
// Per RFC 4506 Section 4.10:
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
func (b *Buffer) Opaque(data []byte) error {
	if 4+len(data)+pad(len(data)) > b.Avail() {
		b.full = true
		return ErrTooSmall
	}
	if err := b.Uint32(uint32(len(data))); err != nil {
		return err
	}
	return b.Fixed(data)
}

// Marshal writes a fixed-layout record with go-xdr.
func (b *Buffer) Marshal(v any) error {
	if _, err := xdr.Marshal(b, v); err != nil {
		if b.full {
			return ErrTooSmall
		}
		return err
	}
	return nil
}

// pad returns the number of zero bytes that align n to a word.
func pad(n int) int {
	return (4 - n%4) % 4
}

// quadLen returns the number of words n bytes occupy.
func quadLen(n int) int {
	return (n + 3) >> 2
}
