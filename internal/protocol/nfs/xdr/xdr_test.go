package xdr

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/cache"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func words(v ...uint32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, w := range v {
		b = binary.BigEndian.AppendUint32(b, w)
	}
	return b
}

func validFileAttr() *types.FileAttr {
	return &types.FileAttr{
		Type:   types.FileTypeRegular,
		Mode:   0644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   1024,
		Used:   4096,
		Fsid:   7,
		Fileid: 12345,
		Mtime:  types.TimeVal{Seconds: 1700000000, Nseconds: 5},
	}
}

type packed struct {
	name    string
	fileid  uint64
	cookie  uint64
	hasAttr bool
	handle  []byte
}

// unpack parses a packed entry stream back into entries.
func unpack(t *testing.T, stream []byte, plus bool) []packed {
	t.Helper()
	r := NewReader(stream)
	var out []packed
	for r.Len() > 0 {
		follows, err := r.Bool()
		require.NoError(t, err)
		require.True(t, follows)

		var e packed
		e.fileid, err = r.Uint64()
		require.NoError(t, err)
		name, err := r.Opaque(1024)
		require.NoError(t, err)
		e.name = string(name)
		e.cookie, err = r.Uint64()
		require.NoError(t, err)

		if plus {
			e.hasAttr, err = r.Bool()
			require.NoError(t, err)
			if e.hasAttr {
				_, err = r.Fixed(WordsAttr * 4)
				require.NoError(t, err)
			}
			hasHandle, err := r.Bool()
			require.NoError(t, err)
			if hasHandle {
				e.handle, err = r.Opaque(types.FHSize)
				require.NoError(t, err)
			}
		}
		out = append(out, e)
	}
	return out
}

// ============================================================================
// Buffer Tests
// ============================================================================

func TestBuffer(t *testing.T) {
	t.Run("EncodesWords", func(t *testing.T) {
		b := NewBuffer(64)
		require.NoError(t, b.Uint32(1))
		require.NoError(t, b.Uint64(0x0000000200000003))
		require.NoError(t, b.Bool(true))
		assert.Equal(t, words(1, 2, 3, 1), b.Bytes())
	})

	t.Run("OpaqueIsPadded", func(t *testing.T) {
		b := NewBuffer(64)
		require.NoError(t, b.Opaque([]byte{0x01, 0x02, 0x03}))
		assert.Equal(t, []byte{0, 0, 0, 3, 1, 2, 3, 0}, b.Bytes())
	})

	t.Run("RejectsOverflow", func(t *testing.T) {
		b := NewBuffer(8)
		require.NoError(t, b.Uint32(1))
		assert.ErrorIs(t, b.Uint64(2), ErrTooSmall)
		assert.Equal(t, 4, b.Len(), "a failed write must not be partially applied")
	})

	t.Run("MarshalReportsTooSmall", func(t *testing.T) {
		b := NewBuffer(40)
		assert.ErrorIs(t, b.FileAttr(validFileAttr()), ErrTooSmall)
	})

	t.Run("PostOpAttr", func(t *testing.T) {
		b := NewBuffer(256)
		require.NoError(t, b.PostOpAttr(nil))
		assert.Equal(t, words(0), b.Bytes())

		b = NewBuffer(256)
		require.NoError(t, b.PostOpAttr(validFileAttr()))
		require.Equal(t, WordsPostOp*4, b.Len())
		assert.Equal(t, words(1, types.FileTypeRegular, 0644), b.Bytes()[:12])
		assert.Equal(t, uint64(12345), binary.BigEndian.Uint64(b.Bytes()[4+52:]), "fileid")
	})

	t.Run("WccData", func(t *testing.T) {
		b := NewBuffer(256)
		before := types.WccAttr{Size: 10}
		require.NoError(t, b.WccData(&before, validFileAttr()))
		assert.Equal(t, WordsWcc*4, b.Len())
	})

	t.Run("PostOpHandle", func(t *testing.T) {
		b := NewBuffer(64)
		require.NoError(t, b.PostOpHandle(nil))
		require.NoError(t, b.PostOpHandle([]byte{9, 9, 9, 9}))
		assert.Equal(t, append(words(0, 1, 4), 9, 9, 9, 9), b.Bytes())
	})
}

// ============================================================================
// Reader Tests
// ============================================================================

func TestReader(t *testing.T) {
	t.Run("DecodesHyperHighWordFirst", func(t *testing.T) {
		r := NewReader(words(0x1, 0x2))
		v, err := r.Uint64()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0000000100000002), v)
	})

	t.Run("RejectsTruncated", func(t *testing.T) {
		_, err := NewReader([]byte{0, 0, 1}).Uint32()
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("RejectsBadBool", func(t *testing.T) {
		_, err := NewReader(words(2)).Bool()
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("HandleSkipsPadding", func(t *testing.T) {
		r := NewReader(append(append(words(5), 1, 2, 3, 4, 5, 0, 0, 0), words(42)...))
		h, err := r.Handle()
		require.NoError(t, err)
		assert.Equal(t, fh.Handle{1, 2, 3, 4, 5}, h)
		v, err := r.Uint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(42), v)
	})

	t.Run("RejectsOversizedHandle", func(t *testing.T) {
		buf := append(words(types.FHSize+4), make([]byte, types.FHSize+4)...)
		_, err := NewReader(buf).Handle()
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("RejectsHandleLongerThanBuffer", func(t *testing.T) {
		_, err := NewReader(append(words(32), make([]byte, 8)...)).Handle()
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func nameBytes(s string) []byte {
	b := words(uint32(len(s)))
	b = append(b, s...)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func TestReaderNames(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		lookupOK   bool
		creatingOK bool
	}{
		{"Plain", "file.txt", true, true},
		{"Dot", ".", true, false},
		{"DotDot", "..", true, false},
		{"Empty", "", false, false},
		{"Slash", "a/b", false, false},
		{"Nul", "a\x00b", false, false},
		{"Long", strings.Repeat("x", 300), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(nameBytes(tt.in)).Name()
			if tt.lookupOK {
				require.NoError(t, err)
				assert.Equal(t, tt.in, got)
			} else {
				assert.ErrorIs(t, err, ErrDecode)
			}

			_, err = NewReader(nameBytes(tt.in)).Target()
			if tt.creatingOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrDecode)
			}
		})
	}

	t.Run("TooLong", func(t *testing.T) {
		_, err := NewReader(nameBytes(strings.Repeat("x", types.MaxPathLen+1))).Name()
		assert.ErrorIs(t, err, ErrDecode)
	})
}

func TestReaderPayload(t *testing.T) {
	t.Run("AliasesBuffer", func(t *testing.T) {
		buf := []byte{1, 2, 3, 4, 5, 0, 0, 0}
		data, err := NewReader(buf).Payload(5)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)
		buf[0] = 9
		assert.Equal(t, byte(9), data[0])
	})

	t.Run("RejectsShortBuffer", func(t *testing.T) {
		_, err := NewReader([]byte{1, 2, 3, 4, 5}).Payload(5)
		assert.ErrorIs(t, err, ErrDecode, "5 bytes need 8 buffered")
	})
}

func TestReaderSetAttr(t *testing.T) {
	now := time.Unix(1800000000, 0)

	t.Run("NothingSet", func(t *testing.T) {
		s, err := NewReader(words(0, 0, 0, 0, 0, 0)).SetAttr(now)
		require.NoError(t, err)
		assert.Nil(t, s.Mode)
		assert.Nil(t, s.UID)
		assert.Nil(t, s.Size)
		assert.Nil(t, s.Atime)
		assert.Nil(t, s.Mtime)
	})

	t.Run("AllSet", func(t *testing.T) {
		in := words(1, 0755, 1, 1000, 1, 100, 1, 0, 4096, 1, 2, 1700000000, 7)
		s, err := NewReader(in).SetAttr(now)
		require.NoError(t, err)
		require.NotNil(t, s.Mode)
		assert.Equal(t, uint32(0755), *s.Mode)
		assert.Equal(t, uint32(1000), *s.UID)
		assert.Equal(t, uint32(100), *s.GID)
		assert.Equal(t, uint64(4096), *s.Size)
		require.NotNil(t, s.Atime)
		assert.Equal(t, now, *s.Atime, "time_how 1 is server time")
		require.NotNil(t, s.Mtime)
		assert.Equal(t, time.Unix(1700000000, 7), *s.Mtime, "time_how 2 carries the client time")
	})

	t.Run("IgnoresInvalidIdentity", func(t *testing.T) {
		s, err := NewReader(words(0, 1, 0xffffffff, 0, 0, 0, 0)).SetAttr(now)
		require.NoError(t, err)
		assert.Nil(t, s.UID)
	})

	t.Run("CapsSize", func(t *testing.T) {
		s, err := NewReader(words(0, 0, 0, 1, 0xffffffff, 0xffffffff, 0, 0)).SetAttr(now)
		require.NoError(t, err)
		assert.Equal(t, types.OffsetMax, *s.Size)
	})

	t.Run("RejectsBadTimeHow", func(t *testing.T) {
		_, err := NewReader(words(0, 0, 0, 0, 3, 0)).SetAttr(now)
		assert.ErrorIs(t, err, ErrDecode)
	})
}

// ============================================================================
// Error Mapping Tests
// ============================================================================

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want uint32
	}{
		{"Nil", nil, types.NFS3OK},
		{"NoEnt", unix.ENOENT, types.NFS3ErrNoEnt},
		{"WrappedErrno", fmt.Errorf("lookup x: %w", unix.EACCES), types.NFS3ErrAcces},
		{"TooBig", unix.E2BIG, types.NFS3ErrFBig},
		{"NotEmpty", unix.ENOTEMPTY, types.NFS3ErrNotEmpty},
		{"Again", unix.EAGAIN, types.NFS3ErrJukebox},
		{"NoMem", unix.ENOMEM, types.NFS3ErrJukebox},
		{"TimedOut", unix.ETIMEDOUT, types.NFS3ErrJukebox},
		{"TextBusy", unix.ETXTBSY, types.NFS3ErrIO},
		{"NotSupported", unix.EOPNOTSUPP, types.NFS3ErrNotSupp},
		{"FileTable", unix.ENFILE, types.NFS3ErrServerFault},
		{"BadHandle", fh.ErrBadHandle, types.NFS3ErrBadHandle},
		{"Stale", fmt.Errorf("x: %w", fh.ErrStale), types.NFS3ErrStale},
		{"CacheNegative", cache.ErrNotFound, types.NFS3ErrStale},
		{"CachePending", cache.ErrRetry, types.NFS3ErrJukebox},
		{"Unsupported", fh.ErrNotSupported, types.NFS3ErrNotSupp},
		{"TooSmall", ErrTooSmall, types.NFS3ErrTooSmall},
		{"BadCookie", ErrBadCookie, types.NFS3ErrBadCookie},
		{"NotSync", ErrNotSync, types.NFS3ErrNotSync},
		{"Unmapped", unix.ELOOP, types.NFS3ErrIO},
		{"Opaque", fmt.Errorf("boom"), types.NFS3ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromError(tt.err))
		})
	}
}

// ============================================================================
// DirPacker Tests
// ============================================================================

func TestDirPacker(t *testing.T) {
	t.Run("BackpatchesCookies", func(t *testing.T) {
		p := NewDirPacker(AllocPages(PageSize), 1000, false)
		for i, name := range []string{".", "..", "a"} {
			require.NoError(t, p.Add(DirEntry{Name: name, Fileid: uint64(10 + i), Offset: uint64(i)}))
		}
		p.Finish(3)

		got := unpack(t, p.Bytes(), false)
		require.Len(t, got, 3)
		for i, e := range got {
			assert.Equal(t, uint64(i+1), e.cookie, "entry %d", i)
			assert.Equal(t, uint64(10+i), e.fileid)
		}
		assert.Equal(t, "..", got[1].name)
	})

	t.Run("OpenCookieIsPlaceholder", func(t *testing.T) {
		p := NewDirPacker(AllocPages(PageSize), 1000, false)
		require.NoError(t, p.Add(DirEntry{Name: "a", Fileid: 1}))
		got := unpack(t, p.Bytes(), false)
		assert.Equal(t, types.OffsetMax, got[0].cookie)
	})

	t.Run("TruncatesLongNames", func(t *testing.T) {
		p := NewDirPacker(AllocPages(PageSize), 1000, false)
		require.NoError(t, p.Add(DirEntry{Name: strings.Repeat("n", 300), Fileid: 1}))
		got := unpack(t, p.Bytes(), false)
		assert.Len(t, got[0].name, types.MaxNameLen)
	})

	t.Run("BudgetExhausted", func(t *testing.T) {
		p := NewDirPacker(AllocPages(PageSize), entryWords+1, false)
		require.NoError(t, p.Add(DirEntry{Name: "abcd", Offset: 0}))
		assert.ErrorIs(t, p.Add(DirEntry{Name: "efgh", Offset: 1}), ErrTooSmall)
		p.Finish(1)

		got := unpack(t, p.Bytes(), false)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(1), got[0].cookie)
	})

	t.Run("NoNextPage", func(t *testing.T) {
		p := NewDirPacker(AllocPages(PageSize), PageSize, false)
		var err error
		n := 0
		for err == nil {
			err = p.Add(DirEntry{Name: fmt.Sprintf("entry-%04d", n), Fileid: uint64(n), Offset: uint64(n)})
			n++
		}
		assert.ErrorIs(t, err, ErrTooSmall)
		assert.LessOrEqual(t, p.Len(), PageSize)
		assert.Equal(t, n-1, p.Count())
	})

	t.Run("SplitsAcrossPages", func(t *testing.T) {
		const total = 400
		pages := AllocPages(4 * PageSize)
		p := NewDirPacker(pages, 4*PageSize/4, false)
		for i := 0; i < total; i++ {
			// Names of varying length move the page boundary through every
			// position inside an entry, including the cookie.
			name := fmt.Sprintf("f%d-%s", i, strings.Repeat("z", i%7))
			require.NoError(t, p.Add(DirEntry{Name: name, Fileid: uint64(1000 + i), Offset: uint64(i)}))
		}
		p.Finish(total)
		require.Greater(t, p.Len(), 2*PageSize)

		got := unpack(t, p.Bytes(), false)
		require.Len(t, got, total)
		for i, e := range got {
			assert.Equal(t, fmt.Sprintf("f%d-%s", i, strings.Repeat("z", i%7)), e.name)
			assert.Equal(t, uint64(1000+i), e.fileid)
			assert.Equal(t, uint64(i+1), e.cookie, "entry %d", i)
		}
	})

	t.Run("PlusEntries", func(t *testing.T) {
		pages := AllocPages(2 * PageSize)
		p := NewDirPacker(pages, 2*PageSize/4, true)
		handle := []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 7, 0, 0, 0, 0}
		n := 0
		for ; ; n++ {
			e := DirEntry{Name: fmt.Sprintf("p%d", n), Fileid: uint64(n), Offset: uint64(n)}
			if n%3 != 0 {
				e.Attr = validFileAttr()
				e.Handle = handle
			}
			if err := p.Add(e); err != nil {
				require.ErrorIs(t, err, ErrTooSmall)
				break
			}
		}
		p.Finish(uint64(n))

		got := unpack(t, p.Bytes(), true)
		require.Len(t, got, n)
		require.Greater(t, p.Len(), PageSize, "entries must have crossed into the second page")
		for i, e := range got {
			assert.Equal(t, uint64(i+1), e.cookie)
			if i%3 == 0 {
				assert.False(t, e.hasAttr)
				assert.Nil(t, e.handle)
			} else {
				assert.True(t, e.hasAttr)
				assert.Equal(t, handle, e.handle)
			}
		}
	})
}
