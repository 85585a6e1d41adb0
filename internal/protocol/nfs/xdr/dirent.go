package xdr

import (
	"encoding/binary"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
)

// ============================================================================
// Directory Entry Packing - READDIR / READDIRPLUS
// ============================================================================

// Entry sizes in words. A plain entry3 is the value_follows flag, the fileid
// (2), the name length, the name and the cookie (2). An entryplus3 adds a
// post_op_attr and a post_op_fh3 of up to FHSize bytes.
const (
	entryWords     = 1 + 2 + 1 + 2
	entryPlusWords = WordsPostOp + 1 + WordsFH
)

// DirEntry is one entry handed to a DirPacker.
type DirEntry struct {
	Name   string
	Fileid uint64

	// Offset is the directory position of this entry. It becomes the cookie
	// of the entry packed before it.
	Offset uint64

	// Attr and Handle are only packed for READDIRPLUS. A nil Handle packs
	// neither attributes nor handle.
	Attr   *types.FileAttr
	Handle []byte
}

// slot is the byte position of an unpatched cookie. A slot at the very end
// of a page continues at the start of the next one.
type slot struct {
	page int
	off  int
}

// DirPacker packs directory entries into fixed pages so the result is one
// contiguous XDR stream. An entry that does not fit the rest of the current
// page is built at the start of the next page, then moved back or split
// across the boundary.
//
// Each entry's cookie is left as a placeholder and filled in when the next
// entry, or Finish, supplies the position that follows it.
type DirPacker struct {
	pages  [][]byte
	page   int
	off    int
	budget int
	plus   bool

	cookie slot
	open   bool
	count  int
}

// AllocPages returns enough pages for n bytes, and at least one.
func AllocPages(n int) [][]byte {
	pages := make([][]byte, max(1, (n+PageSize-1)/PageSize))
	for i := range pages {
		pages[i] = make([]byte, PageSize)
	}
	return pages
}

// NewDirPacker packs into pages, stopping once words XDR words are used.
// plus selects the READDIRPLUS entry layout.
func NewDirPacker(pages [][]byte, words int, plus bool) *DirPacker {
	return &DirPacker{pages: pages, budget: words, plus: plus}
}

// Count returns the number of entries packed.
func (p *DirPacker) Count() int {
	return p.count
}

// Len returns the number of bytes packed.
func (p *DirPacker) Len() int {
	return p.page*PageSize + p.off
}

// Add packs one entry after patching the previous entry's cookie with
// e.Offset. It returns ErrTooSmall when the entry fits neither the budget
// nor the pages left; the entry is then not part of the stream, but the
// previous cookie already holds e.Offset.
func (p *DirPacker) Add(e DirEntry) error {
	if p.open {
		p.patch(e.Offset)
		p.open = false
	}

	if len(e.Name) > types.MaxNameLen {
		e.Name = e.Name[:types.MaxNameLen]
	}
	elen := entryWords + quadLen(len(e.Name))
	if p.plus {
		elen += entryPlusWords
	}
	if p.budget < elen {
		return ErrTooSmall
	}

	cur := p.pages[p.page]
	var n, c int
	var err error
	switch {
	case p.off+elen*4 <= PageSize:
		if n, c, err = p.encode(cur[p.off:], &e); err != nil {
			return err
		}
		p.cookie = slot{p.page, p.off + c}
		p.off += n

	case p.page+1 < len(p.pages):
		next := p.pages[p.page+1]
		if n, c, err = p.encode(next, &e); err != nil {
			return err
		}
		room := PageSize - p.off
		if n <= room {
			copy(cur[p.off:], next[:n])
			p.cookie = slot{p.page, p.off + c}
			p.off += n
			break
		}
		copy(cur[p.off:], next[:room])
		copy(next, next[room:n])
		if pos := p.off + c; pos < PageSize {
			p.cookie = slot{p.page, pos}
		} else {
			p.cookie = slot{p.page + 1, pos - PageSize}
		}
		p.page++
		p.off = n - room

	default:
		return ErrTooSmall
	}

	p.budget -= n / 4
	p.open = true
	p.count++
	return nil
}

// Finish patches the last entry's cookie with final, the position after it.
func (p *DirPacker) Finish(final uint64) {
	if p.open {
		p.patch(final)
		p.open = false
	}
}

// Bytes returns the packed stream. Every page before the current one is
// full, so the stream is the pages laid end to end.
func (p *DirPacker) Bytes() []byte {
	out := make([]byte, 0, p.Len())
	for i := 0; i < p.page; i++ {
		out = append(out, p.pages[i]...)
	}
	return append(out, p.pages[p.page][:p.off]...)
}

// encode writes e at the start of dst and returns its length and the offset
// of its cookie.
func (p *DirPacker) encode(dst []byte, e *DirEntry) (n, cookie int, err error) {
	w := wrap(dst)
	_ = w.Bool(true)
	_ = w.Uint64(e.Fileid)
	_ = w.Opaque([]byte(e.Name))
	cookie = w.Len()
	_ = w.Uint64(types.OffsetMax)

	if p.plus {
		if e.Handle == nil {
			_ = w.Bool(false)
			_ = w.Bool(false)
		} else {
			_ = w.PostOpAttr(e.Attr)
			_ = w.PostOpHandle(e.Handle)
		}
	}
	if w.full {
		return 0, 0, ErrTooSmall
	}
	return w.Len(), cookie, nil
}

// patch writes v into the open cookie slot, one word at a time since the
// slot may straddle two pages.
func (p *DirPacker) patch(v uint64) {
	p.putWord(p.cookie.page, p.cookie.off, uint32(v>>32))
	p.putWord(p.cookie.page, p.cookie.off+4, uint32(v))
}

func (p *DirPacker) putWord(page, off int, v uint32) {
	if off >= PageSize {
		page, off = page+1, off-PageSize
	}
	binary.BigEndian.PutUint32(p.pages[page][off:], v)
}
