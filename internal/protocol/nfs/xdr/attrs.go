package xdr

import (
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
)

// ============================================================================
// Attribute Encoding - RFC 1813 Section 2.6
// ============================================================================

// Reply size components in XDR words, used to estimate the largest reply a
// procedure can produce.
const (
	WordsStatus    = 1               // nfsstat3
	WordsFH        = 17              // length word + FHSize bytes
	WordsAttr      = 21              // fattr3
	WordsPostOp    = 1 + WordsAttr   // post_op_attr
	WordsWcc       = 7 + WordsPostOp // pre_op_attr + post_op_attr
	WordsWriteVerf = 2
)

// FileAttr writes a fattr3.
func (b *Buffer) FileAttr(a *types.FileAttr) error {
	return b.Marshal(a)
}

// PostOpAttr writes a post_op_attr: a "attributes follow" flag, then the
// attributes when a is not nil.
//
// Per RFC 1813 Section 2.6 (post_op_attr):
//
//	union post_op_attr switch (bool attributes_follow) {
//	case TRUE:  fattr3 attributes;
//	case FALSE: void;
//	};
func (b *Buffer) PostOpAttr(a *types.FileAttr) error {
	if a == nil {
		return b.Bool(false)
	}
	if err := b.Bool(true); err != nil {
		return err
	}
	return b.FileAttr(a)
}

// PreOpAttr writes a pre_op_attr.
func (b *Buffer) PreOpAttr(w *types.WccAttr) error {
	if w == nil {
		return b.Bool(false)
	}
	if err := b.Bool(true); err != nil {
		return err
	}
	return b.Marshal(w)
}

// WccData writes the before and after attributes of a modified object.
func (b *Buffer) WccData(before *types.WccAttr, after *types.FileAttr) error {
	if err := b.PreOpAttr(before); err != nil {
		return err
	}
	return b.PostOpAttr(after)
}

// Handle writes an nfs_fh3.
func (b *Buffer) Handle(h []byte) error {
	return b.Opaque(h)
}

// PostOpHandle writes a post_op_fh3; nil means no handle follows.
func (b *Buffer) PostOpHandle(h []byte) error {
	if h == nil {
		return b.Bool(false)
	}
	if err := b.Bool(true); err != nil {
		return err
	}
	return b.Handle(h)
}
