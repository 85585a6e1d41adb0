package export

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// KeyCacheName is the name of the fsid-to-path cache.
const KeyCacheName = "nfsd.fh"

// Key maps a client and filesystem id to the path of an export root.
//
// Client, FsidType and Fsid form the cache key. Path and Root are content and
// are only meaningful once the entry is valid and not negative.
type Key struct {
	Client   *auth.Domain
	FsidType uint8
	Fsid     []byte

	Path string
	Root vfs.Dentry
}

func keyOps() cache.Ops[Key] {
	return cache.Ops[Key]{
		Hash: func(k *Key) uint64 {
			h := xxhash.New()
			_, _ = h.WriteString(k.Client.Name())
			_, _ = h.Write([]byte{0, k.FsidType})
			_, _ = h.Write(k.Fsid)
			return h.Sum64()
		},
		Match: func(a, b *Key) bool {
			return a.Client == b.Client && a.FsidType == b.FsidType && bytes.Equal(a.Fsid, b.Fsid)
		},
		Init: func(dst, src *Key) {
			dst.Client = src.Client
			dst.FsidType = src.FsidType
			dst.Fsid = append([]byte(nil), src.Fsid...)
		},
		Update: func(dst, src *Key) {
			dst.Path = src.Path
			dst.Root = src.Root
		},
		Request: func(k *Key) string {
			var b strings.Builder
			cache.AddWord(&b, k.Client.Name())
			cache.AddWord(&b, strconv.Itoa(int(k.FsidType)))
			cache.AddHex(&b, k.Fsid)
			return cache.EndLine(&b)
		},
		Header: "#domain fsidtype fsid [path]",
		Show:   showKey,
	}
}

func showKey(w io.Writer, e *cache.Entry[Key]) error {
	k := e.Item()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d 0x", k.Client.Name(), k.FsidType)
	for i := 0; i+4 <= len(k.Fsid); i += 4 {
		fmt.Fprintf(&b, "%08x", binary.BigEndian.Uint32(k.Fsid[i:]))
	}
	if e.State() == cache.StateValid {
		b.WriteByte(' ')
		b.WriteString(cache.Quote(k.Path))
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// parseKey applies a key cache line:
//
//	client fsidtype fsid expiry [path]
//
// An empty path records the key as having no export. An expiry that is
// already past records it as removed.
func (n *Net) parseKey(line string) error {
	if !strings.HasSuffix(line, "\n") {
		return fmt.Errorf("missing newline: %w", unix.EINVAL)
	}
	s := cache.NewScanner(strings.TrimSuffix(line, "\n"))

	name, err := s.Next()
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("missing client: %w", unix.EINVAL)
	}
	dom, err := n.Domains.Find(name)
	if err != nil {
		return fmt.Errorf("client %q: %w", name, unix.ENOENT)
	}
	defer dom.Put()

	word, err := s.Next()
	if err != nil {
		return err
	}
	fsidType, err := strconv.ParseUint(word, 10, 8)
	if err != nil || KeyLen(uint8(fsidType)) == 0 {
		return fmt.Errorf("fsid type %q: %w", word, unix.EINVAL)
	}
	fsid, err := s.Hex()
	if err != nil {
		return err
	}
	if len(fsid) == 0 || len(fsid) != KeyLen(uint8(fsidType)) {
		return fmt.Errorf("fsid length %d for type %d: %w", len(fsid), fsidType, unix.EINVAL)
	}
	expiry, err := s.Expiry()
	if err != nil {
		return err
	}

	key := Key{Client: dom, FsidType: uint8(fsidType), Fsid: fsid}
	old := n.keys.Lookup(&key)

	path, err := s.Next()
	if err != nil {
		old.Put()
		return err
	}

	negative := path == "" || !expiry.After(n.keys.Now())
	if !negative {
		root, err := n.FS.Resolve(path)
		if err != nil {
			old.Put()
			return fmt.Errorf("path %q: %w", path, err)
		}
		key.Path = root.Path
		key.Root = root
	}

	n.keys.Update(&key, old, negative, expiry).Put()
	n.persist(KeyCacheName, n.keys.RequestLine(&key), line, expiry)
	return nil
}
