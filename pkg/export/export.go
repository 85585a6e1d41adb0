package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// ExportCacheName is the name of the client+path to policy cache.
const ExportCacheName = "nfsd.export"

// MaxSecinfo bounds the security flavor list of one export.
const MaxSecinfo = 8

// Flavor is one security flavor an export accepts, most preferred first.
type Flavor struct {
	Pseudoflavor uint32
	Flags        Flags
}

// Record is the export policy for one client and path.
//
// Client and Path form the cache key. The remaining fields are content.
type Record struct {
	Client *auth.Domain
	Path   string

	Root    vfs.Dentry
	Flags   Flags
	AnonUID uint32
	AnonGID uint32
	Fsid    uint32
	Flavors []Flavor
}

func recordOps() cache.Ops[Record] {
	return cache.Ops[Record]{
		Hash: func(r *Record) uint64 {
			h := xxhash.New()
			_, _ = h.WriteString(r.Client.Name())
			_, _ = h.Write([]byte{0})
			_, _ = h.WriteString(r.Path)
			return h.Sum64()
		},
		Match: func(a, b *Record) bool {
			return a.Client == b.Client && a.Path == b.Path
		},
		Init: func(dst, src *Record) {
			dst.Client = src.Client
			dst.Path = src.Path
		},
		Update: func(dst, src *Record) {
			dst.Root = src.Root
			dst.Flags = src.Flags
			dst.AnonUID = src.AnonUID
			dst.AnonGID = src.AnonGID
			dst.Fsid = src.Fsid
			dst.Flavors = append([]Flavor(nil), src.Flavors...)
		},
		Request: func(r *Record) string {
			var b strings.Builder
			cache.AddWord(&b, r.Client.Name())
			cache.AddWord(&b, r.Path)
			return cache.EndLine(&b)
		},
		Header: "#path domain(flags)",
		Show:   showRecord,
	}
}

func showRecord(w io.Writer, e *cache.Entry[Record]) error {
	r := e.Item()
	var b strings.Builder
	b.WriteString(cache.Quote(r.Path))
	b.WriteByte('\t')
	b.WriteString(cache.Quote(r.Client.Name()))
	b.WriteByte('(')
	if e.State() == cache.StateValid {
		b.WriteString(r.Flags.String())
	}
	b.WriteString(")\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// checkRoot rejects export roots of a type that cannot be served.
func checkRoot(d vfs.Dentry) error {
	switch d.Type {
	case vfs.TypeDirectory, vfs.TypeRegular, vfs.TypeSymlink:
		return nil
	default:
		return fmt.Errorf("export root %s is a %s: %w", d.Path, d.Type, unix.ENOTDIR)
	}
}

// parseRecord applies an export cache line:
//
//	client path expiry [flags anonuid anongid fsid [secinfo n flavor flags ...]]
//
// A line without flags records the path as not exported to the client. An
// expiry that is already past records it as removed.
func (n *Net) parseRecord(line string) error {
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

	path, err := s.Next()
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("missing path: %w", unix.EINVAL)
	}
	root, err := n.FS.Resolve(path)
	if err != nil {
		return fmt.Errorf("path %q: %w", path, err)
	}

	expiry, err := s.Expiry()
	if err != nil {
		return err
	}

	rec := Record{Client: dom, Path: root.Path, Root: root}
	negative := false

	flags, err := s.Int()
	switch {
	case errors.Is(err, unix.ENOENT):
		negative = true
	case err != nil:
		return err
	case flags < 0:
		return fmt.Errorf("flags %d: %w", flags, unix.EINVAL)
	default:
		rec.Flags = Flags(flags)
		if err := parsePolicy(s, &rec); err != nil {
			return err
		}
		if err := checkRoot(root); err != nil {
			return err
		}
	}
	if !expiry.After(n.exports.Now()) {
		negative = true
	}

	old := n.exports.Lookup(&rec)
	n.exports.Update(&rec, old, negative, expiry).Put()
	n.persist(ExportCacheName, n.exports.RequestLine(&rec), line, expiry)
	return nil
}

// parsePolicy reads the fields that follow the flags of a positive line.
func parsePolicy(s *cache.Scanner, rec *Record) error {
	fields := []struct {
		name string
		dst  *uint32
	}{
		{"anonuid", &rec.AnonUID},
		{"anongid", &rec.AnonGID},
		{"fsid", &rec.Fsid},
	}
	for _, f := range fields {
		v, err := s.Int()
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, unix.EINVAL)
		}
		*f.dst = uint32(v)
	}

	for {
		word, err := s.Next()
		if err != nil {
			return err
		}
		switch word {
		case "":
			return nil
		case "secinfo":
			if err := parseSecinfo(s, rec); err != nil {
				return err
			}
		default:
			// Options this server does not know end the line.
			return nil
		}
	}
}

func parseSecinfo(s *cache.Scanner, rec *Record) error {
	count, err := s.Int()
	if err != nil {
		return fmt.Errorf("secinfo count: %w", unix.EINVAL)
	}
	if count < 0 || count > MaxSecinfo {
		return fmt.Errorf("secinfo count %d: %w", count, unix.EINVAL)
	}
	rec.Flavors = make([]Flavor, 0, count)
	for i := 0; i < count; i++ {
		flavor, err := s.Int()
		if err != nil {
			return fmt.Errorf("secinfo flavor %d: %w", i, unix.EINVAL)
		}
		flags, err := s.Int()
		if err != nil {
			return fmt.Errorf("secinfo flags %d: %w", i, unix.EINVAL)
		}
		rec.Flavors = append(rec.Flavors, Flavor{Pseudoflavor: uint32(flavor), Flags: Flags(flags)})
	}
	return nil
}

// Export is a checked export record. The holder owns one reference and must
// call Put exactly once.
type Export struct {
	entry *cache.Entry[Record]
}

// Record returns the policy. It must not be modified.
func (x *Export) Record() *Record {
	return x.entry.Item()
}

// Get returns a second handle sharing the record; both must be Put.
func (x *Export) Get() *Export {
	x.entry.Get()
	return &Export{entry: x.entry}
}

// Put releases the reference.
func (x *Export) Put() {
	x.entry.Put()
}

func (x *Export) Client() *auth.Domain { return x.entry.Item().Client }
func (x *Export) Path() string         { return x.entry.Item().Path }
func (x *Export) Root() vfs.Dentry     { return x.entry.Item().Root }
func (x *Export) Flags() Flags         { return x.entry.Item().Flags }
func (x *Export) Fsid() uint32         { return x.entry.Item().Fsid }

// ReadOnly reports whether writes through the export are refused.
func (x *Export) ReadOnly() bool {
	return x.Flags().Has(FlagReadOnly)
}

// Sync reports whether writes must reach stable storage before replying.
func (x *Export) Sync() bool {
	return !x.Flags().Has(FlagAsync)
}

// Squash maps a caller credential to the identity requests run under:
// every caller with all_squash, root alone with root_squash.
func (x *Export) Squash(c auth.Cred) auth.Cred {
	r := x.entry.Item()
	if r.Flags.Has(FlagAllSquash) || (r.Flags.Has(FlagRootSquash) && c.IsRoot()) {
		return c.Squash(r.AnonUID, r.AnonGID)
	}
	return c
}
