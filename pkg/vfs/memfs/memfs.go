// Package memfs is an in-memory vfs.Filesystem.
//
// Objects are numbered with 32-bit inode numbers and a generation that changes
// whenever an inode number is reused, so stale handles are detected after a
// remove.
package memfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/vfs"
)

const (
	// RootIno is the inode number of "/".
	RootIno = 2

	// NameMax is the longest accepted name component.
	NameMax = 255

	// BlockSize is the allocation unit reported in attributes and Statfs.
	BlockSize = 4096

	DefaultCapacity    = 1 << 30
	DefaultMaxFiles    = 1 << 20
	DefaultMaxFileSize = 1 << 40

	fidLen = 8

	mayWrite = 0o2
	mayExec  = 0o1
)

// Options configures a filesystem.
type Options struct {
	// Dev is the device the filesystem claims. Zero means {0, 1}.
	Dev vfs.Dev

	// Capacity is the size reported by Statfs, in bytes.
	Capacity uint64

	// MaxFiles is the inode limit reported by Statfs and enforced on create.
	MaxFiles uint64

	// MaxFileSize bounds writes.
	MaxFileSize uint64

	// RootMode is the permission bits of "/".
	RootMode uint32

	// Now overrides the clock.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Dev == (vfs.Dev{}) {
		o.Dev = vfs.Dev{Major: 0, Minor: 1}
	}
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.MaxFiles == 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.RootMode == 0 {
		o.RootMode = 0o755
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type node struct {
	ino    uint32
	gen    uint32
	typ    vfs.FileType
	mode   uint32
	uid    uint32
	gid    uint32
	nlink  uint32
	parent uint32
	path   string

	data     []byte
	children map[string]uint32

	atime time.Time
	mtime time.Time
	ctime time.Time
}

// FS is an in-memory filesystem safe for concurrent use.
type FS struct {
	opts Options

	mu      sync.RWMutex
	nodes   map[uint32]*node
	gens    map[uint32]uint32
	nextIno uint32
	used    uint64
}

var _ vfs.Filesystem = (*FS)(nil)

// New returns an empty filesystem holding only "/".
func New(opts Options) *FS {
	opts.applyDefaults()
	now := opts.Now()
	root := &node{
		ino:      RootIno,
		gen:      1,
		typ:      vfs.TypeDirectory,
		mode:     opts.RootMode,
		nlink:    2,
		parent:   RootIno,
		path:     "/",
		children: make(map[string]uint32),
		atime:    now,
		mtime:    now,
		ctime:    now,
	}
	return &FS{
		opts:    opts,
		nodes:   map[uint32]*node{RootIno: root},
		gens:    map[uint32]uint32{RootIno: 1},
		nextIno: RootIno + 1,
	}
}

// Dev returns the device the filesystem claims.
func (fs *FS) Dev() vfs.Dev {
	return fs.opts.Dev
}

func (fs *FS) dentry(n *node) vfs.Dentry {
	return vfs.Dentry{
		Path: n.path,
		Ino:  uint64(n.ino),
		Gen:  n.gen,
		Dev:  fs.opts.Dev,
		Type: n.typ,
	}
}

// get returns the live node named by d. Caller holds the lock.
func (fs *FS) get(d vfs.Dentry) (*node, error) {
	if d.Dev != fs.opts.Dev {
		return nil, unix.EXDEV
	}
	n, ok := fs.nodes[uint32(d.Ino)]
	if !ok || n.gen != d.Gen {
		return nil, unix.ESTALE
	}
	return n, nil
}

func (fs *FS) getDir(d vfs.Dentry) (*node, error) {
	n, err := fs.get(d)
	if err != nil {
		return nil, err
	}
	if n.typ != vfs.TypeDirectory {
		return nil, unix.ENOTDIR
	}
	return n, nil
}

// Resolve walks an absolute path from "/".
func (fs *FS) Resolve(p string) (vfs.Dentry, error) {
	if !strings.HasPrefix(p, "/") {
		return vfs.Dentry{}, fmt.Errorf("resolve %q: %w", p, unix.EINVAL)
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n := fs.nodes[RootIno]
	for _, name := range strings.Split(vfs.Clean(p), "/") {
		if name == "" {
			continue
		}
		if n.typ != vfs.TypeDirectory {
			return vfs.Dentry{}, unix.ENOTDIR
		}
		ino, ok := n.children[name]
		if !ok {
			return vfs.Dentry{}, unix.ENOENT
		}
		n = fs.nodes[ino]
	}
	return fs.dentry(n), nil
}

// Parent returns the directory containing d; "/" is its own parent.
func (fs *FS) Parent(d vfs.Dentry) (vfs.Dentry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, err := fs.get(d)
	if err != nil {
		return vfs.Dentry{}, err
	}
	return fs.dentry(fs.nodes[n.parent]), nil
}

// EncodeFH writes the 32-bit inode number and generation.
func (fs *FS) EncodeFH(d vfs.Dentry, maxLen int) (uint8, []byte) {
	if maxLen < fidLen || d.Ino > 0xffffffff {
		return vfs.FileIDInvalid, nil
	}
	fid := make([]byte, fidLen)
	binary.BigEndian.PutUint32(fid[0:4], uint32(d.Ino))
	binary.BigEndian.PutUint32(fid[4:8], d.Gen)
	return vfs.FileIDIno32Gen, fid
}

// DecodeFH reverses EncodeFH. An inode that has been removed or reused
// gives unix.ESTALE.
func (fs *FS) DecodeFH(dev vfs.Dev, fileIDType uint8, fid []byte) (vfs.Dentry, error) {
	if dev != fs.opts.Dev {
		return vfs.Dentry{}, unix.ESTALE
	}
	if fileIDType != vfs.FileIDIno32Gen || len(fid) < fidLen {
		return vfs.Dentry{}, unix.EINVAL
	}
	ino := binary.BigEndian.Uint32(fid[0:4])
	gen := binary.BigEndian.Uint32(fid[4:8])

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, ok := fs.nodes[ino]
	if !ok || n.gen != gen {
		return vfs.Dentry{}, unix.ESTALE
	}
	return fs.dentry(n), nil
}

func (fs *FS) attr(n *node) vfs.Attr {
	size := uint64(len(n.data))
	if n.typ == vfs.TypeDirectory {
		size = BlockSize
	}
	return vfs.Attr{
		Type:  n.typ,
		Mode:  n.mode,
		Nlink: n.nlink,
		UID:   n.uid,
		GID:   n.gid,
		Size:  size,
		Used:  (size + BlockSize - 1) / BlockSize * BlockSize,
		Dev:   fs.opts.Dev,
		Ino:   uint64(n.ino),
		Atime: n.atime,
		Mtime: n.mtime,
		Ctime: n.ctime,
	}
}

func (fs *FS) Getattr(d vfs.Dentry) (vfs.Attr, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, err := fs.get(d)
	if err != nil {
		return vfs.Attr{}, err
	}
	return fs.attr(n), nil
}

// Setattr applies s. Only the owner or root may change mode and times; only
// root may change ownership. Truncation needs write permission.
func (fs *FS) Setattr(d vfs.Dentry, s vfs.SetAttr, cred auth.Cred) (vfs.Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.get(d)
	if err != nil {
		return vfs.Attr{}, err
	}

	owner := cred.IsRoot() || cred.UID == n.uid
	if (s.Mode != nil || s.Atime != nil || s.Mtime != nil) && !owner {
		return vfs.Attr{}, unix.EPERM
	}
	if (s.UID != nil && *s.UID != n.uid) || (s.GID != nil && *s.GID != n.gid) {
		if !cred.IsRoot() {
			return vfs.Attr{}, unix.EPERM
		}
	}
	if s.Size != nil {
		if n.typ == vfs.TypeDirectory {
			return vfs.Attr{}, unix.EISDIR
		}
		if !permitted(n, cred, mayWrite) {
			return vfs.Attr{}, unix.EACCES
		}
		if *s.Size > fs.opts.MaxFileSize {
			return vfs.Attr{}, unix.EFBIG
		}
	}

	now := fs.opts.Now()
	if s.Mode != nil {
		n.mode = *s.Mode & 0o7777
	}
	if s.UID != nil {
		n.uid = *s.UID
	}
	if s.GID != nil {
		n.gid = *s.GID
	}
	if s.Size != nil {
		fs.resize(n, *s.Size)
		n.mtime = now
	}
	if s.Atime != nil {
		n.atime = *s.Atime
	}
	if s.Mtime != nil {
		n.mtime = *s.Mtime
	}
	n.ctime = now
	return fs.attr(n), nil
}

func (fs *FS) resize(n *node, size uint64) {
	old := uint64(len(n.data))
	switch {
	case size < old:
		n.data = n.data[:size]
	case size > old:
		n.data = append(n.data, make([]byte, size-old)...)
	}
	fs.used = fs.used - old + size
}

func (fs *FS) Lookup(dir vfs.Dentry, name string) (vfs.Dentry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, err := fs.getDir(dir)
	if err != nil {
		return vfs.Dentry{}, err
	}
	switch name {
	case ".":
		return fs.dentry(n), nil
	case "..":
		return fs.dentry(fs.nodes[n.parent]), nil
	}
	if len(name) > NameMax {
		return vfs.Dentry{}, unix.ENAMETOOLONG
	}
	ino, ok := n.children[name]
	if !ok {
		return vfs.Dentry{}, unix.ENOENT
	}
	return fs.dentry(fs.nodes[ino]), nil
}

func (fs *FS) Create(dir vfs.Dentry, name string, mode uint32, cred auth.Cred) (vfs.Dentry, error) {
	return fs.mknod(dir, name, vfs.TypeRegular, mode, cred)
}

func (fs *FS) Mkdir(dir vfs.Dentry, name string, mode uint32, cred auth.Cred) (vfs.Dentry, error) {
	return fs.mknod(dir, name, vfs.TypeDirectory, mode, cred)
}

func (fs *FS) mknod(dir vfs.Dentry, name string, typ vfs.FileType, mode uint32, cred auth.Cred) (vfs.Dentry, error) {
	if err := checkName(name); err != nil {
		return vfs.Dentry{}, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.getDir(dir)
	if err != nil {
		return vfs.Dentry{}, err
	}
	if !permitted(parent, cred, mayWrite|mayExec) {
		return vfs.Dentry{}, unix.EACCES
	}
	if _, ok := parent.children[name]; ok {
		return vfs.Dentry{}, unix.EEXIST
	}
	if uint64(len(fs.nodes)) >= fs.opts.MaxFiles {
		return vfs.Dentry{}, unix.ENOSPC
	}

	now := fs.opts.Now()
	ino := fs.allocIno()
	fs.gens[ino]++
	n := &node{
		ino:    ino,
		gen:    fs.gens[ino],
		typ:    typ,
		mode:   mode & 0o7777,
		uid:    cred.UID,
		gid:    cred.GID,
		nlink:  1,
		parent: parent.ino,
		path:   joinPath(parent.path, name),
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
	if typ == vfs.TypeDirectory {
		n.nlink = 2
		n.children = make(map[string]uint32)
		parent.nlink++
	}
	fs.nodes[ino] = n
	parent.children[name] = ino
	parent.mtime = now
	parent.ctime = now
	return fs.dentry(n), nil
}

// allocIno returns the lowest free inode number at or after nextIno,
// wrapping past the 32-bit limit. Caller holds the write lock.
func (fs *FS) allocIno() uint32 {
	for {
		ino := fs.nextIno
		fs.nextIno++
		if fs.nextIno == 0 {
			fs.nextIno = RootIno + 1
		}
		if _, taken := fs.nodes[ino]; !taken && ino > RootIno {
			return ino
		}
	}
}

// Remove unlinks a non-directory.
func (fs *FS) Remove(dir vfs.Dentry, name string, cred auth.Cred) error {
	return fs.unlink(dir, name, false, cred)
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(dir vfs.Dentry, name string, cred auth.Cred) error {
	return fs.unlink(dir, name, true, cred)
}

func (fs *FS) unlink(dir vfs.Dentry, name string, wantDir bool, cred auth.Cred) error {
	if name == "." || name == ".." {
		return unix.EINVAL
	}
	if err := checkName(name); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, err := fs.getDir(dir)
	if err != nil {
		return err
	}
	ino, ok := parent.children[name]
	if !ok {
		return unix.ENOENT
	}
	n := fs.nodes[ino]
	if !permitted(parent, cred, mayWrite|mayExec) {
		return unix.EACCES
	}
	if wantDir {
		if n.typ != vfs.TypeDirectory {
			return unix.ENOTDIR
		}
		if len(n.children) > 0 {
			return unix.ENOTEMPTY
		}
		parent.nlink--
	} else if n.typ == vfs.TypeDirectory {
		return unix.EISDIR
	}

	delete(parent.children, name)
	delete(fs.nodes, ino)
	fs.used -= uint64(len(n.data))
	now := fs.opts.Now()
	parent.mtime = now
	parent.ctime = now
	return nil
}

func (fs *FS) Read(d vfs.Dentry, offset uint64, dst []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.get(d)
	if err != nil {
		return 0, err
	}
	switch n.typ {
	case vfs.TypeRegular:
	case vfs.TypeDirectory:
		return 0, unix.EISDIR
	default:
		return 0, unix.EINVAL
	}
	n.atime = fs.opts.Now()
	if offset >= uint64(len(n.data)) {
		return 0, nil
	}
	return copy(dst, n.data[offset:]), nil
}

func (fs *FS) Write(d vfs.Dentry, offset uint64, data []byte, cred auth.Cred) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.get(d)
	if err != nil {
		return 0, err
	}
	switch n.typ {
	case vfs.TypeRegular:
	case vfs.TypeDirectory:
		return 0, unix.EISDIR
	default:
		return 0, unix.EINVAL
	}
	if !permitted(n, cred, mayWrite) {
		return 0, unix.EACCES
	}
	end := offset + uint64(len(data))
	if end > fs.opts.MaxFileSize {
		return 0, unix.EFBIG
	}
	if end > uint64(len(n.data)) {
		if fs.used+end-uint64(len(n.data)) > fs.opts.Capacity {
			return 0, unix.ENOSPC
		}
		fs.resize(n, end)
	}
	copy(n.data[offset:], data)
	now := fs.opts.Now()
	n.mtime = now
	n.ctime = now
	return len(data), nil
}

// ReadDir lists dir: "." and ".." first, then the children by name.
func (fs *FS) ReadDir(dir vfs.Dentry) ([]vfs.DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	n, err := fs.getDir(dir)
	if err != nil {
		return nil, err
	}
	parent := fs.nodes[n.parent]

	out := make([]vfs.DirEntry, 0, len(n.children)+2)
	out = append(out,
		vfs.DirEntry{Name: ".", Ino: uint64(n.ino), Type: vfs.TypeDirectory},
		vfs.DirEntry{Name: "..", Ino: uint64(parent.ino), Type: vfs.TypeDirectory},
	)
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := fs.nodes[n.children[name]]
		out = append(out, vfs.DirEntry{Name: name, Ino: uint64(c.ino), Type: c.typ})
	}
	return out, nil
}

func (fs *FS) Statfs(d vfs.Dentry) (vfs.Statfs, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if _, err := fs.get(d); err != nil {
		return vfs.Statfs{}, err
	}
	blocks := fs.opts.Capacity / BlockSize
	usedBlocks := (fs.used + BlockSize - 1) / BlockSize
	free := uint64(0)
	if usedBlocks < blocks {
		free = blocks - usedBlocks
	}
	files := uint64(len(fs.nodes))
	return vfs.Statfs{
		Bsize:       BlockSize,
		Blocks:      blocks,
		Bfree:       free,
		Bavail:      free,
		Files:       fs.opts.MaxFiles,
		Ffree:       fs.opts.MaxFiles - files,
		MaxFileSize: fs.opts.MaxFileSize,
		NameMax:     NameMax,
	}, nil
}

// MkdirAll creates p and any missing parents as root.
func (fs *FS) MkdirAll(p string, mode uint32) (vfs.Dentry, error) {
	root := auth.Cred{}
	cur, err := fs.Resolve("/")
	if err != nil {
		return vfs.Dentry{}, err
	}
	for _, name := range strings.Split(vfs.Clean(p), "/") {
		if name == "" {
			continue
		}
		next, err := fs.Lookup(cur, name)
		if errors.Is(err, unix.ENOENT) {
			next, err = fs.Mkdir(cur, name, mode, root)
		}
		if err != nil {
			return vfs.Dentry{}, fmt.Errorf("mkdir %s: %w", joinPath(cur.Path, name), err)
		}
		if !next.IsDir() {
			return vfs.Dentry{}, fmt.Errorf("mkdir %s: %w", next.Path, unix.ENOTDIR)
		}
		cur = next
	}
	return cur, nil
}

// WriteFile creates or replaces the regular file p as root, creating parent
// directories as needed.
func (fs *FS) WriteFile(p string, data []byte, mode uint32) (vfs.Dentry, error) {
	p = vfs.Clean(p)
	idx := strings.LastIndex(p, "/")
	dir, err := fs.MkdirAll(p[:idx], 0o755)
	if err != nil {
		return vfs.Dentry{}, err
	}
	name := p[idx+1:]
	root := auth.Cred{}
	f, err := fs.Lookup(dir, name)
	if errors.Is(err, unix.ENOENT) {
		f, err = fs.Create(dir, name, mode, root)
	}
	if err != nil {
		return vfs.Dentry{}, fmt.Errorf("create %s: %w", p, err)
	}
	size := uint64(0)
	if _, err := fs.Setattr(f, vfs.SetAttr{Size: &size}, root); err != nil {
		return vfs.Dentry{}, fmt.Errorf("truncate %s: %w", p, err)
	}
	if _, err := fs.Write(f, 0, data, root); err != nil {
		return vfs.Dentry{}, fmt.Errorf("write %s: %w", p, err)
	}
	return f, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return unix.EINVAL
	case len(name) > NameMax:
		return unix.ENAMETOOLONG
	case strings.ContainsAny(name, "/\x00"):
		return unix.EINVAL
	case name == "." || name == "..":
		return unix.EEXIST
	}
	return nil
}

// permitted applies the owner/group/other permission bits. Root passes.
func permitted(n *node, cred auth.Cred, mask uint32) bool {
	if cred.IsRoot() {
		return true
	}
	var bits uint32
	switch {
	case cred.UID == n.uid:
		bits = n.mode >> 6
	case cred.InGroup(n.gid):
		bits = n.mode >> 3
	default:
		bits = n.mode
	}
	return bits&mask == mask
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
