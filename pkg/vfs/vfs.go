// Package vfs defines the filesystem contract the export resolver, the file
// handle codec and the v3 procedures run against.
//
// Errors are unix.Errno values (possibly wrapped) so the protocol layer can
// translate them through a single errno table.
package vfs

import (
	"path"
	"strings"
	"time"

	"github.com/marmos91/nfsd/pkg/auth"
)

// FileType is the type of a filesystem object.
type FileType uint32

const (
	TypeRegular FileType = iota + 1
	TypeDirectory
	TypeBlock
	TypeChar
	TypeSymlink
	TypeSocket
	TypeFIFO
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeBlock:
		return "block"
	case TypeChar:
		return "char"
	case TypeSymlink:
		return "symlink"
	case TypeSocket:
		return "socket"
	case TypeFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// Object-id encodings returned by EncodeFH.
const (
	// FileIDRoot marks the export root; it carries no object-id bytes.
	FileIDRoot uint8 = 0
	// FileIDIno32Gen is a 32-bit inode number followed by a 32-bit generation.
	FileIDIno32Gen uint8 = 1
	// FileIDInvalid means the object could not be encoded in the space given.
	FileIDInvalid uint8 = 255
)

// Dev identifies a device (mounted filesystem).
type Dev struct {
	Major uint32
	Minor uint32
}

// Dentry names one filesystem object.
type Dentry struct {
	Path string
	Ino  uint64
	Gen  uint32
	Dev  Dev
	Type FileType
}

// IsDir reports whether d is a directory.
func (d Dentry) IsDir() bool {
	return d.Type == TypeDirectory
}

// Same reports whether a and b name the same object.
func (d Dentry) Same(o Dentry) bool {
	return d.Dev == o.Dev && d.Ino == o.Ino
}

// Attr holds the attributes of an object.
type Attr struct {
	Type  FileType
	Mode  uint32
	Nlink uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Used  uint64
	Rdev  Dev
	Dev   Dev
	Ino   uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// SetAttr selects attributes to change. Nil fields are left alone.
type SetAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// Statfs describes filesystem capacity.
type Statfs struct {
	Bsize       uint64
	Blocks      uint64
	Bfree       uint64
	Bavail      uint64
	Files       uint64
	Ffree       uint64
	MaxFileSize uint64
	NameMax     uint32
}

// DirEntry is one directory entry in a ReadDir snapshot.
type DirEntry struct {
	Name string
	Ino  uint64
	Type FileType
}

// Filesystem is the collaborator every object operation goes through.
type Filesystem interface {
	// Resolve looks up an absolute path.
	Resolve(p string) (Dentry, error)

	// Parent returns the parent directory of d. The root is its own parent.
	Parent(d Dentry) (Dentry, error)

	// EncodeFH writes the object-id of d into at most maxLen bytes and
	// returns its encoding type, or FileIDInvalid when it does not fit.
	EncodeFH(d Dentry, maxLen int) (uint8, []byte)

	// DecodeFH turns an object-id back into a Dentry on device dev.
	DecodeFH(dev Dev, fileIDType uint8, fid []byte) (Dentry, error)

	Getattr(d Dentry) (Attr, error)
	Setattr(d Dentry, s SetAttr, cred auth.Cred) (Attr, error)
	Lookup(dir Dentry, name string) (Dentry, error)
	Create(dir Dentry, name string, mode uint32, cred auth.Cred) (Dentry, error)
	Mkdir(dir Dentry, name string, mode uint32, cred auth.Cred) (Dentry, error)
	Remove(dir Dentry, name string, cred auth.Cred) error
	Rmdir(dir Dentry, name string, cred auth.Cred) error

	// Read fills dst from offset and returns the number of bytes read.
	Read(d Dentry, offset uint64, dst []byte) (int, error)

	// Write stores data at offset and returns the number of bytes written.
	Write(d Dentry, offset uint64, data []byte, cred auth.Cred) (int, error)

	// ReadDir returns a snapshot of dir, "." and ".." first.
	ReadDir(dir Dentry) ([]DirEntry, error)

	Statfs(d Dentry) (Statfs, error)
}

// Clean normalizes p into an absolute slash-separated path.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// IsSubdir reports whether p is root or lies beneath it.
func IsSubdir(p, root string) bool {
	if root == "/" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}
