// Package types holds the NFSv3 constants and the fixed-layout records that
// travel on the wire.
//
// The record types are marshalled as-is with go-xdr: every field is either a
// uint32, a uint64 or a nested record, in RFC 1813 order.
package types

import (
	"time"

	"github.com/marmos91/nfsd/pkg/vfs"
)

// TimeVal represents an NFS timestamp (nfstime3 in RFC 1813 Section 2.5.2).
// NFS uses seconds and nanoseconds since the UNIX epoch.
type TimeVal struct {
	// Seconds is the number of seconds since UNIX epoch
	Seconds uint32

	// Nseconds is the nanoseconds component (0-999999999)
	Nseconds uint32
}

// NewTimeVal converts a Go time to its wire form.
func NewTimeVal(t time.Time) TimeVal {
	if t.IsZero() {
		return TimeVal{}
	}
	return TimeVal{Seconds: uint32(t.Unix()), Nseconds: uint32(t.Nanosecond())}
}

// Time converts tv back to a Go time.
func (tv TimeVal) Time() time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

// ============================================================================
// NFS Protocol Types - RFC 1813 Wire Format Structures
// ============================================================================

// FileAttr represents the NFS fattr3 structure per RFC 1813 Section 2.3.1.
// It is 21 XDR words long.
type FileAttr struct {
	Type   uint32   // File type (NF3REG, NF3DIR, etc.)
	Mode   uint32   // Unix permission bits
	Nlink  uint32   // Number of hard links
	UID    uint32   // Owner user ID
	GID    uint32   // Owner group ID
	Size   uint64   // File size in bytes
	Used   uint64   // Disk space used in bytes
	Rdev   SpecData // Device number for special files
	Fsid   uint64   // Filesystem identifier
	Fileid uint64   // File identifier (inode number)
	Atime  TimeVal  // Last access time
	Mtime  TimeVal  // Last modification time
	Ctime  TimeVal  // Last metadata change time
}

// SpecData represents device numbers for special files (RFC 1813 Section 2.5.5).
type SpecData struct {
	Major uint32
	Minor uint32
}

// NewFileAttr builds the wire attributes of an object. fsid is the 64-bit
// filesystem id reported to the client for the export the object is in.
func NewFileAttr(a vfs.Attr, fsid uint64) FileAttr {
	return FileAttr{
		Type:   uint32(a.Type),
		Mode:   a.Mode & 07777,
		Nlink:  a.Nlink,
		UID:    a.UID,
		GID:    a.GID,
		Size:   a.Size,
		Used:   a.Used,
		Rdev:   SpecData{Major: a.Rdev.Major, Minor: a.Rdev.Minor},
		Fsid:   fsid,
		Fileid: a.Ino,
		Atime:  NewTimeVal(a.Atime),
		Mtime:  NewTimeVal(a.Mtime),
		Ctime:  NewTimeVal(a.Ctime),
	}
}

// ============================================================================
// Weak Cache Consistency (WCC) Data
// ============================================================================

// WccAttr represents pre-operation weak cache consistency attributes
// (wcc_attr in RFC 1813 Section 2.6).
type WccAttr struct {
	// Size is the file size in bytes before the operation
	Size uint64

	// Mtime is the modification time before the operation
	Mtime TimeVal

	// Ctime is the change time before the operation
	Ctime TimeVal
}

// NewWccAttr captures the pre-operation attributes of an object.
func NewWccAttr(a vfs.Attr) WccAttr {
	return WccAttr{Size: a.Size, Mtime: NewTimeVal(a.Mtime), Ctime: NewTimeVal(a.Ctime)}
}

// ============================================================================
// Filesystem Information
// ============================================================================

// FSStat is the body of an FSSTAT reply after the post_op_attr.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64

	// Invarsec is the number of seconds for which the filesystem is not
	// expected to change. 0 means it may change at any time.
	Invarsec uint32
}

// FSInfo is the body of an FSINFO reply after the post_op_attr.
type FSInfo struct {
	Rtmax       uint32
	Rtpref      uint32
	Rtmult      uint32
	Wtmax       uint32
	Wtpref      uint32
	Wtmult      uint32
	Dtpref      uint32
	MaxFileSize uint64
	TimeDelta   TimeVal
	Properties  uint32
}

// TimeGuard is used for conditional updates based on ctime.
// If Check is true and the server's current ctime doesn't match Time,
// the operation fails with NFS3ErrNotSync.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}
