package export

import (
	"encoding/binary"

	"github.com/marmos91/nfsd/pkg/vfs"
)

// Filesystem-id encodings carried in file handles and key cache lines.
const (
	// FsidDev is the device number (16-bit major, 16-bit minor) followed by
	// the 32-bit inode number of the export root: 8 bytes.
	FsidDev uint8 = 0

	// FsidNum is the administrator-assigned 32-bit export fsid: 4 bytes.
	FsidNum uint8 = 1
)

// KeyLen returns the fsid length in bytes for fsidType, or 0 for an unknown
// type.
func KeyLen(fsidType uint8) int {
	switch fsidType {
	case FsidDev:
		return 8
	case FsidNum:
		return 4
	default:
		return 0
	}
}

// MkFsid builds the fsid bytes for fsidType. FsidDev uses dev and ino, FsidNum
// uses fsid. An unknown type returns nil.
func MkFsid(fsidType uint8, dev vfs.Dev, ino uint64, fsid uint32) []byte {
	switch fsidType {
	case FsidDev:
		b := make([]byte, 8)
		binary.BigEndian.PutUint32(b[0:4], (dev.Major&0xffff)<<16|(dev.Minor&0xffff))
		binary.BigEndian.PutUint32(b[4:8], uint32(ino))
		return b
	case FsidNum:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, fsid)
		return b
	default:
		return nil
	}
}
