package types

import "fmt"

// Procedure is an NFSv3 procedure number (RFC 1813 Section 3.3).
type Procedure uint32

const (
	// ProcNull - Do nothing (connectivity test)
	ProcNull Procedure = 0

	// ProcGetAttr - Get file attributes
	ProcGetAttr Procedure = 1

	// ProcSetAttr - Set file attributes
	ProcSetAttr Procedure = 2

	// ProcLookup - Lookup filename
	ProcLookup Procedure = 3

	// ProcAccess - Check access permission
	ProcAccess Procedure = 4

	// ProcReadLink - Read symbolic link
	ProcReadLink Procedure = 5

	// ProcRead - Read from file
	ProcRead Procedure = 6

	// ProcWrite - Write to file
	ProcWrite Procedure = 7

	// ProcCreate - Create a file
	ProcCreate Procedure = 8

	// ProcMkdir - Create a directory
	ProcMkdir Procedure = 9

	// ProcSymlink - Create a symbolic link
	ProcSymlink Procedure = 10

	// ProcMknod - Create a special device
	ProcMknod Procedure = 11

	// ProcRemove - Remove a file
	ProcRemove Procedure = 12

	// ProcRmdir - Remove a directory
	ProcRmdir Procedure = 13

	// ProcRename - Rename a file or directory
	ProcRename Procedure = 14

	// ProcLink - Create a hard link
	ProcLink Procedure = 15

	// ProcReadDir - Read directory entries
	ProcReadDir Procedure = 16

	// ProcReadDirPlus - Extended read directory (with attributes)
	ProcReadDirPlus Procedure = 17

	// ProcFsStat - Get dynamic file system information
	ProcFsStat Procedure = 18

	// ProcFsInfo - Get static file system information
	ProcFsInfo Procedure = 19

	// ProcPathConf - Get POSIX information
	ProcPathConf Procedure = 20

	// ProcCommit - Commit cached data to stable storage
	ProcCommit Procedure = 21
)

// NumProcedures is the size of the v3 procedure space.
const NumProcedures = 22

var procedureNames = [NumProcedures]string{
	"NULL", "GETATTR", "SETATTR", "LOOKUP", "ACCESS", "READLINK", "READ",
	"WRITE", "CREATE", "MKDIR", "SYMLINK", "MKNOD", "REMOVE", "RMDIR",
	"RENAME", "LINK", "READDIR", "READDIRPLUS", "FSSTAT", "FSINFO",
	"PATHCONF", "COMMIT",
}

func (p Procedure) String() string {
	if p < NumProcedures {
		return procedureNames[p]
	}
	return fmt.Sprintf("PROC_%d", uint32(p))
}

// NFS Status Codes
// These are the error codes that can be returned by NFSv3 procedures.
// Defined in RFC 1813 Section 2.6.
const (
	// NFS3OK - Success
	NFS3OK = 0

	// NFS3ErrPerm - Not owner
	NFS3ErrPerm = 1

	// NFS3ErrNoEnt - No such file or directory
	NFS3ErrNoEnt = 2

	// NFS3ErrIO - I/O error
	NFS3ErrIO = 5

	// NFS3ErrNxio - No such device or address
	NFS3ErrNxio = 6

	// NFS3ErrAcces - Permission denied
	NFS3ErrAcces = 13

	// NFS3ErrExist - File exists
	NFS3ErrExist = 17

	// NFS3ErrXdev - Cross-device hard link
	NFS3ErrXdev = 18

	// NFS3ErrNodev - No such device
	NFS3ErrNodev = 19

	// NFS3ErrNotDir - Not a directory
	NFS3ErrNotDir = 20

	// NFS3ErrIsDir - Is a directory
	NFS3ErrIsDir = 21

	// NFS3ErrInval - Invalid argument
	NFS3ErrInval = 22

	// NFS3ErrFBig - File too large
	NFS3ErrFBig = 27

	// NFS3ErrNoSpc - No space left on device
	NFS3ErrNoSpc = 28

	// NFS3ErrRofs - Read-only file system
	NFS3ErrRofs = 30

	// NFS3ErrMlink - Too many hard links
	NFS3ErrMlink = 31

	// NFS3ErrNameTooLong - Filename too long
	NFS3ErrNameTooLong = 63

	// NFS3ErrNotEmpty - Directory not empty
	NFS3ErrNotEmpty = 66

	// NFS3ErrDquot - Quota exceeded
	NFS3ErrDquot = 69

	// NFS3ErrStale - Stale file handle
	NFS3ErrStale = 70

	// NFS3ErrRemote - Too many levels of remote in path
	NFS3ErrRemote = 71

	// NFS3ErrBadHandle - Illegal file handle
	NFS3ErrBadHandle = 10001

	// NFS3ErrNotSync - Update synchronization mismatch
	NFS3ErrNotSync = 10002

	// NFS3ErrBadCookie - READDIR cookie is stale
	NFS3ErrBadCookie = 10003

	// NFS3ErrNotSupp - Operation not supported
	NFS3ErrNotSupp = 10004

	// NFS3ErrTooSmall - Buffer or request too small
	NFS3ErrTooSmall = 10005

	// NFS3ErrServerFault - Error on the server not covered by another code
	NFS3ErrServerFault = 10006

	// NFS3ErrBadType - Object type not supported by the server
	NFS3ErrBadType = 10007

	// NFS3ErrJukebox - Request could not complete in time, retry later
	NFS3ErrJukebox = 10008
)

// StatusString converts an NFS v3 status code to a human-readable string
// suitable for use as a metric label. Unknown codes are returned as
// "UNKNOWN_<code>".
func StatusString(status uint32) string {
	switch status {
	case NFS3OK:
		return "NFS3_OK"
	case NFS3ErrPerm:
		return "NFS3ERR_PERM"
	case NFS3ErrNoEnt:
		return "NFS3ERR_NOENT"
	case NFS3ErrIO:
		return "NFS3ERR_IO"
	case NFS3ErrNxio:
		return "NFS3ERR_NXIO"
	case NFS3ErrAcces:
		return "NFS3ERR_ACCES"
	case NFS3ErrExist:
		return "NFS3ERR_EXIST"
	case NFS3ErrXdev:
		return "NFS3ERR_XDEV"
	case NFS3ErrNodev:
		return "NFS3ERR_NODEV"
	case NFS3ErrNotDir:
		return "NFS3ERR_NOTDIR"
	case NFS3ErrIsDir:
		return "NFS3ERR_ISDIR"
	case NFS3ErrInval:
		return "NFS3ERR_INVAL"
	case NFS3ErrFBig:
		return "NFS3ERR_FBIG"
	case NFS3ErrNoSpc:
		return "NFS3ERR_NOSPC"
	case NFS3ErrRofs:
		return "NFS3ERR_ROFS"
	case NFS3ErrMlink:
		return "NFS3ERR_MLINK"
	case NFS3ErrNameTooLong:
		return "NFS3ERR_NAMETOOLONG"
	case NFS3ErrNotEmpty:
		return "NFS3ERR_NOTEMPTY"
	case NFS3ErrDquot:
		return "NFS3ERR_DQUOT"
	case NFS3ErrStale:
		return "NFS3ERR_STALE"
	case NFS3ErrRemote:
		return "NFS3ERR_REMOTE"
	case NFS3ErrBadHandle:
		return "NFS3ERR_BADHANDLE"
	case NFS3ErrNotSync:
		return "NFS3ERR_NOT_SYNC"
	case NFS3ErrBadCookie:
		return "NFS3ERR_BAD_COOKIE"
	case NFS3ErrNotSupp:
		return "NFS3ERR_NOTSUPP"
	case NFS3ErrTooSmall:
		return "NFS3ERR_TOOSMALL"
	case NFS3ErrServerFault:
		return "NFS3ERR_SERVERFAULT"
	case NFS3ErrBadType:
		return "NFS3ERR_BADTYPE"
	case NFS3ErrJukebox:
		return "NFS3ERR_JUKEBOX"
	default:
		return fmt.Sprintf("UNKNOWN_%d", status)
	}
}

// FSInfo property flags (RFC 1813 Section 3.3.19)
const (
	FSFLink        = 0x0001 // Hard links supported
	FSFSymlink     = 0x0002 // Symbolic links supported
	FSFHomogeneous = 0x0008 // PATHCONF valid for all files
	FSFCanSetTime  = 0x0010 // Server can set times

	// FSFDefault is what FSINFO reports for every export.
	FSFDefault = FSFLink | FSFSymlink | FSFHomogeneous | FSFCanSetTime
)

// File type constants as defined in RFC 1813 Section 2.5.5.
const (
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeBlock     = 3
	FileTypeChar      = 4
	FileTypeSymlink   = 5
	FileTypeSocket    = 6
	FileTypeFifo      = 7
)

// ============================================================================
// Access Rights
// ============================================================================

// Access rights bits used in ACCESS procedure (RFC 1813 Section 3.3.4).
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020
)

// ============================================================================
// Write Stability
// ============================================================================

// Write stability modes (RFC 1813 Section 3.3.7).
const (
	// WriteUnstable means data can be cached in memory until COMMIT
	WriteUnstable = 0

	// WriteDataSync means data reaches stable storage before the reply
	WriteDataSync = 1

	// WriteFileSync means data and metadata reach stable storage before the reply
	WriteFileSync = 2
)

// ============================================================================
// Create Modes
// ============================================================================

// Create modes used in CREATE procedure (RFC 1813 Section 3.3.8).
const (
	// CreateUnchecked creates a file or truncates if it already exists.
	CreateUnchecked = 0

	// CreateGuarded creates a file only if it doesn't exist.
	CreateGuarded = 1

	// CreateExclusive creates a file exclusively using a verifier.
	CreateExclusive = 2
)

// SetAttr time_how values (RFC 1813 Section 2.5.6).
const (
	DontChange      = 0
	SetToServerTime = 1
	SetToClientTime = 2
)

// Protocol limits.
const (
	// FHSize is the largest v3 file handle in bytes.
	FHSize = 64

	// MaxNameLen is the longest name encoded in a directory entry.
	MaxNameLen = 255

	// MaxPathLen bounds a decoded name or path field.
	MaxPathLen = 1024

	// CookieVerfSize, CreateVerfSize and WriteVerfSize are the fixed opaque
	// verifier lengths.
	CookieVerfSize = 8
	CreateVerfSize = 8
	WriteVerfSize  = 8

	// OffsetMax is the placeholder stored in a cookie slot that has not been
	// backpatched yet.
	OffsetMax = ^uint64(0) >> 1
)
