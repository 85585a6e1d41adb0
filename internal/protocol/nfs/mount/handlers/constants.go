package handlers

// Version is the MOUNT program version that hands out NFSv3 handles.
const Version = 3

// Mount procedure numbers (RFC 1813 Appendix I).
const (
	MountProcNull    = 0
	MountProcMnt     = 1
	MountProcDump    = 2
	MountProcUmnt    = 3
	MountProcUmntAll = 4
	MountProcExport  = 5
)

// mountstat3 values.
const (
	MountOK             = 0
	MountErrPerm        = 1
	MountErrNoEnt       = 2
	MountErrIO          = 5
	MountErrAccess      = 13
	MountErrNotDir      = 20
	MountErrInval       = 22
	MountErrNameTooLong = 63
	MountErrNotSupp     = 10004
	MountErrServerFault = 10006
)

const (
	// MaxPathLen is MNTPATHLEN, the longest dirpath accepted.
	MaxPathLen = 1024

	// MaxNameLen is MNTNAMLEN, the longest host or group name sent.
	MaxNameLen = 255

	// authUnix is the AUTH_UNIX flavor, offered when an export lists none.
	authUnix = 1
)
