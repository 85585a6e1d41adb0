package rpc

// RPCVersion is the only ONC RPC protocol version accepted (RFC 5531).
const RPCVersion = 2

// MaxAuthBytes bounds the body of a credential or verifier (RFC 5531
// Section 8.2).
const MaxAuthBytes = 400

// RPC Program Numbers
//
// Reference: RFC 1057 (RPC Protocol Specification Version 2)
const (
	// ProgramPortmap is the port mapper program number (RFC 1833).
	ProgramPortmap = 100000

	// ProgramNFS is the NFS program number (RFC 1813).
	ProgramNFS = 100003

	// ProgramMount is the Mount protocol program number (RFC 1813 Appendix I).
	ProgramMount = 100005
)

// RPC Message Types
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	// RPCCall indicates an RPC call message.
	RPCCall = 0

	// RPCReply indicates an RPC reply message.
	RPCReply = 1
)

// RPC Reply States
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	// RPCMsgAccepted means the server recognized the program and version
	// and attempted the procedure. An accept_stat follows.
	RPCMsgAccepted = 0

	// RPCMsgDenied means the call was refused before any procedure ran,
	// for an RPC version mismatch or an authentication failure. A
	// reject_stat follows.
	RPCMsgDenied = 1
)

// RPC Accept Status
//
// When an RPC call is accepted (RPCMsgAccepted), the accept_stat field
// indicates whether the procedure executed successfully or why it failed.
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	// RPCSuccess indicates successful RPC execution. Procedure results
	// follow.
	RPCSuccess = 0

	// RPCProgUnavail indicates the program is not exported by this server.
	RPCProgUnavail = 1

	// RPCProgMismatch indicates the program is served but not the requested
	// version. The lowest and highest supported versions follow.
	RPCProgMismatch = 2

	// RPCProcUnavail indicates the procedure is not implemented.
	RPCProcUnavail = 3

	// RPCGarbageArgs indicates the arguments could not be decoded.
	RPCGarbageArgs = 4

	// RPCSystemErr indicates the server could not process the call, for
	// example because the reply could not be encoded.
	RPCSystemErr = 5
)

// RPC Reject Status
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	// RPCMismatch means the RPC version is not 2. The supported range
	// follows.
	RPCMismatch = 0

	// RPCAuthError means the credential was refused. An auth_stat follows.
	RPCAuthError = 1
)

// Authentication Status (auth_stat)
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	AuthOK           = 0
	AuthBadCred      = 1
	AuthRejectedCred = 2
	AuthBadVerf      = 3
	AuthRejectedVerf = 4
	AuthTooWeak      = 5
)

// Authentication Flavors
//
// Reference: RFC 5531 Section 8.2 and Appendix A
const (
	// AuthNull carries no credential.
	AuthNull uint32 = 0

	// AuthUnix carries a Unix uid, gid and group list. See UnixAuth.
	AuthUnix uint32 = 1

	// AuthShort is a server-issued shorthand for an earlier AUTH_UNIX
	// credential. It is not issued by this server.
	AuthShort uint32 = 2

	// AuthDES is DES-based authentication. It is not supported.
	AuthDES uint32 = 3
)
