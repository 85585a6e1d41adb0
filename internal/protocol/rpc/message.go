package rpc

// RPCCallMessage is the header of an RPC call.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (transaction identifier)
//   - MsgType:    4 bytes (must be 0 for CALL)
//   - RPCVersion: 4 bytes (must be 2)
//   - Program:    4 bytes
//   - Version:    4 bytes
//   - Procedure:  4 bytes
//   - Cred:       variable (opaque_auth)
//   - Verf:       variable (opaque_auth)
//   - [procedure-specific arguments follow]
//
// Reference: RFC 5531 Section 9 (RPC Protocol Specification)
type RPCCallMessage struct {
	// XID is chosen by the client and echoed in the reply so retransmissions
	// and concurrent calls can be matched.
	XID uint32

	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32

	// Cred is the caller's credential. For AUTH_UNIX the body decodes with
	// ParseUnixAuth.
	Cred OpaqueAuth

	// Verf is the caller's verifier, AUTH_NULL for AUTH_UNIX callers.
	Verf OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply.
//
// Wire Format (XDR encoding):
//   - XID:        4 bytes (echoed from the call)
//   - MsgType:    4 bytes (1 for REPLY)
//   - ReplyState: 4 bytes (0 for MSG_ACCEPTED)
//   - Verf:       variable (opaque_auth)
//   - AcceptStat: 4 bytes
//   - [SUCCESS: procedure results follow]
//   - [PROG_MISMATCH: low and high versions follow]
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// mismatchInfo is the supported version range sent with PROG_MISMATCH and
// RPC_MISMATCH.
type mismatchInfo struct {
	Low  uint32
	High uint32
}

// rejectedReply is the header of a denied reply. One of mismatchInfo or
// an auth_stat word follows, depending on RejectStat.
type rejectedReply struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	RejectStat uint32
}

// authError follows a rejectedReply with RejectStat RPCAuthError.
type authError struct {
	Stat uint32
}

// OpaqueAuth is a credential or verifier: a flavor and a body whose format
// the flavor defines.
//
// Reference: RFC 5531 Section 8 (Authentication)
type OpaqueAuth struct {
	Flavor uint32

	// Body is at most MaxAuthBytes long.
	Body []byte `xdr:"opaque"`
}

// GetAuthFlavor returns the flavor of the call's credential.
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw credential body. It is empty for AUTH_NULL.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}
