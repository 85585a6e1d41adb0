package logger

// Standard field keys for structured logging. Use them with With() so
// records from the cache, codec and admin layers can be queried uniformly.
const (
	KeyProcedure = "procedure" // NFS procedure name: GETATTR, READDIR, ...
	KeyXID       = "xid"       // RPC transaction id
	KeyHandle    = "handle"    // file handle, hex encoded
	KeyStatus    = "status"    // nfsstat3 code
	KeyClient    = "client"    // auth domain name
	KeyPath      = "path"      // export or object path
	KeyCache     = "cache"     // cache name: nfsd.fh, nfsd.export
	KeyRequestID = "request_id"
	KeyError     = "error"
)
