// Package nfs connects RPC calls to the NFSv3 procedures.
//
// # Architecture Overview
//
//   - RPC layer (internal/protocol/rpc): call header parsing, AUTH_UNIX
//     decoding and reply construction
//   - Dispatch layer (dispatch.go): program and version checks, mapping the
//     caller to an auth domain and credential, accept_stat selection
//   - Procedure layer (v3/handlers): decode, execute, encode and release of
//     each NFSv3 procedure
//
// Calls arrive as complete, unframed RPC messages and replies leave the same
// way. Record marking and sockets belong to whatever transport embeds the
// Server.
//
// # Client Identity
//
// An AUTH_UNIX caller is mapped to the auth domain registered under its
// machine name, falling back to Config.DefaultDomain. AUTH_NULL callers get
// the anonymous credential and the default domain. A caller with no domain
// is denied with AUTH_TOOWEAK.
package nfs
