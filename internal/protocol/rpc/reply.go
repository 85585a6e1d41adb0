package rpc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Replies are returned unframed. Adding the record mark (RFC 5531 Section
// 11) is the transport's job.

// replyHeaderSize is the XDR size of an accepted reply header with an
// AUTH_NULL verifier.
const replyHeaderSize = 24

// acceptedHeader returns the header of an accepted reply with an AUTH_NULL
// verifier.
func acceptedHeader(xid, acceptStat uint32) *RPCReplyMessage {
	return &RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
		AcceptStat: acceptStat,
	}
}

// MakeSuccessReply builds an accepted SUCCESS reply carrying data, the
// already encoded procedure results.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+len(data)))

	if _, err := xdr.Marshal(buf, acceptedHeader(xid, RPCSuccess)); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// MakeErrorReply builds an accepted reply with a failing accept_stat such
// as RPCProcUnavail, RPCGarbageArgs or RPCSystemErr.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize))

	if _, err := xdr.Marshal(buf, acceptedHeader(xid, acceptStat)); err != nil {
		return nil, fmt.Errorf("marshal error reply: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeProgMismatchReply builds an accepted PROG_MISMATCH reply naming the
// supported version range.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+8))

	if _, err := xdr.Marshal(buf, acceptedHeader(xid, RPCProgMismatch)); err != nil {
		return nil, fmt.Errorf("marshal mismatch reply: %w", err)
	}
	if _, err := xdr.Marshal(buf, &mismatchInfo{Low: low, High: high}); err != nil {
		return nil, fmt.Errorf("marshal mismatch range: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeRPCMismatchReply builds a denied RPC_MISMATCH reply for a call that
// is not RPC version 2.
func MakeRPCMismatchReply(xid uint32) ([]byte, error) {
	buf := new(bytes.Buffer)

	hdr := &rejectedReply{XID: xid, MsgType: RPCReply, ReplyState: RPCMsgDenied, RejectStat: RPCMismatch}
	if _, err := xdr.Marshal(buf, hdr); err != nil {
		return nil, fmt.Errorf("marshal denied reply: %w", err)
	}
	if _, err := xdr.Marshal(buf, &mismatchInfo{Low: RPCVersion, High: RPCVersion}); err != nil {
		return nil, fmt.Errorf("marshal mismatch range: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeAuthErrorReply builds a denied AUTH_ERROR reply with authStat, one
// of the Auth* status values.
func MakeAuthErrorReply(xid, authStat uint32) ([]byte, error) {
	buf := new(bytes.Buffer)

	hdr := &rejectedReply{XID: xid, MsgType: RPCReply, ReplyState: RPCMsgDenied, RejectStat: RPCAuthError}
	if _, err := xdr.Marshal(buf, hdr); err != nil {
		return nil, fmt.Errorf("marshal denied reply: %w", err)
	}
	if _, err := xdr.Marshal(buf, &authError{Stat: authStat}); err != nil {
		return nil, fmt.Errorf("marshal auth stat: %w", err)
	}
	return buf.Bytes(), nil
}
