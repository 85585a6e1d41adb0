package rpc

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ReadCall parses the header of an RPC call.
//
// It rejects replies and oversized credentials. Program, version and RPC
// version are left for the caller to check so it can send the matching
// mismatch reply. Use ReadData for the arguments that follow.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), call); err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}
	if len(call.Cred.Body) > MaxAuthBytes || len(call.Verf.Body) > MaxAuthBytes {
		return nil, fmt.Errorf("auth body of %d/%d bytes exceeds %d",
			len(call.Cred.Body), len(call.Verf.Body), MaxAuthBytes)
	}

	return call, nil
}

// ReadData returns the procedure arguments that follow the call header.
//
// The offset is computed from the header ReadCall decoded:
//   - 6 fixed words (XID through Procedure)
//   - credential: flavor, length, body, padding
//   - verifier: flavor, length, body, padding
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	offset := 24
	offset += 8 + authSize(call.Cred)
	offset += 8 + authSize(call.Verf)

	if offset > len(message) {
		return nil, fmt.Errorf("call header of %d bytes exceeds %d byte message", offset, len(message))
	}
	return message[offset:], nil
}

func authSize(a OpaqueAuth) int {
	n := uint32(len(a.Body))
	return int(n + XdrPadding(n))
}

// XdrPadding returns the bytes needed to pad length to a 4-byte boundary.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
