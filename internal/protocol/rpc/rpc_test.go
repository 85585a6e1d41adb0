package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

func encodeAuthUnix(auth *UnixAuth) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.BigEndian, auth.Stamp)

	nameLen := uint32(len(auth.MachineName))
	_ = binary.Write(buf, binary.BigEndian, nameLen)
	buf.WriteString(auth.MachineName)
	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(buf, binary.BigEndian, auth.UID)
	_ = binary.Write(buf, binary.BigEndian, auth.GID)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.GIDs)))
	for _, gid := range auth.GIDs {
		_ = binary.Write(buf, binary.BigEndian, gid)
	}

	return buf.Bytes()
}

// ============================================================================
// ParseUnixAuth Tests
// ============================================================================

func TestParseUnixAuth(t *testing.T) {
	t.Run("ParsesValidCredentials", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body := encodeAuthUnix(original)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original.Stamp, parsed.Stamp)
		assert.Equal(t, original.MachineName, parsed.MachineName)
		assert.Equal(t, original.UID, parsed.UID)
		assert.Equal(t, original.GID, parsed.GID)
		assert.Equal(t, original.GIDs, parsed.GIDs)
	})

	t.Run("ParsesRootCredentials", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       uint32(time.Now().Unix()),
			MachineName: "testhost",
			UID:         0,
			GID:         0,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), parsed.UID)
		assert.Equal(t, uint32(0), parsed.GID)
		assert.Empty(t, parsed.GIDs)
	})

	t.Run("ParsesWithMaximumGroups", func(t *testing.T) {
		gids := make([]uint32, 16)
		for i := range gids {
			gids[i] = uint32(i + 1000)
		}

		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        gids,
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Len(t, parsed.GIDs, 16)
		assert.Equal(t, gids, parsed.GIDs)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(8))
		_, _ = buf.WriteString("testhost")
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(17)) // Too many groups

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(256)) // Too long

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "machine name too long")
	})

	t.Run("RejectsTruncatedBody", func(t *testing.T) {
		body := encodeAuthUnix(validAuthUnixCredentials())

		_, err := ParseUnixAuth(body[:len(body)-2])
		require.Error(t, err)
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseUnixAuth([]byte{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("HandlesEmptyMachineName", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.MachineName)
	})
}

// ============================================================================
// UnixAuthString Tests
// ============================================================================

func TestUnixAuthString(t *testing.T) {
	t.Run("FormatsCorrectly", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{4, 24, 27, 30},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "1000")
		assert.Contains(t, str, "[4 24 27 30]")
	})

	t.Run("FormatsEmptyGroups", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "[]")
	})
}

func TestUnixAuthCred(t *testing.T) {
	ua := validAuthUnixCredentials()
	cred := ua.Cred()

	assert.Equal(t, uint32(1000), cred.UID)
	assert.Equal(t, uint32(1000), cred.GID)
	assert.True(t, cred.InGroup(27))

	cred.GIDs[0] = 99
	assert.Equal(t, uint32(4), ua.GIDs[0], "credential must not alias the parsed group list")
}

// ============================================================================
// AuthFlavors Tests
// ============================================================================

func TestAuthFlavors(t *testing.T) {
	t.Run("AuthNullValue", func(t *testing.T) {
		assert.Equal(t, uint32(0), AuthNull)
	})

	t.Run("AuthUnixValue", func(t *testing.T) {
		assert.Equal(t, uint32(1), AuthUnix)
	})

	t.Run("AuthShortValue", func(t *testing.T) {
		assert.Equal(t, uint32(2), AuthShort)
	})

	t.Run("AuthDESValue", func(t *testing.T) {
		assert.Equal(t, uint32(3), AuthDES)
	})

	t.Run("FlavorsAreUnique", func(t *testing.T) {
		flavors := []uint32{AuthNull, AuthUnix, AuthShort, AuthDES}

		seen := make(map[uint32]bool)
		for _, flavor := range flavors {
			assert.False(t, seen[flavor], "flavor %d is not unique", flavor)
			seen[flavor] = true
		}
	})
}

// ============================================================================
// Call Header Tests
// ============================================================================

func encodeCall(t *testing.T, call *RPCCallMessage, args []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	_, err := xdr.Marshal(buf, call)
	require.NoError(t, err)
	buf.Write(args)
	return buf.Bytes()
}

func nfsCall(cred OpaqueAuth) *RPCCallMessage {
	return &RPCCallMessage{
		XID:        0xdeadbeef,
		MsgType:    RPCCall,
		RPCVersion: RPCVersion,
		Program:    ProgramNFS,
		Version:    3,
		Procedure:  1,
		Cred:       cred,
		Verf:       OpaqueAuth{Flavor: AuthNull, Body: []byte{}},
	}
}

func TestReadCall(t *testing.T) {
	t.Run("SplitsHeaderAndArguments", func(t *testing.T) {
		body := encodeAuthUnix(validAuthUnixCredentials())
		args := []byte{0, 0, 0, 8, 1, 2, 3, 4, 5, 6, 7, 8}
		msg := encodeCall(t, nfsCall(OpaqueAuth{Flavor: AuthUnix, Body: body}), args)

		call, err := ReadCall(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xdeadbeef), call.XID)
		assert.Equal(t, uint32(ProgramNFS), call.Program)
		assert.Equal(t, AuthUnix, call.GetAuthFlavor())
		assert.Equal(t, body, call.GetAuthBody())

		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Equal(t, args, data)
	})

	t.Run("PadsOddCredentialLength", func(t *testing.T) {
		args := []byte{0, 0, 0, 42}
		msg := encodeCall(t, nfsCall(OpaqueAuth{Flavor: 99, Body: []byte{1, 2, 3, 4, 5}}), args)

		call, err := ReadCall(msg)
		require.NoError(t, err)
		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Equal(t, args, data)
	})

	t.Run("NoArguments", func(t *testing.T) {
		msg := encodeCall(t, nfsCall(OpaqueAuth{Flavor: AuthNull, Body: []byte{}}), nil)

		call, err := ReadCall(msg)
		require.NoError(t, err)
		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("RejectsReply", func(t *testing.T) {
		c := nfsCall(OpaqueAuth{Flavor: AuthNull, Body: []byte{}})
		c.MsgType = RPCReply

		_, err := ReadCall(encodeCall(t, c, nil))
		require.Error(t, err)
	})

	t.Run("RejectsOversizedCredential", func(t *testing.T) {
		msg := encodeCall(t, nfsCall(OpaqueAuth{Flavor: AuthUnix, Body: make([]byte, MaxAuthBytes+4)}), nil)

		_, err := ReadCall(msg)
		require.Error(t, err)
	})

	t.Run("RejectsTruncatedHeader", func(t *testing.T) {
		msg := encodeCall(t, nfsCall(OpaqueAuth{Flavor: AuthNull, Body: []byte{}}), nil)

		_, err := ReadCall(msg[:20])
		require.Error(t, err)
	})
}

// ============================================================================
// Reply Tests
// ============================================================================

func words(t *testing.T, b []byte) []uint32 {
	t.Helper()
	require.Zero(t, len(b)%4, "reply is not word aligned")
	w := make([]uint32, len(b)/4)
	for i := range w {
		w[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return w
}

func TestReplies(t *testing.T) {
	const xid = 0x01020304

	t.Run("Success", func(t *testing.T) {
		reply, err := MakeSuccessReply(xid, []byte{0, 0, 0, 7})
		require.NoError(t, err)
		assert.Equal(t, []uint32{xid, RPCReply, RPCMsgAccepted, AuthNull, 0, RPCSuccess, 7}, words(t, reply))
	})

	t.Run("Error", func(t *testing.T) {
		reply, err := MakeErrorReply(xid, RPCGarbageArgs)
		require.NoError(t, err)
		assert.Equal(t, []uint32{xid, RPCReply, RPCMsgAccepted, AuthNull, 0, RPCGarbageArgs}, words(t, reply))
	})

	t.Run("ProgMismatch", func(t *testing.T) {
		reply, err := MakeProgMismatchReply(xid, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint32{xid, RPCReply, RPCMsgAccepted, AuthNull, 0, RPCProgMismatch, 3, 3}, words(t, reply))
	})

	t.Run("RPCMismatch", func(t *testing.T) {
		reply, err := MakeRPCMismatchReply(xid)
		require.NoError(t, err)
		assert.Equal(t, []uint32{xid, RPCReply, RPCMsgDenied, RPCMismatch, 2, 2}, words(t, reply))
	})

	t.Run("AuthError", func(t *testing.T) {
		reply, err := MakeAuthErrorReply(xid, AuthTooWeak)
		require.NoError(t, err)
		assert.Equal(t, []uint32{xid, RPCReply, RPCMsgDenied, RPCAuthError, AuthTooWeak}, words(t, reply))
	})
}
