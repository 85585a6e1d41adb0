package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfsd/pkg/auth"
)

const (
	// MaxMachineName is the longest AUTH_UNIX machine name (RFC 5531
	// Appendix A).
	MaxMachineName = 255

	// MaxGIDs is the largest AUTH_UNIX supplementary group list.
	MaxGIDs = 16
)

// UnixAuth is an AUTH_UNIX (AUTH_SYS) credential body.
//
//	struct authsys_parms {
//	    unsigned int stamp;
//	    string machinename<255>;
//	    unsigned int uid;
//	    unsigned int gid;
//	    unsigned int gids<16>;
//	};
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// ParseUnixAuth decodes an AUTH_UNIX credential body.
//
// The machine name and group list bounds are checked before decoding, so
// a hostile length never drives an allocation.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, errors.New("parse AUTH_UNIX: empty body")
	}
	if len(body) < 8 {
		return nil, fmt.Errorf("parse AUTH_UNIX: %d byte body", len(body))
	}

	nameLen := binary.BigEndian.Uint32(body[4:8])
	if nameLen > MaxMachineName {
		return nil, fmt.Errorf("parse AUTH_UNIX: machine name too long (%d)", nameLen)
	}
	off := 8 + int(nameLen) + int(XdrPadding(nameLen)) + 8
	if len(body) >= off+4 {
		if n := binary.BigEndian.Uint32(body[off : off+4]); n > MaxGIDs {
			return nil, fmt.Errorf("parse AUTH_UNIX: too many gids (%d)", n)
		}
	}

	ua := &UnixAuth{}
	if _, err := xdr.Unmarshal(bytes.NewReader(body), ua); err != nil {
		return nil, fmt.Errorf("parse AUTH_UNIX: %w", err)
	}
	if ua.GIDs == nil {
		ua.GIDs = []uint32{}
	}
	return ua, nil
}

// Cred returns the caller credential the credential names.
func (a *UnixAuth) Cred() auth.Cred {
	gids := make([]uint32, len(a.GIDs))
	copy(gids, a.GIDs)
	return auth.Cred{UID: a.UID, GID: a.GID, GIDs: gids}
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("AUTH_UNIX{machine=%s uid=%d gid=%d gids=%v}",
		a.MachineName, a.UID, a.GID, a.GIDs)
}
