package auth

// Cred is the identity a request runs under, as resolved from the RPC
// credential before the call reaches the protocol layer.
type Cred struct {
	UID  uint32
	GID  uint32
	GIDs []uint32
}

// IsRoot reports whether the credential carries uid 0.
func (c Cred) IsRoot() bool {
	return c.UID == 0
}

// Squash returns the credential with its identity replaced by the anonymous
// uid/gid and supplementary groups cleared.
func (c Cred) Squash(anonUID, anonGID uint32) Cred {
	return Cred{UID: anonUID, GID: anonGID}
}

// InGroup reports whether gid is the primary or a supplementary group.
func (c Cred) InGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.GIDs {
		if g == gid {
			return true
		}
	}
	return false
}
