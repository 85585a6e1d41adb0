package export

import "strings"

// Flags is the export option bitmask carried on export cache lines.
type Flags uint32

const (
	FlagReadOnly     Flags = 0x0001
	FlagInsecurePort Flags = 0x0002
	FlagRootSquash   Flags = 0x0004
	FlagAllSquash    Flags = 0x0008
	FlagAsync        Flags = 0x0010
	FlagFSID         Flags = 0x2000
)

// flagNames lists the options shown in cache dumps: the name used when the
// bit is set, then the name used when it is clear.
var flagNames = []struct {
	flag Flags
	set  string
	clr  string
}{
	{FlagReadOnly, "ro", "rw"},
	{FlagRootSquash, "root_squash", "no_root_squash"},
	{FlagAsync, "async", "sync"},
}

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// String renders f as a comma-separated option list, e.g. "rw,root_squash,sync".
func (f Flags) String() string {
	parts := make([]string, 0, len(flagNames))
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.set)
		} else {
			parts = append(parts, n.clr)
		}
	}
	return strings.Join(parts, ",")
}
