// Package table holds the administrator's export table and the agent that
// answers export cache requests from it.
//
// An export table is a YAML list of entries, each granting one client (or
// every client, with "*") access to a path:
//
//	exports:
//	  - client: testclient
//	    path: /srv/export
//	    options: [rw, no_root_squash]
//	    fsid: 7
//	    sec: [sys, krb5]
//
// Tables are loaded from Sources. The Agent consults the current table for
// every request line queued by the key and export caches.
package table

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// AnyClient matches every client name.
const AnyClient = "*"

// DefaultAnonID is the uid and gid squashed callers run as when an entry
// does not set one.
const DefaultAnonID = 65534

var optionFlags = map[string]struct {
	set   export.Flags
	clear export.Flags
}{
	"ro":             {set: export.FlagReadOnly},
	"rw":             {clear: export.FlagReadOnly},
	"root_squash":    {set: export.FlagRootSquash},
	"no_root_squash": {clear: export.FlagRootSquash},
	"all_squash":     {set: export.FlagAllSquash},
	"no_all_squash":  {clear: export.FlagAllSquash},
	"async":          {set: export.FlagAsync},
	"sync":           {clear: export.FlagAsync},
	"insecure":       {set: export.FlagInsecurePort},
	"secure":         {clear: export.FlagInsecurePort},
}

var flavorNumbers = map[string]uint32{
	"none":  0,
	"sys":   1,
	"krb5":  390003,
	"krb5i": 390004,
	"krb5p": 390005,
}

// Entry is one export table row.
type Entry struct {
	Client  string   `yaml:"client" mapstructure:"client"`
	Path    string   `yaml:"path" mapstructure:"path"`
	Options []string `yaml:"options,omitempty" mapstructure:"options"`
	AnonUID *uint32  `yaml:"anonuid,omitempty" mapstructure:"anonuid"`
	AnonGID *uint32  `yaml:"anongid,omitempty" mapstructure:"anongid"`
	Fsid    *uint32  `yaml:"fsid,omitempty" mapstructure:"fsid"`
	Sec     []string `yaml:"sec,omitempty" mapstructure:"sec"`
}

// Flags computes the export flags. Entries start from root_squash and sync;
// options apply left to right; a fixed fsid sets FlagFSID.
func (e *Entry) Flags() (export.Flags, error) {
	flags := export.FlagRootSquash
	for _, opt := range e.Options {
		f, ok := optionFlags[opt]
		if !ok {
			return 0, fmt.Errorf("export %s: unknown option %q", e.Path, opt)
		}
		flags = (flags | f.set) &^ f.clear
	}
	if e.Fsid != nil {
		flags |= export.FlagFSID
	}
	return flags, nil
}

// Flavors maps the sec list to pseudoflavors, most preferred first.
func (e *Entry) Flavors() ([]export.Flavor, error) {
	if len(e.Sec) > export.MaxSecinfo {
		return nil, fmt.Errorf("export %s: %d security flavors, at most %d", e.Path, len(e.Sec), export.MaxSecinfo)
	}
	out := make([]export.Flavor, 0, len(e.Sec))
	for _, name := range e.Sec {
		n, ok := flavorNumbers[name]
		if !ok {
			return nil, fmt.Errorf("export %s: unknown security flavor %q", e.Path, name)
		}
		out = append(out, export.Flavor{Pseudoflavor: n})
	}
	return out, nil
}

func (e *Entry) anon() (uint32, uint32) {
	uid, gid := uint32(DefaultAnonID), uint32(DefaultAnonID)
	if e.AnonUID != nil {
		uid = *e.AnonUID
	}
	if e.AnonGID != nil {
		gid = *e.AnonGID
	}
	return uid, gid
}

func (e *Entry) matches(client string) bool {
	return e.Client == AnyClient || e.Client == client
}

// Validate checks an entry without touching the filesystem.
func (e *Entry) Validate() error {
	if e.Client == "" {
		return fmt.Errorf("export %s: missing client", e.Path)
	}
	if !strings.HasPrefix(e.Path, "/") {
		return fmt.Errorf("export %q: path must be absolute", e.Path)
	}
	if _, err := e.Flags(); err != nil {
		return err
	}
	_, err := e.Flavors()
	return err
}

// Table is an immutable set of export entries.
type Table struct {
	Entries []Entry `yaml:"exports"`
}

// Parse decodes and validates a YAML export table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode export table: %w", err)
	}
	for i := range t.Entries {
		t.Entries[i].Path = vfs.Clean(t.Entries[i].Path)
		if err := t.Entries[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// Merge returns a table holding the entries of every table in order. Earlier
// entries win when two name the same client and path.
func Merge(tables ...*Table) *Table {
	out := &Table{}
	seen := make(map[string]bool)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, e := range t.Entries {
			k := e.Client + "\x00" + e.Path
			if seen[k] {
				continue
			}
			seen[k] = true
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// ByPath returns the entry exporting exactly path to client. An entry naming
// the client wins over a wildcard one.
func (t *Table) ByPath(client, path string) (*Entry, bool) {
	var wild *Entry
	for i := range t.Entries {
		e := &t.Entries[i]
		if e.Path != path || !e.matches(client) {
			continue
		}
		if e.Client == client {
			return e, true
		}
		if wild == nil {
			wild = e
		}
	}
	return wild, wild != nil
}

// Clients lists the distinct client names the table mentions, without the
// wildcard.
func (t *Table) Clients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.Entries {
		if e.Client == AnyClient || seen[e.Client] {
			continue
		}
		seen[e.Client] = true
		out = append(out, e.Client)
	}
	return out
}

// Marshal encodes the table as YAML.
func (t *Table) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}
