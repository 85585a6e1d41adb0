// Package auth holds the authentication domains that export cache lines are
// keyed by, and the already-resolved caller credential a request runs under.
//
// Mapping an RPC credential to a domain is the job of the transport layer;
// this package only names domains and counts references to them.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrUnknownDomain is returned when a name has no registered domain.
var ErrUnknownDomain = errors.New("unknown auth domain")

// Domain is a named client identity.
//
// Cache entries keep a borrowed pointer to their domain. Callers that obtain a
// Domain through Table.Find own one reference and must call Put.
type Domain struct {
	name  string
	refs  atomic.Int32
	table *Table
}

// Name returns the domain name used in cache lines.
func (d *Domain) Name() string {
	return d.name
}

// Get takes an additional reference.
func (d *Domain) Get() *Domain {
	d.refs.Add(1)
	return d
}

// Put drops a reference. A domain that was unregistered is forgotten by its
// table once the last reference is gone.
func (d *Domain) Put() {
	if d.refs.Add(-1) == 0 && d.table != nil {
		d.table.release(d)
	}
}

// Refs reports the current reference count.
func (d *Domain) Refs() int32 {
	return d.refs.Load()
}

// Table maps domain names to domains.
type Table struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// NewTable creates an empty domain table.
func NewTable() *Table {
	return &Table{domains: make(map[string]*Domain)}
}

// Register adds a domain, or returns the existing one. The table holds one
// reference for as long as the domain stays registered.
func (t *Table) Register(name string) (*Domain, error) {
	if name == "" {
		return nil, fmt.Errorf("register domain: empty name")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if d, ok := t.domains[name]; ok {
		return d, nil
	}
	d := &Domain{name: name, table: t}
	d.refs.Store(1)
	t.domains[name] = d
	return d, nil
}

// Find returns the named domain with a reference the caller must Put.
func (t *Table) Find(name string) (*Domain, error) {
	t.mu.RLock()
	d, ok := t.domains[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d.Get(), nil
}

// Unregister drops the table's reference. Entries already holding the
// domain keep a usable pointer until they are purged.
func (t *Table) Unregister(name string) {
	t.mu.RLock()
	d, ok := t.domains[name]
	t.mu.RUnlock()
	if ok {
		d.Put()
	}
}

func (t *Table) release(d *Domain) {
	t.mu.Lock()
	if cur, ok := t.domains[d.name]; ok && cur == d {
		delete(t.domains, d.name)
	}
	t.mu.Unlock()
}

// Names lists registered domains in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.domains))
	for name := range t.domains {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}
