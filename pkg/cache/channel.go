package cache

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Channel is the type-independent face of a Detail that the control channel
// and the population agent talk to.
type Channel interface {
	Name() string
	Parse(line string) error
	Show(w io.Writer) error
	Requests() <-chan Request
	Purge()
	CleanExpired() int
	Len() int
}

var _ Channel = (*Detail[struct{}])(nil)

// Registry maps cache names to channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry returns a registry holding channels.
func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	return r
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache %q", name)
	}
	return ch, nil
}

// Names lists registered cache names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered channel in name order.
func (r *Registry) All() []Channel {
	names := r.Names()
	out := make([]Channel, 0, len(names))
	r.mu.RLock()
	for _, name := range names {
		out = append(out, r.channels[name])
	}
	r.mu.RUnlock()
	return out
}
