package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a NEGATIVE entry: the agent answered and there is nothing there.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrRetry reports an entry still awaiting population after the bounded
	// wait, or one that went stale and has been re-requested.
	ErrRetry = errors.New("cache: population pending, retry later")

	// ErrClosed is returned by Parse after the cache has been shut down.
	ErrClosed = errors.New("cache: closed")
)

// ParseError describes a rejected population line. Err wraps unix.EINVAL for
// malformed lines or unix.ENOENT for unknown clients and paths.
type ParseError struct {
	Cache string
	Line  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %q: %v", e.Cache, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
