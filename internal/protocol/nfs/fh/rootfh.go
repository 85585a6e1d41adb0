package fh

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
)

// RootHandle composes the handle of path for client, as mountd hands out at
// mount time. The export covering path is found by walking up from path.
// maxSize must be at least MinRootSize and is clamped to MaxSize.
func RootHandle(ctx context.Context, net *export.Net, client, path string, maxSize int) (Handle, error) {
	if maxSize < MinRootSize {
		return nil, fmt.Errorf("root handle size %d below %d: %w", maxSize, MinRootSize, unix.EINVAL)
	}
	dom, err := net.Domains.Register(client)
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", client, unix.EINVAL)
	}
	h, _, err := MountHandle(ctx, net, dom, path, maxSize)
	return h, err
}

// MountHandle is RootHandle for an already registered domain. It also
// returns the security flavors of the export the handle lives in.
func MountHandle(ctx context.Context, net *export.Net, dom *auth.Domain, path string, maxSize int) (Handle, []export.Flavor, error) {
	if maxSize < MinRootSize {
		return nil, nil, fmt.Errorf("root handle size %d below %d: %w", maxSize, MinRootSize, unix.EINVAL)
	}
	maxSize = min(maxSize, MaxSize)

	d, err := net.FS.Resolve(path)
	if err != nil {
		return nil, nil, fmt.Errorf("root handle %s: %w", path, unix.EPERM)
	}

	exp, err := net.FindParent(ctx, dom, d)
	if err != nil {
		return nil, nil, fmt.Errorf("root handle %s for %s: %w", path, dom.Name(), err)
	}
	defer exp.Put()

	f := New(maxSize)
	defer f.Put()
	if err := Compose(net.FS, f, exp, d, nil); err != nil {
		return nil, nil, fmt.Errorf("root handle %s: %v: %w", path, err, unix.EINVAL)
	}
	flavors := append([]export.Flavor(nil), exp.Record().Flavors...)
	return append(Handle(nil), f.Handle...), flavors, nil
}

// RootHandleLine answers one root handle transaction:
//
//	domain path maxsize\n
//
// with the handle as a hex word ("\x..."), newline terminated.
func RootHandleLine(ctx context.Context, net *export.Net, line string) (string, error) {
	if !strings.HasSuffix(line, "\n") {
		return "", fmt.Errorf("missing newline: %w", unix.EINVAL)
	}
	s := cache.NewScanner(strings.TrimSuffix(line, "\n"))

	client, err := s.Next()
	if err != nil || client == "" {
		return "", fmt.Errorf("missing domain: %w", unix.EINVAL)
	}
	path, err := s.Next()
	if err != nil || path == "" {
		return "", fmt.Errorf("missing path: %w", unix.EINVAL)
	}
	maxSize, err := s.Int()
	if err != nil {
		return "", fmt.Errorf("maxsize: %w", unix.EINVAL)
	}
	if extra, _ := s.Next(); extra != "" {
		return "", fmt.Errorf("trailing field %q: %w", extra, unix.EINVAL)
	}

	h, err := RootHandle(ctx, net, client, path, maxSize)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	cache.AddHex(&b, h)
	return cache.EndLine(&b), nil
}
