package table

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/vfs"
)

// DefaultTTL is how long answers given by the agent stay cached.
const DefaultTTL = 30 * time.Minute

// Agent answers the request lines queued by a Net's caches from an export
// table, playing the part of the trusted population agent.
type Agent struct {
	net   *export.Net
	table atomic.Pointer[Table]
	ttl   time.Duration
}

// NewAgent returns an agent serving t. A zero ttl means DefaultTTL.
func NewAgent(net *export.Net, t *Table, ttl time.Duration) *Agent {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	a := &Agent{net: net, ttl: ttl}
	a.table.Store(t)
	return a
}

// Table returns the table currently served.
func (a *Agent) Table() *Table {
	return a.table.Load()
}

// SetTable swaps the served table, registers any new client domains and
// flushes both caches so the next lookups see the new policy.
func (a *Agent) SetTable(t *Table) {
	a.table.Store(t)
	a.RegisterClients()
	a.net.Flush()
}

// RegisterClients adds an auth domain for every client the table names.
func (a *Agent) RegisterClients() {
	for _, name := range a.Table().Clients() {
		if _, err := a.net.Domains.Register(name); err != nil {
			logger.Warn("register client %q: %v", name, err)
		}
	}
}

// Run answers requests from every cache in the registry until ctx is done or
// the request queues are closed.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range a.net.Registry().All() {
		ch := ch
		g.Go(func() error {
			return a.serve(ctx, ch)
		})
	}
	return g.Wait()
}

func (a *Agent) serve(ctx context.Context, ch cache.Channel) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-ch.Requests():
			if !ok {
				return nil
			}
			line, err := a.Answer(req)
			if err != nil {
				logger.Warn("agent: cannot answer %s request %q: %v", req.Cache, req.Line, err)
				continue
			}
			if err := ch.Parse(line); err != nil {
				logger.Warn("agent: answer %q rejected: %v", line, err)
				continue
			}
			logger.Debug("agent: answered %s request %s in %v", req.Cache, req.ID, time.Since(req.Queued))
		}
	}
}

// Answer builds the population line for one request.
func (a *Agent) Answer(req cache.Request) (string, error) {
	switch req.Cache {
	case export.KeyCacheName:
		return a.answerKey(req.Line)
	case export.ExportCacheName:
		return a.answerExport(req.Line)
	default:
		return "", fmt.Errorf("unknown cache %q", req.Cache)
	}
}

func (a *Agent) expiry() string {
	return strconv.FormatInt(a.net.Keys().Now().Add(a.ttl).Unix(), 10)
}

// answerKey handles "client fsidtype \xfsid".
func (a *Agent) answerKey(line string) (string, error) {
	s := cache.NewScanner(strings.TrimSuffix(line, "\n"))
	client, err := s.Next()
	if err != nil {
		return "", err
	}
	typ, err := s.Int()
	if err != nil {
		return "", fmt.Errorf("fsid type: %w", err)
	}
	fsid, err := s.Hex()
	if err != nil {
		return "", fmt.Errorf("fsid: %w", err)
	}

	var b strings.Builder
	cache.AddWord(&b, client)
	cache.AddWord(&b, strconv.Itoa(typ))
	cache.AddHex(&b, fsid)
	cache.AddWord(&b, a.expiry())
	if path, ok := a.pathForFsid(client, uint8(typ), fsid); ok {
		cache.AddWord(&b, path)
	}
	return cache.EndLine(&b), nil
}

// pathForFsid finds the root of the export whose fsid the client sent.
func (a *Agent) pathForFsid(client string, typ uint8, fsid []byte) (string, bool) {
	t := a.Table()
	for i := range t.Entries {
		e := &t.Entries[i]
		if !e.matches(client) {
			continue
		}
		switch typ {
		case export.FsidNum:
			if e.Fsid != nil && bytes.Equal(export.MkFsid(typ, vfs.Dev{}, 0, *e.Fsid), fsid) {
				return e.Path, true
			}
		case export.FsidDev:
			root, err := a.net.FS.Resolve(e.Path)
			if err != nil {
				continue
			}
			if bytes.Equal(export.MkFsid(typ, root.Dev, root.Ino, 0), fsid) {
				return e.Path, true
			}
		}
	}
	return "", false
}

// answerExport handles "client path".
func (a *Agent) answerExport(line string) (string, error) {
	s := cache.NewScanner(strings.TrimSuffix(line, "\n"))
	client, err := s.Next()
	if err != nil {
		return "", err
	}
	path, err := s.Next()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	cache.AddWord(&b, client)
	cache.AddWord(&b, path)
	cache.AddWord(&b, a.expiry())

	e, ok := a.Table().ByPath(client, path)
	if !ok {
		return cache.EndLine(&b), nil
	}
	flags, err := e.Flags()
	if err != nil {
		return "", err
	}
	flavors, err := e.Flavors()
	if err != nil {
		return "", err
	}
	uid, gid := e.anon()
	fsid := uint32(0)
	if e.Fsid != nil {
		fsid = *e.Fsid
	}

	cache.AddWord(&b, strconv.FormatUint(uint64(flags), 10))
	cache.AddWord(&b, strconv.FormatInt(int64(int32(uid)), 10))
	cache.AddWord(&b, strconv.FormatInt(int64(int32(gid)), 10))
	cache.AddWord(&b, strconv.FormatInt(int64(int32(fsid)), 10))
	if len(flavors) > 0 {
		cache.AddWord(&b, "secinfo")
		cache.AddWord(&b, strconv.Itoa(len(flavors)))
		for _, f := range flavors {
			cache.AddWord(&b, strconv.FormatInt(int64(int32(f.Pseudoflavor)), 10))
			cache.AddWord(&b, strconv.FormatUint(uint64(f.Flags), 10))
		}
	}
	return cache.EndLine(&b), nil
}
