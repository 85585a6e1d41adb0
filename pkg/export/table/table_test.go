package table

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/auth"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/vfs"
	"github.com/marmos91/nfsd/pkg/vfs/memfs"
)

const sampleTable = `
exports:
  - client: testclient
    path: /srv/export
    options: [ro, no_root_squash]
    fsid: 7
    sec: [sys, krb5]
  - client: "*"
    path: /srv/public
    options: [all_squash, async]
    anonuid: 1000
    anongid: 1001
  - client: testclient
    path: /srv/public/
`

func TestParse(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		tbl, err := Parse([]byte(sampleTable))
		require.NoError(t, err)
		require.Len(t, tbl.Entries, 3)
		assert.Equal(t, "/srv/public", tbl.Entries[2].Path)
		assert.Equal(t, []string{"testclient"}, tbl.Clients())
	})

	t.Run("UnknownOption", func(t *testing.T) {
		_, err := Parse([]byte("exports:\n  - client: a\n    path: /x\n    options: [fast]\n"))
		assert.ErrorContains(t, err, "unknown option")
	})

	t.Run("UnknownFlavor", func(t *testing.T) {
		_, err := Parse([]byte("exports:\n  - client: a\n    path: /x\n    sec: [ntlm]\n"))
		assert.ErrorContains(t, err, "unknown security flavor")
	})

	t.Run("MissingClient", func(t *testing.T) {
		_, err := Parse([]byte("exports:\n  - path: /x\n"))
		assert.ErrorContains(t, err, "missing client")
	})

	t.Run("NotYAML", func(t *testing.T) {
		_, err := Parse([]byte("exports: [:"))
		assert.Error(t, err)
	})
}

func TestEntryFlags(t *testing.T) {
	fsid := uint32(3)
	cases := []struct {
		name string
		e    Entry
		want export.Flags
	}{
		{"Defaults", Entry{}, export.FlagRootSquash},
		{"ReadOnlyNoSquash", Entry{Options: []string{"ro", "no_root_squash"}}, export.FlagReadOnly},
		{"LastWins", Entry{Options: []string{"async", "sync", "rw"}}, export.FlagRootSquash},
		{"FixedFsid", Entry{Fsid: &fsid}, export.FlagRootSquash | export.FlagFSID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.e.Flags()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestByPathAndMerge(t *testing.T) {
	tbl, err := Parse([]byte(sampleTable))
	require.NoError(t, err)

	e, ok := tbl.ByPath("testclient", "/srv/public")
	require.True(t, ok)
	assert.Equal(t, "testclient", e.Client)

	e, ok = tbl.ByPath("other", "/srv/public")
	require.True(t, ok)
	assert.Equal(t, AnyClient, e.Client)

	_, ok = tbl.ByPath("other", "/srv/export")
	assert.False(t, ok)

	override := &Table{Entries: []Entry{{Client: "testclient", Path: "/srv/export", Options: []string{"rw"}}}}
	merged := Merge(override, tbl)
	require.Len(t, merged.Entries, 3)
	e, ok = merged.ByPath("testclient", "/srv/export")
	require.True(t, ok)
	assert.Equal(t, []string{"rw"}, e.Options)
}

type agentFixture struct {
	net    *export.Net
	fs     *memfs.FS
	agent  *Agent
	client *auth.Domain
}

func newAgentFixture(t *testing.T, timeout time.Duration) *agentFixture {
	t.Helper()
	fs := memfs.New(memfs.Options{Dev: vfs.Dev{Major: 8, Minor: 1}})
	for _, p := range []string{"/srv/export/sub", "/srv/public"} {
		_, err := fs.MkdirAll(p, 0o755)
		require.NoError(t, err)
	}
	tbl, err := Parse([]byte(sampleTable))
	require.NoError(t, err)

	net := export.NewNet(fs, auth.NewTable(), export.Config{UpcallTimeout: timeout})
	agent := NewAgent(net, tbl, time.Hour)
	agent.RegisterClients()
	client, err := net.Domains.Find("testclient")
	require.NoError(t, err)
	t.Cleanup(client.Put)
	return &agentFixture{net: net, fs: fs, agent: agent, client: client}
}

func TestAgentAnswer(t *testing.T) {
	f := newAgentFixture(t, 10*time.Millisecond)

	t.Run("ExportPositive", func(t *testing.T) {
		line, err := f.agent.Answer(cache.Request{Cache: export.ExportCacheName, Line: "testclient /srv/export\n"})
		require.NoError(t, err)
		require.NoError(t, f.net.Exports().Parse(line))

		exp, err := f.net.FindByPath(context.Background(), f.client, "/srv/export")
		require.NoError(t, err)
		defer exp.Put()
		assert.Equal(t, export.FlagReadOnly|export.FlagFSID, exp.Flags())
		assert.Equal(t, uint32(7), exp.Fsid())
		assert.Equal(t, uint32(DefaultAnonID), exp.Record().AnonUID)
		assert.Equal(t, []export.Flavor{{Pseudoflavor: 1}, {Pseudoflavor: 390003}}, exp.Record().Flavors)
	})

	t.Run("ExportNegative", func(t *testing.T) {
		line, err := f.agent.Answer(cache.Request{Cache: export.ExportCacheName, Line: "testclient /srv\n"})
		require.NoError(t, err)
		assert.Regexp(t, `^testclient /srv \d+\n$`, line)
	})

	t.Run("KeyNum", func(t *testing.T) {
		line, err := f.agent.Answer(cache.Request{Cache: export.KeyCacheName, Line: "testclient 1 \\x00000007\n"})
		require.NoError(t, err)
		assert.Regexp(t, `^testclient 1 \\x00000007 \d+ /srv/export\n$`, line)
	})

	t.Run("KeyDev", func(t *testing.T) {
		root, err := f.fs.Resolve("/srv/public")
		require.NoError(t, err)
		var b strings.Builder
		cache.AddWord(&b, "other")
		cache.AddWord(&b, "0")
		cache.AddHex(&b, export.MkFsid(export.FsidDev, root.Dev, root.Ino, 0))
		req := cache.Request{Cache: export.KeyCacheName, Line: cache.EndLine(&b)}

		line, err := f.agent.Answer(req)
		require.NoError(t, err)
		assert.Contains(t, line, " /srv/public\n")
	})

	t.Run("KeyUnknown", func(t *testing.T) {
		line, err := f.agent.Answer(cache.Request{Cache: export.KeyCacheName, Line: "testclient 1 \\x00000009\n"})
		require.NoError(t, err)
		assert.Regexp(t, `^testclient 1 \\x00000009 \d+\n$`, line)
	})

	t.Run("UnknownCache", func(t *testing.T) {
		_, err := f.agent.Answer(cache.Request{Cache: "auth.unix.ip", Line: "x\n"})
		assert.Error(t, err)
	})
}

func TestAgentRun(t *testing.T) {
	f := newAgentFixture(t, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx) }()

	exp, err := f.net.FindByFsid(ctx, f.client, export.FsidNum, []byte{0, 0, 0, 7})
	require.NoError(t, err)
	assert.Equal(t, "/srv/export", exp.Path())
	assert.True(t, exp.ReadOnly())
	exp.Put()

	t.Run("ParentWalk", func(t *testing.T) {
		sub, err := f.fs.Resolve("/srv/export/sub")
		require.NoError(t, err)
		exp, err := f.net.FindParent(ctx, f.client, sub)
		require.NoError(t, err)
		assert.Equal(t, "/srv/export", exp.Path())
		exp.Put()
	})

	t.Run("SetTableFlushes", func(t *testing.T) {
		f.agent.SetTable(&Table{Entries: []Entry{{Client: "newclient", Path: "/srv/public"}}})
		assert.Zero(t, f.net.Exports().Len())

		_, err := f.net.FindByPath(ctx, f.client, "/srv/export")
		assert.ErrorIs(t, err, cache.ErrNotFound)

		nc, err := f.net.Domains.Find("newclient")
		require.NoError(t, err)
		defer nc.Put()
		exp, err := f.net.FindByPath(ctx, nc, "/srv/public")
		require.NoError(t, err)
		assert.True(t, exp.Record().Flags.Has(export.FlagRootSquash))
		exp.Put()
	})

	cancel()
	require.NoError(t, <-done)
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadgerStore(BadgerStoreConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	f := newAgentFixture(t, 10*time.Millisecond)
	far := time.Now().Add(time.Hour)

	require.NoError(t, store.Record(export.KeyCacheName, "testclient 1 \\x00000007\n",
		"testclient 1 00000007 2147483647 /srv/export\n", far))
	require.NoError(t, store.Record(export.ExportCacheName, "testclient /srv/export\n",
		"testclient /srv/export 2147483647 0 65534 65534 7\n", far))
	require.NoError(t, store.Record(export.ExportCacheName, "testclient /srv/export\n",
		"testclient /srv/export 2147483647 1 65534 65534 7\n", far))
	require.NoError(t, store.Record(export.ExportCacheName, "gone /srv\n", "gone /srv 2147483647\n", far))
	require.NoError(t, store.Record(export.ExportCacheName, "old /srv\n", "old /srv 1\n", time.Now().Add(-time.Minute)))

	lines, err := store.Lines()
	require.NoError(t, err)
	assert.Len(t, lines[export.KeyCacheName], 1)
	assert.Len(t, lines[export.ExportCacheName], 2)

	applied, err := store.Replay(context.Background(), f.net.Registry())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	exp, err := f.net.FindByFsid(context.Background(), f.client, export.FsidNum, []byte{0, 0, 0, 7})
	require.NoError(t, err)
	assert.True(t, exp.ReadOnly())
	exp.Put()
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0o644))

	tbl, err := Load(context.Background(), NewFileSource(FileSourceConfig{Path: path}), StaticSource{})
	require.NoError(t, err)
	assert.Len(t, tbl.Entries, 3)

	_, err = NewFileSource(FileSourceConfig{Path: filepath.Join(dir, "missing")}).Load(context.Background())
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"cfg/exports.yaml": sampleTable}}

	src := NewS3SourceWithClient(client, "cfg", "exports.yaml")
	assert.Equal(t, "s3://cfg/exports.yaml", src.Name())
	tbl, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, tbl.Entries, 3)

	_, err = NewS3SourceWithClient(client, "cfg", "nope.yaml").Load(context.Background())
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}
