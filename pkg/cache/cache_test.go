package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type testItem struct {
	key   string
	value string
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOps() Ops[testItem] {
	return Ops[testItem]{
		Hash:   func(it *testItem) uint64 { return xxhash.Sum64String(it.key) },
		Match:  func(a, b *testItem) bool { return a.key == b.key },
		Init:   func(dst, src *testItem) { dst.key = src.key },
		Update: func(dst, src *testItem) { dst.value = src.value },
		Request: func(it *testItem) string {
			var b strings.Builder
			AddWord(&b, it.key)
			return EndLine(&b)
		},
		Header: "#key value",
		Show: func(w io.Writer, e *Entry[testItem]) error {
			_, err := fmt.Fprintf(w, "%s %s %s\n", e.Item().key, e.Item().value, e.State())
			return err
		},
	}
}

func newTestDetail(t *testing.T, clock *fakeClock) *Detail[testItem] {
	t.Helper()
	cfg := Config{Name: "test", HashBits: 2, UpcallTimeout: 20 * time.Millisecond, QueueSize: 4}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return New(cfg, testOps())
}

func install(d *Detail[testItem], key, value string, negative bool, expiry time.Time) *Entry[testItem] {
	e := d.Lookup(&testItem{key: key})
	return d.Update(&testItem{key: key, value: value}, e, negative, expiry)
}

func TestLookup(t *testing.T) {
	t.Run("MissInsertsPending", func(t *testing.T) {
		d := newTestDetail(t, nil)
		e := d.Lookup(&testItem{key: "a"})
		assert.Equal(t, StatePending, e.State())
		assert.Equal(t, int32(2), e.Refs())
		assert.Equal(t, 1, d.Len())
	})

	t.Run("HitReturnsSameEntry", func(t *testing.T) {
		d := newTestDetail(t, nil)
		a := d.Lookup(&testItem{key: "a"})
		b := d.Lookup(&testItem{key: "a"})
		assert.Same(t, a, b)
		assert.Equal(t, int32(3), a.Refs())
		assert.Equal(t, 1, d.Len())
	})

	t.Run("ManyKeysShareBuckets", func(t *testing.T) {
		d := newTestDetail(t, nil)
		for i := 0; i < 32; i++ {
			d.Lookup(&testItem{key: fmt.Sprintf("k%d", i)}).Put()
		}
		assert.Equal(t, 32, d.Len())
		for i := 0; i < 32; i++ {
			e := d.Lookup(&testItem{key: fmt.Sprintf("k%d", i)})
			assert.Equal(t, fmt.Sprintf("k%d", i), e.Item().key)
			e.Put()
		}
		assert.Equal(t, 32, d.Len())
	})
}

func TestUpdate(t *testing.T) {
	t.Run("FillsPendingInPlace", func(t *testing.T) {
		d := newTestDetail(t, nil)
		e := d.Lookup(&testItem{key: "a"})
		u := d.Update(&testItem{key: "a", value: "1"}, e, false, time.Now().Add(time.Hour))
		assert.Same(t, e, u)
		assert.Equal(t, StateValid, u.State())
		assert.Equal(t, "1", u.Item().value)
		assert.Equal(t, int32(2), u.Refs())
	})

	t.Run("ReplacesValidEntry", func(t *testing.T) {
		d := newTestDetail(t, nil)
		first := install(d, "a", "1", false, time.Now().Add(time.Hour))

		held := d.Lookup(&testItem{key: "a"})
		second := d.Update(&testItem{key: "a", value: "2"}, held, false, time.Now().Add(time.Hour))
		assert.NotSame(t, first, second)
		assert.Equal(t, StateExpiring, first.State())
		assert.Equal(t, "1", first.Item().value)
		assert.Equal(t, 1, d.Len())

		cur := d.Lookup(&testItem{key: "a"})
		assert.Same(t, second, cur)
		assert.Equal(t, "2", cur.Item().value)
	})

	t.Run("NegativeSkipsContent", func(t *testing.T) {
		d := newTestDetail(t, nil)
		e := install(d, "a", "ignored", true, time.Now().Add(time.Hour))
		assert.Equal(t, StateNegative, e.State())
		assert.True(t, e.Negative())
		assert.Empty(t, e.Item().value)
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidIsOk", func(t *testing.T) {
		d := newTestDetail(t, nil)
		install(d, "a", "1", false, time.Now().Add(time.Hour)).Put()

		e := d.Lookup(&testItem{key: "a"})
		require.NoError(t, d.Check(ctx, e))
		assert.Equal(t, "1", e.Item().value)
		assert.Equal(t, int32(2), e.Refs())
		e.Put()
	})

	t.Run("NegativeIsNotFoundWithoutRequest", func(t *testing.T) {
		d := newTestDetail(t, nil)
		install(d, "a", "", true, time.Now().Add(time.Hour)).Put()

		e := d.Lookup(&testItem{key: "a"})
		assert.ErrorIs(t, d.Check(ctx, e), ErrNotFound)
		assert.Equal(t, int32(1), e.Refs())
		assert.Empty(t, d.Requests())
	})

	t.Run("PendingTimesOutWithRetry", func(t *testing.T) {
		d := newTestDetail(t, nil)
		e := d.Lookup(&testItem{key: "a b"})

		start := time.Now()
		assert.ErrorIs(t, d.Check(ctx, e), ErrRetry)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, int32(1), e.Refs())

		req := <-d.Requests()
		assert.Equal(t, "test", req.Cache)
		assert.Equal(t, "a\\040b\n", req.Line)
		assert.NotEmpty(t, req.ID.String())
	})

	t.Run("PendingWakesOnUpdate", func(t *testing.T) {
		d := New(Config{Name: "test", UpcallTimeout: 5 * time.Second}, testOps())
		e := d.Lookup(&testItem{key: "a"})

		go func() {
			<-d.Requests()
			held := d.Lookup(&testItem{key: "a"})
			d.Update(&testItem{key: "a", value: "1"}, held, false, time.Now().Add(time.Hour)).Put()
		}()

		require.NoError(t, d.Check(ctx, e))
		assert.Equal(t, "1", e.Item().value)
		e.Put()
	})

	t.Run("PendingHonorsContext", func(t *testing.T) {
		d := New(Config{Name: "test", UpcallTimeout: time.Minute}, testOps())
		e := d.Lookup(&testItem{key: "a"})

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, d.Check(cctx, e), ErrRetry)
	})

	t.Run("ExpiredRetriggersPopulation", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_000_000, 0)}
		d := newTestDetail(t, clock)
		install(d, "a", "1", false, clock.Now().Add(10*time.Second)).Put()

		e := d.Lookup(&testItem{key: "a"})
		require.NoError(t, d.Check(ctx, e))
		e.Put()

		clock.Advance(11 * time.Second)

		// The held entry goes stale and is re-requested.
		held := d.Lookup(&testItem{key: "a"})
		assert.Equal(t, StatePending, held.State())
		assert.ErrorIs(t, d.Check(ctx, held), ErrRetry)
		req := <-d.Requests()
		assert.Equal(t, "a\n", req.Line)
	})

	t.Run("ExpiredHeldReferenceIsRetry", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(1_000_000, 0)}
		d := newTestDetail(t, clock)
		e := install(d, "a", "1", false, clock.Now().Add(10*time.Second))

		clock.Advance(time.Minute)
		assert.ErrorIs(t, d.Check(ctx, e), ErrRetry)
		assert.Len(t, d.Requests(), 1)
	})

	t.Run("SingleRequestPerTimeout", func(t *testing.T) {
		d := New(Config{Name: "test", UpcallTimeout: time.Hour}, testOps())
		e := d.Lookup(&testItem{key: "a"})
		e.Get()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, d.Check(cctx, e), ErrRetry)
		assert.ErrorIs(t, d.Check(cctx, e), ErrRetry)
		assert.Len(t, d.Requests(), 1)
	})
}

func TestRequestQueue(t *testing.T) {
	t.Run("FullQueueDrops", func(t *testing.T) {
		d := New(Config{Name: "test", QueueSize: 1, UpcallTimeout: time.Millisecond}, testOps())
		cctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, d.Check(cctx, d.Lookup(&testItem{key: "a"})), ErrRetry)
		assert.ErrorIs(t, d.Check(cctx, d.Lookup(&testItem{key: "b"})), ErrRetry)
		assert.Len(t, d.Requests(), 1)
	})

	t.Run("CloseStopsRequests", func(t *testing.T) {
		d := newTestDetail(t, nil)
		d.Close()
		d.Close()

		_, open := <-d.Requests()
		assert.False(t, open)
		assert.ErrorIs(t, d.Check(context.Background(), d.Lookup(&testItem{key: "a"})), ErrRetry)
	})
}

func TestPurge(t *testing.T) {
	d := newTestDetail(t, nil)
	held := install(d, "a", "1", false, time.Now().Add(time.Hour))
	install(d, "b", "2", false, time.Now().Add(time.Hour)).Put()

	d.Purge()
	assert.Equal(t, 0, d.Len())

	// The held result stays readable until released.
	assert.Equal(t, "1", held.Item().value)
	assert.Equal(t, int32(1), held.Refs())
	assert.Equal(t, StateExpiring, held.State())
	held.Put()

	fresh := d.Lookup(&testItem{key: "a"})
	assert.Equal(t, StatePending, fresh.State())
}

func TestCleanExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000_000, 0)}
	d := newTestDetail(t, clock)
	install(d, "short", "1", false, clock.Now().Add(time.Second)).Put()
	install(d, "long", "2", false, clock.Now().Add(time.Hour)).Put()

	assert.Equal(t, 0, d.CleanExpired())
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, d.CleanExpired())
	assert.Equal(t, 1, d.Len())
}

func TestShow(t *testing.T) {
	d := newTestDetail(t, nil)
	install(d, "a", "1", false, time.Now().Add(time.Hour)).Put()

	var buf bytes.Buffer
	require.NoError(t, d.Show(&buf))
	assert.Equal(t, "#key value\na 1 valid\n", buf.String())
}

func TestParse(t *testing.T) {
	t.Run("NoParser", func(t *testing.T) {
		assert.Error(t, newTestDetail(t, nil).Parse("a\n"))
	})

	t.Run("WrapsRejection", func(t *testing.T) {
		d := newTestDetail(t, nil)
		d.SetParser(func(line string) error {
			return fmt.Errorf("unknown client: %w", unix.ENOENT)
		})

		err := d.Parse("nobody 1\n")
		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "test", perr.Cache)
		assert.Equal(t, "nobody 1\n", perr.Line)
		assert.ErrorIs(t, err, unix.ENOENT)
	})

	t.Run("Closed", func(t *testing.T) {
		d := newTestDetail(t, nil)
		d.SetParser(func(string) error { return nil })
		d.Close()
		assert.ErrorIs(t, d.Parse("a\n"), ErrClosed)
	})
}

func TestConcurrentAccess(t *testing.T) {
	d := New(Config{Name: "test", UpcallTimeout: 50 * time.Millisecond, QueueSize: 1024}, testOps())
	ctx := context.Background()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%16)
				if (i+w)%3 == 0 {
					e := d.Lookup(&testItem{key: key})
					d.Update(&testItem{key: key, value: "v"}, e, false, time.Now().Add(time.Hour)).Put()
					continue
				}
				e := d.Lookup(&testItem{key: key})
				if err := d.Check(ctx, e); err != nil {
					if !errors.Is(err, ErrRetry) {
						return err
					}
					continue
				}
				if e.Item().value != "v" {
					e.Put()
					return fmt.Errorf("key %s: value %q", key, e.Item().value)
				}
				e.Put()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 16, d.Len())
}

func TestRegistry(t *testing.T) {
	a := New(Config{Name: "nfsd.fh"}, testOps())
	b := New(Config{Name: "nfsd.export"}, testOps())
	r := NewRegistry(a, b)

	assert.Equal(t, []string{"nfsd.export", "nfsd.fh"}, r.Names())
	ch, err := r.Get("nfsd.fh")
	require.NoError(t, err)
	assert.Equal(t, "nfsd.fh", ch.Name())
	_, err = r.Get("auth.unix.ip")
	assert.Error(t, err)
	assert.Len(t, r.All(), 2)
}
