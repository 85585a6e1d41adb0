package cache

import (
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/nfsd/internal/logger"
)

// Request is one population request waiting for the agent.
type Request struct {
	ID     uuid.UUID
	Cache  string
	Line   string
	Queued time.Time
}

// Requests returns the queue the agent drains. It is closed by Close.
func (d *Detail[T]) Requests() <-chan Request {
	return d.requests
}

// Close stops accepting requests and closes the request queue. Lookups and
// checks keep working against whatever is already hashed.
func (d *Detail[T]) Close() {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.requests)
}

func (d *Detail[T]) isClosed() bool {
	d.reqMu.RLock()
	defer d.reqMu.RUnlock()
	return d.closed
}

// upcall queues a request line for e unless one was queued within the last
// upcall timeout. A full queue drops the request; the next Check retries it.
func (d *Detail[T]) upcall(e *Entry[T]) {
	now := d.cfg.Now()
	last := e.upcallAt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < d.cfg.UpcallTimeout {
		return
	}
	if !e.upcallAt.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	req := Request{
		ID:     uuid.New(),
		Cache:  d.cfg.Name,
		Line:   d.ops.Request(&e.item),
		Queued: now,
	}

	d.reqMu.RLock()
	defer d.reqMu.RUnlock()

	if d.closed {
		e.upcallAt.Store(0)
		return
	}

	select {
	case d.requests <- req:
		d.cfg.Metrics.RecordUpcall(d.cfg.Name, true)
		logger.Debug("cache %s: queued request %s: %q", d.cfg.Name, req.ID, req.Line)
	default:
		e.upcallAt.Store(0)
		d.cfg.Metrics.RecordUpcall(d.cfg.Name, false)
		logger.Warn("cache %s: request queue full, dropped %q", d.cfg.Name, req.Line)
	}
}
