// Package admin serves the HTTP control channel: the cache channels the
// population agent and operators read and write, cache content dumps,
// flushes, root file handles, health and metrics.
package admin

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs"
	"github.com/marmos91/nfsd/internal/protocol/nfs/fh"
	"github.com/marmos91/nfsd/pkg/cache"
	"github.com/marmos91/nfsd/pkg/export"
	"github.com/marmos91/nfsd/pkg/metrics"
)

// maxBody bounds request bodies. Cache lines and RPC calls are far smaller.
const maxBody = 4 << 20

// Deps are the components the control channel operates on.
type Deps struct {
	Net *export.Net

	// NFS answers POST /rpc. Nil disables the route.
	NFS *nfs.Server
}

type handler struct {
	Deps
}

// NewRouter creates the chi router.
//
// Routes:
//   - GET  /health - liveness and cache sizes
//   - GET  /metrics - Prometheus metrics
//   - GET  /caches - cache names and sizes
//   - GET  /caches/{name}/channel - drain pending request lines
//   - POST /caches/{name}/channel - write population lines
//   - GET  /caches/{name}/content - cache content dump
//   - POST /caches/{name}/flush - purge one cache
//   - POST /flush - purge every cache
//   - POST /filehandle - root file handle transaction
//   - POST /rpc - answer one unframed NFSv3 RPC call
func NewRouter(d Deps) http.Handler {
	h := &handler{Deps: d}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/caches", func(r chi.Router) {
		r.Get("/", h.listCaches)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/channel", h.readChannel)
			r.Post("/channel", h.writeChannel)
			r.Get("/content", h.content)
			r.Post("/flush", h.flushCache)
		})
	})
	r.Post("/flush", h.flushAll)
	r.Post("/filehandle", h.filehandle)
	if d.NFS != nil {
		r.Post("/rpc", h.rpc)
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.With(logger.KeyRequestID, middleware.GetReqID(r.Context())).Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

// ============================================================================
// Handlers
// ============================================================================

type cacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

func (h *handler) caches() []cacheInfo {
	all := h.Net.Registry().All()
	out := make([]cacheInfo, 0, len(all))
	for _, ch := range all {
		out = append(out, cacheInfo{Name: ch.Name(), Entries: ch.Len()})
	}
	return out
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"caches":  h.caches(),
		"clients": h.Net.Domains.Names(),
		"boot":    h.Net.BootTime.UTC(),
	}))
}

func (h *handler) listCaches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.caches()))
}

func (h *handler) channel(w http.ResponseWriter, r *http.Request) (cache.Channel, bool) {
	ch, err := h.Net.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		return nil, false
	}
	return ch, true
}

// readChannel returns the request lines queued so far without waiting for
// more. Each line is one upcall.
func (h *handler) readChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
drain:
	for {
		select {
		case req, open := <-ch.Requests():
			if !open {
				break drain
			}
			buf.WriteString(req.Line)
		default:
			break drain
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

type parseResult struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"`
}

// writeChannel parses every line of the body. Rejected lines do not stop
// the rest; the reply is 400 if any was rejected.
func (h *handler) writeChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	var res parseResult
	sc := bufio.NewScanner(io.LimitReader(r.Body, maxBody))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := ch.Parse(line + "\n"); err != nil {
			var perr *cache.ParseError
			if !errors.As(err, &perr) {
				logger.Warn("admin: %s: %v", ch.Name(), err)
			}
			res.Rejected = append(res.Rejected, err.Error())
			continue
		}
		res.Accepted++
	}
	if err := sc.Err(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(fmt.Sprintf("read body: %v", err)))
		return
	}

	status := http.StatusOK
	if len(res.Rejected) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, okResponse(res))
}

func (h *handler) content(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ch.Show(&buf); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) flushCache(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channel(w, r)
	if !ok {
		return
	}
	ch.Purge()
	logger.Info("admin: flushed %s", ch.Name())
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) flushAll(w http.ResponseWriter, r *http.Request) {
	h.Net.Flush()
	logger.Info("admin: flushed all caches")
	w.WriteHeader(http.StatusNoContent)
}

// filehandle answers "domain path maxsize" with the hex root handle.
func (h *handler) filehandle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	line := string(body)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	out, err := fh.RootHandleLine(r.Context(), h.Net, line)
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

// rpc answers one unframed RPC call, for tests and tools that have no
// transport of their own.
func (h *handler) rpc(w http.ResponseWriter, r *http.Request) {
	msg, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	reply, err := h.NFS.HandleCall(r.Context(), r.RemoteAddr, msg)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(reply)
}
