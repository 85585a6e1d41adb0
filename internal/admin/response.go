package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/cache"
)

// Response wraps every JSON reply.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeJSON encodes to a buffer first so an encoding failure can still be
// reported before headers are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("admin: encode response: %v", err)
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func okResponse(data any) Response {
	return Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data}
}

func errorResponse(msg string) Response {
	return Response{Status: "error", Timestamp: time.Now().UTC(), Error: msg}
}

// statusForError maps cache and errno failures to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, unix.EINVAL):
		return http.StatusBadRequest
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, unix.ENOENT), errors.Is(err, unix.EPERM):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrRetry), errors.Is(err, unix.EAGAIN):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
