package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
)

// DefaultListen is the address the control channel binds by default.
const DefaultListen = "127.0.0.1:2050"

// Config configures the control channel server.
type Config struct {
	Listen string
}

// Server serves the control channel over HTTP.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer creates a server in a stopped state.
func NewServer(cfg Config, d Deps) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	return &Server{
		server: &http.Server{
			Addr:         cfg.Listen,
			Handler:      NewRouter(d),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 35 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin channel listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			logger.Error("Admin server shutdown error: %v", err)
		} else {
			logger.Info("Admin server stopped gracefully")
		}
	})
	return shutdownErr
}
