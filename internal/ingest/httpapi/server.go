// Package httpapi serves the probe's small HTTP surface: liveness,
// Prometheus metrics, and a JSON snapshot of the currently-publishing
// session. There is no admin surface and no pprof — this process has
// nothing upstream to manage and nothing worth profiling in
// production.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamwell/rtmp-probe/internal/ingest"
	"github.com/streamwell/rtmp-probe/internal/logger"
)

// Server exposes /healthz, /metrics, and /snapshot.
type Server struct {
	addr      string
	log       *logger.Logger
	registry  *ingest.Registry
	server    *http.Server
	startedAt time.Time
}

// New creates an httpapi.Server bound to addr, reading session state
// from registry.
func New(addr string, log *logger.Logger, registry *ingest.Registry) *Server {
	return &Server{
		addr:      addr,
		log:       log,
		registry:  registry,
		startedAt: time.Now(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Seconds(),
	}); err != nil {
		s.log.Error("failed to encode healthz response", "err", err)
	}
}

// handleSnapshot returns the registry's most recently published
// session snapshot, or 404 if no session has published one yet.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.registry.Current()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "no active session"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Error("failed to encode snapshot response", "err", err)
	}
}
