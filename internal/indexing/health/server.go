package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes liveness, detailed status, and metrics endpoints.
type Server struct {
	monitor *Monitor
	srv     *http.Server
	log     *slog.Logger
}

// NewServer creates the HTTP server on the given port.
func NewServer(port int, monitor *Monitor, log *slog.Logger) *Server {
	s := &Server{
		monitor: monitor,
		log:     log.With("component", "health-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.log.Info("health server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Snapshot()
	status := http.StatusOK
	body := "ok"
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
		body = "degraded"
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, body)
}

func (s *Server) handleDetailed(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if !snap.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Warn("failed to encode health snapshot", "error", err)
	}
}
