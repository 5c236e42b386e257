// Package server exposes a small operational HTTP surface: component health
// and ledger statistics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantforge/tickstore/internal/ledger"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// Pinger checks one backing component's connectivity.
type Pinger func(ctx context.Context) error

// Server is the operational HTTP server.
type Server struct {
	httpServer *http.Server
	ledger     *ledger.Ledger
	components map[string]Pinger
	logger     *slog.Logger
}

// NewServer creates a Server. components maps a component name (for example
// "postgres" or "redis") to its connectivity check; nil checks are skipped.
func NewServer(cfg Config, lg *ledger.Ledger, components map[string]Pinger, logger *slog.Logger) *Server {
	s := &Server{
		ledger:     lg,
		components: components,
		logger:     logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleHealth pings every registered component. Any failure turns the
// overall status to "degraded" with a 503.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	checks := make(map[string]string, len(s.components))
	for name, ping := range s.components {
		if ping == nil {
			continue
		}
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": checks,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats reports per-series chunk and record counts.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	all := s.ledger.Stats()
	stats := make(map[string]ledger.SeriesStats, len(all))
	for kind, st := range all {
		stats[string(kind)] = st
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": stats})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
