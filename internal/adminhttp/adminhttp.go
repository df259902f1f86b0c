// Package adminhttp is the operational HTTP surface every long-running
// daemon in this lineage ships alongside its core work: liveness, sync
// status, and Prometheus metrics. It is not a user-facing API and carries
// none of the write-through wrapper's domain operations.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/engine"
	"github.com/matchops/local-sync/internal/metrics"
)

// StatusSource is the minimal surface adminhttp needs from the
// write-through wrapper to answer /status, so this package depends only on
// engine.Status rather than on the writethrough package itself.
type StatusSource interface {
	GetSyncStatus() engine.Status
}

// Server hosts the admin HTTP surface on its own listener, separate from
// any user-facing traffic.
type Server struct {
	httpServer *http.Server
	logger     *logrus.Logger
}

// Config configures the admin HTTP surface.
type Config struct {
	Listen  string
	Status  StatusSource
	Metrics metrics.Manager
	Logger  *logrus.Logger
}

// New builds the admin HTTP surface's router and server, but does not
// start listening until Start is called.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	if cfg.Status != nil {
		router.HandleFunc("/status", handleStatus(cfg.Status)).Methods(http.MethodGet)
	}
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.GetMetricsHandler()).Methods(http.MethodGet)
	}

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(logger.Writer(), router)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return &Server{httpServer: httpServer, logger: logger}
}

// Start begins serving in a background goroutine. Bind errors other than
// a clean shutdown are logged but not returned, matching the fire-and-
// forget admin-surface convention: the admin surface is operational
// tooling, not a critical-path dependency.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("adminhttp: server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleStatus(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := src.GetSyncStatus()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
