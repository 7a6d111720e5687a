// Package server exposes the run pipeline over HTTP: aggregate and
// streaming run execution, run history, stored credentials, health,
// and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/pkg/playbook"
	"github.com/opsforge/opsforge/pkg/runner"
	"github.com/opsforge/opsforge/pkg/stores"
	"github.com/opsforge/opsforge/pkg/telemetry"
)

// Server is the HTTP front end of the run pipeline.
type Server struct {
	addr    string
	runner  *runner.Runner
	store   *stores.SQLiteStore
	catalog *playbook.Catalog
	metrics *telemetry.Metrics
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address.
	Addr string

	// Runner executes automation runs.
	Runner *runner.Runner

	// Store persists run history and credentials.
	Store *stores.SQLiteStore

	// Catalog lists available playbooks.
	Catalog *playbook.Catalog

	// Metrics serves the metrics endpoint. Optional.
	Metrics *telemetry.Metrics
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		addr:    opts.Addr,
		runner:  opts.Runner,
		store:   opts.Store,
		catalog: opts.Catalog,
		metrics: opts.Metrics,
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", s.handleRun)
	mux.HandleFunc("POST /api/runs/stream", s.handleRunStream)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/credentials", s.handleGetCredentials)
	mux.HandleFunc("GET /api/playbooks", s.handleListPlaybooks)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
