// Package api exposes the observability HTTP interface of the dispatch
// runtime: health probes, Prometheus metrics, and per-service state and
// usage counters.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/metrics"
	"github.com/calderhq/dispatch/internal/registry"
	"github.com/calderhq/dispatch/internal/service"
)

// Server wires HTTP handlers to the service registry.
type Server struct {
	router chi.Router
	reg    *registry.Registry
	logger *zap.Logger
	addr   string
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reg *registry.Registry, logger *zap.Logger, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reg:    reg,
		logger: logger,
		addr:   fmt.Sprintf(":%d", port),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/services", s.listServices)
		r.Get("/services/{name}", s.getService)
	})

	s.router = r
	return s
}

// Router returns the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx ends, then shuts it down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", zap.String("addr", s.addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once at least one service is running.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	for _, svc := range s.reg.Services() {
		if svc.State() == service.StateRunning {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no running services"})
}

func (s *Server) listServices(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]service.Stats)
	for _, svc := range s.reg.Services() {
		out[svc.Name()] = svc.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	svc, err := s.reg.Lookup(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, svc.Stats())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
