package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jonwraymond/semian/auth"
	"github.com/jonwraymond/semian/health"
	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/shm"
)

// RequestIDHeader carries the request ID echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Config configures a Server.
type Config struct {
	// Registry is the registry the API operates on. Required.
	Registry *resilience.Registry

	// Authenticator identifies callers of resource routes.
	// Default: rejects every request
	Authenticator auth.Authenticator

	// Authorizer decides which actions a caller may take.
	// Default: auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
	Authorizer auth.Authorizer

	// Ready answers /readyz.
	// Default: a store checker on the registry's store
	Ready health.Runner

	// Detailed answers /health.
	// Default: health.NewRegistryAggregator(Registry)
	Detailed health.Runner

	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer

	// Logger records admin actions.
	// Default: no logging
	Logger observe.Logger

	// ShutdownTimeout bounds graceful shutdown in Serve.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP API.
type Server struct {
	registry        *resilience.Registry
	logger          observe.Logger
	shutdownTimeout time.Duration
	handler         http.Handler
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, ErrMissingRegistry
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewChain()
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
	}
	if cfg.Ready == nil {
		ready := health.NewAggregator()
		ready.Register(health.NewStoreChecker(cfg.Registry.Store()))
		cfg.Ready = ready
	}
	if cfg.Detailed == nil {
		cfg.Detailed = health.NewRegistryAggregator(cfg.Registry)
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewZerologLogger(zerolog.Nop())
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	mux := http.NewServeMux()
	protect := func(action string, h http.HandlerFunc) http.Handler {
		return auth.Require(cfg.Authenticator, cfg.Authorizer, action, auth.PathResource("id"), h)
	}
	mux.Handle("GET /v1/resources", protect(auth.ActionRead, s.handleList))
	mux.Handle("GET /v1/resources/{id}", protect(auth.ActionRead, s.handleGet))
	mux.Handle("POST /v1/resources/{id}/reset", protect(auth.ActionReset, s.handleReset))
	mux.Handle("DELETE /v1/resources/{id}", protect(auth.ActionDestroy, s.handleDestroy))

	health.RegisterHandlers(mux, cfg.Ready, cfg.Detailed)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	s.handler = withRequestID(mux)
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) Serve(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", addr, err)
	}
	if ready != nil {
		ready(ln.Addr())
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info(ctx, "admin server listening", observe.Field{Key: "address", Value: ln.Addr().String()})

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	s.logger.Info(ctx, "admin server stopped")
	return nil
}

// ListResponse is the body of GET /v1/resources.
type ListResponse struct {
	Resources []resilience.Status `json:"resources"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.registry.Known()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := ListResponse{Resources: make([]resilience.Status, 0, len(ids))}
	for _, id := range ids {
		st, err := s.registry.Status(id)
		if err != nil {
			// Destroyed between List and Status.
			if errors.Is(err, resilience.ErrUnknownResource) {
				continue
			}
			writeError(w, statusFor(err), err)
			return
		}
		resp.Resources = append(resp.Resources, st)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Reset(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.audit(r, "resource reset", id)

	st, err := s.registry.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Destroy(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.audit(r, "resource destroyed", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) audit(r *http.Request, msg, id string) {
	ctx := r.Context()
	s.logger.WithResource(id).Info(ctx, msg,
		observe.Field{Key: "principal", Value: auth.PrincipalFromContext(ctx)},
		observe.Field{Key: "request_id", Value: requestID(r)},
	)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, resilience.ErrUnknownResource), errors.Is(err, shm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shm.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrStateUnavailable), errors.Is(err, shm.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
