// Package web provides the HTTP API and report pages of the load server.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/core"
	tlmw "github.com/JonMunkholm/tabload/internal/web/middleware"
)

// Server is the HTTP front of a load Service.
type Server struct {
	service *core.Service
	loads   *core.Loads
	cfg     config.ServerConfig
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires the routes for service. Loads started over HTTP are
// tracked by loads.
func NewServer(service *core.Service, loads *core.Loads, cfg config.ServerConfig) *Server {
	s := &Server{
		service: service,
		loads:   loads,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	// No write timeout: the event stream stays open for a whole load.
	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(tlmw.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(tlmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// The event stream stays open for the whole load, so it is mounted
	// outside the request timeout.
	s.router.With(tlmw.APIKeyAuth(s.cfg.APIKeys)).Get("/api/loads/{loadID}/events", s.handleLoadEvents)

	s.router.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}

		r.Get("/", s.handleLoadsPage)
		r.Get("/loads/{loadID}", s.handleLoadPage)

		r.Route("/api", func(r chi.Router) {
			r.Use(tlmw.APIKeyAuth(s.cfg.APIKeys))

			r.Post("/loads", s.handleStartLoad)
			r.Get("/loads", s.handleListLoads)
			r.Get("/loads/{loadID}", s.handleLoadStatus)
			r.Delete("/loads/{loadID}", s.handleCancelLoad)

			r.Get("/tables/{table}", s.handleDescribeTable)
		})
	})
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("server listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for running loads to finish
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if derr := s.loads.Drain(ctx); derr != nil {
		slog.Warn("loads still running at shutdown", "error", derr)
		if err == nil {
			err = derr
		}
	}
	return err
}

// Router returns the handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with status. Encoding errors are only logged since the
// header is already out.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
