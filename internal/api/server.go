// Package api provides the HTTP server assembly for the git workspace
// gateway.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v0 "github.com/codecampus/gitgateway/internal/api/v0"
)

// ServerOption configures the gateway API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	authMiddleware func(http.Handler) http.Handler
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAuthMiddleware guards the management routes with the given
// middleware. The git proxy is not wrapped: it performs its own
// credential extraction so it can answer git clients with a Basic
// challenge and handle mangled token query values.
func WithAuthMiddleware(mw func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.authMiddleware = mw
	}
}

// WithMetricsHandler mounts a metrics scrape endpoint at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates and configures the HTTP router. The git proxy is
// mounted under /git/{assignment|submission}/ as a wildcard so the git
// wire protocol's subpaths pass through untouched; the management routes
// are registered as static routes, which chi matches first.
func NewServer(rt *v0.Routes, proxy http.Handler, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	authMW := cfg.authMiddleware
	if authMW == nil {
		authMW = func(next http.Handler) http.Handler { return next }
	}

	r.Mount("/", v0.HealthRouter())
	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	r.Mount("/git", v0.Router(rt, proxy, authMW))
	r.Group(func(g chi.Router) {
		g.Use(authMW)
		g.Post("/upload", rt.Upload)
		g.Get("/git-fs", rt.GitFS)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
