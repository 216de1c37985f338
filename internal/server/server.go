// Package server implements the HTTP transport layer for the shellcache
// gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/controller"
	"github.com/eugener/shellcache/internal/origin"
	"github.com/eugener/shellcache/internal/storage"
	"github.com/eugener/shellcache/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// FetchRecorder records served requests asynchronously.
type FetchRecorder interface {
	Record(shell.FetchRecord)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Controller   *controller.Controller
	Origin       *origin.Client
	Store        storage.Store      // admin stats
	ReadyCheck   ReadyChecker       // nil = always ready (for tests)
	FetchLog     FetchRecorder      // nil = no fetch logging
	Metrics      *telemetry.Metrics // nil = no metrics
	AdminKeyHash string             // hex SHA-256 of the admin key; "" disables admin routes
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// Admin API (admin key required)
	if deps.AdminKeyHash != "" {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/generations", s.handleListGenerations)
			r.Post("/install", s.handleInstall)
			r.Delete("/cache", s.handleCachePurge)
			r.Get("/stats", s.handleStats)
		})
	}

	// Everything else is application traffic.
	r.Handle("/*", http.HandlerFunc(s.handleFetch))

	return r
}

type server struct {
	deps Deps
}
