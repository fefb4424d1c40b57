// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-encstore/pkg/correlation"
	"github.com/jeremyhahn/go-encstore/pkg/crypto/keyid"
	"github.com/jeremyhahn/go-encstore/pkg/health"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/metrics"
	"github.com/jeremyhahn/go-encstore/pkg/ratelimit"
	"github.com/jeremyhahn/go-encstore/pkg/store"
)

// DefaultMaxValueBytes bounds PUT bodies when Config.MaxValueBytes is zero.
const DefaultMaxValueBytes = 1 << 20

// EntryStore is the part of *store.Store the server uses.
type EntryStore interface {
	Put(ctx context.Context, name string, value []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Contains(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Watch(ctx context.Context, name string) (<-chan store.Result, error)
}

// Crypto is the part of *manager.Manager the server uses.
type Crypto interface {
	Hash(name string) keyid.ID
	Probe(ctx context.Context) error
	KeyAlias() string
	Provider() string
}

// Config holds the REST server configuration.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8443)
	Addr string

	Store  EntryStore
	Crypto Crypto

	// BackendName labels the entries gauge updated by the storage check.
	BackendName string

	// Health defaults to a checker with crypto and storage readiness checks.
	Health *health.Checker

	// DisableHealth leaves the /health routes unregistered.
	DisableHealth bool

	// RateLimiter, when set, guards every /api/v1 route.
	RateLimiter *ratelimit.Limiter

	// MetricsPath serves Prometheus metrics; empty disables the endpoint.
	MetricsPath string

	// TLSConfig enables HTTPS when set.
	TLSConfig *tls.Config

	Logger  logging.Logger
	Version string

	// MaxValueBytes bounds PUT bodies (default: DefaultMaxValueBytes)
	MaxValueBytes int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server represents the REST API server.
type Server struct {
	server   *http.Server
	store    EntryStore
	crypto   Crypto
	health   *health.Checker
	limiter  *ratelimit.Limiter
	logger   logging.Logger
	version  string
	maxValue int64
	metrics  string
	probes   bool
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil || cfg.Crypto == nil {
		return nil, fmt.Errorf("a store and crypto manager are required")
	}

	// Set defaults
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8443"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.BackendName == "" {
		cfg.BackendName = "custom"
	}
	if cfg.MaxValueBytes <= 0 {
		cfg.MaxValueBytes = DefaultMaxValueBytes
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		store:    cfg.Store,
		crypto:   cfg.Crypto,
		health:   cfg.Health,
		limiter:  cfg.RateLimiter,
		logger:   cfg.Logger,
		version:  cfg.Version,
		maxValue: cfg.MaxValueBytes,
		metrics:  cfg.MetricsPath,
		probes:   !cfg.DisableHealth,
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.health == nil {
		s.health = health.NewChecker()
		s.health.RegisterCheck("crypto", health.CheckFromFunc("crypto", s.crypto.Probe))
		s.health.RegisterCheck("storage", health.CheckFromFunc("storage", func(ctx context.Context) error {
			n, err := s.store.Count(ctx)
			if err == nil {
				metrics.SetEntriesTotal(cfg.BackendName, float64(n))
			}
			return err
		}))
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	// Kubernetes-style health probes
	if s.probes {
		r.Get("/health/live", s.LivenessHandler)
		r.Get("/health/ready", s.ReadinessHandler)
		r.Get("/health/startup", s.StartupHandler)
	}

	if s.metrics != "" {
		r.Handle(s.metrics, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		r.Get("/info", s.InfoHandler)
		r.Get("/hash/*", s.HashHandler)
		r.Get("/watch/*", s.WatchHandler)

		r.Get("/entries", s.CountHandler)
		r.Delete("/entries", s.ClearHandler)
		r.Put("/entries/*", s.PutHandler)
		r.Get("/entries/*", s.GetHandler)
		r.Head("/entries/*", s.HeadHandler)
		r.Delete("/entries/*", s.DeleteHandler)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Stop. The startup probe reports
// healthy once serving begins.
func (s *Server) Serve(l net.Listener) error {
	s.health.MarkStarted()
	var err error
	if s.server.TLSConfig != nil {
		s.logger.Info("Starting HTTPS server", logging.String("addr", l.Addr().String()))
		err = s.server.ServeTLS(l, "", "")
	} else {
		s.logger.Info("Starting HTTP server", logging.String("addr", l.Addr().String()))
		err = s.server.Serve(l)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.health.MarkNotStarted()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logging.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// HealthChecker returns the checker behind the health endpoints.
func (s *Server) HealthChecker() *health.Checker {
	return s.health
}
