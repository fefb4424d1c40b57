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

// Package server runs the encrypted store behind the REST API: it opens
// the configured stack, applies the TLS, rate limit and metrics
// settings and owns the shutdown order.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-encstore/internal/config"
	"github.com/jeremyhahn/go-encstore/internal/provider"
	"github.com/jeremyhahn/go-encstore/internal/rest"
	"github.com/jeremyhahn/go-encstore/pkg/logging"
	"github.com/jeremyhahn/go-encstore/pkg/metrics"
	"github.com/jeremyhahn/go-encstore/pkg/ratelimit"
)

// DefaultCollectInterval is the runtime metrics sampling period.
const DefaultCollectInterval = 30 * time.Second

// Server is a running encrypted store with its REST front end.
type Server struct {
	config *config.Config
	logger logging.Logger

	stack      *provider.Stack
	restServer *rest.Server
	limiter    *ratelimit.Limiter
	collector  *metrics.ResourceCollector

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	stopped  bool
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New opens the store described by cfg and prepares the REST server.
// Nothing listens until Start or Serve.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalidConfig)
	}
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		logger, err := NewLogger(cfg.Logging, os.Stderr)
		if err != nil {
			return nil, err
		}
		s.logger = logger
	}
	for _, w := range cfg.Warnings() {
		s.logger.Warn("Configuration override ignored", logging.String("detail", w))
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	s.stack, err = provider.Open(ctx, cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		s.limiter = ratelimit.New(&rl)
	}

	restCfg := &rest.Config{
		Addr:          cfg.Server.Address(),
		Store:         s.stack.Store,
		Crypto:        s.stack.Manager,
		BackendName:   cfg.Storage.Backend,
		DisableHealth: !cfg.Health.Enabled,
		RateLimiter:   s.limiter,
		TLSConfig:     tlsConfig,
		Logger:        s.logger.With(logging.String("component", "rest")),
		Version:       getBuildVersion(),
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}
	if cfg.Metrics.Enabled {
		restCfg.MetricsPath = cfg.Metrics.Path
	}
	s.restServer, err = rest.NewServer(restCfg)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("failed to create REST server: %w", err)
	}

	s.logger.Info("Store opened",
		logging.String("provider", cfg.KMS.Provider),
		logging.String("storage", cfg.Storage.Backend),
		logging.String("key_alias", cfg.Crypto.KeyAlias))
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address(), err)
	}
	return s.Serve(l)
}

// Serve serves on l in the background.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("server: already shut down")
	}
	if s.listener != nil {
		return errors.New("server: already serving")
	}
	s.listener = l
	s.serveErr = make(chan error, 1)

	if s.config.Metrics.Enabled {
		s.collector = metrics.StartResourceCollector(context.Background(), DefaultCollectInterval)
	}

	go func() {
		s.serveErr <- s.restServer.Serve(l)
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves until ctx is cancelled or the listener fails, then shuts
// down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return errors.Join(err, s.Shutdown())
	}
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-s.serveErr:
	}
	return errors.Join(serveErr, s.Shutdown())
}

// Shutdown stops accepting requests, drains in-flight ones within the
// configured shutdown timeout and closes the store. It is safe to call
// more than once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	serving := s.listener != nil
	s.mu.Unlock()

	s.logger.Info("Shutting down server...")

	var errs []error
	if serving {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		if err := s.restServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	errs = append(errs, s.release())

	s.logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// Stack exposes the opened store and its components.
func (s *Server) Stack() *provider.Stack {
	return s.stack
}

func (s *Server) release() error {
	if s.collector != nil {
		s.collector.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.stack.Close(); err != nil {
		s.logger.Error("Error closing store", logging.Error(err))
		return err
	}
	return nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
