// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes one orchestrator.System over HTTP.
//
// # Routes
//
//	GET  /health          liveness
//	GET  /metrics         Prometheus scrape endpoint
//	GET  /v1/status       kernel status and catalogue size
//	POST /v1/experiments  register an experiment pair
//	POST /v1/run          run the catalogue once and return every result
//	GET  /v1/history      evolution log
//	GET  /v1/concepts     knowledge base snapshot
//	POST /v1/query        side-effect-free kernel query
//
// # Usage
//
//	svc, err := api.New(api.Config{Port: 12310}, sys)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx) // returns after ctx is cancelled and the server drains
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/orchestrator"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is an HTTP server bound to one System.
type Service interface {
	// Run serves until ctx is cancelled, then shuts down gracefully.
	// It returns nil after a clean shutdown.
	Run(ctx context.Context) error

	// Router returns the configured engine, for tests.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds server options. Zero values take defaults.
type Config struct {
	// Host is the listen host. Default: all interfaces.
	Host string

	// Port is the listen port. Default: 12310.
	Port int

	// GinMode is "debug", "release" or "test". Default: release.
	GinMode string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// ServiceName labels otelgin spans. Default: "abraxus".
	ServiceName string

	// MetricsHandler serves /metrics. Default: the telemetry Prometheus
	// handler when initialized, otherwise promhttp.Handler().
	MetricsHandler http.Handler
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "abraxus"
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = telemetry.MetricsHandler()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	return cfg
}

// Option configures the service.
type Option func(*service)

// WithLogger sets the request and lifecycle logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config Config
	system *orchestrator.System
	logger *logging.Logger
	router *gin.Engine
}

// New builds the router for sys. The caller keeps ownership of sys.
func New(cfg Config, sys *orchestrator.System, opts ...Option) (Service, error) {
	if sys == nil {
		return nil, errors.New("api: nil system")
	}
	s := &service{
		config: applyConfigDefaults(cfg),
		system: sys,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")

	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))
	s.router.Use(requestLogger(s.logger))
	setupRoutes(s.router, sys, s.config.MetricsHandler)
	return s, nil
}

func (s *service) Router() *gin.Engine { return s.router }

func (s *service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// requestLogger logs one line per request.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Handled request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

var _ Service = (*service)(nil)
