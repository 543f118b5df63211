// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package llm is the single point of contact with the text-generation service.

# Connection Modes

A Client is acquired once. Acquire dials the configured endpoint:

	┌──────────────┐  dial ok     ┌──────────┐
	│  Unacquired  │ ───────────► │   Live   │  POST /api/generate per Query
	│              │              └──────────┘
	│              │  dial fails  ┌──────────┐
	│              │ ───────────► │   Mock   │  "Mock response for: <prompt>"
	└──────────────┘              └──────────┘

The mode never changes afterwards. There is no reconnection: a client that
started in Mock stays in Mock, and a Live client whose server goes away keeps
trying Live requests.

# Errors As Data

Query never returns an error. Live failures (non-200, undecodable body,
transport error, deadline) are logged and turned into the string
"Error response for: <prompt>". Callers that extract concepts from the result
will ingest that text like any other response.

# Usage

	client := llm.New(llm.DefaultConfig())
	if err := client.Acquire(ctx); err != nil {
	    return err // only an unusable BaseURL gets here
	}
	defer client.Release()

	answer := client.Query(ctx, "Analyze the physics of a moving bicycle")
	concepts := client.ExtractConcepts(ctx, answer)
*/
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/telemetry"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Default endpoint and model for a local Ollama server.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the inference service root, e.g. http://localhost:11434.
	BaseURL string

	// Model is sent as the "model" field of every request.
	Model string

	// AcquireTimeout bounds the connectivity check in Acquire.
	AcquireTimeout time.Duration

	// QueryTimeout bounds each live query. Zero disables the deadline and
	// leaves only the caller's context.
	QueryTimeout time.Duration
}

// DefaultConfig returns the local Ollama defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Model:          DefaultModel,
		AcquireTimeout: 2 * time.Second,
		QueryTimeout:   5 * time.Minute,
	}
}

// -----------------------------------------------------------------------------
// Mode
// -----------------------------------------------------------------------------

// Mode is the connection mode chosen at acquisition.
type Mode int

const (
	// ModeUnacquired is the state before Acquire.
	ModeUnacquired Mode = iota

	// ModeLive sends every query to the inference service.
	ModeLive

	// ModeMock answers every query locally without I/O.
	ModeMock
)

// String returns "unacquired", "live", or "mock".
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeMock:
		return "mock"
	default:
		return "unacquired"
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil value disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client manages one logical connection to the inference service.
//
// A Client is exclusive to one owner (a kernel); it serializes nothing
// beyond its own mode bookkeeping.
type Client struct {
	cfg     Config
	baseURL string
	logger  *logging.Logger
	metrics *telemetry.Metrics
	dialer  net.Dialer

	mu         sync.RWMutex
	mode       Mode
	transport  *http.Transport
	httpClient *http.Client
	released   bool
}

// New creates an unacquired Client. Zero-valued Config fields take their
// DefaultConfig values, except QueryTimeout.
func New(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logging.Default(),
		metrics: telemetry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "llm")
	return c
}

// Mode returns the current connection mode.
func (c *Client) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Acquire checks connectivity and fixes the client's mode.
//
// A reachable endpoint selects ModeLive. Any dial failure is treated as
// ErrConnectionUnavailable: it is logged as a warning and the client enters
// ModeMock for the rest of its life. Acquire on an already acquired client
// is a no-op.
//
// Returns a non-nil error only when BaseURL cannot be parsed into a host.
func (c *Client) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeUnacquired {
		return nil
	}

	addr, err := dialAddress(c.baseURL)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.mode = ModeMock
		c.logger.Warn("Unable to connect to inference service, switching to mock mode",
			"endpoint", c.baseURL,
			"error", fmt.Errorf("%w: %v", ErrConnectionUnavailable, err).Error(),
		)
		return nil
	}
	_ = conn.Close()

	c.transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         c.dialer.DialContext,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	c.httpClient = &http.Client{Transport: c.transport}
	c.mode = ModeLive
	c.logger.Info("Connected to inference service", "endpoint", c.baseURL, "model", c.cfg.Model)
	return nil
}

// Release closes the live connection. It is a no-op in mock mode, before
// Acquire, and on repeated calls.
func (c *Client) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeLive || c.released {
		return nil
	}
	c.released = true
	c.transport.CloseIdleConnections()
	c.logger.Debug("Released inference service connection", "endpoint", c.baseURL)
	return nil
}

// liveClient returns the HTTP client for a live, unreleased Client.
func (c *Client) liveClient() (*http.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.mode == ModeUnacquired:
		return nil, fmt.Errorf("%w: client has not been acquired", ErrRequestFailed)
	case c.released:
		return nil, fmt.Errorf("%w: client has been released", ErrRequestFailed)
	}
	return c.httpClient, nil
}

// dialAddress turns a base URL into a host:port suitable for net.Dial.
func dialAddress(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse base URL %q: %v", ErrInvalidConfig, baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: base URL %q has no host", ErrInvalidConfig, baseURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
