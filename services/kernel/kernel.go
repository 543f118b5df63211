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
Package kernel provides the stateful task processor that owns the inference
client and the knowledge base.

# Lifecycle

	Uninitialized ──Initialize──► Running ──Stop──► Stopped
	      │                                            ▲
	      └──────────────────Stop──────────────────────┘

There is no way back to Running once Stopped; build a new Kernel instead.
ProcessTask, Query and ExtractConcepts fail with ErrNotRunning outside
Running.

# Task Paths

ProcessTask queries the model, extracts concepts from the answer, and merges
them into the knowledge base. Query only asks the model and leaves the
knowledge base untouched, so it can be used as a side-effect-free probe.

# Resource Handling

Callers pair construction with Close:

	k, err := kernel.New(cfg)
	if err != nil {
	    return err
	}
	defer k.Close()

	if err := k.Initialize(ctx); err != nil {
	    return err
	}
	answer, err := k.ProcessTask(ctx, "Analyze the physics of a moving bicycle")
*/
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/llm"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotRunning is returned by task operations outside StateRunning.
	ErrNotRunning = errors.New("kernel is not initialized or has been stopped")

	// ErrInvalidTransition is returned by Initialize outside StateUninitialized.
	ErrInvalidTransition = errors.New("invalid kernel state transition")
)

// =============================================================================
// State
// =============================================================================

// State is the kernel lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Kernel.
type Config struct {
	// LLM configures the client acquired by Initialize.
	LLM llm.Config

	// KnowledgeDir, OutputDir and MaxMemory are reported in Status only.
	// The knowledge base is never loaded from or written to disk.
	KnowledgeDir string
	OutputDir    string
	MaxMemory    int64
}

// LanguageModel is the client surface the kernel needs. *llm.Client
// satisfies it.
type LanguageModel interface {
	Acquire(ctx context.Context) error
	Query(ctx context.Context, prompt string) string
	ExtractConcepts(ctx context.Context, text string) []string
	Release() error
	Mode() llm.Mode
}

// ClientFactory builds the client acquired by Initialize.
type ClientFactory func(cfg llm.Config) LanguageModel

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger. It is also handed to the default
// client factory and the knowledge base store.
func WithLogger(logger *logging.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil value disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(k *Kernel) { k.metrics = m }
}

// WithClientFactory replaces the default *llm.Client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(k *Kernel) {
		if f != nil {
			k.newClient = f
		}
	}
}

// =============================================================================
// Kernel
// =============================================================================

// Status is a read-only snapshot of a Kernel.
type Status struct {
	KnowledgeBaseSize int    `json:"kb_size"`
	Running           bool   `json:"running"`
	State             string `json:"state"`
	Mode              string `json:"mode"`
	KnowledgeDir      string `json:"kb_dir,omitempty"`
	OutputDir         string `json:"output_dir,omitempty"`
	MaxMemory         int64  `json:"max_memory,omitempty"`
}

// Kernel mediates all access to the inference client and owns the
// knowledge base.
//
// Thread Safety: Safe for concurrent use. Client calls are serialized; a
// slow query blocks every other task and Stop until it returns.
type Kernel struct {
	id        string
	cfg       Config
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	newClient ClientFactory
	kb        *KnowledgeBase
	gauge     metric.Registration

	// mu serializes lifecycle transitions and client use.
	mu     sync.Mutex
	state  atomic.Int32
	mode   atomic.Int32
	client LanguageModel
}

// New creates an uninitialized Kernel with an empty knowledge base.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		id:      uuid.NewString(),
		cfg:     cfg,
		logger:  logging.Default(),
		metrics: telemetry.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("component", "kernel", "kernel_id", k.id)
	if k.newClient == nil {
		logger, metrics := k.logger, k.metrics
		k.newClient = func(c llm.Config) LanguageModel {
			return llm.New(c, llm.WithLogger(logger), llm.WithMetrics(metrics))
		}
	}

	kb, err := NewKnowledgeBase(k.logger)
	if err != nil {
		return nil, err
	}
	k.kb = kb

	reg, err := k.metrics.RegisterKnowledgeBase(k.id, func() int64 { return int64(kb.Size()) })
	if err != nil {
		_ = kb.Close()
		return nil, fmt.Errorf("register knowledge base gauge: %w", err)
	}
	k.gauge = reg
	return k, nil
}

// ID returns the kernel's unique identifier.
func (k *Kernel) ID() string { return k.id }

// State returns the lifecycle state.
func (k *Kernel) State() State { return State(k.state.Load()) }

// KnowledgeBase returns the kernel's knowledge base.
func (k *Kernel) KnowledgeBase() *KnowledgeBase { return k.kb }

// Initialize acquires a client and moves the kernel to StateRunning.
//
// An unreachable inference service is not an error: the client falls back
// to mock mode. Returns ErrInvalidTransition unless the kernel is
// uninitialized.
func (k *Kernel) Initialize(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s := k.State(); s != StateUninitialized {
		return fmt.Errorf("%w: initialize from %s", ErrInvalidTransition, s)
	}

	client := k.newClient(k.cfg.LLM)
	if err := client.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire inference client: %w", err)
	}
	k.client = client
	k.mode.Store(int32(client.Mode()))
	k.state.Store(int32(StateRunning))

	k.logger.Info("Kernel initialized", "mode", client.Mode().String())
	return nil
}

// ProcessTask queries the model with task, merges the concepts extracted
// from the answer into the knowledge base, and returns the raw answer.
func (k *Kernel) ProcessTask(ctx context.Context, task string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerKernel, "Kernel.ProcessTask",
		trace.WithAttributes(attribute.Int("task_len", len(task))),
	)
	defer span.End()

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.State() != StateRunning {
		k.metrics.RecordKernelTask(ctx, "process", "not_running")
		telemetry.RecordError(span, ErrNotRunning)
		return "", ErrNotRunning
	}

	result := k.client.Query(ctx, task)
	concepts := k.client.ExtractConcepts(ctx, result)
	added, err := k.kb.Merge(concepts)
	k.metrics.RecordConceptsMerged(ctx, added)
	if err != nil {
		k.metrics.RecordKernelTask(ctx, "process", "error")
		telemetry.RecordError(span, err)
		return "", err
	}

	k.metrics.RecordKernelTask(ctx, "process", "ok")
	span.SetAttributes(
		attribute.Int("concepts_extracted", len(concepts)),
		attribute.Int("concepts_added", added),
	)
	telemetry.SetSpanOK(span)
	k.logger.Debug("Processed task",
		"concepts_extracted", len(concepts),
		"concepts_added", added,
		"kb_size", k.kb.Size(),
	)
	return result, nil
}

// Query asks the model about task without touching the knowledge base.
func (k *Kernel) Query(ctx context.Context, task string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerKernel, "Kernel.Query")
	defer span.End()

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.State() != StateRunning {
		k.metrics.RecordKernelTask(ctx, "query", "not_running")
		telemetry.RecordError(span, ErrNotRunning)
		return "", ErrNotRunning
	}

	result := k.client.Query(ctx, task)
	k.metrics.RecordKernelTask(ctx, "query", "ok")
	telemetry.SetSpanOK(span)
	return result, nil
}

// ExtractConcepts asks the client for the concepts in text. The knowledge
// base is not updated; see MergeConcepts.
func (k *Kernel) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.State() != StateRunning {
		return nil, ErrNotRunning
	}
	return k.client.ExtractConcepts(ctx, text), nil
}

// MergeConcepts adds concepts to the knowledge base and returns how many
// were new.
func (k *Kernel) MergeConcepts(ctx context.Context, concepts []string) (int, error) {
	added, err := k.kb.Merge(concepts)
	k.metrics.RecordConceptsMerged(ctx, added)
	return added, err
}

// Concepts returns a sorted snapshot of the knowledge base.
func (k *Kernel) Concepts() ([]string, error) {
	return k.kb.Concepts()
}

// Status returns a snapshot of the kernel. It has no side effects.
func (k *Kernel) Status() Status {
	state := k.State()
	mode := llm.Mode(k.mode.Load())
	return Status{
		KnowledgeBaseSize: k.kb.Size(),
		Running:           state == StateRunning,
		State:             state.String(),
		Mode:              mode.String(),
		KnowledgeDir:      k.cfg.KnowledgeDir,
		OutputDir:         k.cfg.OutputDir,
		MaxMemory:         k.cfg.MaxMemory,
	}
}

// Stop moves the kernel to StateStopped and releases the client.
//
// Stop is idempotent and succeeds on a kernel that was never initialized.
func (k *Kernel) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.State() == StateStopped {
		return nil
	}
	k.state.Store(int32(StateStopped))

	if k.client == nil {
		k.logger.Debug("Kernel stopped before initialization")
		return nil
	}
	if err := k.client.Release(); err != nil {
		k.logger.Warn("Failed to release inference client", "error", err.Error())
		return fmt.Errorf("release inference client: %w", err)
	}
	k.logger.Info("Kernel stopped", "kb_size", k.kb.Size())
	return nil
}

// Close stops the kernel and discards the knowledge base.
func (k *Kernel) Close() error {
	var errs []error
	if err := k.Stop(); err != nil {
		errs = append(errs, err)
	}
	if k.gauge != nil {
		if err := k.gauge.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister knowledge base gauge: %w", err))
		}
		k.gauge = nil
	}
	if err := k.kb.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
