// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives experiment pairs through a kernel and journals
// every transition in an append-only evolution log.
//
// # Ordering
//
// A System serializes everything it does. Within a run, pairs execute in
// the order they were added; each pair runs its original before its
// negation, and each pair is evolved before the next one starts:
//
//	add E1 ─► add E2 ─► run(E1) ─► evolve(E1) ─► yield ─► run(E2) ─► evolve(E2) ─► yield
//
// # Usage
//
//	sys := orchestrator.New(k)
//	defer sys.Close()
//
//	if err := sys.Initialize(ctx); err != nil {
//	    return err
//	}
//	sys.AddExperiment("Bicycle Balance", hypothesis, procedure)
//
//	run, err := sys.RunExperiments(ctx)
//	if err != nil {
//	    return err
//	}
//	for run.Next(ctx) {
//	    fmt.Println(run.Result().Original)
//	}
//	if err := run.Err(); err != nil {
//	    return err
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/experiment"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAlreadyConsumed is returned by RunExperiments when a run already exists
// for the current catalogue.
var ErrAlreadyConsumed = errors.New("experiments already run for this catalogue")

// Option configures a System.
type Option func(*System)

// WithLogger sets the system logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil value disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// WithClock sets the evolution log clock.
func WithClock(now func() time.Time) Option {
	return func(s *System) {
		if now != nil {
			s.now = now
		}
	}
}

// System owns one kernel, the experiment catalogue and the evolution log.
//
// Thread Safety: Safe for concurrent use. One mutex serializes every
// operation, and an active Run holds it for the whole of each step.
type System struct {
	kernel  *kernel.Kernel
	logger  *logging.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.Mutex
	pairs   []*experiment.Pair
	log     *evolutionLog
	catalog uint64 // bumped by AddExperiment
	ran     bool
	ranAt   uint64
}

// New creates a System around k. The System takes ownership of k.
func New(k *kernel.Kernel, opts ...Option) *System {
	s := &System{
		kernel:  k,
		logger:  logging.Default(),
		metrics: telemetry.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "orchestrator")
	s.log = newEvolutionLog(s.now)
	return s
}

// Kernel returns the owned kernel.
func (s *System) Kernel() *kernel.Kernel { return s.kernel }

// Initialize initializes the kernel and journals "System initialized".
func (s *System) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kernel.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize kernel: %w", err)
	}
	s.commit(ctx, MsgSystemInitialized)
	return nil
}

// AddExperiment registers an experiment and its negation, and journals
// "Added experiment: <name>".
func (s *System) AddExperiment(name, hypothesis, procedure string) *experiment.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := experiment.NewPair(experiment.New(name, hypothesis, procedure))
	s.pairs = append(s.pairs, pair)
	s.catalog++
	s.commit(context.Background(), MsgAddedExperiment+name)
	return pair
}

// Experiments returns the catalogue in insertion order.
func (s *System) Experiments() []*experiment.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*experiment.Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// RunExperiments returns a single-use iterator over the current catalogue.
//
// Only one Run may be created per catalogue state; a second call before
// another AddExperiment returns ErrAlreadyConsumed. The Run covers every
// pair registered so far, in insertion order.
func (s *System) RunExperiments(ctx context.Context) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ran && s.ranAt == s.catalog {
		return nil, ErrAlreadyConsumed
	}
	s.ran = true
	s.ranAt = s.catalog

	pairs := make([]*experiment.Pair, len(s.pairs))
	copy(pairs, s.pairs)
	run := newRun(s, pairs)
	s.logger.Info("Starting experiment run", "run_id", run.ID(), "experiments", len(pairs))
	return run, nil
}

// Evolve merges the concepts of both halves of res into the knowledge base
// and journals "Evolved based on experiment results".
func (s *System) Evolve(ctx context.Context, res experiment.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evolveLocked(ctx, res)
}

func (s *System) evolveLocked(ctx context.Context, res experiment.Result) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "System.Evolve")
	defer span.End()

	original, err := s.kernel.ExtractConcepts(ctx, res.Original)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("extract original concepts: %w", err)
	}
	negation, err := s.kernel.ExtractConcepts(ctx, res.Negation)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("extract negation concepts: %w", err)
	}

	concepts := make([]string, 0, len(original)+len(negation))
	concepts = append(concepts, original...)
	concepts = append(concepts, negation...)
	added, err := s.kernel.MergeConcepts(ctx, concepts)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("merge concepts: %w", err)
	}

	span.SetAttributes(
		attribute.Int("concepts_extracted", len(concepts)),
		attribute.Int("concepts_added", added),
	)
	telemetry.SetSpanOK(span)
	s.commit(ctx, MsgEvolved)
	return nil
}

// EvolutionHistory returns a copy of the evolution log in insertion order.
func (s *System) EvolutionHistory() []EvolutionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.snapshot()
}

// Close stops the kernel and discards its knowledge base.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernel.Close()
}

// commit appends message to the evolution log. Callers hold s.mu.
func (s *System) commit(ctx context.Context, message string) {
	entry := s.log.append(message)
	s.metrics.RecordEvolutionEntry(ctx)
	s.logger.Info(message,
		"entry_id", entry.ID,
		"seq", entry.Seq,
		"kb_size", s.kernel.Status().KnowledgeBaseSize,
	)
	trace.SpanFromContext(ctx).AddEvent("evolution", trace.WithAttributes(
		attribute.String("message", message),
		attribute.Int64("seq", int64(entry.Seq)),
	))
}
