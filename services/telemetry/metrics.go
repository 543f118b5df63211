// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for every abraxus metric.
const MeterName = "abraxus"

// Metrics holds the abraxus instruments.
//
// All Record methods are safe on a nil *Metrics, so components can run
// uninstrumented.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// LLMQueriesTotal counts queries by mode (live, mock) and outcome
	// (ok, error, mock).
	LLMQueriesTotal metric.Int64Counter

	// LLMQueryDuration records live query latency in seconds.
	LLMQueryDuration metric.Float64Histogram

	// KernelTasksTotal counts kernel calls by kind (process, query) and
	// status (ok, not_running, error).
	KernelTasksTotal metric.Int64Counter

	// ExperimentsRunTotal counts completed experiment pairs.
	ExperimentsRunTotal metric.Int64Counter

	// EvolutionEntriesTotal counts evolution log appends.
	EvolutionEntriesTotal metric.Int64Counter

	// ConceptsMergedTotal counts concepts that were new to the knowledge base.
	ConceptsMergedTotal metric.Int64Counter

	// KnowledgeBaseSize reports the current size of registered knowledge bases.
	KnowledgeBaseSize metric.Int64ObservableGauge

	meter metric.Meter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns process-wide Metrics bound to the global MeterProvider.
//
// Instruments created before Init are re-bound once Init installs a provider,
// so Default is safe to call from constructors. Returns nil if instrument
// creation fails, which disables recording.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter(MeterName))
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// NewMetrics registers every abraxus instrument with meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.LLMQueriesTotal, err = meter.Int64Counter(
		"abraxus_llm_queries_total",
		metric.WithDescription("Language model queries by mode and outcome"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_queries_total: %w", err)
	}

	m.LLMQueryDuration, err = meter.Float64Histogram(
		"abraxus_llm_query_duration_seconds",
		metric.WithDescription("Live language model query duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm_query_duration: %w", err)
	}

	m.KernelTasksTotal, err = meter.Int64Counter(
		"abraxus_kernel_tasks_total",
		metric.WithDescription("Kernel task submissions by kind and status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kernel_tasks_total: %w", err)
	}

	m.ExperimentsRunTotal, err = meter.Int64Counter(
		"abraxus_experiments_run_total",
		metric.WithDescription("Experiment pairs run to completion"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create experiments_run_total: %w", err)
	}

	m.EvolutionEntriesTotal, err = meter.Int64Counter(
		"abraxus_evolution_entries_total",
		metric.WithDescription("Evolution log entries appended"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evolution_entries_total: %w", err)
	}

	m.ConceptsMergedTotal, err = meter.Int64Counter(
		"abraxus_concepts_merged_total",
		metric.WithDescription("Concepts newly added to the knowledge base"),
		metric.WithUnit("{concept}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create concepts_merged_total: %w", err)
	}

	m.KnowledgeBaseSize, err = meter.Int64ObservableGauge(
		"abraxus_knowledge_base_size",
		metric.WithDescription("Concepts currently held in the knowledge base"),
		metric.WithUnit("{concept}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create knowledge_base_size: %w", err)
	}

	return m, nil
}

// RegisterKnowledgeBase reports sizeFunc through the knowledge base gauge,
// labelled with kb. Unregister the returned handle when the knowledge base
// is closed.
func (m *Metrics) RegisterKnowledgeBase(kb string, sizeFunc func() int64) (metric.Registration, error) {
	if m == nil {
		return nil, nil
	}
	attrs := metric.WithAttributes(attribute.String("kb", kb))
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.KnowledgeBaseSize, sizeFunc(), attrs)
		return nil
	}, m.KnowledgeBaseSize)
}

// RecordLLMQuery records one query; duration is only recorded for live mode.
func (m *Metrics) RecordLLMQuery(ctx context.Context, mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMQueriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
	if mode == "live" {
		m.LLMQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

// RecordKernelTask records one kernel submission.
func (m *Metrics) RecordKernelTask(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.KernelTasksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordExperimentRun records one completed experiment pair.
func (m *Metrics) RecordExperimentRun(ctx context.Context) {
	if m == nil {
		return
	}
	m.ExperimentsRunTotal.Add(ctx, 1)
}

// RecordEvolutionEntry records one evolution log append.
func (m *Metrics) RecordEvolutionEntry(ctx context.Context) {
	if m == nil {
		return
	}
	m.EvolutionEntriesTotal.Add(ctx, 1)
}

// RecordConceptsMerged records n newly added concepts.
func (m *Metrics) RecordConceptsMerged(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ConceptsMergedTotal.Add(ctx, int64(n))
}
