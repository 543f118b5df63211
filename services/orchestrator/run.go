// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"

	"github.com/AleutianAI/abraxus/services/experiment"
	"github.com/AleutianAI/abraxus/services/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run is a lazy, finite, in-order pass over a catalogue snapshot.
//
// Each call to Next runs one pair, evolves the system from its result, and
// only then makes the result available. A Run cannot be restarted; once
// Next returns false it stays false.
//
// Not safe for concurrent use.
type Run struct {
	id    string
	sys   *System
	pairs []*experiment.Pair
	next  int

	completed int
	current   experiment.Result
	err       error
	done      bool
}

func newRun(sys *System, pairs []*experiment.Pair) *Run {
	return &Run{id: uuid.NewString(), sys: sys, pairs: pairs}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Len returns the number of pairs in the run.
func (r *Run) Len() int { return len(r.pairs) }

// Next advances to the next pair. It returns false when the catalogue is
// exhausted or a step failed; check Err afterwards.
func (r *Run) Next(ctx context.Context) bool {
	if r.done {
		return false
	}
	if r.next >= len(r.pairs) {
		r.finish(nil)
		return false
	}
	if err := ctx.Err(); err != nil {
		r.finish(err)
		return false
	}

	pair := r.pairs[r.next]
	index := r.next
	r.next++

	res, err := r.step(ctx, index, pair)
	if err != nil {
		r.finish(err)
		return false
	}
	r.current = res
	r.completed++
	return true
}

func (r *Run) step(ctx context.Context, index int, pair *experiment.Pair) (experiment.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerOrchestrator, "Run.Next",
		trace.WithAttributes(
			attribute.String("run_id", r.id),
			attribute.Int("index", index),
			attribute.String("experiment", pair.Original().Name),
		),
	)
	defer span.End()

	r.sys.mu.Lock()
	defer r.sys.mu.Unlock()

	res, err := pair.Run(ctx, r.sys.kernel)
	if err != nil {
		telemetry.RecordError(span, err)
		return experiment.Result{}, err
	}
	r.sys.metrics.RecordExperimentRun(ctx)

	if err := r.sys.evolveLocked(ctx, res); err != nil {
		telemetry.RecordError(span, err)
		return experiment.Result{}, fmt.Errorf("evolve after %q: %w", pair.Original().Name, err)
	}
	telemetry.SetSpanOK(span)
	return res, nil
}

func (r *Run) finish(err error) {
	r.done = true
	r.err = err
	r.current = experiment.Result{}
	if err != nil {
		r.sys.logger.Error("Experiment run failed", "run_id", r.id, "completed", r.completed, "error", err.Error())
		return
	}
	r.sys.logger.Info("Experiment run complete", "run_id", r.id, "experiments", len(r.pairs))
}

// Result returns the result produced by the last successful Next.
func (r *Run) Result() experiment.Result { return r.current }

// Err returns the error that stopped the run, if any.
func (r *Run) Err() error { return r.err }

// Collect drains the run and returns every result in order. On failure it
// returns the results produced before the failing step.
func (r *Run) Collect(ctx context.Context) ([]experiment.Result, error) {
	var results []experiment.Result
	for r.Next(ctx) {
		results = append(results, r.Result())
	}
	return results, r.Err()
}
