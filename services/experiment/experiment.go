// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment defines experiments and their contrapositive duals.
package experiment

import (
	"context"
	"sync"
)

// TaskProcessor runs one procedure and returns its raw result.
// *kernel.Kernel satisfies it.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, task string) (string, error)
}

// Experiment is a named hypothesis with the procedure that tests it.
type Experiment struct {
	Name       string `json:"name"`
	Hypothesis string `json:"hypothesis"`
	Procedure  string `json:"procedure"`

	mu      sync.Mutex
	results []string
}

// New creates an experiment with no results.
func New(name, hypothesis, procedure string) *Experiment {
	return &Experiment{Name: name, Hypothesis: hypothesis, Procedure: procedure}
}

// Run submits the procedure to p and appends the result.
func (e *Experiment) Run(ctx context.Context, p TaskProcessor) (string, error) {
	result, err := p.ProcessTask(ctx, e.Procedure)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.results = append(e.results, result)
	e.mu.Unlock()
	return result, nil
}

// Results returns a copy of every result recorded so far, oldest first.
func (e *Experiment) Results() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.results))
	copy(out, e.results)
	return out
}

// Negate derives the contrapositive of e. It has no results of its own.
func Negate(e *Experiment) *Experiment {
	return New(
		"Not-"+e.Name,
		"The opposite of: "+e.Hypothesis,
		"Attempt to disprove: "+e.Procedure,
	)
}
