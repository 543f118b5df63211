// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"context"
	"fmt"
)

// Result holds the raw results of both halves of a Pair.
type Result struct {
	Original string `json:"original"`
	Negation string `json:"negation"`
}

// Pair is an experiment together with its derived negation.
//
// The negation is always built by Negate, so a Pair always has exactly two
// members.
type Pair struct {
	original *Experiment
	negation *Experiment
}

// NewPair wraps e with its negation.
func NewPair(e *Experiment) *Pair {
	return &Pair{original: e, negation: Negate(e)}
}

// Original returns the experiment as registered.
func (p *Pair) Original() *Experiment { return p.original }

// Negation returns the derived contrapositive.
func (p *Pair) Negation() *Experiment { return p.negation }

// Run processes the original, then the negation, through proc.
//
// The negation is not submitted until the original's call has returned.
// If the original fails, the negation is never submitted.
func (p *Pair) Run(ctx context.Context, proc TaskProcessor) (Result, error) {
	original, err := p.original.Run(ctx, proc)
	if err != nil {
		return Result{}, fmt.Errorf("run %q: %w", p.original.Name, err)
	}
	negation, err := p.negation.Run(ctx, proc)
	if err != nil {
		return Result{}, fmt.Errorf("run %q: %w", p.negation.Name, err)
	}
	return Result{Original: original, Negation: negation}, nil
}
