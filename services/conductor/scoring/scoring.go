// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scoring wraps step execution in a quality-gated retry loop and
// rolls per-step scores up into ensemble-level quality metrics.
//
// The evaluator itself is an external collaborator: this package only
// defines the retry/aggregation contract around it. Concrete scoring
// algorithms (embedding similarity, LLM judges, BLEU) plug in behind the
// Evaluator interface.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Sentinel errors for the scoring package.
var (
	// ErrExhausted is returned when retries run out below the minimum
	// threshold and the failure policy is abort.
	ErrExhausted = errors.New("scoring retries exhausted below minimum")

	// ErrNoEvaluator is returned when a scored step runs without an
	// evaluator configured.
	ErrNoEvaluator = errors.New("no evaluator configured")
)

// Result is one evaluation of a candidate output.
type Result struct {
	// Score is the overall quality score in [0,1].
	Score float64 `json:"score"`

	// Breakdown holds per-criterion scores.
	Breakdown map[string]float64 `json:"breakdown,omitempty"`

	// Passed reports score >= the step's minimum threshold. Set by the
	// gate, not the evaluator.
	Passed bool `json:"passed"`

	// CriterionPassed reports each criterion against the same minimum.
	// Set by the gate when the evaluator leaves it nil.
	CriterionPassed map[string]bool `json:"criterionPassed,omitempty"`

	// Feedback is an optional critique the gate can feed into the next
	// attempt's input.
	Feedback string `json:"feedback,omitempty"`
}

// HistoryEntry records one scored attempt. Entries are append-only and
// never mutated after being recorded.
type HistoryEntry struct {
	StepID    string    `json:"stepId"`
	Attempt   int       `json:"attempt"`
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluator scores a candidate output against opaque criteria.
//
// Thread Safety: implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate map[string]any, criteria map[string]any) (Result, error)
}

// ExhaustedError carries the context of a failed quality gate.
type ExhaustedError struct {
	StepID   string
	Attempts int
	Best     float64
	Minimum  float64
	Reason   string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("step %q: %s after %d attempts (best %.3f < minimum %.3f)",
		e.StepID, e.Reason, e.Attempts, e.Best, e.Minimum)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// ScriptedEvaluator returns a fixed sequence of scores, cycling on the
// last one. Used in tests and dry runs.
type ScriptedEvaluator struct {
	Scores    []float64
	Breakdown map[string]float64
	calls     atomic.Int64
}

// Evaluate returns the next scripted score.
func (e *ScriptedEvaluator) Evaluate(_ context.Context, _ map[string]any, _ map[string]any) (Result, error) {
	n := int(e.calls.Add(1)) - 1
	if n >= len(e.Scores) {
		n = len(e.Scores) - 1
	}
	if len(e.Scores) == 0 {
		return Result{Score: 1}, nil
	}
	return Result{Score: e.Scores[n], Breakdown: e.Breakdown}, nil
}

// Calls returns how many evaluations have run.
func (e *ScriptedEvaluator) Calls() int {
	return int(e.calls.Load())
}
