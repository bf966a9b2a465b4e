// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InvokeFunc runs one attempt of the gated member invocation. attempt is
// 1-based; feedback carries the previous attempt's scoring result (nil on
// the first attempt) so the caller can inject it into the member input.
type InvokeFunc func(ctx context.Context, attempt int, feedback *Result) (map[string]any, error)

// Gate executes a step under a scoring config: invoke, evaluate, and
// retry with backoff until the minimum threshold is met, retries are
// exhausted, or improvement plateaus.
//
// Thread Safety: safe for concurrent use; per-execution state lives on
// the stack of Run.
type Gate struct {
	evaluator Evaluator
	logger    *slog.Logger
	tracer    trace.Tracer

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate builds a gate around the given evaluator.
func NewGate(evaluator Evaluator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		evaluator: evaluator,
		logger:    logger,
		tracer:    otel.Tracer("conductor/scoring"),
		sleep:     sleepCtx,
	}
}

// Outcome is the terminal state of one gated step execution.
type Outcome struct {
	// Output is the accepted candidate. When Degraded is true this is the
	// best candidate seen, not one that met the minimum.
	Output map[string]any

	// Best is the scoring result attached to Output.
	Best Result

	// Attempts counts invocations; Retries is Attempts - 1.
	Attempts int
	Retries  int

	// History holds one entry per scored attempt, in order.
	History []HistoryEntry

	// Degraded marks a below-minimum outcome accepted under the
	// continue policy.
	Degraded bool
}

// Run drives the retry loop for one step. The attempt loop runs at most
// 1 + cfg.MaxRetries times; every evaluated attempt is appended to the
// returned history regardless of outcome.
func (g *Gate) Run(ctx context.Context, stepID string, cfg *ensemble.ScoringConfig, invoke InvokeFunc) (*Outcome, error) {
	if g.evaluator == nil {
		return nil, fmt.Errorf("step %q: %w", stepID, ErrNoEvaluator)
	}

	ctx, span := g.tracer.Start(ctx, "scoring.gate",
		trace.WithAttributes(attribute.String("step.id", stepID)))
	defer span.End()

	if budget := cfg.Budget.Std(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var (
		history    []HistoryEntry
		best       Result
		bestOutput map[string]any
		haveBest   bool
		feedback   *Result
	)

	maxAttempts := cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %q: scoring budget exceeded: %w", stepID, err)
		}

		output, err := invoke(ctx, attempt, feedback)
		if err != nil {
			if attempt < maxAttempts && ctx.Err() == nil {
				g.logger.Warn("gated invocation failed, retrying",
					"step", stepID, "attempt", attempt, "error", err)
				if serr := g.sleep(ctx, backoffDelay(cfg, attempt)); serr != nil {
					return nil, fmt.Errorf("step %q: scoring budget exceeded: %w", stepID, serr)
				}
				continue
			}
			return nil, fmt.Errorf("step %q: attempt %d: %w", stepID, attempt, err)
		}

		res, err := g.evaluator.Evaluate(ctx, output, cfg.Criteria)
		if err != nil {
			return nil, fmt.Errorf("step %q: evaluate attempt %d: %w", stepID, attempt, err)
		}
		minimum := cfg.Thresholds.Minimum
		res.Passed = res.Score >= minimum
		if res.CriterionPassed == nil && len(res.Breakdown) > 0 {
			res.CriterionPassed = make(map[string]bool, len(res.Breakdown))
			for name, score := range res.Breakdown {
				res.CriterionPassed[name] = score >= minimum
			}
		}
		history = append(history, HistoryEntry{
			StepID:    stepID,
			Attempt:   attempt,
			Result:    res,
			Timestamp: time.Now().UTC(),
		})
		g.logger.Debug("attempt scored",
			"step", stepID, "attempt", attempt, "score", res.Score, "passed", res.Passed)

		plateaued := haveBest && cfg.RequireImprovement &&
			res.Score-best.Score < cfg.MinImprovement

		if !haveBest || res.Score > best.Score {
			best = res
			bestOutput = output
			haveBest = true
		}

		if res.Passed {
			span.SetAttributes(attribute.Int("scoring.attempts", attempt))
			return &Outcome{
				Output:   output,
				Best:     res,
				Attempts: attempt,
				Retries:  attempt - 1,
				History:  history,
			}, nil
		}

		if plateaued {
			g.logger.Info("score plateaued, stopping retries",
				"step", stepID, "attempt", attempt,
				"score", res.Score, "best", best.Score)
			return g.exhausted(stepID, cfg, "improvement plateaued", best, bestOutput, attempt, history)
		}

		if attempt < maxAttempts {
			feedback = &res
			if err := g.sleep(ctx, backoffDelay(cfg, attempt)); err != nil {
				return nil, fmt.Errorf("step %q: scoring budget exceeded: %w", stepID, err)
			}
		}
	}

	return g.exhausted(stepID, cfg, "retries exhausted", best, bestOutput, maxAttempts, history)
}

// exhausted applies the failure policy once the gate gives up.
func (g *Gate) exhausted(stepID string, cfg *ensemble.ScoringConfig, reason string, best Result, bestOutput map[string]any, attempts int, history []HistoryEntry) (*Outcome, error) {
	if cfg.OnFailure == ensemble.FailContinue {
		g.logger.Warn("accepting best candidate below minimum",
			"step", stepID, "best", best.Score, "minimum", cfg.Thresholds.Minimum)
		return &Outcome{
			Output:   bestOutput,
			Best:     best,
			Attempts: attempts,
			Retries:  attempts - 1,
			History:  history,
			Degraded: true,
		}, nil
	}
	return &Outcome{
			Attempts: attempts,
			Retries:  attempts - 1,
			History:  history,
			Best:     best,
		}, &ExhaustedError{
			StepID:   stepID,
			Attempts: attempts,
			Best:     best.Score,
			Minimum:  cfg.Thresholds.Minimum,
			Reason:   reason,
		}
}

// backoffDelay computes the pause after the given completed attempt.
func backoffDelay(cfg *ensemble.ScoringConfig, attempt int) time.Duration {
	base := cfg.BackoffBase.Std()
	if base <= 0 {
		return 0
	}
	var d time.Duration
	switch cfg.BackoffStrategy {
	case ensemble.BackoffLinear:
		d = time.Duration(attempt) * base
	case ensemble.BackoffFixed:
		d = base
	default:
		d = base << (attempt - 1)
	}
	if max := cfg.BackoffMax.Std(); max > 0 && d > max {
		d = max
	}
	return d
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
