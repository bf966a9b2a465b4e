// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoring

import (
	"math"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
)

// Trend classifies score movement across an execution.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// defaultTrendEpsilon is the dead band below which movement counts as
// stable.
const defaultTrendEpsilon = 0.05

// QualityMetrics is the ensemble-level rollup of per-step score history.
type QualityMetrics struct {
	// AggregateScore combines the final score of every scored step using
	// the configured aggregation.
	AggregateScore float64 `json:"aggregateScore"`

	// PassRate is the fraction of scored steps whose final attempt met
	// the minimum threshold.
	PassRate float64 `json:"passRate"`

	// CriterionPassRates is the per-criterion pass fraction over final
	// attempts.
	CriterionPassRates map[string]float64 `json:"criterionPassRates,omitempty"`

	// TotalRetries sums re-invocations across all scored steps.
	TotalRetries int `json:"totalRetries"`

	// Trend compares the mean of the first half of all attempts against
	// the second half, in chronological order.
	Trend Trend `json:"trend"`
}

// Scorer rolls score history up into QualityMetrics.
type Scorer struct {
	// Aggregation selects the rollup. Empty means weighted-average.
	Aggregation ensemble.Aggregation

	// Weights maps step id to its weighted-average weight. Missing steps
	// weigh 1.
	Weights map[string]float64

	// TrendEpsilon overrides the trend dead band. Zero means the default.
	TrendEpsilon float64
}

// Compute derives metrics from an execution's full score history. The
// history slice is already chronological because entries are appended as
// attempts complete. Returns nil when no step was scored.
func (s *Scorer) Compute(history []HistoryEntry) *QualityMetrics {
	if len(history) == 0 {
		return nil
	}

	// Final attempt per step, preserving first-seen step order.
	finalByStep := map[string]HistoryEntry{}
	var order []string
	for _, entry := range history {
		if _, seen := finalByStep[entry.StepID]; !seen {
			order = append(order, entry.StepID)
		}
		finalByStep[entry.StepID] = entry
	}

	m := &QualityMetrics{
		TotalRetries: len(history) - len(order),
		Trend:        s.trend(history),
	}

	var passed int
	critPass := map[string]int{}
	critTotal := map[string]int{}
	scores := make([]float64, 0, len(order))
	weights := make([]float64, 0, len(order))
	for _, stepID := range order {
		entry := finalByStep[stepID]
		scores = append(scores, entry.Result.Score)
		w := 1.0
		if sw, ok := s.Weights[stepID]; ok && sw > 0 {
			w = sw
		}
		weights = append(weights, w)
		if entry.Result.Passed {
			passed++
		}
		for name, ok := range entry.Result.CriterionPassed {
			critTotal[name]++
			if ok {
				critPass[name]++
			}
		}
	}

	m.PassRate = float64(passed) / float64(len(order))
	if len(critTotal) > 0 {
		m.CriterionPassRates = make(map[string]float64, len(critTotal))
		for name, total := range critTotal {
			m.CriterionPassRates[name] = float64(critPass[name]) / float64(total)
		}
	}
	m.AggregateScore = aggregate(s.Aggregation, scores, weights)
	return m
}

// aggregate combines final step scores per the configured strategy.
func aggregate(agg ensemble.Aggregation, scores, weights []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	switch agg {
	case ensemble.AggMinimum:
		min := scores[0]
		for _, sc := range scores[1:] {
			if sc < min {
				min = sc
			}
		}
		return min
	case ensemble.AggGeometricMean:
		// A single zero score zeroes the product.
		sum := 0.0
		for _, sc := range scores {
			if sc <= 0 {
				return 0
			}
			sum += math.Log(sc)
		}
		return math.Exp(sum / float64(len(scores)))
	default:
		var total, wsum float64
		for i, sc := range scores {
			total += sc * weights[i]
			wsum += weights[i]
		}
		return total / wsum
	}
}

// trend splits the chronological attempt sequence in half and compares
// the means.
func (s *Scorer) trend(history []HistoryEntry) Trend {
	if len(history) < 2 {
		return TrendStable
	}
	eps := s.TrendEpsilon
	if eps <= 0 {
		eps = defaultTrendEpsilon
	}
	mid := len(history) / 2
	first := meanScore(history[:mid])
	second := meanScore(history[mid:])
	switch diff := second - first; {
	case diff > eps:
		return TrendImproving
	case diff < -eps:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func meanScore(entries []HistoryEntry) float64 {
	var sum float64
	for _, e := range entries {
		sum += e.Result.Score
	}
	return sum / float64(len(entries))
}
