// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ensemble defines the workflow definition language: ensembles,
// flow steps, and scoring configuration, plus the YAML loader that parses
// and validates them. Definitions are immutable once loaded and identified
// by name and version.
package ensemble

import (
	"fmt"
	"time"
)

// BackoffStrategy controls the delay between scored retries.
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// FailurePolicy controls what happens when a step fails or scoring is
// exhausted.
type FailurePolicy string

const (
	// FailAbort fails the whole ensemble execution. Default when a step
	// has no scoring config.
	FailAbort FailurePolicy = "abort"

	// FailContinue records the step as failed (or degraded, for scoring)
	// and lets dependents run; references to its output resolve to the
	// Undefined sentinel.
	FailContinue FailurePolicy = "continue"

	// FailRetry retries subject to MaxRetries. Only meaningful with a
	// scoring config.
	FailRetry FailurePolicy = "retry"
)

// Aggregation selects how per-step scores roll up into the ensemble score.
type Aggregation string

const (
	AggWeightedAverage Aggregation = "weighted-average"
	AggMinimum         Aggregation = "minimum"
	AggGeometricMean   Aggregation = "geometric-mean"
)

// PartialFailureMode controls a parallel group's reaction to a member
// failure.
type PartialFailureMode string

const (
	// PartialFailFast fails the whole group on the first member failure.
	PartialFailFast PartialFailureMode = "fail-fast"

	// PartialContinue records failed members but lets in-flight siblings
	// finish; the group completes with partial results.
	PartialContinue PartialFailureMode = "continue"
)

// Thresholds are the quality cut lines for a scored step, each in [0,1].
type Thresholds struct {
	Minimum   float64 `yaml:"minimum" json:"minimum" validate:"gte=0,lte=1"`
	Target    float64 `yaml:"target" json:"target" validate:"gte=0,lte=1"`
	Excellent float64 `yaml:"excellent" json:"excellent" validate:"gte=0,lte=1"`
}

// ScoringConfig wraps a step's member invocation in a quality-gated retry
// loop. The zero value is not valid; use DefaultScoringConfig as a base.
type ScoringConfig struct {
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// MaxRetries bounds re-invocations after the first attempt.
	MaxRetries int `yaml:"maxRetries" json:"maxRetries" validate:"gte=0"`

	// BackoffStrategy selects the delay curve between attempts.
	BackoffStrategy BackoffStrategy `yaml:"backoffStrategy" json:"backoffStrategy" validate:"omitempty,oneof=linear exponential fixed"`

	// BackoffBase is the base delay fed into the strategy.
	BackoffBase Duration `yaml:"backoffBase" json:"backoffBase"`

	// BackoffMax caps the exponential strategy.
	BackoffMax Duration `yaml:"backoffMax" json:"backoffMax"`

	// OnFailure applies when retries are exhausted below minimum.
	OnFailure FailurePolicy `yaml:"onFailure" json:"onFailure" validate:"omitempty,oneof=retry continue abort"`

	// RequireImprovement stops retrying early when an attempt fails to
	// improve on the best prior score by at least MinImprovement.
	RequireImprovement bool    `yaml:"requireImprovement" json:"requireImprovement"`
	MinImprovement     float64 `yaml:"minImprovement" json:"minImprovement" validate:"gte=0,lte=1"`

	// Budget bounds the whole retry cycle. Zero means no budget.
	Budget Duration `yaml:"budget" json:"budget"`

	// Criteria is passed opaquely to the evaluator.
	Criteria map[string]any `yaml:"criteria" json:"criteria"`

	// Weight is this step's weight in weighted-average aggregation.
	// Zero means 1.
	Weight float64 `yaml:"weight" json:"weight" validate:"gte=0"`

	// FeedbackKey, when set, injects the previous attempt's scoring
	// breakdown into the next invocation's input under this key.
	FeedbackKey string `yaml:"feedbackKey" json:"feedbackKey"`
}

// DefaultScoringConfig returns the baseline used when a step attaches
// scoring without overriding the knobs.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Thresholds:      Thresholds{Minimum: 0.7, Target: 0.85, Excellent: 0.95},
		MaxRetries:      2,
		BackoffStrategy: BackoffExponential,
		BackoffBase:     Duration(500 * time.Millisecond),
		BackoffMax:      Duration(30 * time.Second),
		OnFailure:       FailAbort,
	}
}

// FlowStep is one node in the execution graph.
type FlowStep struct {
	// ID uniquely names the step within the ensemble.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Member references the registered member implementation by name.
	Member string `yaml:"member" json:"member" validate:"required"`

	// Input maps input field names to template expressions resolved
	// against the execution context before invocation.
	Input map[string]any `yaml:"input" json:"input"`

	// Condition, when set, is a boolean expression; the step is skipped
	// (not failed) when it evaluates false.
	Condition string `yaml:"condition" json:"condition,omitempty"`

	// DependsOn lists step ids that must complete first.
	DependsOn []string `yaml:"dependsOn" json:"dependsOn,omitempty"`

	// ParallelGroup names a group of mutually unordered steps that all
	// complete before any dependent proceeds.
	ParallelGroup string `yaml:"parallelGroup" json:"parallelGroup,omitempty"`

	// Scoring attaches a quality gate to this step.
	Scoring *ScoringConfig `yaml:"scoring" json:"scoring,omitempty"`

	// OnFailure overrides the failure policy for unscored steps.
	// Empty means abort.
	OnFailure FailurePolicy `yaml:"onFailure" json:"onFailure,omitempty" validate:"omitempty,oneof=continue abort"`

	// Timeout bounds one member invocation. Zero means no timeout.
	Timeout Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Definition is a complete, immutable ensemble definition.
type Definition struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Version string `yaml:"version" json:"version"`

	// Steps in declaration order. Declaration order is the deterministic
	// tie-break wherever the scheduler must pick among ready steps.
	Steps []FlowStep `yaml:"steps" json:"steps" validate:"required,min=1,dive"`

	// StateSchema declares the shared state keys and their types.
	StateSchema map[string]string `yaml:"stateSchema" json:"stateSchema"`

	// Grants optionally restricts members' state access by step id.
	Grants map[string]StateGrant `yaml:"grants" json:"grants,omitempty"`

	// DefaultScoring applies to scored steps that leave knobs unset.
	DefaultScoring *ScoringConfig `yaml:"defaultScoring" json:"defaultScoring,omitempty"`

	// Suspendable lists step ids allowed to signal suspension.
	Suspendable []string `yaml:"suspendable" json:"suspendable,omitempty"`

	// Aggregation selects the ensemble-level score rollup.
	// Empty means weighted-average.
	Aggregation Aggregation `yaml:"aggregation" json:"aggregation,omitempty" validate:"omitempty,oneof=weighted-average minimum geometric-mean"`

	// OnPartialFailure selects the parallel-group failure mode.
	// Empty means fail-fast.
	OnPartialFailure PartialFailureMode `yaml:"onPartialFailure" json:"onPartialFailure,omitempty" validate:"omitempty,oneof=fail-fast continue"`

	// TrendEpsilon is the dead band for trend classification. Zero means
	// the default of 0.05.
	TrendEpsilon float64 `yaml:"trendEpsilon" json:"trendEpsilon,omitempty" validate:"gte=0,lte=1"`
}

// StateGrant mirrors state.Grant at the definition layer.
type StateGrant struct {
	Read  []string `yaml:"read" json:"read"`
	Write []string `yaml:"write" json:"write"`
}

// Ref identifies a definition by name and version.
func (d *Definition) Ref() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + "@" + d.Version
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (*FlowStep, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// IsSuspendable reports whether the step may signal suspension.
func (d *Definition) IsSuspendable(stepID string) bool {
	for _, id := range d.Suspendable {
		if id == stepID {
			return true
		}
	}
	return false
}

// EffectiveScoring merges a step's scoring config over the ensemble
// default and fills remaining zero knobs from DefaultScoringConfig.
// Returns nil when the step is unscored.
func (d *Definition) EffectiveScoring(step *FlowStep) *ScoringConfig {
	if step.Scoring == nil && d.DefaultScoring == nil {
		return nil
	}

	base := DefaultScoringConfig()
	if d.DefaultScoring != nil {
		overlay(&base, d.DefaultScoring)
	}
	if step.Scoring != nil {
		overlay(&base, step.Scoring)
	}
	return &base
}

// overlay copies src's non-zero knobs onto dst. Thresholds are copied as a
// unit when any of them is set.
func overlay(dst, src *ScoringConfig) {
	if src.Thresholds != (Thresholds{}) {
		dst.Thresholds = src.Thresholds
	}
	if src.MaxRetries != 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.BackoffStrategy != "" {
		dst.BackoffStrategy = src.BackoffStrategy
	}
	if src.BackoffBase != 0 {
		dst.BackoffBase = src.BackoffBase
	}
	if src.BackoffMax != 0 {
		dst.BackoffMax = src.BackoffMax
	}
	if src.OnFailure != "" {
		dst.OnFailure = src.OnFailure
	}
	if src.RequireImprovement {
		dst.RequireImprovement = true
		dst.MinImprovement = src.MinImprovement
	}
	if src.Budget != 0 {
		dst.Budget = src.Budget
	}
	if src.Criteria != nil {
		dst.Criteria = src.Criteria
	}
	if src.Weight != 0 {
		dst.Weight = src.Weight
	}
	if src.FeedbackKey != "" {
		dst.FeedbackKey = src.FeedbackKey
	}
}

// validateSemantics checks cross-field rules the struct tags cannot express.
func (d *Definition) validateSemantics() error {
	seen := map[string]bool{}
	for i := range d.Steps {
		step := &d.Steps[i]
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if sc := step.Scoring; sc != nil {
			th := sc.Thresholds
			if th != (Thresholds{}) && (th.Minimum > th.Target || th.Target > th.Excellent) {
				return fmt.Errorf("step %q: thresholds must satisfy minimum <= target <= excellent", step.ID)
			}
		}
	}

	for _, id := range d.Suspendable {
		if !seen[id] {
			return fmt.Errorf("suspendable step %q does not exist", id)
		}
	}
	for id := range d.Grants {
		if !seen[id] {
			return fmt.Errorf("grant references unknown step %q", id)
		}
	}
	return nil
}
