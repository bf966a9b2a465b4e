// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/flow"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/member"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/state"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/suspend"
)

// ExecutionStatus is the discriminator of an ExecutionResult.
type ExecutionStatus string

const (
	// StatusCompleted means the execution reached a terminal state with
	// output.
	StatusCompleted ExecutionStatus = "completed"

	// StatusPending means the execution suspended; Token resumes it.
	StatusPending ExecutionStatus = "pending"

	// StatusFailed means the execution aborted on a step failure.
	StatusFailed ExecutionStatus = "failed"
)

// ExecutionResult is the discriminated outcome callers receive: success
// with output, pending with a resumable token, or failure naming the
// step and attempt that failed.
type ExecutionResult struct {
	ExecutionID string          `json:"executionId"`
	Ensemble    string          `json:"ensemble"`
	Status      ExecutionStatus `json:"status"`

	// Outputs holds per-step outputs for completed executions.
	Outputs map[string]map[string]any `json:"outputs,omitempty"`

	// State is the final declared-state snapshot.
	State map[string]any `json:"state,omitempty"`

	// Metrics is the post-execution quality rollup; nil when no step
	// was scored.
	Metrics *scoring.QualityMetrics `json:"metrics,omitempty"`

	StepStatuses map[string]flow.StepStatus `json:"stepStatuses,omitempty"`
	Durations    map[string]time.Duration   `json:"durations,omitempty"`

	// Pending fields.
	Token       string `json:"token,omitempty"`
	PendingStep string `json:"pendingStep,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ResumeHint  string `json:"resumeHint,omitempty"`

	// Failure fields.
	FailedStep string `json:"failedStep,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Config tunes the service.
type Config struct {
	// SuspendTTL bounds how long suspended executions wait for resume.
	// Zero uses suspend.DefaultTTL.
	SuspendTTL time.Duration

	// StrictInterpolation makes input binding fail on missing variables.
	StrictInterpolation bool
}

// Service is the engine facade: it owns the executor, the suspension
// controller, and the definition store, and exposes the two caller
// operations, ExecuteEnsemble and ResumeExecution.
//
// Thread Safety: safe for concurrent use; executions are independent.
type Service struct {
	config      Config
	registry    *member.Registry
	executor    *flow.Executor
	controller  *suspend.Controller
	definitions *DefinitionStore
	logger      *slog.Logger
}

// NewService wires the engine together. The evaluator may be nil when no
// definition uses scoring; durable is the suspension backing store.
func NewService(cfg Config, registry *member.Registry, evaluator scoring.Evaluator, durable suspend.DurableStore, definitions *DefinitionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []flow.Option{
		flow.WithLogger(logger),
		flow.WithGate(scoring.NewGate(evaluator, logger)),
	}
	if cfg.StrictInterpolation {
		opts = append(opts, flow.WithStrictInterpolation())
	}
	return &Service{
		config:      cfg,
		registry:    registry,
		executor:    flow.NewExecutor(registry, opts...),
		controller:  suspend.NewController(durable, logger),
		definitions: definitions,
		logger:      logger,
	}
}

// Registry returns the member registry for startup registration.
func (s *Service) Registry() *member.Registry {
	return s.registry
}

// Definitions returns the definition store.
func (s *Service) Definitions() *DefinitionStore {
	return s.definitions
}

// ExecuteEnsemble runs a definition to a terminal state or a suspension.
func (s *Service) ExecuteEnsemble(ctx context.Context, def *ensemble.Definition, input map[string]any) (*ExecutionResult, error) {
	store := newStateStore(def)
	ec := flow.NewExecutionContext(def.Ref(), input, store)
	s.logger.Info("ensemble execution starting",
		"ensemble", def.Ref(), "execution", ec.ID())
	return s.drive(ctx, def, ec)
}

// ExecuteByName resolves the definition from the store and executes it.
func (s *Service) ExecuteByName(ctx context.Context, ref string, input map[string]any) (*ExecutionResult, error) {
	def, err := s.definitions.Get(ref)
	if err != nil {
		return nil, err
	}
	return s.ExecuteEnsemble(ctx, def, input)
}

// ResumeExecution consumes a resume token and continues the suspended
// execution from the batch after its pending step.
func (s *Service) ResumeExecution(ctx context.Context, token string, resumeInput map[string]any) (*ExecutionResult, error) {
	ec, err := s.controller.Resume(ctx, token, resumeInput)
	if err != nil {
		resumesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	def, err := s.definitions.Get(ec.Ref())
	if err != nil {
		resumesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("resume: %w", err)
	}
	resumesTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("ensemble execution resuming",
		"ensemble", def.Ref(), "execution", ec.ID())
	return s.drive(ctx, def, ec)
}

// drive runs the executor and folds the outcome into the caller-facing
// discriminated result.
func (s *Service) drive(ctx context.Context, def *ensemble.Definition, ec *flow.ExecutionContext) (*ExecutionResult, error) {
	start := time.Now()
	res, err := s.executor.Run(ctx, def, ec)
	executionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		executionsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return failureResult(def, ec, err), err
	}

	if res.Suspension != nil {
		token, err := s.controller.Suspend(ctx, ec, res.Suspension, s.config.SuspendTTL)
		if err != nil {
			executionsTotal.WithLabelValues(string(StatusFailed)).Inc()
			return nil, fmt.Errorf("persist suspension: %w", err)
		}
		executionsTotal.WithLabelValues(string(StatusPending)).Inc()
		suspensionsTotal.Inc()
		return &ExecutionResult{
			ExecutionID: ec.ID(),
			Ensemble:    def.Ref(),
			Status:      StatusPending,
			Token:       token,
			PendingStep: res.Suspension.StepID,
			Reason:      res.Suspension.Reason,
			ResumeHint:  res.Suspension.ResumeHint,
		}, nil
	}

	executionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	retriesTotal.Add(float64(ec.TotalRetries()))
	return &ExecutionResult{
		ExecutionID:  ec.ID(),
		Ensemble:     def.Ref(),
		Status:       StatusCompleted,
		Outputs:      ec.Outputs(),
		State:        ec.Store().Snapshot(),
		Metrics:      s.computeMetrics(def, ec),
		StepStatuses: ec.Statuses(),
		Durations:    ec.Durations(),
	}, nil
}

// computeMetrics rolls the execution's score history into ensemble-level
// quality metrics using the definition's aggregation and weights.
func (s *Service) computeMetrics(def *ensemble.Definition, ec *flow.ExecutionContext) *scoring.QualityMetrics {
	weights := map[string]float64{}
	for i := range def.Steps {
		step := &def.Steps[i]
		if cfg := def.EffectiveScoring(step); cfg != nil && cfg.Weight > 0 {
			weights[step.ID] = cfg.Weight
		}
	}
	scorer := scoring.Scorer{
		Aggregation:  def.Aggregation,
		Weights:      weights,
		TrendEpsilon: def.TrendEpsilon,
	}
	return scorer.Compute(ec.History())
}

// failureResult extracts the failing step and attempt for the caller.
func failureResult(def *ensemble.Definition, ec *flow.ExecutionContext, err error) *ExecutionResult {
	res := &ExecutionResult{
		ExecutionID:  ec.ID(),
		Ensemble:     def.Ref(),
		Status:       StatusFailed,
		Error:        err.Error(),
		StepStatuses: ec.Statuses(),
	}
	var mErr *flow.MemberExecutionError
	if errors.As(err, &mErr) {
		res.FailedStep = mErr.StepID
		res.Attempt = mErr.Attempt
	}
	var exErr *scoring.ExhaustedError
	if errors.As(err, &exErr) {
		res.FailedStep = exErr.StepID
		res.Attempt = exErr.Attempts
	}
	return res
}

// newStateStore declares the definition's schema and grants.
func newStateStore(def *ensemble.Definition) *state.Store {
	schema := state.Schema{}
	for key, typ := range def.StateSchema {
		schema[key] = state.ValueType(typ)
	}
	store := state.Declare(schema)
	if len(def.Grants) > 0 {
		grants := make(map[string]state.Grant, len(def.Grants))
		for id, g := range def.Grants {
			grants[id] = state.Grant{Read: g.Read, Write: g.Write}
		}
		store = store.WithGrants(grants)
	}
	return store
}
