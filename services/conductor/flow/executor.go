// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/interp"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/member"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Executor drives one ensemble execution through its batch order. It
// resolves step inputs against the execution context, invokes members
// (through the scoring gate when a step is scored), and merges outputs
// back into shared state in a fixed order per batch.
//
// Description:
//
//	One Executor serves many executions; per-execution state lives in
//	the ExecutionContext. Members and the evaluator are injected, never
//	resolved from globals.
//
// Thread Safety:
//
//	Safe for concurrent use across executions. Within one execution a
//	single scheduler loop runs; only parallel-group members execute
//	concurrently.
type Executor struct {
	registry *member.Registry
	gate     *scoring.Gate
	resolver interp.Resolver
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithGate attaches the scoring gate used for scored steps.
func WithGate(g *scoring.Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithStrictInterpolation makes input binding fail on missing variables
// instead of resolving them to the Undefined sentinel.
func WithStrictInterpolation() Option {
	return func(e *Executor) { e.resolver.Strict = true }
}

// NewExecutor builds an executor over the given member registry.
func NewExecutor(registry *member.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer("conductor/flow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suspension is the executor's cooperative-pause signal. The caller is
// responsible for persisting the execution snapshot and minting a token.
type Suspension struct {
	StepID     string
	Reason     string
	ResumeHint string
}

// RunResult is the outcome of one scheduler pass. A nil Suspension means
// the execution reached a terminal state.
type RunResult struct {
	Suspension *Suspension
}

// stepResult is the in-batch outcome of one step, applied to the
// execution context only after the whole batch joins.
type stepResult struct {
	step     *ensemble.FlowStep
	skipped  bool
	output   map[string]any
	suspend  *member.SuspendRequest
	history  []scoring.HistoryEntry
	retries  int
	degraded bool
	err      error
	duration time.Duration
}

// Run executes every remaining batch of the definition against ec.
// Steps already completed, skipped, or failed are not re-run, which is
// what lets a resumed execution continue from its saved cursor.
func (e *Executor) Run(ctx context.Context, def *ensemble.Definition, ec *ExecutionContext) (*RunResult, error) {
	graph, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "flow.run",
		trace.WithAttributes(
			attribute.String("ensemble", def.Ref()),
			attribute.String("execution.id", ec.ID()),
		))
	defer span.End()

	for _, batch := range graph.Batches() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		var pending []*ensemble.FlowStep
		for _, step := range batch.Steps {
			if !ec.IsDone(step.ID) {
				pending = append(pending, step)
			}
		}
		if len(pending) == 0 {
			continue
		}

		results, err := e.runBatch(ctx, def, ec, batch.Group, pending)
		if err != nil {
			return nil, err
		}

		// Merge in declaration order so concurrent completions stay
		// deterministic.
		var suspended *stepResult
		for _, res := range results {
			stepID := res.step.ID
			switch {
			case res.err != nil:
				policy := res.step.OnFailure
				if policy == "" {
					policy = ensemble.FailAbort
				}
				ec.AppendHistory(res.history, res.retries)
				if policy == ensemble.FailContinue {
					e.logger.Warn("step failed, continuing",
						"execution", ec.ID(), "step", stepID, "error", res.err)
					ec.Fail(stepID, res.err, res.duration)
					continue
				}
				ec.Fail(stepID, res.err, res.duration)
				return nil, res.err
			case res.skipped:
				ec.SetStatus(stepID, StatusSkipped)
			case res.suspend != nil:
				if suspended == nil {
					suspended = res
				}
			default:
				ec.AppendHistory(res.history, res.retries)
				if res.degraded {
					ec.MarkDegraded(stepID)
				}
				warnings := ec.Complete(stepID, res.output, res.duration)
				for _, w := range warnings {
					e.logger.Warn("state merge warning",
						"execution", ec.ID(), "step", stepID, "warning", w.String())
				}
			}
		}

		if suspended != nil {
			ec.MarkSuspended(suspended.step.ID)
			e.logger.Info("execution suspended",
				"execution", ec.ID(), "step", suspended.step.ID,
				"reason", suspended.suspend.Reason)
			return &RunResult{Suspension: &Suspension{
				StepID:     suspended.step.ID,
				Reason:     suspended.suspend.Reason,
				ResumeHint: suspended.suspend.ResumeHint,
			}}, nil
		}
	}

	return &RunResult{}, nil
}

// runBatch dispatches a batch's pending steps and joins them. A single
// step runs inline; a parallel group runs one goroutine per member with
// a wait-all barrier.
func (e *Executor) runBatch(ctx context.Context, def *ensemble.Definition, ec *ExecutionContext, group string, steps []*ensemble.FlowStep) ([]*stepResult, error) {
	// The interpolation namespace is stable for the whole batch because
	// merges happen only at the join.
	ns := e.namespace(ec)

	if group == "" && len(steps) == 1 {
		return []*stepResult{e.runStep(ctx, def, ec, steps[0], ns)}, nil
	}

	results := make([]*stepResult, len(steps))
	failFast := def.OnPartialFailure != ensemble.PartialContinue

	if failFast {
		g, gctx := errgroup.WithContext(ctx)
		for i, step := range steps {
			g.Go(func() error {
				res := e.runStep(gctx, def, ec, step, ns)
				results[i] = res
				if res.err != nil && stepPolicy(step) == ensemble.FailAbort {
					return res.err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Record whatever the siblings managed before cancellation,
			// including scored attempt history.
			for i, step := range steps {
				res := results[i]
				if res == nil {
					continue
				}
				ec.AppendHistory(res.history, res.retries)
				if res.err != nil {
					ec.Fail(step.ID, res.err, res.duration)
				}
			}
			return nil, err
		}
		return results, nil
	}

	var g errgroup.Group
	for i, step := range steps {
		g.Go(func() error {
			results[i] = e.runStep(ctx, def, ec, step, ns)
			return nil
		})
	}
	g.Wait()
	return results, nil
}

func stepPolicy(step *ensemble.FlowStep) ensemble.FailurePolicy {
	if step.OnFailure == "" {
		return ensemble.FailAbort
	}
	return step.OnFailure
}

// runStep executes one step end to end: condition, input binding, member
// invocation (gated when scored). It never touches the execution context;
// the batch join applies its result.
func (e *Executor) runStep(ctx context.Context, def *ensemble.Definition, ec *ExecutionContext, step *ensemble.FlowStep, ns interp.Context) *stepResult {
	res := &stepResult{step: step}
	start := time.Now()
	defer func() { res.duration = time.Since(start) }()

	ctx, span := e.tracer.Start(ctx, "flow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.member", step.Member),
		))
	defer span.End()

	if step.Condition != "" {
		ok, err := e.resolver.EvalBool(step.Condition, ns)
		if err != nil {
			res.err = &MemberExecutionError{StepID: step.ID, Member: step.Member, Attempt: 1,
				Err: fmt.Errorf("evaluate condition: %w", err)}
			return res
		}
		if !ok {
			e.logger.Debug("condition false, skipping step",
				"execution", ec.ID(), "step", step.ID)
			res.skipped = true
			return res
		}
	}

	mem, err := e.registry.Resolve(step.Member)
	if err != nil {
		res.err = &MemberExecutionError{StepID: step.ID, Member: step.Member, Attempt: 1, Err: err}
		return res
	}

	cfg := def.EffectiveScoring(step)
	view := readOnlyView{ec: ec, member: step.ID}

	invoke := func(ctx context.Context, attempt int, feedback *scoring.Result) (map[string]any, error) {
		input, err := e.bindInput(step, ns, cfg, feedback)
		if err != nil {
			return nil, err
		}
		if t := step.Timeout.Std(); t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		out, err := mem.Execute(ctx, input, view)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, fmt.Errorf("member %s returned no result", step.Member)
		}
		if out.Suspend != nil {
			if cfg != nil {
				return nil, fmt.Errorf("scored step cannot suspend")
			}
			if !def.IsSuspendable(step.ID) {
				return nil, ErrNotSuspendable
			}
			res.suspend = out.Suspend
			return nil, nil
		}
		return out.Output, nil
	}

	if cfg == nil {
		output, err := invoke(ctx, 1, nil)
		if err != nil {
			res.err = &MemberExecutionError{StepID: step.ID, Member: step.Member, Attempt: 1, Err: err}
			return res
		}
		res.output = output
		return res
	}

	if e.gate == nil {
		res.err = &MemberExecutionError{StepID: step.ID, Member: step.Member, Attempt: 1,
			Err: fmt.Errorf("step is scored but executor has no gate: %w", scoring.ErrNoEvaluator)}
		return res
	}
	outcome, err := e.gate.Run(ctx, step.ID, cfg, invoke)
	if outcome != nil {
		res.history = outcome.History
		res.retries = outcome.Retries
	}
	if err != nil {
		res.err = err
		return res
	}
	res.output = outcome.Output
	res.degraded = outcome.Degraded
	return res
}

// bindInput resolves the step's input template and injects scoring
// feedback when configured.
func (e *Executor) bindInput(step *ensemble.FlowStep, ns interp.Context, cfg *ensemble.ScoringConfig, feedback *scoring.Result) (map[string]any, error) {
	resolved, err := e.resolver.ResolveAny(step.Input, ns)
	if err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}
	input, _ := resolved.(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	if cfg != nil && cfg.FeedbackKey != "" && feedback != nil {
		input[cfg.FeedbackKey] = map[string]any{
			"score":     feedback.Score,
			"breakdown": feedback.Breakdown,
			"feedback":  feedback.Feedback,
		}
	}
	return input, nil
}

// namespace builds the interpolation context: declared state values at
// the top level, plus the execution input under "input" and per-step
// outputs under "steps". Failed or missing steps resolve to Undefined
// through the lenient resolver.
func (e *Executor) namespace(ec *ExecutionContext) interp.Context {
	ns := interp.Context{}
	for k, v := range ec.Store().Snapshot() {
		ns[k] = v
	}
	steps := map[string]any{}
	for id, out := range ec.Outputs() {
		steps[id] = map[string]any(out)
	}
	ns["steps"] = steps
	ns["input"] = map[string]any(ec.Input())
	return ns
}
