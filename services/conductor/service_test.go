// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conductor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/member"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/suspend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
name: review
version: 1.0.0
steps:
  - id: draft
    member: writer
    input:
      topic: "${input.topic}"
  - id: score-gate
    member: writer
    dependsOn: [draft]
    input:
      topic: "${input.topic}"
      previous: "${steps.draft.text}"
    scoring:
      thresholds:
        minimum: 0.8
        target: 0.9
        excellent: 0.95
      maxRetries: 2
      backoffStrategy: fixed
      backoffBase: 1ms
  - id: publish
    member: publisher
    dependsOn: [score-gate]
    input:
      text: "${steps.score-gate.text}"
`

func newReviewService(t *testing.T, eval scoring.Evaluator) (*Service, *atomic.Int64) {
	t.Helper()
	reg := member.NewRegistry()
	require.NoError(t, reg.RegisterInstance(member.NewFunc("writer",
		func(_ context.Context, input map[string]any, _ member.ReadOnlyContext) (*member.Result, error) {
			return member.Ok(map[string]any{"text": "a treatise on geese"}), nil
		})))
	var publishes atomic.Int64
	require.NoError(t, reg.RegisterInstance(member.NewFunc("publisher",
		func(_ context.Context, input map[string]any, _ member.ReadOnlyContext) (*member.Result, error) {
			publishes.Add(1)
			return member.Ok(map[string]any{"published": true}), nil
		})))

	defs := NewDefinitionStore(nil)
	def, err := ensemble.Parse([]byte(reviewYAML))
	require.NoError(t, err)
	defs.Add(def)

	svc := NewService(Config{}, reg, eval, suspend.NewMemoryStore(), defs, nil)
	return svc, &publishes
}

func TestReviewScenario(t *testing.T) {
	eval := &scoring.ScriptedEvaluator{Scores: []float64{0.6, 0.85}}
	svc, publishes := newReviewService(t, eval)

	res, err := svc.ExecuteByName(context.Background(), "review", map[string]any{"topic": "geese"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(1), publishes.Load(), "publish must run exactly once")
	require.NotNil(t, res.Metrics)
	assert.InDelta(t, 0.85, res.Metrics.AggregateScore, 1e-9)
	assert.Equal(t, 1, res.Metrics.TotalRetries, "score-gate retries once")
	assert.Equal(t, 2, eval.Calls())
	assert.Equal(t, true, res.Outputs["publish"]["published"])
}

func TestExecuteUnknownEnsemble(t *testing.T) {
	svc, _ := newReviewService(t, &scoring.ScriptedEvaluator{Scores: []float64{1}})
	_, err := svc.ExecuteByName(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

const approvalYAML = `
name: approval
version: 1.0.0
suspendable: [approve]
steps:
  - id: draft
    member: writer
    input:
      topic: "${input.topic}"
  - id: approve
    member: approver
  - id: publish
    member: publisher
    dependsOn: [approve]
    input:
      approved: "${steps.approve.approved}"
`

// approvalService wires an ensemble whose approve member either suspends
// or answers directly, so the suspended and direct paths can be compared.
func approvalService(t *testing.T, suspendMode bool) *Service {
	t.Helper()
	reg := member.NewRegistry()
	require.NoError(t, reg.RegisterInstance(member.NewFunc("writer",
		func(_ context.Context, _ map[string]any, _ member.ReadOnlyContext) (*member.Result, error) {
			return member.Ok(map[string]any{"text": "v1"}), nil
		})))
	require.NoError(t, reg.RegisterInstance(member.NewFunc("approver",
		func(_ context.Context, _ map[string]any, _ member.ReadOnlyContext) (*member.Result, error) {
			if suspendMode {
				return member.Suspend("awaiting human approval", "post {approved: bool}"), nil
			}
			return member.Ok(map[string]any{"approved": true}), nil
		})))
	require.NoError(t, reg.RegisterInstance(member.NewFunc("publisher",
		func(_ context.Context, input map[string]any, _ member.ReadOnlyContext) (*member.Result, error) {
			return member.Ok(map[string]any{"published": true, "approved": input["approved"]}), nil
		})))

	defs := NewDefinitionStore(nil)
	def, err := ensemble.Parse([]byte(approvalYAML))
	require.NoError(t, err)
	defs.Add(def)
	return NewService(Config{}, reg, nil, suspend.NewMemoryStore(), defs, nil)
}

func TestSuspendResumeEquivalence(t *testing.T) {
	input := map[string]any{"topic": "geese"}

	// Direct path: the approver answers inline.
	direct, err := approvalService(t, false).ExecuteByName(context.Background(), "approval", input)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, direct.Status)

	// Suspended path: the approver suspends, the caller resumes with the
	// same answer.
	svc := approvalService(t, true)
	pending, err := svc.ExecuteByName(context.Background(), "approval", input)
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)
	assert.Equal(t, "approve", pending.PendingStep)
	assert.NotEmpty(t, pending.Token)
	assert.Equal(t, "awaiting human approval", pending.Reason)

	resumed, err := svc.ResumeExecution(context.Background(), pending.Token,
		map[string]any{"approved": true})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, resumed.Status)

	// Same final outputs either way.
	assert.Equal(t, direct.Outputs["publish"], resumed.Outputs["publish"])
	assert.Equal(t, direct.Outputs["approve"], resumed.Outputs["approve"])
}

func TestResumeTokenSingleUseThroughService(t *testing.T) {
	svc := approvalService(t, true)
	pending, err := svc.ExecuteByName(context.Background(), "approval", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)

	_, err = svc.ResumeExecution(context.Background(), pending.Token, map[string]any{"approved": true})
	require.NoError(t, err)

	_, err = svc.ResumeExecution(context.Background(), pending.Token, map[string]any{"approved": true})
	assert.ErrorIs(t, err, suspend.ErrTokenAlreadyUsed)
}

func TestScoringExhaustionFailsExecution(t *testing.T) {
	eval := &scoring.ScriptedEvaluator{Scores: []float64{0.5, 0.55, 0.6}}
	svc, publishes := newReviewService(t, eval)

	res, err := svc.ExecuteByName(context.Background(), "review", map[string]any{"topic": "geese"})
	require.Error(t, err)
	assert.ErrorIs(t, err, scoring.ErrExhausted)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "score-gate", res.FailedStep)
	assert.Equal(t, int64(0), publishes.Load(), "publish must not run after abort")
}

func TestDefinitionStoreLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(reviewYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	ds := NewDefinitionStore(nil)
	require.NoError(t, ds.LoadDir(dir))

	def, err := ds.Get("review")
	require.NoError(t, err)
	assert.Equal(t, "review@1.0.0", def.Ref())

	// Versioned reference resolves too.
	_, err = ds.Get("review@1.0.0")
	assert.NoError(t, err)

	_, err = ds.Get("missing")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}
