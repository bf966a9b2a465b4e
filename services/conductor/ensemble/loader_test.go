// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ensemble

import (
	"strings"
	"testing"
	"time"
)

const reviewYAML = `
name: review
version: "1"
stateSchema:
  draft: string
  score: number
  published: boolean
aggregation: weighted-average
suspendable: [approval]
steps:
  - id: draft
    member: writer
    input:
      topic: "${input.topic}"
  - id: score-gate
    member: writer
    dependsOn: [draft]
    input:
      text: "${steps.draft.text}"
    scoring:
      thresholds: {minimum: 0.8, target: 0.9, excellent: 0.95}
      maxRetries: 2
      backoffStrategy: fixed
      backoffBase: 1ms
      onFailure: abort
  - id: approval
    member: human
    dependsOn: [score-gate]
  - id: publish
    member: publisher
    dependsOn: [approval]
    condition: "steps.approval.approved == true"
`

func TestParse_ValidDefinition(t *testing.T) {
	def, err := Parse([]byte(reviewYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if def.Ref() != "review@1" {
		t.Errorf("Ref() = %q, want review@1", def.Ref())
	}
	if len(def.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 4", len(def.Steps))
	}
	if !def.IsSuspendable("approval") || def.IsSuspendable("draft") {
		t.Error("suspendable flags wrong")
	}

	gate, ok := def.Step("score-gate")
	if !ok {
		t.Fatal("score-gate step missing")
	}
	if gate.Scoring.Thresholds.Minimum != 0.8 {
		t.Errorf("minimum = %v, want 0.8", gate.Scoring.Thresholds.Minimum)
	}
	if gate.Scoring.BackoffBase.Std() != time.Millisecond {
		t.Errorf("backoffBase = %v, want 1ms", gate.Scoring.BackoffBase)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "steps:\n  - id: a\n    member: m\n",
			want: "Name",
		},
		{
			name: "no steps",
			yaml: "name: empty\n",
			want: "Steps",
		},
		{
			name: "duplicate step id",
			yaml: "name: dup\nsteps:\n  - id: a\n    member: m\n  - id: a\n    member: m\n",
			want: "duplicate step id",
		},
		{
			name: "threshold out of range",
			yaml: "name: t\nsteps:\n  - id: a\n    member: m\n    scoring:\n      thresholds: {minimum: 1.5, target: 1.6, excellent: 1.7}\n",
			want: "Minimum",
		},
		{
			name: "threshold ordering",
			yaml: "name: t\nsteps:\n  - id: a\n    member: m\n    scoring:\n      thresholds: {minimum: 0.9, target: 0.5, excellent: 0.95}\n",
			want: "minimum <= target <= excellent",
		},
		{
			name: "bad backoff strategy",
			yaml: "name: t\nsteps:\n  - id: a\n    member: m\n    scoring:\n      backoffStrategy: quadratic\n",
			want: "BackoffStrategy",
		},
		{
			name: "dangling suspendable",
			yaml: "name: t\nsuspendable: [ghost]\nsteps:\n  - id: a\n    member: m\n",
			want: "suspendable step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestEffectiveScoring(t *testing.T) {
	def := &Definition{
		Name: "t",
		DefaultScoring: &ScoringConfig{
			Thresholds: Thresholds{Minimum: 0.6, Target: 0.8, Excellent: 0.9},
			MaxRetries: 5,
		},
		Steps: []FlowStep{
			{ID: "plain", Member: "m"},
			{ID: "scored", Member: "m", Scoring: &ScoringConfig{MaxRetries: 1}},
		},
	}

	plain, _ := def.Step("plain")
	scored, _ := def.Step("scored")

	// DefaultScoring applies even to steps without their own block.
	cfg := def.EffectiveScoring(plain)
	if cfg == nil || cfg.MaxRetries != 5 {
		t.Fatalf("plain cfg = %+v, want default MaxRetries 5", cfg)
	}

	cfg = def.EffectiveScoring(scored)
	if cfg.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want step override 1", cfg.MaxRetries)
	}
	if cfg.Thresholds.Minimum != 0.6 {
		t.Errorf("Minimum = %v, want ensemble default 0.6", cfg.Thresholds.Minimum)
	}
	if cfg.BackoffStrategy != BackoffExponential {
		t.Errorf("BackoffStrategy = %v, want baseline exponential", cfg.BackoffStrategy)
	}

	// No scoring anywhere means no gate.
	bare := &Definition{Name: "b", Steps: []FlowStep{{ID: "a", Member: "m"}}}
	step, _ := bare.Step("a")
	if bare.EffectiveScoring(step) != nil {
		t.Error("EffectiveScoring should be nil without any config")
	}
}
