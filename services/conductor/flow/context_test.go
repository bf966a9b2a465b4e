// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/state"
)

func TestSnapshotJSONRoundTrip(t *testing.T) {
	store := state.Declare(state.Schema{"draft": state.TypeString})
	ec := NewExecutionContext("review@1.0.0", map[string]any{"topic": "geese"}, store)
	ec.Complete("draft", map[string]any{"text": "honk"}, 42*time.Millisecond)
	ec.AppendHistory([]scoring.HistoryEntry{
		{StepID: "draft", Attempt: 1, Result: scoring.Result{Score: 0.9, Passed: true}},
	}, 0)
	ec.MarkSuspended("approve")

	data, err := json.Marshal(ec.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	restored, err := FromSnapshot(&snap)
	if err != nil {
		t.Fatalf("FromSnapshot() error = %v", err)
	}

	if restored.ID() != ec.ID() {
		t.Errorf("ID = %q, want %q", restored.ID(), ec.ID())
	}
	if restored.Ref() != "review@1.0.0" {
		t.Errorf("Ref = %q", restored.Ref())
	}
	if restored.PendingStep() != "approve" {
		t.Errorf("PendingStep = %q, want approve", restored.PendingStep())
	}
	if restored.Status("draft") != StatusCompleted {
		t.Errorf("draft status = %s", restored.Status("draft"))
	}
	if out, ok := restored.Output("draft"); !ok || out["text"] != "honk" {
		t.Errorf("draft output = (%v, %v)", out, ok)
	}
	if v, ok := restored.Store().Value("draft"); !ok || v != "honk" {
		t.Errorf("state draft = (%v, %v)", v, ok)
	}
	if restored.Store().Version() != ec.Store().Version() {
		t.Errorf("state version = %d, want %d", restored.Store().Version(), ec.Store().Version())
	}
	if len(restored.History()) != 1 {
		t.Errorf("history length = %d, want 1", len(restored.History()))
	}
}

func TestResumeWithRequiresPendingStep(t *testing.T) {
	ec := NewExecutionContext("x", nil, state.Declare(nil))
	if err := ec.ResumeWith(map[string]any{"approved": true}); !errors.Is(err, ErrNoPendingStep) {
		t.Fatalf("ResumeWith() error = %v, want ErrNoPendingStep", err)
	}
}

func TestResumeWithAppliesPendingOutput(t *testing.T) {
	ec := NewExecutionContext("x", nil, state.Declare(nil))
	ec.MarkSuspended("approve")
	if err := ec.ResumeWith(map[string]any{"approved": true}); err != nil {
		t.Fatalf("ResumeWith() error = %v", err)
	}
	if ec.PendingStep() != "" {
		t.Errorf("PendingStep = %q, want empty", ec.PendingStep())
	}
	if ec.Status("approve") != StatusCompleted {
		t.Errorf("status = %s, want completed", ec.Status("approve"))
	}
	if out, _ := ec.Output("approve"); out["approved"] != true {
		t.Errorf("output = %v", out)
	}
}
