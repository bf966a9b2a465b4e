// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"fmt"
	"sync"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/scoring"
	"github.com/OvertureAI/OvertureFOSS/services/conductor/state"
	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusSuspended StepStatus = "suspended"
)

// ExecutionContext tracks one execution of an ensemble: the shared state
// store, per-step outputs and statuses, score history, and the graph
// cursor. It is created at execution start and externalized into a
// Snapshot when the execution suspends.
//
// Thread Safety:
//
//	Uses internal locking; safe for concurrent access from the members
//	of one parallel batch.
type ExecutionContext struct {
	mu sync.RWMutex

	id        string
	ref       string
	input     map[string]any
	startedAt time.Time

	store     *state.Store
	outputs   map[string]map[string]any
	statuses  map[string]StepStatus
	durations map[string]time.Duration
	failures  map[string]string
	degraded  map[string]bool
	history   []scoring.HistoryEntry

	pendingStep  string
	totalRetries int
}

// NewExecutionContext starts a fresh execution against the given store.
func NewExecutionContext(ref string, input map[string]any, store *state.Store) *ExecutionContext {
	return &ExecutionContext{
		id:        uuid.NewString(),
		ref:       ref,
		input:     input,
		startedAt: time.Now().UTC(),
		store:     store,
		outputs:   map[string]map[string]any{},
		statuses:  map[string]StepStatus{},
		durations: map[string]time.Duration{},
		failures:  map[string]string{},
		degraded:  map[string]bool{},
	}
}

// ID returns the execution id.
func (ec *ExecutionContext) ID() string {
	return ec.id
}

// Ref returns the ensemble reference this execution runs.
func (ec *ExecutionContext) Ref() string {
	return ec.ref
}

// Input returns the caller-provided execution input.
func (ec *ExecutionContext) Input() map[string]any {
	return ec.input
}

// Store returns the current state store.
func (ec *ExecutionContext) Store() *state.Store {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.store
}

// Status returns a step's status, defaulting to pending.
func (ec *ExecutionContext) Status(stepID string) StepStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if s, ok := ec.statuses[stepID]; ok {
		return s
	}
	return StatusPending
}

// SetStatus records a step's status.
func (ec *ExecutionContext) SetStatus(stepID string, status StepStatus) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.statuses[stepID] = status
}

// IsDone reports whether a step needs no further scheduling.
func (ec *ExecutionContext) IsDone(stepID string) bool {
	switch ec.Status(stepID) {
	case StatusCompleted, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// Output returns a completed step's output.
func (ec *ExecutionContext) Output(stepID string) (map[string]any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out, ok := ec.outputs[stepID]
	return out, ok
}

// Complete records a step's output and merges it into the state store
// under the step id. Undeclared step ids produce audit warnings, not
// failures.
func (ec *ExecutionContext) Complete(stepID string, output map[string]any, d time.Duration) []state.Warning {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.outputs[stepID] = output
	ec.statuses[stepID] = StatusCompleted
	ec.durations[stepID] = d

	next, warnings := ec.store.Merge(stepID, map[string]any{stepID: outputValue(output)})
	ec.store = next
	return warnings
}

// outputValue collapses a single-key output map so declared scalar state
// keys can take a member's bare value.
func outputValue(output map[string]any) any {
	if len(output) == 1 {
		for _, v := range output {
			return v
		}
	}
	return map[string]any(output)
}

// Fail records a failed step under the continue policy.
func (ec *ExecutionContext) Fail(stepID string, err error, d time.Duration) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.statuses[stepID] = StatusFailed
	ec.durations[stepID] = d
	ec.failures[stepID] = err.Error()
}

// Failure returns the recorded failure message for a step.
func (ec *ExecutionContext) Failure(stepID string) (string, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	msg, ok := ec.failures[stepID]
	return msg, ok
}

// MarkDegraded flags a step whose output was accepted below minimum.
func (ec *ExecutionContext) MarkDegraded(stepID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.degraded[stepID] = true
}

// IsDegraded reports whether a step completed degraded.
func (ec *ExecutionContext) IsDegraded(stepID string) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.degraded[stepID]
}

// AppendHistory adds scored attempts to the execution's history.
func (ec *ExecutionContext) AppendHistory(entries []scoring.HistoryEntry, retries int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.history = append(ec.history, entries...)
	ec.totalRetries += retries
}

// History returns a copy of the score history.
func (ec *ExecutionContext) History() []scoring.HistoryEntry {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]scoring.HistoryEntry, len(ec.history))
	copy(out, ec.history)
	return out
}

// TotalRetries returns the retry count across all scored steps.
func (ec *ExecutionContext) TotalRetries() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.totalRetries
}

// MarkSuspended sets the graph cursor to the pending step.
func (ec *ExecutionContext) MarkSuspended(stepID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.pendingStep = stepID
	ec.statuses[stepID] = StatusSuspended
}

// PendingStep returns the suspended step id, empty when not suspended.
func (ec *ExecutionContext) PendingStep() string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.pendingStep
}

// ResumeWith applies resume input as the pending step's output and clears
// the cursor, so the next run continues from the following batch.
func (ec *ExecutionContext) ResumeWith(resumeInput map[string]any) error {
	ec.mu.Lock()
	pending := ec.pendingStep
	ec.mu.Unlock()
	if pending == "" {
		return ErrNoPendingStep
	}

	ec.Complete(pending, resumeInput, 0)

	ec.mu.Lock()
	ec.pendingStep = ""
	ec.mu.Unlock()
	return nil
}

// Statuses returns a copy of the per-step status map.
func (ec *ExecutionContext) Statuses() map[string]StepStatus {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]StepStatus, len(ec.statuses))
	for k, v := range ec.statuses {
		out[k] = v
	}
	return out
}

// Durations returns a copy of the per-step durations.
func (ec *ExecutionContext) Durations() map[string]time.Duration {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]time.Duration, len(ec.durations))
	for k, v := range ec.durations {
		out[k] = v
	}
	return out
}

// Outputs returns a copy of the per-step outputs map.
func (ec *ExecutionContext) Outputs() map[string]map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]map[string]any, len(ec.outputs))
	for k, v := range ec.outputs {
		out[k] = v
	}
	return out
}

// Snapshot is the serializable form of an ExecutionContext. Continuations
// are plain data so they survive process restarts and round-trip exactly
// through JSON.
type Snapshot struct {
	ID           string                    `json:"id"`
	Ref          string                    `json:"ensemble"`
	Input        map[string]any            `json:"input,omitempty"`
	StartedAt    time.Time                 `json:"startedAt"`
	State        *state.Dump               `json:"state"`
	Outputs      map[string]map[string]any `json:"outputs"`
	Statuses     map[string]StepStatus     `json:"statuses"`
	Durations    map[string]time.Duration  `json:"durations,omitempty"`
	Failures     map[string]string         `json:"failures,omitempty"`
	Degraded     map[string]bool           `json:"degraded,omitempty"`
	History      []scoring.HistoryEntry    `json:"history,omitempty"`
	PendingStep  string                    `json:"pendingStep,omitempty"`
	TotalRetries int                       `json:"totalRetries"`
}

// Snapshot externalizes the execution for persistence.
func (ec *ExecutionContext) Snapshot() *Snapshot {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	snap := &Snapshot{
		ID:           ec.id,
		Ref:          ec.ref,
		Input:        ec.input,
		StartedAt:    ec.startedAt,
		State:        ec.store.Dump(),
		Outputs:      make(map[string]map[string]any, len(ec.outputs)),
		Statuses:     make(map[string]StepStatus, len(ec.statuses)),
		Durations:    make(map[string]time.Duration, len(ec.durations)),
		Failures:     make(map[string]string, len(ec.failures)),
		Degraded:     make(map[string]bool, len(ec.degraded)),
		History:      make([]scoring.HistoryEntry, len(ec.history)),
		PendingStep:  ec.pendingStep,
		TotalRetries: ec.totalRetries,
	}
	for k, v := range ec.outputs {
		snap.Outputs[k] = v
	}
	for k, v := range ec.statuses {
		snap.Statuses[k] = v
	}
	for k, v := range ec.durations {
		snap.Durations[k] = v
	}
	for k, v := range ec.failures {
		snap.Failures[k] = v
	}
	for k, v := range ec.degraded {
		snap.Degraded[k] = v
	}
	copy(snap.History, ec.history)
	return snap
}

// FromSnapshot reconstructs an execution from persisted data.
func FromSnapshot(snap *Snapshot) (*ExecutionContext, error) {
	if snap == nil || snap.State == nil {
		return nil, fmt.Errorf("snapshot is incomplete")
	}
	ec := &ExecutionContext{
		id:           snap.ID,
		ref:          snap.Ref,
		input:        snap.Input,
		startedAt:    snap.StartedAt,
		store:        state.Restore(snap.State),
		outputs:      map[string]map[string]any{},
		statuses:     map[string]StepStatus{},
		durations:    map[string]time.Duration{},
		failures:     map[string]string{},
		degraded:     map[string]bool{},
		history:      snap.History,
		pendingStep:  snap.PendingStep,
		totalRetries: snap.TotalRetries,
	}
	for k, v := range snap.Outputs {
		ec.outputs[k] = v
	}
	for k, v := range snap.Statuses {
		ec.statuses[k] = v
	}
	for k, v := range snap.Durations {
		ec.durations[k] = v
	}
	for k, v := range snap.Failures {
		ec.failures[k] = v
	}
	for k, v := range snap.Degraded {
		ec.degraded[k] = v
	}
	return ec, nil
}

// readOnlyView adapts the execution to the member-facing contract.
type readOnlyView struct {
	ec     *ExecutionContext
	member string
}

func (v readOnlyView) ExecutionID() string           { return v.ec.ID() }
func (v readOnlyView) EnsembleInput() map[string]any { return v.ec.Input() }
func (v readOnlyView) State(key string) (any, error) { return v.ec.Store().Get(v.member, key) }
