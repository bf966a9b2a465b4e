// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package member defines the pluggable unit of work invoked by a flow step
// and the explicit registry that resolves member names to implementations.
//
// Members are external collaborators of the engine: the engine only sees
// the Execute contract and the distinguished suspend variant of its result.
// Registration happens at process start through a Registry passed by
// dependency injection; there is no global registry.
package member

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for the member package.
var (
	// ErrNotRegistered is returned when a step references an unknown member.
	ErrNotRegistered = errors.New("member not registered")

	// ErrAlreadyRegistered is returned on duplicate registration.
	ErrAlreadyRegistered = errors.New("member already registered")
)

// ReadOnlyContext is the member-facing view of an execution. Reads are
// gated by the member's declared state permissions.
type ReadOnlyContext interface {
	// ExecutionID identifies the running execution.
	ExecutionID() string

	// EnsembleInput returns the caller-provided execution input.
	EnsembleInput() map[string]any

	// State reads a declared state key, honoring the member's read grant.
	State(key string) (any, error)
}

// SuspendRequest is the distinguished result variant a suspend-eligible
// member returns to pause the execution awaiting an external signal.
type SuspendRequest struct {
	// Reason is surfaced to the caller alongside the resume token.
	Reason string `json:"reason"`

	// ResumeHint tells the external party what input is expected.
	ResumeHint string `json:"resumeHint,omitempty"`
}

// Result is the outcome of a member invocation: either Output, or a
// SuspendRequest when the member asks to pause. Exactly one is set.
type Result struct {
	Output  map[string]any
	Suspend *SuspendRequest
}

// Ok wraps a plain output map.
func Ok(output map[string]any) *Result {
	return &Result{Output: output}
}

// Suspend builds a suspend-request result.
func Suspend(reason, resumeHint string) *Result {
	return &Result{Suspend: &SuspendRequest{Reason: reason, ResumeHint: resumeHint}}
}

// Member is a pluggable unit of work (AI call, HTTP call, function).
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use; the scheduler may
//	invoke members of one parallel group simultaneously.
type Member interface {
	// Name returns the registered member name.
	Name() string

	// Execute performs the work. A returned error is a member execution
	// failure; a suspend request is signalled through the Result, never
	// through the error.
	Execute(ctx context.Context, input map[string]any, rc ReadOnlyContext) (*Result, error)
}

// Factory builds a member from its registration config.
type Factory func(config map[string]any) (Member, error)

// Registry resolves member names to implementations. Construct one at
// process start and hand it to the engine; no hidden global state.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Member
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
		instances: map[string]Member{},
	}
}

// Register adds a member factory under a name. The member is constructed
// lazily on first Resolve and cached.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = factory
	return nil
}

// RegisterInstance adds an already-constructed member.
func (r *Registry) RegisterInstance(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := m.Name()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if _, ok := r.instances[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.instances[name] = m
	return nil
}

// Resolve returns the member registered under name.
func (r *Registry) Resolve(name string) (Member, error) {
	r.mu.RLock()
	if m, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	m, err := factory(nil)
	if err != nil {
		return nil, fmt.Errorf("construct member %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.instances[name]; ok {
		return cached, nil
	}
	r.instances[name] = m
	return m, nil
}

// Names returns the registered member names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories)+len(r.instances))
	for name := range r.factories {
		names = append(names, name)
	}
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
