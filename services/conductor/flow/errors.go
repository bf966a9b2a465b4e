// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the flow package.
var (
	// ErrValidation marks a malformed flow graph. Always surfaced before
	// any member runs.
	ErrValidation = errors.New("invalid flow graph")

	// ErrCycle is returned when the dependency graph contains a cycle.
	ErrCycle = errors.New("cycle detected in flow graph")

	// ErrCancelled is returned when the driving context is cancelled
	// mid-execution.
	ErrCancelled = errors.New("execution cancelled")

	// ErrNotSuspendable is returned when a member signals suspension from
	// a step not listed as suspend-eligible.
	ErrNotSuspendable = errors.New("step is not suspend-eligible")

	// ErrNoPendingStep is returned when resume input arrives for an
	// execution that is not suspended.
	ErrNoPendingStep = errors.New("execution has no pending step")
)

// ValidationError reports a structural problem in a flow definition.
type ValidationError struct {
	Ensemble string
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ensemble %q: %s", e.Ensemble, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CycleError names the steps forming a dependency cycle.
type CycleError struct {
	Ensemble string
	Path     []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("ensemble %q: cycle detected: %s", e.Ensemble, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle || target == ErrValidation
}

// MemberExecutionError wraps a member's own failure with the step that
// invoked it.
type MemberExecutionError struct {
	StepID  string
	Member  string
	Attempt int
	Err     error
}

func (e *MemberExecutionError) Error() string {
	return fmt.Sprintf("step %q (member %q) attempt %d: %v", e.StepID, e.Member, e.Attempt, e.Err)
}

func (e *MemberExecutionError) Unwrap() error {
	return e.Err
}
