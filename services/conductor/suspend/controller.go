// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package suspend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/flow"
)

// DefaultTTL bounds how long a suspended execution waits for its resume
// signal when the caller does not choose one.
const DefaultTTL = 72 * time.Hour

// snapshotEnvelope is the persisted form: the execution snapshot plus
// the metadata needed to validate a resume.
type snapshotEnvelope struct {
	Execution   *flow.Snapshot `json:"execution"`
	PendingStep string         `json:"pendingStep"`
	Reason      string         `json:"reason,omitempty"`
	ResumeHint  string         `json:"resumeHint,omitempty"`
	SuspendedAt time.Time      `json:"suspendedAt"`
	ExpiresAt   time.Time      `json:"expiresAt,omitempty"`
}

// Controller mints single-use resume tokens and round-trips suspended
// executions through the durable store.
//
// Description:
//
//	Suspend serializes the execution context to plain data and writes it
//	under a cryptographically random token. Resume consumes the token
//	(delete-on-read), validates expiry, applies the resume input as the
//	pending step's output, and hands the reconstructed context back.
//
// Thread Safety: safe for concurrent use.
type Controller struct {
	store  DurableStore
	logger *slog.Logger

	// used distinguishes "already resumed" from "never existed" after
	// the delete-on-read store has dropped the blob. Best effort and
	// in-process only; the at-most-once guarantee itself comes from the
	// store's atomic GetAndDelete.
	mu   sync.Mutex
	used map[string]bool
}

// NewController builds a controller over the given durable store.
func NewController(store DurableStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, logger: logger, used: map[string]bool{}}
}

// Suspend persists the execution and returns the resume token. The
// execution must carry a pending step (set by the scheduler when the
// member signalled suspension). A non-positive TTL uses DefaultTTL.
func (c *Controller) Suspend(ctx context.Context, ec *flow.ExecutionContext, susp *flow.Suspension, ttl time.Duration) (string, error) {
	pending := ec.PendingStep()
	if pending == "" {
		return "", flow.ErrNoPendingStep
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("mint resume token: %w", err)
	}

	now := time.Now().UTC()
	env := snapshotEnvelope{
		Execution:   ec.Snapshot(),
		PendingStep: pending,
		SuspendedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	if susp != nil {
		env.Reason = susp.Reason
		env.ResumeHint = susp.ResumeHint
	}

	blob, err := json.Marshal(&env)
	if err != nil {
		return "", fmt.Errorf("serialize suspension snapshot: %w", err)
	}
	if err := c.store.Put(ctx, token, blob, ttl); err != nil {
		return "", err
	}

	c.logger.Info("execution suspended",
		"execution", ec.ID(), "step", pending, "expiresAt", env.ExpiresAt)
	return token, nil
}

// Resume consumes the token and reconstructs the execution with the
// resume input applied as the pending step's output. The returned
// context is ready to hand back to the executor, which continues from
// the batch after the pending step.
func (c *Controller) Resume(ctx context.Context, token string, resumeInput map[string]any) (*flow.ExecutionContext, error) {
	blob, err := c.store.GetAndDelete(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) && c.wasUsed(token) {
			return nil, ErrTokenAlreadyUsed
		}
		return nil, err
	}
	c.markUsed(token)

	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode suspension snapshot: %w", err)
	}

	// The blob carries its own deadline so expiry holds even when the
	// backing store's TTL lags.
	if !env.ExpiresAt.IsZero() && time.Now().After(env.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	ec, err := flow.FromSnapshot(env.Execution)
	if err != nil {
		return nil, fmt.Errorf("restore execution: %w", err)
	}
	if err := ec.ResumeWith(resumeInput); err != nil {
		return nil, err
	}

	c.logger.Info("execution resumed",
		"execution", ec.ID(), "step", env.PendingStep)
	return ec, nil
}

func (c *Controller) wasUsed(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used[token]
}

func (c *Controller) markUsed(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used[token] = true
}

// newToken returns 32 bytes of crypto randomness, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
