// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package suspend persists suspended executions under single-use resume
// tokens and reconstructs them on resume. The durable store is the only
// cross-execution shared resource in the engine.
package suspend

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sentinel errors for token handling.
var (
	// ErrTokenNotFound is returned for tokens that never existed or were
	// purged after expiry.
	ErrTokenNotFound = errors.New("resume token not found")

	// ErrTokenAlreadyUsed is returned when a token is resumed a second
	// time. Tokens are consumed atomically on first resume.
	ErrTokenAlreadyUsed = errors.New("resume token already used")

	// ErrTokenExpired is returned when the snapshot's TTL has passed.
	ErrTokenExpired = errors.New("resume token expired")
)

// DurableStore is the persistence contract for suspension snapshots.
// GetAndDelete must be atomic so each token resumes at most once even
// under concurrent resume attempts.
type DurableStore interface {
	// Put stores blob under token with the given TTL. A zero TTL stores
	// without expiry.
	Put(ctx context.Context, token string, blob []byte, ttl time.Duration) error

	// GetAndDelete atomically reads and removes the blob. Returns
	// ErrTokenNotFound when the token is absent.
	GetAndDelete(ctx context.Context, token string) ([]byte, error)

	// Close releases the underlying storage.
	Close() error
}

// memoryEntry pairs a blob with its expiry deadline.
type memoryEntry struct {
	blob      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process DurableStore for tests and single-node
// deployments that can tolerate losing suspensions on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}}
}

// Put stores the blob, replacing any previous entry for the token.
func (s *MemoryStore) Put(_ context.Context, token string, blob []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{blob: blob}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[token] = entry
	return nil
}

// GetAndDelete removes and returns the blob under the mutex, giving the
// required read-and-delete atomicity.
func (s *MemoryStore) GetAndDelete(_ context.Context, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	delete(s.entries, token)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, ErrTokenNotFound
	}
	return entry.blob, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
