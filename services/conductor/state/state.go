// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state provides the immutable, schema-checked shared context for a
// single ensemble execution.
//
// A Store is a versioned copy-on-write mapping from declared keys to values.
// Merge never mutates the receiver; it returns a new Store, or the receiver
// itself when the update produces no effective change, so callers can use
// pointer identity as a cheap no-op check. Writes to keys absent from the
// declared schema are dropped from the applied state but recorded in the
// audit log so misconfigured members are diagnosable without failing the run.
//
// # Thread Safety
//
// A Store is immutable and safe for concurrent use. The audit log is shared
// between Store versions and internally synchronized.
package state

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for the state package.
var (
	// ErrKeyNotFound is returned when a declared key has no value yet.
	ErrKeyNotFound = errors.New("key not found in state")

	// ErrKeyNotDeclared is returned when a key is absent from the schema.
	ErrKeyNotDeclared = errors.New("key not declared in state schema")

	// ErrReadDenied is returned when a member reads a key outside its grant.
	ErrReadDenied = errors.New("member has no read permission for key")
)

// ValueType constrains the values a declared key may hold.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
	TypeAny     ValueType = "any"
)

// Schema maps declared state keys to their expected value types.
type Schema map[string]ValueType

// Operation classifies an audit log entry.
type Operation string

const (
	// OpWrite records a successful write through Merge.
	OpWrite Operation = "write"

	// OpRead records a permission-gated read through Get.
	OpRead Operation = "read"

	// OpRejected records a write to a key absent from the schema or with a
	// value of the wrong type. The write is not applied.
	OpRejected Operation = "rejected"

	// OpDenied records a read blocked by the member's grant.
	OpDenied Operation = "denied"
)

// AuditEntry is one record in the store's access log.
type AuditEntry struct {
	Member    string    `json:"member"`
	Key       string    `json:"key"`
	Op        Operation `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// Warning describes a merge update that was dropped.
type Warning struct {
	Member string `json:"member"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("state write %q by %q dropped: %s", w.Key, w.Member, w.Reason)
}

// Grant lists the keys a member may read and write. A single entry "*"
// grants access to every declared key.
type Grant struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

func (g Grant) allows(keys []string, key string) bool {
	for _, k := range keys {
		if k == "*" || k == key {
			return true
		}
	}
	return false
}

// auditLog is shared across Store versions so entries stay globally ordered.
type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (l *auditLog) append(member, key string, op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, AuditEntry{
		Member:    member,
		Key:       key,
		Op:        op,
		Timestamp: time.Now().UTC(),
	})
}

func (l *auditLog) snapshot() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Store is one immutable version of the execution state.
//
// Description:
//
//	Store holds the declared schema, the applied values, per-member grants,
//	and a version counter incremented on every effective Merge. All reads
//	that bypass member permissions (engine-internal interpolation) go
//	through Value; member reads go through Get.
//
// Thread Safety:
//
//	Safe for concurrent use. Merge returns a new Store and never mutates
//	the receiver.
type Store struct {
	schema  Schema
	values  map[string]any
	grants  map[string]Grant
	version int
	audit   *auditLog
}

// Declare creates an empty Store with the given schema.
//
// Inputs:
//
//	schema - Declared key to type mapping. A nil schema declares no keys,
//	         so every merge is rejected with a warning.
//
// Outputs:
//
//	*Store - Version 0 store with no values and no grants.
func Declare(schema Schema) *Store {
	s := make(Schema, len(schema))
	for k, v := range schema {
		s[k] = v
	}
	return &Store{
		schema: s,
		values: map[string]any{},
		grants: map[string]Grant{},
		audit:  &auditLog{},
	}
}

// WithGrants returns a new Store carrying the given member grants.
// Members without a grant may read and write every declared key; an
// explicit grant restricts a member to the listed keys.
func (s *Store) WithGrants(grants map[string]Grant) *Store {
	next := s.clone()
	next.grants = make(map[string]Grant, len(grants))
	for m, g := range grants {
		next.grants[m] = g
	}
	return next
}

// Merge applies updates on behalf of a member and returns the next version.
//
// Description:
//
//	Each declared key in updates whose value differs from the current one
//	is written into a new Store. Keys absent from the schema, or values
//	that fail the declared type check, are dropped and returned as
//	warnings with a corresponding rejected audit entry. Keys outside the
//	member's write grant are likewise dropped.
//
//	When updates is empty or produces no effective change, the receiver
//	itself is returned, so pointer identity doubles as a no-op check.
//
// Inputs:
//
//	member - Identity recorded in the audit log, usually the step id.
//	updates - Key/value pairs to apply.
//
// Outputs:
//
//	*Store - The next version, or the receiver on no-op.
//	[]Warning - One warning per dropped key, in sorted key order.
//
// Thread Safety:
//
//	Safe to call from multiple goroutines on the same receiver; each
//	caller gets an independent result.
func (s *Store) Merge(member string, updates map[string]any) (*Store, []Warning) {
	if len(updates) == 0 {
		return s, nil
	}

	var warnings []Warning
	applied := map[string]any{}

	grant, gated := s.grants[member]
	for _, key := range sortedKeys(updates) {
		value := updates[key]

		declared, ok := s.schema[key]
		if !ok {
			s.audit.append(member, key, OpRejected)
			warnings = append(warnings, Warning{Member: member, Key: key, Reason: "key not declared in schema"})
			continue
		}
		if gated && !grant.allows(grant.Write, key) {
			s.audit.append(member, key, OpRejected)
			warnings = append(warnings, Warning{Member: member, Key: key, Reason: "member has no write permission"})
			continue
		}
		if !typeMatches(declared, value) {
			s.audit.append(member, key, OpRejected)
			warnings = append(warnings, Warning{
				Member: member,
				Key:    key,
				Reason: fmt.Sprintf("value type %T does not match declared type %s", value, declared),
			})
			continue
		}
		if existing, ok := s.values[key]; ok && reflect.DeepEqual(existing, value) {
			continue // no effective change, not even audited as a write
		}
		applied[key] = value
	}

	if len(applied) == 0 {
		return s, warnings
	}

	next := s.clone()
	next.version = s.version + 1
	for _, key := range sortedKeys(applied) {
		next.values[key] = applied[key]
		s.audit.append(member, key, OpWrite)
	}
	return next, warnings
}

// Get returns the value of key on behalf of a member, honoring read grants.
//
// Outputs:
//
//	any - The current value.
//	error - ErrReadDenied, ErrKeyNotDeclared, or ErrKeyNotFound.
func (s *Store) Get(member, key string) (any, error) {
	if grant, gated := s.grants[member]; gated && !grant.allows(grant.Read, key) {
		s.audit.append(member, key, OpDenied)
		return nil, fmt.Errorf("%w: member=%s key=%s", ErrReadDenied, member, key)
	}
	if _, ok := s.schema[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotDeclared, key)
	}
	value, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	s.audit.append(member, key, OpRead)
	return value, nil
}

// Value returns the raw value of key without permission gating.
// Used by the engine for interpolation and condition evaluation.
func (s *Store) Value(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns an independent copy of the applied values.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Schema returns a copy of the declared schema.
func (s *Store) Schema() Schema {
	out := make(Schema, len(s.schema))
	for k, v := range s.schema {
		out[k] = v
	}
	return out
}

// Version returns the number of effective merges applied so far.
func (s *Store) Version() int {
	return s.version
}

// AuditLog returns the ordered access log accumulated across all versions.
func (s *Store) AuditLog() []AuditEntry {
	return s.audit.snapshot()
}

func (s *Store) clone() *Store {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &Store{
		schema:  s.schema,
		values:  values,
		grants:  s.grants,
		version: s.version,
		audit:   s.audit,
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeMatches(declared ValueType, value any) bool {
	if value == nil || declared == TypeAny || declared == "" {
		return true
	}
	switch declared {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeObject:
		return reflect.ValueOf(value).Kind() == reflect.Map
	case TypeArray:
		kind := reflect.ValueOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	default:
		return true
	}
}
