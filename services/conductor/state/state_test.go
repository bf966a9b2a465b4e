// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func testSchema() Schema {
	return Schema{
		"draft":    TypeString,
		"score":    TypeNumber,
		"approved": TypeBoolean,
		"meta":     TypeAny,
	}
}

func TestMerge_EmptyUpdateReturnsSameInstance(t *testing.T) {
	store := Declare(testSchema())

	next, warnings := store.Merge("draft", nil)

	if next != store {
		t.Error("Merge(nil) should return the identical instance")
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}

	next, _ = store.Merge("draft", map[string]any{})
	if next != store {
		t.Error("Merge(empty) should return the identical instance")
	}
}

func TestMerge_Idempotent(t *testing.T) {
	store := Declare(testSchema())

	once, _ := store.Merge("draft", map[string]any{"draft": "hello"})
	twice, _ := once.Merge("draft", map[string]any{"draft": "hello"})

	if twice != once {
		t.Error("merging the same update twice should return the identical instance")
	}
	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Errorf("snapshots differ: %v vs %v", once.Snapshot(), twice.Snapshot())
	}
}

func TestMerge_DoesNotMutateReceiver(t *testing.T) {
	store := Declare(testSchema())

	next, _ := store.Merge("draft", map[string]any{"draft": "v1"})

	if _, ok := store.Value("draft"); ok {
		t.Error("original store should not see the merged value")
	}
	if v, ok := next.Value("draft"); !ok || v != "v1" {
		t.Errorf("next store draft = %v, %v; want v1, true", v, ok)
	}
	if store.Version() != 0 || next.Version() != 1 {
		t.Errorf("versions = %d, %d; want 0, 1", store.Version(), next.Version())
	}
}

func TestMerge_UndeclaredKeyRejectedWithWarning(t *testing.T) {
	store := Declare(testSchema())

	next, warnings := store.Merge("scraper", map[string]any{"bogus": 1})

	if next != store {
		t.Error("a fully rejected merge should return the identical instance")
	}
	if len(warnings) != 1 || warnings[0].Key != "bogus" {
		t.Fatalf("warnings = %v, want one for bogus", warnings)
	}

	log := store.AuditLog()
	if len(log) != 1 {
		t.Fatalf("audit log = %v, want one entry", log)
	}
	if log[0].Op != OpRejected || log[0].Member != "scraper" || log[0].Key != "bogus" {
		t.Errorf("audit entry = %+v, want rejected scraper/bogus", log[0])
	}
}

func TestMerge_TypeMismatchRejected(t *testing.T) {
	store := Declare(testSchema())

	next, warnings := store.Merge("draft", map[string]any{"score": "not a number"})

	if next != store {
		t.Error("type-mismatched merge should be a no-op")
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestMerge_PartialApply(t *testing.T) {
	store := Declare(testSchema())

	next, warnings := store.Merge("draft", map[string]any{
		"draft":   "text",
		"unknown": true,
	})

	if next == store {
		t.Fatal("merge with one valid key should produce a new store")
	}
	if v, _ := next.Value("draft"); v != "text" {
		t.Errorf("draft = %v, want text", v)
	}
	if len(warnings) != 1 || warnings[0].Key != "unknown" {
		t.Errorf("warnings = %v, want one for unknown", warnings)
	}
}

func TestMerge_AuditOrderDeterministic(t *testing.T) {
	store := Declare(testSchema())

	_, _ = store.Merge("writer", map[string]any{
		"score":    0.9,
		"draft":    "v1",
		"approved": true,
		"meta":     map[string]any{"n": 1},
	})

	log := store.AuditLog()
	if len(log) != 4 {
		t.Fatalf("audit log has %d entries, want 4", len(log))
	}
	want := []string{"approved", "draft", "meta", "score"}
	for i, entry := range log {
		if entry.Op != OpWrite {
			t.Errorf("entry %d op = %s, want write", i, entry.Op)
		}
		if entry.Key != want[i] {
			t.Errorf("audit key order = %v at %d, want %v", entry.Key, i, want)
		}
	}
}

func TestGet_ReadPermissions(t *testing.T) {
	store := Declare(testSchema()).WithGrants(map[string]Grant{
		"publisher": {Read: []string{"draft"}, Write: []string{"approved"}},
	})
	store, _ = store.Merge("draft", map[string]any{"draft": "text", "score": 0.9})

	if _, err := store.Get("publisher", "draft"); err != nil {
		t.Errorf("Get(publisher, draft) error = %v, want nil", err)
	}

	_, err := store.Get("publisher", "score")
	if !errors.Is(err, ErrReadDenied) {
		t.Errorf("Get(publisher, score) error = %v, want ErrReadDenied", err)
	}

	// Ungranted members are unrestricted.
	if _, err := store.Get("draft", "score"); err != nil {
		t.Errorf("Get(draft, score) error = %v, want nil", err)
	}
}

func TestMerge_WritePermissions(t *testing.T) {
	store := Declare(testSchema()).WithGrants(map[string]Grant{
		"publisher": {Read: []string{"*"}, Write: []string{"approved"}},
	})

	next, warnings := store.Merge("publisher", map[string]any{
		"approved": true,
		"draft":    "overwritten",
	})

	if v, _ := next.Value("approved"); v != true {
		t.Errorf("approved = %v, want true", v)
	}
	if _, ok := next.Value("draft"); ok {
		t.Error("draft should not have been written outside the grant")
	}
	if len(warnings) != 1 || warnings[0].Key != "draft" {
		t.Errorf("warnings = %v, want one for draft", warnings)
	}
}

func TestGet_Errors(t *testing.T) {
	store := Declare(testSchema())

	if _, err := store.Get("m", "nope"); !errors.Is(err, ErrKeyNotDeclared) {
		t.Errorf("error = %v, want ErrKeyNotDeclared", err)
	}
	if _, err := store.Get("m", "draft"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("error = %v, want ErrKeyNotFound", err)
	}
}

func TestMerge_Concurrent(t *testing.T) {
	store := Declare(Schema{"score": TypeNumber})
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			next, _ := store.Merge("m", map[string]any{"score": float64(n)})
			next.Snapshot()
			store.AuditLog()
		}(i)
	}

	wg.Wait()

	// Receiver must be untouched.
	if store.Version() != 0 {
		t.Errorf("receiver version = %d, want 0", store.Version())
	}
}

func TestDump_RoundTrip(t *testing.T) {
	store := Declare(testSchema()).WithGrants(map[string]Grant{
		"publisher": {Read: []string{"*"}, Write: []string{"approved"}},
	})
	store, _ = store.Merge("draft", map[string]any{"draft": "text"})
	store, _ = store.Merge("gate", map[string]any{"score": 0.85})

	restored := Restore(store.Dump())

	if !reflect.DeepEqual(restored.Snapshot(), store.Snapshot()) {
		t.Errorf("values differ: %v vs %v", restored.Snapshot(), store.Snapshot())
	}
	if restored.Version() != store.Version() {
		t.Errorf("version = %d, want %d", restored.Version(), store.Version())
	}
	if len(restored.AuditLog()) != len(store.AuditLog()) {
		t.Errorf("audit length = %d, want %d", len(restored.AuditLog()), len(store.AuditLog()))
	}
	if _, err := restored.Get("publisher", "score"); !errors.Is(err, ErrReadDenied) {
		t.Error("grants should survive the round trip")
	}
}
