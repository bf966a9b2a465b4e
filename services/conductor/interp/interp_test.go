// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package interp

import (
	"errors"
	"reflect"
	"testing"
)

func testContext() Context {
	return Context{
		"draft": "hello world",
		"score": 0.85,
		"steps": map[string]any{
			"review": map[string]any{
				"approved": true,
				"comments": []any{"too long", "fix title"},
			},
		},
		"items": []any{
			map[string]any{"name": "alpha"},
			map[string]any{"name": "beta"},
		},
		"empty": "",
	}
}

func TestResolve_BareVariableKeepsType(t *testing.T) {
	var r Resolver

	tests := []struct {
		template string
		want     any
	}{
		{"${draft}", "hello world"},
		{"${score}", 0.85},
		{"${steps.review.approved}", true},
		{"${steps.review.comments[1]}", "fix title"},
		{"${items[0].name}", "alpha"},
	}

	for _, tt := range tests {
		got, err := r.Resolve(tt.template, testContext())
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.template, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Resolve(%q) = %v (%T), want %v (%T)", tt.template, got, got, tt.want, tt.want)
		}
	}
}

func TestResolve_MixedTemplateConcatenates(t *testing.T) {
	var r Resolver

	got, err := r.Resolve("Draft: ${draft} (score ${score})", testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "Draft: hello world (score 0.85)" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_UndefinedLenient(t *testing.T) {
	var r Resolver

	got, err := r.Resolve("${nope.deep}", testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !IsUndefined(got) {
		t.Errorf("got %v, want Undefined", got)
	}

	// In mixed templates Undefined renders as empty string.
	s, err := r.Resolve("x=${nope}!", testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if s != "x=!" {
		t.Errorf("got %q, want \"x=!\"", s)
	}
}

func TestResolve_StrictNamesExactPath(t *testing.T) {
	r := Resolver{Strict: true}

	_, err := r.Resolve("${steps.review.missing}", testContext())
	if err == nil {
		t.Fatal("strict resolution should fail")
	}
	if !errors.Is(err, ErrMissingVariable) {
		t.Errorf("error = %v, want ErrMissingVariable", err)
	}

	var missing *MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("error type = %T", err)
	}
	if missing.Path != "steps.review.missing" {
		t.Errorf("Path = %q, want steps.review.missing", missing.Path)
	}
}

func TestResolve_IfBlock(t *testing.T) {
	var r Resolver

	tests := []struct {
		template string
		want     string
	}{
		{"{{#if steps.review.approved}}yes{{/if}}", "yes"},
		{"{{#if empty}}yes{{/if}}", ""},
		{"{{#if empty}}yes{{else}}no{{/if}}", "no"},
		{"{{#if score > 0.8}}pass{{else}}fail{{/if}}", "pass"},
		{"{{#if score > 0.9 || steps.review.approved}}ok{{/if}}", "ok"},
		{"{{#if draft == 'hello world' && score >= 0.85}}both{{/if}}", "both"},
	}

	for _, tt := range tests {
		got, err := r.Resolve(tt.template, testContext())
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.template, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestResolve_EachBlock(t *testing.T) {
	var r Resolver

	got, err := r.Resolve("{{#each items}}${index}:${this.name};{{/each}}", testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "0:alpha;1:beta;" {
		t.Errorf("got %q", got)
	}

	// Iterating over something undefined yields nothing.
	got, err = r.Resolve("[{{#each nope}}x{{/each}}]", testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "[]" {
		t.Errorf("got %q, want []", got)
	}
}

func TestResolve_NestedBlocks(t *testing.T) {
	var r Resolver

	template := "{{#each items}}{{#if this.name == 'beta'}}${this.name}{{/if}}{{/each}}"
	got, err := r.Resolve(template, testContext())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "beta" {
		t.Errorf("got %q, want beta", got)
	}
}

func TestResolve_ParseErrors(t *testing.T) {
	var r Resolver

	for _, template := range []string{
		"${unterminated",
		"${a..b}",
		"${a[x]}",
		"{{#if score > }}x{{/if}}",
		"{{#if ok}}x",
		"{{#each items}}x",
		"{{bogus}}",
	} {
		if _, err := r.Resolve(template, testContext()); err == nil {
			t.Errorf("Resolve(%q) should fail", template)
		}
	}
}

func TestEvalBool(t *testing.T) {
	var r Resolver

	tests := []struct {
		expr string
		want bool
	}{
		{"score > 0.8", true},
		{"score < 0.8", false},
		{"score == 0.85", true},
		{"score != 0.85", false},
		{"draft == 'hello world'", true},
		{"steps.review.approved", true},
		{"empty", false},
		{"nope", false},
		{"score > 0.9 || steps.review.approved", true},
		{"score > 0.9 && steps.review.approved", false},
		{"(score > 0.9 || score > 0.8) && true", true},
		{"null == nope", true},
	}

	for _, tt := range tests {
		got, err := r.EvalBool(tt.expr, testContext())
		if err != nil {
			t.Fatalf("EvalBool(%q) error = %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestResolveAny_WalksStructure(t *testing.T) {
	var r Resolver

	input := map[string]any{
		"prompt": "Review: ${draft}",
		"nested": map[string]any{"score": "${score}"},
		"list":   []any{"${draft}", 42},
	}

	got, err := r.ResolveAny(input, testContext())
	if err != nil {
		t.Fatalf("ResolveAny() error = %v", err)
	}

	m := got.(map[string]any)
	if m["prompt"] != "Review: hello world" {
		t.Errorf("prompt = %v", m["prompt"])
	}
	if m["nested"].(map[string]any)["score"] != 0.85 {
		t.Errorf("nested score = %v", m["nested"].(map[string]any)["score"])
	}
	list := m["list"].([]any)
	if list[0] != "hello world" || list[1] != 42 {
		t.Errorf("list = %v", list)
	}

	// Original input must not be mutated.
	if input["prompt"] != "Review: ${draft}" {
		t.Error("ResolveAny mutated its input")
	}
}

func TestResolve_PureFunction(t *testing.T) {
	var r Resolver
	ctx := testContext()

	first, err := r.Resolve("${steps.review.comments[0]}", ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve("${steps.review.comments[0]}", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("resolution not deterministic: %v vs %v", first, second)
	}
}
