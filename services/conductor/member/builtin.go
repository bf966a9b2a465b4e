// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package member

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FuncMember adapts a plain function into a Member. Useful for tests and
// small custom steps that don't warrant a full implementation.
type FuncMember struct {
	MemberName string
	Fn         func(ctx context.Context, input map[string]any, rc ReadOnlyContext) (*Result, error)
}

// NewFunc wraps fn as a member.
func NewFunc(name string, fn func(ctx context.Context, input map[string]any, rc ReadOnlyContext) (*Result, error)) *FuncMember {
	return &FuncMember{MemberName: name, Fn: fn}
}

func (m *FuncMember) Name() string { return m.MemberName }

func (m *FuncMember) Execute(ctx context.Context, input map[string]any, rc ReadOnlyContext) (*Result, error) {
	if m.Fn == nil {
		return nil, fmt.Errorf("member %s has no function", m.MemberName)
	}
	return m.Fn(ctx, input, rc)
}

// HTTPMember posts the step input as JSON to a fixed URL and returns the
// decoded JSON response as output. A minimal webhook-style adapter; auth,
// retries, and signature verification belong to the transport layer.
type HTTPMember struct {
	MemberName string
	URL        string
	Client     *http.Client
}

// NewHTTP builds an HTTP member with a 30s default timeout.
func NewHTTP(name, url string) *HTTPMember {
	return &HTTPMember{
		MemberName: name,
		URL:        url,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *HTTPMember) Name() string { return m.MemberName }

func (m *HTTPMember) Execute(ctx context.Context, input map[string]any, _ ReadOnlyContext) (*Result, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", m.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("call %s: status %d", m.URL, resp.StatusCode)
	}

	output := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &output); err != nil {
			output = map[string]any{"body": string(data)}
		}
	}
	return Ok(output), nil
}
