// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatEvaluator scores candidates with an OpenAI-compatible judge model.
// The model is asked for a strict JSON verdict so the score can be parsed
// without heuristics.
type ChatEvaluator struct {
	client *openai.Client
	model  string
}

// NewChatEvaluator builds an evaluator against the given endpoint. An
// empty baseURL targets the OpenAI API; an empty model falls back to
// GPT-4o mini. The API key is read from OPENAI_API_KEY.
func NewChatEvaluator(baseURL, model string) (*ChatEvaluator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &ChatEvaluator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

const judgeSystemPrompt = `You are a strict quality judge. Score the candidate output against the
criteria. Respond with ONLY a JSON object of the form
{"score": <0..1>, "breakdown": {"<criterion>": <0..1>, ...}, "feedback": "<one short paragraph>"}.`

// verdict is the judge model's JSON reply.
type verdict struct {
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
	Feedback  string             `json:"feedback"`
}

// Evaluate asks the judge model for a verdict on the candidate.
func (e *ChatEvaluator) Evaluate(ctx context.Context, candidate map[string]any, criteria map[string]any) (Result, error) {
	candJSON, err := json.Marshal(candidate)
	if err != nil {
		return Result{}, fmt.Errorf("marshal candidate: %w", err)
	}
	critJSON, err := json.Marshal(criteria)
	if err != nil {
		return Result{}, fmt.Errorf("marshal criteria: %w", err)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Criteria:\n%s\n\nCandidate:\n%s", critJSON, candJSON)},
		},
		Temperature: 0,
	})
	if err != nil {
		return Result{}, fmt.Errorf("judge completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("judge returned no choices")
	}

	var v verdict
	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return Result{}, fmt.Errorf("parse judge verdict: %w", err)
	}
	if v.Score < 0 || v.Score > 1 {
		return Result{}, fmt.Errorf("judge score %.3f out of range", v.Score)
	}
	return Result{Score: v.Score, Breakdown: v.Breakdown, Feedback: v.Feedback}, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
