// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package member

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// ChatMember is an AI-call member backed by an OpenAI-compatible chat
// endpoint. Input fields: "prompt" (required), "system" (optional),
// "feedback" (optional, appended as a prior-attempt critique when the
// scoring gate injects it). Output: {"text": completion}.
type ChatMember struct {
	MemberName string
	Model      string
	client     *openai.Client
}

// NewChat builds a chat member. The API key comes from the OPENAI_API_KEY
// environment variable; baseURL may point at any compatible server and is
// optional.
func NewChat(name, model, baseURL string) (*ChatMember, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatMember{
		MemberName: name,
		Model:      model,
		client:     openai.NewClientWithConfig(cfg),
	}, nil
}

func (m *ChatMember) Name() string { return m.MemberName }

func (m *ChatMember) Execute(ctx context.Context, input map[string]any, _ ReadOnlyContext) (*Result, error) {
	prompt, _ := input["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("chat member %s requires a prompt input", m.MemberName)
	}

	system, _ := input["system"].(string)
	if system == "" {
		system = "You are a helpful assistant."
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	if feedback, ok := input["feedback"].(string); ok && feedback != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "Your previous attempt scored below the quality bar. Reviewer feedback:\n" + feedback,
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    m.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return Ok(map[string]any{"text": resp.Choices[0].Message.Content}), nil
}
