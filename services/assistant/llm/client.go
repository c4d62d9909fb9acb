// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the completion client interface for the assistant.
//
// This package defines the single synchronous completion contract the
// assistant core depends on, plus the decorators that wrap any provider:
// retry with exponential backoff and request rate limiting. Actual
// providers are injected at construction time; the core never sees a
// concrete transport.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package llm

import (
	"context"
	"errors"
	"time"
)

// Message roles. The completion contract recognizes exactly these three.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors for completion failures.
var (
	// ErrEmptyResponse indicates the provider returned no choices.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrNoAPIKey indicates no API key was available at construction.
	ErrNoAPIKey = errors.New("llm: no API key configured")
)

// Client defines the interface for completion interactions.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends a conversation to the model and returns a response.
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout
	//   request - The completion request
	//
	// Outputs:
	//   *Response - The model response
	//   error - Non-nil if the request failed
	Complete(ctx context.Context, request *Request) (*Response, error)

	// Name returns the provider name (e.g., "openai", "mock").
	Name() string

	// Model returns the model being used.
	Model() string
}

// Request represents a completion request.
type Request struct {
	// SystemPrompt is prepended as the system message when non-empty.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation history, oldest first.
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`

	// StopSequences defines sequences that stop generation.
	StopSequences []string `json:"stop_sequences,omitempty"`

	// ModelOverride allows using a different model for this request.
	// Empty string means use the client's default model.
	ModelOverride string `json:"model_override,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the text content.
	Content string `json:"content"`
}

// Response represents a completion response.
type Response struct {
	// Content is the text response.
	Content string `json:"content"`

	// StopReason indicates why generation stopped.
	// Values: "end", "max_tokens", "stop_sequence"
	StopReason string `json:"stop_reason"`

	// TokensUsed is the total tokens consumed (input + output).
	TokensUsed int `json:"tokens_used"`

	// InputTokens is the input token count.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the output token count.
	OutputTokens int `json:"output_tokens"`

	// Duration is how long the request took.
	Duration time.Duration `json:"duration"`

	// Model is the model that generated this response.
	Model string `json:"model,omitempty"`
}

// UserMessage builds a single-turn user message slice.
//
// Convenience for the common one-shot advisory calls.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}
