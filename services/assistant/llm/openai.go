// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient is a Client backed by an OpenAI-compatible chat endpoint.
//
// Any service speaking the OpenAI chat completion protocol works here;
// set a base URL to target a local gateway or an Ollama bridge.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	model   string
	baseURL string
	logger  *slog.Logger
}

// WithModel sets the default model for completions.
func WithModel(model string) OpenAIOption {
	return func(o *openAIOptions) { o.model = model }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = url }
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(o *openAIOptions) { o.logger = logger }
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
//
// Inputs:
//
//	apiKey - API key for the endpoint. Must not be empty.
//	opts - Optional configuration (model, base URL, logger).
//
// Outputs:
//
//	*OpenAIClient - The configured client.
//	error - ErrNoAPIKey when apiKey is empty.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	options := &openAIOptions{model: defaultOpenAIModel}
	for _, opt := range opts {
		opt(options)
	}

	cfg := openai.DefaultConfig(apiKey)
	if options.baseURL != "" {
		cfg.BaseURL = options.baseURL
	}

	if options.logger != nil {
		options.logger.Info("initializing completion client",
			slog.String("provider", "openai"),
			slog.String("model", options.model),
			slog.Bool("custom_base_url", options.baseURL != ""))
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  options.model,
		logger: options.logger,
	}, nil
}

// Complete implements the Client interface.
func (c *OpenAIClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	model := c.model
	if request.ModelOverride != "" {
		model = request.ModelOverride
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.SystemPrompt,
		})
	}
	for _, msg := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(request.Temperature),
	}
	if request.MaxTokens > 0 {
		req.MaxCompletionTokens = request.MaxTokens
	}
	if len(request.StopSequences) > 0 {
		req.Stop = request.StopSequences
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("completion request failed",
				slog.String("model", model),
				slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if c.logger != nil {
		c.logger.Debug("completion received",
			slog.String("model", model),
			slog.String("finish_reason", string(choice.FinishReason)),
			slog.Int("total_tokens", resp.Usage.TotalTokens))
	}

	return &Response{
		Content:      choice.Message.Content,
		StopReason:   mapFinishReason(choice.FinishReason),
		TokensUsed:   resp.Usage.TotalTokens,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
		Model:        model,
	}, nil
}

// Name implements the Client interface.
func (c *OpenAIClient) Name() string { return "openai" }

// Model implements the Client interface.
func (c *OpenAIClient) Model() string { return c.model }

// mapFinishReason converts the wire finish reason to our stop reason.
func mapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return "end"
	case openai.FinishReasonLength:
		return "max_tokens"
	default:
		return string(reason)
	}
}

var _ Client = (*OpenAIClient)(nil)
