// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

// Selection completions stay short and near-deterministic.
const (
	selectionTemperature = 0.3
	selectionMaxTokens   = 500
)

const selectionSystemPrompt = "You are a tool selection assistant that helps determine which tool to use for a given user input."

const selectionPromptTemplate = `
You are a tool selection assistant. Your job is to analyze a user message and determine if it should use a specific tool.

Available tools:
%s

User message: "%s"

First, decide if the user's message requires using one of the available tools. If not, respond with: {"use_tool": false}

If a tool should be used, identify which one and what parameters to use. Respond with a JSON object in this format:
{
  "use_tool": true,
  "tool_name": "name_of_tool",
  "parameters": {
    "param1": "value1",
    "param2": "value2"
  }
}

Only include parameters that are relevant and can be determined from the user message. Be precise and accurate.
Respond with valid JSON only, no additional text.
`

// toolSelection is the strict verdict shape the model must return.
type toolSelection struct {
	UseTool    bool           `json:"use_tool"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// ModelSelector asks the completion model to pick a tool.
//
// Description:
//
//	The selector builds a catalog of every registered tool (name and
//	description), sends it with the utterance in a low-temperature
//	completion, and expects a strict JSON verdict of the form
//	{"use_tool": bool, "tool_name": string, "parameters": object}.
//
//	Anything short of a clean verdict degrades to no resolution: a
//	completion failure, a body that is not valid JSON, use_tool false,
//	or a tool_name that is not in the registry. The selector never
//	returns an error and never invents tools.
//
// Thread Safety:
//
//	ModelSelector is safe for concurrent use.
type ModelSelector struct {
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
}

// NewModelSelector creates a model-driven tool resolver.
//
// Inputs:
//
//	client - Completion client for the selection call.
//	registry - Tool registry providing the catalog and name validation.
//	logger - Logger for selection events (nil for default).
func NewModelSelector(client llm.Client, registry *tools.Registry, logger *slog.Logger) *ModelSelector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelSelector{
		client:   client,
		registry: registry,
		logger:   logger,
	}
}

// Resolve implements the Resolver interface.
func (s *ModelSelector) Resolve(ctx context.Context, input string) Resolution {
	definitions := s.registry.GetDefinitions()
	if len(definitions) == 0 {
		return None()
	}

	lines := make([]string, 0, len(definitions))
	for _, def := range definitions {
		lines = append(lines, fmt.Sprintf("- %s: %s", def.Name, def.Description))
	}

	prompt := fmt.Sprintf(selectionPromptTemplate, strings.Join(lines, "\n"), input)

	response, err := s.client.Complete(ctx, &llm.Request{
		SystemPrompt: selectionSystemPrompt,
		Messages:     llm.UserMessage(prompt),
		Temperature:  selectionTemperature,
		MaxTokens:    selectionMaxTokens,
	})
	if err != nil {
		s.logger.Error("tool selection completion failed", slog.String("error", err.Error()))
		return None()
	}

	var verdict toolSelection
	if err := json.Unmarshal([]byte(strings.TrimSpace(response.Content)), &verdict); err != nil {
		s.logger.Error("failed to parse tool selection verdict",
			slog.String("content", response.Content))
		return None()
	}

	if !verdict.UseTool {
		s.logger.Debug("model decided no tool is needed")
		return None()
	}

	if !s.registry.Has(verdict.ToolName) {
		s.logger.Warn("model selected unknown tool", slog.String("tool", verdict.ToolName))
		return None()
	}

	params := verdict.Parameters
	if params == nil {
		params = map[string]any{}
	}

	s.logger.Info("model selected tool",
		slog.String("tool", verdict.ToolName),
		slog.Int("parameters", len(params)))

	return Resolution{
		Kind:   KindToolCall,
		Source: SourceModel,
		Tool:   verdict.ToolName,
		Args:   params,
	}
}

var _ Resolver = (*ModelSelector)(nil)
