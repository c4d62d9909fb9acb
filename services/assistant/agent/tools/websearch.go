// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"time"
)

// maxSearchResults caps the number of synthesized search results.
const maxSearchResults = 5

// WebSearchTool implements the web_search tool.
//
// Description:
//
//	WebSearchTool is a placeholder search provider: it synthesizes a
//	deterministic result list instead of querying a live search API.
//	The payload shape matches what a real provider integration would
//	return, so callers and prompts do not change when one is wired in.
//
// Thread Safety: WebSearchTool is safe for concurrent use.
type WebSearchTool struct{}

// NewWebSearchTool creates the web_search tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Category returns the tool category.
func (t *WebSearchTool) Category() ToolCategory {
	return CategorySearch
}

// Definition returns the tool's parameter schema.
func (t *WebSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "web_search",
		Description: "Searches the web for information on a topic and returns a list of results with titles, URLs, and snippets.",
		Parameters: map[string]ParamDef{
			"query": {
				Type:        ParamTypeString,
				Description: "The search query.",
				Required:    true,
			},
			"num_results": {
				Type:        ParamTypeInt,
				Description: "Maximum number of results to return.",
				Required:    false,
				Default:     5,
			},
			"search_type": {
				Type:        ParamTypeString,
				Description: "Kind of search to perform.",
				Required:    false,
				Default:     "general",
				Enum:        []any{"general", "news", "images"},
			},
		},
		Category:    CategorySearch,
		Priority:    80,
		SideEffects: false,
		Timeout:     10 * time.Second,
		Examples: []ToolExample{
			{
				Description: "Search for a topic",
				Parameters: map[string]any{
					"query": "latest developments in renewable energy",
				},
				ExpectedOutput: "List of search results with titles, URLs, and snippets",
			},
		},
	}
}

// Execute synthesizes placeholder search results for the query.
func (t *WebSearchTool) Execute(_ context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	query, _ := params["query"].(string)
	if query == "" {
		return &Result{
			Success:  false,
			Error:    "query must be a non-empty string",
			Duration: time.Since(start),
		}, nil
	}

	numResults := intParam(params, "num_results", 5)
	searchType, _ := params["search_type"].(string)
	if searchType == "" {
		searchType = "general"
	}

	n := numResults
	if n > maxSearchResults {
		n = maxSearchResults
	}
	if n < 0 {
		n = 0
	}

	results := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, map[string]any{
			"title":   fmt.Sprintf("Result %d for '%s'", i+1, query),
			"url":     fmt.Sprintf("https://example.com/result%d", i+1),
			"snippet": fmt.Sprintf("This is a snippet of result %d for the query '%s'.", i+1, query),
		})
	}

	message := fmt.Sprintf("This is a placeholder implementation. Would search for '%s'", query)
	payload := map[string]any{
		"status":      "placeholder",
		"message":     message,
		"query":       query,
		"search_type": searchType,
		"results":     results,
	}

	outputText := fmt.Sprintf("%s (%d results)", message, len(results))

	return &Result{
		Success:    true,
		Output:     payload,
		OutputText: outputText,
		Duration:   time.Since(start),
		TokensUsed: len(outputText) / 4,
		Metadata: map[string]any{
			"query":       query,
			"search_type": searchType,
			"returned":    len(results),
		},
	}, nil
}

// intParam reads an integer parameter, accepting JSON float64 values.
func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
