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
)

// MockTool is a simple tool implementation for testing.
type MockTool struct {
	name        string
	category    ToolCategory
	definition  ToolDefinition
	ExecuteFunc func(ctx context.Context, params map[string]any) (*Result, error)
}

// NewMockTool creates a mock tool for testing.
func NewMockTool(name string, category ToolCategory) *MockTool {
	return &MockTool{
		name:     name,
		category: category,
		definition: ToolDefinition{
			Name:        name,
			Description: fmt.Sprintf("Mock tool: %s", name),
			Category:    category,
			Parameters:  make(map[string]ParamDef),
		},
		ExecuteFunc: func(ctx context.Context, params map[string]any) (*Result, error) {
			return &Result{
				Success:    true,
				Output:     map[string]any{"status": "success", "tool": name},
				OutputText: fmt.Sprintf("Mock result from %s", name),
			}, nil
		},
	}
}

func (t *MockTool) Name() string               { return t.name }
func (t *MockTool) Category() ToolCategory     { return t.category }
func (t *MockTool) Definition() ToolDefinition { return t.definition }

// WithDefinition overrides the tool definition.
func (t *MockTool) WithDefinition(d ToolDefinition) *MockTool {
	t.definition = d
	return t
}

func (t *MockTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	return t.ExecuteFunc(ctx, params)
}
