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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the executor.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrValidationFailed indicates parameter validation failed.
	ErrValidationFailed = errors.New("parameter validation failed")

	// ErrExecutionFailed indicates tool execution failed.
	ErrExecutionFailed = errors.New("tool execution failed")

	// ErrTimeout indicates the tool execution timed out.
	ErrTimeout = errors.New("tool execution timed out")
)

// Executor handles tool invocations with validation, timeouts, and caching.
//
// Thread Safety:
//
//	Executor is safe for concurrent use. Multiple tool executions can
//	run simultaneously.
type Executor struct {
	registry *Registry
	options  ExecutorOptions
	cache    *resultCache
}

// NewExecutor creates a new tool executor.
//
// Inputs:
//
//	registry - The tool registry
//	opts - Executor options (uses defaults if nil)
func NewExecutor(registry *Registry, opts *ExecutorOptions) *Executor {
	options := DefaultExecutorOptions()
	if opts != nil {
		options = *opts
	}

	e := &Executor{
		registry: registry,
		options:  options,
	}

	if options.EnableCaching {
		e.cache = newResultCache(options.CacheTTL)
	}

	return e
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs a tool with the given invocation.
//
// Description:
//
//	Validates the invocation parameters against the tool definition,
//	executes the tool under its timeout, and optionally caches results
//	for side-effect-free tools.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	invocation - The tool invocation to execute
//
// Outputs:
//
//	*Result - The execution result
//	error - Non-nil if execution failed
//
// Errors:
//
//	ErrToolNotFound - Tool does not exist
//	ErrValidationFailed - Parameter validation failed
//	ErrTimeout - Execution timed out
//	ErrExecutionFailed - Tool returned an error
//
// Thread Safety: This method is safe for concurrent use.
func (e *Executor) Execute(ctx context.Context, invocation *Invocation) (*Result, error) {
	if invocation == nil {
		return nil, fmt.Errorf("%w: nil invocation", ErrValidationFailed)
	}

	if invocation.ID == "" {
		invocation.ID = uuid.NewString()
	}

	logger := slog.With(
		"tool", invocation.ToolName,
		"invocation_id", invocation.ID,
	)

	tool, ok := e.registry.Get(invocation.ToolName)
	if !ok {
		logger.Warn("Tool not found")
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, invocation.ToolName)
	}

	if err := e.validateParams(tool, invocation.Parameters); err != nil {
		logger.Warn("Parameter validation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if e.cache != nil && !tool.Definition().SideEffects {
		if cached, ok := e.cache.get(invocation.ToolName, invocation.Parameters); ok {
			logger.Debug("Cache hit")
			cached.Cached = true
			return cached, nil
		}
	}

	timeout := e.options.DefaultTimeout
	if tool.Definition().Timeout > 0 {
		timeout = tool.Definition().Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	invocation.StartedAt = time.Now()
	logger.Debug("Executing tool")

	result, err := tool.Execute(ctx, invocation.Parameters)
	invocation.CompletedAt = time.Now()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("Tool execution timed out", "timeout", timeout)
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, invocation.ToolName, timeout)
		}
		logger.Error("Tool execution failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}

	result.Duration = invocation.CompletedAt.Sub(invocation.StartedAt)

	if result.TokensUsed > e.options.MaxOutputTokens {
		result = e.truncateResult(result)
	}

	if e.cache != nil && result.Success && !tool.Definition().SideEffects {
		e.cache.set(invocation.ToolName, invocation.Parameters, result)
	}

	invocation.Result = result

	logger.Debug("Tool executed",
		"success", result.Success,
		"duration", result.Duration,
		"tokens", result.TokensUsed,
	)

	return result, nil
}

// ExecuteCall runs a tool by name and always returns a payload map.
//
// Description:
//
//	ExecuteCall is the dispatch entry point used by the conversation and
//	task loops. It never returns an error: lookup failures, validation
//	failures, timeouts, and tool errors are all folded into an error
//	payload with "status": "error". Successful executions return the
//	tool's own payload with "status" defaulted to "success".
//
// Inputs:
//
//	ctx - Context for cancellation
//	name - Tool name
//	params - Tool parameters
//
// Outputs:
//
//	map[string]any - Tool payload, always with a "status" key
//
// Thread Safety: This method is safe for concurrent use.
func (e *Executor) ExecuteCall(ctx context.Context, name string, params map[string]any) map[string]any {
	if params == nil {
		params = map[string]any{}
	}

	result, err := e.Execute(ctx, &Invocation{
		ToolName:   name,
		Parameters: params,
	})
	if err != nil {
		return ErrorPayload(err.Error())
	}

	if !result.Success {
		// Tools may attach a structured error payload with extra context
		if payload, ok := result.Output.(map[string]any); ok {
			if _, ok := payload["status"]; !ok {
				payload["status"] = "error"
			}
			return payload
		}
		msg := result.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return ErrorPayload(msg)
	}

	if payload, ok := result.Output.(map[string]any); ok {
		if _, ok := payload["status"]; !ok {
			payload["status"] = "success"
		}
		return payload
	}

	payload := map[string]any{"status": "success"}
	if result.Output != nil {
		payload["result"] = result.Output
	} else if result.OutputText != "" {
		payload["result"] = result.OutputText
	}
	return payload
}

// ErrorPayload builds the standard error payload for a failed tool call.
func ErrorPayload(message string) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  message,
	}
}

// validateParams validates tool parameters against the definition.
func (e *Executor) validateParams(tool Tool, params map[string]any) error {
	def := tool.Definition()

	for name, paramDef := range def.Parameters {
		if paramDef.Required {
			if _, ok := params[name]; !ok {
				return &ValidationError{
					Parameter: name,
					Message:   "required parameter missing",
				}
			}
		}
	}

	for name, value := range params {
		paramDef, ok := def.Parameters[name]
		if !ok {
			// Unknown parameters pass through untouched
			continue
		}

		if err := e.validateParam(name, value, paramDef); err != nil {
			return err
		}
	}

	return nil
}

// validateParam validates a single parameter value.
func (e *Executor) validateParam(name string, value any, def ParamDef) error {
	if value == nil {
		if def.Required {
			return &ValidationError{
				Parameter: name,
				Message:   "required parameter is nil",
			}
		}
		return nil
	}

	switch def.Type {
	case ParamTypeString:
		str, ok := value.(string)
		if !ok {
			return &ValidationError{
				Parameter: name,
				Message:   "expected string",
				Actual:    fmt.Sprintf("%T", value),
			}
		}
		if def.MinLength > 0 && len(str) < def.MinLength {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("string length must be at least %d", def.MinLength),
			}
		}
		if def.MaxLength > 0 && len(str) > def.MaxLength {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("string length must be at most %d", def.MaxLength),
			}
		}

	case ParamTypeInt:
		// JSON unmarshals numbers as float64, so accept both
		var num float64
		switch v := value.(type) {
		case int:
			num = float64(v)
		case int64:
			num = float64(v)
		case float64:
			num = v
		default:
			return &ValidationError{
				Parameter: name,
				Message:   "expected integer",
				Actual:    fmt.Sprintf("%T", value),
			}
		}
		if def.Minimum != nil && num < *def.Minimum {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("value must be at least %v", *def.Minimum),
			}
		}
		if def.Maximum != nil && num > *def.Maximum {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("value must be at most %v", *def.Maximum),
			}
		}

	case ParamTypeFloat:
		num, ok := value.(float64)
		if !ok {
			return &ValidationError{
				Parameter: name,
				Message:   "expected number",
				Actual:    fmt.Sprintf("%T", value),
			}
		}
		if def.Minimum != nil && num < *def.Minimum {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("value must be at least %v", *def.Minimum),
			}
		}
		if def.Maximum != nil && num > *def.Maximum {
			return &ValidationError{
				Parameter: name,
				Message:   fmt.Sprintf("value must be at most %v", *def.Maximum),
			}
		}

	case ParamTypeBool:
		if _, ok := value.(bool); !ok {
			return &ValidationError{
				Parameter: name,
				Message:   "expected boolean",
				Actual:    fmt.Sprintf("%T", value),
			}
		}

	case ParamTypeArray:
		// Relaxed validation: typed slices are accepted as-is
		if _, ok := value.([]any); !ok {
			return nil
		}

	case ParamTypeObject:
		if _, ok := value.(map[string]any); !ok {
			return &ValidationError{
				Parameter: name,
				Message:   "expected object",
				Actual:    fmt.Sprintf("%T", value),
			}
		}
	}

	if len(def.Enum) > 0 {
		found := false
		for _, allowed := range def.Enum {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{
				Parameter: name,
				Message:   "value not in allowed enum",
				Expected:  fmt.Sprintf("%v", def.Enum),
				Actual:    fmt.Sprintf("%v", value),
			}
		}
	}

	return nil
}

// truncateResult truncates a result to fit within token limits.
//
// Uses an approximation of ~4 characters per token. The result is
// modified in place.
func (e *Executor) truncateResult(result *Result) *Result {
	maxChars := e.options.MaxOutputTokens * 4

	if len(result.OutputText) > maxChars {
		result.OutputText = result.OutputText[:maxChars] + "\n... [truncated]"
		result.Truncated = true
		result.TokensUsed = e.options.MaxOutputTokens
	}

	return result
}

// ClearCache clears the result cache.
func (e *Executor) ClearCache() {
	if e.cache != nil {
		e.cache.clear()
	}
}

// resultCache provides thread-safe caching of tool results.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// key generates a deterministic cache key from tool name and parameters.
// Parameter keys are sorted so the same parameters always produce the
// same key regardless of map iteration order.
func (c *resultCache) key(toolName string, params map[string]any) string {
	if len(params) == 0 {
		return toolName
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var keyParts []string
	for _, k := range keys {
		keyParts = append(keyParts, fmt.Sprintf("%s=%v", k, params[k]))
	}

	return fmt.Sprintf("%s:{%s}", toolName, strings.Join(keyParts, ","))
}

func (c *resultCache) get(toolName string, params map[string]any) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[c.key(toolName, params)]
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	// Return a copy to avoid mutation
	result := *entry.result
	return &result, true
}

func (c *resultCache) set(toolName string, params map[string]any, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[c.key(toolName, params)] = &cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
