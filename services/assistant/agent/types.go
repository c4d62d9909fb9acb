// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "time"

// Task statuses for the continuous execution loop.
const (
	StatusPlanning      = "planning"
	StatusExecuting     = "executing"
	StatusReviewing     = "reviewing"
	StatusErrorRecovery = "error_recovery"
	StatusCompleted     = "completed"
)

// Execution record types. The history is append-only and every entry
// carries one of these.
const (
	RecordPlan       = "plan"
	RecordPlanning   = "planning"
	RecordExecution  = "execution"
	RecordToolCall   = "tool_call"
	RecordToolResult = "tool_result"
	RecordReview     = "review"
	RecordRecovery   = "recovery"
	RecordError      = "error"
)

// Turn result types returned by the orchestrator.
const (
	TurnResponse  = "response"
	TurnToolCall  = "tool_call"
	TurnPlan      = "plan"
	TurnSimulated = "simulated"
	TurnError     = "error"
)

// Flags gate tool dispatch for a turn. The loop rereads them at
// iteration boundaries, so config hot-reload takes effect mid-task.
type Flags struct {
	// AutoDetectTools enables the resolver chain ahead of the plain
	// completion path.
	AutoDetectTools bool `json:"auto_detect_tools"`

	// UseModelToolSelection adds the model-driven selector to the chain.
	UseModelToolSelection bool `json:"use_model_tool_selection"`

	// UseSimulatedFallback adds the simulated-intent fallback stage.
	UseSimulatedFallback bool `json:"use_simulated_fallback"`
}

// DefaultFlags returns the dispatch configuration used when nothing is
// configured: deterministic detection with the simulated fallback, model
// selection off.
func DefaultFlags() Flags {
	return Flags{
		AutoDetectTools:      true,
		UseSimulatedFallback: true,
	}
}

// TurnResult is the outcome of one orchestrator turn.
type TurnResult struct {
	// Type is one of response, tool_call, plan, simulated, error.
	Type string `json:"type"`

	// Response is the assistant text for this turn. For tool_call turns
	// it is the narrated result, with the tool payload spliced in when
	// the call came from an inline marker.
	Response string `json:"response,omitempty"`

	// Plan holds the PLAN: block for plan turns.
	Plan string `json:"plan,omitempty"`

	// Tool and Args identify an executed tool call.
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// ToolResult is the tool payload, always carrying a status key.
	ToolResult map[string]any `json:"tool_result,omitempty"`

	// DetectedTool and DetectedArgs are set when the resolver chain made
	// the decision rather than the model's own marker.
	DetectedTool string         `json:"detected_tool,omitempty"`
	DetectedArgs map[string]any `json:"detected_args,omitempty"`

	// OriginalResponse preserves the raw model output when the final
	// response was rewritten or could not be processed.
	OriginalResponse string `json:"original_response,omitempty"`

	// Error describes a failed turn.
	Error string `json:"error,omitempty"`
}

// ExecutionRecord is one audit entry in a task's execution history.
type ExecutionRecord struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusSnapshot is the observer payload sent once per iteration, on
// errors, and at termination.
type StatusSnapshot struct {
	Task       string `json:"task"`
	Status     string `json:"status"`
	Iteration  int    `json:"iteration"`
	ErrorCount int    `json:"error_count"`

	// Error carries the fault message for error notifications.
	Error string `json:"error,omitempty"`

	// Final marks the terminal notification.
	Final bool `json:"final,omitempty"`

	// Result is the last turn result, present on the final notification.
	Result *TurnResult `json:"result,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Observer receives status snapshots from a running loop. Observers must
// return quickly; a panicking observer is logged and ignored.
type Observer func(StatusSnapshot)

// FinalResult summarizes a finished task.
type FinalResult struct {
	Task       string            `json:"task"`
	Status     string            `json:"status"`
	Iterations int               `json:"iterations"`
	Result     *TurnResult       `json:"result,omitempty"`
	ErrorCount int               `json:"error_count"`
	History    []ExecutionRecord `json:"history,omitempty"`
}
