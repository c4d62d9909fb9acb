// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent is the assistant core: the task orchestrator that
// produces one turn per utterance, the continuous execution loop that
// drives the orchestrator through planning, execution, review, and
// error recovery until a task completes, and the manager that runs
// independent tasks concurrently.
//
// The orchestrator combines conversation history, tool resolution, tool
// execution, and completion calls into a single TurnResult. Tool
// failures are payload values, never errors; completion failures
// surface as error-typed turns after the client's own retry policy is
// exhausted. The loop owns all task state and only ever terminates
// through its continuation rules: iteration limit, completion, or a
// stalled recovery.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/assistant/agent/resolver"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/observability"
)

// Conversational sampling defaults.
const (
	turnTemperature = 0.7
	turnMaxTokens   = 1000
)

const baseSystemPrompt = `You are an AI assistant that helps users accomplish tasks. You can:
1. Plan and execute multi-step tasks
2. Use tools when necessary
3. Remember context from previous interactions
4. Debug and retry when encountering issues

When given a task:
1. Break it down into steps
2. Execute each step methodically
3. Use available tools when needed
4. Provide clear updates on progress
5. Deliver final results in a clear format`

const toolFollowUpTemplate = `My request was: %s

This tool call was executed for me:

%s

The tool returned this result:

%s

Use the result to answer my request. Be concise and point out anything the tool reported as an error.`

const elaborationPrompt = `Please elaborate on these results. Describe what they contain and suggest one or two worthwhile follow-up actions.`

const planExecutionPromptTemplate = `I need to create a step-by-step plan to accomplish this task:

%s

Break this down into clear, executable steps. For each step, explain:
1. What needs to be done
2. What tools or information might be needed
3. How to verify the step was completed successfully

Format your response as a numbered list of steps.`

// Orchestrator produces one assistant turn per utterance.
//
// Description:
//
//	An Orchestrator owns one conversation: the system prompt with the
//	tool catalog, the message history, and the dispatch flags. Tool
//	resolution runs ahead of the completion when AutoDetectTools is on;
//	otherwise the model's reply is scanned once for an inline tool-call
//	marker. All tool output flows back into the conversation as payload
//	maps with a status key.
//
// Thread Safety:
//
//	Safe for concurrent use, though turns serialize on the history.
type Orchestrator struct {
	mu       sync.Mutex
	client   llm.Client
	executor *tools.Executor
	logger   *slog.Logger

	pattern   *resolver.PatternDetector
	selector  *resolver.ModelSelector
	simulated *resolver.SimulatedDetector

	flags   Flags
	history []llm.Message
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFlags sets the initial dispatch flags.
func WithFlags(flags Flags) Option {
	return func(o *Orchestrator) {
		o.flags = flags
	}
}

// WithHistory seeds the conversation history, e.g. when resuming a
// persisted session. The slice is copied.
func WithHistory(history []llm.Message) Option {
	return func(o *Orchestrator) {
		o.history = append([]llm.Message(nil), history...)
	}
}

// NewOrchestrator creates an orchestrator over a completion client and a
// tool executor.
//
// Inputs:
//
//	client - Completion client, already wrapped with retry policy.
//	executor - Tool executor whose registry backs resolution and the
//	           system prompt catalog.
//	opts - Optional configuration.
func NewOrchestrator(client llm.Client, executor *tools.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		executor: executor,
		logger:   slog.Default(),
		flags:    DefaultFlags(),
	}
	for _, opt := range opts {
		opt(o)
	}

	registry := executor.Registry()
	o.pattern = resolver.NewPatternDetector(o.logger)
	o.selector = resolver.NewModelSelector(client, registry, o.logger)
	o.simulated = resolver.NewSimulatedDetector(o.logger)
	return o
}

// Flags returns the current dispatch flags.
func (o *Orchestrator) Flags() Flags {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flags
}

// SetFlags replaces the dispatch flags. The loop calls this at iteration
// boundaries so config hot-reload takes effect mid-task.
func (o *Orchestrator) SetFlags(flags Flags) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flags = flags
}

// History returns a copy of the conversation history.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	history := make([]llm.Message, len(o.history))
	copy(history, o.history)
	return history
}

// ClearHistory drops the conversation history.
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
}

// askOptions collects per-turn options.
type askOptions struct {
	includeHistory bool
}

// AskOption configures a single turn.
type AskOption func(*askOptions)

// WithoutHistory runs the turn without the conversation history.
func WithoutHistory() AskOption {
	return func(opts *askOptions) {
		opts.includeHistory = false
	}
}

// Ask runs one assistant turn for an utterance.
//
// Description:
//
//	When AutoDetectTools is set the resolver chain runs first: a tool
//	call is executed and narrated through a follow-up completion, a
//	simulated intent returns its canned walkthrough with no completion,
//	and no resolution falls through to the plain path. The plain path
//	issues one completion over system prompt, optional history, and the
//	utterance, then scans the reply once for an inline tool-call marker
//	(executed and spliced) or a PLAN: block. The user turn and final
//	assistant content are appended to history.
//
// Outputs:
//
//	*TurnResult - Never nil. Failures are carried as Type TurnError;
//	              tool failures are {status: error} payloads inside an
//	              otherwise successful turn.
func (o *Orchestrator) Ask(ctx context.Context, message string, opts ...AskOption) *TurnResult {
	options := askOptions{includeHistory: true}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := observability.StartSpan(ctx, "agent.turn")
	defer span.End()

	flags := o.Flags()

	var result *TurnResult
	if flags.AutoDetectTools {
		result = o.detectTurn(ctx, flags, message, options)
	}
	if result == nil {
		result = o.plainTurn(ctx, message, options)
	}

	if result.Response != "" {
		o.appendExchange(message, result.Response)
	}

	span.SetAttributes(attribute.String("turn.type", result.Type))
	observability.RecordTurn(result.Type)
	return result
}

// detectTurn runs the resolver chain and handles its decision. Returns
// nil when nothing resolved, so the caller falls through to the plain
// path.
func (o *Orchestrator) detectTurn(ctx context.Context, flags Flags, message string, options askOptions) *TurnResult {
	stages := []resolver.Resolver{o.pattern}
	if flags.UseModelToolSelection {
		stages = append(stages, o.selector)
	}
	if flags.UseSimulatedFallback {
		stages = append(stages, o.simulated)
	}

	res := resolver.NewChain(stages...).Resolve(ctx, message)
	switch {
	case res.IsToolCall():
		o.logger.Info("tool detected",
			slog.String("tool", res.Tool),
			slog.String("source", res.Source))
		return o.detectedToolTurn(ctx, message, res, options)

	case res.IsSimulated():
		o.logger.Info("simulated intent detected", slog.String("intent", res.Intent))
		return &TurnResult{
			Type:     TurnSimulated,
			Response: o.simulated.Response(res),
		}
	}
	return nil
}

// detectedToolTurn executes a chain-resolved tool call and narrates the
// result through a follow-up completion. Open-ended tools get one extra
// exchange asking the model to elaborate.
func (o *Orchestrator) detectedToolTurn(ctx context.Context, message string, res resolver.Resolution, options askOptions) *TurnResult {
	payload := o.executeTool(ctx, res.Tool, res.Args)

	marker, err := tools.FormatToolCall(res.Tool, res.Args)
	if err != nil {
		marker = res.Tool
	}

	followUp := fmt.Sprintf(toolFollowUpTemplate, message, marker, tools.FormatPayload(payload))
	messages := append(o.conversation(options), llm.Message{Role: llm.RoleUser, Content: followUp})

	narration, err := o.complete(ctx, messages)
	if err != nil {
		return &TurnResult{
			Type:         TurnError,
			Error:        err.Error(),
			Tool:         res.Tool,
			Args:         res.Args,
			ToolResult:   payload,
			DetectedTool: res.Tool,
			DetectedArgs: res.Args,
		}
	}

	response := narration
	if o.executor.Registry().OpenEnded(res.Tool) {
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: narration},
			llm.Message{Role: llm.RoleUser, Content: elaborationPrompt},
		)
		if extra, err := o.complete(ctx, messages); err == nil && extra != "" {
			response += "\n\n" + extra
		} else if err != nil {
			o.logger.Warn("elaboration exchange failed", slog.Any("error", err))
		}
	}

	return &TurnResult{
		Type:         TurnToolCall,
		Response:     response,
		Tool:         res.Tool,
		Args:         res.Args,
		ToolResult:   payload,
		DetectedTool: res.Tool,
		DetectedArgs: res.Args,
	}
}

// plainTurn issues one completion and processes the reply.
func (o *Orchestrator) plainTurn(ctx context.Context, message string, options askOptions) *TurnResult {
	messages := append(o.conversation(options), llm.Message{Role: llm.RoleUser, Content: message})

	reply, err := o.complete(ctx, messages)
	if err != nil {
		o.logger.Error("completion failed", slog.Any("error", err))
		return &TurnResult{Type: TurnError, Error: err.Error()}
	}
	return o.processResponse(ctx, reply)
}

// processResponse classifies a model reply.
//
// Description:
//
//	Scans once for an inline tool-call marker: a parsed call is
//	executed and its payload spliced over the marker text. A marker
//	that cannot be parsed yields an error turn. Otherwise a reply
//	containing a PLAN: token is tagged as a plan, with the block
//	running to the first blank line; anything else is a plain response.
func (o *Orchestrator) processResponse(ctx context.Context, response string) *TurnResult {
	call, err := tools.ParseToolCall(response)
	switch {
	case err == nil:
		payload := o.executeTool(ctx, call.Name, call.Args)
		return &TurnResult{
			Type:             TurnToolCall,
			Response:         call.Splice(response, tools.FormatPayload(payload)),
			Tool:             call.Name,
			Args:             call.Args,
			ToolResult:       payload,
			OriginalResponse: response,
		}

	case errors.Is(err, tools.ErrMalformedMarker):
		o.logger.Warn("malformed tool marker in reply", slog.Any("error", err))
		return &TurnResult{
			Type:             TurnError,
			Error:            fmt.Sprintf("Failed to parse tool call: %v", err),
			OriginalResponse: response,
		}
	}

	if idx := strings.Index(response, "PLAN:"); idx >= 0 {
		section := response[idx:]
		if cut := strings.Index(section, "\n\n"); cut >= 0 {
			section = section[:cut]
		}
		return &TurnResult{Type: TurnPlan, Plan: section, Response: response}
	}

	return &TurnResult{Type: TurnResponse, Response: response}
}

// PlanExecution asks for a flat numbered plan for a task.
//
// Description:
//
//	One completion with no history. Steps are the reply lines that
//	start with a digit or a "- " bullet. The continuous loop runs this
//	once at task start; an empty result is valid and the loop falls
//	back to its generic plan only on error.
func (o *Orchestrator) PlanExecution(ctx context.Context, task string) ([]string, error) {
	reply, err := o.complete(ctx, llm.UserMessage(fmt.Sprintf(planExecutionPromptTemplate, task)))
	if err != nil {
		return nil, fmt.Errorf("planning completion: %w", err)
	}

	var steps []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if (line[0] >= '0' && line[0] <= '9') || strings.HasPrefix(line, "- ") {
			steps = append(steps, line)
		}
	}
	return steps, nil
}

// executeTool dispatches one tool call and folds every failure into the
// payload.
func (o *Orchestrator) executeTool(ctx context.Context, name string, args map[string]any) map[string]any {
	ctx, span := observability.StartSpan(ctx, "agent.tool",
		attribute.String("tool.name", name))
	defer span.End()

	payload := o.executor.ExecuteCall(ctx, name, args)

	status, _ := payload["status"].(string)
	observability.RecordToolExecution(name, status)
	return payload
}

// complete issues one completion with the orchestrator's system prompt.
func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message) (string, error) {
	response, err := o.client.Complete(ctx, &llm.Request{
		SystemPrompt: o.systemPrompt(),
		Messages:     messages,
		Temperature:  turnTemperature,
		MaxTokens:    turnMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// systemPrompt renders the base prompt plus the tool catalog and the
// marker instructions.
func (o *Orchestrator) systemPrompt() string {
	defs := o.executor.Registry().GetDefinitions()
	if len(defs) == 0 {
		return baseSystemPrompt
	}

	var b strings.Builder
	b.WriteString(baseSystemPrompt)
	b.WriteString("\n\nAvailable tools:\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	fmt.Fprintf(&b, "\nTo use a tool, include a marker of the form %sname {\"param\": \"value\"}%s%s in your response.",
		tools.MarkerStart, tools.MarkerClose, tools.MarkerEnd)
	return b.String()
}

// conversation snapshots the history for a turn.
func (o *Orchestrator) conversation(options askOptions) []llm.Message {
	if !options.includeHistory {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	messages := make([]llm.Message, len(o.history))
	copy(messages, o.history)
	return messages
}

// appendExchange records the user turn and the final assistant content.
func (o *Orchestrator) appendExchange(message, response string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history,
		llm.Message{Role: llm.RoleUser, Content: message},
		llm.Message{Role: llm.RoleAssistant, Content: response},
	)
}
