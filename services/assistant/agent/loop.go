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

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/observability"
)

// Loop defaults.
const (
	DefaultMaxIterations  = 100
	DefaultIterationDelay = time.Second
	DefaultStallWindow    = 5 * time.Minute
)

// History window sizes for phase prompts.
const (
	planningHistoryWindow  = 3
	executionHistoryWindow = 5
	recordExcerptLimit     = 200
)

const planningPhaseTemplate = `I am working on this task: %s

Based on my current progress and the execution history, I need to:
1. Assess the current state of the task
2. Identify the next steps to take
3. Create a detailed plan for the next phase of execution

Current iteration: %d
`

const executionPhaseTemplate = `I am working on this task: %s

I need to execute the next step in my plan. Based on my execution history,
I should determine the most appropriate action to take now.

Current iteration: %d
`

const reviewPhaseTemplate = `I have been working on this task: %s

I need to review my work to determine if the task is truly complete.
I should check:
1. Have all requirements been fulfilled?
2. Is there any part of the task that remains incomplete?
3. Are there any errors or issues that need to be addressed?
4. Is there any way to improve the result?

Current iteration: %d
`

const recoveryPhaseTemplate = `I encountered an error while working on this task: %s

I need to:
1. Analyze what went wrong
2. Determine how to recover
3. Adjust my approach to avoid similar errors

Current iteration: %d
Error count: %d
`

// Loop drives the orchestrator through the continuous execution state
// machine until a task completes or a bound is hit.
//
// Description:
//
//	A Loop owns one task's state: status, iteration count, error count,
//	the append-only execution history, and the progress timestamp the
//	stall detector watches. Each iteration builds a phase prompt from
//	the task and a window of recent history, delegates to the
//	orchestrator, records the outcome, and applies the phase's
//	transition. The loop only terminates through its continuation
//	rules; faults route to error recovery instead of aborting.
//
// Thread Safety:
//
//	Start runs one sequential control flow. Snapshot and the other
//	accessors are safe to call concurrently with a running loop.
type Loop struct {
	orchestrator  *Orchestrator
	maxIterations int
	delay         time.Duration
	stallWindow   time.Duration
	observer      Observer
	flagSource    func() Flags
	logger        *slog.Logger

	mu           sync.Mutex
	task         string
	status       string
	iteration    int
	errorCount   int
	lastProgress time.Time
	plan         []string
	history      []ExecutionRecord
	lastResult   *TurnResult
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations bounds the number of iterations.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithIterationDelay sets the pause between iterations. Zero disables
// the pause, which tests rely on.
func WithIterationDelay(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d >= 0 {
			l.delay = d
		}
	}
}

// WithStallWindow sets how long the loop may go without progress before
// the stall detector fires.
func WithStallWindow(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.stallWindow = d
		}
	}
}

// WithObserver sets the status callback.
func WithObserver(observer Observer) LoopOption {
	return func(l *Loop) {
		l.observer = observer
	}
}

// WithFlagSource sets a function reread at every iteration boundary to
// pick up dispatch flag changes.
func WithFlagSource(source func() Flags) LoopOption {
	return func(l *Loop) {
		l.flagSource = source
	}
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a continuous execution loop over an orchestrator.
func NewLoop(orchestrator *Orchestrator, opts ...LoopOption) *Loop {
	l := &Loop{
		orchestrator:  orchestrator,
		maxIterations: DefaultMaxIterations,
		delay:         DefaultIterationDelay,
		stallWindow:   DefaultStallWindow,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs a task to termination.
//
// Description:
//
//	Resets state, requests a best-effort initial plan (falling back to
//	the generic two-step plan on failure, never aborting), then
//	iterates while the continuation rules allow: limit not reached,
//	not completed, and either progressing or recoverable. Cancellation
//	is honored at iteration boundaries only.
//
// Outputs:
//
//	*FinalResult - Task text, terminal status, iteration and error
//	               counts, the last turn result, and the full history.
func (l *Loop) Start(ctx context.Context, task string) *FinalResult {
	release := observability.TrackLoop()
	defer release()

	l.reset(task)
	l.logger.Info("starting continuous execution", slog.String("task", task))

	steps, err := l.orchestrator.PlanExecution(ctx, task)
	if err != nil {
		l.logger.Warn("initial planning failed, using fallback plan", slog.Any("error", err))
		l.mu.Lock()
		l.errorCount++
		l.mu.Unlock()
		steps = []string{"Analyze the task", "Execute the task step by step"}
	}
	l.mu.Lock()
	l.plan = steps
	l.mu.Unlock()
	l.appendRecord(RecordPlan, strings.Join(steps, "\n"))

	for l.shouldContinue(ctx) {
		l.executeIteration(ctx)
		if l.Status() == StatusCompleted {
			break
		}
		if !l.pause(ctx) {
			break
		}
	}

	final := l.finalResult()
	l.notify(StatusSnapshot{
		Task:       final.Task,
		Status:     final.Status,
		Iteration:  final.Iterations,
		ErrorCount: final.ErrorCount,
		Final:      true,
		Result:     final.Result,
		Timestamp:  time.Now(),
	})
	l.logger.Info("continuous execution finished",
		slog.String("status", final.Status),
		slog.Int("iterations", final.Iterations),
		slog.Int("errors", final.ErrorCount))
	return final
}

// shouldContinue applies the continuation rules before each iteration.
func (l *Loop) shouldContinue(ctx context.Context) bool {
	if ctx.Err() != nil {
		l.logger.Info("context cancelled, stopping at iteration boundary")
		return false
	}

	l.mu.Lock()
	iteration := l.iteration
	status := l.status
	errorCount := l.errorCount
	stalled := time.Since(l.lastProgress) > l.stallWindow
	l.mu.Unlock()

	if iteration >= l.maxIterations {
		l.logger.Info("iteration limit reached", slog.Int("iterations", iteration))
		return false
	}
	if status == StatusCompleted {
		return false
	}
	if stalled {
		if status == StatusErrorRecovery && errorCount > 5 {
			l.logger.Error("stalled in error recovery, stopping",
				slog.Int("error_count", errorCount))
			return false
		}
		observability.RecordStall()
		l.handleError(newStallError())
	}
	return true
}

// executeIteration runs one iteration of the current phase. Panics are
// contained here and routed to error recovery.
func (l *Loop) executeIteration(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.handleError(&AgentError{
				Code:        CodePanic,
				Message:     fmt.Sprintf("%v", r),
				Recoverable: true,
			})
		}
	}()

	if l.flagSource != nil {
		l.orchestrator.SetFlags(l.flagSource())
	}

	l.mu.Lock()
	l.iteration++
	phase := l.status
	iteration := l.iteration
	l.mu.Unlock()

	l.notify(l.Snapshot())

	ctx, span := observability.StartSpan(ctx, "agent.iteration",
		attribute.Int("iteration", iteration),
		attribute.String("phase", phase))
	defer span.End()

	switch phase {
	case StatusPlanning:
		l.planningPhase(ctx)
	case StatusExecuting:
		l.executionPhase(ctx)
	case StatusReviewing:
		l.reviewPhase(ctx)
	case StatusErrorRecovery:
		l.recoveryPhase(ctx)
	default:
		l.logger.Warn("unknown status, resetting to planning", slog.String("status", phase))
		l.transition(StatusPlanning, true)
	}

	observability.RecordIteration(phase, l.Status())
}

// planningPhase assesses the task and plans the next stretch of work.
func (l *Loop) planningPhase(ctx context.Context) {
	prompt := fmt.Sprintf(planningPhaseTemplate, l.taskText(), l.Iterations()) +
		l.historyWindow(planningHistoryWindow)

	result := l.orchestrator.Ask(ctx, prompt)
	if result.Type == TurnError {
		l.handleError(&AgentError{Code: CodeCompletion, Message: result.Error, Recoverable: true})
		return
	}

	l.setLastResult(result)
	l.appendRecord(RecordPlanning, result.Response)
	l.transition(StatusExecuting, true)
}

// executionPhase executes the next step and watches for the completion
// phrases.
func (l *Loop) executionPhase(ctx context.Context) {
	prompt := fmt.Sprintf(executionPhaseTemplate, l.taskText(), l.Iterations()) +
		l.historyWindow(executionHistoryWindow)

	result := l.orchestrator.Ask(ctx, prompt)
	if result.Type == TurnError {
		l.handleError(&AgentError{Code: CodeCompletion, Message: result.Error, Recoverable: true})
		return
	}
	l.setLastResult(result)

	if result.Type == TurnToolCall {
		l.appendRecord(RecordToolCall, fmt.Sprintf("Tool: %s, Args: %v", result.Tool, result.Args))
		l.appendRecord(RecordToolResult, tools.FormatPayload(result.ToolResult))
	} else {
		l.appendRecord(RecordExecution, result.Response)
	}

	if containsAnyFold(result.Response, "task completed", "all steps completed") {
		l.transition(StatusReviewing, false)
	} else {
		l.refreshProgress()
	}
}

// reviewPhase decides whether the task is truly complete.
func (l *Loop) reviewPhase(ctx context.Context) {
	prompt := fmt.Sprintf(reviewPhaseTemplate, l.taskText(), l.Iterations())

	result := l.orchestrator.Ask(ctx, prompt)
	if result.Type == TurnError {
		l.handleError(&AgentError{Code: CodeCompletion, Message: result.Error, Recoverable: true})
		return
	}
	l.setLastResult(result)
	l.appendRecord(RecordReview, result.Response)

	if containsAnyFold(result.Response, "task is complete", "requirements fulfilled") {
		l.transition(StatusCompleted, true)
	} else {
		l.transition(StatusExecuting, true)
	}
}

// recoveryPhase analyzes the most recent error and routes back to
// planning.
func (l *Loop) recoveryPhase(ctx context.Context) {
	prompt := fmt.Sprintf(recoveryPhaseTemplate, l.taskText(), l.Iterations(), l.ErrorCount())
	if last := l.lastErrorContent(); last != "" {
		prompt += fmt.Sprintf("\nMost recent error:\n%s\n", last)
	}

	result := l.orchestrator.Ask(ctx, prompt)
	if result.Type == TurnError {
		l.handleError(&AgentError{Code: CodeCompletion, Message: result.Error, Recoverable: true})
		return
	}
	l.setLastResult(result)
	l.appendRecord(RecordRecovery, result.Response)
	l.transition(StatusPlanning, false)
}

// handleError records a fault and routes the loop into error recovery.
func (l *Loop) handleError(err error) {
	l.logger.Error("iteration fault", slog.Any("error", err))

	l.mu.Lock()
	l.errorCount++
	l.history = append(l.history, ExecutionRecord{
		Type:      RecordError,
		Content:   err.Error(),
		Timestamp: time.Now(),
	})
	l.status = StatusErrorRecovery
	l.lastProgress = time.Now()
	snapshot := StatusSnapshot{
		Task:       l.task,
		Status:     "error",
		Iteration:  l.iteration,
		ErrorCount: l.errorCount,
		Error:      err.Error(),
		Timestamp:  time.Now(),
	}
	l.mu.Unlock()

	l.notify(snapshot)
}

// historyWindow renders the last n records for a phase prompt.
func (l *Loop) historyWindow(n int) string {
	l.mu.Lock()
	start := len(l.history) - n
	if start < 0 {
		start = 0
	}
	records := make([]ExecutionRecord, len(l.history)-start)
	copy(records, l.history[start:])
	l.mu.Unlock()

	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\nRecent execution history:\n")
	for _, record := range records {
		content := record.Content
		if len(content) > recordExcerptLimit {
			content = content[:recordExcerptLimit]
		}
		fmt.Fprintf(&b, "- %s: %s...\n", record.Type, content)
	}
	return b.String()
}

// lastErrorContent returns the content of the most recent error record.
func (l *Loop) lastErrorContent() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].Type == RecordError {
			return l.history[i].Content
		}
	}
	return ""
}

// pause waits the inter-iteration delay. Returns false when the context
// ended during the wait.
func (l *Loop) pause(ctx context.Context) bool {
	if l.delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.delay):
		return true
	}
}

// reset prepares the loop for a fresh task.
func (l *Loop) reset(task string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.task = task
	l.status = StatusPlanning
	l.iteration = 0
	l.errorCount = 0
	l.lastProgress = time.Now()
	l.plan = nil
	l.history = nil
	l.lastResult = nil
}

// transition moves the loop to a new status, optionally refreshing the
// progress timestamp the stall detector watches.
func (l *Loop) transition(status string, refresh bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
	if refresh {
		l.lastProgress = time.Now()
	}
}

func (l *Loop) refreshProgress() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastProgress = time.Now()
}

func (l *Loop) appendRecord(recordType, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, ExecutionRecord{
		Type:      recordType,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (l *Loop) setLastResult(result *TurnResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastResult = result
}

// notify delivers a snapshot to the observer. Observer panics are
// contained so a faulty callback cannot abort the loop.
func (l *Loop) notify(snapshot StatusSnapshot) {
	if l.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("observer panicked", slog.Any("panic", r))
		}
	}()
	l.observer(snapshot)
}

// finalResult assembles the terminal summary.
func (l *Loop) finalResult() *FinalResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]ExecutionRecord, len(l.history))
	copy(history, l.history)
	return &FinalResult{
		Task:       l.task,
		Status:     l.status,
		Iterations: l.iteration,
		Result:     l.lastResult,
		ErrorCount: l.errorCount,
		History:    history,
	}
}

// Status returns the current task status.
func (l *Loop) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Iterations returns the iterations run so far.
func (l *Loop) Iterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

// ErrorCount returns the faults recorded so far.
func (l *Loop) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorCount
}

// Plan returns the flat initial plan.
func (l *Loop) Plan() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	plan := make([]string, len(l.plan))
	copy(plan, l.plan)
	return plan
}

// History returns a copy of the execution history.
func (l *Loop) History() []ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := make([]ExecutionRecord, len(l.history))
	copy(history, l.history)
	return history
}

// Snapshot returns the current observer-shaped status.
func (l *Loop) Snapshot() StatusSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StatusSnapshot{
		Task:       l.task,
		Status:     l.status,
		Iteration:  l.iteration,
		ErrorCount: l.errorCount,
		Timestamp:  time.Now(),
	}
}

func (l *Loop) taskText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.task
}

// containsAnyFold reports whether text contains any phrase,
// case-insensitively.
func containsAnyFold(text string, phrases ...string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
