// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

// newTestLoop wires a loop over a mock-backed orchestrator with the
// pause disabled.
func newTestLoop(t *testing.T, opts ...LoopOption) (*Loop, *llm.MockClient) {
	t.Helper()
	o, client := newTestOrchestrator(t)
	base := []LoopOption{WithIterationDelay(0)}
	return NewLoop(o, append(base, opts...)...), client
}

func TestLoopCompletesTask(t *testing.T) {
	loop, client := newTestLoop(t, WithMaxIterations(10))
	client.QueueContent("1. Draft the haiku\n2. Review the haiku")
	client.QueueContent("I will draft the haiku first.")
	client.QueueContent("The haiku is drafted. Task completed.")
	client.QueueContent("The task is complete. All requirements fulfilled.")

	final := loop.Start(context.Background(), "Compose a haiku about autumn")

	if final.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", final.Status, StatusCompleted)
	}
	if final.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", final.Iterations)
	}
	if final.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", final.ErrorCount)
	}
	if final.Result == nil || final.Result.Response != "The task is complete. All requirements fulfilled." {
		t.Errorf("Result = %+v, want the review turn", final.Result)
	}
	if client.CallCount() != 4 {
		t.Errorf("CallCount = %d, want 4", client.CallCount())
	}

	plan := loop.Plan()
	if len(plan) != 2 || plan[0] != "1. Draft the haiku" {
		t.Errorf("Plan = %v", plan)
	}

	types := make([]string, 0, len(final.History))
	for _, record := range final.History {
		types = append(types, record.Type)
	}
	want := []string{RecordPlan, RecordPlanning, RecordExecution, RecordReview}
	if len(types) != len(want) {
		t.Fatalf("history types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("history[%d].Type = %q, want %q", i, types[i], want[i])
		}
	}

	// The review prompt is history-free and frames the completion check.
	review := client.GetCalls()[3].Request
	prompt := review.Messages[len(review.Messages)-1].Content
	if !strings.Contains(prompt, "review my work") {
		t.Error("review prompt should frame the completion check")
	}
	if strings.Contains(prompt, "Recent execution history:") {
		t.Error("review prompt should not carry a history window")
	}
}

func TestLoopSingleIteration(t *testing.T) {
	loop, client := newTestLoop(t, WithMaxIterations(1))
	client.QueueContent("1. Gather materials")
	client.QueueContent("Starting with the first step.")

	final := loop.Start(context.Background(), "Assemble the shelf")

	if final.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", final.Iterations)
	}
	if final.Status != StatusExecuting {
		t.Errorf("Status = %q, want %q; one iteration only plans", final.Status, StatusExecuting)
	}
	if client.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", client.CallCount())
	}
}

func TestLoopReviewRestartsExecution(t *testing.T) {
	loop, client := newTestLoop(t, WithMaxIterations(3))
	client.QueueContent("1. Outline\n2. Write")
	client.QueueContent("Outlining now.")
	client.QueueContent("All steps completed.")
	client.QueueContent("Several requirements remain unmet.")

	final := loop.Start(context.Background(), "Write the report")

	// The review rejected completion, so the loop was heading back into
	// execution when the iteration cap ended the run.
	if final.Status != StatusExecuting {
		t.Fatalf("Status = %q, want %q", final.Status, StatusExecuting)
	}
	if final.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", final.Iterations)
	}
	last := final.History[len(final.History)-1]
	if last.Type != RecordReview {
		t.Errorf("last record = %q, want %q", last.Type, RecordReview)
	}
}

func TestLoopRecordsToolOutcome(t *testing.T) {
	reg := tools.NewRegistry()
	failing := canned("web_search", tools.CategorySearch, false, nil)
	failing.ExecuteFunc = func(_ context.Context, _ map[string]any) (*tools.Result, error) {
		return nil, errors.New("connection refused")
	}
	reg.Register(failing)
	client := llm.NewMockClient()
	o := NewOrchestrator(client, tools.NewExecutor(reg, nil))
	loop := NewLoop(o, WithIterationDelay(0), WithMaxIterations(2))

	client.QueueContent("1. Search the archives")
	client.QueueContent("Planning the search.")
	client.QueueContent("Let me search.\n<<TOOL:web_search {\"query\": \"island fox\"}>><<END_TOOL>>")

	final := loop.Start(context.Background(), "Collect island fox sources")

	// A failing tool is an error payload in the record, not a loop fault.
	if final.ErrorCount != 0 {
		t.Fatalf("ErrorCount = %d, want 0", final.ErrorCount)
	}
	if final.Status != StatusExecuting {
		t.Errorf("Status = %q, want %q", final.Status, StatusExecuting)
	}

	history := final.History
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[2].Type != RecordToolCall || !strings.Contains(history[2].Content, "Tool: web_search") {
		t.Errorf("history[2] = %+v, want the tool call record", history[2])
	}
	if history[3].Type != RecordToolResult {
		t.Fatalf("history[3].Type = %q, want %q", history[3].Type, RecordToolResult)
	}
	if !strings.Contains(history[3].Content, `"status": "error"`) ||
		!strings.Contains(history[3].Content, "connection refused") {
		t.Errorf("tool result record = %q", history[3].Content)
	}
}

func TestLoopFaultRoutesToRecovery(t *testing.T) {
	o, client := newTestOrchestrator(t)
	calls := 0
	client.WithResponseFunc(func(*llm.Request) (*llm.Response, error) {
		calls++
		switch calls {
		case 1:
			return &llm.Response{Content: "1. Step one"}, nil
		case 2:
			return nil, errors.New("model offline")
		default:
			return &llm.Response{Content: "I will adjust my approach."}, nil
		}
	})

	var snapshots []StatusSnapshot
	loop := NewLoop(o,
		WithIterationDelay(0),
		WithMaxIterations(2),
		WithObserver(func(s StatusSnapshot) { snapshots = append(snapshots, s) }),
	)

	final := loop.Start(context.Background(), "Index the archive")

	if final.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", final.ErrorCount)
	}
	// Recovery routed back to planning; the cap stopped the run there.
	if final.Status != StatusPlanning {
		t.Errorf("Status = %q, want %q", final.Status, StatusPlanning)
	}

	history := final.History
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[1].Type != RecordError || !strings.Contains(history[1].Content, "model offline") {
		t.Errorf("history[1] = %+v, want the fault record", history[1])
	}
	if history[2].Type != RecordRecovery {
		t.Errorf("history[2].Type = %q, want %q", history[2].Type, RecordRecovery)
	}

	// The recovery prompt names the most recent fault.
	recovery := client.GetCalls()[2].Request
	prompt := recovery.Messages[len(recovery.Messages)-1].Content
	if !strings.Contains(prompt, "I encountered an error") {
		t.Error("recovery prompt should frame the fault")
	}
	if !strings.Contains(prompt, "Most recent error:") || !strings.Contains(prompt, "model offline") {
		t.Errorf("recovery prompt should quote the fault, got:\n%s", prompt)
	}

	var faults int
	for _, s := range snapshots {
		if s.Status == "error" {
			faults++
			if !strings.Contains(s.Error, "model offline") {
				t.Errorf("fault snapshot Error = %q", s.Error)
			}
		}
	}
	if faults != 1 {
		t.Errorf("fault snapshots = %d, want 1", faults)
	}
}

func TestLoopFallbackPlan(t *testing.T) {
	loop, client := newTestLoop(t, WithMaxIterations(1))
	client.WithErrorCount(errors.New("model offline"), 1)

	final := loop.Start(context.Background(), "Sort the inbox")

	if final.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1; a failed plan still counts", final.ErrorCount)
	}
	if final.Status == StatusErrorRecovery {
		t.Error("a failed initial plan must not route into recovery")
	}

	plan := loop.Plan()
	want := []string{"Analyze the task", "Execute the task step by step"}
	if len(plan) != 2 || plan[0] != want[0] || plan[1] != want[1] {
		t.Errorf("Plan = %v, want %v", plan, want)
	}
	if final.History[0].Type != RecordPlan ||
		final.History[0].Content != "Analyze the task\nExecute the task step by step" {
		t.Errorf("History[0] = %+v, want the fallback plan record", final.History[0])
	}
}

func TestLoopPhasePromptsCarryHistory(t *testing.T) {
	loop, client := newTestLoop(t, WithMaxIterations(2))
	long := strings.Repeat("b", recordExcerptLimit+60)
	client.QueueContent("1. Draft the outline")
	client.QueueContent(long)
	client.QueueContent("Working on the outline.")

	loop.Start(context.Background(), "Draft the essay")

	planning := client.GetCalls()[1].Request
	planningPrompt := planning.Messages[len(planning.Messages)-1].Content
	if !strings.Contains(planningPrompt, "I am working on this task: Draft the essay") {
		t.Error("planning prompt should name the task")
	}
	if !strings.Contains(planningPrompt, "Current iteration: 1") {
		t.Error("planning prompt should carry the iteration number")
	}
	if !strings.Contains(planningPrompt, "Recent execution history:") ||
		!strings.Contains(planningPrompt, "- plan: 1. Draft the outline...") {
		t.Errorf("planning prompt should render the history window, got:\n%s", planningPrompt)
	}

	execution := client.GetCalls()[2].Request
	executionPrompt := execution.Messages[len(execution.Messages)-1].Content
	if !strings.Contains(executionPrompt, "execute the next step") {
		t.Error("execution prompt should frame the step")
	}
	// Record excerpts are clipped before entering the prompt.
	if !strings.Contains(executionPrompt, strings.Repeat("b", recordExcerptLimit)+"...") {
		t.Error("execution prompt should carry the clipped planning record")
	}
	if strings.Contains(executionPrompt, strings.Repeat("b", recordExcerptLimit+1)) {
		t.Error("execution prompt should not carry the full record")
	}
}

func TestLoopObserverSnapshots(t *testing.T) {
	var snapshots []StatusSnapshot
	loop, client := newTestLoop(t,
		WithMaxIterations(10),
		WithObserver(func(s StatusSnapshot) { snapshots = append(snapshots, s) }),
	)
	client.QueueContent("1. Draft\n2. Review")
	client.QueueContent("Drafting first.")
	client.QueueContent("Draft done. Task completed.")
	client.QueueContent("The task is complete.")

	loop.Start(context.Background(), "Compose a haiku about autumn")

	if len(snapshots) != 4 {
		t.Fatalf("snapshots = %d, want 3 iteration starts plus the final", len(snapshots))
	}
	wantPhases := []string{StatusPlanning, StatusExecuting, StatusReviewing}
	for i, phase := range wantPhases {
		if snapshots[i].Status != phase || snapshots[i].Iteration != i+1 {
			t.Errorf("snapshots[%d] = %+v, want %s/%d", i, snapshots[i], phase, i+1)
		}
		if snapshots[i].Final {
			t.Errorf("snapshots[%d] should not be final", i)
		}
	}
	last := snapshots[3]
	if !last.Final || last.Status != StatusCompleted {
		t.Errorf("final snapshot = %+v", last)
	}
	if last.Result == nil || last.Result.Response != "The task is complete." {
		t.Error("final snapshot should carry the last turn result")
	}
}

func TestLoopObserverPanicContained(t *testing.T) {
	loop, client := newTestLoop(t,
		WithMaxIterations(10),
		WithObserver(func(StatusSnapshot) { panic("bad observer") }),
	)
	client.QueueContent("1. Draft")
	client.QueueContent("Drafting.")
	client.QueueContent("Task completed.")
	client.QueueContent("The task is complete.")

	final := loop.Start(context.Background(), "Compose a haiku about autumn")

	if final.Status != StatusCompleted {
		t.Fatalf("Status = %q; a panicking observer must not derail the loop", final.Status)
	}
}

func TestLoopStallRecoverable(t *testing.T) {
	loop, _ := newTestLoop(t)
	loop.reset("probe")
	loop.mu.Lock()
	loop.lastProgress = time.Now().Add(-10 * time.Minute)
	loop.mu.Unlock()

	if !loop.shouldContinue(context.Background()) {
		t.Fatal("a recoverable stall should not stop the loop")
	}
	if loop.Status() != StatusErrorRecovery {
		t.Errorf("Status = %q, want %q", loop.Status(), StatusErrorRecovery)
	}
	if loop.ErrorCount() != 1 {
		t.Errorf("ErrorCount = %d, want 1", loop.ErrorCount())
	}

	history := loop.History()
	if len(history) != 1 || history[0].Type != RecordError {
		t.Fatalf("history = %+v, want one fault record", history)
	}
	if !strings.Contains(history[0].Content, "Execution stalled - no progress detected for 5 minutes") {
		t.Errorf("stall record = %q", history[0].Content)
	}
}

func TestLoopStallPermanentStop(t *testing.T) {
	loop, _ := newTestLoop(t)
	loop.reset("probe")
	loop.mu.Lock()
	loop.status = StatusErrorRecovery
	loop.errorCount = 6
	loop.lastProgress = time.Now().Add(-10 * time.Minute)
	loop.mu.Unlock()

	if loop.shouldContinue(context.Background()) {
		t.Fatal("a stall during failing recovery must stop the loop")
	}
	if loop.ErrorCount() != 6 {
		t.Errorf("ErrorCount = %d; the stop path must not add a fault", loop.ErrorCount())
	}
	if len(loop.History()) != 0 {
		t.Error("the stop path must not append a record")
	}
}

func TestLoopStalledRunStops(t *testing.T) {
	o, client := newTestOrchestrator(t)
	client.WithError(errors.New("model offline"))
	loop := NewLoop(o,
		WithIterationDelay(0),
		WithStallWindow(time.Nanosecond),
		WithMaxIterations(50),
	)

	final := loop.Start(context.Background(), "Index the archive")

	if final.Status != StatusErrorRecovery {
		t.Fatalf("Status = %q, want %q", final.Status, StatusErrorRecovery)
	}
	if final.ErrorCount <= 5 {
		t.Errorf("ErrorCount = %d, want above the recovery threshold", final.ErrorCount)
	}
	if final.Iterations >= 50 {
		t.Errorf("Iterations = %d; the stall rule should stop well before the cap", final.Iterations)
	}

	var stalls int
	for _, record := range final.History {
		if record.Type == RecordError && strings.Contains(record.Content, "Execution stalled") {
			stalls++
		}
	}
	if stalls == 0 {
		t.Error("history should carry at least one stall record")
	}
}

func TestLoopContextCancelledBeforeStart(t *testing.T) {
	loop, _ := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final := loop.Start(ctx, "Sort the inbox")

	if final.Iterations != 0 {
		t.Fatalf("Iterations = %d, want 0", final.Iterations)
	}
	if final.Status != StatusPlanning {
		t.Errorf("Status = %q, want %q", final.Status, StatusPlanning)
	}
}

func TestLoopContextCancelMidRun(t *testing.T) {
	o, client := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	client.WithResponseFunc(func(*llm.Request) (*llm.Response, error) {
		calls++
		switch calls {
		case 1:
			return &llm.Response{Content: "1. Step one"}, nil
		case 2:
			return &llm.Response{Content: "Thinking it through."}, nil
		default:
			cancel()
			return &llm.Response{Content: "Working on step one."}, nil
		}
	})
	loop := NewLoop(o, WithIterationDelay(0), WithMaxIterations(10))

	final := loop.Start(ctx, "Sort the inbox")

	// Cancellation lands at the iteration boundary, after the turn that
	// triggered it is fully recorded.
	if final.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", final.Iterations)
	}
	if final.Status != StatusExecuting {
		t.Errorf("Status = %q, want %q", final.Status, StatusExecuting)
	}
	if final.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", final.ErrorCount)
	}
	last := final.History[len(final.History)-1]
	if last.Type != RecordExecution || last.Content != "Working on step one." {
		t.Errorf("last record = %+v", last)
	}
}

func TestLoopUnknownStatusResets(t *testing.T) {
	loop, client := newTestLoop(t)
	loop.reset("probe")
	loop.transition("limbo", true)

	loop.executeIteration(context.Background())

	if loop.Status() != StatusPlanning {
		t.Errorf("Status = %q, want %q", loop.Status(), StatusPlanning)
	}
	if client.CallCount() != 0 {
		t.Errorf("CallCount = %d; the reset path must not spend a completion", client.CallCount())
	}
}

func TestLoopFlagSourceReread(t *testing.T) {
	o, client := newTestOrchestrator(t)
	reads := 0
	loop := NewLoop(o,
		WithIterationDelay(0),
		WithMaxIterations(2),
		WithFlagSource(func() Flags {
			reads++
			return Flags{}
		}),
	)
	client.QueueContent("1. Step one")
	client.QueueContent("Thinking.")
	client.QueueContent("Working.")

	loop.Start(context.Background(), "Sort the inbox")

	if reads != 2 {
		t.Errorf("flag source reads = %d, want one per iteration", reads)
	}
	if o.Flags().AutoDetectTools {
		t.Error("the loop should have applied the sourced flags")
	}
}
