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
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/kodiak/services/assistant/agent/planner"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

const managerTestTimeout = 5 * time.Second

// queueLifecycle loads the full scripted run of one task: hierarchical
// planning (one component, two steps), the flat plan, and three loop
// iterations ending in completion.
func queueLifecycle(client *llm.MockClient) {
	client.QueueContent("1. Research the subject")
	client.QueueContent("1. Find sources\n2. Take notes")
	client.QueueContent("1. Work the plan")
	client.QueueContent("Starting work.")
	client.QueueContent("All steps completed.")
	client.QueueContent("The task is complete.")
}

// planScript answers completions by prompt content, so planner, loop,
// and adaptation calls stay unambiguous even when tasks interleave.
func planScript() func(*llm.Request) (*llm.Response, error) {
	return func(req *llm.Request) (*llm.Response, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		switch {
		case strings.Contains(prompt, "break this down into major components"):
			return &llm.Response{Content: "1. Research the subject"}, nil
		case strings.Contains(prompt, "detailed plan for this component"):
			return &llm.Response{Content: "1. Find sources\n2. Take notes"}, nil
		case strings.Contains(prompt, "step-by-step plan to accomplish this task"):
			return &llm.Response{Content: "1. Work the plan"}, nil
		case strings.Contains(prompt, "Assess the current state"):
			return &llm.Response{Content: "Planning next move."}, nil
		case strings.Contains(prompt, "execute the next step in my plan"):
			return &llm.Response{Content: "<<TOOL:gate {}>><<END_TOOL>>"}, nil
		case strings.Contains(prompt, "adapt my plan"):
			return &llm.Response{Content: "Add a follow-up component."}, nil
		default:
			return &llm.Response{Content: "Mock response"}, nil
		}
	}
}

// gateExecutor returns an executor whose only tool parks execution-phase
// iterations until release closes, so tests can act on a mid-run task.
// The tool reports reaching the gate on the reached channel.
func gateExecutor(reached chan struct{}, release <-chan struct{}) *tools.Executor {
	gate := tools.NewMockTool("gate", tools.CategorySearch)
	gate.WithDefinition(tools.ToolDefinition{
		Name:        "gate",
		Description: "Blocks until released.",
		Category:    tools.CategorySearch,
		Parameters:  map[string]tools.ParamDef{},
		SideEffects: true,
	})
	gate.ExecuteFunc = func(ctx context.Context, _ map[string]any) (*tools.Result, error) {
		select {
		case reached <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return &tools.Result{Success: true, Output: map[string]any{"ok": true}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	reg := tools.NewRegistry()
	reg.Register(gate)
	return tools.NewExecutor(reg, nil)
}

func waitDone(t *testing.T, m *Manager, id string) {
	t.Helper()
	done, err := m.Done(id)
	if err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(managerTestTimeout):
		t.Fatal("timed out waiting for the task")
	}
}

func TestManagerStartTaskEmpty(t *testing.T) {
	m := NewManager(llm.NewMockClient(), newTestExecutor())

	if _, err := m.StartTask("   "); !errors.Is(err, ErrEmptyTask) {
		t.Fatalf("StartTask() error = %v, want ErrEmptyTask", err)
	}
}

func TestManagerUnknownTask(t *testing.T) {
	m := NewManager(llm.NewMockClient(), newTestExecutor())

	if _, err := m.Get("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get() error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.Done("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Done() error = %v, want ErrTaskNotFound", err)
	}
	if _, _, err := m.Subscribe("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Subscribe() error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.PlanHistory("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("PlanHistory() error = %v, want ErrTaskNotFound", err)
	}
	if err := m.Stop("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Stop() error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.AdaptTask(context.Background(), "missing", "feedback"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("AdaptTask() error = %v, want ErrTaskNotFound", err)
	}
}

func TestManagerRunsTaskToCompletion(t *testing.T) {
	client := llm.NewMockClient()
	queueLifecycle(client)
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)))

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, id)

	snap, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !snap.Done {
		t.Error("Done = false after the done channel closed")
	}
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", snap.Status, StatusCompleted)
	}
	if snap.Iteration != 3 {
		t.Errorf("Iteration = %d, want 3", snap.Iteration)
	}
	if snap.Task != "Catalogue the archive boxes" {
		t.Errorf("Task = %q", snap.Task)
	}
	if snap.Result == nil || snap.Result.Status != StatusCompleted {
		t.Errorf("Result = %+v, want the completed final result", snap.Result)
	}

	// One executing iteration marked one of the two planned steps done.
	if snap.Progress != 0.5 {
		t.Errorf("Progress = %v, want 0.5", snap.Progress)
	}
	if snap.Plan.Status != planner.SummaryActive {
		t.Errorf("Plan.Status = %q, want %q", snap.Plan.Status, planner.SummaryActive)
	}
	if len(snap.Plan.Components) != 1 || snap.Plan.Components[0].TotalSteps != 2 {
		t.Errorf("Plan.Components = %+v", snap.Plan.Components)
	}
	if snap.Plan.Components[0].CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1", snap.Plan.Components[0].CompletedSteps)
	}

	events, err := m.PlanHistory(id)
	if err != nil {
		t.Fatalf("PlanHistory() error = %v", err)
	}
	if len(events) != 1 || events[0].Type != planner.EventCreated {
		t.Errorf("PlanHistory = %+v, want one creation event", events)
	}
}

func TestManagerTaskDefaultsApplied(t *testing.T) {
	client := llm.NewMockClient()
	client.QueueContent("1. Research the subject")
	client.QueueContent("1. Find sources\n2. Take notes")
	client.QueueContent("1. Work the plan")
	client.QueueContent("Starting work.")
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(1)))

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, id)

	snap, _ := m.Get(id)
	if snap.Iteration != 1 {
		t.Errorf("Iteration = %d, want the default cap of 1", snap.Iteration)
	}
	if snap.Status != StatusExecuting {
		t.Errorf("Status = %q, want %q", snap.Status, StatusExecuting)
	}
}

func TestManagerList(t *testing.T) {
	client := llm.NewMockClient()
	queueLifecycle(client)
	queueLifecycle(client)
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)))

	first, err := m.StartTask("First errand")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, first)

	second, err := m.StartTask("Second errand")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, second)

	snaps := m.List()
	if len(snaps) != 2 {
		t.Fatalf("List() length = %d, want 2", len(snaps))
	}
	if snaps[0].ID != first || snaps[1].ID != second {
		t.Errorf("List() order = [%s, %s], want oldest first", snaps[0].ID, snaps[1].ID)
	}
	for _, snap := range snaps {
		if !snap.Done {
			t.Errorf("task %s should be done", snap.ID)
		}
	}
}

func TestManagerSubscribe(t *testing.T) {
	reached := make(chan struct{}, 1)
	release := make(chan struct{})
	client := llm.NewMockClient()
	client.WithResponseFunc(planScript())
	m := NewManager(client, gateExecutor(reached, release),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(2)))

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}

	select {
	case <-reached:
	case <-time.After(managerTestTimeout):
		t.Fatal("task never reached the gate")
	}

	// The task is parked mid-execution, so these subscriptions attach to
	// a live task.
	ch, _, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	ch2, cancel2, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel2()
	cancel2() // cancelling twice is harmless
	if _, ok := <-ch2; ok {
		t.Error("a cancelled subscription should read closed")
	}

	snap, _ := m.Get(id)
	if snap.Done || snap.Status != StatusExecuting {
		t.Errorf("mid-run snapshot = %+v", snap)
	}

	close(release)
	waitDone(t, m, id)

	var got []StatusSnapshot
collect:
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				break collect
			}
			got = append(got, s)
		case <-time.After(managerTestTimeout):
			t.Fatal("timed out waiting for snapshots")
		}
	}

	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want only the final one", len(got))
	}
	if !got[0].Final || got[0].Status != StatusExecuting {
		t.Errorf("final snapshot = %+v", got[0])
	}
	if got[0].Result == nil {
		t.Error("final snapshot should carry the last turn result")
	}
}

func TestManagerSubscribeFinished(t *testing.T) {
	client := llm.NewMockClient()
	queueLifecycle(client)
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)))

	id, _ := m.StartTask("Catalogue the archive boxes")
	waitDone(t, m, id)

	ch, cancel, err := m.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("subscribing to a finished task should read closed")
	}
}

func TestManagerAdaptTask(t *testing.T) {
	reached := make(chan struct{}, 1)
	release := make(chan struct{})
	client := llm.NewMockClient()
	client.WithResponseFunc(planScript())
	m := NewManager(client, gateExecutor(reached, release),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(2)))

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	select {
	case <-reached:
	case <-time.After(managerTestTimeout):
		t.Fatal("task never reached the gate")
	}

	plan, err := m.AdaptTask(context.Background(), id, "Cover the edge cases")
	if err != nil {
		t.Fatalf("AdaptTask() error = %v", err)
	}
	if len(plan.Components) != 2 {
		t.Fatalf("Components = %d, want 2", len(plan.Components))
	}
	if !strings.HasPrefix(plan.Components[1].Name, "Adaptation: ") {
		t.Errorf("Components[1].Name = %q", plan.Components[1].Name)
	}
	if len(plan.Components[1].Steps) != 2 {
		t.Errorf("adaptation steps = %v", plan.Components[1].Steps)
	}

	events, err := m.PlanHistory(id)
	if err != nil {
		t.Fatalf("PlanHistory() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("PlanHistory length = %d, want 2", len(events))
	}
	adaptation := events[1]
	if adaptation.Type != planner.EventAdaptation || adaptation.Feedback != "Cover the edge cases" {
		t.Errorf("adaptation event = %+v", adaptation)
	}
	if adaptation.Before == nil || adaptation.After == nil {
		t.Fatal("adaptation event should carry before and after snapshots")
	}
	if len(adaptation.After.Components) != len(adaptation.Before.Components)+1 {
		t.Error("adaptation should have added exactly one component")
	}
	if adaptation.Diff == nil || adaptation.Diff.LinesAdded == 0 {
		t.Errorf("adaptation diff = %+v, want added lines", adaptation.Diff)
	}

	close(release)
	waitDone(t, m, id)

	if _, err := m.AdaptTask(context.Background(), id, "too late"); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("AdaptTask() after finish error = %v, want ErrTaskFinished", err)
	}
}

func TestManagerStop(t *testing.T) {
	reached := make(chan struct{}, 1)
	release := make(chan struct{})
	client := llm.NewMockClient()
	client.WithResponseFunc(planScript())
	m := NewManager(client, gateExecutor(reached, release),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)))

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	select {
	case <-reached:
	case <-time.After(managerTestTimeout):
		t.Fatal("task never reached the gate")
	}

	// Cancellation unparks the gate tool through its context; the loop
	// then observes the cancel at the iteration boundary.
	if err := m.Stop(id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitDone(t, m, id)

	snap, _ := m.Get(id)
	if !snap.Done || snap.Status != StatusExecuting {
		t.Errorf("stopped snapshot = %+v", snap)
	}
	if err := m.Stop(id); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("Stop() after finish error = %v, want ErrTaskFinished", err)
	}
}

func TestManagerShutdown(t *testing.T) {
	reached := make(chan struct{}, 2)
	release := make(chan struct{})
	client := llm.NewMockClient()
	client.WithResponseFunc(planScript())
	m := NewManager(client, gateExecutor(reached, release),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)))

	first, err := m.StartTask("First errand")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	second, err := m.StartTask("Second errand")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-reached:
		case <-time.After(managerTestTimeout):
			t.Fatal("tasks never reached the gate")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), managerTestTimeout)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for _, id := range []string{first, second} {
		snap, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if !snap.Done {
			t.Errorf("task %s should be done after shutdown", id)
		}
	}
}

func TestManagerObserverBroadcast(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	var snaps []StatusSnapshot

	client := llm.NewMockClient()
	queueLifecycle(client)
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)),
		WithManagerObserver(func(taskID string, snapshot StatusSnapshot) {
			mu.Lock()
			defer mu.Unlock()
			ids = append(ids, taskID)
			snaps = append(snaps, snapshot)
		}),
	)

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, id)

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 4 {
		t.Fatalf("broadcast snapshots = %d, want 3 iteration starts plus the final", len(snaps))
	}
	for i, got := range ids {
		if got != id {
			t.Errorf("ids[%d] = %q, want %q", i, got, id)
		}
	}
	last := snaps[len(snaps)-1]
	if !last.Final || last.Status != StatusCompleted {
		t.Errorf("last broadcast = %+v", last)
	}
}

func TestManagerFlagSource(t *testing.T) {
	var mu sync.Mutex
	reads := 0

	client := llm.NewMockClient()
	queueLifecycle(client)
	m := NewManager(client, newTestExecutor(),
		WithTaskDefaults(WithIterationDelay(0), WithMaxIterations(10)),
		WithManagerFlagSource(func() Flags {
			mu.Lock()
			defer mu.Unlock()
			reads++
			return DefaultFlags()
		}),
	)

	id, err := m.StartTask("Catalogue the archive boxes")
	if err != nil {
		t.Fatalf("StartTask() error = %v", err)
	}
	waitDone(t, m, id)

	mu.Lock()
	defer mu.Unlock()
	// Once at task construction, then once per iteration boundary.
	if reads != 4 {
		t.Errorf("flag source reads = %d, want 4", reads)
	}
}
