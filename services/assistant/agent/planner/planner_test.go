// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

func newTestPlanner(t *testing.T) (*Planner, *llm.MockClient) {
	t.Helper()
	client := llm.NewMockClient()
	return NewPlanner(client, nil), client
}

// queueStandardPlan queues a two component breakdown: three research
// steps and two writing steps.
func queueStandardPlan(client *llm.MockClient) {
	client.QueueContent("1. Research: gather background\n2. Write: draft the report")
	client.QueueContent("1. Find sources\n2. Take notes\n3. Organize findings")
	client.QueueContent("1. Outline\n2. Draft")
}

const (
	researchComponent = "Component 1: 1. Research"
	writeComponent    = "Component 2: 1. Write"
)

func TestCreatePlan(t *testing.T) {
	p, client := newTestPlanner(t)
	queueStandardPlan(client)

	plan, err := p.CreatePlan(context.Background(), "Write a market report")
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if got := client.CallCount(); got != 3 {
		t.Errorf("CallCount = %d, want 3", got)
	}
	if len(plan.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(plan.Components))
	}
	if plan.Components[0].Name != researchComponent {
		t.Errorf("first component name = %q, want %q", plan.Components[0].Name, researchComponent)
	}
	if plan.Components[1].Name != writeComponent {
		t.Errorf("second component name = %q, want %q", plan.Components[1].Name, writeComponent)
	}
	wantSteps := []string{"1. Find sources", "2. Take notes", "3. Organize findings"}
	if !reflect.DeepEqual(plan.Components[0].Steps, wantSteps) {
		t.Errorf("research steps = %#v, want %#v", plan.Components[0].Steps, wantSteps)
	}
	if plan.Task != "Write a market report" {
		t.Errorf("task = %q", plan.Task)
	}
	if plan.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	status := p.GetExecutionStatus()
	if status.OverallProgress != 0 {
		t.Errorf("overall progress = %v, want 0", status.OverallProgress)
	}
	cs, ok := status.Components[researchComponent]
	if !ok {
		t.Fatalf("no status for %q", researchComponent)
	}
	if cs.Status != StatusPending || cs.TotalSteps != 3 {
		t.Errorf("research status = %+v, want pending with 3 steps", cs)
	}
	if err := client.Verify(); err != nil {
		t.Error(err)
	}
}

func TestCreatePlanRequestShape(t *testing.T) {
	p, client := newTestPlanner(t)
	queueStandardPlan(client)

	if _, err := p.CreatePlan(context.Background(), "Write a market report"); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	calls := client.GetCalls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}

	first := calls[0].Request
	if first.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", first.Temperature)
	}
	if first.MaxTokens != 1000 {
		t.Errorf("max tokens = %d, want 1000", first.MaxTokens)
	}
	if first.SystemPrompt != "" {
		t.Errorf("unexpected system prompt %q", first.SystemPrompt)
	}
	if len(first.Messages) != 1 || first.Messages[0].Role != llm.RoleUser {
		t.Fatalf("messages = %+v, want a single user message", first.Messages)
	}
	prompt := first.Messages[0].Content
	if !strings.Contains(prompt, "hierarchical plan for this task") {
		t.Errorf("high-level prompt missing framing: %q", prompt)
	}
	if !strings.Contains(prompt, "Write a market report") {
		t.Errorf("high-level prompt missing task: %q", prompt)
	}

	detail := calls[1].Request.Messages[0].Content
	if !strings.Contains(detail, "detailed plan for this component") {
		t.Errorf("detail prompt missing framing: %q", detail)
	}
	if !strings.Contains(detail, "1. Research: gather background") {
		t.Errorf("detail prompt missing component text: %q", detail)
	}
}

func TestCreatePlanEmptyReply(t *testing.T) {
	p, client := newTestPlanner(t)
	client.QueueContent("   \n  ")

	_, err := p.CreatePlan(context.Background(), "task")
	if !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("err = %v, want ErrEmptyPlan", err)
	}
	if summary := p.GetPlanSummary(); summary.Status != SummaryNoPlan {
		t.Errorf("summary status = %q, want %q", summary.Status, SummaryNoPlan)
	}
}

func TestCreatePlanCompletionError(t *testing.T) {
	p, client := newTestPlanner(t)
	client.WithError(errors.New("model offline"))

	if _, err := p.CreatePlan(context.Background(), "task"); err == nil {
		t.Fatal("expected error")
	}
	if summary := p.GetPlanSummary(); summary.Status != SummaryNoPlan {
		t.Errorf("summary status = %q, want %q", summary.Status, SummaryNoPlan)
	}
}

func TestGetNextActionWithoutPlan(t *testing.T) {
	p, _ := newTestPlanner(t)

	action := p.GetNextAction()
	if action.Type != ActionCreatePlan {
		t.Errorf("type = %q, want %q", action.Type, ActionCreatePlan)
	}
	if action.Message != "No plan exists. Create a plan first." {
		t.Errorf("message = %q", action.Message)
	}
}

func TestNextActionLifecycle(t *testing.T) {
	p, client := newTestPlanner(t)
	queueStandardPlan(client)
	if _, err := p.CreatePlan(context.Background(), "Write a market report"); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	// First action promotes the research component and selects step 0.
	action := p.GetNextAction()
	if action.Type != ActionExecuteStep || action.Component != researchComponent {
		t.Fatalf("action = %+v, want execute_step on research", action)
	}
	if action.StepIndex != 0 || action.Step != "1. Find sources" {
		t.Errorf("step = %d %q", action.StepIndex, action.Step)
	}
	if got := p.GetExecutionStatus().Components[researchComponent].Status; got != StatusInProgress {
		t.Errorf("research status = %q, want in_progress", got)
	}

	// Walk the research component to completion.
	p.UpdateStepStatus(researchComponent, 0, true)
	if action = p.GetNextAction(); action.StepIndex != 1 || action.Step != "2. Take notes" {
		t.Fatalf("action = %+v, want step 1", action)
	}
	p.UpdateStepStatus(researchComponent, 1, true)
	p.UpdateStepStatus(researchComponent, 2, true)

	action = p.GetNextAction()
	if action.Type != ActionComponentCompleted || action.Component != researchComponent {
		t.Fatalf("action = %+v, want component_completed on research", action)
	}
	status := p.GetExecutionStatus()
	if got := status.Components[researchComponent]; got.Status != StatusCompleted || got.Progress != 1.0 {
		t.Errorf("research status = %+v, want completed at 1.0", got)
	}
	if status.OverallProgress != 0.5 {
		t.Errorf("overall = %v, want 0.5", status.OverallProgress)
	}

	// The writing component is promoted next.
	action = p.GetNextAction()
	if action.Type != ActionExecuteStep || action.Component != writeComponent || action.StepIndex != 0 {
		t.Fatalf("action = %+v, want execute_step on writing", action)
	}

	// One of two writing steps done: 1.0 and 0.5 average to 0.75.
	p.UpdateStepStatus(writeComponent, 0, true)
	if got := p.GetExecutionStatus().OverallProgress; got != 0.75 {
		t.Errorf("overall = %v, want 0.75", got)
	}

	p.UpdateStepStatus(writeComponent, 1, true)
	if action = p.GetNextAction(); action.Type != ActionComponentCompleted {
		t.Fatalf("action = %+v, want component_completed", action)
	}
	if got := p.GetExecutionStatus().OverallProgress; got != 1.0 {
		t.Errorf("overall = %v, want 1.0", got)
	}

	action = p.GetNextAction()
	if action.Type != ActionPlanCompleted {
		t.Fatalf("action = %+v, want plan_completed", action)
	}
	if action.Message != "All components in the plan are completed." {
		t.Errorf("message = %q", action.Message)
	}
}

func TestUpdateStepStatusFailureKeepsStep(t *testing.T) {
	p, client := newTestPlanner(t)
	queueStandardPlan(client)
	if _, err := p.CreatePlan(context.Background(), "Write a market report"); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	first := p.GetNextAction()

	p.UpdateStepStatus(first.Component, first.StepIndex, false)

	status := p.GetExecutionStatus().Components[first.Component]
	if status.StepsCompleted != 0 || status.CurrentStep != 0 || status.Progress != 0 {
		t.Errorf("status = %+v, want untouched counters", status)
	}
	retry := p.GetNextAction()
	if retry.Type != ActionExecuteStep || retry.StepIndex != first.StepIndex {
		t.Errorf("retry action = %+v, want the same step again", retry)
	}
}

func TestUpdateStepStatusUnknownComponent(t *testing.T) {
	p, client := newTestPlanner(t)
	queueStandardPlan(client)
	if _, err := p.CreatePlan(context.Background(), "Write a market report"); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	p.UpdateStepStatus("Component 9: ghost", 0, true)

	if got := p.GetExecutionStatus().OverallProgress; got != 0 {
		t.Errorf("overall = %v, want 0 after unknown component update", got)
	}
}

func TestGetPlanSummary(t *testing.T) {
	p, client := newTestPlanner(t)

	if summary := p.GetPlanSummary(); summary.Status != SummaryNoPlan {
		t.Fatalf("summary status = %q, want %q", summary.Status, SummaryNoPlan)
	}

	queueStandardPlan(client)
	if _, err := p.CreatePlan(context.Background(), "Write a market report"); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	summary := p.GetPlanSummary()
	if summary.Status != SummaryActive {
		t.Errorf("status = %q, want %q", summary.Status, SummaryActive)
	}
	if summary.Task != "Write a market report" {
		t.Errorf("task = %q", summary.Task)
	}
	if len(summary.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(summary.Components))
	}
	if summary.Components[0].Name != researchComponent || summary.Components[1].Name != writeComponent {
		t.Errorf("component order = %q, %q", summary.Components[0].Name, summary.Components[1].Name)
	}
	if got := summary.Components[0]; got.TotalSteps != 3 || got.Status != StatusPending {
		t.Errorf("research summary = %+v", got)
	}
	if summary.HistoryLength != 1 {
		t.Errorf("history length = %d, want 1", summary.HistoryLength)
	}
	if summary.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}
