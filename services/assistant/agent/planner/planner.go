// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner decomposes a task into tracked components and steps.
//
// The planner asks the completion model for a numbered component
// breakdown, then for a numbered step breakdown per component, and
// tracks execution over the result: which component is in progress,
// which step runs next, per-component progress, and the overall mean.
// Plans adapt additively: feedback appends a timestamp-named component,
// never removes or rewrites existing ones, and every adaptation records
// a before/after snapshot plus a unified diff of the plan text.
//
// Thread Safety:
//
//	Planner is safe for concurrent use. Completion calls are made
//	outside the state lock.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

// Component statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
)

// Action types returned by GetNextAction.
const (
	ActionCreatePlan         = "create_plan"
	ActionExecuteStep        = "execute_step"
	ActionComponentCompleted = "component_completed"
	ActionPlanCompleted      = "plan_completed"
)

// Plan summary statuses.
const (
	SummaryActive = "active"
	SummaryNoPlan = "no_plan"
)

// Advisory completions use the assistant's conversational defaults.
const (
	planTemperature = 0.7
	planMaxTokens   = 1000
)

// Sentinel errors.
var (
	// ErrNoPlan indicates an operation that requires a current plan.
	ErrNoPlan = errors.New("planner: no current plan")

	// ErrEmptyPlan indicates the model reply contained no numbered items.
	ErrEmptyPlan = errors.New("planner: response contained no plan items")
)

// Plan is a task decomposition into ordered components.
type Plan struct {
	// Task is the original task description.
	Task string `json:"task"`

	// Components are ordered; adaptation appends, nothing removes.
	Components []Component `json:"components"`

	// CreatedAt is when the plan was first generated.
	CreatedAt time.Time `json:"created_at"`
}

// Component is a named group of ordered steps.
type Component struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// ComponentStatus tracks execution progress for one component.
type ComponentStatus struct {
	Progress       float64 `json:"progress"`
	StepsCompleted int     `json:"steps_completed"`
	TotalSteps     int     `json:"total_steps"`
	CurrentStep    int     `json:"current_step"`
	Status         string  `json:"status"`
}

// ExecutionStatus is a snapshot of plan execution.
type ExecutionStatus struct {
	Task            string                     `json:"task"`
	OverallProgress float64                    `json:"overall_progress"`
	Components      map[string]ComponentStatus `json:"components"`
	HistoryLength   int                        `json:"history_length"`
}

// ComponentSummary is the per-component slice of a plan summary.
type ComponentSummary struct {
	Name           string  `json:"name"`
	TotalSteps     int     `json:"total_steps"`
	CompletedSteps int     `json:"completed_steps"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
}

// PlanSummary is a read-only view of the current plan.
type PlanSummary struct {
	Status          string             `json:"status"`
	Task            string             `json:"task,omitempty"`
	OverallProgress float64            `json:"overall_progress"`
	Components      []ComponentSummary `json:"components,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	HistoryLength   int                `json:"history_length"`
}

// Action is the next thing the execution loop should do.
type Action struct {
	Type      string `json:"type"`
	Component string `json:"component,omitempty"`
	StepIndex int    `json:"step_index"`
	Step      string `json:"step,omitempty"`
	Message   string `json:"message,omitempty"`
}

// PlanEvent records a plan creation or adaptation in the history log.
type PlanEvent struct {
	// Type is "created" or "adaptation".
	Type string `json:"type"`

	// Feedback is the adaptation input. Empty for creation events.
	Feedback string `json:"feedback,omitempty"`

	// Before is a deep snapshot of the plan before the change. Nil for
	// creation events.
	Before *Plan `json:"before,omitempty"`

	// After is a deep snapshot of the plan after the change.
	After *Plan `json:"after,omitempty"`

	// Diff describes the change between Before and After.
	Diff *PlanDiff `json:"diff,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Event types in the plan history.
const (
	EventCreated    = "created"
	EventAdaptation = "adaptation"
)

const highLevelPromptTemplate = `I need to create a hierarchical plan for this task:

%s

First, I'll break this down into major components or phases.
For each component:
1. Provide a clear name and description
2. Identify the key objectives
3. List any dependencies on other components

Format the response as a numbered list of components.`

const detailedPromptTemplate = `I'm working on this overall task:

%s

I need to create a detailed plan for this component:

%s

Please provide a step-by-step plan that:
1. Breaks down the component into specific, actionable steps
2. Identifies any tools or resources needed for each step
3. Specifies how to verify each step is completed correctly
4. Anticipates potential challenges and how to address them

Format the response as a numbered list of steps.`

// Planner generates and tracks hierarchical task plans.
//
// Description:
//
//	A Planner owns at most one current plan. CreatePlan replaces it,
//	AdaptPlan grows it, and GetNextAction/UpdateStepStatus drive
//	execution over it. Every structural change is recorded in an
//	append-only history of PlanEvents.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Planner struct {
	mu     sync.Mutex
	client llm.Client
	logger *slog.Logger

	plan    *Plan
	status  map[string]*ComponentStatus
	overall float64
	history []PlanEvent
}

// NewPlanner creates a planner backed by the given completion client.
//
// Inputs:
//
//	client - Completion client for plan generation.
//	logger - Logger for planning events (nil for default).
func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		client: client,
		logger: logger,
		status: make(map[string]*ComponentStatus),
	}
}

// CreatePlan generates a hierarchical plan for a task.
//
// Description:
//
//	Requests a numbered component breakdown for the task, then a
//	numbered step breakdown per component, and installs the result as
//	the current plan with all components pending. The previous plan,
//	if any, is replaced.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	task - The task description.
//
// Outputs:
//
//	*Plan - Deep copy of the installed plan.
//	error - Non-nil if a completion failed or no components parsed.
//	        ErrEmptyPlan means the reply had no numbered items; callers
//	        typically substitute a fallback plan.
func (p *Planner) CreatePlan(ctx context.Context, task string) (*Plan, error) {
	p.logger.Info("creating hierarchical plan", slog.String("task", task))

	reply, err := p.complete(ctx, fmt.Sprintf(highLevelPromptTemplate, task))
	if err != nil {
		return nil, fmt.Errorf("high-level plan: %w", err)
	}

	items := ParseNumberedList(reply)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyPlan, firstLine(reply))
	}

	components := make([]Component, 0, len(items))
	for i, item := range items {
		name := componentName(i, item)
		steps, err := p.detailedSteps(ctx, item, task)
		if err != nil {
			return nil, fmt.Errorf("detailed plan for %s: %w", name, err)
		}
		components = append(components, Component{Name: name, Steps: steps})
	}

	plan := &Plan{
		Task:       task,
		Components: components,
		CreatedAt:  time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.plan = plan
	p.status = make(map[string]*ComponentStatus, len(components))
	for _, c := range components {
		p.status[c.Name] = &ComponentStatus{
			TotalSteps: len(c.Steps),
			Status:     StatusPending,
		}
	}
	p.overall = 0
	p.history = append(p.history, PlanEvent{
		Type:      EventCreated,
		After:     copyPlan(plan),
		Timestamp: time.Now(),
	})

	p.logger.Info("plan created", slog.Int("components", len(components)))
	return copyPlan(plan), nil
}

// detailedSteps asks for a step breakdown of one component.
func (p *Planner) detailedSteps(ctx context.Context, component, task string) ([]string, error) {
	reply, err := p.complete(ctx, fmt.Sprintf(detailedPromptTemplate, task, component))
	if err != nil {
		return nil, err
	}
	return ParseNumberedList(reply), nil
}

// GetNextAction determines what the execution loop should do next.
//
// Description:
//
//	Selects the first in-progress component in plan order, promoting
//	the first pending component when none is in progress. A selected
//	component whose current step index has reached its step count is
//	marked completed. Otherwise the action carries the literal text of
//	the next step.
func (p *Planner) GetNextAction() Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return Action{
			Type:    ActionCreatePlan,
			Message: "No plan exists. Create a plan first.",
		}
	}

	name, status := p.nextComponentLocked()
	if name == "" {
		return Action{
			Type:    ActionPlanCompleted,
			Message: "All components in the plan are completed.",
		}
	}

	if status.CurrentStep >= status.TotalSteps {
		status.Status = StatusCompleted
		status.Progress = 1.0
		p.recomputeOverallLocked()
		return Action{
			Type:      ActionComponentCompleted,
			Component: name,
		}
	}

	return Action{
		Type:      ActionExecuteStep,
		Component: name,
		StepIndex: status.CurrentStep,
		Step:      p.stepTextLocked(name, status.CurrentStep),
	}
}

// nextComponentLocked finds the component to work on, in plan order.
func (p *Planner) nextComponentLocked() (string, *ComponentStatus) {
	for _, c := range p.plan.Components {
		if s := p.status[c.Name]; s != nil && s.Status == StatusInProgress {
			return c.Name, s
		}
	}
	for _, c := range p.plan.Components {
		if s := p.status[c.Name]; s != nil && s.Status == StatusPending {
			s.Status = StatusInProgress
			return c.Name, s
		}
	}
	return "", nil
}

func (p *Planner) stepTextLocked(component string, index int) string {
	for _, c := range p.plan.Components {
		if c.Name == component && index < len(c.Steps) {
			return c.Steps[index]
		}
	}
	return ""
}

// UpdateStepStatus records the outcome of an executed step.
//
// Description:
//
//	On success the component's completed count advances and the current
//	step moves past stepIndex. On failure nothing moves, so the same
//	step is selected again. Component progress is completed/total and
//	the overall progress is recomputed as the mean across components.
//
// Inputs:
//
//	component - Component name from the execute_step action.
//	stepIndex - Index of the executed step.
//	completed - Whether the step succeeded.
func (p *Planner) UpdateStepStatus(component string, stepIndex int, completed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.status[component]
	if !ok {
		p.logger.Warn("component not found in execution status",
			slog.String("component", component))
		return
	}

	if completed {
		status.StepsCompleted++
		status.CurrentStep = stepIndex + 1
	}

	if status.TotalSteps > 0 {
		status.Progress = float64(status.StepsCompleted) / float64(status.TotalSteps)
		if status.Progress > 1 {
			status.Progress = 1
		}
	}
	p.recomputeOverallLocked()
}

// recomputeOverallLocked keeps the overall progress equal to the mean
// of component progress values.
func (p *Planner) recomputeOverallLocked() {
	if len(p.status) == 0 {
		p.overall = 0
		return
	}
	var total float64
	for _, s := range p.status {
		total += s.Progress
	}
	p.overall = total / float64(len(p.status))
}

// GetExecutionStatus returns a snapshot of execution progress.
func (p *Planner) GetExecutionStatus() ExecutionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := ExecutionStatus{
		OverallProgress: p.overall,
		Components:      make(map[string]ComponentStatus, len(p.status)),
		HistoryLength:   len(p.history),
	}
	if p.plan != nil {
		snapshot.Task = p.plan.Task
	}
	for name, s := range p.status {
		snapshot.Components[name] = *s
	}
	return snapshot
}

// GetPlanSummary returns a read-only view of the current plan.
func (p *Planner) GetPlanSummary() PlanSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		return PlanSummary{Status: SummaryNoPlan}
	}

	summary := PlanSummary{
		Status:          SummaryActive,
		Task:            p.plan.Task,
		OverallProgress: p.overall,
		Components:      make([]ComponentSummary, 0, len(p.plan.Components)),
		CreatedAt:       p.plan.CreatedAt,
		HistoryLength:   len(p.history),
	}
	for _, c := range p.plan.Components {
		cs := ComponentSummary{
			Name:       c.Name,
			TotalSteps: len(c.Steps),
			Status:     "unknown",
		}
		if s := p.status[c.Name]; s != nil {
			cs.CompletedSteps = s.StepsCompleted
			cs.Progress = s.Progress
			cs.Status = s.Status
		}
		summary.Components = append(summary.Components, cs)
	}
	return summary
}

// History returns a copy of the plan event log, oldest first.
func (p *Planner) History() []PlanEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]PlanEvent, len(p.history))
	copy(events, p.history)
	return events
}

// complete issues one advisory completion.
func (p *Planner) complete(ctx context.Context, prompt string) (string, error) {
	response, err := p.client.Complete(ctx, &llm.Request{
		Messages:    llm.UserMessage(prompt),
		Temperature: planTemperature,
		MaxTokens:   planMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// componentName builds the display name for the i-th component. The
// text before the first colon becomes the short name when present.
func componentName(i int, item string) string {
	name := item
	if idx := strings.Index(item, ":"); idx >= 0 {
		name = strings.TrimSpace(item[:idx])
	}
	return fmt.Sprintf("Component %d: %s", i+1, name)
}

// copyPlan returns a deep copy.
func copyPlan(plan *Plan) *Plan {
	if plan == nil {
		return nil
	}
	out := &Plan{
		Task:       plan.Task,
		Components: make([]Component, len(plan.Components)),
		CreatedAt:  plan.CreatedAt,
	}
	for i, c := range plan.Components {
		steps := make([]string, len(c.Steps))
		copy(steps, c.Steps)
		out.Components[i] = Component{Name: c.Name, Steps: steps}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
