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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

const adaptationPromptTemplate = `I'm working on this task:

%s

My current plan has these components:

%s

I've received this feedback or new information:

%s

Based on this, I need to adapt my plan. Please help me:
1. Identify which components need to be modified
2. Specify what changes are needed
3. Determine if any new components should be added
4. Assess if any components should be removed

Provide specific recommendations for adapting the plan.`

// PlanDiff describes the textual change one adaptation made.
type PlanDiff struct {
	// Unified is the unified diff of the rendered plan text.
	Unified string `json:"unified"`

	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// AdaptPlan grows the current plan in response to feedback.
//
// Description:
//
//	Requests adaptation recommendations for context, breaks the
//	feedback down into a numbered step list, and appends the result as
//	a new pending component named after the adaptation time. Existing
//	components are never modified or removed. The history log gains an
//	adaptation event holding before/after snapshots and a unified diff
//	of the plan text. Overall progress is recomputed, so it can only
//	drop when the new component starts at zero.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	feedback - The feedback or new information to plan for.
//
// Outputs:
//
//	*Plan - Deep copy of the adapted plan.
//	error - ErrNoPlan without a current plan, or a completion failure.
//	        On error the plan is left untouched.
func (p *Planner) AdaptPlan(ctx context.Context, feedback string) (*Plan, error) {
	p.mu.Lock()
	if p.plan == nil {
		p.mu.Unlock()
		p.logger.Warn("no plan to adapt")
		return nil, ErrNoPlan
	}
	task := p.plan.Task
	names := make([]string, 0, len(p.plan.Components))
	for _, c := range p.plan.Components {
		names = append(names, c.Name)
	}
	p.mu.Unlock()

	prompt := fmt.Sprintf(adaptationPromptTemplate, task, strings.Join(names, ", "), feedback)
	recommendations, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("adaptation recommendations: %w", err)
	}
	p.logger.Debug("adaptation recommendations received",
		slog.Int("length", len(recommendations)))

	steps, err := p.detailedSteps(ctx, feedback, task)
	if err != nil {
		return nil, fmt.Errorf("adaptation steps: %w", err)
	}

	now := time.Now()
	component := Component{
		Name:  "Adaptation: " + now.Format("2006-01-02 15:04:05"),
		Steps: steps,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.plan == nil {
		p.logger.Warn("no plan to adapt")
		return nil, ErrNoPlan
	}

	before := copyPlan(p.plan)
	p.plan.Components = append(p.plan.Components, component)
	p.status[component.Name] = &ComponentStatus{
		TotalSteps: len(component.Steps),
		Status:     StatusPending,
	}
	p.recomputeOverallLocked()

	after := copyPlan(p.plan)
	p.history = append(p.history, PlanEvent{
		Type:      EventAdaptation,
		Feedback:  feedback,
		Before:    before,
		After:     after,
		Diff:      p.buildDiff(before, after),
		Timestamp: now,
	})

	p.logger.Info("plan adapted",
		slog.String("component", component.Name),
		slog.Int("steps", len(component.Steps)))
	return copyPlan(p.plan), nil
}

// buildDiff renders both plans as text and diffs them. Best effort: a
// failure yields an empty diff rather than blocking the adaptation.
func (p *Planner) buildDiff(before, after *Plan) *PlanDiff {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(renderPlanText(before)),
		B:        difflib.SplitLines(renderPlanText(after)),
		FromFile: "plan/before",
		ToFile:   "plan/after",
		Context:  3,
	})
	if err != nil {
		p.logger.Warn("plan diff generation failed", slog.Any("error", err))
		return &PlanDiff{}
	}
	if unified == "" {
		return &PlanDiff{}
	}

	added, removed, err := countPatchLines(unified)
	if err != nil {
		p.logger.Warn("plan diff stats failed", slog.Any("error", err))
		return &PlanDiff{Unified: unified}
	}
	return &PlanDiff{Unified: unified, LinesAdded: added, LinesRemoved: removed}
}

// countPatchLines parses a unified diff and counts changed lines.
func countPatchLines(unified string) (added, removed int, err error) {
	fileDiff, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return 0, 0, fmt.Errorf("parsing plan diff: %w", err)
	}
	for _, hunk := range fileDiff.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed, nil
}

// renderPlanText writes a plan in a stable text form for diffing.
// Steps keep the list markers they were parsed with.
func renderPlanText(plan *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", plan.Task)
	for _, c := range plan.Components {
		fmt.Fprintf(&b, "\n%s\n", c.Name)
		for _, step := range c.Steps {
			fmt.Fprintf(&b, "%s\n", step)
		}
	}
	return b.String()
}
