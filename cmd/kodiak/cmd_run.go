// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/ux"
	"github.com/AleutianAI/kodiak/services/assistant/agent"
	"github.com/AleutianAI/kodiak/services/assistant/agent/planner"
)

// runTask runs a continuous task locally, streaming progress until the
// loop terminates. --watch swaps the line stream for a live view.
func runTask(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		if !ux.IsInteractive() {
			return errors.New("a task is required")
		}
		input := huh.NewText().
			Title("What should Kodiak work on?").
			Value(&task)
		if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
			return err
		}
		task = strings.TrimSpace(task)
		if task == "" {
			return errors.New("a task is required")
		}
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{withObservability: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	manager := rt.newManager()

	id, err := manager.StartTask(task)
	if err != nil {
		return fmt.Errorf("starting task: %w", err)
	}

	snapshots, unsubscribe, err := manager.Subscribe(id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	ux.Title("Kodiak task")
	ux.Info(fmt.Sprintf("task %s: %s", id, task))

	if watchTask && ux.IsInteractive() {
		if err := watchTaskView(task, snapshots); err != nil {
			return err
		}
	} else {
		streamSnapshots(snapshots)
	}

	final, err := manager.Get(id)
	if err != nil {
		return err
	}
	if !final.Done {
		// The user detached from the live view. The loop dies with the
		// process, so stop it cleanly rather than abandoning it.
		_ = manager.Stop(id)
		ux.Info(fmt.Sprintf("stopped at iteration %d (%s)", final.Iteration, final.Status))
		return nil
	}

	if !noPlan {
		printPlan(final.Plan.Components)
		if events, err := manager.PlanHistory(id); err == nil {
			printAdaptations(events)
		}
	}

	if final.Result != nil {
		toolCalls := 0
		for _, record := range final.Result.History {
			if record.Type == agent.RecordToolCall {
				toolCalls++
			}
		}
		if final.Result.Result != nil && final.Result.Result.Response != "" {
			fmt.Println()
			printTurnResult(final.Result.Result)
		}
		ux.TaskSummary(final.Status, final.Result.Iterations, toolCalls)
	}

	if final.Status != agent.StatusCompleted {
		return fmt.Errorf("task ended with status %q", final.Status)
	}
	return nil
}

// streamSnapshots prints one line per loop iteration until the channel
// closes at task termination.
func streamSnapshots(snapshots <-chan agent.StatusSnapshot) {
	for snap := range snapshots {
		icon := ux.IconArrow
		if snap.Error != "" {
			icon = ux.IconWarning
		}
		if snap.Final {
			icon = ux.IconSuccess
			if snap.Status != agent.StatusCompleted {
				icon = ux.IconWarning
			}
		}
		detail := snap.Status
		if snap.Error != "" {
			detail = snap.Error
		}
		ux.StepStatus(fmt.Sprintf("iteration %d", snap.Iteration), icon, detail)
	}
}

// printPlan renders the hierarchical plan components with progress.
func printPlan(components []planner.ComponentSummary) {
	if len(components) == 0 {
		return
	}
	fmt.Println()
	ux.Muted("plan")
	for _, comp := range components {
		icon := ux.IconPending
		switch comp.Status {
		case planner.StatusCompleted:
			icon = ux.IconSuccess
		case planner.StatusInProgress:
			icon = ux.IconArrow
		}
		ux.StepStatus(comp.Name, icon,
			fmt.Sprintf("%d/%d steps", comp.CompletedSteps, comp.TotalSteps))
	}
}

// printAdaptations renders each mid-run plan adaptation as its unified
// diff, additions and removals styled like a patch.
func printAdaptations(events []planner.PlanEvent) {
	for _, event := range events {
		if event.Type != planner.EventAdaptation || event.Diff == nil {
			continue
		}
		fmt.Println()
		ux.Muted(fmt.Sprintf("adaptation (+%d/-%d): %s",
			event.Diff.LinesAdded, event.Diff.LinesRemoved, event.Feedback))
		for _, line := range strings.Split(strings.TrimRight(event.Diff.Unified, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				fmt.Println(ux.Styles.Success.Render(line))
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				fmt.Println(ux.Styles.Error.Render(line))
			default:
				fmt.Println(ux.Styles.Muted.Render(line))
			}
		}
	}
}
