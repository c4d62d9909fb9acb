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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/pkg/ux"
	"github.com/AleutianAI/kodiak/services/assistant/agent"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/memory"
)

// askHistoryWindow is how many persisted turns seed a resumed session.
const askHistoryWindow = 20

// runAsk runs one orchestrator turn from the command line. With
// --session the exchange is persisted and prior turns seed the model.
func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		if !ux.IsInteractive() {
			return errors.New("a question is required")
		}
		input := huh.NewInput().
			Title("What do you need?").
			Value(&question)
		if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
			return err
		}
		question = strings.TrimSpace(question)
		if question == "" {
			return errors.New("a question is required")
		}
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, runtimeOptions{withStore: sessionID != ""})
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := []agent.Option{
		agent.WithLogger(rt.slog),
		agent.WithFlags(flagSource()),
	}
	if sessionID != "" && rt.store != nil {
		turns, err := rt.store.History(ctx, sessionID, askHistoryWindow)
		if err != nil {
			rt.slog.Warn("session history unavailable", slog.Any("error", err))
		} else if len(turns) > 0 {
			history := make([]llm.Message, 0, len(turns))
			for _, t := range turns {
				history = append(history, llm.Message{Role: t.Role, Content: t.Content})
			}
			opts = append(opts, agent.WithHistory(history))
		}
	}

	orch := agent.NewOrchestrator(rt.client, rt.executor, opts...)

	var result *agent.TurnResult
	err = ux.WithSpinner("thinking", func() error {
		result = orch.Ask(ctx, question)
		if result.Type == agent.TurnError {
			return errors.New(result.Error)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	printTurnResult(result)

	if sessionID != "" && rt.store != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, turn := range []memory.Turn{
			{Session: sessionID, Role: llm.RoleUser, Content: question},
			{Session: sessionID, Role: llm.RoleAssistant, Content: result.Response, Kind: result.Type, Tool: result.Tool},
		} {
			if _, err := rt.store.AppendTurn(persistCtx, turn); err != nil {
				rt.slog.Warn("failed to persist turn", slog.Any("error", err))
			}
		}
	}
	return nil
}

// printTurnResult renders a turn according to its type.
func printTurnResult(result *agent.TurnResult) {
	switch result.Type {
	case agent.TurnToolCall:
		ux.StepStatus(result.Tool, ux.IconTool, "tool call")
		fmt.Println(result.Response)
	case agent.TurnPlan:
		ux.StepStatus("plan", ux.IconPlan, "")
		fmt.Println(result.Plan)
	case agent.TurnSimulated:
		ux.Muted("(simulated)")
		fmt.Println(result.Response)
	default:
		fmt.Println(result.Response)
	}
}
