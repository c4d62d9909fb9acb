// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP handlers for the assistant gateway.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kodiak/services/assistant/agent"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/memory"
)

var askTracer = otel.Tracer("kodiak.assistant.handlers")

// historyWindow is how many persisted turns seed a resumed session.
const historyWindow = 20

// AskRequest is one single-turn exchange.
type AskRequest struct {
	// Message is the user utterance.
	Message string `json:"message" binding:"required"`

	// SessionID resumes a persisted conversation. Empty runs the turn
	// stateless.
	SessionID string `json:"session_id,omitempty"`

	// History is caller-supplied context, used when the caller keeps
	// its own transcript instead of a server session.
	History []llm.Message `json:"history,omitempty"`
}

// AskDeps are the collaborators one turn needs. Store and Index may be
// nil; persistence and semantic indexing are then skipped.
type AskDeps struct {
	Client   llm.Client
	Executor *tools.Executor
	Flags    func() agent.Flags
	Store    memory.Store
	Index    *memory.SemanticIndex
	Logger   *slog.Logger
}

// HandleAsk runs one orchestrator turn per request.
//
// A fresh orchestrator is built each time: session history comes from
// the store (or the request), and the final exchange is written back.
// Turn-level failures surface as 502 so callers can retry; malformed
// requests are 400.
func HandleAsk(deps AskDeps) gin.HandlerFunc {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		ctx, span := askTracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var req AskRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		history := req.History
		if req.SessionID != "" && deps.Store != nil {
			stored, err := deps.Store.History(ctx, req.SessionID, historyWindow)
			if err != nil {
				logger.Warn("session history unavailable",
					slog.String("session", req.SessionID), slog.Any("error", err))
			} else {
				history = append(turnsToMessages(stored), history...)
			}
		}

		opts := []agent.Option{agent.WithLogger(logger)}
		if deps.Flags != nil {
			opts = append(opts, agent.WithFlags(deps.Flags()))
		}
		if len(history) > 0 {
			opts = append(opts, agent.WithHistory(history))
		}
		orch := agent.NewOrchestrator(deps.Client, deps.Executor, opts...)

		result := orch.Ask(ctx, req.Message)
		if result.Type == agent.TurnError {
			span.SetStatus(codes.Error, result.Error)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  result.Error,
				"result": result,
			})
			return
		}

		if req.SessionID != "" {
			persistExchange(deps, logger, req.SessionID, req.Message, result)
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id": req.SessionID,
			"result":     result,
		})
	}
}

// persistExchange writes both turns and mirrors the exchange into the
// semantic index. Failures are logged, never surfaced: the reply the
// user already has outranks the transcript.
func persistExchange(deps AskDeps, logger *slog.Logger, session, message string, result *agent.TurnResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if deps.Store != nil {
		if _, err := deps.Store.AppendTurn(ctx, memory.Turn{
			Session: session,
			Role:    llm.RoleUser,
			Content: message,
		}); err != nil {
			logger.Warn("failed to persist user turn", slog.Any("error", err))
		}
		if _, err := deps.Store.AppendTurn(ctx, memory.Turn{
			Session: session,
			Role:    llm.RoleAssistant,
			Content: result.Response,
			Kind:    result.Type,
			Tool:    result.Tool,
		}); err != nil {
			logger.Warn("failed to persist assistant turn", slog.Any("error", err))
		}
	}

	if deps.Index != nil && deps.Index.Enabled() {
		go func() {
			ictx, icancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer icancel()
			if err := deps.Index.IndexExchange(ictx, memory.Exchange{
				Session:   session,
				Request:   message,
				Response:  result.Response,
				Tool:      result.Tool,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				logger.Warn("failed to index exchange", slog.Any("error", err))
			}
		}()
	}
}

func turnsToMessages(turns []memory.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	return messages
}
