// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the assistant gateway's endpoints.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/kodiak/services/assistant/agent"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/handlers"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/memory"
	"github.com/AleutianAI/kodiak/services/assistant/middleware"
	"github.com/AleutianAI/kodiak/services/assistant/observability"
)

// Deps collects everything the gateway serves. Store and Index may be
// nil; the session and search endpoints then report their absence
// instead of registering dead routes.
type Deps struct {
	Client   llm.Client
	Executor *tools.Executor
	Manager  *agent.Manager
	Flags    func() agent.Flags
	Store    memory.Store
	Index    *memory.SemanticIndex
	Version  string
	Logger   *slog.Logger
}

// SetupRoutes registers middleware and every endpoint on the engine.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(
		middleware.Recovery(deps.Logger),
		middleware.RequestID(),
		middleware.RequestLogger(deps.Logger),
		otelgin.Middleware("kodiak-gateway"),
	)

	router.GET("/health", handlers.HealthCheck(deps.Version))
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handlers.HandleAsk(handlers.AskDeps{
			Client:   deps.Client,
			Executor: deps.Executor,
			Flags:    deps.Flags,
			Store:    deps.Store,
			Index:    deps.Index,
			Logger:   deps.Logger,
		}))

		v1.GET("/tools", handlers.HandleListTools(deps.Executor))

		tasksGroup := v1.Group("/tasks")
		{
			tasksGroup.POST("", handlers.HandleStartTask(deps.Manager))
			tasksGroup.GET("", handlers.HandleListTasks(deps.Manager))
			tasksGroup.GET("/:id", handlers.HandleGetTask(deps.Manager))
			tasksGroup.DELETE("/:id", handlers.HandleStopTask(deps.Manager))
			tasksGroup.POST("/:id/adapt", handlers.HandleAdaptTask(deps.Manager))
			tasksGroup.GET("/:id/plan", handlers.HandlePlanHistory(deps.Manager))
			tasksGroup.GET("/:id/ws", handlers.HandleTaskWebSocket(deps.Manager, deps.Logger))
		}

		if deps.Store != nil {
			sessions := v1.Group("/sessions")
			{
				sessions.GET("", handlers.HandleListSessions(deps.Store))
				sessions.GET("/:id/history", handlers.HandleSessionHistory(deps.Store))
			}
		}
		v1.POST("/memory/search", handlers.HandleMemorySearch(deps.Index))
	}
}
