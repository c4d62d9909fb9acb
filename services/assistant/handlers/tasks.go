// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/assistant/agent"
)

// StartTaskRequest launches a continuous task.
type StartTaskRequest struct {
	Task string `json:"task" binding:"required"`
}

// AdaptTaskRequest folds feedback into a running task's plan.
type AdaptTaskRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

// HandleStartTask starts a continuous execution loop for a task and
// returns its id. The loop runs in a managed goroutine; progress is
// polled via GET /tasks/:id or streamed over the websocket.
func HandleStartTask(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartTaskRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		id, err := manager.StartTask(req.Task)
		if err != nil {
			if errors.Is(err, agent.ErrEmptyTask) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"task_id": id})
	}
}

// HandleGetTask returns a task's status snapshot.
func HandleGetTask(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := manager.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// HandleListTasks returns snapshots of every known task, running and
// finished.
func HandleListTasks(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tasks": manager.List()})
	}
}

// HandleStopTask requests cooperative cancellation. The loop stops at
// its next iteration boundary, never mid-call.
func HandleStopTask(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := manager.Stop(c.Param("id"))
		switch {
		case errors.Is(err, agent.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, agent.ErrTaskFinished):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "stopping"})
		}
	}
}

// HandleAdaptTask appends an adaptation component to a running task's
// plan. Adaptation is additive; nothing already planned is removed.
func HandleAdaptTask(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AdaptTaskRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		plan, err := manager.AdaptTask(c.Request.Context(), c.Param("id"), req.Feedback)
		switch {
		case errors.Is(err, agent.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, agent.ErrTaskFinished):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"plan": plan})
		}
	}
}

// HandlePlanHistory returns a task's plan events: creation and each
// adaptation, with before/after snapshots and the rendered diff.
func HandlePlanHistory(manager *agent.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := manager.PlanHistory(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
