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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/kodiak/services/assistant/agent"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The gateway binds to localhost; origin checks add nothing.
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
}

// WSControl is a client-to-server control message on a task stream.
type WSControl struct {
	// Action is "stop" or "adapt".
	Action string `json:"action"`

	// Feedback carries the adaptation text for "adapt".
	Feedback string `json:"feedback,omitempty"`
}

// wsEvent wraps everything the stream sends so clients can switch on
// one field.
type wsEvent struct {
	Event    string                `json:"event"`
	WatchID  string                `json:"watch_id,omitempty"`
	Snapshot *agent.StatusSnapshot `json:"snapshot,omitempty"`
	Task     *agent.TaskSnapshot   `json:"task,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, logger *slog.Logger, v any) error {
	if err := ws.WriteJSON(v); err != nil {
		logger.Warn("failed to write websocket JSON", slog.Any("error", err))
		return err
	}
	return nil
}

// HandleTaskWebSocket streams a task's status snapshots to the client.
//
// On connect the client gets a watch id and the current task snapshot,
// then one event per loop iteration until the task terminates. The
// read side accepts control messages: "stop" cancels the task, "adapt"
// feeds its text into the hierarchical plan. Snapshot drops under a
// slow reader are acceptable; the terminal event is always attempted.
func HandleTaskWebSocket(manager *agent.Manager, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		taskID := c.Param("id")
		snapshots, unsubscribe, err := manager.Subscribe(taskID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		defer unsubscribe()

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the websocket", slog.Any("error", err))
			return
		}
		defer ws.Close()

		watchID := uuid.New().String()
		logger.Info("websocket watcher connected",
			slog.String("task", taskID), slog.String("watch_id", watchID))

		current, err := manager.Get(taskID)
		if err != nil {
			_ = sendJSON(ws, logger, wsEvent{Event: "error", Error: err.Error()})
			return
		}
		if err := sendJSON(ws, logger, wsEvent{
			Event:   "watching",
			WatchID: watchID,
			Task:    &current,
		}); err != nil {
			return
		}

		// Read loop: control messages until the client goes away.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				var control WSControl
				if err := ws.ReadJSON(&control); err != nil {
					return
				}
				switch control.Action {
				case "stop":
					if err := manager.Stop(taskID); err != nil {
						_ = sendJSON(ws, logger, wsEvent{Event: "error", Error: err.Error()})
					}
				case "adapt":
					if _, err := manager.AdaptTask(c.Request.Context(), taskID, control.Feedback); err != nil {
						_ = sendJSON(ws, logger, wsEvent{Event: "error", Error: err.Error()})
					}
				default:
					_ = sendJSON(ws, logger, wsEvent{Event: "error", Error: "unknown action"})
				}
			}
		}()

		for {
			select {
			case snapshot, ok := <-snapshots:
				if !ok {
					// Task terminated; send the final state and close.
					final, err := manager.Get(taskID)
					if err == nil {
						_ = sendJSON(ws, logger, wsEvent{Event: "finished", Task: &final})
					}
					logger.Info("websocket watcher closing",
						slog.String("task", taskID), slog.String("watch_id", watchID))
					return
				}
				if err := sendJSON(ws, logger, wsEvent{Event: "status", Snapshot: &snapshot}); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}
}
