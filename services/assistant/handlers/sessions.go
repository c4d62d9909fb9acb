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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/kodiak/services/assistant/memory"
)

// HandleListSessions lists every persisted conversation session.
func HandleListSessions(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.Sessions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// HandleSessionHistory returns a session's turns in append order. The
// optional ?limit query keeps only the most recent turns.
func HandleSessionHistory(store memory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		turns, err := store.History(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": c.Param("id"), "turns": turns})
	}
}

// SearchRequest queries the semantic transcript index.
type SearchRequest struct {
	Query   string `json:"query" binding:"required"`
	Session string `json:"session,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// HandleMemorySearch runs a similarity search over indexed exchanges.
// Returns 503 when semantic memory is disabled in config.
func HandleMemorySearch(index *memory.SemanticIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		if index == nil || !index.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "semantic memory is disabled"})
			return
		}

		var req SearchRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		results, err := index.SearchSimilar(c.Request.Context(), req.Query, memory.SearchOptions{
			Session: req.Session,
			Limit:   req.Limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}
