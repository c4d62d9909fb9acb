// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory persists conversation history for the assistant.
//
// Turns are appended to BadgerDB for low-latency local reads. An optional
// Weaviate index mirrors request/response exchanges for semantic recall
// across sessions:
//
//	Hot (in-process history) → Warm (BadgerDB) → Cold (Weaviate)
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for conversation storage.
var (
	ErrEmptySession   = errors.New("session id cannot be empty")
	ErrInvalidSession = errors.New("session id cannot contain '/'")
	ErrEmptyRole      = errors.New("turn role cannot be empty")
)

// Turn is one utterance in a conversation session.
type Turn struct {
	// Session identifies the conversation this turn belongs to.
	Session string `json:"session"`

	// Seq is the turn's position within the session, assigned on append.
	Seq uint64 `json:"seq"`

	// Role is who spoke: "user" or "assistant".
	Role string `json:"role"`

	// Content is the turn text.
	Content string `json:"content"`

	// Kind classifies assistant turns (response, tool_call, plan, ...).
	// Empty for user turns.
	Kind string `json:"kind,omitempty"`

	// Tool is the tool invoked during this turn, if any.
	Tool string `json:"tool,omitempty"`

	// CreatedAt is when the turn was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields required before a turn can be stored.
//
// Outputs:
//
//	error - Non-nil if the session id or role is unusable
func (t *Turn) Validate() error {
	if t.Session == "" {
		return ErrEmptySession
	}
	if strings.ContainsRune(t.Session, '/') {
		return ErrInvalidSession
	}
	if t.Role == "" {
		return ErrEmptyRole
	}
	return nil
}

// Store persists conversation turns.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// AppendTurn assigns the next sequence number for the turn's session
	// and persists the turn. The stored turn is returned with Seq and
	// CreatedAt populated.
	AppendTurn(ctx context.Context, turn Turn) (Turn, error)

	// History returns a session's turns in append order. A positive limit
	// keeps only the most recent turns.
	History(ctx context.Context, session string, limit int) ([]Turn, error)

	// Sessions lists the ids of all sessions with at least one turn.
	Sessions(ctx context.Context) ([]string, error)

	// Close releases the underlying storage.
	Close() error
}
