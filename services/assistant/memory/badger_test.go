// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestBadgerStoreAppendAssignsSequence verifies turns get dense sequence
// numbers and round-trip all fields.
func TestBadgerStoreAppendAssignsSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AppendTurn(ctx, Turn{
		Session: "s1",
		Role:    "user",
		Content: "Summarize https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Seq)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := store.AppendTurn(ctx, Turn{
		Session: "s1",
		Role:    "assistant",
		Content: "Here is the summary.",
		Kind:    "tool_call",
		Tool:    "browser_use",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Seq)

	turns, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "Summarize https://example.com", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "tool_call", turns[1].Kind)
	assert.Equal(t, "browser_use", turns[1].Tool)
}

// TestBadgerStoreKeepsCreatedAt verifies a pre-set timestamp survives storage.
func TestBadgerStoreKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	when := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	stored, err := store.AppendTurn(ctx, Turn{
		Session:   "s1",
		Role:      "user",
		Content:   "hello",
		CreatedAt: when,
	})
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(when))

	turns, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].CreatedAt.Equal(when))
}

// TestBadgerStoreHistorySeparatesSessions verifies interleaved sessions
// don't leak into each other's history.
func TestBadgerStoreHistorySeparatesSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.AppendTurn(ctx, Turn{Session: "alpha", Role: "user", Content: "a"})
		require.NoError(t, err)
		_, err = store.AppendTurn(ctx, Turn{Session: "beta", Role: "user", Content: "b"})
		require.NoError(t, err)
	}

	alpha, err := store.History(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, alpha, 3)
	for i, turn := range alpha {
		assert.Equal(t, "alpha", turn.Session)
		assert.Equal(t, uint64(i), turn.Seq)
	}

	beta, err := store.History(ctx, "beta", 0)
	require.NoError(t, err)
	assert.Len(t, beta, 3)
}

// TestBadgerStoreHistoryLimit verifies a positive limit keeps the most
// recent turns.
func TestBadgerStoreHistoryLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.AppendTurn(ctx, Turn{Session: "s1", Role: "user", Content: "msg"})
		require.NoError(t, err)
	}

	turns, err := store.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, uint64(3), turns[0].Seq)
	assert.Equal(t, uint64(4), turns[1].Seq)
}

// TestBadgerStoreHistoryUnknownSession verifies an unknown session is
// empty, not an error.
func TestBadgerStoreHistoryUnknownSession(t *testing.T) {
	store := newTestStore(t)

	turns, err := store.History(context.Background(), "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

// TestBadgerStoreValidation verifies the append and read guards.
func TestBadgerStoreValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendTurn(ctx, Turn{Role: "user", Content: "x"})
	assert.ErrorIs(t, err, ErrEmptySession)

	_, err = store.AppendTurn(ctx, Turn{Session: "a/b", Role: "user", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = store.AppendTurn(ctx, Turn{Session: "s1", Content: "x"})
	assert.ErrorIs(t, err, ErrEmptyRole)

	_, err = store.History(ctx, "", 0)
	assert.ErrorIs(t, err, ErrEmptySession)

	_, err = store.History(ctx, "a/b", 0)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

// TestBadgerStoreSessions verifies distinct session ids come back in
// lexicographic order.
func TestBadgerStoreSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, session := range []string{"charlie", "alpha", "bravo", "alpha"} {
		_, err := store.AppendTurn(ctx, Turn{Session: session, Role: "user", Content: "hi"})
		require.NoError(t, err)
	}

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, sessions)
}

// TestBadgerStoreSequencePersists verifies sequence numbers resume after
// a close and reopen.
func TestBadgerStoreSequencePersists(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	store, err := NewBadgerStore(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := store.AppendTurn(ctx, Turn{Session: "s1", Role: "user", Content: "before"})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	turn, err := reopened.AppendTurn(ctx, Turn{Session: "s1", Role: "user", Content: "after"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), turn.Seq)

	turns, err := reopened.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 3)
}

// TestBadgerStoreConcurrentAppends verifies concurrent appends to one
// session produce dense, distinct sequence numbers.
func TestBadgerStoreConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.AppendTurn(ctx, Turn{Session: "shared", Role: "user", Content: "c"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	turns, err := store.History(ctx, "shared", 0)
	require.NoError(t, err)
	require.Len(t, turns, writers*perWriter)

	seen := make(map[uint64]bool)
	for _, turn := range turns {
		assert.False(t, seen[turn.Seq], "duplicate seq %d", turn.Seq)
		seen[turn.Seq] = true
		assert.Less(t, turn.Seq, uint64(writers*perWriter))
	}
}

// TestBadgerStoreContextCancelled verifies operations respect a cancelled
// context.
func TestBadgerStoreContextCancelled(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.AppendTurn(ctx, Turn{Session: "s1", Role: "user", Content: "x"})
	assert.Error(t, err)

	_, err = store.History(ctx, "s1", 0)
	assert.Error(t, err)

	_, err = store.Sessions(ctx)
	assert.Error(t, err)
}

// TestOpenDBRequiresPath verifies persistent configurations need a path.
func TestOpenDBRequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}
