// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"testing"

	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

// stubResolver returns a fixed resolution and counts calls.
type stubResolver struct {
	res   Resolution
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, _ string) Resolution {
	s.calls++
	return s.res
}

func TestChain_FirstSuccessWins(t *testing.T) {
	first := &stubResolver{res: None()}
	second := &stubResolver{res: Resolution{Kind: KindToolCall, Source: SourcePattern, Tool: "browser_use"}}
	third := &stubResolver{res: Resolution{Kind: KindSimulated, Source: SourceSimulated}}

	chain := NewChain(first, second, third)
	res := chain.Resolve(context.Background(), "anything")

	if res.Tool != "browser_use" {
		t.Fatalf("Tool = %q, want browser_use", res.Tool)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d, %d, want 1, 1", first.calls, second.calls)
	}
	if third.calls != 0 {
		t.Errorf("later stage called %d times after a resolution", third.calls)
	}
}

func TestChain_AllDecline(t *testing.T) {
	chain := NewChain(&stubResolver{res: None()}, &stubResolver{res: None()})

	res := chain.Resolve(context.Background(), "anything")
	if res.Kind != KindNone {
		t.Fatalf("Kind = %q, want %q", res.Kind, KindNone)
	}
}

func TestChain_NilStagesSkipped(t *testing.T) {
	stub := &stubResolver{res: None()}
	chain := NewChain(nil, stub, nil)

	if chain.Len() != 1 {
		t.Fatalf("Len = %d, want 1", chain.Len())
	}
	chain.Resolve(context.Background(), "anything")
	if stub.calls != 1 {
		t.Errorf("stub called %d times, want 1", stub.calls)
	}
}

func TestChain_ContextCancelled(t *testing.T) {
	stub := &stubResolver{res: Resolution{Kind: KindToolCall, Tool: "browser_use"}}
	chain := NewChain(stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := chain.Resolve(ctx, "anything")
	if res.Kind != KindNone {
		t.Fatalf("Kind = %q, want %q after cancellation", res.Kind, KindNone)
	}
	if stub.calls != 0 {
		t.Errorf("stage called %d times after cancellation", stub.calls)
	}
}

func TestChain_EmptyResolution(t *testing.T) {
	res := None()
	if res.Kind != KindNone || res.IsToolCall() || res.IsSimulated() {
		t.Fatalf("None() = %+v", res)
	}
}

// TestChain_StandardOrdering wires the three real strategies together
// the way the orchestrator does.
func TestChain_StandardOrdering(t *testing.T) {
	ctx := context.Background()
	registry := tools.NewDefaultRegistry()

	t.Run("pattern wins without a completion", func(t *testing.T) {
		client := llm.NewMockClient()
		chain := NewChain(
			NewPatternDetector(nil),
			NewModelSelector(client, registry, nil),
			NewSimulatedDetector(nil),
		)

		res := chain.Resolve(ctx, "summarize https://example.com/post")
		if res.Source != SourcePattern {
			t.Fatalf("Source = %q, want %q", res.Source, SourcePattern)
		}
		if client.CallCount() != 0 {
			t.Errorf("CallCount = %d, want 0 when a pattern matched", client.CallCount())
		}
	})

	t.Run("model resolves when patterns decline", func(t *testing.T) {
		client := llm.NewMockClient()
		client.QueueToolSelection("web_search", map[string]any{"query": "weather in Juneau"})
		chain := NewChain(
			NewPatternDetector(nil),
			NewModelSelector(client, registry, nil),
			NewSimulatedDetector(nil),
		)

		res := chain.Resolve(ctx, "what is the weather in Juneau today?")
		if res.Source != SourceModel {
			t.Fatalf("Source = %q, want %q", res.Source, SourceModel)
		}
		if res.Tool != "web_search" {
			t.Errorf("Tool = %q, want web_search", res.Tool)
		}
	})

	t.Run("simulated fallback when the model declines", func(t *testing.T) {
		client := llm.NewMockClient()
		client.QueueNoToolSelection()
		chain := NewChain(
			NewPatternDetector(nil),
			NewModelSelector(client, registry, nil),
			NewSimulatedDetector(nil),
		)

		res := chain.Resolve(ctx, "analyze the data on caribou migration")
		if res.Source != SourceSimulated {
			t.Fatalf("Source = %q, want %q", res.Source, SourceSimulated)
		}
		if res.Intent != IntentDataAnalysis {
			t.Errorf("Intent = %q, want %q", res.Intent, IntentDataAnalysis)
		}
	})
}
