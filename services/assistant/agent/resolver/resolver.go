// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver decides whether a user utterance should be handled by
// a tool before the assistant spends a completion on it.
//
// The package provides three independent strategies and a first-success
// chain over them:
//
//  1. PatternDetector - deterministic regex rules for URL summarization
//     and inline code execution requests.
//  2. ModelSelector - asks the completion model to pick a tool from the
//     registry catalog, expecting a strict JSON verdict.
//  3. SimulatedDetector - broad phrase patterns that map to canned
//     walkthrough responses when no real tool applies.
//
// Resolution is a pure decision. No strategy executes a tool, and no
// strategy surfaces an error to the caller: a model outage or malformed
// verdict degrades to "no resolution" so the conversation falls through
// to a normal completion.
//
// Thread Safety:
//
//	All resolvers in this package are safe for concurrent use.
package resolver

import (
	"context"
)

// Resolution kinds.
const (
	// KindNone means no strategy claimed the input.
	KindNone = "none"

	// KindToolCall means a concrete tool should run with bound arguments.
	KindToolCall = "tool_call"

	// KindSimulated means the input matched a simulated task intent and
	// should receive a canned walkthrough instead of a tool run.
	KindSimulated = "simulated"
)

// Resolution sources, recorded for logging and orchestrator reporting.
const (
	SourcePattern   = "pattern"
	SourceModel     = "model"
	SourceSimulated = "simulated"
)

// Resolution is the outcome of running an input through a resolver.
//
// It is a tagged union keyed on Kind:
//
//   - KindNone: all other fields are zero.
//   - KindToolCall: Tool and Args are set.
//   - KindSimulated: Intent, Topic, and Response are set.
//
// Source names the strategy that produced the resolution.
type Resolution struct {
	// Kind discriminates the union. One of KindNone, KindToolCall,
	// KindSimulated.
	Kind string

	// Source is the strategy that resolved the input (SourcePattern,
	// SourceModel, or SourceSimulated). Empty for KindNone.
	Source string

	// Tool is the registry name of the tool to invoke.
	Tool string

	// Args are the bound tool arguments, ready for schema validation.
	Args map[string]any

	// Intent is the simulated task type, e.g. "simulated_web_search".
	Intent string

	// Topic is the subject captured from the utterance for a simulated
	// task.
	Topic string

	// Response is the short acknowledgement for a simulated task. The
	// full walkthrough comes from SimulatedDetector.Response.
	Response string
}

// None returns the empty resolution.
func None() Resolution {
	return Resolution{Kind: KindNone}
}

// IsToolCall reports whether the resolution binds a concrete tool.
func (r Resolution) IsToolCall() bool {
	return r.Kind == KindToolCall
}

// IsSimulated reports whether the resolution is a simulated task intent.
func (r Resolution) IsSimulated() bool {
	return r.Kind == KindSimulated
}

// Resolver is a single tool-resolution strategy.
//
// Implementations must be side-effect free and must never return an
// error: failure to resolve is expressed as a KindNone resolution.
type Resolver interface {
	// Resolve inspects the input and returns a resolution.
	//
	// Inputs:
	//   ctx - Context for cancellation. Only the model-driven strategy
	//         performs I/O; deterministic strategies ignore it.
	//   input - The raw user utterance.
	//
	// Outputs:
	//   Resolution - KindNone when the strategy does not apply.
	Resolve(ctx context.Context, input string) Resolution
}

// Chain runs resolvers in order and returns the first non-empty
// resolution.
//
// Description:
//
//	The chain is first-success-wins: deterministic patterns are expected
//	to run before the model-driven selector, and the simulated fallback
//	last, but the chain itself imposes no policy beyond ordering. Stage
//	selection is decided at construction time.
//
// Thread Safety:
//
//	Chain is immutable after construction and safe for concurrent use.
type Chain struct {
	stages []Resolver
}

// NewChain creates a resolver chain from the given stages.
//
// Nil stages are skipped so callers can pass optional strategies
// directly.
func NewChain(stages ...Resolver) *Chain {
	kept := make([]Resolver, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Chain{stages: kept}
}

// Len returns the number of active stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// Resolve implements the Resolver interface.
//
// Stages run in order. The first resolution with a kind other than
// KindNone wins. Context cancellation stops the walk early.
func (c *Chain) Resolve(ctx context.Context, input string) Resolution {
	for _, stage := range c.stages {
		if ctx.Err() != nil {
			return None()
		}
		if res := stage.Resolve(ctx, input); res.Kind != KindNone {
			return res
		}
	}
	return None()
}

var _ Resolver = (*Chain)(nil)
