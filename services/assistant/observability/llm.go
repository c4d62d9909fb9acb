// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/kodiak/services/assistant/llm"
)

// instrumentedClient wraps a completion client with spans, latency
// histograms, and token counters.
type instrumentedClient struct {
	inner llm.Client
}

// InstrumentClient wraps a completion client with observability.
//
// Description:
//
//	Every Complete call gets an "llm.complete" span, a latency
//	observation labeled success or error, and token counters on
//	success. The wrapped client is otherwise transparent, so it can be
//	installed at construction without touching call sites.
//
// Outputs:
//
//	llm.Client - The instrumented client. Never nil.
func InstrumentClient(client llm.Client) llm.Client {
	return &instrumentedClient{inner: client}
}

func (c *instrumentedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	ctx, span := StartSpan(ctx, "llm.complete",
		attribute.String("llm.client", c.inner.Name()),
		attribute.String("llm.model", c.inner.Model()))
	defer span.End()

	start := time.Now()
	resp, err := c.inner.Complete(ctx, req)
	seconds := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ObserveCompletion("error", seconds)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
		attribute.String("llm.stop_reason", resp.StopReason),
	)
	ObserveCompletion("success", seconds)
	RecordTokens(resp.InputTokens, resp.OutputTokens, resp.Model)
	return resp, nil
}

func (c *instrumentedClient) Name() string {
	return c.inner.Name()
}

func (c *instrumentedClient) Model() string {
	return c.inner.Model()
}
