// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a token-bucket request limiter.
//
// Complete blocks until the limiter grants a slot or the context is
// cancelled. Stack this outside RetryClient so retries also consume
// limiter slots.
//
// Thread Safety:
//
//	RateLimitedClient is safe for concurrent use when the inner client is.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps a client with a requests-per-second cap.
//
// Inputs:
//
//	inner - The client to wrap.
//	rps - Sustained requests per second. Values <= 0 disable limiting.
//	burst - Maximum burst size. Clamped to at least 1 when limiting.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

// Complete implements the Client interface, waiting for limiter capacity.
func (c *RateLimitedClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return c.inner.Complete(ctx, request)
}

// Name implements the Client interface.
func (c *RateLimitedClient) Name() string { return c.inner.Name() }

// Model implements the Client interface.
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

var _ Client = (*RateLimitedClient)(nil)
