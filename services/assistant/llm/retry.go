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
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default retry policy: 3 attempts, delay doubling from 1 second.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBaseWait = 1 * time.Second
)

// ErrRetriesExhausted wraps the last failure after all attempts failed.
var ErrRetriesExhausted = errors.New("llm: retries exhausted")

// RetryClient wraps a Client with transport-failure retries.
//
// Only transport-class failures are retried; context cancellation and
// deadline expiry abort immediately. The wait between attempts doubles
// each time, starting from the base wait.
//
// Thread Safety:
//
//	RetryClient is safe for concurrent use when the inner client is.
type RetryClient struct {
	inner    Client
	attempts int
	baseWait time.Duration
	logger   *slog.Logger
}

// RetryOption configures a RetryClient.
type RetryOption func(*RetryClient)

// WithAttempts sets the maximum number of attempts (minimum 1).
func WithAttempts(n int) RetryOption {
	return func(c *RetryClient) {
		if n >= 1 {
			c.attempts = n
		}
	}
}

// WithBaseWait sets the wait before the second attempt.
func WithBaseWait(d time.Duration) RetryOption {
	return func(c *RetryClient) {
		if d > 0 {
			c.baseWait = d
		}
	}
}

// WithRetryLogger sets the logger. Nil disables logging.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryClient) { c.logger = logger }
}

// NewRetryClient wraps a client with the default retry policy.
func NewRetryClient(inner Client, opts ...RetryOption) *RetryClient {
	c := &RetryClient{
		inner:    inner,
		attempts: DefaultRetryAttempts,
		baseWait: DefaultRetryBaseWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete implements the Client interface with retries.
func (c *RetryClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	var lastErr error
	wait := c.baseWait

	for attempt := 1; attempt <= c.attempts; attempt++ {
		response, err := c.inner.Complete(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		// Cancellation is not a transport failure.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if attempt == c.attempts {
			break
		}

		if c.logger != nil {
			c.logger.Warn("completion attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.attempts),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.attempts, lastErr)
}

// Name implements the Client interface.
func (c *RetryClient) Name() string { return c.inner.Name() }

// Model implements the Client interface.
func (c *RetryClient) Model() string { return c.inner.Model() }

var _ Client = (*RetryClient)(nil)
