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
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// Tool names the deterministic rules bind to.
const (
	browserToolName      = "browser_use"
	codeExecutorToolName = "code_executor"
)

// urlSummaryPatterns capture a URL from summarization phrasing. Each
// pattern's first group is the candidate URL; the URL must still pass
// scheme and host validation before the rule fires.
var urlSummaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)summarize\s+(https?://\S+)`),
	regexp.MustCompile(`(?i)summarize\s+the\s+content\s+(?:at|on|of|from)\s+(https?://\S+)`),
	regexp.MustCompile(`(?i)give\s+(?:me\s+)?a\s+summary\s+of\s+(https?://\S+)`),
	regexp.MustCompile(`(?i)what(?:'s|\s+is)\s+(?:on|at)\s+(https?://\S+)`),
	regexp.MustCompile(`(?i)extract\s+(?:the\s+)?(?:content|information|text)\s+from\s+(https?://\S+)`),
}

// codeExecutionPatterns capture an inline code block after an
// execute/run/evaluate lead-in. The capture runs to the end of the
// message, so the s flag lets it span lines.
var codeExecutionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)execute\s+(?:this|the\s+following)\s+(?:python\s+)?code[:\n]+(.*?)(?:\n\s*$|\z)`),
	regexp.MustCompile(`(?is)run\s+(?:this|the\s+following)\s+(?:python\s+)?code[:\n]+(.*?)(?:\n\s*$|\z)`),
	regexp.MustCompile(`(?is)evaluate\s+(?:this|the\s+following)\s+(?:python\s+)?code[:\n]+(.*?)(?:\n\s*$|\z)`),
}

// PatternDetector resolves utterances with deterministic regex rules.
//
// Description:
//
//	Two rule groups are checked in order. URL summarization phrases
//	("summarize <url>", "give me a summary of <url>", "what's on <url>",
//	"extract the content from <url>") bind to the browsing tool with a
//	{url} argument. Code execution phrases ("execute/run/evaluate this
//	code: ...") bind to the code execution tool with a {code} argument.
//
//	A URL match with a missing scheme or host does not fire; the
//	detector falls through to the next rule. A code match that captures
//	only whitespace is likewise skipped.
//
// Thread Safety:
//
//	PatternDetector is stateless and safe for concurrent use.
type PatternDetector struct {
	logger *slog.Logger
}

// NewPatternDetector creates a deterministic pattern resolver.
//
// Inputs:
//
//	logger - Logger for detection events (nil for default).
func NewPatternDetector(logger *slog.Logger) *PatternDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternDetector{logger: logger}
}

// Resolve implements the Resolver interface.
func (d *PatternDetector) Resolve(_ context.Context, input string) Resolution {
	for _, pattern := range urlSummaryPatterns {
		match := pattern.FindStringSubmatch(input)
		if match == nil {
			continue
		}
		rawURL := strings.TrimSpace(match[1])
		if !isValidURL(rawURL) {
			continue
		}
		d.logger.Debug("detected URL summary task", slog.String("url", rawURL))
		return Resolution{
			Kind:   KindToolCall,
			Source: SourcePattern,
			Tool:   browserToolName,
			Args:   map[string]any{"url": rawURL},
		}
	}

	for _, pattern := range codeExecutionPatterns {
		match := pattern.FindStringSubmatch(input)
		if match == nil {
			continue
		}
		code := strings.TrimSpace(match[1])
		if code == "" {
			continue
		}
		d.logger.Debug("detected code execution task")
		return Resolution{
			Kind:   KindToolCall,
			Source: SourcePattern,
			Tool:   codeExecutorToolName,
			Args:   map[string]any{"code": code},
		}
	}

	return None()
}

// isValidURL reports whether raw parses with both a scheme and a host.
func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

var _ Resolver = (*PatternDetector)(nil)
