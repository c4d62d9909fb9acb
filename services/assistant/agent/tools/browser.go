// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// defaultBrowserTimeout bounds a single page fetch.
	defaultBrowserTimeout = 10 * time.Second

	// defaultMaxContentChars is where extracted page text gets truncated.
	defaultMaxContentChars = 5000

	// maxFetchBytes caps how much of a response body is read.
	maxFetchBytes = 10 << 20

	// browserUserAgent mimics a desktop browser; some sites refuse
	// requests without one.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// truncationNotice is appended when page content is cut.
	truncationNotice = "... [Content truncated due to length]"
)

// Whitespace cleanup for extracted page text.
var (
	newlineRunRe = regexp.MustCompile(`\n+`)
	spaceRunRe   = regexp.MustCompile(`\s+`)
)

// BrowserTool implements the browser_use tool.
//
// Description:
//
//	BrowserTool fetches a web page and extracts readable text. Without a
//	selector it runs readability extraction to isolate the main article
//	content; with a CSS selector it collects the text of the matching
//	elements. All extracted text is sanitized to strip residual markup.
//
// Thread Safety: BrowserTool is safe for concurrent use.
type BrowserTool struct {
	client     *http.Client
	policy     *bluemonday.Policy
	userAgent  string
	maxContent int
}

// BrowserOption configures a BrowserTool.
type BrowserOption func(*BrowserTool)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) BrowserOption {
	return func(t *BrowserTool) {
		if client != nil {
			t.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header for page fetches.
func WithUserAgent(ua string) BrowserOption {
	return func(t *BrowserTool) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithMaxContentChars sets the truncation threshold for page content.
func WithMaxContentChars(n int) BrowserOption {
	return func(t *BrowserTool) {
		if n > 0 {
			t.maxContent = n
		}
	}
}

// NewBrowserTool creates the browser_use tool.
func NewBrowserTool(opts ...BrowserOption) *BrowserTool {
	t := &BrowserTool{
		client:     &http.Client{Timeout: defaultBrowserTimeout},
		policy:     bluemonday.StrictPolicy(),
		userAgent:  browserUserAgent,
		maxContent: defaultMaxContentChars,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tool name.
func (t *BrowserTool) Name() string {
	return "browser_use"
}

// Category returns the tool category.
func (t *BrowserTool) Category() ToolCategory {
	return CategoryBrowsing
}

// Definition returns the tool's parameter schema.
func (t *BrowserTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "browser_use",
		Description: "Browse a website and extract its readable content, title, and meta description.",
		Parameters: map[string]ParamDef{
			"url": {
				Type:        ParamTypeString,
				Description: "URL of the website to browse.",
				Required:    true,
			},
			"selector": {
				Type:        ParamTypeString,
				Description: "Optional CSS selector to target specific elements instead of the main content.",
				Required:    false,
			},
		},
		Category:    CategoryBrowsing,
		Priority:    90,
		SideEffects: false,
		OpenEnded:   true,
		Timeout:     defaultBrowserTimeout,
		Examples: []ToolExample{
			{
				Description: "Extract the main content of an article",
				Parameters: map[string]any{
					"url": "https://example.com/article",
				},
				ExpectedOutput: "Page title, meta description, and readable text content",
			},
			{
				Description: "Extract specific elements",
				Parameters: map[string]any{
					"url":      "https://example.com",
					"selector": "h1, .headline",
				},
				ExpectedOutput: "Text of the matching elements",
			},
		},
	}
}

// Execute fetches the page and extracts its content.
func (t *BrowserTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

	pageURL, _ := params["url"].(string)
	if pageURL == "" {
		return &Result{
			Success:  false,
			Error:    "url must be a non-empty string",
			Duration: time.Since(start),
		}, nil
	}
	selector, _ := params["selector"].(string)

	body, err := t.fetch(ctx, pageURL)
	if err != nil {
		return t.errorResult(pageURL, err, start), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return t.errorResult(pageURL, fmt.Errorf("parsing HTML: %w", err), start), nil
	}
	doc.Find("script, style, noscript").Remove()

	var text string
	if selector != "" {
		var parts []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if s := strings.TrimSpace(sel.Text()); s != "" {
				parts = append(parts, s)
			}
		})
		text = strings.Join(parts, "\n")
	} else {
		parsed, perr := url.Parse(pageURL)
		if perr != nil {
			return t.errorResult(pageURL, fmt.Errorf("parsing URL: %w", perr), start), nil
		}
		article, rerr := readability.FromReader(bytes.NewReader(body), parsed)
		if rerr != nil {
			// Readability can fail on non-article pages; fall back to
			// the whole body text.
			text = doc.Find("body").Text()
		} else {
			text = article.TextContent
		}
	}

	text = t.policy.Sanitize(text)
	text = newlineRunRe.ReplaceAllString(text, "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	truncated := len(text) > t.maxContent
	content := text
	if truncated {
		content = text[:t.maxContent] + truncationNotice
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "No title found"
	}
	metaDesc := doc.Find(`meta[name="description"]`).AttrOr("content", "")

	payload := map[string]any{
		"status":           "success",
		"url":              pageURL,
		"title":            title,
		"meta_description": metaDesc,
		"content":          content,
		"content_length":   len(text),
		"truncated":        truncated,
	}

	outputText := fmt.Sprintf("%s (%d chars)", title, len(text))

	return &Result{
		Success:    true,
		Output:     payload,
		OutputText: outputText,
		Duration:   time.Since(start),
		TokensUsed: len(content) / 4,
		Truncated:  truncated,
		Metadata: map[string]any{
			"url":            pageURL,
			"content_length": len(text),
		},
	}, nil
}

// fetch retrieves the page body with browser-like headers.
func (t *BrowserTool) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// errorResult builds the error payload for a failed browse.
func (t *BrowserTool) errorResult(pageURL string, err error, start time.Time) *Result {
	return &Result{
		Success: false,
		Output: map[string]any{
			"status": "error",
			"url":    pageURL,
			"error":  err.Error(),
		},
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}
