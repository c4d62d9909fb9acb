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
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ExchangeClassName is the Weaviate class name for indexed exchanges.
const ExchangeClassName = "ConversationExchange"

// Exchange pairs a user request with the assistant's reply.
type Exchange struct {
	// ExchangeID is the unique identifier (UUID). Derived from the content
	// when empty, so re-indexing the same exchange is idempotent.
	ExchangeID string `json:"exchange_id"`

	// Session identifies the conversation the exchange belongs to.
	Session string `json:"session"`

	// Request is the user's message.
	Request string `json:"request"`

	// Response is the assistant's reply.
	Response string `json:"response"`

	// Tool is the tool invoked while producing the reply, if any.
	Tool string `json:"tool,omitempty"`

	// CreatedAt is when the exchange happened (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// SearchOptions configures semantic search over indexed exchanges.
type SearchOptions struct {
	// Session restricts results to one conversation. Empty searches all.
	Session string

	// Limit is the maximum number of results.
	Limit int

	// MinCertainty filters out matches below this certainty (0-1).
	MinCertainty float64
}

// SearchResult is one semantically similar exchange.
type SearchResult struct {
	// Exchange is the matched exchange.
	Exchange Exchange `json:"exchange"`

	// Certainty is the vector similarity reported by Weaviate (0-1).
	Certainty float64 `json:"certainty"`
}

// SemanticConfig configures the semantic transcript index.
type SemanticConfig struct {
	// Enabled turns the index on. When false the index is a no-op.
	Enabled bool

	// URL is the Weaviate endpoint, e.g. "http://localhost:8080".
	URL string

	// MaxResults is the default limit for search queries.
	MaxResults int
}

// DefaultSemanticConfig returns a disabled index configuration.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		MaxResults: 5,
	}
}

// SemanticIndex mirrors conversation exchanges into Weaviate so past
// conversations can be recalled by meaning rather than by session id.
//
// The index degrades to a no-op when disabled by configuration, so callers
// never need to branch on whether a Weaviate server is present.
type SemanticIndex struct {
	client     *weaviate.Client // nil when disabled
	maxResults int
}

// NewSemanticIndex creates a semantic index from configuration.
//
// Description:
//
//	Builds a Weaviate client for the configured endpoint. When the index
//	is disabled, returns a no-op index whose methods succeed without
//	touching the network.
//
// Inputs:
//
//	cfg - Index configuration. URL is required when Enabled is true.
//
// Outputs:
//
//	*SemanticIndex - The index (possibly no-op)
//	error - Non-nil if enabled without a URL or the client cannot be built
//
// Thread Safety: Safe for concurrent use.
func NewSemanticIndex(cfg SemanticConfig) (*SemanticIndex, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultSemanticConfig().MaxResults
	}

	if !cfg.Enabled {
		return &SemanticIndex{maxResults: maxResults}, nil
	}
	if cfg.URL == "" {
		return nil, errors.New("weaviate url is required when the semantic index is enabled")
	}

	wcfg := weaviate.Config{
		Host:   cfg.URL,
		Scheme: "http",
	}

	// Parse URL to extract scheme if present
	if len(cfg.URL) > 8 && cfg.URL[:8] == "https://" {
		wcfg.Scheme = "https"
		wcfg.Host = cfg.URL[8:]
	} else if len(cfg.URL) > 7 && cfg.URL[:7] == "http://" {
		wcfg.Host = cfg.URL[7:]
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}

	return &SemanticIndex{
		client:     client,
		maxResults: maxResults,
	}, nil
}

// Enabled reports whether the index is backed by a Weaviate client.
func (x *SemanticIndex) Enabled() bool {
	return x.client != nil
}

// exchangeSchema returns the Weaviate class for indexed exchanges.
//
// Request and response text is vectorized for semantic search; the
// remaining fields are filter-only metadata.
func exchangeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	indexSearchable := new(bool)
	*indexSearchable = true

	skip := map[string]interface{}{
		"text2vec-transformers": map[string]interface{}{
			"skip": true,
		},
	}

	return &models.Class{
		Class:       ExchangeClassName,
		Description: "Request/response exchanges from assistant conversations",
		Vectorizer:  "text2vec-transformers",
		ModuleConfig: map[string]interface{}{
			"text2vec-transformers": map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "exchangeId",
				DataType:        []string{"text"},
				Description:     "Unique identifier (UUID)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "session",
				DataType:        []string{"text"},
				Description:     "Conversation session id",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:            "request",
				DataType:        []string{"text"},
				Description:     "The user's message",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
				// Vectorized for semantic search
			},
			{
				Name:            "response",
				DataType:        []string{"text"},
				Description:     "The assistant's reply",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
				// Vectorized for semantic search
			},
			{
				Name:            "tool",
				DataType:        []string{"text"},
				Description:     "Tool invoked during the exchange, if any",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig:    skip,
			},
			{
				Name:         "createdAt",
				DataType:     []string{"date"},
				Description:  "When the exchange happened",
				ModuleConfig: skip,
			},
		},
	}
}

// EnsureSchema creates the exchange class if it doesn't exist.
//
// Description:
//
//	Checks whether the ConversationExchange class exists and creates it
//	if not. Idempotent. No-op when the index is disabled.
//
// Inputs:
//
//	ctx - Context for cancellation
//
// Outputs:
//
//	error - Non-nil if schema creation fails
func (x *SemanticIndex) EnsureSchema(ctx context.Context) error {
	if x.client == nil {
		return nil
	}

	_, err := x.client.Schema().ClassGetter().WithClassName(ExchangeClassName).Do(ctx)
	if err == nil {
		slog.Debug("Exchange schema already exists")
		return nil
	}

	slog.Info("Creating exchange schema", "class", ExchangeClassName)
	if err := x.client.Schema().ClassCreator().WithClass(exchangeSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", ExchangeClassName, err)
	}

	return nil
}

// exchangeID derives a stable UUID from an exchange's content, so indexing
// the same exchange twice overwrites instead of duplicating.
func exchangeID(ex Exchange) string {
	hash := sha256.Sum256([]byte(ex.Session + "\x00" + ex.Request + "\x00" + ex.Response))
	id, err := uuid.FromBytes(hash[:16])
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IndexExchange stores one request/response pair.
//
// Description:
//
//	Writes the exchange to Weaviate with a content-derived id. No-op when
//	the index is disabled, so callers can index unconditionally.
//
// Inputs:
//
//	ctx - Context for cancellation
//	ex - The exchange to index. Request and Response should be non-empty.
//
// Outputs:
//
//	error - Non-nil if the write fails
//
// Thread Safety: Safe for concurrent use.
func (x *SemanticIndex) IndexExchange(ctx context.Context, ex Exchange) error {
	if x.client == nil {
		return nil
	}

	if ex.ExchangeID == "" {
		ex.ExchangeID = exchangeID(ex)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	obj := &models.Object{
		Class: ExchangeClassName,
		ID:    strfmt.UUID(ex.ExchangeID),
		Properties: map[string]interface{}{
			"exchangeId": ex.ExchangeID,
			"session":    ex.Session,
			"request":    ex.Request,
			"response":   ex.Response,
			"tool":       ex.Tool,
			"createdAt":  ex.CreatedAt.Format(time.RFC3339),
		},
	}

	resp, err := x.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return fmt.Errorf("indexing exchange: %w", err)
	}

	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return fmt.Errorf("indexing exchange: %s", item.Result.Errors.Error[0].Message)
		}
	}

	slog.Debug("Indexed exchange",
		"exchange_id", ex.ExchangeID,
		"session", ex.Session)

	return nil
}

// SearchSimilar finds exchanges semantically similar to a query.
//
// Description:
//
//	Runs a nearText search over indexed exchanges, optionally restricted
//	to one session, and returns matches ordered by certainty. Returns no
//	results when the index is disabled.
//
// Inputs:
//
//	ctx - Context for cancellation
//	query - The semantic search query. Must be non-empty.
//	opts - Search options (session filter, limit, certainty floor)
//
// Outputs:
//
//	[]SearchResult - Matched exchanges with certainty scores
//	error - Non-nil if the search fails
//
// Thread Safety: Safe for concurrent use.
func (x *SemanticIndex) SearchSimilar(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if x.client == nil {
		return nil, nil
	}
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = x.maxResults
	}

	nearText := x.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "exchangeId"},
		{Name: "session"},
		{Name: "request"},
		{Name: "response"},
		{Name: "tool"},
		{Name: "createdAt"},
		{Name: "_additional { certainty }"},
	}

	builder := x.client.GraphQL().Get().
		WithClassName(ExchangeClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit)

	if opts.Session != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"session"}).
			WithOperator(filters.Equal).
			WithValueString(opts.Session))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return parseSearchResults(result, opts.MinCertainty), nil
}

// parseSearchResults decodes the GraphQL response into search results.
func parseSearchResults(result *models.GraphQLResponse, minCertainty float64) []SearchResult {
	results := make([]SearchResult, 0)

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return results
	}
	objects, ok := data[ExchangeClassName].([]interface{})
	if !ok {
		return results
	}

	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}

		ex := Exchange{
			ExchangeID: getString(m, "exchangeId"),
			Session:    getString(m, "session"),
			Request:    getString(m, "request"),
			Response:   getString(m, "response"),
			Tool:       getString(m, "tool"),
		}
		if createdStr := getString(m, "createdAt"); createdStr != "" {
			if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
				ex.CreatedAt = t
			}
		}

		certainty := 0.0
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := additional["certainty"].(float64); ok {
				certainty = c
			}
		}
		if minCertainty > 0 && certainty < minCertainty {
			continue
		}

		results = append(results, SearchResult{
			Exchange:  ex,
			Certainty: certainty,
		})
	}

	return results
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
