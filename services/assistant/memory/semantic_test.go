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
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// TestSemanticIndexDisabled verifies the disabled index is a safe no-op.
func TestSemanticIndexDisabled(t *testing.T) {
	index, err := NewSemanticIndex(DefaultSemanticConfig())
	require.NoError(t, err)
	assert.False(t, index.Enabled())

	ctx := context.Background()
	assert.NoError(t, index.EnsureSchema(ctx))
	assert.NoError(t, index.IndexExchange(ctx, Exchange{
		Session:  "s1",
		Request:  "hello",
		Response: "hi",
	}))

	results, err := index.SearchSimilar(ctx, "hello", SearchOptions{})
	require.NoError(t, err)
	assert.Nil(t, results)
}

// TestNewSemanticIndexRequiresURL verifies enabling without an endpoint fails.
func TestNewSemanticIndexRequiresURL(t *testing.T) {
	_, err := NewSemanticIndex(SemanticConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

// TestNewSemanticIndexAcceptsURLs verifies endpoint forms with and without
// a scheme prefix are accepted.
func TestNewSemanticIndexAcceptsURLs(t *testing.T) {
	for _, url := range []string{
		"http://localhost:8080",
		"https://weaviate.internal:8443",
		"localhost:8080",
	} {
		index, err := NewSemanticIndex(SemanticConfig{Enabled: true, URL: url})
		require.NoError(t, err, "url %s", url)
		assert.True(t, index.Enabled())
	}
}

// TestExchangeSchemaShape verifies the class definition vectorizes the
// conversational text and skips the metadata fields.
func TestExchangeSchemaShape(t *testing.T) {
	class := exchangeSchema()

	assert.Equal(t, ExchangeClassName, class.Class)
	assert.Equal(t, "text2vec-transformers", class.Vectorizer)

	props := make(map[string]*models.Property)
	for _, p := range class.Properties {
		props[p.Name] = p
	}
	for _, name := range []string{"exchangeId", "session", "request", "response", "tool", "createdAt"} {
		require.Contains(t, props, name)
	}

	// Conversational text is vectorized
	assert.Nil(t, props["request"].ModuleConfig)
	assert.Nil(t, props["response"].ModuleConfig)

	// Metadata fields skip vectorization
	for _, name := range []string{"exchangeId", "session", "tool", "createdAt"} {
		mc, ok := props[name].ModuleConfig.(map[string]interface{})
		require.True(t, ok, "property %s missing module config", name)
		tv, ok := mc["text2vec-transformers"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, tv["skip"], "property %s should skip vectorization", name)
	}

	assert.Equal(t, []string{"date"}, props["createdAt"].DataType)
}

// TestExchangeIDDeterministic verifies content-derived ids are stable
// UUIDs.
func TestExchangeIDDeterministic(t *testing.T) {
	a := Exchange{Session: "s1", Request: "find the docs", Response: "here they are"}
	b := Exchange{Session: "s1", Request: "find the docs", Response: "here they are"}
	c := Exchange{Session: "s2", Request: "find the docs", Response: "here they are"}

	idA := exchangeID(a)
	idB := exchangeID(b)
	idC := exchangeID(c)

	assert.Equal(t, idA, idB)
	assert.NotEqual(t, idA, idC)

	_, err := uuid.Parse(idA)
	assert.NoError(t, err)
}

// TestParseSearchResults verifies response decoding, certainty filtering,
// and tolerance for malformed objects.
func TestParseSearchResults(t *testing.T) {
	raw := `{
		"data": {
			"Get": {
				"ConversationExchange": [
					{
						"exchangeId": "e1",
						"session": "s1",
						"request": "find the docs",
						"response": "here they are",
						"tool": "web_search",
						"createdAt": "2025-06-01T10:00:00Z",
						"_additional": {"certainty": 0.91}
					},
					{
						"exchangeId": "e2",
						"session": "s1",
						"request": "unrelated",
						"response": "also unrelated",
						"_additional": {"certainty": 0.2}
					},
					"not-an-object"
				]
			}
		}
	}`

	var resp models.GraphQLResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	all := parseSearchResults(&resp, 0)
	require.Len(t, all, 2)
	assert.Equal(t, "e1", all[0].Exchange.ExchangeID)
	assert.Equal(t, "web_search", all[0].Exchange.Tool)
	assert.InDelta(t, 0.91, all[0].Certainty, 0.001)
	assert.Equal(t, 2025, all[0].Exchange.CreatedAt.Year())

	filtered := parseSearchResults(&resp, 0.5)
	require.Len(t, filtered, 1)
	assert.Equal(t, "e1", filtered[0].Exchange.ExchangeID)
}

// TestParseSearchResultsEmpty verifies an empty response yields no results.
func TestParseSearchResultsEmpty(t *testing.T) {
	var resp models.GraphQLResponse
	require.NoError(t, json.Unmarshal([]byte(`{"data": {}}`), &resp))

	results := parseSearchResults(&resp, 0)
	assert.Empty(t, results)
}
