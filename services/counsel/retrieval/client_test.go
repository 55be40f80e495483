// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// graphqlFixture is a canned Weaviate Get response with two passages.
const graphqlFixture = `{
  "data": {
    "Get": {
      "GitaPassage": [
        {
          "canonicalId": "BG_2_47",
          "text": "You have a right to your actions, never to their fruits.",
          "chapter": 2,
          "verse": 47,
          "translator": "test",
          "_additional": {"distance": 0.12}
        },
        {
          "canonicalId": "BG_3_35",
          "text": "Better one's own duty done imperfectly.",
          "chapter": 3,
          "verse": 35,
          "_additional": {"distance": 0.34}
        },
        {
          "text": "missing canonical id, must be skipped",
          "_additional": {"distance": 0.1}
        }
      ]
    }
  }
}`

func newSearchServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/graphql", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, serverURL string, config Config) *Client {
	t.Helper()
	config.URL = serverURL
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Millisecond
	}
	client, err := New(config)
	require.NoError(t, err)
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func TestSearch_ParsesPassages(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(graphqlFixture))
	})
	client := newTestClient(t, server.URL, Config{})

	got, err := client.Search(context.Background(), "duty versus outcome", 8)
	require.NoError(t, err)
	require.Len(t, got, 2, "the object without a canonical id must be skipped")

	assert.Equal(t, "BG_2_47", got[0].CanonicalID)
	assert.InDelta(t, 0.88, got[0].Relevance, 1e-9)
	assert.Equal(t, 2, got[0].Metadata["chapter"])
	assert.Equal(t, 47, got[0].Metadata["verse"])
	assert.Equal(t, "test", got[0].Metadata["translator"])

	assert.Equal(t, "BG_3_35", got[1].CanonicalID)
	assert.InDelta(t, 0.66, got[1].Relevance, 1e-9)
	_, hasTranslator := got[1].Metadata["translator"]
	assert.False(t, hasTranslator)
}

func TestSearch_RelevanceClamped(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"Get": {"GitaPassage": [
			{"canonicalId": "BG_1_1", "text": "a", "_additional": {"distance": -0.5}},
			{"canonicalId": "BG_1_2", "text": "b", "_additional": {"distance": 1.8}},
			{"canonicalId": "BG_1_3", "text": "c"}
		]}}}`))
	})
	client := newTestClient(t, server.URL, Config{})

	got, err := client.Search(context.Background(), "anything", 8)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Relevance)
	assert.Equal(t, 0.0, got[1].Relevance)
	assert.Equal(t, 0.0, got[2].Relevance, "missing _additional defaults to zero")
}

func TestSearch_EmptyResults(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"Get": {"GitaPassage": []}}}`))
	})
	client := newTestClient(t, server.URL, Config{})

	got, err := client.Search(context.Background(), "anything", 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_GraphQLErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors": [{"message": "no such class"}]}`))
	})
	client := newTestClient(t, server.URL, Config{RetryAttempts: 3})

	_, err := client.Search(context.Background(), "anything", 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.Equal(t, int32(1), calls.Load(), "application errors must not be retried")
}

func TestSearch_NetworkFailureRetries(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {})
	serverURL := server.URL
	server.Close()

	client := newTestClient(t, serverURL, Config{RetryAttempts: 3})

	_, err := client.Search(context.Background(), "anything", 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)

	snap := client.Snapshot()
	assert.Equal(t, 1, snap.Failures, "one logical search records one breaker failure")
}

func TestSearch_BreakerOpensAndBlocks(t *testing.T) {
	var calls atomic.Int32
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors": [{"message": "boom"}]}`))
	})
	client := newTestClient(t, server.URL, Config{FailureThreshold: 2})

	for range 2 {
		_, err := client.Search(context.Background(), "anything", 8)
		require.Error(t, err)
	}
	require.Equal(t, "open", client.Snapshot().State)
	before := calls.Load()

	_, err := client.Search(context.Background(), "anything", 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.Equal(t, before, calls.Load(), "an open circuit must not reach the server")
}

func TestSearch_ResetBreakerRestores(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(graphqlFixture))
	})
	client := newTestClient(t, server.URL, Config{FailureThreshold: 1})

	client.breaker.RecordFailure()
	require.Equal(t, "open", client.Snapshot().State)

	client.ResetBreaker()
	require.Equal(t, "closed", client.Snapshot().State)

	got, err := client.Search(context.Background(), "anything", 8)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearch_CancelledContextRecordsNoBreakerFailure(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(graphqlFixture))
	})
	client := newTestClient(t, server.URL, Config{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Search(ctx, "anything", 8)
	require.ErrorIs(t, err, context.Canceled)

	snap := client.Snapshot()
	assert.Equal(t, "closed", snap.State, "a client disconnect must not open the breaker")
	assert.Equal(t, 0, snap.Failures)
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	server := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClient(t, server.URL, Config{})

	_, err := client.Search(context.Background(), "", 8)
	assert.Error(t, err)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
