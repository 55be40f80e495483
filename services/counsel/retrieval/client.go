// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval performs semantic passage search against Weaviate with
// circuit breaking and retry. There is no fallback store: when retrieval is
// exhausted the error surfaces to the orchestrator, which degrades the
// consultation rather than failing it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
)

// ErrRetrievalUnavailable is returned when the search could not be served,
// whether because the circuit is open or every retry failed.
var ErrRetrievalUnavailable = errors.New("passage retrieval is not available")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the retrieval client.
type Config struct {
	// URL is the Weaviate server URL (e.g., "http://localhost:8080").
	URL string

	// ClassName is the Weaviate class holding verse passages.
	// Default: "GitaPassage"
	ClassName string

	// MaxResults is the default limit for searches.
	// Default: 8
	MaxResults int

	// RetryAttempts is the number of tries per logical search.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff; it doubles up to MaxRetryBackoff.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 2s
	MaxRetryBackoff time.Duration

	// FailureThreshold and RecoveryTimeout configure the breaker.
	// Zero values use the breaker package defaults.
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Reporter receives breaker transitions. Optional.
	Reporter breaker.TransitionReporter

	// Logger for client operations.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		ClassName:       "GitaPassage",
		MaxResults:      8,
		RetryAttempts:   3,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
		Logger:          slog.Default(),
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.ClassName == "" {
		c.ClassName = defaults.ClassName
	}
	if c.MaxResults <= 0 {
		c.MaxResults = defaults.MaxResults
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client searches the verse corpus.
//
// Thread Safety: Safe for concurrent use after construction.
type Client struct {
	weaviate *weaviate.Client
	breaker  *breaker.Breaker
	config   Config
	logger   *slog.Logger

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the client and its breaker.
func New(config Config) (*Client, error) {
	config.applyDefaults()
	if config.URL == "" {
		return nil, errors.New("url must not be empty")
	}

	cfg := weaviate.Config{Host: config.URL, Scheme: "http"}
	if after, ok := strings.CutPrefix(config.URL, "https://"); ok {
		cfg.Scheme = "https"
		cfg.Host = after
	} else if after, ok := strings.CutPrefix(config.URL, "http://"); ok {
		cfg.Host = after
	}

	wv, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create the weaviate client: %w", err)
	}

	br, err := breaker.New(breaker.Config{
		Name:             "retrieval",
		FailureThreshold: config.FailureThreshold,
		RecoveryTimeout:  config.RecoveryTimeout,
		Reporter:         config.Reporter,
		Logger:           config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build the retrieval breaker: %w", err)
	}

	return &Client{
		weaviate: wv,
		breaker:  br,
		config:   config,
		logger:   config.Logger.With(slog.String("component", "retrieval")),
		sleep:    sleepContext,
	}, nil
}

// Search runs a nearText query and returns passages ordered by relevance.
//
// One logical search records exactly one breaker outcome regardless of how
// many retries it took.
//
// Outputs:
//
//	[]datatypes.Passage - Matching passages, relevance in [0, 1].
//	error - ErrRetrievalUnavailable (wrapped) when the circuit is open or
//	        every attempt failed; the context error on cancellation.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	if limit <= 0 {
		limit = c.config.MaxResults
	}

	ctx, span := otel.Tracer("dharmadesk/retrieval").Start(ctx, "retrieval.search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	if !c.breaker.Allow() {
		span.SetStatus(codes.Error, "circuit open")
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, breaker.ErrOpen)
	}

	passages, err := c.searchWithRetry(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		// A caller-side cancellation says nothing about the store's
		// health, so it must not count against the breaker.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	c.breaker.RecordSuccess()
	span.SetAttributes(attribute.Int("results", len(passages)))
	c.logger.Debug("Retrieved passages", slog.Int("count", len(passages)))
	return passages, nil
}

func (c *Client) searchWithRetry(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	backoff := c.config.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		passages, err := c.searchOnce(ctx, query, limit)
		if err == nil {
			return passages, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.config.RetryAttempts {
			break
		}

		c.logger.Info("Retrying passage search after transient error",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff))
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, c.config.MaxRetryBackoff)
	}

	return nil, lastErr
}

func (c *Client) searchOnce(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	nearText := c.weaviate.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "canonicalId"},
		{Name: "text"},
		{Name: "chapter"},
		{Name: "verse"},
		{Name: "translator"},
		{Name: "_additional { distance }"},
	}

	result, err := c.weaviate.GraphQL().Get().
		WithClassName(c.config.ClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return c.parseResults(result), nil
}

// parseResults converts the GraphQL response into passages, skipping
// malformed objects.
func (c *Client) parseResults(result *models.GraphQLResponse) []datatypes.Passage {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []datatypes.Passage{}
	}
	objects, ok := data[c.config.ClassName].([]interface{})
	if !ok {
		return []datatypes.Passage{}
	}

	passages := make([]datatypes.Passage, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		canonicalID := getString(m, "canonicalId")
		text := getString(m, "text")
		if canonicalID == "" || text == "" {
			continue
		}

		passage := datatypes.Passage{
			CanonicalID: canonicalID,
			Text:        text,
			Relevance:   relevanceFromDistance(m),
			Metadata:    map[string]any{},
		}
		if chapter := getFloat64(m, "chapter"); chapter > 0 {
			passage.Metadata["chapter"] = int(chapter)
		}
		if verse := getFloat64(m, "verse"); verse > 0 {
			passage.Metadata["verse"] = int(verse)
		}
		if translator := getString(m, "translator"); translator != "" {
			passage.Metadata["translator"] = translator
		}

		passages = append(passages, passage)
	}
	return passages
}

// Ready reports whether Weaviate answers its readiness check. Used by the
// health endpoint; failures here never trip the breaker.
func (c *Client) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	isReady, err := c.weaviate.Misc().ReadyChecker().Do(ctx)
	return err == nil && isReady
}

// Snapshot exposes the breaker state for the admin surface.
func (c *Client) Snapshot() breaker.Snapshot {
	return c.breaker.Snapshot()
}

// ResetBreaker force-closes the retrieval breaker.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// relevanceFromDistance maps a cosine distance onto [0, 1], higher is closer.
func relevanceFromDistance(m map[string]interface{}) float64 {
	additional, ok := m["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	distance, ok := additional["distance"].(float64)
	if !ok {
		return 0
	}
	relevance := 1 - distance
	if relevance < 0 {
		return 0
	}
	if relevance > 1 {
		return 1
	}
	return relevance
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

// isRetryable determines if a search error is worth retrying. GraphQL-level
// errors are application errors; only network-shaped failures retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
