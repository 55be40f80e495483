// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
	"github.com/dharmadesk/dharmadesk/services/counsel/prompt"
)

// scriptedProvider returns queued errors before succeeding, recording every
// prompt it was handed.
type scriptedProvider struct {
	name    string
	errs    []error
	calls   int
	systems []string
	users   []string
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	s.calls++
	s.systems = append(s.systems, systemPrompt)
	s.users = append(s.users, userPrompt)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return GenerationOutcome{}, err
		}
	}
	return GenerationOutcome{Text: `{"ok": true}`, Provider: s.name, Model: "fake"}, nil
}

func transientErr(provider string) error {
	return &ProviderError{Provider: provider, StatusCode: 503, Message: "overloaded"}
}

func permanentErr(provider string) error {
	return &ProviderError{Provider: provider, StatusCode: 401, Message: "bad key"}
}

func testPrompts() prompt.Prompts {
	return prompt.Prompts{
		System:         "full system",
		User:           "full user",
		FallbackSystem: "condensed system",
		FallbackUser:   "condensed user",
	}
}

func newTestClient(t *testing.T, config ClientConfig) *Client {
	t.Helper()
	client, err := NewClient(config)
	require.NoError(t, err)
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func TestClient_PrimarySuccess(t *testing.T) {
	primary := &scriptedProvider{name: "primary"}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{Providers: []Provider{primary, fallback}})

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls)
	assert.Equal(t, "full system", primary.systems[0])
	assert.Equal(t, "full user", primary.users[0])
}

func TestClient_TransientRetriesThenSuccess(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{transientErr("primary"), transientErr("primary")}}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary},
		Retry:     RetryPolicy{MaxAttempts: 3},
	})

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Provider)
	assert.Equal(t, 3, primary.calls)
}

func TestClient_FallbackGetsCondensedPrompt(t *testing.T) {
	primary := &scriptedProvider{
		name: "primary",
		errs: []error{transientErr("primary"), transientErr("primary"), transientErr("primary")},
	}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary, fallback},
		Retry:     RetryPolicy{MaxAttempts: 3},
	})

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.Provider)
	assert.Equal(t, 3, primary.calls)
	require.Equal(t, 1, fallback.calls)
	assert.Equal(t, "condensed system", fallback.systems[0])
	assert.Equal(t, "condensed user", fallback.users[0])
}

func TestClient_PermanentErrorSkipsRetries(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary, fallback},
		Retry:     RetryPolicy{MaxAttempts: 3},
	})

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.Provider)
	assert.Equal(t, 1, primary.calls, "a 4xx must not be retried")
}

func TestClient_AllProvidersFail(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	fallback := &scriptedProvider{name: "fallback", errs: []error{permanentErr("fallback")}}
	client := newTestClient(t, ClientConfig{Providers: []Provider{primary, fallback}})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationUnavailable)

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe, "per-provider causes must be preserved")
}

func TestClient_OneBreakerOutcomePerLogicalCall(t *testing.T) {
	// Three failed attempts within one logical call count as ONE breaker
	// failure, so a threshold of 2 needs two logical calls to open.
	primary := &scriptedProvider{name: "primary", errs: []error{
		transientErr("primary"), transientErr("primary"), transientErr("primary"),
		transientErr("primary"), transientErr("primary"), transientErr("primary"),
	}}
	client := newTestClient(t, ClientConfig{
		Providers:        []Provider{primary},
		Retry:            RetryPolicy{MaxAttempts: 3},
		FailureThreshold: 2,
	})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.Error(t, err)
	snaps := client.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "closed", snaps[0].State)
	assert.Equal(t, 1, snaps[0].Failures)

	_, err = client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, "open", client.Snapshots()[0].State)
}

func TestClient_OpenBreakerSkipsProvider(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers:        []Provider{primary, fallback},
		FailureThreshold: 1,
	})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, 1, primary.calls)

	// Primary's breaker is now open; the next call must not touch it.
	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestClient_ResetBreakerRestoresProvider(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers:        []Provider{primary, fallback},
		FailureThreshold: 1,
	})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	require.Equal(t, "open", client.Snapshots()[0].State)

	require.True(t, client.ResetBreaker("primary"))
	assert.Equal(t, "closed", client.Snapshots()[0].State)

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Provider)

	assert.False(t, client.ResetBreaker("no-such-provider"))
}

func TestClient_StubBypassesBreakers(t *testing.T) {
	client := newTestClient(t, ClientConfig{Providers: []Provider{NewStubProvider()}})

	assert.Empty(t, client.Snapshots(), "the stub must not get a breaker")

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "stub", got.Provider)
	assert.Contains(t, got.Text, "executive_summary")
}

func TestClient_StubIsDeterministic(t *testing.T) {
	stub := NewStubProvider()
	first, err := stub.Generate(context.Background(), "a", "b", GenerationParams{})
	require.NoError(t, err)
	second, err := stub.Generate(context.Background(), "x", "y", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClient_CancelledContextAbortsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &scriptedProvider{name: "primary", errs: []error{transientErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary, fallback},
		Retry:     RetryPolicy{MaxAttempts: 2},
	})
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Generate(ctx, testPrompts(), GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.calls, "cancellation must not fall through the chain")
}

func TestClient_RequiresProviders(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limited", err: &ProviderError{StatusCode: 429}, want: true},
		{name: "server error", err: &ProviderError{StatusCode: 502}, want: true},
		{name: "unauthorized", err: &ProviderError{StatusCode: 401}, want: false},
		{name: "bad request", err: &ProviderError{StatusCode: 400}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "wrapped client timeout", err: &url.Error{Op: "Post", URL: "http://api", Err: context.DeadlineExceeded}, want: true},
		{name: "plain error", err: errors.New("parse failure"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}

func TestIsRetryable_RealClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	httpClient := &http.Client{Timeout: 10 * time.Millisecond}
	_, err := httpClient.Get(server.URL)
	require.Error(t, err)

	assert.True(t, isRetryable(err), "an HTTP client timeout must be retried")
}

func TestClient_TimeoutRetriesThenSuccess(t *testing.T) {
	timeoutErr := &url.Error{Op: "Post", URL: "http://api/v1/messages", Err: context.DeadlineExceeded}
	primary := &scriptedProvider{name: "primary", errs: []error{timeoutErr, timeoutErr}}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary},
		Retry:     RetryPolicy{MaxAttempts: 3},
	})

	got, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Provider)
	assert.Equal(t, 3, primary.calls, "timeouts are transient and must be retried")
}

func TestClient_CancelledContextRecordsNoBreakerFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &scriptedProvider{name: "primary", errs: []error{transientErr("primary")}}
	client := newTestClient(t, ClientConfig{
		Providers:        []Provider{primary},
		Retry:            RetryPolicy{MaxAttempts: 2},
		FailureThreshold: 1,
	})
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Generate(ctx, testPrompts(), GenerationParams{})
	require.ErrorIs(t, err, context.Canceled)

	snap := client.Snapshots()[0]
	assert.Equal(t, "closed", snap.State, "a client disconnect must not open the breaker")
	assert.Equal(t, 0, snap.Failures)
}

type recordingRequestRecorder struct {
	outcomes []string
}

func (r *recordingRequestRecorder) RecordGenerationRequest(ctx context.Context, provider, status string) {
	r.outcomes = append(r.outcomes, provider+":"+status)
}

func TestClient_RecordsRequestOutcomes(t *testing.T) {
	recorder := &recordingRequestRecorder{}
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	fallback := &scriptedProvider{name: "fallback"}
	client := newTestClient(t, ClientConfig{
		Providers: []Provider{primary, fallback},
		Recorder:  recorder,
	})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary:error", "fallback:ok"}, recorder.outcomes)
}

func TestClient_BreakerTransitionsReported(t *testing.T) {
	reporter := &recordingReporter{}
	primary := &scriptedProvider{name: "primary", errs: []error{permanentErr("primary")}}
	client := newTestClient(t, ClientConfig{
		Providers:        []Provider{primary},
		FailureThreshold: 1,
		Reporter:         reporter,
	})

	_, err := client.Generate(context.Background(), testPrompts(), GenerationParams{})
	require.Error(t, err)
	require.Len(t, reporter.transitions, 1)
	assert.Equal(t, "primary:closed->open", reporter.transitions[0])
}

type recordingReporter struct {
	transitions []string
}

func (r *recordingReporter) ReportTransition(name string, from, to breaker.State) {
	r.transitions = append(r.transitions, name+":"+from.String()+"->"+to.String())
}
