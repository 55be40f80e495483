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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
	"github.com/dharmadesk/dharmadesk/services/counsel/prompt"
)

// RetryPolicy bounds the retry loop for one provider.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per provider per call.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry up to MaxBackoff.
	// Default: 200ms
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	// Default: 2s
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns sensible defaults for production use.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (p *RetryPolicy) applyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
}

// ClientConfig configures the generation chain.
type ClientConfig struct {
	// Providers in priority order. The first is the primary and receives
	// the full prompt; every later provider receives the condensed one.
	Providers []Provider

	Retry RetryPolicy

	// FailureThreshold and RecoveryTimeout configure the per-provider
	// breakers. Zero values use the breaker package defaults.
	FailureThreshold int
	RecoveryTimeout  time.Duration

	// Reporter receives breaker transitions. Optional.
	Reporter breaker.TransitionReporter

	// Recorder receives one outcome per provider per logical call. Optional.
	Recorder RequestRecorder

	Logger *slog.Logger
}

// RequestRecorder counts provider outcomes, one per provider per logical
// call, mirroring what the breaker sees.
type RequestRecorder interface {
	RecordGenerationRequest(ctx context.Context, provider, status string)
}

// Client runs one logical generation call across the provider chain.
//
// Each provider is guarded by its own circuit breaker. Within one logical
// call a provider is retried on transient faults up to the retry policy,
// but its breaker records at most one outcome: success if any attempt
// succeeded, failure if the provider was exhausted.
//
// Thread Safety: Safe for concurrent use after construction.
type Client struct {
	providers []Provider
	breakers  map[string]*breaker.Breaker
	retry     RetryPolicy
	recorder  RequestRecorder
	logger    *slog.Logger

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds the chain and one breaker per non-exempt provider.
func NewClient(config ClientConfig) (*Client, error) {
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	config.Retry.applyDefaults()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	breakers := make(map[string]*breaker.Breaker, len(config.Providers))
	for _, p := range config.Providers {
		if isBreakerExempt(p) {
			continue
		}
		br, err := breaker.New(breaker.Config{
			Name:             p.Name(),
			FailureThreshold: config.FailureThreshold,
			RecoveryTimeout:  config.RecoveryTimeout,
			Reporter:         config.Reporter,
			Logger:           config.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build breaker for %s: %w", p.Name(), err)
		}
		breakers[p.Name()] = br
	}

	return &Client{
		providers: config.Providers,
		breakers:  breakers,
		retry:     config.Retry,
		recorder:  config.Recorder,
		logger:    config.Logger.With(slog.String("component", "generation_client")),
		sleep:     sleepContext,
	}, nil
}

// Generate walks the provider chain until one produces text.
//
// Outputs:
//
//	GenerationOutcome - The first successful provider result.
//	error - ErrGenerationUnavailable (wrapped with per-provider causes)
//	        when every provider is open, exhausted, or failed; or the
//	        context error when the caller cancelled.
func (c *Client) Generate(ctx context.Context, prompts prompt.Prompts, params GenerationParams) (GenerationOutcome, error) {
	tracer := otel.Tracer("dharmadesk/generate")
	ctx, span := tracer.Start(ctx, "generate.chain")
	defer span.End()

	var causes []error
	for i, p := range c.providers {
		systemPrompt, userPrompt := prompts.System, prompts.User
		if i > 0 {
			systemPrompt, userPrompt = prompts.FallbackSystem, prompts.FallbackUser
		}

		br := c.breakers[p.Name()]
		if br != nil && !br.Allow() {
			c.logger.Warn("Skipping provider, circuit open", slog.String("provider", p.Name()))
			causes = append(causes, fmt.Errorf("%s: %w", p.Name(), breaker.ErrOpen))
			continue
		}

		outcome, err := c.attemptProvider(ctx, p, systemPrompt, userPrompt, params)
		if err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			c.recordRequest(ctx, p.Name(), "ok")
			span.SetAttributes(attribute.String("provider", p.Name()))
			return outcome, nil
		}

		// A caller-side cancellation says nothing about the provider's
		// health, so it must not count against the breaker.
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return GenerationOutcome{}, ctx.Err()
		}

		if br != nil {
			br.RecordFailure()
		}
		c.recordRequest(ctx, p.Name(), "error")
		causes = append(causes, fmt.Errorf("%s: %w", p.Name(), err))

		c.logger.Warn("Provider exhausted, falling back",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
	}

	span.SetStatus(codes.Error, "all providers unavailable")
	return GenerationOutcome{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, errors.Join(causes...))
}

// attemptProvider retries one provider on transient faults. It records
// nothing on the breaker; the caller converts the final result into one
// outcome.
func (c *Client) attemptProvider(ctx context.Context, p Provider, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		outcome, err := p.Generate(ctx, systemPrompt, userPrompt, params)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if !isRetryable(err) {
			c.logger.Warn("Non-retryable provider error",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()))
			return GenerationOutcome{}, err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		c.logger.Info("Retrying provider after transient error",
			slog.String("provider", p.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff))
		if err := c.sleep(ctx, backoff); err != nil {
			return GenerationOutcome{}, err
		}
		backoff = min(backoff*2, c.retry.MaxBackoff)
	}

	return GenerationOutcome{}, lastErr
}

// Snapshots reports the state of every provider breaker for the admin
// surface, in provider priority order.
func (c *Client) Snapshots() []breaker.Snapshot {
	snapshots := make([]breaker.Snapshot, 0, len(c.breakers))
	for _, p := range c.providers {
		if br := c.breakers[p.Name()]; br != nil {
			snapshots = append(snapshots, br.Snapshot())
		}
	}
	return snapshots
}

// ResetBreaker force-closes the named provider breaker. Returns false when
// no such breaker exists.
func (c *Client) ResetBreaker(name string) bool {
	br, ok := c.breakers[name]
	if !ok {
		return false
	}
	br.Reset()
	return true
}

func (c *Client) recordRequest(ctx context.Context, provider, status string) {
	if c.recorder != nil {
		c.recorder.RecordGenerationRequest(ctx, provider, status)
	}
}

func isBreakerExempt(p Provider) bool {
	e, ok := p.(interface{ BreakerExempt() bool })
	return ok && e.BreakerExempt()
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
