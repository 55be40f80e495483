// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generate turns prompts into raw model text across a prioritized
// chain of LLM providers, with per-provider circuit breaking and retries.
package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrGenerationUnavailable is returned when every configured provider has
// been exhausted for one logical generation call.
var ErrGenerationUnavailable = errors.New("all generation providers unavailable")

// GenerationParams carries the optional sampling knobs shared by all
// provider backends. Nil fields use each backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// GenerationOutcome is the result of one successful provider call.
type GenerationOutcome struct {
	// Text is the raw model output, unparsed.
	Text string `json:"text"`

	// Provider and Model identify which backend produced the text.
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Token counts are zero when the backend does not report usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Provider is the standard interface for any LLM backend.
type Provider interface {
	// Name identifies the provider for breakers, logs, and metrics.
	Name() string

	// Generate produces text for the given system and user prompts.
	Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error)
}

// ProviderError is an HTTP-level failure from a provider backend. It keeps
// the status code so callers can separate transient faults from permanent
// ones such as bad credentials.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Transient reports whether retrying the same call could plausibly succeed.
// Rate limits and server-side errors are transient; other 4xx are not.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// isRetryable classifies an error for the retry loop.
//
// Cancellation of the parent context is never retryable. Client timeouts
// surface as deadline-exceeded and are retryable; when the parent context
// itself is done the backoff sleep aborts, so a retry never outlives the
// caller. Provider errors use their status code. Anything network-shaped
// (refused connections, DNS failures) is retryable.
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

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
