// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel   = "claude-3-5-haiku-20241022"
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Content []anthropicContent `json:"content"`
	Usage   anthropicUsage     `json:"usage"`
	Error   *anthropicAPIError `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicConfig configures the secondary provider adapter.
type AnthropicConfig struct {
	APIKey string

	// Model defaults to a small claude model when empty.
	Model string

	// BaseURL overrides the messages endpoint, mainly for tests.
	BaseURL string

	Logger *slog.Logger
}

// AnthropicProvider speaks the Anthropic messages API over raw HTTP.
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// NewAnthropicProvider builds the adapter, failing when no key is set.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is missing")
	}
	if config.Model == "" {
		config.Model = anthropicDefaultModel
		slog.Warn("Anthropic model not set, defaulting", slog.String("model", config.Model))
	}
	if config.BaseURL == "" {
		config.BaseURL = anthropicDefaultBaseURL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     config.APIKey,
		model:      config.Model,
		baseURL:    config.BaseURL,
		logger:     config.Logger.With(slog.String("provider", "anthropic")),
	}, nil
}

// Name implements the Provider interface.
func (a *AnthropicProvider) Name() string { return "anthropic" }

// Generate implements the Provider interface.
func (a *AnthropicProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	payload := anthropicRequest{
		Model:     a.model,
		Messages:  []anthropicMessage{{Role: "user", Content: userPrompt}},
		System:    systemPrompt,
		MaxTokens: 4096,
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		payload.StopSeqs = params.Stop
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to marshal the anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to create the anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	a.logger.Debug("Calling Anthropic messages API", slog.String("model", a.model))
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("anthropic HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return GenerationOutcome{}, &ProviderError{
			Provider:   a.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(bodyBytes),
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to parse the anthropic response: %w", err)
	}
	if apiResp.Error != nil {
		return GenerationOutcome{}, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
	}
	if finalText == "" {
		return GenerationOutcome{}, fmt.Errorf("anthropic returned no text content")
	}

	return GenerationOutcome{
		Text:         finalText,
		Provider:     a.Name(),
		Model:        a.model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	}, nil
}
