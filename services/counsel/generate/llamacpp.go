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
	"strings"
	"time"
)

type llamaCppPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type llamaCppResponse struct {
	Content         string `json:"content"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// LlamaCppConfig configures the local llama.cpp server adapter.
type LlamaCppConfig struct {
	// BaseURL points at the llama.cpp server, e.g. http://localhost:8080.
	BaseURL string

	// Model is a label used only for reporting; the server picks the weights.
	Model string

	Logger *slog.Logger
}

// LlamaCppProvider talks to a local llama.cpp completion server. It is the
// last resort in the chain: slow, but always on-box.
type LlamaCppProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

// NewLlamaCppProvider builds the adapter, failing when no base URL is set.
func NewLlamaCppProvider(config LlamaCppConfig) (*LlamaCppProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("llama.cpp base URL is missing")
	}
	if config.Model == "" {
		config.Model = "local"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &LlamaCppProvider{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		logger:     config.Logger.With(slog.String("provider", "llamacpp")),
	}, nil
}

// Name implements the Provider interface.
func (l *LlamaCppProvider) Name() string { return "llamacpp" }

// Generate implements the Provider interface.
//
// The completion endpoint takes a single prompt, so the system prompt is
// prepended to the user prompt.
func (l *LlamaCppProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	completionURL := l.baseURL + "/completion"

	payload := llamaCppPayload{
		Prompt:   systemPrompt + "\n\n" + userPrompt,
		NPredict: 2048,
	}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		payload.Stop = params.Stop
	}

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to marshal the llama.cpp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to create the llama.cpp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	l.logger.Debug("Calling llama.cpp completion", slog.String("url", completionURL))
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("llama.cpp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to read the llama.cpp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return GenerationOutcome{}, &ProviderError{
			Provider:   l.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var llmResp llamaCppResponse
	if err := json.Unmarshal(body, &llmResp); err != nil {
		return GenerationOutcome{}, fmt.Errorf("failed to parse the llama.cpp response: %w", err)
	}

	return GenerationOutcome{
		Text:         llmResp.Content,
		Provider:     l.Name(),
		Model:        l.model,
		InputTokens:  llmResp.TokensEvaluated,
		OutputTokens: llmResp.TokensPredicted,
	}, nil
}
