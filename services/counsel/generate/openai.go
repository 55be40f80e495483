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

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the primary provider adapter.
type OpenAIConfig struct {
	APIKey string

	// Model defaults to gpt-4o-mini when empty.
	Model string

	// BaseURL overrides the API endpoint, mainly for tests and proxies.
	BaseURL string

	Logger *slog.Logger
}

// OpenAIProvider adapts the OpenAI chat completion API to Provider.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIProvider builds the adapter.
//
// Returns an error when no API key is configured, so the caller can drop
// this provider from the chain instead of failing at request time.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is missing")
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting", slog.String("model", config.Model))
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		logger: config.Logger.With(slog.String("provider", "openai")),
	}, nil
}

// Name implements the Provider interface.
func (o *OpenAIProvider) Name() string { return "openai" }

// Generate implements the Provider interface.
func (o *OpenAIProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	o.logger.Debug("Calling OpenAI chat completion", slog.String("model", o.model))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return GenerationOutcome{}, o.classify(err)
	}

	if len(resp.Choices) == 0 {
		return GenerationOutcome{}, fmt.Errorf("openai returned no choices")
	}

	return GenerationOutcome{
		Text:         resp.Choices[0].Message.Content,
		Provider:     o.Name(),
		Model:        o.model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classify maps go-openai error types onto ProviderError so the retry loop
// can use the HTTP status code.
func (o *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: o.Name(), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: o.Name(), StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("openai API call failed: %w", err)
}
