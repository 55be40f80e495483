// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config aggregates the service's environment-driven settings into
// one validated struct. Missing values fall back to defaults with a logged
// warning; invalid values fail startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every tunable the service reads at startup.
type Config struct {
	// Port is the HTTP listen port.
	Port string `validate:"required,numeric"`

	// WeaviateURL points at the passage store.
	WeaviateURL string `validate:"required,url"`

	// PassageClass is the Weaviate class holding verse passages.
	PassageClass string `validate:"required"`

	// TopK is how many passages each consultation retrieves.
	TopK int `validate:"gte=1,lte=50"`

	// IDPrefix is the canonical id prefix for the corpus.
	IDPrefix string `validate:"required,alpha"`

	// ReviewThreshold is the confidence below which scholar review is forced.
	ReviewThreshold float64 `validate:"gte=0,lte=1"`

	// KeepExtraOptions keeps options beyond the expected three instead of
	// truncating them.
	KeepExtraOptions bool

	// Provider credentials and endpoints. Empty values disable the
	// corresponding provider.
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	LlamaCppURL    string

	// StubMode replaces the provider chain with the deterministic stub.
	StubMode bool

	// Breaker settings shared by every dependency.
	FailureThreshold int           `validate:"gte=1"`
	RecoveryTimeout  time.Duration `validate:"gt=0"`

	// Retry settings for provider and retrieval calls.
	RetryAttempts   int           `validate:"gte=1,lte=10"`
	RetryBackoff    time.Duration `validate:"gt=0"`
	MaxRetryBackoff time.Duration `validate:"gt=0"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `validate:"oneof=debug info warn error"`
}

// FromEnv reads the environment, applies defaults with warnings, and
// validates the result.
func FromEnv(logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Config{
		Port:             envOr(logger, "DHARMADESK_PORT", "8000"),
		WeaviateURL:      envOr(logger, "WEAVIATE_SERVICE_URL", "http://localhost:8080"),
		PassageClass:     envOr(logger, "PASSAGE_CLASS", "GitaPassage"),
		TopK:             envIntOr(logger, "RETRIEVAL_TOP_K", 8),
		IDPrefix:         envOr(logger, "CANONICAL_ID_PREFIX", "BG"),
		ReviewThreshold:  envFloatOr(logger, "REVIEW_THRESHOLD", 0.6),
		KeepExtraOptions: envBoolOr(logger, "KEEP_EXTRA_OPTIONS", true),
		OpenAIKey:        secretOr(logger, "OPENAI_API_KEY", "/run/secrets/openai_api_key"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		AnthropicKey:     secretOr(logger, "ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key"),
		AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		LlamaCppURL:      os.Getenv("LLM_SERVICE_URL_BASE"),
		StubMode:         envBoolOr(logger, "GENERATION_STUB", false),
		FailureThreshold: envIntOr(logger, "BREAKER_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  envDurationOr(logger, "BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		RetryAttempts:    envIntOr(logger, "RETRY_ATTEMPTS", 3),
		RetryBackoff:     envDurationOr(logger, "RETRY_BACKOFF", 200*time.Millisecond),
		MaxRetryBackoff:  envDurationOr(logger, "RETRY_BACKOFF_MAX", 2*time.Second),
		LogLevel:         envOr(logger, "LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if !cfg.StubMode && cfg.OpenAIKey == "" && cfg.AnthropicKey == "" && cfg.LlamaCppURL == "" {
		logger.Warn("No generation provider configured; falling back to stub mode")
		cfg.StubMode = true
	}

	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Env helpers
// -----------------------------------------------------------------------------

func envOr(logger *slog.Logger, key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	logger.Warn("Environment variable not set, using default",
		slog.String("key", key), slog.String("default", fallback))
	return fallback
}

func envIntOr(logger *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Int("default", fallback))
		return fallback
	}
	return n
}

func envFloatOr(logger *slog.Logger, key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("Invalid float in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Float64("default", fallback))
		return fallback
	}
	return f
}

func envBoolOr(logger *slog.Logger, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("Invalid boolean in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Bool("default", fallback))
		return fallback
	}
	return b
}

func envDurationOr(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("Invalid duration in environment, using default",
			slog.String("key", key), slog.String("value", v), slog.Duration("default", fallback))
		return fallback
	}
	return d
}

// secretOr reads an env var, falling back to a mounted secret file.
func secretOr(logger *slog.Logger, key, secretPath string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		logger.Info("Read credential from mounted secret", slog.String("key", key))
		return strings.TrimSpace(string(content))
	}
	return ""
}
