// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/dharmadesk/dharmadesk/pkg/logging"
	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
	"github.com/dharmadesk/dharmadesk/services/counsel/brief"
	"github.com/dharmadesk/dharmadesk/services/counsel/config"
	"github.com/dharmadesk/dharmadesk/services/counsel/generate"
	"github.com/dharmadesk/dharmadesk/services/counsel/pipeline"
	"github.com/dharmadesk/dharmadesk/services/counsel/refusal"
	"github.com/dharmadesk/dharmadesk/services/counsel/retrieval"
	"github.com/dharmadesk/dharmadesk/services/counsel/routes"
	"github.com/dharmadesk/dharmadesk/services/counsel/telemetry"
)

// counselStack holds everything a running counsel service needs. Built
// once at startup and torn down on shutdown.
type counselStack struct {
	cfg           config.Config
	logger        *logging.Logger
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
	generation    *generate.Client
	retrieval     *retrieval.Client
	orchestrator  *pipeline.Orchestrator
}

func (s *counselStack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.meterProvider.Shutdown(ctx); err != nil {
		s.logger.Warn("Meter provider shutdown failed", "error", err.Error())
	}
	if err := s.logger.Close(); err != nil {
		fmt.Println("logger close failed:", err)
	}
}

// buildStack assembles the counsel service from environment config.
// stubOverride forces the deterministic stub provider regardless of
// configured credentials.
func buildStack(stubOverride bool) (*counselStack, error) {
	cfg, err := config.FromEnv(slog.Default())
	if err != nil {
		return nil, err
	}
	if stubOverride {
		cfg.StubMode = true
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  logDir,
		Service: "counsel",
		JSON:    jsonLogs,
		Quiet:   quiet,
	})
	slog.SetDefault(logger.Slog())

	meterProvider, registry, err := telemetry.NewMeterProvider("dharmadesk-counsel")
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	meter := meterProvider.Meter("dharmadesk/counsel")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	providers, err := buildProviders(cfg, logger.Slog())
	if err != nil {
		return nil, err
	}

	generation, err := generate.NewClient(generate.ClientConfig{
		Providers: providers,
		Retry: generate.RetryPolicy{
			MaxAttempts:    cfg.RetryAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     cfg.MaxRetryBackoff,
		},
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		Reporter:         metrics,
		Recorder:         metrics,
		Logger:           logger.Slog(),
	})
	if err != nil {
		return nil, fmt.Errorf("init generation chain: %w", err)
	}

	passages, err := retrieval.New(retrieval.Config{
		URL:              cfg.WeaviateURL,
		ClassName:        cfg.PassageClass,
		MaxResults:       cfg.TopK,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBackoff:     cfg.RetryBackoff,
		MaxRetryBackoff:  cfg.MaxRetryBackoff,
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		Reporter:         metrics,
		Logger:           logger.Slog(),
	})
	if err != nil {
		return nil, fmt.Errorf("init retrieval: %w", err)
	}

	detector, err := refusal.NewDetector()
	if err != nil {
		return nil, fmt.Errorf("init refusal detector: %w", err)
	}

	repairer := brief.NewRepairer(brief.RepairConfig{
		IDPrefix:         cfg.IDPrefix,
		ReviewThreshold:  cfg.ReviewThreshold,
		KeepExtraOptions: cfg.KeepExtraOptions,
		Logger:           logger.Slog(),
	})

	orchestrator, err := pipeline.New(pipeline.Config{
		Searcher: passages,
		Generate: generation,
		Detector: detector,
		Repairer: repairer,
		TopK:     cfg.TopK,
		Metrics:  metrics,
		Logger:   logger.Slog(),
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	if _, err := metrics.RegisterBreakerState(meter, func() []breaker.Snapshot {
		snapshots := generation.Snapshots()
		return append(snapshots, passages.Snapshot())
	}); err != nil {
		return nil, fmt.Errorf("register breaker gauge: %w", err)
	}

	return &counselStack{
		cfg:           cfg,
		logger:        logger,
		meterProvider: meterProvider,
		registry:      registry,
		generation:    generation,
		retrieval:     passages,
		orchestrator:  orchestrator,
	}, nil
}

// buildProviders assembles the generation chain in priority order:
// OpenAI, then Anthropic, then local llama.cpp. Stub mode replaces the
// whole chain.
func buildProviders(cfg config.Config, logger *slog.Logger) ([]generate.Provider, error) {
	if cfg.StubMode {
		logger.Warn("Generation running in stub mode; briefs are canned")
		return []generate.Provider{generate.NewStubProvider()}, nil
	}

	var providers []generate.Provider
	if cfg.OpenAIKey != "" {
		p, err := generate.NewOpenAIProvider(generate.OpenAIConfig{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.AnthropicKey != "" {
		p, err := generate.NewAnthropicProvider(generate.AnthropicConfig{
			APIKey: cfg.AnthropicKey,
			Model:  cfg.AnthropicModel,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init anthropic provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.LlamaCppURL != "" {
		p, err := generate.NewLlamaCppProvider(generate.LlamaCppConfig{
			BaseURL: cfg.LlamaCppURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init llamacpp provider: %w", err)
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, errors.New("no generation provider configured")
	}
	return providers, nil
}

// runServe starts the HTTP server and blocks until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	stack, err := buildStack(false)
	if err != nil {
		return err
	}
	defer stack.close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: stack.orchestrator,
		Generation:   stack.generation,
		Retrieval:    stack.retrieval,
		Registry:     stack.registry,
	})

	server := &http.Server{
		Addr:              ":" + stack.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		stack.logger.Info("Counsel service listening", "port", stack.cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		stack.logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
