// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline sequences one consultation run with a degrade-not-fail
// policy: every expected failure mode maps to a well-formed, lower-confidence
// brief instead of an error surfaced to the caller.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dharmadesk/dharmadesk/services/counsel/brief"
	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
	"github.com/dharmadesk/dharmadesk/services/counsel/extract"
	"github.com/dharmadesk/dharmadesk/services/counsel/generate"
	"github.com/dharmadesk/dharmadesk/services/counsel/prompt"
	"github.com/dharmadesk/dharmadesk/services/counsel/refusal"
	"github.com/dharmadesk/dharmadesk/services/counsel/telemetry"
)

// Outcome tags how a consultation concluded.
type Outcome string

const (
	// OutcomeNominal means every stage succeeded.
	OutcomeNominal Outcome = "nominal"

	// OutcomeDegraded means at least one stage failed and the brief was
	// produced on a degrade path.
	OutcomeDegraded Outcome = "degraded"

	// OutcomePolicyViolation means the provider refused and the fixed
	// policy-violation brief was returned.
	OutcomePolicyViolation Outcome = "policy_violation"
)

// Warning tokens attached to degraded results. Machine-readable; the API
// layer passes them through verbatim.
const (
	WarningRetrievalUnavailable  = "retrieval_unavailable"
	WarningGenerationUnavailable = "generation_unavailable"
	WarningExtractionFailed      = "extraction_failed"
)

// Result is the pipeline's answer. It is always renderable: the brief is
// schema-conforming on every path.
type Result struct {
	ConsultationID string                  `json:"consultation_id"`
	Brief          datatypes.AdvisoryBrief `json:"brief"`
	Outcome        Outcome                 `json:"outcome"`
	Warnings       []string                `json:"warnings,omitempty"`

	// Generation describes the provider call on nominal paths; zero-valued
	// when generation never succeeded.
	Generation generate.GenerationOutcome `json:"generation,omitzero"`
}

// PassageSearcher is the retrieval dependency.
type PassageSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]datatypes.Passage, error)
}

// Generator is the generation dependency.
type Generator interface {
	Generate(ctx context.Context, prompts prompt.Prompts, params generate.GenerationParams) (generate.GenerationOutcome, error)
}

// Config wires the orchestrator's dependencies. Searcher, Generator,
// Detector, and Repairer are required.
type Config struct {
	Searcher PassageSearcher
	Generate Generator
	Detector *refusal.Detector
	Repairer *brief.Repairer

	// TopK is how many passages to retrieve per consultation.
	// Default: 8
	TopK int

	Prompt prompt.Config
	Params generate.GenerationParams

	// Metrics is optional; nil disables instrument recording.
	Metrics *telemetry.Metrics

	Logger *slog.Logger
}

// Orchestrator runs consultations. One instance serves all requests; it is
// synchronous and spawns no internal concurrency.
//
// Thread Safety: Safe for concurrent use after construction.
type Orchestrator struct {
	config Config
	logger *slog.Logger
}

// New validates the wiring and returns the orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Searcher == nil {
		return nil, errors.New("searcher must not be nil")
	}
	if config.Generate == nil {
		return nil, errors.New("generator must not be nil")
	}
	if config.Detector == nil {
		return nil, errors.New("refusal detector must not be nil")
	}
	if config.Repairer == nil {
		return nil, errors.New("repairer must not be nil")
	}
	if config.TopK <= 0 {
		config.TopK = 8
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Orchestrator{
		config: config,
		logger: config.Logger.With(slog.String("component", "pipeline")),
	}, nil
}

// Run executes one consultation. It never returns an error: expected
// failures degrade, and only a programming error could panic through.
//
// Stage order: retrieval → prompt → generation → refusal → extraction →
// validation, then the degraded-retrieval penalty.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.ConsultationRequest) Result {
	tracer := otel.Tracer("dharmadesk/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	result := Result{ConsultationID: uuid.NewString()}
	logger := o.logger.With(slog.String("consultation_id", result.ConsultationID))

	// 1. Retrieval. Failure is survivable: continue with no passages.
	passages, retrievalErr := o.retrieve(ctx, span, req)
	if retrievalErr != nil {
		logger.Warn("Retrieval unavailable, continuing without passages",
			slog.String("error", retrievalErr.Error()))
		result.Warnings = append(result.Warnings, WarningRetrievalUnavailable)
	}

	// 2. Prompt construction is pure and cannot fail.
	prompts := prompt.Build(req, passages, o.config.Prompt)

	// 3. Generation across the provider chain.
	generated, generationErr := o.generate(ctx, span, prompts)
	if generationErr != nil {
		logger.Warn("All generation providers exhausted, returning fallback brief",
			slog.String("error", generationErr.Error()))
		result.Warnings = append(result.Warnings, WarningGenerationUnavailable)
		result.Brief = brief.FallbackBrief()
		result.Outcome = OutcomeDegraded
		o.recordOutcome(ctx, result.Outcome)
		return result
	}
	result.Generation = generated

	// 4. Refusal check on the raw text, before any parsing.
	if isRefusal, match := o.config.Detector.Detect(generated.Text); isRefusal {
		logger.Info("Provider refusal detected",
			slog.String("pattern", match.PatternId),
			slog.String("provider", generated.Provider))
		if o.config.Metrics != nil {
			o.config.Metrics.RecordRefusal(ctx, match.PatternId)
		}
		result.Brief = brief.PolicyViolationBrief()
		result.Outcome = OutcomePolicyViolation
		o.recordOutcome(ctx, result.Outcome)
		return result
	}

	// 5. Extraction. Failure is recoverable: repair an empty shell so the
	// caller still gets synthetic options built from retrieved passages.
	raw, extractErr := extract.Object(generated.Text)
	if extractErr != nil {
		logger.Warn("No structured object in provider output, repairing an empty shell",
			slog.String("provider", generated.Provider))
		result.Warnings = append(result.Warnings, WarningExtractionFailed)
		raw = map[string]any{}
	}

	// 6. Validation/repair always succeeds by construction.
	result.Brief = o.config.Repairer.Repair(raw, passages)

	// 7. Degraded-retrieval penalty: no passages means the brief cannot be
	// grounded, so confidence is capped and review forced.
	if len(passages) == 0 {
		if result.Brief.Confidence > 0.5 {
			result.Brief.Confidence = 0.5
		}
		result.Brief.ScholarFlag = true
		if !slices.Contains(result.Warnings, WarningRetrievalUnavailable) {
			result.Warnings = append(result.Warnings, WarningRetrievalUnavailable)
		}
	}

	result.Outcome = OutcomeNominal
	if len(result.Warnings) > 0 {
		result.Outcome = OutcomeDegraded
	}
	o.recordOutcome(ctx, result.Outcome)
	logger.Info("Consultation complete",
		slog.String("outcome", string(result.Outcome)),
		slog.Float64("confidence", result.Brief.Confidence),
		slog.Bool("scholar_flag", result.Brief.ScholarFlag))
	return result
}

func (o *Orchestrator) retrieve(ctx context.Context, span trace.Span, req datatypes.ConsultationRequest) ([]datatypes.Passage, error) {
	start := time.Now()
	query := req.Title + "\n" + req.Description
	passages, err := o.config.Searcher.Search(ctx, query, o.config.TopK)
	o.recordStage(ctx, "retrieval", err, start)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

func (o *Orchestrator) generate(ctx context.Context, span trace.Span, prompts prompt.Prompts) (generate.GenerationOutcome, error) {
	start := time.Now()
	outcome, err := o.config.Generate.Generate(ctx, prompts, o.config.Params)
	o.recordStage(ctx, "generation", err, start)
	if err != nil {
		return generate.GenerationOutcome{}, err
	}
	span.SetAttributes(attribute.String("provider", outcome.Provider))
	return outcome, nil
}

func (o *Orchestrator) recordStage(ctx context.Context, stage string, err error, start time.Time) {
	if o.config.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.config.Metrics.RecordStage(ctx, stage, status, time.Since(start).Seconds())
}

func (o *Orchestrator) recordOutcome(ctx context.Context, outcome Outcome) {
	if o.config.Metrics == nil {
		return
	}
	o.config.Metrics.RecordOutcome(ctx, string(outcome))
}
