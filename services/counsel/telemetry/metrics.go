// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry registers the service's OpenTelemetry metrics and wires
// breaker state into them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dharmadesk/dharmadesk/services/counsel/breaker"
)

// Metrics contains pre-defined metrics for the counsel service.
//
// All metrics use the "counsel_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ConsultationsTotal counts pipeline runs by outcome
	// (nominal, degraded, policy_violation).
	ConsultationsTotal metric.Int64Counter

	// StageDuration records per-stage pipeline duration in seconds,
	// labelled by stage and status.
	StageDuration metric.Float64Histogram

	// GenerationRequestsTotal counts provider calls by provider and status.
	GenerationRequestsTotal metric.Int64Counter

	// RefusalsTotal counts detected provider refusals by pattern id.
	RefusalsTotal metric.Int64Counter

	// BreakerTransitionsTotal counts circuit breaker transitions by
	// dependency name and target state.
	BreakerTransitionsTotal metric.Int64Counter

	// BreakerState tracks each breaker's state
	// (0=closed, 1=open, 2=half_open).
	BreakerState metric.Int64ObservableGauge
}

// NewMetrics registers all counsel metrics with the provided meter.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ConsultationsTotal, err = meter.Int64Counter(
		"counsel_consultations_total",
		metric.WithDescription("Total consultation pipeline runs by outcome"),
		metric.WithUnit("{consultation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create consultations_total: %w", err)
	}

	m.StageDuration, err = meter.Float64Histogram(
		"counsel_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage_duration: %w", err)
	}

	m.GenerationRequestsTotal, err = meter.Int64Counter(
		"counsel_generation_requests_total",
		metric.WithDescription("Total generation provider calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create generation_requests_total: %w", err)
	}

	m.RefusalsTotal, err = meter.Int64Counter(
		"counsel_refusals_total",
		metric.WithDescription("Detected provider refusals by pattern"),
		metric.WithUnit("{refusal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refusals_total: %w", err)
	}

	m.BreakerTransitionsTotal, err = meter.Int64Counter(
		"counsel_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker_transitions_total: %w", err)
	}

	return m, nil
}

// RecordOutcome counts one finished consultation.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.ConsultationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordStage records one pipeline stage's duration and status.
func (m *Metrics) RecordStage(ctx context.Context, stage, status string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

// RecordGenerationRequest implements generate.RequestRecorder: one count
// per provider per logical call, status "ok" or "error".
func (m *Metrics) RecordGenerationRequest(ctx context.Context, provider, status string) {
	m.GenerationRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordRefusal counts a detected refusal.
func (m *Metrics) RecordRefusal(ctx context.Context, patternID string) {
	m.RefusalsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pattern", patternID),
	))
}

// ReportTransition implements breaker.TransitionReporter, so Metrics can be
// handed directly to every breaker config.
func (m *Metrics) ReportTransition(name string, from, to breaker.State) {
	m.BreakerTransitionsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("dependency", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// RegisterBreakerState registers a callback gauge over all breakers.
//
// Inputs:
//
//	meter - The OTel meter to use for registration.
//	snapshots - Returns the current breakers; invoked on every scrape.
//
// Outputs:
//
//	metric.Registration - Registration handle for cleanup.
//	error - Non-nil if registration fails.
func (m *Metrics) RegisterBreakerState(meter metric.Meter, snapshots func() []breaker.Snapshot) (metric.Registration, error) {
	var err error
	m.BreakerState, err = meter.Int64ObservableGauge(
		"counsel_breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half_open)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker_state: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, snap := range snapshots() {
			o.ObserveInt64(m.BreakerState, stateValue(snap.State), metric.WithAttributes(
				attribute.String("dependency", snap.Name),
			))
		}
		return nil
	}, m.BreakerState)
}

func stateValue(state string) int64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}
