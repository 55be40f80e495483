// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmadesk/dharmadesk/services/counsel/brief"
	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
	"github.com/dharmadesk/dharmadesk/services/counsel/generate"
	"github.com/dharmadesk/dharmadesk/services/counsel/prompt"
	"github.com/dharmadesk/dharmadesk/services/counsel/refusal"
)

// wellFormedJSON is a complete brief as a well-behaved provider returns it.
const wellFormedJSON = `{
  "executive_summary": "Weigh duty against outcome and act deliberately.",
  "options": [
    {"title": "Report internally", "description": "Raise it with compliance first.", "pros": ["Preserves trust"], "cons": ["May be buried"], "sources": ["BG_2_47"]},
    {"title": "Report externally", "description": "Escalate to the regulator.", "pros": ["Protects the public"], "cons": ["Personal risk"], "sources": ["BG_3_35"]},
    {"title": "Gather more evidence", "description": "Document before acting.", "pros": ["Stronger case"], "cons": ["Delay"], "sources": ["BG_2_47"]}
  ],
  "recommended_action": {"option": 0, "steps": ["Collect the reports", "Meet compliance"], "sources": ["BG_2_47"]},
  "reflection_prompts": ["What does your role demand?"],
  "sources": [
    {"canonical_id": "BG_2_47", "paraphrase": "Right to action, not to fruits.", "relevance": 0.9},
    {"canonical_id": "BG_3_35", "paraphrase": "One's own duty, though imperfect.", "relevance": 0.8}
  ],
  "confidence": 0.8,
  "scholar_flag": false
}`

type fakeSearcher struct {
	passages []datatypes.Passage
	err      error
	gotQuery string
	gotLimit int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	f.gotQuery = query
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGenerator struct {
	text       string
	err        error
	gotPrompts prompt.Prompts
}

func (f *fakeGenerator) Generate(ctx context.Context, prompts prompt.Prompts, params generate.GenerationParams) (generate.GenerationOutcome, error) {
	f.gotPrompts = prompts
	if f.err != nil {
		return generate.GenerationOutcome{}, f.err
	}
	return generate.GenerationOutcome{Text: f.text, Provider: "fake", Model: "fake-1"}, nil
}

func testPassages() []datatypes.Passage {
	return []datatypes.Passage{
		{CanonicalID: "BG_2_47", Text: "Right to action, not to fruits.", Relevance: 0.9},
		{CanonicalID: "BG_3_35", Text: "One's own duty, though imperfect.", Relevance: 0.8},
		{CanonicalID: "BG_18_63", Text: "Reflect, then choose.", Relevance: 0.7},
	}
}

func testRequest() datatypes.ConsultationRequest {
	return datatypes.ConsultationRequest{
		Title:       "Whistleblowing at work",
		Description: "My employer is falsifying safety reports.",
	}
}

func newOrchestrator(t *testing.T, searcher PassageSearcher, generator Generator) *Orchestrator {
	t.Helper()
	detector, err := refusal.NewDetector()
	require.NoError(t, err)

	orch, err := New(Config{
		Searcher: searcher,
		Generate: generator,
		Detector: detector,
		Repairer: brief.NewRepairer(brief.DefaultRepairConfig()),
	})
	require.NoError(t, err)
	return orch
}

func TestRun_Nominal(t *testing.T) {
	searcher := &fakeSearcher{passages: testPassages()}
	generator := &fakeGenerator{text: wellFormedJSON}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeNominal, got.Outcome)
	assert.Empty(t, got.Warnings)
	assert.NotEmpty(t, got.ConsultationID)
	assert.False(t, got.Brief.PolicyViolation)
	assert.Equal(t, 0.8, got.Brief.Confidence)
	assert.False(t, got.Brief.ScholarFlag, "confidence above the review threshold")
	require.Len(t, got.Brief.Options, 3)
	assert.Equal(t, "fake", got.Generation.Provider)

	assert.Contains(t, searcher.gotQuery, "Whistleblowing")
	assert.Equal(t, 8, searcher.gotLimit)
	assert.Contains(t, generator.gotPrompts.User, "falsifying safety reports")
}

func TestRun_Refusal(t *testing.T) {
	searcher := &fakeSearcher{passages: testPassages()}
	generator := &fakeGenerator{text: "I can't assist with this request."}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomePolicyViolation, got.Outcome)
	assert.True(t, got.Brief.PolicyViolation)
	assert.Equal(t, 0.0, got.Brief.Confidence)
	assert.True(t, got.Brief.ScholarFlag)
	require.Len(t, got.Brief.Options, 3)
	assert.Empty(t, got.Brief.Sources)
}

func TestRun_RetrievalDownGenerationUp(t *testing.T) {
	searcher := &fakeSearcher{err: context.DeadlineExceeded}
	generator := &fakeGenerator{text: wellFormedJSON}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeDegraded, got.Outcome)
	assert.Contains(t, got.Warnings, WarningRetrievalUnavailable)
	assert.LessOrEqual(t, got.Brief.Confidence, 0.5)
	assert.True(t, got.Brief.ScholarFlag)
	require.Len(t, got.Brief.Options, 3, "the model's options survive the penalty")
	assert.Equal(t, "Report internally", got.Brief.Options[0].Title)
}

func TestRun_AllProvidersExhausted(t *testing.T) {
	searcher := &fakeSearcher{passages: testPassages()}
	generator := &fakeGenerator{err: generate.ErrGenerationUnavailable}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeDegraded, got.Outcome)
	assert.Contains(t, got.Warnings, WarningGenerationUnavailable)
	assert.Equal(t, brief.FallbackBrief(), got.Brief)
	assert.Equal(t, 0.1, got.Brief.Confidence)
}

func TestRun_FencedOutputWithPreamble(t *testing.T) {
	text := "Let me explain my reasoning first.\n\n" +
		"The verses point toward acting from duty.\n\n" +
		"```json\n" + wellFormedJSON + "\n```\n"
	searcher := &fakeSearcher{passages: testPassages()}
	generator := &fakeGenerator{text: text}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeNominal, got.Outcome)
	assert.Equal(t, "Weigh duty against outcome and act deliberately.", got.Brief.ExecutiveSummary)
	assert.NotContains(t, got.Warnings, WarningExtractionFailed)
}

func TestRun_ExtractionFailureSalvaged(t *testing.T) {
	searcher := &fakeSearcher{passages: testPassages()}
	generator := &fakeGenerator{text: "I meditated on this and have no JSON for you."}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeDegraded, got.Outcome)
	assert.Contains(t, got.Warnings, WarningExtractionFailed)
	require.Len(t, got.Brief.Options, 3, "synthetic options fill the shell")
	assert.True(t, got.Brief.ScholarFlag)
	assert.NotEmpty(t, got.Brief.Sources, "synthetic options cite retrieved passages")
}

func TestRun_EmptyRetrievalPenalty(t *testing.T) {
	// Retrieval succeeds but finds nothing: same penalty as an outage.
	searcher := &fakeSearcher{passages: []datatypes.Passage{}}
	generator := &fakeGenerator{text: wellFormedJSON}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomeDegraded, got.Outcome)
	assert.Contains(t, got.Warnings, WarningRetrievalUnavailable)
	assert.LessOrEqual(t, got.Brief.Confidence, 0.5)
	assert.True(t, got.Brief.ScholarFlag)
}

func TestRun_RefusalWinsOverRetrievalFailure(t *testing.T) {
	searcher := &fakeSearcher{err: context.DeadlineExceeded}
	generator := &fakeGenerator{text: "I must decline to provide guidance here."}
	orch := newOrchestrator(t, searcher, generator)

	got := orch.Run(context.Background(), testRequest())

	assert.Equal(t, OutcomePolicyViolation, got.Outcome)
	assert.True(t, got.Brief.PolicyViolation)
	assert.Equal(t, 0.0, got.Brief.Confidence)
}

func TestNew_ValidatesDependencies(t *testing.T) {
	detector, err := refusal.NewDetector()
	require.NoError(t, err)
	repairer := brief.NewRepairer(brief.DefaultRepairConfig())
	searcher := &fakeSearcher{}
	generator := &fakeGenerator{}

	tests := []struct {
		name   string
		config Config
	}{
		{name: "missing searcher", config: Config{Generate: generator, Detector: detector, Repairer: repairer}},
		{name: "missing generator", config: Config{Searcher: searcher, Detector: detector, Repairer: repairer}},
		{name: "missing detector", config: Config{Searcher: searcher, Generate: generator, Repairer: repairer}},
		{name: "missing repairer", config: Config{Searcher: searcher, Generate: generator, Detector: detector}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.config)
			assert.Error(t, err)
		})
	}
}
