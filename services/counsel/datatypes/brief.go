// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// SourceRef is one entry in the brief's root source list.
type SourceRef struct {
	// CanonicalID is the verse locator (e.g. "BG_2_47").
	CanonicalID string `json:"canonical_id"`

	// Paraphrase is a short restatement of the verse.
	Paraphrase string `json:"paraphrase"`

	// Relevance is the retrieval similarity in [0, 1].
	Relevance float64 `json:"relevance"`
}

// Option is one of the brief's three courses of action.
type Option struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Pros        []string `json:"pros"`
	Cons        []string `json:"cons"`

	// Sources holds canonical verse ids supporting this option.
	Sources []string `json:"sources"`
}

// RecommendedAction selects one option and orders its concrete steps.
type RecommendedAction struct {
	// Option is the index into AdvisoryBrief.Options.
	Option int `json:"option"`

	// Steps are ordered, actionable steps.
	Steps []string `json:"steps"`

	// Sources holds canonical verse ids supporting the recommendation.
	Sources []string `json:"sources"`
}

// AdvisoryBrief is the structured, schema-validated output of the pipeline.
//
// The wire contract: exactly three options, confidence in [0, 1], and every
// source id referenced by an option expected (softly) to appear in Sources.
// Downstream callers render this verbatim; it is never partially filled.
type AdvisoryBrief struct {
	ExecutiveSummary  string            `json:"executive_summary"`
	Options           []Option          `json:"options"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	ReflectionPrompts []string          `json:"reflection_prompts"`
	Sources           []SourceRef       `json:"sources"`
	Confidence        float64           `json:"confidence"`
	ScholarFlag       bool              `json:"scholar_flag"`

	// PolicyViolation is true only on the refusal branch.
	PolicyViolation bool `json:"policy_violation,omitempty"`
}
