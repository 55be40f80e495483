// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Passage is a retrieved reference text with its relevance score.
//
// Relevance is 1 - distance as reported by the similarity search service,
// clamped to [0, 1]. Metadata carries the chapter/verse locator, paraphrase
// and tags as arbitrary key/value pairs.
//
// A Passage lives for exactly one pipeline run.
type Passage struct {
	// CanonicalID is the verse locator (e.g. "BG_2_47").
	CanonicalID string `json:"canonical_id"`

	// Text is the source passage text.
	Text string `json:"text"`

	// Relevance is the similarity score in [0, 1].
	Relevance float64 `json:"relevance"`

	// Metadata holds locator, paraphrase and tag fields.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Paraphrase returns the paraphrase metadata field, or the empty string.
func (p Passage) Paraphrase() string {
	if p.Metadata == nil {
		return ""
	}
	if s, ok := p.Metadata["paraphrase"].(string); ok {
		return s
	}
	return ""
}
