// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompt renders consultation requests into provider prompts.
//
// Build is a pure function: no side effects, no randomness. Identical inputs
// always produce identical prompts, which callers rely on for cache-key
// derivation.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
)

// CondensedPassages is the number of passages the condensed prompt carries
// for providers with small context windows.
const CondensedPassages = 3

// Config configures prompt construction.
type Config struct {
	// MaxPassages caps how many retrieved passages the full prompt embeds.
	// Default: 8
	MaxPassages int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxPassages: 8}
}

// Prompts holds both prompt variants for one consultation.
type Prompts struct {
	// System and User form the full prompt for the primary provider.
	System string
	User   string

	// FallbackSystem and FallbackUser form the condensed prompt for
	// constrained fallback providers.
	FallbackSystem string
	FallbackUser   string
}

// SystemPrompt instructs the primary provider.
func SystemPrompt() string {
	return `You are a careful advisor grounded in the Bhagavad Gita. You help a seeker
reason about an ethical dilemma using the supplied verse passages.

Respond with ONLY a JSON object, no prose before or after, shaped exactly as:

{
  "executive_summary": "...",
  "options": [
    {"title": "...", "description": "...", "pros": ["..."], "cons": ["..."], "sources": ["BG_2_47"]}
  ],
  "recommended_action": {"option": 0, "steps": ["..."], "sources": ["BG_2_47"]},
  "reflection_prompts": ["..."],
  "sources": [{"canonical_id": "BG_2_47", "paraphrase": "...", "relevance": 0.9}],
  "confidence": 0.8,
  "scholar_flag": false
}

Rules:
- Offer exactly 3 distinct options.
- Cite only the canonical ids of the passages you were given.
- Set confidence to your honest estimate in [0, 1].
- Set scholar_flag true if the dilemma deserves a human scholar's review.`
}

// FallbackSystemPrompt instructs constrained fallback providers.
func FallbackSystemPrompt() string {
	return `You advise on an ethical dilemma using Bhagavad Gita passages.
Output ONLY a JSON object with keys: executive_summary, options (3 entries of
title/description/pros/cons/sources), recommended_action (option/steps/sources),
reflection_prompts, sources (canonical_id/paraphrase/relevance), confidence,
scholar_flag. Cite only the given canonical ids.`
}

// Build renders both prompt variants for the request and passages.
//
// The full prompt embeds every request field plus up to MaxPassages passages
// with their metadata. The condensed prompt uses only the top three passages
// and abbreviated case fields.
func Build(req datatypes.ConsultationRequest, passages []datatypes.Passage, config Config) Prompts {
	if config.MaxPassages <= 0 {
		config.MaxPassages = DefaultConfig().MaxPassages
	}

	return Prompts{
		System:         SystemPrompt(),
		User:           fullUserPrompt(req, passages, config.MaxPassages),
		FallbackSystem: FallbackSystemPrompt(),
		FallbackUser:   condensedUserPrompt(req, passages),
	}
}

func fullUserPrompt(req datatypes.ConsultationRequest, passages []datatypes.Passage, maxPassages int) string {
	var b strings.Builder

	b.WriteString("## Dilemma\n")
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	if req.Role != "" {
		fmt.Fprintf(&b, "Seeker's role: %s\n", req.Role)
	}
	if len(req.Stakeholders) > 0 {
		fmt.Fprintf(&b, "Stakeholders: %s\n", strings.Join(req.Stakeholders, "; "))
	}
	if len(req.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(req.Constraints, "; "))
	}
	if req.Horizon != "" {
		fmt.Fprintf(&b, "Decision horizon: %s\n", req.Horizon)
	}
	if req.Sensitivity != "" {
		fmt.Fprintf(&b, "Sensitivity: %s\n", req.Sensitivity)
	}

	b.WriteString("\n## Reference passages\n")
	if len(passages) == 0 {
		b.WriteString("(no passages were retrieved; advise from general principles and say so in the summary)\n")
	}
	for i, p := range passages {
		if i >= maxPassages {
			break
		}
		fmt.Fprintf(&b, "\n[%s] (relevance %.2f)\n%s\n", p.CanonicalID, p.Relevance, p.Text)
		writeMetadata(&b, p.Metadata)
	}

	b.WriteString("\nProduce the advisory brief JSON now.\n")
	return b.String()
}

func condensedUserPrompt(req datatypes.ConsultationRequest, passages []datatypes.Passage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Dilemma: %s — %s\n", req.Title, abbreviate(req.Description, 400))
	if req.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", req.Role)
	}

	b.WriteString("Passages:\n")
	for i, p := range passages {
		if i >= CondensedPassages {
			break
		}
		fmt.Fprintf(&b, "[%s] %s\n", p.CanonicalID, abbreviate(p.Text, 280))
	}
	if len(passages) == 0 {
		b.WriteString("(none)\n")
	}

	b.WriteString("Respond with the advisory brief JSON only.\n")
	return b.String()
}

// writeMetadata renders passage metadata in a stable key order.
func writeMetadata(b *strings.Builder, metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %v\n", k, metadata[k])
	}
}

// abbreviate shortens s to at most n runes, appending an ellipsis when cut.
func abbreviate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
