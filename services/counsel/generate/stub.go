// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generate

import "context"

// stubBriefText is a complete, valid advisory brief. It cites three widely
// applicable verses so the repaired output carries real canonical ids.
const stubBriefText = `{
  "executive_summary": "Act from your own duty, deliberate carefully, and release attachment to the outcome.",
  "options": [
    {
      "title": "Act on your duty now",
      "description": "Take the action your role demands without waiting for a guaranteed result.",
      "pros": ["Aligned with your responsibilities", "Avoids paralysis"],
      "cons": ["Outcome remains uncertain"],
      "sources": ["BG_2_47"]
    },
    {
      "title": "Hold to your own path",
      "description": "Prefer your own imperfect duty over imitating what suits someone else.",
      "pros": ["Authentic to your position", "Sustainable over time"],
      "cons": ["May look worse in the short term"],
      "sources": ["BG_3_35"]
    },
    {
      "title": "Reflect fully, then choose",
      "description": "Weigh the counsel you have received and make the decision deliberately your own.",
      "pros": ["Decision is owned, not imposed"],
      "cons": ["Requires time you may not feel you have"],
      "sources": ["BG_18_63"]
    }
  ],
  "recommended_action": {
    "option": 2,
    "steps": ["Set aside time to weigh each option", "Name the duty your role creates", "Decide and act without clinging to the result"],
    "sources": ["BG_18_63", "BG_2_47"]
  },
  "reflection_prompts": [
    "What does your role obligate you to do regardless of outcome?",
    "Which option would you still stand behind a year from now?"
  ],
  "sources": [
    {"canonical_id": "BG_2_47", "paraphrase": "You have a right to your actions, never to their fruits.", "relevance": 0.9},
    {"canonical_id": "BG_3_35", "paraphrase": "Better one's own duty done imperfectly than another's done well.", "relevance": 0.85},
    {"canonical_id": "BG_18_63", "paraphrase": "Reflect on this fully, then act as you choose.", "relevance": 0.8}
  ],
  "confidence": 0.7,
  "scholar_flag": false
}`

// StubProvider returns a fixed, valid advisory brief without any network
// call. It backs the offline consult command and demo deployments, and can
// never fail, so the chain exempts it from circuit breaking.
type StubProvider struct{}

// NewStubProvider builds the offline provider.
func NewStubProvider() *StubProvider { return &StubProvider{} }

// Name implements the Provider interface.
func (s *StubProvider) Name() string { return "stub" }

// BreakerExempt marks the provider as infallible to the chain.
func (s *StubProvider) BreakerExempt() bool { return true }

// Generate implements the Provider interface. The inputs are ignored; the
// output is identical on every call.
func (s *StubProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (GenerationOutcome, error) {
	return GenerationOutcome{
		Text:     stubBriefText,
		Provider: s.Name(),
		Model:    "stub-1",
	}, nil
}
