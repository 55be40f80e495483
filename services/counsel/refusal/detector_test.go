// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package refusal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector(t *testing.T) {
	detector, err := NewDetector()
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		isRefusal bool
		patternId string
	}{
		{
			name:      "plain JSON answer",
			input:     `{"executive_summary": "act from duty", "confidence": 0.8}`,
			isRefusal: false,
		},
		{
			name:      "cant assist",
			input:     "I can't assist with this request.",
			isRefusal: true,
			patternId: "CANT_ASSIST",
		},
		{
			name:      "cannot assist uppercase",
			input:     "I CANNOT ASSIST with that.",
			isRefusal: true,
			patternId: "CANT_ASSIST",
		},
		{
			name:      "unable to help with this request",
			input:     "I'm sorry, but I am unable to help with this request.",
			isRefusal: true,
			patternId: "CANT_HELP_REQUEST",
		},
		{
			name:      "policy violation language",
			input:     "Providing this would go against my content policy.",
			isRefusal: true,
			patternId: "POLICY_VIOLATION",
		},
		{
			name:      "as an ai model refusal",
			input:     "As an AI language model, I cannot advise on this.",
			isRefusal: true,
			patternId: "POLICY_VIOLATION",
		},
		{
			name:      "must decline",
			input:     "I must decline to provide guidance here.",
			isRefusal: true,
			patternId: "WONT_PROVIDE",
		},
		{
			name:      "not comfortable",
			input:     "I'm not comfortable providing advice on this topic.",
			isRefusal: true,
			patternId: "NOT_APPROPRIATE",
		},
		{
			name:      "benign text mentioning help",
			input:     "These verses help with discerning duty in hard situations.",
			isRefusal: false,
		},
		{
			name:      "empty text",
			input:     "",
			isRefusal: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, match := detector.Detect(tc.input)
			assert.Equal(t, tc.isRefusal, got)
			if tc.isRefusal {
				require.NotNil(t, match)
				assert.Equal(t, tc.patternId, match.PatternId)
				assert.NotEmpty(t, match.Matched)
			} else {
				assert.Nil(t, match)
			}
		})
	}
}

func TestDetector_PriorityOrder(t *testing.T) {
	detector, err := NewDetector()
	require.NoError(t, err)

	// Text matching both CANT_ASSIST (priority 100) and POLICY_VIOLATION
	// (priority 80) must report the higher-priority pattern.
	got, match := detector.Detect("I can't assist; this violates my content policy.")
	require.True(t, got)
	require.NotNil(t, match)
	assert.Equal(t, "CANT_ASSIST", match.PatternId)
}

func TestNewDetectorFromYAML_Malformed(t *testing.T) {
	t.Run("broken yaml", func(t *testing.T) {
		_, err := newDetectorFromYAML([]byte("patterns: ["))
		assert.Error(t, err)
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := newDetectorFromYAML([]byte("patterns:\n  - id: BAD\n    regexes:\n      - \"([\"\n"))
		assert.Error(t, err)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := newDetectorFromYAML([]byte("patterns:\n  - description: nope\n    regexes: []\n"))
		assert.Error(t, err)
	})
}
