// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package refusal detects provider policy refusals in raw model text.
//
// The detector runs before any structural parsing, because a refusal is
// typically plain prose rather than the requested JSON. Its patterns are
// embedded in the binary and compiled once at startup.
package refusal

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dharmadesk/dharmadesk/services/counsel/refusal/patterns"
)

// Pattern is one named refusal heuristic.
type Pattern struct {
	// Id uniquely identifies the pattern (e.g. "CANT_ASSIST").
	Id string `yaml:"id"`

	// Description explains what phrasing the pattern covers.
	Description string `yaml:"description"`

	// Priority orders evaluation; higher runs first.
	Priority int `yaml:"priority"`

	// Regexes are the raw expressions; compiled case-insensitively.
	Regexes []string `yaml:"regexes"`

	compiled []*regexp.Regexp
}

// patternFile mirrors the embedded YAML document.
type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Match describes a detected refusal.
type Match struct {
	// PatternId is the id of the pattern that fired.
	PatternId string

	// Matched is the text fragment that triggered the detection.
	Matched string
}

// Detector scans raw provider text for policy-refusal language.
//
// Thread Safety: Safe for concurrent use after construction.
type Detector struct {
	patterns []Pattern
}

// NewDetector compiles the embedded refusal patterns.
//
// Returns an error only if the embedded YAML is malformed or contains an
// invalid regex, which indicates a broken build.
func NewDetector() (*Detector, error) {
	return newDetectorFromYAML(patterns.RefusalPatterns)
}

func newDetectorFromYAML(data []byte) (*Detector, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded refusal patterns: %w", err)
	}

	for i := range file.Patterns {
		p := &file.Patterns[i]
		if p.Id == "" {
			return nil, fmt.Errorf("refusal pattern %d has no id", i)
		}
		for _, raw := range p.Regexes {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				return nil, fmt.Errorf("failed to compile refusal regex %q in %s: %w", raw, p.Id, err)
			}
			p.compiled = append(p.compiled, re)
		}
	}

	sort.SliceStable(file.Patterns, func(i, j int) bool {
		return file.Patterns[i].Priority > file.Patterns[j].Priority
	})

	return &Detector{patterns: file.Patterns}, nil
}

// Detect scans raw text and reports the first matching refusal pattern.
//
// Outputs:
//
//	bool - True if the text reads as a policy refusal.
//	*Match - The pattern that fired, nil when no refusal was detected.
func (d *Detector) Detect(raw string) (bool, *Match) {
	for _, p := range d.patterns {
		for _, re := range p.compiled {
			if m := re.FindString(raw); m != "" {
				return true, &Match{PatternId: p.Id, Matched: m}
			}
		}
	}
	return false, nil
}
