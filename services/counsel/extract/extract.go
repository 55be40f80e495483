// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract recovers a JSON object from arbitrary provider text.
//
// Models routinely violate "output only JSON": they wrap the answer in
// markdown fences, prepend an explanation, or append a sign-off. Object
// extracts a single JSON object from such text by trying progressively more
// tolerant strategies. The contract is "find a JSON object" — bare strings,
// arrays and primitives are failures at every strategy.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoObjectFound is returned when no strategy recovers a JSON object.
var ErrNoObjectFound = errors.New("no JSON object found in provider text")

// fencePattern matches fenced code blocks, language-tagged or generic.
// (?s) lets the body span lines.
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\n?(.*?)```")

// Object extracts a JSON object from raw provider text.
//
// Strategies, in order:
//
//  1. Parse the whole text as a single object.
//  2. Parse the contents of each fenced code block.
//  3. Scan for every '{' and attempt a balanced decode from that position,
//     returning the first object-typed result.
//
// Outputs:
//
//	map[string]any - The first object any strategy recovers.
//	error - ErrNoObjectFound if every strategy fails.
func Object(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrNoObjectFound
	}

	if obj, ok := parseObject(trimmed); ok {
		return obj, nil
	}

	for _, match := range fencePattern.FindAllStringSubmatch(trimmed, -1) {
		if obj, ok := parseObject(strings.TrimSpace(match[1])); ok {
			return obj, nil
		}
	}

	if obj, ok := scanForObject(trimmed); ok {
		return obj, nil
	}

	return nil, ErrNoObjectFound
}

// parseObject decodes s as JSON and accepts only object results.
func parseObject(s string) (map[string]any, bool) {
	var value any
	if err := json.Unmarshal([]byte(s), &value); err != nil {
		return nil, false
	}
	obj, ok := value.(map[string]any)
	return obj, ok
}

// scanForObject attempts an incremental decode at every '{' in the text.
//
// json.Decoder stops at the end of the first complete value, so a decode
// started at a '{' succeeds even when prose follows the object.
func scanForObject(s string) (map[string]any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}
