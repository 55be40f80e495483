// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package brief validates and repairs advisory briefs extracted from
// untrusted model output.
package brief

import (
	"fmt"
	"regexp"
)

// DefaultIDPrefix is the canonical id prefix for the 18-chapter verse corpus.
const DefaultIDPrefix = "BG"

// IDValidator validates canonical verse ids of the form
// PREFIX_<chapter>_<verse> with chapter in [1, 18] and verse >= 1.
//
// Matching is case-sensitive and anchored; leading zeros are rejected.
//
// Thread Safety: Safe for concurrent use after construction.
type IDValidator struct {
	prefix  string
	pattern *regexp.Regexp
}

// NewIDValidator builds a validator for the given prefix. An empty prefix
// selects DefaultIDPrefix.
func NewIDValidator(prefix string) *IDValidator {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s_([1-9]|1[0-8])_([1-9][0-9]*)$`, regexp.QuoteMeta(prefix)))
	return &IDValidator{prefix: prefix, pattern: pattern}
}

// Valid reports whether id is a syntactically valid canonical verse id.
func (v *IDValidator) Valid(id string) bool {
	return v.pattern.MatchString(id)
}

// ValidAny reports whether the value is a string holding a valid id.
// Non-string inputs are always rejected.
func (v *IDValidator) ValidAny(value any) bool {
	s, ok := value.(string)
	return ok && v.Valid(s)
}

// Prefix returns the configured canonical id prefix.
func (v *IDValidator) Prefix() string {
	return v.prefix
}
