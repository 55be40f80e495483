// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package brief

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDValidator_Valid(t *testing.T) {
	v := NewIDValidator("BG")

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"first chapter first verse", "BG_1_1", true},
		{"two digit chapter", "BG_18_78", true},
		{"mid corpus", "BG_2_47", true},
		{"long verse number", "BG_11_555", true},
		{"chapter above range", "BG_19_1", false},
		{"chapter zero", "BG_0_1", false},
		{"verse zero", "BG_2_0", false},
		{"lowercase prefix", "bg_2_47", false},
		{"leading zero chapter", "BG_02_47", false},
		{"leading zero verse", "BG_2_047", false},
		{"missing verse", "BG_2", false},
		{"trailing garbage", "BG_2_47x", false},
		{"embedded in text", "see BG_2_47", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, v.Valid(tc.id), "id=%q", tc.id)
		})
	}
}

func TestIDValidator_ValidAny(t *testing.T) {
	v := NewIDValidator("")
	assert.Equal(t, "BG", v.Prefix())

	assert.True(t, v.ValidAny("BG_2_47"))
	assert.False(t, v.ValidAny(247))
	assert.False(t, v.ValidAny(nil))
	assert.False(t, v.ValidAny([]string{"BG_2_47"}))
}

func TestIDValidator_CustomPrefix(t *testing.T) {
	v := NewIDValidator("GITA")
	assert.True(t, v.Valid("GITA_3_16"))
	assert.False(t, v.Valid("BG_3_16"))
}
