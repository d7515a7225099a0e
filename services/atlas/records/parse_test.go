// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTagList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"json", `["physicist", "chemist"]`, []string{"physicist", "chemist"}, false},
		{"python", `['physicist', 'chemist']`, []string{"physicist", "chemist"}, false},
		{"python mixed quotes", `['poet', "children's writer"]`, []string{"poet", "children's writer"}, false},
		{"python escaped quote", `['children\'s writer']`, []string{"children's writer"}, false},
		{"trailing comma", `['a', 'b',]`, []string{"a", "b"}, false},
		{"trims elements", `[" a ", ""]`, []string{"a"}, false},
		{"empty cell", "", nil, false},
		{"nan", "nan", nil, false},
		{"empty list", "[]", nil, false},
		{"bare word", "physicist", nil, true},
		{"unquoted element", "[physicist]", nil, true},
		{"unterminated", `['physicist]`, nil, true},
		{"missing comma", `['a' 'b']`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTagList(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBadList)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLinkList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"plain", "1,2,3", []string{"1", "2", "3"}, false},
		{"braces", "{1,2,3}", []string{"1", "2", "3"}, false},
		{"brackets", "[1, 2, 3]", []string{"1", "2", "3"}, false},
		{"quoted", `['1', '2']`, []string{"1", "2"}, false},
		{"float ids", "1.0,2.0", []string{"1", "2"}, false},
		{"single", "42", []string{"42"}, false},
		{"empty", "", nil, false},
		{"empty braces", "{}", nil, false},
		{"unbalanced", "{1,2", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLinkList(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadList)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseYear(t *testing.T) {
	y, err := parseYear("1879")
	require.NoError(t, err)
	assert.Equal(t, 1879, *y)

	y, err = parseYear("1879.0")
	require.NoError(t, err)
	assert.Equal(t, 1879, *y)

	y, err = parseYear("-428")
	require.NoError(t, err)
	assert.Equal(t, -428, *y)

	y, err = parseYear("")
	require.NoError(t, err)
	assert.Nil(t, y)

	_, err = parseYear("1879.5")
	assert.ErrorIs(t, err, ErrBadNumber)

	_, err = parseYear("unknown")
	assert.ErrorIs(t, err, ErrBadNumber)
}

func TestParseYear_Bounds(t *testing.T) {
	for _, s := range []string{"-100000", "100000", "-100000.0"} {
		_, err := parseYear(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []string{"-100001", "100001", "-20000000", "-20000000.0", "-2000000000", "1e300"} {
		_, err := parseYear(s)
		assert.ErrorIs(t, err, ErrBadNumber, s)
	}
}
