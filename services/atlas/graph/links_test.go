// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterLinks(t *testing.T) {
	input := "page_id_from\tpage_id_to\n" +
		"1\t10\n" +
		"1\t2\n" +
		"1\t10\n" +
		"1\t99\n" +
		"2\t1\n" +
		"99\t1\n" +
		"3\t3\n"
	keep := map[string]struct{}{"1": {}, "2": {}, "3": {}, "10": {}}

	opts := DefaultEdgeReaderOptions()
	opts.ChunkSize = 3
	links, err := FilterLinks(context.Background(), NewEdgeReader(strings.NewReader(input), opts), keep)
	require.NoError(t, err)

	assert.Equal(t, LinkSets{
		"1": {"2", "10"},
		"2": {"1"},
		"3": {"3"},
	}, links)
}

func TestFilterLinks_StreamError(t *testing.T) {
	r := NewEdgeReader(strings.NewReader("a\tb\n1\t2\n"), DefaultEdgeReaderOptions())
	_, err := FilterLinks(context.Background(), r, map[string]struct{}{"1": {}})
	assert.ErrorIs(t, err, ErrMissingColumn)
}
