// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// DefaultTagLimit is the number of entries TagFrequencies returns by default,
// the AllTags entry included.
const DefaultTagLimit = 50

// TagCount is a tag with the number of entities carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// buildTagCounts orders tags by count descending, then by name.
func buildTagCounts(byTag map[string]NodeSet) []TagCount {
	out := make([]TagCount, 0, len(byTag))
	for tag, set := range byTag {
		out = append(out, TagCount{Tag: tag, Count: set.Len()})
	}
	slices.SortFunc(out, func(a, b TagCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Tag, b.Tag)
	})
	return out
}

// TagFrequencies returns the tag filter options: AllTags first (counting
// every entity), then tags by frequency descending and name, limit entries
// in total. limit <= 0 uses DefaultTagLimit.
func (x *Index) TagFrequencies(limit int) []TagCount {
	if limit <= 0 {
		limit = DefaultTagLimit
	}
	out := make([]TagCount, 0, min(limit, len(x.tags)+1))
	out = append(out, TagCount{Tag: AllTags, Count: x.NodeCount()})
	for _, tc := range x.tags {
		if len(out) >= limit {
			break
		}
		if tc.Tag == AllTags {
			continue
		}
		out = append(out, tc)
	}
	return out
}

// MapToYear maps a slider position x in [0, 1] to a year in [minYear,
// maxYear]. The x^0.2 curve compresses the sparse distant past and widens
// recent centuries. The result is truncated toward zero.
func MapToYear(x float64, minYear, maxYear int) (int, error) {
	if math.IsNaN(x) || x < 0 || x > 1 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, x)
	}
	scaled := math.Pow(x, 0.2)
	return int(float64(minYear) + scaled*float64(maxYear-minYear)), nil
}
