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
	"slices"

	"github.com/AleutianAI/atlas/services/atlas/graph"
)

// NodeSet is a sorted, duplicate-free list of node ids.
type NodeSet []graph.NodeID

// NewNodeSet returns a sorted, deduplicated copy of ids.
func NewNodeSet(ids []graph.NodeID) NodeSet {
	if len(ids) == 0 {
		return NodeSet{}
	}
	out := make(NodeSet, len(ids))
	copy(out, ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// Len returns the number of ids.
func (s NodeSet) Len() int {
	return len(s)
}

// Contains reports whether id is in the set. O(log n).
func (s NodeSet) Contains(id graph.NodeID) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// sorted reports whether s is strictly increasing.
func (s NodeSet) sorted() bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= s[i] {
			return false
		}
	}
	return true
}

// Intersect returns the ids present in both sets.
//
// Description:
//
//	Walks the smaller set and gallops through the larger one: from the last
//	match position the search window doubles until it passes the probe,
//	then a binary search finishes. Cost is O(m · log(n/m)) for set sizes
//	m <= n, so a small filter against a large year bucket stays cheap.
//
// Outputs:
//
//	NodeSet - A new set. Never aliases a or b. Empty, not nil, on no match.
func Intersect(a, b NodeSet) NodeSet {
	if len(a) > len(b) {
		a, b = b, a
	}
	out := make(NodeSet, 0, len(a))
	lo := 0
	for _, x := range a {
		lo = gallop(b, lo, x)
		if lo >= len(b) {
			break
		}
		if b[lo] == x {
			out = append(out, x)
			lo++
		}
	}
	return out
}

// gallop returns the first index i >= lo with s[i] >= x, or len(s).
func gallop(s NodeSet, lo int, x graph.NodeID) int {
	if lo >= len(s) || s[lo] >= x {
		return lo
	}
	step := 1
	hi := lo + step
	for hi < len(s) && s[hi] < x {
		lo = hi
		step *= 2
		hi = lo + step
	}
	if hi > len(s) {
		hi = len(s)
	}
	// s[lo] < x and (hi == len(s) or s[hi] >= x).
	i, _ := slices.BinarySearch(s[lo+1:hi], x)
	return lo + 1 + i
}
