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
	"slices"
)

// RankedNode is a node with its score and 1-based rank.
type RankedNode struct {
	Node       NodeID  `json:"node"`
	ExternalID string  `json:"external_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// Ranking returns every node ordered by score descending.
//
// Ties are broken by external id (numeric-aware), so the order depends only
// on the graph content and never on map iteration or interning order.
// Nodes beyond len(scores) are treated as scoring 0.
func Ranking(g *Graph, scores []float64) []NodeID {
	n := g.NodeCount()
	order := make([]NodeID, n)
	for i := range order {
		order[i] = NodeID(i)
	}
	score := func(id NodeID) float64 {
		if int(id) < len(scores) {
			return scores[id]
		}
		return 0
	}
	slices.SortStableFunc(order, func(a, b NodeID) int {
		sa, sb := score(a), score(b)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return CompareExternalIDs(g.externalIDs[a], g.externalIDs[b])
	})
	return order
}

// SelectTop returns the k highest ranked nodes whose external id is allowed.
//
// Description:
//
//	Walks Ranking() in order and keeps nodes accepted by allow (nil accepts
//	everything) until k are collected. Rank is the 1-based position among the
//	selected nodes. k <= 0 selects every allowed node.
//
// Outputs:
//
//	[]RankedNode - At most k entries, best first.
func SelectTop(g *Graph, scores []float64, k int, allow func(externalID string) bool) []RankedNode {
	order := Ranking(g, scores)
	if k <= 0 || k > len(order) {
		k = len(order)
	}

	out := make([]RankedNode, 0, k)
	for _, id := range order {
		if len(out) == k {
			break
		}
		ext := g.externalIDs[id]
		if allow != nil && !allow(ext) {
			continue
		}
		var s float64
		if int(id) < len(scores) {
			s = scores[id]
		}
		out = append(out, RankedNode{
			Node:       id,
			ExternalID: ext,
			Score:      s,
			Rank:       len(out) + 1,
		})
	}
	return out
}
