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
	"strconv"
	"strings"
)

// NodeID is a dense, zero-based node identifier.
//
// Ids are assigned sequentially as external identifiers are first observed.
// Within one snapshot the set of ids is exactly {0..N-1}.
type NodeID int32

// Edge is a directed link between two dense node ids.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// Graph is an immutable directed multigraph in compressed sparse row form.
//
// Forward and reverse adjacency are both materialized so that pull-based
// algorithms (PageRank) and neighbor lookups are O(degree).
//
// Thread Safety: Safe for concurrent reads. Never mutated after Build().
type Graph struct {
	externalIDs []string
	lookup      map[string]NodeID

	outOffsets []int
	outTargets []NodeID
	inOffsets  []int
	inSources  []NodeID

	selfLoops int
}

// NodeCount returns the number of nodes. Safe on a nil graph.
func (g *Graph) NodeCount() int {
	if g == nil {
		return 0
	}
	return len(g.externalIDs)
}

// EdgeCount returns the number of directed edges, duplicates included.
func (g *Graph) EdgeCount() int {
	if g == nil {
		return 0
	}
	return len(g.outTargets)
}

// SelfLoopCount returns the number of edges whose endpoints coincide.
func (g *Graph) SelfLoopCount() int {
	if g == nil {
		return 0
	}
	return g.selfLoops
}

// ExternalID returns the external identifier of a node.
func (g *Graph) ExternalID(id NodeID) (string, bool) {
	if !g.Valid(id) {
		return "", false
	}
	return g.externalIDs[id], true
}

// Lookup returns the dense id of an external identifier.
func (g *Graph) Lookup(externalID string) (NodeID, bool) {
	if g == nil {
		return 0, false
	}
	id, ok := g.lookup[externalID]
	return id, ok
}

// Valid reports whether id names a node of this graph.
func (g *Graph) Valid(id NodeID) bool {
	return g != nil && id >= 0 && int(id) < len(g.externalIDs)
}

// ExternalIDs returns a copy of the dense-to-external mapping.
func (g *Graph) ExternalIDs() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.externalIDs))
	copy(out, g.externalIDs)
	return out
}

// Successors returns the targets of id's outgoing edges in insertion order,
// duplicates included. The returned slice must not be modified.
func (g *Graph) Successors(id NodeID) []NodeID {
	if !g.Valid(id) {
		return nil
	}
	return g.outTargets[g.outOffsets[id]:g.outOffsets[id+1]]
}

// Predecessors returns the sources of id's incoming edges in insertion order,
// duplicates included. The returned slice must not be modified.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	if !g.Valid(id) {
		return nil
	}
	return g.inSources[g.inOffsets[id]:g.inOffsets[id+1]]
}

// OutDegree returns the number of outgoing edges of id, duplicates included.
func (g *Graph) OutDegree(id NodeID) int {
	return len(g.Successors(id))
}

// InDegree returns the number of incoming edges of id, duplicates included.
func (g *Graph) InDegree(id NodeID) int {
	return len(g.Predecessors(id))
}

// Edges calls fn for every edge in source order until fn returns false.
func (g *Graph) Edges(fn func(Edge) bool) {
	for u := 0; u < g.NodeCount(); u++ {
		for _, v := range g.Successors(NodeID(u)) {
			if !fn(Edge{From: NodeID(u), To: v}) {
				return
			}
		}
	}
}

// CompareExternalIDs orders external identifiers for deterministic tie-breaking.
//
// Identifiers that parse as integers compare numerically and sort before
// non-numeric ones; everything else compares lexically. Returns -1, 0 or 1.
func CompareExternalIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return strings.Compare(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
