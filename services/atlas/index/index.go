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
	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

// AllTags is the tag filter sentinel meaning "no tag filter".
const AllTags = "All"

// Index is the immutable, precomputed filter structure for one snapshot.
type Index struct {
	fingerprint string
	currentYear int

	// byYear[i] holds the ids alive in year minYear+i, for years
	// minYear..currentYear.
	minYear int
	byYear  []NodeSet

	byTag     map[string]NodeSet
	neighbors []NodeSet

	clusterOf []int32
	clusters  []NodeSet

	records []records.EntityRecord
	lookup  map[string]graph.NodeID
	rankPos []int32
	tags    []TagCount

	diagnostics Diagnostics
}

// Fingerprint returns the content fingerprint the index was built for.
func (x *Index) Fingerprint() string {
	if x == nil {
		return ""
	}
	return x.fingerprint
}

// NodeCount returns the number of indexed entities.
func (x *Index) NodeCount() int {
	if x == nil {
		return 0
	}
	return len(x.records)
}

// CurrentYear returns the upper bound used for entities without a death year.
func (x *Index) CurrentYear() int {
	return x.currentYear
}

// YearRange returns the earliest birth year and the current year. With no
// dated entity both bounds are the current year.
func (x *Index) YearRange() (minYear, maxYear int) {
	return x.minYear, x.currentYear
}

// ByYear returns the ids alive in year. The set must not be modified.
func (x *Index) ByYear(year int) NodeSet {
	i := year - x.minYear
	if i < 0 || i >= len(x.byYear) {
		return NodeSet{}
	}
	return x.byYear[i]
}

// ByTag returns the ids carrying tag, exact match. Unknown tags yield an
// empty set.
func (x *Index) ByTag(tag string) NodeSet {
	if s, ok := x.byTag[tag]; ok {
		return s
	}
	return NodeSet{}
}

// Neighbors returns the successors ∪ predecessors of id.
func (x *Index) Neighbors(id graph.NodeID) NodeSet {
	if !x.valid(id) {
		return NodeSet{}
	}
	return x.neighbors[id]
}

// Cluster returns every member of id's cluster, id included. Ids absent from
// the partition yield an empty set.
func (x *Index) Cluster(id graph.NodeID) NodeSet {
	c, ok := x.ClusterID(id)
	if !ok {
		return NodeSet{}
	}
	return x.clusters[c]
}

// ClusterID returns id's cluster.
func (x *Index) ClusterID(id graph.NodeID) (int32, bool) {
	if !x.valid(id) || int(id) >= len(x.clusterOf) {
		return 0, false
	}
	c := x.clusterOf[id]
	if c < 0 || int(c) >= len(x.clusters) {
		return 0, false
	}
	return c, true
}

// ClusterCount returns the number of clusters.
func (x *Index) ClusterCount() int {
	return len(x.clusters)
}

// Record returns the display record of id.
func (x *Index) Record(id graph.NodeID) (*records.EntityRecord, bool) {
	if !x.valid(id) {
		return nil, false
	}
	return &x.records[id], true
}

// Lookup returns the node id of an external id.
func (x *Index) Lookup(externalID string) (graph.NodeID, bool) {
	id, ok := x.lookup[externalID]
	return id, ok
}

// Rank returns id's 0-based position in score order.
func (x *Index) Rank(id graph.NodeID) (int, bool) {
	if !x.valid(id) {
		return 0, false
	}
	return int(x.rankPos[id]), true
}

// ColorValue returns the significance of id on a 0..1 scale: 1 for the top
// ranked entity, falling linearly to 0 for the last.
func (x *Index) ColorValue(id graph.NodeID) float64 {
	pos, ok := x.Rank(id)
	if !ok {
		return 0
	}
	return ColorValue(pos, x.NodeCount())
}

// Diagnostics returns the counts gathered while the index was built.
func (x *Index) Diagnostics() Diagnostics {
	return x.diagnostics
}

func (x *Index) valid(id graph.NodeID) bool {
	return x != nil && id >= 0 && int(id) < len(x.records)
}

// ColorValue maps a 0-based rank position among n entities to 1 - pos/(n-1).
// A single entity scores 1.
func ColorValue(pos, n int) float64 {
	if n <= 1 {
		return 1
	}
	if pos < 0 {
		pos = 0
	}
	if pos > n-1 {
		pos = n - 1
	}
	return 1 - float64(pos)/float64(n-1)
}
