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
	"strings"
	"time"

	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

// GroupKind selects the link-based group filter.
type GroupKind int

const (
	// GroupNone applies no group filter.
	GroupNone GroupKind = iota

	// GroupNeighbors keeps the anchor's link neighbors.
	GroupNeighbors

	// GroupCluster keeps the anchor's cluster members.
	GroupCluster
)

// String returns the wire name of the kind.
func (k GroupKind) String() string {
	switch k {
	case GroupNeighbors:
		return "neighbors"
	case GroupCluster:
		return "cluster"
	default:
		return "none"
	}
}

// ParseGroupKind parses "none", "neighbors" or "cluster". Empty means none.
func ParseGroupKind(s string) (GroupKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return GroupNone, nil
	case "neighbors", "neighbours":
		return GroupNeighbors, nil
	case "cluster":
		return GroupCluster, nil
	}
	return GroupNone, fmt.Errorf("unknown group kind %q", s)
}

// Query is one filter combination.
type Query struct {
	// Year selects entities alive in that year.
	Year int

	// Tag filters by exact tag. "" and AllTags mean no filter.
	Tag string

	// Group selects a link-based filter around Anchor.
	Group GroupKind

	// Anchor is the node the group filter is centered on. A nil Anchor
	// disables the group filter.
	Anchor *graph.NodeID
}

// TagActive reports whether the query filters by tag.
func (q Query) TagActive() bool {
	return q.Tag != "" && q.Tag != AllTags
}

// GroupActive reports whether the query filters by group.
func (q Query) GroupActive() bool {
	return q.Group != GroupNone && q.Anchor != nil
}

// Entry is a resolved entity as shown to clients.
type Entry struct {
	Node       graph.NodeID          `json:"node"`
	Rank       int                   `json:"rank"`
	ColorValue float64               `json:"color_value"`
	Cluster    *int32                `json:"cluster,omitempty"`
	Record     *records.EntityRecord `json:"record"`
}

// Resolver answers queries against one published Index.
//
// Thread Safety: Safe for concurrent use; it only reads the index.
type Resolver struct {
	idx *Index
}

// NewResolver wraps idx.
func NewResolver(idx *Index) *Resolver {
	return &Resolver{idx: idx}
}

// Index returns the wrapped index.
func (r *Resolver) Index() *Index {
	return r.idx
}

// Resolve returns the ids matching q.
//
// Description:
//
//	Starts from by_year[q.Year], then intersects the tag set when a tag
//	filter is active and the group set when a group filter with an anchor
//	is active. Every intersection costs O(m · log(n/m)) in the operand
//	sizes; nothing scans the entity collection.
//
// Outputs:
//
//	NodeSet - Sorted ids. Empty, never an error, when nothing matches or the
//	anchor is unknown. With no tag or group filter the year set itself is
//	returned and must not be modified.
func (r *Resolver) Resolve(q Query) NodeSet {
	start := time.Now()
	result := r.resolve(q)
	recordQuery(q, len(result), time.Since(start))
	return result
}

func (r *Resolver) resolve(q Query) NodeSet {
	if r == nil || r.idx == nil {
		return NodeSet{}
	}
	result := r.idx.ByYear(q.Year)
	if len(result) == 0 {
		return NodeSet{}
	}

	if q.TagActive() {
		result = Intersect(result, r.idx.ByTag(q.Tag))
		if len(result) == 0 {
			return result
		}
	}

	if q.GroupActive() {
		var group NodeSet
		switch q.Group {
		case GroupNeighbors:
			group = r.idx.Neighbors(*q.Anchor)
		case GroupCluster:
			group = r.idx.Cluster(*q.Anchor)
		}
		result = Intersect(result, group)
	}
	return result
}

// Entries returns display entries for ids, in the order given, skipping
// unknown ids.
func (r *Resolver) Entries(ids NodeSet) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, ok := r.Entry(id)
		if ok {
			out = append(out, e)
		}
	}
	return out
}

// Entry returns the display entry of one id.
func (r *Resolver) Entry(id graph.NodeID) (Entry, bool) {
	rec, ok := r.idx.Record(id)
	if !ok {
		return Entry{}, false
	}
	rank, _ := r.idx.Rank(id)
	e := Entry{
		Node:       id,
		Rank:       rank + 1,
		ColorValue: r.idx.ColorValue(id),
		Record:     rec,
	}
	if c, ok := r.idx.ClusterID(id); ok {
		e.Cluster = &c
	}
	return e, true
}

// Lookup returns the node id of an external id.
func (r *Resolver) Lookup(externalID string) (graph.NodeID, bool) {
	if r == nil || r.idx == nil {
		return 0, false
	}
	return r.idx.Lookup(externalID)
}
