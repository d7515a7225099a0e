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

	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

// SnapshotSchemaVersion is bumped whenever Snapshot changes shape.
const SnapshotSchemaVersion = 1

// Snapshot is the serializable form of an Index.
type Snapshot struct {
	SchemaVersion int                       `json:"schema_version"`
	Fingerprint   string                    `json:"fingerprint"`
	CurrentYear   int                       `json:"current_year"`
	MinYear       int                       `json:"min_year"`
	ByYear        [][]graph.NodeID          `json:"by_year"`
	ByTag         map[string][]graph.NodeID `json:"by_tag"`
	Neighbors     [][]graph.NodeID          `json:"neighbors"`
	ClusterOf     []int32                   `json:"cluster_of"`
	Clusters      [][]graph.NodeID          `json:"clusters"`
	Records       []records.EntityRecord    `json:"records"`
	Diagnostics   Diagnostics               `json:"diagnostics"`
}

// Snapshot returns the serializable form of the index. The returned value
// shares memory with the index and must not be modified.
func (x *Index) Snapshot() *Snapshot {
	s := &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Fingerprint:   x.fingerprint,
		CurrentYear:   x.currentYear,
		MinYear:       x.minYear,
		ByYear:        make([][]graph.NodeID, len(x.byYear)),
		ByTag:         make(map[string][]graph.NodeID, len(x.byTag)),
		Neighbors:     make([][]graph.NodeID, len(x.neighbors)),
		ClusterOf:     x.clusterOf,
		Clusters:      make([][]graph.NodeID, len(x.clusters)),
		Records:       x.records,
		Diagnostics:   x.diagnostics,
	}
	for i, set := range x.byYear {
		s.ByYear[i] = set
	}
	for tag, set := range x.byTag {
		s.ByTag[tag] = set
	}
	for i, set := range x.neighbors {
		s.Neighbors[i] = set
	}
	for i, set := range x.clusters {
		s.Clusters[i] = set
	}
	return s
}

// FromSnapshot rebuilds an Index from its serialized form.
//
// Every set is checked to be sorted and in range, and every per-node table
// to have one entry per record. Any inconsistency returns ErrCorruptSnapshot
// so the caller can treat the artifact as a cache miss.
func FromSnapshot(s *Snapshot) (*Index, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrCorruptSnapshot)
	}
	if s.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrCorruptSnapshot, s.SchemaVersion, SnapshotSchemaVersion)
	}
	n := len(s.Records)
	if len(s.Neighbors) != n || len(s.ClusterOf) != n {
		return nil, fmt.Errorf("%w: per-node tables do not match %d records", ErrCorruptSnapshot, n)
	}
	if s.MinYear > s.CurrentYear || len(s.ByYear) != s.CurrentYear-s.MinYear+1 {
		return nil, fmt.Errorf("%w: year range %d..%d with %d buckets", ErrCorruptSnapshot, s.MinYear, s.CurrentYear, len(s.ByYear))
	}

	check := func(what string, ids []graph.NodeID) (NodeSet, error) {
		set := NodeSet(ids)
		if set == nil {
			set = NodeSet{}
		}
		if !set.sorted() {
			return nil, fmt.Errorf("%w: %s is not sorted", ErrCorruptSnapshot, what)
		}
		if len(set) > 0 && (set[0] < 0 || int(set[len(set)-1]) >= n) {
			return nil, fmt.Errorf("%w: %s references an unknown node", ErrCorruptSnapshot, what)
		}
		return set, nil
	}

	x := &Index{
		fingerprint: s.Fingerprint,
		currentYear: s.CurrentYear,
		minYear:     s.MinYear,
		byYear:      make([]NodeSet, len(s.ByYear)),
		byTag:       make(map[string]NodeSet, len(s.ByTag)),
		neighbors:   make([]NodeSet, n),
		clusterOf:   s.ClusterOf,
		clusters:    make([]NodeSet, len(s.Clusters)),
		records:     s.Records,
		lookup:      make(map[string]graph.NodeID, n),
		diagnostics: s.Diagnostics,
	}

	var err error
	for i, ids := range s.ByYear {
		if x.byYear[i], err = check(fmt.Sprintf("year %d", s.MinYear+i), ids); err != nil {
			return nil, err
		}
	}
	for tag, ids := range s.ByTag {
		if x.byTag[tag], err = check("tag "+tag, ids); err != nil {
			return nil, err
		}
	}
	for i, ids := range s.Neighbors {
		if x.neighbors[i], err = check(fmt.Sprintf("neighbors of %d", i), ids); err != nil {
			return nil, err
		}
	}
	for c, ids := range s.Clusters {
		if x.clusters[c], err = check(fmt.Sprintf("cluster %d", c), ids); err != nil {
			return nil, err
		}
	}
	for id, c := range s.ClusterOf {
		if c < -1 || int(c) >= len(s.Clusters) {
			return nil, fmt.Errorf("%w: node %d in unknown cluster %d", ErrCorruptSnapshot, id, c)
		}
	}

	for i := range s.Records {
		if _, dup := x.lookup[s.Records[i].ID]; dup {
			return nil, fmt.Errorf("%w: duplicate record id %q", ErrCorruptSnapshot, s.Records[i].ID)
		}
		x.lookup[s.Records[i].ID] = graph.NodeID(i)
	}
	x.rankPos = buildRankPositions(s.Records)
	x.tags = buildTagCounts(x.byTag)
	return x, nil
}
