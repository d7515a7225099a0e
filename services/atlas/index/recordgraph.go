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
	"log/slog"
	"slices"

	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

// RecordGraph builds the link graph over a record set.
//
// Description:
//
//	Records are sorted by score descending (ties by id) and interned first,
//	so node ids follow rank order and every record has a node, isolated or
//	not. Each record's outgoing links are then added; links to ids outside
//	the record set are dropped and counted in BuildStats.DroppedEdges.
//
// Outputs:
//
//	*graph.BuildResult - The graph.
//	[]records.EntityRecord - The records in NodeID order, ready for Inputs.
func RecordGraph(recs []records.EntityRecord, logger *slog.Logger) (*graph.BuildResult, []records.EntityRecord) {
	ordered := make([]records.EntityRecord, len(recs))
	copy(ordered, recs)
	slices.SortStableFunc(ordered, func(a, b records.EntityRecord) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return graph.CompareExternalIDs(a.ID, b.ID)
	})

	known := make(map[string]struct{}, len(ordered))
	for i := range ordered {
		known[ordered[i].ID] = struct{}{}
	}

	links := 0
	for i := range ordered {
		links += len(ordered[i].Links)
	}

	b := graph.NewBuilder(
		graph.WithCapacityHint(len(ordered), links),
		graph.WithLogger(logger),
		graph.WithEdgeFilter(func(from, to string) bool {
			_, ok := known[to]
			return ok
		}),
	)
	for i := range ordered {
		// Record ids were validated non-empty at load.
		_, _ = b.Intern(ordered[i].ID)
	}
	for i := range ordered {
		for _, target := range ordered[i].Links {
			_ = b.AddEdge(ordered[i].ID, target)
		}
	}
	return b.Build(), ordered
}
