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
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

var tracer = otel.Tracer("atlas.index")

// Inputs are the per-snapshot outputs the index is derived from.
type Inputs struct {
	// Graph is the record link graph. Required.
	Graph *graph.Graph

	// Partition assigns nodes to clusters. Nil leaves every node without a
	// cluster.
	Partition *graph.Partition

	// Records holds one record per node, indexed by NodeID. Records[i].ID
	// must equal the graph's external id of node i.
	Records []records.EntityRecord

	// CurrentYear bounds the lifespan of entities without a death year.
	// Zero uses the wall clock.
	CurrentYear int

	// Fingerprint identifies the snapshot; carried into the index.
	Fingerprint string

	// Logger receives diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Diagnostics are non-fatal counts gathered during Precompute.
type Diagnostics struct {
	Nodes             int   `json:"nodes"`
	Edges             int   `json:"edges"`
	Records           int   `json:"records"`
	UndatedRecords    int   `json:"undated_records"`
	MalformedRecords  int   `json:"malformed_records"`
	EmptyNeighborSets int   `json:"empty_neighbor_sets"`
	Clusters          int   `json:"clusters"`
	UnclusteredNodes  int   `json:"unclustered_nodes"`
	Tags              int   `json:"tags"`
	MinYear           int   `json:"min_year"`
	MaxYear           int   `json:"max_year"`
	DurationMilli     int64 `json:"duration_ms"`
}

// Precompute derives an Index from a graph, a partition and records.
//
// Description:
//
//	The year, tag, neighbor and cluster derivations are independent and run
//	concurrently. Every set is built by scanning ids in ascending order, so
//	sets come out sorted without a separate sort.
//
//	Year sets: an entity is in by_year[y] when birth <= y <= (death, or
//	CurrentYear when death is unknown). Entities without birth are in no
//	year. Entities with death < birth, or born more than MaxYearSpan years
//	before CurrentYear, are counted as malformed and are in no year. Both
//	kinds stay available for lookup.
//
// Outputs:
//
//	*Index - The immutable index.
//	Diagnostics - Counts for logging; also available via Index.Diagnostics.
//	error - ErrNilGraph, ErrRecordMismatch or ctx.Err().
func Precompute(ctx context.Context, in Inputs) (*Index, Diagnostics, error) {
	ctx, span := tracer.Start(ctx, "index.Precompute")
	defer span.End()
	start := time.Now()

	if in.Graph == nil {
		return nil, Diagnostics{}, ErrNilGraph
	}
	n := in.Graph.NodeCount()
	if len(in.Records) != n {
		return nil, Diagnostics{}, fmt.Errorf("%w: %d records, %d nodes", ErrRecordMismatch, len(in.Records), n)
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currentYear := in.CurrentYear
	if currentYear == 0 {
		currentYear = time.Now().Year()
	}

	lookup := make(map[string]graph.NodeID, n)
	for i := range in.Records {
		ext, _ := in.Graph.ExternalID(graph.NodeID(i))
		if in.Records[i].ID != ext {
			return nil, Diagnostics{}, fmt.Errorf("%w: node %d is %q but record is %q",
				ErrRecordMismatch, i, ext, in.Records[i].ID)
		}
		lookup[ext] = graph.NodeID(i)
	}

	x := &Index{
		fingerprint: in.Fingerprint,
		currentYear: currentYear,
		records:     in.Records,
		lookup:      lookup,
	}
	diag := Diagnostics{
		Nodes:   n,
		Edges:   in.Graph.EdgeCount(),
		Records: len(in.Records),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		minYear, byYear, undated, malformed, err := buildYears(gctx, in.Records, currentYear)
		if err != nil {
			return err
		}
		x.minYear, x.byYear = minYear, byYear
		diag.UndatedRecords, diag.MalformedRecords = undated, malformed
		return nil
	})

	g.Go(func() error {
		byTag, err := buildTags(gctx, in.Records)
		if err != nil {
			return err
		}
		x.byTag = byTag
		x.tags = buildTagCounts(byTag)
		return nil
	})

	g.Go(func() error {
		neighbors, empty, err := buildNeighbors(gctx, in.Graph)
		if err != nil {
			return err
		}
		x.neighbors = neighbors
		diag.EmptyNeighborSets = empty
		return nil
	})

	g.Go(func() error {
		x.clusterOf, x.clusters, diag.UnclusteredNodes = buildClusters(in.Partition, n)
		x.rankPos = buildRankPositions(in.Records)
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, Diagnostics{}, fmt.Errorf("precompute index: %w", err)
	}

	diag.Clusters = len(x.clusters)
	diag.Tags = len(x.byTag)
	diag.MinYear, diag.MaxYear = x.YearRange()
	diag.DurationMilli = time.Since(start).Milliseconds()
	x.diagnostics = diag

	span.SetAttributes(
		attribute.Int("index.nodes", diag.Nodes),
		attribute.Int("index.edges", diag.Edges),
		attribute.Int("index.clusters", diag.Clusters),
		attribute.Int("index.tags", diag.Tags),
	)
	logDiagnostics(logger, diag)
	return x, diag, nil
}

func logDiagnostics(logger *slog.Logger, d Diagnostics) {
	if d.MalformedRecords > 0 {
		logger.Warn("records with an implausible lifespan excluded from year sets",
			slog.Int("malformed", d.MalformedRecords),
		)
	}
	logger.Info("index precomputed",
		slog.Int("nodes", d.Nodes),
		slog.Int("edges", d.Edges),
		slog.Int("undated", d.UndatedRecords),
		slog.Int("empty_neighbor_sets", d.EmptyNeighborSets),
		slog.Int("clusters", d.Clusters),
		slog.Int("tags", d.Tags),
		slog.Int("min_year", d.MinYear),
		slog.Int("max_year", d.MaxYear),
		slog.Int64("duration_ms", d.DurationMilli),
	)
}

// MaxYearSpan bounds how far before the current year the year sets reach.
const MaxYearSpan = records.MaxYear - records.MinYear

// yearInRange reports whether r belongs in some year set.
func yearInRange(r *records.EntityRecord, currentYear int) bool {
	return r.Birth != nil && r.LifespanValid() && *r.Birth <= currentYear && currentYear-*r.Birth <= MaxYearSpan
}

func buildYears(ctx context.Context, recs []records.EntityRecord, currentYear int) (int, []NodeSet, int, int, error) {
	minYear := currentYear
	undated, malformed := 0, 0
	for i := range recs {
		r := &recs[i]
		switch {
		case r.Birth == nil:
			undated++
		case !r.LifespanValid(), currentYear-*r.Birth > MaxYearSpan:
			malformed++
		case *r.Birth < minYear:
			minYear = *r.Birth
		}
	}

	byYear := make([]NodeSet, currentYear-minYear+1)
	for i := range recs {
		if i%4096 == 0 && ctx.Err() != nil {
			return 0, nil, 0, 0, ctx.Err()
		}
		r := &recs[i]
		if !yearInRange(r, currentYear) {
			continue
		}
		end := currentYear
		if r.Death != nil && *r.Death < end {
			end = *r.Death
		}
		for y := *r.Birth; y <= end; y++ {
			byYear[y-minYear] = append(byYear[y-minYear], graph.NodeID(i))
		}
	}
	for i := range byYear {
		if byYear[i] == nil {
			byYear[i] = NodeSet{}
		}
	}
	return minYear, byYear, undated, malformed, nil
}

func buildTags(ctx context.Context, recs []records.EntityRecord) (map[string]NodeSet, error) {
	byTag := make(map[string]NodeSet)
	for i := range recs {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, tag := range recs[i].Tags() {
			byTag[tag] = append(byTag[tag], graph.NodeID(i))
		}
	}
	return byTag, nil
}

// buildNeighbors returns successors ∪ predecessors per node. Every edge u→v
// puts v in u's set and u in v's set, so the relation is symmetric.
func buildNeighbors(ctx context.Context, g *graph.Graph) ([]NodeSet, int, error) {
	n := g.NodeCount()
	out := make([]NodeSet, n)
	empty := 0
	scratch := make([]graph.NodeID, 0, 64)
	for i := 0; i < n; i++ {
		if i%4096 == 0 && ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		id := graph.NodeID(i)
		scratch = append(scratch[:0], g.Successors(id)...)
		scratch = append(scratch, g.Predecessors(id)...)
		out[i] = NewNodeSet(scratch)
		if len(out[i]) == 0 {
			empty++
		}
	}
	return out, empty, nil
}

func buildClusters(p *graph.Partition, n int) ([]int32, []NodeSet, int) {
	clusterOf := make([]int32, n)
	for i := range clusterOf {
		clusterOf[i] = -1
	}
	if p == nil {
		return clusterOf, []NodeSet{}, n
	}

	clusters := make([]NodeSet, p.ClusterCount())
	for c := range clusters {
		members := p.MembersOf(int32(c))
		set := make(NodeSet, 0, len(members))
		for _, id := range members {
			if int(id) < n {
				set = append(set, id)
				clusterOf[id] = int32(c)
			}
		}
		clusters[c] = set
	}

	unclustered := 0
	for _, c := range clusterOf {
		if c < 0 {
			unclustered++
		}
	}
	return clusterOf, clusters, unclustered
}

// buildRankPositions orders records by score descending, ties by id.
func buildRankPositions(recs []records.EntityRecord) []int32 {
	order := make([]int, len(recs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		sa, sb := recs[a].Score, recs[b].Score
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return graph.CompareExternalIDs(recs[a].ID, recs[b].ID)
	})
	pos := make([]int32, len(recs))
	for p, i := range order {
		pos[i] = int32(p)
	}
	return pos
}

