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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Louvain configuration constants.
const (
	// DefaultResolution is the modularity resolution γ.
	// Higher values produce smaller communities, lower values larger ones.
	DefaultResolution = 1.0

	// DefaultThreshold stops the level loop once a level improves modularity
	// by no more than this.
	DefaultThreshold = 1e-7

	// DefaultMaxLevels caps the number of aggregation levels.
	DefaultMaxLevels = 32

	// maxLocalPasses caps the local-move passes of one level. Float noise can
	// otherwise make two nodes swap forever.
	maxLocalPasses = 1000
)

// LouvainOptions configures community detection.
type LouvainOptions struct {
	// Resolution is γ. Default: 1.0
	Resolution float64 `yaml:"resolution" json:"resolution"`

	// Threshold is the minimum per-level modularity gain. Default: 1e-7
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Seed makes the node visit order a seeded shuffle. When nil nodes are
	// visited in ascending id order.
	Seed *uint64 `yaml:"seed" json:"seed,omitempty"`

	// MaxLevels caps aggregation levels. Default: 32
	MaxLevels int `yaml:"max_levels" json:"max_levels"`

	// SkipRefinement keeps internally disconnected communities whole.
	// By default they are split into their connected components.
	SkipRefinement bool `yaml:"skip_refinement" json:"skip_refinement"`
}

// Validate checks options and applies defaults for invalid values.
func (o *LouvainOptions) Validate() {
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = DefaultMaxLevels
	}
}

// DefaultLouvainOptions returns sensible defaults.
func DefaultLouvainOptions() *LouvainOptions {
	return &LouvainOptions{
		Resolution: DefaultResolution,
		Threshold:  DefaultThreshold,
		MaxLevels:  DefaultMaxLevels,
	}
}

// Partition assigns every node to exactly one cluster.
type Partition struct {
	// Assignment maps NodeID to cluster id. Cluster ids are 0..k-1, ordered
	// by each cluster's smallest member.
	Assignment []int32 `json:"assignment"`

	// Members lists each cluster's nodes in ascending order.
	Members [][]NodeID `json:"members"`

	// Modularity is Q of the returned partition on the undirected projection.
	Modularity float64 `json:"modularity"`

	// Levels is the number of aggregation levels performed.
	Levels int `json:"levels"`

	// Converged is false when MaxLevels stopped the level loop.
	Converged bool `json:"converged"`
}

// ClusterOf returns the cluster id of a node.
func (p *Partition) ClusterOf(id NodeID) (int32, bool) {
	if p == nil || id < 0 || int(id) >= len(p.Assignment) {
		return 0, false
	}
	return p.Assignment[id], true
}

// MembersOf returns the nodes of a cluster. The slice must not be modified.
func (p *Partition) MembersOf(cluster int32) []NodeID {
	if p == nil || cluster < 0 || int(cluster) >= len(p.Members) {
		return nil
	}
	return p.Members[cluster]
}

// ClusterCount returns the number of clusters.
func (p *Partition) ClusterCount() int {
	if p == nil {
		return 0
	}
	return len(p.Members)
}

// NodeCount returns the number of assigned nodes.
func (p *Partition) NodeCount() int {
	if p == nil {
		return 0
	}
	return len(p.Assignment)
}

// DetectCommunities partitions the graph with the Louvain method.
//
// Description:
//
//	Runs on the undirected projection of g: every unordered pair {u, v} with
//	at least one edge in either direction becomes one edge of weight 1, and
//	a self-loop becomes one self-edge of weight 1. Duplicates therefore do
//	not strengthen a tie here, unlike in PageRank.
//
//	Each level moves single nodes to the neighboring community with the
//	largest positive modularity gain
//
//	  Δ = w_{i,C}/m − γ·Σtot(C)·k_i/(2m²)   (relative to removal)
//
//	until a full pass makes no move, then contracts communities into
//	super-nodes. Levels stop when one improves modularity by no more than
//	Threshold or makes no move. Unless SkipRefinement is set, communities
//	that are internally disconnected are then split.
//
// Inputs:
//
//   - ctx: Context for cancellation. Must not be nil.
//   - g: The graph. Nil or empty yields an empty partition.
//   - opts: Configuration options. If nil, defaults are used.
//
// Outputs:
//
//   - *Partition: Total assignment, deterministic for a fixed input and Seed.
//   - error: Non-nil only if ctx is cancelled.
//
// Thread Safety: Safe for concurrent use; g is only read.
//
// Complexity: O(L × P × E) where L = levels and P = local passes per level.
func DetectCommunities(ctx context.Context, g *Graph, opts *LouvainOptions) (*Partition, error) {
	ctx, span := tracer.Start(ctx, "graph.DetectCommunities",
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()
	start := time.Now()

	if opts == nil {
		opts = DefaultLouvainOptions()
	} else {
		o := *opts
		o.Validate()
		opts = &o
	}

	n := g.NodeCount()
	if n == 0 {
		span.AddEvent("empty_graph")
		return &Partition{Assignment: []int32{}, Members: [][]NodeID{}, Converged: true}, nil
	}

	base := projectUndirected(g)
	span.SetAttributes(
		attribute.Float64("resolution", opts.Resolution),
		attribute.Float64("total_weight", base.total),
	)

	// No edges: every node is its own cluster and Q is 0.
	if base.total == 0 {
		assign := make([]int32, n)
		for i := range assign {
			assign[i] = int32(i)
		}
		p := newPartition(assign, int32(n))
		p.Converged = true
		recordCommunityMetrics(ctx, time.Since(start), p.ClusterCount(), 0)
		return p, nil
	}

	var rng *rand.Rand
	if opts.Seed != nil {
		rng = rand.New(rand.NewPCG(*opts.Seed, *opts.Seed))
	}

	assign := make([]int32, n)
	for i := range assign {
		assign[i] = int32(i)
	}

	cur := base
	mod := cur.modularity(identity(cur.nodeCount()), int32(cur.nodeCount()), opts.Resolution)
	levels := 0
	converged := false

	for levels < opts.MaxLevels {
		inner, k, moved, err := cur.oneLevel(ctx, opts.Resolution, rng)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("detect communities: %w", err)
		}
		if !moved && levels > 0 {
			converged = true
			break
		}

		for i, c := range assign {
			assign[i] = inner[c]
		}
		levels++

		newMod := cur.modularity(inner, k, opts.Resolution)
		slog.Debug("louvain level",
			slog.Int("level", levels),
			slog.Int("communities", int(k)),
			slog.Float64("modularity", newMod),
		)
		if newMod-mod <= opts.Threshold || !moved {
			converged = true
			break
		}
		mod = newMod
		cur = cur.contract(inner, k)
	}

	var final []int32
	var k int32
	if opts.SkipRefinement {
		final, k = relabel(assign)
	} else {
		final, k = base.splitDisconnected(assign)
	}

	p := newPartition(final, k)
	p.Modularity = base.modularity(final, k, opts.Resolution)
	p.Levels = levels
	p.Converged = converged

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("levels", levels),
		attribute.Int("clusters", int(k)),
		attribute.Float64("modularity", p.Modularity),
	)
	recordCommunityMetrics(ctx, elapsed, int(k), levels)

	slog.Debug("communities detected",
		slog.Int("node_count", n),
		slog.Int("clusters", int(k)),
		slog.Int("levels", levels),
		slog.Float64("modularity", p.Modularity),
		slog.Duration("elapsed", elapsed),
	)
	return p, nil
}

// Modularity computes Q of an arbitrary assignment on the undirected
// projection of g. Assignment values must be in [0, k).
func Modularity(g *Graph, assignment []int32, resolution float64) float64 {
	if g.NodeCount() == 0 || len(assignment) != g.NodeCount() {
		return 0
	}
	base := projectUndirected(g)
	if base.total == 0 {
		return 0
	}
	dense, k := relabel(assignment)
	return base.modularity(dense, k, resolution)
}

func newPartition(assign []int32, k int32) *Partition {
	members := make([][]NodeID, k)
	for id, c := range assign {
		members[c] = append(members[c], NodeID(id))
	}
	return &Partition{Assignment: assign, Members: members}
}

// undirectedGraph is a weighted undirected graph in CSR form. Every non-loop
// edge appears in both endpoints' lists; loops are kept apart.
type undirectedGraph struct {
	offsets []int
	targets []int32
	weights []float64
	loops   []float64
	degree  []float64
	total   float64
}

func projectUndirected(g *Graph) *undirectedGraph {
	n := g.NodeCount()
	ug := &undirectedGraph{
		offsets: make([]int, n+1),
		targets: make([]int32, 0, g.EdgeCount()),
		weights: make([]float64, 0, g.EdgeCount()),
		loops:   make([]float64, n),
	}

	scratch := make([]int32, 0, 16)
	for u := 0; u < n; u++ {
		scratch = scratch[:0]
		for _, v := range g.Successors(NodeID(u)) {
			if int(v) == u {
				ug.loops[u] = 1
				continue
			}
			scratch = append(scratch, int32(v))
		}
		for _, v := range g.Predecessors(NodeID(u)) {
			if int(v) != u {
				scratch = append(scratch, int32(v))
			}
		}
		slices.Sort(scratch)
		scratch = slices.Compact(scratch)
		for _, v := range scratch {
			ug.targets = append(ug.targets, v)
			ug.weights = append(ug.weights, 1)
		}
		ug.offsets[u+1] = len(ug.targets)
	}
	ug.finish()
	return ug
}

func (ug *undirectedGraph) finish() {
	n := ug.nodeCount()
	ug.degree = make([]float64, n)
	sum := 0.0
	for u := 0; u < n; u++ {
		d := 2 * ug.loops[u]
		for _, w := range ug.weights[ug.offsets[u]:ug.offsets[u+1]] {
			d += w
		}
		ug.degree[u] = d
		sum += d
	}
	ug.total = sum / 2
}

func (ug *undirectedGraph) nodeCount() int {
	return len(ug.loops)
}

func (ug *undirectedGraph) neighbors(u int) ([]int32, []float64) {
	lo, hi := ug.offsets[u], ug.offsets[u+1]
	return ug.targets[lo:hi], ug.weights[lo:hi]
}

// oneLevel runs local moves to a fixed point and returns the dense community
// of every node, the community count, and whether any node moved.
func (ug *undirectedGraph) oneLevel(ctx context.Context, gamma float64, rng *rand.Rand) ([]int32, int32, bool, error) {
	n := ug.nodeCount()
	m := ug.total
	m2 := m * m

	comm := identity(n)
	stot := make([]float64, n)
	copy(stot, ug.degree)

	order := identity(n)
	if rng != nil {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	linkWeight := make([]float64, n)
	touched := make([]int32, 0, 16)
	moved := false

	for pass := 0; pass < maxLocalPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, false, err
		}

		moves := 0
		for _, u := range order {
			cu := comm[u]
			k := ug.degree[u]

			touched = touched[:0]
			targets, weights := ug.neighbors(int(u))
			for i, v := range targets {
				c := comm[v]
				if linkWeight[c] == 0 {
					touched = append(touched, c)
				}
				linkWeight[c] += weights[i]
			}

			stot[cu] -= k
			removeCost := -linkWeight[cu]/m + gamma*stot[cu]*k/(2*m2)
			best, bestGain := cu, 0.0
			for _, c := range touched {
				gain := removeCost + linkWeight[c]/m - gamma*stot[c]*k/(2*m2)
				if gain > bestGain {
					best, bestGain = c, gain
				}
			}
			stot[best] += k
			if best != cu {
				comm[u] = best
				moves++
			}

			for _, c := range touched {
				linkWeight[c] = 0
			}
		}

		if moves == 0 {
			break
		}
		moved = true
	}

	dense, k := relabel(comm)
	return dense, k, moved, nil
}

// contract merges each community into one node with summed weights.
func (ug *undirectedGraph) contract(comm []int32, k int32) *undirectedGraph {
	offsets := make([]int, k+1)
	for _, c := range comm {
		offsets[c+1]++
	}
	for c := int32(0); c < k; c++ {
		offsets[c+1] += offsets[c]
	}
	nodes := make([]int32, len(comm))
	pos := make([]int, k)
	copy(pos, offsets[:k])
	for u, c := range comm {
		nodes[pos[c]] = int32(u)
		pos[c]++
	}

	next := &undirectedGraph{
		offsets: make([]int, k+1),
		loops:   make([]float64, k),
	}
	acc := make([]float64, k)
	touched := make([]int32, 0, 16)

	for c := int32(0); c < k; c++ {
		touched = touched[:0]
		for _, u := range nodes[offsets[c]:offsets[c+1]] {
			next.loops[c] += ug.loops[u]
			targets, weights := ug.neighbors(int(u))
			for i, v := range targets {
				cv := comm[v]
				if cv == c {
					// Seen once from each endpoint.
					next.loops[c] += weights[i] / 2
					continue
				}
				if acc[cv] == 0 {
					touched = append(touched, cv)
				}
				acc[cv] += weights[i]
			}
		}
		slices.Sort(touched)
		for _, cv := range touched {
			next.targets = append(next.targets, cv)
			next.weights = append(next.weights, acc[cv])
			acc[cv] = 0
		}
		next.offsets[c+1] = len(next.targets)
	}
	next.finish()
	return next
}

// modularity returns Σ_c [ L_c/m − γ·(Σtot_c / 2m)² ].
func (ug *undirectedGraph) modularity(comm []int32, k int32, gamma float64) float64 {
	m := ug.total
	if m == 0 {
		return 0
	}
	internal := make([]float64, k)
	tot := make([]float64, k)
	for u := 0; u < ug.nodeCount(); u++ {
		c := comm[u]
		tot[c] += ug.degree[u]
		internal[c] += ug.loops[u]
		targets, weights := ug.neighbors(u)
		for i, v := range targets {
			if comm[v] == c {
				internal[c] += weights[i] / 2
			}
		}
	}

	q := 0.0
	for c := int32(0); c < k; c++ {
		frac := tot[c] / (2 * m)
		q += internal[c]/m - gamma*frac*frac
	}
	return q
}

// splitDisconnected splits every community into its connected components
// and labels the results by smallest member id.
func (ug *undirectedGraph) splitDisconnected(comm []int32) ([]int32, int32) {
	n := ug.nodeCount()
	out := make([]int32, n)
	for i := range out {
		out[i] = -1
	}

	next := int32(0)
	queue := make([]int32, 0, 64)
	for s := 0; s < n; s++ {
		if out[s] >= 0 {
			continue
		}
		out[s] = next
		queue = append(queue[:0], int32(s))
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			targets, _ := ug.neighbors(int(u))
			for _, v := range targets {
				if out[v] >= 0 || comm[v] != comm[s] {
					continue
				}
				out[v] = next
				queue = append(queue, v)
			}
		}
		next++
	}
	return out, next
}

// relabel maps arbitrary labels to 0..k-1 in order of first appearance.
func relabel(comm []int32) ([]int32, int32) {
	ids := make(map[int32]int32)
	out := make([]int32, len(comm))
	for i, c := range comm {
		id, ok := ids[c]
		if !ok {
			id = int32(len(ids))
			ids[c] = id
		}
		out[i] = id
	}
	return out, int32(len(ids))
}

func identity(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}
