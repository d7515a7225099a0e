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
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link (vs random jump).
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 100

	// DefaultTolerance is the L1 distance between successive iterates below
	// which power iteration stops.
	DefaultTolerance = 1e-9

	// DefaultParallelThreshold is the node count from which an iteration is
	// split across workers.
	DefaultParallelThreshold = 50_000
)

// PageRankOptions configures the PageRank algorithm.
type PageRankOptions struct {
	// DampingFactor is the probability of following a link.
	// Must be in (0, 1); other values use the default. Default: 0.85
	DampingFactor float64 `yaml:"damping_factor" json:"damping_factor"`

	// MaxIterations is the maximum number of power iterations.
	// Must be > 0. Default: 100
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// Tolerance is the L1 convergence threshold.
	// Must be > 0. Default: 1e-9
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`

	// Workers is the number of goroutines per iteration on large graphs.
	// Default: runtime.NumCPU()
	Workers int `yaml:"workers" json:"-"`

	// ParallelThreshold is the node count from which Workers are used.
	// Default: 50,000
	ParallelThreshold int `yaml:"parallel_threshold" json:"-"`
}

// Validate checks options and applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor <= 0 || o.DampingFactor >= 1 || math.IsNaN(o.DampingFactor) {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance <= 0 || math.IsNaN(o.Tolerance) {
		o.Tolerance = DefaultTolerance
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.ParallelThreshold <= 0 {
		o.ParallelThreshold = DefaultParallelThreshold
	}
}

// DefaultPageRankOptions returns sensible defaults.
func DefaultPageRankOptions() *PageRankOptions {
	o := &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
	o.Validate()
	return o
}

// RankResult contains the output of a PageRank computation.
type RankResult struct {
	// Scores is indexed by NodeID. Non-negative, sums to 1.
	Scores []float64

	// Iterations is the number of power iterations performed.
	Iterations int

	// Converged is false when the iteration cap was hit or ctx was cancelled.
	Converged bool

	// Delta is the final L1 distance between successive iterates.
	Delta float64
}

// PageRank computes a stationary importance score for every node.
//
// Description:
//
//	Pull-based power iteration. Every iteration reads the previous iterate
//	and writes a separate buffer, so no node ever sees a partially updated
//	vector. Dangling nodes (no outgoing edges) spread their mass uniformly
//	over all nodes. Duplicate edges count with multiplicity: a node with
//	two links to the same target sends it twice the share.
//
//	Reaching MaxIterations is not an error: a warning is logged and the
//	last iterate is returned with Converged=false.
//
// Inputs:
//
//   - ctx: Context for cancellation. Must not be nil.
//   - g: The graph. Nil or empty yields an empty, converged result.
//   - opts: Configuration options. If nil, defaults are used.
//
// Outputs:
//
//   - *RankResult: Never nil. Scores are normalized to sum to 1.
//
// Thread Safety: Safe for concurrent use; g is only read.
//
// Complexity: O(k × (V + E)) where k = iterations.
func PageRank(ctx context.Context, g *Graph, opts *PageRankOptions) *RankResult {
	ctx, span := tracer.Start(ctx, "graph.PageRank",
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()
	start := time.Now()

	n := g.NodeCount()
	if n == 0 {
		span.AddEvent("empty_graph")
		return &RankResult{Scores: []float64{}, Converged: true}
	}

	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		o := *opts
		o.Validate()
		opts = &o
	}

	span.SetAttributes(
		attribute.Float64("damping_factor", opts.DampingFactor),
		attribute.Int("max_iterations", opts.MaxIterations),
		attribute.Float64("tolerance", opts.Tolerance),
	)

	d := opts.DampingFactor
	N := float64(n)

	prev := make([]float64, n)
	next := make([]float64, n)
	share := make([]float64, n)
	invOut := make([]float64, n)
	dangling := make([]NodeID, 0)
	for u := 0; u < n; u++ {
		prev[u] = 1.0 / N
		if deg := g.OutDegree(NodeID(u)); deg > 0 {
			invOut[u] = 1.0 / float64(deg)
		} else {
			dangling = append(dangling, NodeID(u))
		}
	}
	span.SetAttributes(attribute.Int("dangling_node_count", len(dangling)))

	workers := 1
	if n >= opts.ParallelThreshold && opts.Workers > 1 {
		workers = opts.Workers
	}

	var (
		iterations int
		converged  bool
		delta      float64
	)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(
				attribute.Int("iterations_completed", iter),
			))
			break
		}

		danglingMass := 0.0
		for _, u := range dangling {
			danglingMass += prev[u]
		}
		base := (1-d)/N + d*danglingMass/N

		delta = iterate(g, prev, next, share, invOut, d, base, workers)
		prev, next = next, prev
		iterations = iter + 1

		if delta < opts.Tolerance {
			converged = true
			break
		}
	}

	normalize(prev)
	elapsed := time.Since(start)

	if !converged {
		slog.Warn("PageRank did not converge",
			slog.Int("iterations", iterations),
			slog.Float64("delta", delta),
			slog.Float64("tolerance", opts.Tolerance),
			slog.Int("node_count", n),
		)
	} else {
		slog.Debug("PageRank completed",
			slog.Int("iterations", iterations),
			slog.Float64("delta", delta),
			slog.Int("node_count", n),
			slog.Int("workers", workers),
		)
	}

	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
		attribute.Float64("delta", delta),
	)
	recordRankMetrics(ctx, elapsed, iterations, converged)

	return &RankResult{
		Scores:     prev,
		Iterations: iterations,
		Converged:  converged,
		Delta:      delta,
	}
}

// iterate performs one power iteration from prev into next and returns the
// L1 distance between them. Each node's new score depends only on prev, so
// the result for a node is the same whichever worker computes it.
func iterate(g *Graph, prev, next, share, invOut []float64, d, base float64, workers int) float64 {
	n := len(prev)
	if workers <= 1 {
		for u := 0; u < n; u++ {
			share[u] = prev[u] * invOut[u]
		}
		return pullRange(g, prev, next, share, d, base, 0, n)
	}

	chunkSize := (n + workers - 1) / workers
	partial := make([]float64, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := minInt(start+chunkSize, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(startIdx, endIdx int) {
			defer wg.Done()
			for u := startIdx; u < endIdx; u++ {
				share[u] = prev[u] * invOut[u]
			}
		}(start, end)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := minInt(start+chunkSize, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(workerID, startIdx, endIdx int) {
			defer wg.Done()
			partial[workerID] = pullRange(g, prev, next, share, d, base, startIdx, endIdx)
		}(w, start, end)
	}
	wg.Wait()

	total := 0.0
	for _, p := range partial {
		total += p
	}
	return total
}

func pullRange(g *Graph, prev, next, share []float64, d, base float64, start, end int) float64 {
	delta := 0.0
	for v := start; v < end; v++ {
		sum := 0.0
		for _, u := range g.Predecessors(NodeID(v)) {
			sum += share[u]
		}
		score := base + d*sum
		next[v] = score
		delta += math.Abs(score - prev[v])
	}
	return delta
}

func normalize(scores []float64) {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total <= 0 {
		return
	}
	for i := range scores {
		scores[i] /= total
	}
}
