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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("atlas.graph")
	meter  = otel.Meter("atlas.graph")
)

// Metrics for graph operations.
var (
	buildLatency     metric.Float64Histogram
	buildTotal       metric.Int64Counter
	nodesCreated     metric.Int64Histogram
	edgesCreated     metric.Int64Histogram
	malformedTotal   metric.Int64Counter
	rankLatency      metric.Float64Histogram
	rankIterations   metric.Int64Histogram
	rankNonConverged metric.Int64Counter
	louvainLatency   metric.Float64Histogram
	louvainClusters  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"atlas_graph_build_duration_seconds",
			metric.WithDescription("Duration of graph build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"atlas_graph_build_total",
			metric.WithDescription("Total number of graph build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Histogram(
			"atlas_graph_nodes_created",
			metric.WithDescription("Number of nodes created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesCreated, err = meter.Int64Histogram(
			"atlas_graph_edges_created",
			metric.WithDescription("Number of edges created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		malformedTotal, err = meter.Int64Counter(
			"atlas_graph_malformed_edges_total",
			metric.WithDescription("Total number of malformed edges skipped"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rankLatency, err = meter.Float64Histogram(
			"atlas_pagerank_duration_seconds",
			metric.WithDescription("Duration of PageRank computations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rankIterations, err = meter.Int64Histogram(
			"atlas_pagerank_iterations",
			metric.WithDescription("Power iterations performed per PageRank run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rankNonConverged, err = meter.Int64Counter(
			"atlas_pagerank_not_converged_total",
			metric.WithDescription("PageRank runs that hit the iteration cap"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		louvainLatency, err = meter.Float64Histogram(
			"atlas_louvain_duration_seconds",
			metric.WithDescription("Duration of community detection"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		louvainClusters, err = meter.Int64Histogram(
			"atlas_louvain_clusters",
			metric.WithDescription("Number of clusters per partition"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount, edgeCount, malformed int) {
	if err := initMetrics(); err != nil {
		return
	}

	buildLatency.Record(ctx, duration.Seconds())
	buildTotal.Add(ctx, 1)
	nodesCreated.Record(ctx, int64(nodeCount))
	edgesCreated.Record(ctx, int64(edgeCount))
	if malformed > 0 {
		malformedTotal.Add(ctx, int64(malformed))
	}
}

// recordRankMetrics records metrics for a PageRank run.
func recordRankMetrics(ctx context.Context, duration time.Duration, iterations int, converged bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("converged", converged))
	rankLatency.Record(ctx, duration.Seconds(), attrs)
	rankIterations.Record(ctx, int64(iterations), attrs)
	if !converged {
		rankNonConverged.Add(ctx, 1)
	}
}

// recordCommunityMetrics records metrics for a community detection run.
func recordCommunityMetrics(ctx context.Context, duration time.Duration, clusters, levels int) {
	if err := initMetrics(); err != nil {
		return
	}

	louvainLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Int("levels", levels)),
	)
	louvainClusters.Record(ctx, int64(clusters))
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, nodeCount, edgeCount, malformed int) {
	span.SetAttributes(
		attribute.Int("graph.node_count", nodeCount),
		attribute.Int("graph.edge_count", edgeCount),
		attribute.Int("graph.malformed_edges", malformed),
	)
}
