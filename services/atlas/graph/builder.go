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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// RowError describes one skipped row of an edge stream.
type RowError struct {
	// Line is the 1-based line number in the stream (0 when unknown).
	Line int64

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e RowError) Unwrap() error {
	return e.Err
}

// maxKeptRowErrors caps how many RowErrors a build retains for diagnosis.
// Every malformed row is still counted in BuildStats.
const maxKeptRowErrors = 100

// BuildStats contains statistics about a build operation.
type BuildStats struct {
	// NodesCreated is the number of distinct external ids interned.
	NodesCreated int `json:"nodes_created"`

	// EdgesCreated is the number of edges added, duplicates included.
	EdgesCreated int `json:"edges_created"`

	// MalformedEdges is the number of edges or rows skipped because an id
	// was missing or the row could not be parsed.
	MalformedEdges int `json:"malformed_edges"`

	// DroppedEdges is the number of well-formed edges rejected by an edge
	// filter (for example links leaving a restricted node set).
	DroppedEdges int `json:"dropped_edges"`

	// SelfLoops is the number of edges whose endpoints coincide.
	SelfLoops int `json:"self_loops"`

	// Chunks is the number of chunks consumed.
	Chunks int `json:"chunks"`

	// DurationMilli is the total build time in milliseconds.
	DurationMilli int64 `json:"duration_ms"`
}

// BuildResult contains the result of a graph build.
//
// Builds are resilient: malformed rows never fail a build, they are skipped
// and reported here.
type BuildResult struct {
	// Graph is the constructed graph. Never nil.
	Graph *Graph

	// RowErrors holds the first skipped rows, for diagnosis.
	RowErrors []RowError

	// Stats contains build statistics.
	Stats BuildStats
}

// HasErrors returns true if any row was skipped.
func (r *BuildResult) HasErrors() bool {
	return r.Stats.MalformedEdges > 0
}

// EdgeFilter decides whether an edge between two external ids is kept.
type EdgeFilter func(from, to string) bool

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEdgeFilter drops edges for which filter returns false. Dropped edges do
// not intern their endpoints.
func WithEdgeFilter(filter EdgeFilter) BuilderOption {
	return func(b *Builder) {
		b.filter = filter
	}
}

// WithCapacityHint pre-sizes internal buffers.
func WithCapacityHint(nodes, edges int) BuilderOption {
	return func(b *Builder) {
		if nodes > 0 {
			b.ids = make(map[string]NodeID, nodes)
			b.external = make([]string, 0, nodes)
		}
		if edges > 0 {
			b.src = make([]NodeID, 0, edges)
			b.dst = make([]NodeID, 0, edges)
		}
	}
}

// WithLogger sets the logger for build diagnostics.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Builder turns a stream of external-id edges into a dense Graph.
//
// Description:
//
//	Maintains a monotonic counter. The first time an external id is seen it
//	receives the next dense id and the external<->dense mapping is recorded.
//	Edges are stored as dense pairs, so memory is proportional to distinct
//	ids plus edges, not to the raw identifier text of the stream.
//
// Thread Safety: Not safe for concurrent use.
type Builder struct {
	ids      map[string]NodeID
	external []string
	src      []NodeID
	dst      []NodeID

	filter    EdgeFilter
	logger    *slog.Logger
	stats     BuildStats
	rowErrors []RowError
	frozen    bool
	started   time.Time
	result    *BuildResult
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		ids:     make(map[string]NodeID),
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Intern returns the dense id for externalID, assigning the next id on first
// sight.
//
// Outputs:
//
//	NodeID - The dense id.
//	error - ErrInvalidNode for an empty id, ErrGraphFrozen after Build().
func (b *Builder) Intern(externalID string) (NodeID, error) {
	if b.frozen {
		return 0, ErrGraphFrozen
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, ErrInvalidNode
	}
	return b.intern(externalID), nil
}

func (b *Builder) intern(externalID string) NodeID {
	if id, ok := b.ids[externalID]; ok {
		return id
	}
	id := NodeID(len(b.external))
	b.ids[externalID] = id
	b.external = append(b.external, externalID)
	return id
}

// NodeCount returns the number of ids interned so far.
func (b *Builder) NodeCount() int {
	return len(b.external)
}

// AddEdge appends a directed edge between two external ids.
//
// Outputs:
//
//	error - ErrMalformedEdge when an id is missing (the edge is skipped and
//	counted), ErrGraphFrozen after Build(), nil otherwise. A filtered edge
//	returns nil and is counted in DroppedEdges.
func (b *Builder) AddEdge(from, to string) error {
	if b.frozen {
		return ErrGraphFrozen
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		b.stats.MalformedEdges++
		return ErrMalformedEdge
	}
	if b.filter != nil && !b.filter(from, to) {
		b.stats.DroppedEdges++
		return nil
	}

	u := b.intern(from)
	v := b.intern(to)
	b.src = append(b.src, u)
	b.dst = append(b.dst, v)
	if u == v {
		b.stats.SelfLoops++
	}
	return nil
}

// AddChunk appends a chunk of raw edges read from a stream.
//
// Malformed rows are skipped, counted, and the first few kept as RowErrors.
// The only errors returned are ErrGraphFrozen and ErrBuildCancelled.
func (b *Builder) AddChunk(ctx context.Context, chunk []RawEdge) error {
	if b.frozen {
		return ErrGraphFrozen
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrBuildCancelled, ctx.Err())
	}

	for _, e := range chunk {
		if err := b.AddEdge(e.Source, e.Target); err != nil {
			if errors.Is(err, ErrMalformedEdge) {
				b.noteRowError(e.Line, err)
				continue
			}
			return err
		}
	}
	b.stats.Chunks++
	return nil
}

// ReadAll drains an EdgeReader chunk by chunk into the builder.
//
// Description:
//
//	Only one chunk of raw identifiers is held in memory at a time. Rows the
//	reader could not parse are folded into MalformedEdges.
//
// Outputs:
//
//	error - Non-nil if the underlying stream fails or ctx is cancelled.
func (b *Builder) ReadAll(ctx context.Context, r *EdgeReader) error {
	for {
		chunk, err := r.Next(ctx)
		if len(chunk) > 0 {
			if addErr := b.AddChunk(ctx, chunk); addErr != nil {
				return addErr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if b.stats.Chunks%50 == 0 {
			b.logger.Debug("edge stream progress",
				slog.Int("chunks", b.stats.Chunks),
				slog.Int("nodes", len(b.external)),
				slog.Int("edges", len(b.src)),
			)
		}
	}

	skipped := r.Stats().Malformed
	b.stats.MalformedEdges += skipped
	for _, re := range r.RowErrors() {
		b.noteRowError(re.Line, re.Err)
	}
	return nil
}

func (b *Builder) noteRowError(line int64, err error) {
	if len(b.rowErrors) < maxKeptRowErrors {
		b.rowErrors = append(b.rowErrors, RowError{Line: line, Err: err})
	}
}

// Build freezes the builder and returns the graph.
//
// Description:
//
//	Converts the dense edge list into forward and reverse CSR adjacency
//	with a counting sort. Adjacency lists keep insertion order, so the same
//	input stream always yields the same graph. Zero edges is a valid result:
//	the graph then holds only the interned (isolated) nodes.
//
// Outputs:
//
//	*BuildResult - Never nil. Subsequent calls return the same result.
func (b *Builder) Build() *BuildResult {
	if b.result != nil {
		return b.result
	}

	ctx, span := tracer.Start(context.Background(), "Builder.Build")
	defer span.End()

	b.frozen = true
	n := len(b.external)
	m := len(b.src)

	g := &Graph{
		externalIDs: b.external,
		lookup:      b.ids,
		outOffsets:  make([]int, n+1),
		outTargets:  make([]NodeID, m),
		inOffsets:   make([]int, n+1),
		inSources:   make([]NodeID, m),
		selfLoops:   b.stats.SelfLoops,
	}

	for i := 0; i < m; i++ {
		g.outOffsets[b.src[i]+1]++
		g.inOffsets[b.dst[i]+1]++
	}
	for i := 0; i < n; i++ {
		g.outOffsets[i+1] += g.outOffsets[i]
		g.inOffsets[i+1] += g.inOffsets[i]
	}

	outPos := make([]int, n)
	inPos := make([]int, n)
	copy(outPos, g.outOffsets[:n])
	copy(inPos, g.inOffsets[:n])
	for i := 0; i < m; i++ {
		u, v := b.src[i], b.dst[i]
		g.outTargets[outPos[u]] = v
		outPos[u]++
		g.inSources[inPos[v]] = u
		inPos[v]++
	}

	b.stats.NodesCreated = n
	b.stats.EdgesCreated = m
	elapsed := time.Since(b.started)
	b.stats.DurationMilli = elapsed.Milliseconds()

	setBuildSpanResult(span, n, m, b.stats.MalformedEdges)
	span.SetAttributes(attribute.Int("graph.chunks", b.stats.Chunks))
	recordBuildMetrics(ctx, elapsed, n, m, b.stats.MalformedEdges)

	if b.stats.MalformedEdges > 0 {
		b.logger.Warn("skipped malformed edges",
			slog.Int("malformed", b.stats.MalformedEdges),
			slog.Int("kept_row_errors", len(b.rowErrors)),
		)
	}
	b.logger.Info("graph built",
		slog.Int("nodes", n),
		slog.Int("edges", m),
		slog.Int("self_loops", b.stats.SelfLoops),
		slog.Int("dropped", b.stats.DroppedEdges),
		slog.Int64("duration_ms", b.stats.DurationMilli),
	)

	// Release builder-side buffers; the graph owns the mapping now.
	b.src, b.dst = nil, nil

	b.result = &BuildResult{
		Graph:     g,
		RowErrors: b.rowErrors,
		Stats:     b.stats,
	}
	return b.result
}
