// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the hyperlink graph and the batch algorithms that run
// over it.
//
// The graph is a directed multigraph over dense node ids. External identifiers
// (page ids, titles) are interned by a Builder in first-seen order, so a graph
// with N distinct identifiers always uses exactly the ids 0..N-1.
//
// # Lifecycle
//
//  1. Create a Builder with NewBuilder()
//  2. Feed it edges (AddEdge, AddChunk, ReadAll)
//  3. Call Build() to freeze the adjacency into a Graph
//  4. Run PageRank / DetectCommunities over the Graph
//
// # Thread Safety
//
// Builder is NOT safe for concurrent use. A Graph returned by Build() is
// immutable and can be read from any number of goroutines.
//
// # Duplicate Edges
//
// The graph keeps every raw link, including duplicates and self-loops. Each
// algorithm states its own policy:
//
//   - PageRank counts duplicates with multiplicity (multigraph random walk).
//   - DetectCommunities collapses every connected pair to one weight-1 edge.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when a Builder is used after Build().
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrMalformedEdge is returned when an edge is missing one of its ids.
	// The edge is skipped and counted; it never fails a build.
	ErrMalformedEdge = errors.New("malformed edge")

	// ErrInvalidNode is returned when interning an empty external id.
	ErrInvalidNode = errors.New("invalid node")

	// ErrMissingColumn is returned when an edge stream header lacks a
	// configured column.
	ErrMissingColumn = errors.New("missing column in edge stream header")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("build cancelled")
)
