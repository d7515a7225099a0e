// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index derives and serves the precomputed filter sets over ranked
// entities.
//
// An Index holds four families of sorted node sets:
//
//   - by year: entities alive in a year (birth <= y <= death or current year)
//   - by tag: entities carrying a category tag
//   - neighbors: successors ∪ predecessors of an entity in the link graph
//   - cluster: the members of an entity's community
//
// # Thread Safety
//
// An Index is immutable once Precompute or FromSnapshot returns it and may be
// shared by any number of goroutines without locking. A Resolver only reads
// its Index.
package index

import "errors"

// Sentinel errors for index operations.
var (
	// ErrNilGraph is returned when Precompute is called without a graph.
	ErrNilGraph = errors.New("index inputs have no graph")

	// ErrRecordMismatch is returned when the record count does not match
	// the graph's node count.
	ErrRecordMismatch = errors.New("record count does not match node count")

	// ErrCorruptSnapshot is returned when a decoded snapshot is not
	// internally consistent.
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")

	// ErrOutOfRange is returned by MapToYear for a position outside [0, 1].
	ErrOutOfRange = errors.New("slider position out of range")
)
