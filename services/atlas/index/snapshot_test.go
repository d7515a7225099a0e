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
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/graph"
)

// reloadSnapshot serializes the fixture's snapshot and decodes a fresh copy.
func reloadSnapshot(t *testing.T, f *fixture) *Snapshot {
	t.Helper()
	data, err := json.Marshal(f.index.Snapshot())
	require.NoError(t, err)
	var s Snapshot
	require.NoError(t, json.Unmarshal(data, &s))
	return &s
}

func TestSnapshot_ReloadAnswersTheSame(t *testing.T) {
	f := newFixture(t)
	loaded, err := FromSnapshot(reloadSnapshot(t, f))
	require.NoError(t, err)
	res := NewResolver(loaded)

	assert.Equal(t, f.index.Fingerprint(), loaded.Fingerprint())
	assert.Equal(t, f.index.Diagnostics(), loaded.Diagnostics())
	assert.Equal(t, f.index.TagFrequencies(0), loaded.TagFrequencies(0))

	minYear, maxYear := f.index.YearRange()
	for y := minYear - 1; y <= maxYear+1; y++ {
		for _, tag := range []string{AllTags, "Engineer", "Mathematician", "Poet"} {
			for a := 0; a < f.index.NodeCount(); a++ {
				for _, group := range []GroupKind{GroupNone, GroupNeighbors, GroupCluster} {
					q := Query{Year: y, Tag: tag, Group: group, Anchor: anchor(graph.NodeID(a))}
					require.Equal(t, f.res.Resolve(q), res.Resolve(q), "query %+v", q)
				}
			}
		}
	}

	for i := 0; i < f.index.NodeCount(); i++ {
		want, _ := f.res.Entry(graph.NodeID(i))
		got, ok := res.Entry(graph.NodeID(i))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestFromSnapshot_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"schema version", func(s *Snapshot) { s.SchemaVersion = 99 }},
		{"unsorted year", func(s *Snapshot) {
			s.ByYear[1850-s.MinYear] = []graph.NodeID{5, 1}
		}},
		{"duplicate in set", func(s *Snapshot) { s.ByTag["Engineer"] = []graph.NodeID{1, 1} }},
		{"unknown node", func(s *Snapshot) { s.Neighbors[0] = []graph.NodeID{0, 100} }},
		{"short neighbor table", func(s *Snapshot) { s.Neighbors = s.Neighbors[1:] }},
		{"year bucket count", func(s *Snapshot) { s.ByYear = s.ByYear[1:] }},
		{"unknown cluster", func(s *Snapshot) { s.ClusterOf[0] = 42 }},
		{"duplicate record", func(s *Snapshot) { s.Records[1].ID = s.Records[0].ID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := reloadSnapshot(t, newFixture(t))
			tt.mutate(s)
			_, err := FromSnapshot(s)
			assert.ErrorIs(t, err, ErrCorruptSnapshot)
		})
	}

	_, err := FromSnapshot(nil)
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestMapToYear(t *testing.T) {
	got, err := MapToYear(0, -3000, 2000)
	require.NoError(t, err)
	assert.Equal(t, -3000, got)

	got, err = MapToYear(1, -3000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2000, got)

	// 0.5^0.2 = 0.8705505..., so -3000 + 4352.75 truncates to 1352.
	got, err = MapToYear(0.5, -3000, 2000)
	require.NoError(t, err)
	assert.Equal(t, 1352, got)

	prev := math.MinInt
	for x := 0.0; x <= 1.0; x += 0.01 {
		y, err := MapToYear(x, -3000, 2000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, y, prev)
		prev = y
	}

	for _, bad := range []float64{-0.01, 1.01, math.NaN()} {
		_, err := MapToYear(bad, 0, 10)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
}

func TestColorValue(t *testing.T) {
	assert.Equal(t, 1.0, ColorValue(0, 10))
	assert.Equal(t, 0.0, ColorValue(9, 10))
	assert.InDelta(t, 0.5, ColorValue(2, 5), 1e-12)
	assert.Equal(t, 1.0, ColorValue(0, 1))
	assert.Equal(t, 0.0, ColorValue(50, 10))
}
