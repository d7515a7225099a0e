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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreSum(scores []float64) float64 {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total
}

func scoreOf(t *testing.T, g *Graph, result *RankResult, ext string) float64 {
	t.Helper()
	id, ok := g.Lookup(ext)
	require.True(t, ok, "unknown node %q", ext)
	return result.Scores[id]
}

// ringGraph builds a ring of n nodes with a chord from every fifth node.
func ringGraph(t *testing.T, n int) *Graph {
	t.Helper()
	b := NewBuilder()
	for i := 0; i < n; i++ {
		require.NoError(t, b.AddEdge(fmt.Sprint(i), fmt.Sprint((i+1)%n)))
		if i%5 == 0 {
			require.NoError(t, b.AddEdge(fmt.Sprint(i), fmt.Sprint((i*7+3)%n)))
		}
	}
	return b.Build().Graph
}

func TestPageRank_EmptyGraph(t *testing.T) {
	result := PageRank(context.Background(), NewBuilder().Build().Graph, nil)
	assert.Empty(t, result.Scores)
	assert.True(t, result.Converged)

	result = PageRank(context.Background(), nil, nil)
	assert.Empty(t, result.Scores)
}

func TestPageRank_SingleNode(t *testing.T) {
	b := NewBuilder()
	_, err := b.Intern("42")
	require.NoError(t, err)

	result := PageRank(context.Background(), b.Build().Graph, nil)
	require.Len(t, result.Scores, 1)
	assert.InDelta(t, 1.0, result.Scores[0], 1e-12)
	assert.True(t, result.Converged)
}

func TestPageRank_SingleSelfLoop(t *testing.T) {
	g := buildGraph(t, [2]string{"1", "1"})
	result := PageRank(context.Background(), g, nil)
	require.Len(t, result.Scores, 1)
	assert.InDelta(t, 1.0, result.Scores[0], 1e-12)
}

func TestPageRank_SumsToOne(t *testing.T) {
	tests := []struct {
		name  string
		graph func(t *testing.T) *Graph
	}{
		{"cycle", func(t *testing.T) *Graph {
			return buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})
		}},
		{"dangling", func(t *testing.T) *Graph {
			return buildGraph(t, [2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "c"})
		}},
		{"star", func(t *testing.T) *Graph {
			return buildGraph(t, [2]string{"a", "hub"}, [2]string{"b", "hub"}, [2]string{"c", "hub"})
		}},
		{"ring", func(t *testing.T) *Graph { return ringGraph(t, 300) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PageRank(context.Background(), tt.graph(t), nil)
			assert.InDelta(t, 1.0, scoreSum(result.Scores), 1e-6)
			for i, s := range result.Scores {
				assert.GreaterOrEqual(t, s, 0.0, "score %d is negative", i)
			}
		})
	}
}

func TestPageRank_SymmetricCycle(t *testing.T) {
	g := buildGraph(t, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"})
	result := PageRank(context.Background(), g, nil)

	require.True(t, result.Converged)
	for _, s := range result.Scores {
		assert.InDelta(t, 1.0/3.0, s, 1e-9)
	}
}

func TestPageRank_Hub(t *testing.T) {
	g := buildGraph(t, [2]string{"a", "hub"}, [2]string{"b", "hub"}, [2]string{"c", "hub"})
	result := PageRank(context.Background(), g, nil)

	hub := scoreOf(t, g, result, "hub")
	for _, leaf := range []string{"a", "b", "c"} {
		assert.Greater(t, hub, scoreOf(t, g, result, leaf))
	}
}

func TestPageRank_DuplicatesCountWithMultiplicity(t *testing.T) {
	g := buildGraph(t,
		[2]string{"a", "b"},
		[2]string{"a", "b"},
		[2]string{"a", "c"},
		[2]string{"b", "a"},
		[2]string{"c", "a"},
	)
	result := PageRank(context.Background(), g, nil)

	assert.Greater(t, scoreOf(t, g, result, "b"), scoreOf(t, g, result, "c"))
}

func TestPageRank_IterationCap(t *testing.T) {
	g := ringGraph(t, 100)
	opts := DefaultPageRankOptions()
	opts.MaxIterations = 2
	opts.Tolerance = 1e-15

	result := PageRank(context.Background(), g, opts)
	assert.False(t, result.Converged)
	assert.Equal(t, 2, result.Iterations)
	assert.InDelta(t, 1.0, scoreSum(result.Scores), 1e-6)
}

func TestPageRank_OptionsNotMutated(t *testing.T) {
	opts := &PageRankOptions{}
	PageRank(context.Background(), buildGraph(t, [2]string{"a", "b"}), opts)
	assert.Zero(t, opts.DampingFactor)
}

func TestPageRank_ParallelMatchesSequential(t *testing.T) {
	g := ringGraph(t, 1000)

	seq := DefaultPageRankOptions()
	seq.Workers = 1

	par := DefaultPageRankOptions()
	par.Workers = 4
	par.ParallelThreshold = 1

	a := PageRank(context.Background(), g, seq)
	b := PageRank(context.Background(), g, par)

	require.Len(t, b.Scores, len(a.Scores))
	for i := range a.Scores {
		assert.InDelta(t, a.Scores[i], b.Scores[i], 1e-9)
	}
}

func TestPageRank_Deterministic(t *testing.T) {
	g := ringGraph(t, 200)
	a := PageRank(context.Background(), g, nil)
	b := PageRank(context.Background(), g, nil)
	assert.Equal(t, a.Scores, b.Scores)
	assert.Equal(t, Ranking(g, a.Scores), Ranking(g, b.Scores))
}

func TestPageRank_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := PageRank(ctx, ringGraph(t, 50), nil)
	assert.False(t, result.Converged)
	assert.Equal(t, 0, result.Iterations)
	assert.InDelta(t, 1.0, scoreSum(result.Scores), 1e-9)
}

func TestPageRankOptions_Validate(t *testing.T) {
	opts := &PageRankOptions{DampingFactor: 1.5, MaxIterations: -1, Tolerance: math.NaN()}
	opts.Validate()

	assert.Equal(t, DefaultDampingFactor, opts.DampingFactor)
	assert.Equal(t, DefaultMaxIterations, opts.MaxIterations)
	assert.Equal(t, DefaultTolerance, opts.Tolerance)
	assert.Positive(t, opts.Workers)

	for _, d := range []float64{0, 1, -0.5} {
		opts := &PageRankOptions{DampingFactor: d}
		opts.Validate()
		assert.Equal(t, DefaultDampingFactor, opts.DampingFactor, "damping %v", d)
	}
	opts = &PageRankOptions{DampingFactor: 0.999}
	opts.Validate()
	assert.Equal(t, 0.999, opts.DampingFactor)
}

func TestRanking_TiesByExternalID(t *testing.T) {
	b := NewBuilder()
	for _, ext := range []string{"30", "4", "100", "abc"} {
		_, err := b.Intern(ext)
		require.NoError(t, err)
	}
	g := b.Build().Graph

	order := Ranking(g, []float64{0.25, 0.25, 0.25, 0.25})
	got := make([]string, len(order))
	for i, id := range order {
		got[i], _ = g.ExternalID(id)
	}
	assert.Equal(t, []string{"4", "30", "100", "abc"}, got)
}

func TestSelectTop(t *testing.T) {
	g := buildGraph(t,
		[2]string{"1", "2"},
		[2]string{"3", "2"},
		[2]string{"4", "2"},
		[2]string{"2", "3"},
	)
	result := PageRank(context.Background(), g, nil)

	t.Run("all allowed", func(t *testing.T) {
		top := SelectTop(g, result.Scores, 2, nil)
		require.Len(t, top, 2)
		assert.Equal(t, "2", top[0].ExternalID)
		assert.Equal(t, "3", top[1].ExternalID)
		assert.Equal(t, 1, top[0].Rank)
		assert.Equal(t, 2, top[1].Rank)
		assert.GreaterOrEqual(t, top[0].Score, top[1].Score)
	})

	t.Run("allowlist", func(t *testing.T) {
		allowed := map[string]bool{"3": true, "4": true}
		top := SelectTop(g, result.Scores, 10, func(ext string) bool { return allowed[ext] })
		require.Len(t, top, 2)
		assert.Equal(t, "3", top[0].ExternalID)
		assert.Equal(t, "4", top[1].ExternalID)
		assert.Equal(t, 2, top[1].Rank)
	})

	t.Run("k zero selects everything", func(t *testing.T) {
		assert.Len(t, SelectTop(g, result.Scores, 0, nil), g.NodeCount())
	})
}
