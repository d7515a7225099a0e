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
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// twoTriangles is two triangles joined by the bridge 3-4.
func twoTriangles(t *testing.T) *Graph {
	return buildGraph(t,
		[2]string{"1", "2"},
		[2]string{"2", "3"},
		[2]string{"3", "1"},
		[2]string{"4", "5"},
		[2]string{"5", "6"},
		[2]string{"6", "4"},
		[2]string{"3", "4"},
	)
}

// cliqueGraph builds `cliques` cliques of `size` nodes, joined in a chain by
// one edge each, plus a few random cross edges.
func cliqueGraph(t *testing.T, cliques, size int, seed uint64) *Graph {
	t.Helper()
	b := NewBuilder()
	id := func(c, i int) string { return fmt.Sprint(c*size + i) }
	for c := 0; c < cliques; c++ {
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				require.NoError(t, b.AddEdge(id(c, i), id(c, j)))
			}
		}
		if c > 0 {
			require.NoError(t, b.AddEdge(id(c-1, 0), id(c, size-1)))
		}
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	for k := 0; k < cliques; k++ {
		u, v := rng.IntN(cliques*size), rng.IntN(cliques*size)
		if u != v {
			require.NoError(t, b.AddEdge(fmt.Sprint(u), fmt.Sprint(v)))
		}
	}
	return b.Build().Graph
}

func sameCluster(t *testing.T, g *Graph, p *Partition, a, b string) bool {
	t.Helper()
	ia, ok := g.Lookup(a)
	require.True(t, ok)
	ib, ok := g.Lookup(b)
	require.True(t, ok)
	return p.Assignment[ia] == p.Assignment[ib]
}

func assertTotalPartition(t *testing.T, g *Graph, p *Partition) {
	t.Helper()
	require.Len(t, p.Assignment, g.NodeCount())

	seen := make([]int, g.NodeCount())
	for c, members := range p.Members {
		require.NotEmpty(t, members, "cluster %d is empty", c)
		for _, id := range members {
			seen[id]++
			assert.Equal(t, int32(c), p.Assignment[id])
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "node %d appears in %d clusters", id, n)
	}
}

func TestDetectCommunities_TwoTriangles(t *testing.T) {
	g := twoTriangles(t)
	p, err := DetectCommunities(context.Background(), g, nil)
	require.NoError(t, err)

	assertTotalPartition(t, g, p)
	assert.Equal(t, 2, p.ClusterCount())
	assert.True(t, sameCluster(t, g, p, "1", "2"))
	assert.True(t, sameCluster(t, g, p, "1", "3"))
	assert.True(t, sameCluster(t, g, p, "4", "6"))
	assert.False(t, sameCluster(t, g, p, "3", "4"))
	assert.InDelta(t, 5.0/14.0, p.Modularity, 1e-9)
	assert.True(t, p.Converged)
}

func TestDetectCommunities_LabelsBySmallestMember(t *testing.T) {
	g := cliqueGraph(t, 4, 5, 7)
	p, err := DetectCommunities(context.Background(), g, nil)
	require.NoError(t, err)

	assertTotalPartition(t, g, p)
	for c := 1; c < len(p.Members); c++ {
		assert.Less(t, p.Members[c-1][0], p.Members[c][0])
	}
	assert.Equal(t, int32(0), p.Assignment[0])
}

func TestDetectCommunities_MatchesGonumModularity(t *testing.T) {
	g := cliqueGraph(t, 6, 6, 11)
	p, err := DetectCommunities(context.Background(), g, nil)
	require.NoError(t, err)

	ug := simple.NewUndirectedGraph()
	for i := 0; i < g.NodeCount(); i++ {
		ug.AddNode(simple.Node(int64(i)))
	}
	g.Edges(func(e Edge) bool {
		if e.From != e.To {
			ug.SetEdge(ug.NewEdge(simple.Node(int64(e.From)), simple.Node(int64(e.To))))
		}
		return true
	})

	communities := make([][]gonumgraph.Node, len(p.Members))
	for c, members := range p.Members {
		for _, id := range members {
			communities[c] = append(communities[c], simple.Node(int64(id)))
		}
	}

	want := community.Q(ug, communities, 1)
	assert.InDelta(t, want, p.Modularity, 1e-9)
	assert.InDelta(t, p.Modularity, Modularity(g, p.Assignment, 1), 1e-12)
	assert.Greater(t, p.Modularity, 0.5)
}

func TestDetectCommunities_DuplicatesCollapse(t *testing.T) {
	plain := twoTriangles(t)
	doubled := buildGraph(t,
		[2]string{"1", "2"}, [2]string{"2", "1"}, [2]string{"1", "2"},
		[2]string{"2", "3"},
		[2]string{"3", "1"},
		[2]string{"4", "5"},
		[2]string{"5", "6"},
		[2]string{"6", "4"},
		[2]string{"3", "4"}, [2]string{"4", "3"},
	)

	a, err := DetectCommunities(context.Background(), plain, nil)
	require.NoError(t, err)
	b, err := DetectCommunities(context.Background(), doubled, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Assignment, b.Assignment)
	assert.InDelta(t, a.Modularity, b.Modularity, 1e-12)
}

func TestDetectCommunities_SeededIsDeterministic(t *testing.T) {
	g := cliqueGraph(t, 5, 5, 3)
	seed := uint64(42)
	opts := &LouvainOptions{Seed: &seed}

	a, err := DetectCommunities(context.Background(), g, opts)
	require.NoError(t, err)
	b, err := DetectCommunities(context.Background(), g, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Assignment, b.Assignment)
	assert.Equal(t, a.Modularity, b.Modularity)
}

func TestDetectCommunities_UnseededIsDeterministic(t *testing.T) {
	g := cliqueGraph(t, 5, 5, 3)
	a, err := DetectCommunities(context.Background(), g, nil)
	require.NoError(t, err)
	b, err := DetectCommunities(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Assignment, b.Assignment)
}

func TestDetectCommunities_EdgeCases(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		p, err := DetectCommunities(context.Background(), NewBuilder().Build().Graph, nil)
		require.NoError(t, err)
		assert.Empty(t, p.Assignment)
		assert.Zero(t, p.ClusterCount())
	})

	t.Run("isolated nodes", func(t *testing.T) {
		b := NewBuilder()
		for _, ext := range []string{"a", "b", "c"} {
			_, _ = b.Intern(ext)
		}
		g := b.Build().Graph
		p, err := DetectCommunities(context.Background(), g, nil)
		require.NoError(t, err)
		assertTotalPartition(t, g, p)
		assert.Equal(t, 3, p.ClusterCount())
		assert.Zero(t, p.Modularity)
	})

	t.Run("self-loop only", func(t *testing.T) {
		g := buildGraph(t, [2]string{"a", "a"})
		p, err := DetectCommunities(context.Background(), g, nil)
		require.NoError(t, err)
		assertTotalPartition(t, g, p)
		assert.Equal(t, 1, p.ClusterCount())
	})

	t.Run("isolated node beside edges", func(t *testing.T) {
		b := NewBuilder()
		_, _ = b.Intern("lonely")
		_ = b.AddEdge("x", "y")
		g := b.Build().Graph
		p, err := DetectCommunities(context.Background(), g, nil)
		require.NoError(t, err)
		assertTotalPartition(t, g, p)
		assert.Equal(t, 2, p.ClusterCount())
	})
}

func TestDetectCommunities_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DetectCommunities(ctx, twoTriangles(t), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitDisconnected(t *testing.T) {
	// 0-1 and 2-3 are separate components forced into one community.
	g := buildGraph(t, [2]string{"0", "1"}, [2]string{"2", "3"})
	ug := projectUndirected(g)

	labels, k := ug.splitDisconnected([]int32{0, 0, 0, 0})
	assert.Equal(t, int32(2), k)
	assert.Equal(t, []int32{0, 0, 1, 1}, labels)
}

func TestContractPreservesWeight(t *testing.T) {
	g := twoTriangles(t)
	ug := projectUndirected(g)
	require.InDelta(t, 7.0, ug.total, 1e-12)

	next := ug.contract([]int32{0, 0, 0, 1, 1, 1}, 2)
	assert.InDelta(t, ug.total, next.total, 1e-12)
	assert.InDelta(t, 3.0, next.loops[0], 1e-12)
	assert.InDelta(t, 3.0, next.loops[1], 1e-12)

	targets, weights := next.neighbors(0)
	assert.Equal(t, []int32{1}, targets)
	assert.Equal(t, []float64{1}, weights)
}

func TestPartition_Accessors(t *testing.T) {
	p, err := DetectCommunities(context.Background(), twoTriangles(t), nil)
	require.NoError(t, err)

	c, ok := p.ClusterOf(0)
	require.True(t, ok)
	assert.Contains(t, p.MembersOf(c), NodeID(0))

	_, ok = p.ClusterOf(99)
	assert.False(t, ok)
	assert.Nil(t, p.MembersOf(99))

	var nilPartition *Partition
	assert.Zero(t, nilPartition.ClusterCount())
}
