// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/graph"
)

const testEdges = "page_id_from\tpage_id_to\n" +
	"1\t2\n" +
	"3\t2\n" +
	"4\t2\n" +
	"2\t3\n" +
	"5\t2\n" +
	"broken\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func rankConfig(t *testing.T) RankConfig {
	t.Helper()
	dir := t.TempDir()
	return RankConfig{
		EdgesPath:       writeFile(t, dir, "links.tsv", testEdges),
		AllowlistPath:   writeFile(t, dir, "people.csv", "article name,page_id\nB,2\nC,3\nD,4\n"),
		TopN:            2,
		OutputPath:      filepath.Join(dir, "out", "top.csv"),
		LinksOutputPath: filepath.Join(dir, "out", "links.csv"),
	}
}

func TestRunRank(t *testing.T) {
	cfg := rankConfig(t)
	out, err := RunRank(context.Background(), cfg, newStore(t), nil)
	require.NoError(t, err)

	require.Len(t, out.Artifact.Top, 2)
	assert.Equal(t, "2", out.Artifact.Top[0].ExternalID)
	assert.Equal(t, "3", out.Artifact.Top[1].ExternalID)
	assert.Equal(t, 5, out.Artifact.Nodes)
	assert.Equal(t, 5, out.Artifact.Edges)
	assert.Equal(t, 1, out.Artifact.Malformed)

	top, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(top)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "page_id,pagerank_score,rank", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2,"))
	assert.True(t, strings.HasSuffix(lines[2], ",2"))

	assert.Equal(t, graph.LinkSets{"2": {"3"}, "3": {"2"}}, out.Links)
	links, err := os.ReadFile(cfg.LinksOutputPath)
	require.NoError(t, err)
	assert.Equal(t, "page_id,outgoing_link_ids\n2,3\n3,2\n", string(links))

	for _, name := range []string{"read_edges", "rank", "write_top", "filter_links"} {
		_, ok := out.Checkpoint.Completed(name)
		assert.True(t, ok, "stage %s", name)
	}
}

func TestRunRank_RerunLoadsArtifact(t *testing.T) {
	cfg := rankConfig(t)
	store := newStore(t)

	first, err := RunRank(context.Background(), cfg, store, nil)
	require.NoError(t, err)
	rec, _ := first.Checkpoint.Completed("rank")
	assert.False(t, rec.Loaded)

	second, err := RunRank(context.Background(), cfg, store, nil)
	require.NoError(t, err)
	rec, _ = second.Checkpoint.Completed("rank")
	assert.True(t, rec.Loaded)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Artifact.Top, second.Artifact.Top)

	cfg.TopN = 3
	third, err := RunRank(context.Background(), cfg, store, nil)
	require.NoError(t, err)
	rec, _ = third.Checkpoint.Completed("rank")
	assert.False(t, rec.Loaded)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
	assert.Len(t, third.Artifact.Top, 3)
}

func TestRunRank_NoAllowlistNoStore(t *testing.T) {
	cfg := rankConfig(t)
	cfg.AllowlistPath = ""
	cfg.LinksOutputPath = ""
	cfg.TopN = 0

	out, err := RunRank(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Len(t, out.Artifact.Top, 5)
	assert.Equal(t, "2", out.Artifact.Top[0].ExternalID)
	_, ok := out.Checkpoint.Completed("filter_links")
	assert.False(t, ok)
}

func TestRunRank_Errors(t *testing.T) {
	_, err := RunRank(context.Background(), RankConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = RunRank(context.Background(), RankConfig{EdgesPath: filepath.Join(t.TempDir(), "missing.tsv")}, nil, nil)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadAllowlist(t *testing.T) {
	dir := t.TempDir()

	ids, sumA, err := readAllowlist(writeFile(t, dir, "a.csv", "page_id\n10\n2\n\n2\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"10": {}, "2": {}}, ids)

	ids, sumB, err := readAllowlist(writeFile(t, dir, "b.csv", "2\n10\n"))
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, sumA, sumB)

	_, _, err = readAllowlist(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
