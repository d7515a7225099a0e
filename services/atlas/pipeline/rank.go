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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

// RankSchemaVersion is the stored shape of RankArtifact.
const RankSchemaVersion = 1

// DefaultTopN is how many entities the rank pipeline selects by default.
const DefaultTopN = 10000

// RankConfig configures the rank pipeline.
type RankConfig struct {
	// EdgesPath is the raw edge stream. Required.
	EdgesPath string `yaml:"edges_path" validate:"required"`

	// Edges controls how the stream is parsed.
	Edges graph.EdgeReaderOptions `yaml:"edges"`

	// PageRank holds the ranking parameters.
	PageRank graph.PageRankOptions `yaml:"pagerank"`

	// TopN is the number of entities selected. Zero or less selects all.
	TopN int `yaml:"top_n"`

	// AllowlistPath optionally restricts selection to the ids it lists.
	AllowlistPath string `yaml:"allowlist_path"`

	// OutputPath receives the top-N CSV (page_id,pagerank_score,rank).
	OutputPath string `yaml:"output_path"`

	// LinksOutputPath, when set, receives each selected id's outgoing links
	// restricted to the selection (page_id,outgoing_link_ids).
	LinksOutputPath string `yaml:"links_output_path"`
}

// RankArtifact is the stored result of the rank pipeline.
type RankArtifact struct {
	Nodes      int                `json:"nodes"`
	Edges      int                `json:"edges"`
	Malformed  int                `json:"malformed"`
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Delta      float64            `json:"delta"`
	Top        []graph.RankedNode `json:"top"`
}

// RankOutput is what RunRank returns.
type RankOutput struct {
	Fingerprint string
	Artifact    *RankArtifact
	Links       graph.LinkSets
	Checkpoint  *Checkpoint
}

// rankParams are the parameters folded into the rank fingerprint. Worker
// counts are left out; they do not change the result beyond tolerance.
type rankParams struct {
	DampingFactor float64 `json:"damping_factor"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
	TopN          int     `json:"top_n"`
	Allowlist     string  `json:"allowlist"`
}

// RunRank runs edges → graph → PageRank → top-N selection, writing the rank
// artifact and the configured output files.
//
// Description:
//
//	Stages: read_edges builds the graph while hashing the input; rank
//	derives the fingerprint from (nodes, edges, input checksum, parameters,
//	allowlist checksum) and loads the stored artifact or computes it;
//	write_top writes the CSV hand-off for enrichment; filter_links streams
//	the edges again and keeps links among the selection.
//
// Inputs:
//
//	store - Artifact store. May be nil to always compute.
func RunRank(ctx context.Context, cfg RankConfig, store *badger.ArtifactStore, logger *slog.Logger) (*RankOutput, error) {
	if cfg.EdgesPath == "" {
		return nil, fmt.Errorf("%w: edges path", ErrMissingInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	readerOpts := cfg.Edges
	if readerOpts == (graph.EdgeReaderOptions{}) {
		readerOpts = graph.DefaultEdgeReaderOptions()
	}
	rankOpts := cfg.PageRank
	rankOpts.Validate()

	var (
		built     *graph.BuildResult
		checksum  string
		allowed   map[string]struct{}
		allowSum  string
		out       = &RankOutput{}
		selection = map[string]struct{}{}
	)

	p := New("rank", store, logger)

	p.Add("read_edges", func(ctx context.Context) (Outcome, error) {
		f, err := os.Open(cfg.EdgesPath)
		if err != nil {
			return Outcome{}, fmt.Errorf("open edges: %w", err)
		}
		defer f.Close()

		r := graph.NewEdgeReader(f, readerOpts)
		b := graph.NewBuilder(graph.WithLogger(logger))
		if err := b.ReadAll(ctx, r); err != nil {
			return Outcome{}, err
		}
		built = b.Build()
		checksum = r.Checksum()

		if cfg.AllowlistPath != "" {
			allowed, allowSum, err = readAllowlist(cfg.AllowlistPath)
			if err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{Counts: map[string]int{
			"nodes":     built.Graph.NodeCount(),
			"edges":     built.Graph.EdgeCount(),
			"malformed": built.Stats.MalformedEdges,
			"allowlist": len(allowed),
		}}, nil
	})

	p.Add("rank", func(ctx context.Context) (Outcome, error) {
		fp, err := cache.Fingerprint(cache.FingerprintInput{
			Stage:         "rank",
			Nodes:         built.Graph.NodeCount(),
			Edges:         built.Graph.EdgeCount(),
			InputChecksum: checksum,
			Params: rankParams{
				DampingFactor: rankOpts.DampingFactor,
				MaxIterations: rankOpts.MaxIterations,
				Tolerance:     rankOpts.Tolerance,
				TopN:          cfg.TopN,
				Allowlist:     allowSum,
			},
		})
		if err != nil {
			return Outcome{}, err
		}
		out.Fingerprint = fp

		var art RankArtifact
		loaded, err := loadArtifact(ctx, store, badger.KindRank, fp, RankSchemaVersion, &art)
		if err != nil {
			return Outcome{}, err
		}
		if !loaded {
			res := graph.PageRank(ctx, built.Graph, &rankOpts)
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			var allow func(string) bool
			if allowed != nil {
				allow = func(ext string) bool {
					_, ok := allowed[ext]
					return ok
				}
			}
			art = RankArtifact{
				Nodes:      built.Graph.NodeCount(),
				Edges:      built.Graph.EdgeCount(),
				Malformed:  built.Stats.MalformedEdges,
				Iterations: res.Iterations,
				Converged:  res.Converged,
				Delta:      res.Delta,
				Top:        graph.SelectTop(built.Graph, res.Scores, cfg.TopN, allow),
			}
			if err := storeArtifact(ctx, store, badger.KindRank, fp, RankSchemaVersion, &art); err != nil {
				return Outcome{}, err
			}
		}
		out.Artifact = &art
		for _, n := range art.Top {
			selection[n.ExternalID] = struct{}{}
		}
		return Outcome{Fingerprint: fp, Loaded: loaded, Counts: map[string]int{
			"selected":   len(art.Top),
			"iterations": art.Iterations,
		}}, nil
	})

	if cfg.OutputPath != "" {
		p.Add("write_top", func(ctx context.Context) (Outcome, error) {
			if err := writeFileAtomic(cfg.OutputPath, func(w io.Writer) error {
				return WriteTopCSV(w, out.Artifact.Top)
			}); err != nil {
				return Outcome{}, err
			}
			return Outcome{Counts: map[string]int{"rows": len(out.Artifact.Top)}}, nil
		})
	}

	if cfg.LinksOutputPath != "" {
		p.Add("filter_links", func(ctx context.Context) (Outcome, error) {
			f, err := os.Open(cfg.EdgesPath)
			if err != nil {
				return Outcome{}, fmt.Errorf("open edges: %w", err)
			}
			defer f.Close()

			links, err := graph.FilterLinks(ctx, graph.NewEdgeReader(f, readerOpts), selection)
			if err != nil {
				return Outcome{}, err
			}
			out.Links = links
			if err := writeFileAtomic(cfg.LinksOutputPath, func(w io.Writer) error {
				return WriteLinksCSV(w, out.Artifact.Top, links)
			}); err != nil {
				return Outcome{}, err
			}
			return Outcome{Counts: map[string]int{"sources": len(links)}}, nil
		})
	}

	cp, err := p.Run(ctx)
	out.Checkpoint = cp
	if err != nil {
		return out, err
	}
	return out, nil
}

// WriteTopCSV writes page_id,pagerank_score,rank rows.
func WriteTopCSV(w io.Writer, top []graph.RankedNode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"page_id", "pagerank_score", "rank"}); err != nil {
		return err
	}
	for _, n := range top {
		row := []string{
			n.ExternalID,
			strconv.FormatFloat(n.Score, 'g', -1, 64),
			strconv.Itoa(n.Rank),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLinksCSV writes page_id,outgoing_link_ids rows in rank order. Ids
// without links get an empty link column.
func WriteLinksCSV(w io.Writer, top []graph.RankedNode, links graph.LinkSets) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"page_id", "outgoing_link_ids"}); err != nil {
		return err
	}
	for _, n := range top {
		if err := cw.Write([]string{n.ExternalID, strings.Join(links[n.ExternalID], ",")}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readAllowlist reads external ids from a CSV file. When the first row has a
// page_id column that column is used; otherwise the first column of every
// row is. Returns the ids and a checksum of the sorted id list.
func readAllowlist(path string) (map[string]struct{}, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open allowlist: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	ids := make(map[string]struct{})
	col := 0
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("read allowlist: %w", err)
		}
		if first {
			first = false
			header := false
			for i, name := range rec {
				if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == "page_id" {
					col, header = i, true
					break
				}
			}
			if header {
				continue
			}
		}
		if col >= len(rec) {
			continue
		}
		if id := strings.TrimSpace(rec[col]); id != "" {
			ids[id] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	slices.SortFunc(sorted, graph.CompareExternalIDs)
	sum, err := cache.Fingerprint(cache.FingerprintInput{Stage: "allowlist", Params: sorted})
	if err != nil {
		return nil, "", err
	}
	return ids, sum, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
