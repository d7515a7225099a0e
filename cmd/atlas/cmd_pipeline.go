// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
)

// rankPreview is how many ranked entities the rank command prints.
const rankPreview = 10

func newRankCmd(a *app) *cobra.Command {
	var edges, allowlist, out, linksOut string
	var topN int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank every entity in an edge stream and write the top-N CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc := a.cfg.Rank
			if edges != "" {
				rc.EdgesPath = edges
			}
			if allowlist != "" {
				rc.AllowlistPath = allowlist
			}
			if out != "" {
				rc.OutputPath = out
			}
			if linksOut != "" {
				rc.LinksOutputPath = linksOut
			}
			if cmd.Flags().Changed("top-n") {
				rc.TopN = topN
			}
			pc, err := rc.Pipeline()
			if err != nil {
				return err
			}

			db, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			started := time.Now()
			res, err := pipeline.RunRank(cmd.Context(), pc, store, a.logger())
			if err != nil {
				return err
			}

			art := res.Artifact
			a.out.Title("PageRank")
			a.out.Field("nodes", art.Nodes)
			a.out.Field("edges", art.Edges)
			a.out.Field("malformed", art.Malformed)
			a.out.Field("iterations", art.Iterations)
			a.out.Field("converged", art.Converged)
			a.out.Field("selected", len(art.Top))
			a.out.Field("fingerprint", res.Fingerprint)

			rows := make([][]string, 0, rankPreview)
			for _, n := range art.Top[:min(rankPreview, len(art.Top))] {
				rows = append(rows, []string{
					strconv.Itoa(n.Rank),
					n.ExternalID,
					strconv.FormatFloat(n.Score, 'g', 6, 64),
				})
			}
			a.out.Table([]string{"rank", "page_id", "score"}, rows)
			printStages(a, res.Checkpoint)
			a.out.Success(fmt.Sprintf("wrote %s in %s", pc.OutputPath, time.Since(started).Round(time.Millisecond)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&edges, "edges", "", "edge stream (overrides rank.edges_path)")
	f.StringVar(&allowlist, "allowlist", "", "restrict selection to the ids in this file")
	f.StringVar(&out, "out", "", "top-N CSV output path")
	f.StringVar(&linksOut, "links-out", "", "restricted outgoing links CSV output path")
	f.IntVar(&topN, "top-n", pipeline.DefaultTopN, "entities to select; 0 selects all")
	return cmd
}

func newBuildCmd(a *app) *cobra.Command {
	var recordsPath string
	var currentYear int

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Load the records, partition the link graph and store the query index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ix := a.cfg.Index
			if recordsPath != "" {
				ix.RecordsPath = recordsPath
			}
			if cmd.Flags().Changed("current-year") {
				ix.CurrentYear = currentYear
			}

			ctx := cmd.Context()
			src, closeSrc, err := ix.Source(ctx, a.logger())
			if err != nil {
				return err
			}
			defer closeSrc()

			db, store, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := pipeline.BuildIndex(ctx, pipeline.IndexConfig{
				Source:      src,
				Louvain:     ix.Louvain,
				CurrentYear: ix.CurrentYear,
			}, store, cache.NewIndexCache(cache.WithLogger(a.logger())), a.logger())
			if err != nil {
				if res != nil {
					printStages(a, res.Checkpoint)
				}
				return err
			}

			d := res.Index.Diagnostics()
			a.out.Title("Index")
			a.out.Field("source", src.Describe())
			a.out.Field("records", d.Records)
			a.out.Field("malformed", res.Load.Malformed)
			a.out.Field("undated", d.UndatedRecords)
			a.out.Field("edges", d.Edges)
			a.out.Field("clusters", d.Clusters)
			a.out.Field("tags", d.Tags)
			a.out.Field("years", fmt.Sprintf("%d-%d", d.MinYear, d.MaxYear))
			a.out.Field("fingerprint", res.Index.Fingerprint())
			printStages(a, res.Checkpoint)
			a.out.Success("index stored")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&recordsPath, "records", "", "records CSV (overrides index.records_path)")
	f.IntVar(&currentYear, "current-year", 0, "year open lifespans end in; 0 uses the clock")
	return cmd
}

func printStages(a *app, cp *pipeline.Checkpoint) {
	if cp == nil {
		return
	}
	rows := make([][]string, 0, len(cp.Stages))
	for _, s := range cp.Stages {
		state := "computed"
		if s.Loaded {
			state = "loaded"
		}
		rows = append(rows, []string{s.Name, state, (time.Duration(s.DurationMilli) * time.Millisecond).String()})
	}
	if cp.FailedStage != "" {
		rows = append(rows, []string{cp.FailedStage, "failed", cp.Error})
	}
	a.out.Table([]string{"stage", "state", "duration"}, rows)
}
