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
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/atlas/services/atlas/config"
	"github.com/AleutianAI/atlas/services/atlas/index"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		year   int
		x      float64
		tag    string
		group  string
		anchor string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Resolve one filter combination against the stored index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := a.loadIndex(cmd.Context())
			if err != nil {
				return err
			}
			r := index.NewResolver(idx)

			q := index.Query{Year: idx.CurrentYear(), Tag: tag}
			switch {
			case cmd.Flags().Changed("year"):
				q.Year = year
			case cmd.Flags().Changed("x"):
				minYear, maxYear := idx.YearRange()
				if q.Year, err = index.MapToYear(x, minYear, maxYear); err != nil {
					return err
				}
			}
			if q.Group, err = index.ParseGroupKind(group); err != nil {
				return err
			}

			var ids index.NodeSet
			if q.Group != index.GroupNone && anchor != "" {
				id, found := r.Lookup(anchor)
				if !found {
					a.out.Warning(fmt.Sprintf("unknown anchor %q", anchor))
				} else {
					q.Anchor = &id
					ids = r.Resolve(q)
				}
			} else {
				ids = r.Resolve(q)
			}

			total := ids.Len()
			if limit > 0 && len(ids) > limit {
				ids = ids[:limit]
			}

			rows := make([][]string, 0, len(ids))
			for _, e := range r.Entries(ids) {
				cluster := "-"
				if e.Cluster != nil {
					cluster = strconv.Itoa(int(*e.Cluster))
				}
				rows = append(rows, []string{
					strconv.Itoa(e.Rank),
					e.Record.ID,
					e.Record.Name,
					yearString(e.Record.Birth),
					yearString(e.Record.Death),
					cluster,
					strconv.FormatFloat(e.ColorValue, 'f', 3, 64),
				})
			}

			a.out.Title(fmt.Sprintf("Alive in %d", q.Year))
			a.out.Table([]string{"rank", "id", "name", "born", "died", "cluster", "color"}, rows)
			a.out.Field("total", total)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&year, "year", 0, "year the entities must be alive in (default: current year)")
	f.Float64Var(&x, "x", 0, "slider position in [0, 1] mapped onto the year range")
	f.StringVar(&tag, "tag", index.AllTags, "tag filter")
	f.StringVar(&group, "group", "none", "none, neighbors or cluster")
	f.StringVar(&anchor, "anchor", "", "external id the group filter is centered on")
	f.IntVar(&limit, "limit", 25, "rows printed; 0 prints all")
	return cmd
}

func newTagsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List the most frequent tags in the stored index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := a.loadIndex(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") && a.cfg.Index.TagLimit > 0 {
				limit = a.cfg.Index.TagLimit
			}

			tags := idx.TagFrequencies(limit)
			rows := make([][]string, 0, len(tags))
			for _, tc := range tags {
				rows = append(rows, []string{tc.Tag, strconv.Itoa(tc.Count)})
			}
			a.out.Table([]string{"tag", "count"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", index.DefaultTagLimit, "entries listed, All included")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "atlas.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			a.out.Success("wrote " + path)
			return nil
		},
	})
	return cmd
}

// loadIndex reads the last stored index.
func (a *app) loadIndex(ctx context.Context) (*index.Index, error) {
	db, store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	idx, err := pipeline.LoadPublished(ctx, store)
	if errors.Is(err, badger.ErrArtifactNotFound) {
		return nil, fmt.Errorf("no index stored in %s; run atlas build first", a.cfg.Storage.Path)
	}
	return idx, err
}

func yearString(y *int) string {
	if y == nil {
		return "-"
	}
	return strconv.Itoa(*y)
}
