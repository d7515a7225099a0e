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
	"io"
	"log/slog"
	"slices"
)

// LinkSets maps a source external id to its distinct outgoing targets.
type LinkSets map[string][]string

// FilterLinks streams an edge input and keeps the links whose endpoints are
// both in keep.
//
// Description:
//
//	Used after top-N selection to attach outgoing_link_ids to each selected
//	record. Only one chunk is held in memory. Targets are deduplicated and
//	sorted with CompareExternalIDs. Self-links are kept, mirroring the raw
//	input. Sources without any kept link are absent from the result.
//
// Outputs:
//
//	LinkSets - Per-source target lists.
//	error - Non-nil if the stream fails or ctx is cancelled.
func FilterLinks(ctx context.Context, r *EdgeReader, keep map[string]struct{}) (LinkSets, error) {
	ctx, span := tracer.Start(ctx, "graph.FilterLinks")
	defer span.End()

	seen := make(map[string]map[string]struct{})
	kept := 0
	for {
		chunk, err := r.Next(ctx)
		for _, e := range chunk {
			if _, ok := keep[e.Source]; !ok {
				continue
			}
			if _, ok := keep[e.Target]; !ok {
				continue
			}
			targets, ok := seen[e.Source]
			if !ok {
				targets = make(map[string]struct{})
				seen[e.Source] = targets
			}
			if _, dup := targets[e.Target]; !dup {
				targets[e.Target] = struct{}{}
				kept++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	out := make(LinkSets, len(seen))
	for src, targets := range seen {
		list := make([]string, 0, len(targets))
		for t := range targets {
			list = append(list, t)
		}
		slices.SortFunc(list, CompareExternalIDs)
		out[src] = list
	}

	slog.Debug("links filtered",
		slog.Int("sources", len(out)),
		slog.Int("links", kept),
		slog.Int("malformed_rows", r.Stats().Malformed),
	)
	return out, nil
}
