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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/index"
	"github.com/AleutianAI/atlas/services/atlas/records"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

// PartitionSchemaVersion is the stored shape of graph.Partition.
const PartitionSchemaVersion = 1

// IndexConfig configures the index pipeline.
type IndexConfig struct {
	// Source yields the entity records. Required.
	Source records.Source

	// Louvain holds the partitioning parameters.
	Louvain graph.LouvainOptions

	// CurrentYear bounds open lifespans. Zero uses the wall clock.
	CurrentYear int
}

// IndexOutput is what BuildIndex returns.
type IndexOutput struct {
	Index      *index.Index
	Load       records.LoadStats
	Graph      graph.BuildStats
	Checkpoint *Checkpoint
}

// partitionParams are the parameters folded into the partition fingerprint.
type partitionParams struct {
	Louvain graph.LouvainOptions `json:"louvain"`
}

type indexParams struct {
	CurrentYear int `json:"current_year"`
	Schema      int `json:"schema"`
}

// indexRun carries state between the index pipeline's stages.
type indexRun struct {
	cfg    IndexConfig
	store  *badger.ArtifactStore
	logger *slog.Logger
	year   int

	load        *records.LoadResult
	built       *graph.BuildResult
	ordered     []records.EntityRecord
	partitionFP string
	indexFP     string

	partitionOnce sync.Once
	partition     *graph.Partition
	partitionErr  error
	partitionHit  bool
	indexHit      bool
}

// BuildIndex runs records → record graph → partition → index and publishes
// the result into c.
//
// Description:
//
//	Stages: load_records reads the source; record_graph interns records in
//	rank order, adds their links, and derives the partition and index
//	fingerprints from (nodes, edges, records checksum, parameters);
//	partition loads or computes the Louvain partition, skipped when c
//	already serves this fingerprint; index goes through c.Ensure, which
//	shares concurrent builds, loads a stored snapshot when present and
//	otherwise precomputes and stores one.
//
// Inputs:
//
//	store - Artifact store. May be nil to always compute.
//	c - Cache to publish into. May be nil; the index is then only returned.
func BuildIndex(ctx context.Context, cfg IndexConfig, store *badger.ArtifactStore, c *cache.IndexCache, logger *slog.Logger) (*IndexOutput, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: record source", ErrMissingInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	run := &indexRun{cfg: cfg, store: store, logger: logger, year: cfg.CurrentYear}
	if run.year == 0 {
		run.year = time.Now().Year()
	}
	run.cfg.Louvain.Validate()
	out := &IndexOutput{}

	p := New("index", store, logger)

	p.Add("load_records", func(ctx context.Context) (Outcome, error) {
		res, err := cfg.Source.Load(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("load %s: %w", cfg.Source.Describe(), err)
		}
		run.load = res
		out.Load = res.Stats
		return Outcome{Counts: map[string]int{
			"rows":       res.Stats.Rows,
			"loaded":     res.Stats.Loaded,
			"malformed":  res.Stats.Malformed,
			"duplicates": res.Stats.Duplicates,
		}}, nil
	})

	p.Add("record_graph", func(ctx context.Context) (Outcome, error) {
		run.built, run.ordered = index.RecordGraph(run.load.Records, logger)
		out.Graph = run.built.Stats
		if err := run.fingerprints(); err != nil {
			return Outcome{}, err
		}
		return Outcome{Fingerprint: run.partitionFP, Counts: map[string]int{
			"nodes":         run.built.Graph.NodeCount(),
			"edges":         run.built.Graph.EdgeCount(),
			"dropped_links": run.built.Stats.DroppedEdges,
		}}, nil
	})

	p.Add("partition", func(ctx context.Context) (Outcome, error) {
		if c != nil {
			if cur := c.Current(); cur != nil && cur.Fingerprint() == run.indexFP {
				return Outcome{Fingerprint: run.partitionFP, Loaded: true}, nil
			}
		}
		part, err := run.ensurePartition(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Fingerprint: run.partitionFP, Loaded: run.partitionHit, Counts: map[string]int{
			"clusters": part.ClusterCount(),
			"levels":   part.Levels,
		}}, nil
	})

	p.Add("index", func(ctx context.Context) (Outcome, error) {
		var (
			idx    *index.Index
			loaded bool
			err    error
		)
		if c != nil {
			cur := c.Current()
			loaded = cur != nil && cur.Fingerprint() == run.indexFP
			idx, err = c.Ensure(ctx, run.indexFP, run.buildIndex)
		} else {
			idx, err = run.buildIndex(ctx, run.indexFP)
		}
		if err != nil {
			return Outcome{}, err
		}
		loaded = loaded || run.indexHit
		out.Index = idx
		return Outcome{Fingerprint: run.indexFP, Loaded: loaded, Counts: map[string]int{
			"nodes":    idx.NodeCount(),
			"clusters": idx.ClusterCount(),
		}}, nil
	})

	cp, err := p.Run(ctx)
	out.Checkpoint = cp
	return out, err
}

func (r *indexRun) fingerprints() error {
	var err error
	r.partitionFP, err = cache.Fingerprint(cache.FingerprintInput{
		Stage:         "partition",
		Nodes:         r.built.Graph.NodeCount(),
		Edges:         r.built.Graph.EdgeCount(),
		InputChecksum: records.Checksum(r.ordered),
		Params:        partitionParams{Louvain: r.cfg.Louvain},
	})
	if err != nil {
		return err
	}
	r.indexFP, err = cache.Chain(r.partitionFP, "index", indexParams{
		CurrentYear: r.year,
		Schema:      index.SnapshotSchemaVersion,
	})
	return err
}

// ensurePartition loads or computes the partition once per run.
func (r *indexRun) ensurePartition(ctx context.Context) (*graph.Partition, error) {
	r.partitionOnce.Do(func() {
		var part graph.Partition
		hit, err := loadArtifact(ctx, r.store, badger.KindPartition, r.partitionFP, PartitionSchemaVersion, &part)
		if err != nil {
			r.partitionErr = err
			return
		}
		if hit && len(part.Assignment) == r.built.Graph.NodeCount() {
			r.partition, r.partitionHit = &part, true
			return
		}
		if hit {
			r.logger.Warn("stored partition does not match graph, recomputing",
				slog.String("fingerprint", r.partitionFP),
				slog.Int("assignment", len(part.Assignment)),
				slog.Int("nodes", r.built.Graph.NodeCount()),
			)
		}

		computed, err := graph.DetectCommunities(ctx, r.built.Graph, &r.cfg.Louvain)
		if err != nil {
			r.partitionErr = err
			return
		}
		if err := storeArtifact(ctx, r.store, badger.KindPartition, r.partitionFP, PartitionSchemaVersion, computed); err != nil {
			r.partitionErr = err
			return
		}
		r.partition = computed
	})
	return r.partition, r.partitionErr
}

// buildIndex is the cache.BuildFunc of a run: stored snapshot, else
// precompute and store.
func (r *indexRun) buildIndex(ctx context.Context, fingerprint string) (*index.Index, error) {
	var snap index.Snapshot
	hit, err := loadArtifact(ctx, r.store, badger.KindIndex, fingerprint, index.SnapshotSchemaVersion, &snap)
	if err != nil {
		return nil, err
	}
	if hit {
		idx, err := index.FromSnapshot(&snap)
		if err == nil && idx.Fingerprint() == fingerprint {
			r.indexHit = true
			return idx, nil
		}
		r.logger.Warn("stored index rejected, recomputing",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err),
		)
	}

	part, err := r.ensurePartition(ctx)
	if err != nil {
		return nil, err
	}
	idx, _, err := index.Precompute(ctx, index.Inputs{
		Graph:       r.built.Graph,
		Partition:   part,
		Records:     r.ordered,
		CurrentYear: r.year,
		Fingerprint: fingerprint,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := storeArtifact(ctx, r.store, badger.KindIndex, fingerprint, index.SnapshotSchemaVersion, idx.Snapshot()); err != nil {
		return nil, err
	}
	return idx, nil
}

// LoadPublished returns the last stored index without touching the record
// source.
//
// Outputs:
//
//	*index.Index - The index.
//	error - badger.ErrArtifactNotFound when none was stored, or
//	badger.ErrArtifactCorrupt / index.ErrCorruptSnapshot when it does not
//	validate.
func LoadPublished(ctx context.Context, store *badger.ArtifactStore) (*index.Index, error) {
	if store == nil {
		return nil, badger.ErrArtifactNotFound
	}
	var snap index.Snapshot
	if _, err := store.LoadCurrent(ctx, badger.KindIndex, index.SnapshotSchemaVersion, &snap); err != nil {
		return nil, err
	}
	return index.FromSnapshot(&snap)
}
