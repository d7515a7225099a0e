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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

// CheckpointSchemaVersion is the stored shape of Checkpoint.
const CheckpointSchemaVersion = 1

var (
	tracer = otel.Tracer("atlas.pipeline")
	meter  = otel.Meter("atlas.pipeline")
)

var (
	metricsOnce   sync.Once
	stageDuration metric.Float64Histogram
	stageRuns     metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		stageDuration, err = meter.Float64Histogram("atlas_pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent in each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			slog.Warn("pipeline metric init failed", slog.String("error", err.Error()))
		}
		stageRuns, err = meter.Int64Counter("atlas_pipeline_stage_runs_total",
			metric.WithDescription("Pipeline stage runs by outcome"),
		)
		if err != nil {
			slog.Warn("pipeline metric init failed", slog.String("error", err.Error()))
		}
	})
}

// Outcome is what a stage reports about its output.
type Outcome struct {
	// Fingerprint addresses the stage's output. Empty for stages that only
	// write files.
	Fingerprint string

	// Loaded is true when the output came from the artifact store or the
	// index cache instead of being computed.
	Loaded bool

	// Counts are stage-specific sizes for logging and the checkpoint.
	Counts map[string]int
}

// Stage is one named step of a pipeline.
type Stage struct {
	Name string
	Run  func(ctx context.Context) (Outcome, error)
}

// StageRecord is a completed stage in a checkpoint.
type StageRecord struct {
	Name          string         `json:"name"`
	Fingerprint   string         `json:"fingerprint,omitempty"`
	Loaded        bool           `json:"loaded"`
	Counts        map[string]int `json:"counts,omitempty"`
	DurationMilli int64          `json:"duration_ms"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// Checkpoint records the progress of one run.
type Checkpoint struct {
	RunID       string        `json:"run_id"`
	Pipeline    string        `json:"pipeline"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Stages      []StageRecord `json:"stages"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Completed returns the record of a completed stage.
func (c *Checkpoint) Completed(stage string) (StageRecord, bool) {
	for _, s := range c.Stages {
		if s.Name == stage {
			return s, true
		}
	}
	return StageRecord{}, false
}

// Succeeded reports whether the run finished without a failed stage.
func (c *Checkpoint) Succeeded() bool {
	return !c.FinishedAt.IsZero() && c.FailedStage == ""
}

// Pipeline runs stages in order.
//
// Thread Safety: A Pipeline may be Run by one goroutine at a time.
type Pipeline struct {
	name   string
	stages []Stage
	store  *badger.ArtifactStore
	logger *slog.Logger
}

// New creates a pipeline. store may be nil, in which case checkpoints are
// not persisted.
func New(name string, store *badger.ArtifactStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{name: name, store: store, logger: logger}
}

// Add appends a stage.
func (p *Pipeline) Add(name string, run func(ctx context.Context) (Outcome, error)) *Pipeline {
	p.stages = append(p.stages, Stage{Name: name, Run: run})
	return p
}

// checkpointKind is the artifact kind holding the pipeline's last checkpoint.
func checkpointKind(pipeline string) badger.Kind {
	return badger.Kind(string(badger.KindCheckpoint) + "." + pipeline)
}

// Run executes every stage in order.
//
// Description:
//
//	Each stage runs in its own span. After every stage the checkpoint is
//	persisted under a fresh run id, so the last checkpoint of a failed run
//	shows how far it got. The first failing stage stops the run.
//
// Outputs:
//
//	*Checkpoint - Always non-nil; describes the completed stages.
//	error - Wraps ErrStageFailed and the stage's error, or ctx.Err().
func (p *Pipeline) Run(ctx context.Context) (*Checkpoint, error) {
	initMetrics()
	cp := &Checkpoint{
		RunID:     uuid.NewString(),
		Pipeline:  p.name,
		StartedAt: time.Now().UTC(),
	}
	if len(p.stages) == 0 {
		return cp, ErrNoStages
	}

	ctx, span := tracer.Start(ctx, "pipeline."+p.name,
		trace.WithAttributes(
			attribute.String("pipeline.run_id", cp.RunID),
			attribute.Int("pipeline.stages", len(p.stages)),
		),
	)
	defer span.End()

	p.logger.Info("pipeline started",
		slog.String("pipeline", p.name),
		slog.String("run_id", cp.RunID),
		slog.Int("stages", len(p.stages)),
	)

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			p.fail(ctx, cp, stage.Name, err)
			span.SetStatus(codes.Error, "cancelled")
			return cp, err
		}

		rec, err := p.runStage(ctx, stage)
		if err != nil {
			p.fail(ctx, cp, stage.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return cp, fmt.Errorf("%w: %s: %w", ErrStageFailed, stage.Name, err)
		}
		cp.Stages = append(cp.Stages, rec)
		p.save(ctx, cp)
	}

	cp.FinishedAt = time.Now().UTC()
	p.save(ctx, cp)
	span.SetStatus(codes.Ok, "")
	p.logger.Info("pipeline completed",
		slog.String("pipeline", p.name),
		slog.String("run_id", cp.RunID),
		slog.Duration("duration", cp.FinishedAt.Sub(cp.StartedAt)),
	)
	return cp, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage) (StageRecord, error) {
	ctx, span := tracer.Start(ctx, "stage."+stage.Name)
	defer span.End()

	start := time.Now()
	out, err := stage.Run(ctx)
	elapsed := time.Since(start)

	result := "computed"
	switch {
	case err != nil:
		result = "failed"
	case out.Loaded:
		result = "loaded"
	}
	attrs := metric.WithAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("stage", stage.Name),
		attribute.String("result", result),
	)
	if stageDuration != nil {
		stageDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if stageRuns != nil {
		stageRuns.Add(ctx, 1, attrs)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StageRecord{}, err
	}
	span.SetAttributes(
		attribute.String("stage.fingerprint", out.Fingerprint),
		attribute.Bool("stage.loaded", out.Loaded),
	)

	logAttrs := []any{
		slog.String("pipeline", p.name),
		slog.String("stage", stage.Name),
		slog.String("result", result),
		slog.Duration("duration", elapsed),
	}
	for k, v := range out.Counts {
		logAttrs = append(logAttrs, slog.Int(k, v))
	}
	p.logger.Info("stage completed", logAttrs...)

	return StageRecord{
		Name:          stage.Name,
		Fingerprint:   out.Fingerprint,
		Loaded:        out.Loaded,
		Counts:        out.Counts,
		DurationMilli: elapsed.Milliseconds(),
		CompletedAt:   time.Now().UTC(),
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, cp *Checkpoint, stage string, err error) {
	cp.FailedStage = stage
	cp.Error = err.Error()
	cp.FinishedAt = time.Now().UTC()
	p.logger.Error("pipeline failed",
		slog.String("pipeline", p.name),
		slog.String("run_id", cp.RunID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	p.save(context.WithoutCancel(ctx), cp)
}

// save persists cp. Failures are logged; a lost checkpoint never fails a run.
func (p *Pipeline) save(ctx context.Context, cp *Checkpoint) {
	if p.store == nil {
		return
	}
	if err := p.store.Put(ctx, checkpointKind(p.name), cp.RunID, CheckpointSchemaVersion, cp); err != nil {
		p.logger.Warn("checkpoint not saved",
			slog.String("pipeline", p.name),
			slog.String("run_id", cp.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// LastCheckpoint returns the most recent checkpoint of the named pipeline.
//
// Outputs:
//
//	*Checkpoint - The checkpoint.
//	error - badger.ErrArtifactNotFound when the pipeline never ran.
func LastCheckpoint(ctx context.Context, store *badger.ArtifactStore, pipeline string) (*Checkpoint, error) {
	if store == nil {
		return nil, badger.ErrArtifactNotFound
	}
	var cp Checkpoint
	if _, err := store.LoadCurrent(ctx, checkpointKind(pipeline), CheckpointSchemaVersion, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// loadArtifact reads an artifact, treating corruption as a miss.
func loadArtifact(ctx context.Context, store *badger.ArtifactStore, kind badger.Kind, fp string, schema int, v any) (bool, error) {
	if store == nil {
		return false, nil
	}
	_, err := store.Get(ctx, kind, fp, schema, v)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrArtifactNotFound), errors.Is(err, badger.ErrArtifactCorrupt):
		return false, nil
	default:
		return false, err
	}
}

// storeArtifact writes an artifact when a store is configured.
func storeArtifact(ctx context.Context, store *badger.ArtifactStore, kind badger.Kind, fp string, schema int, v any) error {
	if store == nil {
		return nil
	}
	return store.Put(ctx, kind, fp, schema, v)
}
