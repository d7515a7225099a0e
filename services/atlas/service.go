// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package atlas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/index"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
	"golang.org/x/time/rate"
)

// DefaultRebuildTimeout bounds one background rebuild.
const DefaultRebuildTimeout = 30 * time.Minute

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Index configures the records → index pipeline. Index.Source is
	// required for rebuilds; without it the service only serves what
	// Restore loaded.
	Index pipeline.IndexConfig

	// TagLimit caps the tag list. Zero uses index.DefaultTagLimit.
	TagLimit int

	// RebuildTimeout bounds a background rebuild, the shared index build
	// included. Zero uses DefaultRebuildTimeout.
	RebuildTimeout time.Duration

	// ManualRebuildInterval is the minimum spacing of rebuilds requested
	// over HTTP. Zero disables the limit.
	ManualRebuildInterval time.Duration
}

// BuildStatus describes the last rebuild.
type BuildStatus struct {
	RunID       string    `json:"run_id,omitempty"`
	Reason      string    `json:"reason"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Succeeded   bool      `json:"succeeded"`
	Loaded      int       `json:"loaded"`
	Malformed   int       `json:"malformed"`
	Nodes       int       `json:"nodes"`
	Reused      bool      `json:"reused"`
	Error       string    `json:"error,omitempty"`
}

// Service owns the published index.
//
// Thread Safety: Safe for concurrent use. At most one rebuild runs at a
// time.
type Service struct {
	cfg     ServiceConfig
	store   *badger.ArtifactStore
	cache   *cache.IndexCache
	logger  *slog.Logger
	limiter *rate.Limiter

	rebuilding atomic.Bool
	last       atomic.Pointer[BuildStatus]
	wg         sync.WaitGroup
}

// NewService creates a Service. store may be nil (nothing is persisted);
// c is required.
func NewService(cfg ServiceConfig, store *badger.ArtifactStore, c *cache.IndexCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = DefaultRebuildTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.ManualRebuildInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.ManualRebuildInterval), 1)
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		cache:   c,
		logger:  logger,
		limiter: limiter,
	}
}

// Start publishes the index the service begins serving with.
//
// Description:
//
//	With a record source, the dataset is loaded and fingerprinted by a
//	synchronous rebuild. A stored index is reused only when its
//	fingerprint matches; anything else is recomputed. Without a source the
//	last stored index is published as is.
//
// Outputs:
//
//	*BuildStatus - The startup rebuild; nil when restored without a source.
//	error - ErrNoIndex without a source or stored index, else the rebuild
//	error.
func (s *Service) Start(ctx context.Context) (*BuildStatus, error) {
	if s.cfg.Index.Source != nil {
		return s.Rebuild(ctx, "startup")
	}
	restored, err := s.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if !restored {
		return nil, ErrNoIndex
	}
	s.logger.Warn("no record source configured; serving the stored index without a freshness check",
		slog.String("fingerprint", s.cache.Current().Fingerprint()),
	)
	return nil, nil
}

// Restore publishes the last stored index, if any, without checking it
// against a dataset.
//
// Outputs:
//
//	bool - True when an index was published.
//	error - Only unexpected store failures. A missing or corrupt stored
//	index is reported as false with a warning for the corrupt case.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	idx, err := pipeline.LoadPublished(ctx, s.store)
	switch {
	case err == nil:
		s.cache.Publish(idx)
		return true, nil
	case errors.Is(err, badger.ErrArtifactNotFound):
		return false, nil
	case errors.Is(err, badger.ErrArtifactCorrupt), errors.Is(err, index.ErrCorruptSnapshot):
		s.logger.Warn("stored index rejected", slog.String("error", err.Error()))
		return false, nil
	default:
		return false, err
	}
}

// Rebuild runs the index pipeline and publishes the result. It returns
// ErrRebuildInProgress instead of waiting for a running rebuild.
func (s *Service) Rebuild(ctx context.Context, reason string) (*BuildStatus, error) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return nil, ErrRebuildInProgress
	}
	defer s.rebuilding.Store(false)
	return s.rebuild(ctx, reason)
}

// StartRebuild runs a rebuild in the background, subject to the manual
// rebuild rate. The rebuild gets its own timeout and outlives the caller.
func (s *Service) StartRebuild(reason string) error {
	if !s.limiter.Allow() {
		return ErrRebuildThrottled
	}
	if !s.rebuilding.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.rebuilding.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RebuildTimeout)
		defer cancel()
		_, _ = s.rebuild(ctx, reason)
	}()
	return nil
}

func (s *Service) rebuild(ctx context.Context, reason string) (*BuildStatus, error) {
	status := &BuildStatus{Reason: reason, StartedAt: time.Now()}
	s.logger.Info("index rebuild started", slog.String("reason", reason))

	out, err := pipeline.BuildIndex(ctx, s.cfg.Index, s.store, s.cache, s.logger)
	status.FinishedAt = time.Now()
	if out != nil {
		status.Loaded = out.Load.Loaded
		status.Malformed = out.Load.Malformed
		if out.Checkpoint != nil {
			status.RunID = out.Checkpoint.RunID
			if st, ok := out.Checkpoint.Completed("index"); ok {
				status.Reused = st.Loaded
			}
		}
		if out.Index != nil {
			status.Fingerprint = out.Index.Fingerprint()
			status.Nodes = out.Index.NodeCount()
		}
	}
	if err != nil {
		status.Error = err.Error()
		s.last.Store(status)
		s.logger.Error("index rebuild failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return status, err
	}

	status.Succeeded = true
	s.last.Store(status)
	s.logger.Info("index rebuild finished",
		slog.String("reason", reason),
		slog.String("fingerprint", status.Fingerprint),
		slog.Duration("duration", status.FinishedAt.Sub(status.StartedAt)),
	)
	return status, nil
}

// Wait blocks until background rebuilds have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Resolver returns a resolver over the published index, or
// cache.ErrNotPublished.
func (s *Service) Resolver() (*index.Resolver, error) {
	return s.cache.Resolver()
}

// Current returns the published index or nil.
func (s *Service) Current() *index.Index {
	return s.cache.Current()
}

// Rebuilding reports whether a rebuild is running.
func (s *Service) Rebuilding() bool {
	return s.rebuilding.Load()
}

// LastBuild returns the status of the last finished rebuild, or nil.
func (s *Service) LastBuild() *BuildStatus {
	return s.last.Load()
}

// TagLimit returns the configured tag list cap.
func (s *Service) TagLimit() int {
	return s.cfg.TagLimit
}
