// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/atlas/services/atlas/index"
)

// DefaultErrorBackoff is how long a failed build is remembered before the
// same fingerprint may be rebuilt.
const DefaultErrorBackoff = 30 * time.Second

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_index_cache_lookups_total",
		Help: "Index cache lookups by result",
	}, []string{"result"})

	cacheBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_index_cache_build_duration_seconds",
		Help:    "Time spent producing an index on a cache miss",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	cachePublishedAt = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_index_published_timestamp_seconds",
		Help: "Unix time of the last index publish",
	})
)

// BuildFunc produces the index for a fingerprint: a persisted load or a full
// recompute.
type BuildFunc func(ctx context.Context, fingerprint string) (*index.Index, error)

// Stats are cumulative counters of an IndexCache.
type Stats struct {
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Builds      int64  `json:"builds"`
	Errors      int64  `json:"errors"`
	Publishes   int64  `json:"publishes"`
	Fingerprint string `json:"fingerprint"`
}

// IndexCache holds the one published index.
//
// Description:
//
//	Readers call Current, a single atomic load, and never block on a build.
//	A replacement is built completely off to the side and then swapped in
//	with one atomic store. Concurrent Ensure calls for the same fingerprint
//	share one build through singleflight.
//
// Thread Safety: Safe for concurrent use.
type IndexCache struct {
	current atomic.Pointer[index.Index]
	flight  singleflight.Group
	logger  *slog.Logger
	backoff time.Duration

	failMu   sync.Mutex
	failures map[string]*ErrBuildFailed

	hits      atomic.Int64
	misses    atomic.Int64
	builds    atomic.Int64
	errors    atomic.Int64
	publishes atomic.Int64
}

// Option configures an IndexCache.
type Option func(*IndexCache)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *IndexCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorBackoff sets how long build failures are cached. Zero disables
// failure caching.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *IndexCache) {
		c.backoff = d
	}
}

// NewIndexCache returns an empty cache.
func NewIndexCache(opts ...Option) *IndexCache {
	c := &IndexCache{
		logger:   slog.Default(),
		backoff:  DefaultErrorBackoff,
		failures: make(map[string]*ErrBuildFailed),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the published index, or nil before the first publish.
func (c *IndexCache) Current() *index.Index {
	return c.current.Load()
}

// Resolver returns a resolver over the published index.
func (c *IndexCache) Resolver() (*index.Resolver, error) {
	idx := c.current.Load()
	if idx == nil {
		return nil, ErrNotPublished
	}
	return index.NewResolver(idx), nil
}

// Publish makes idx the current index and returns the previous one.
func (c *IndexCache) Publish(idx *index.Index) *index.Index {
	prev := c.current.Swap(idx)
	c.publishes.Add(1)
	cachePublishedAt.SetToCurrentTime()

	attrs := []any{slog.String("fingerprint", idx.Fingerprint()), slog.Int("nodes", idx.NodeCount())}
	if prev != nil {
		attrs = append(attrs, slog.String("previous", prev.Fingerprint()))
	}
	c.logger.Info("index published", attrs...)
	return prev
}

// Ensure returns the index for fingerprint, building and publishing it when
// the current index has a different fingerprint.
//
// Description:
//
//	A hit is a single atomic load. On a miss, concurrent callers for the same
//	fingerprint share one build. A failed build is remembered for the
//	backoff period and returned as *ErrBuildFailed without rebuilding. The
//	caller's ctx bounds how long it waits. The shared build is detached
//	from any one caller's cancellation but keeps the deadline of the caller
//	that started it.
//
// Outputs:
//
//	*index.Index - The published index for fingerprint.
//	error - The build error, *ErrBuildFailed or ctx.Err().
func (c *IndexCache) Ensure(ctx context.Context, fingerprint string, build BuildFunc) (*index.Index, error) {
	if cur := c.current.Load(); cur != nil && cur.Fingerprint() == fingerprint {
		c.hits.Add(1)
		cacheLookups.WithLabelValues("hit").Inc()
		return cur, nil
	}
	c.misses.Add(1)
	cacheLookups.WithLabelValues("miss").Inc()

	if fb := c.cachedFailure(fingerprint); fb != nil {
		return nil, fb
	}

	ch := c.flight.DoChan(fingerprint, func() (interface{}, error) {
		start := time.Now()
		bctx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			bctx, cancel = context.WithDeadline(bctx, deadline)
			defer cancel()
		}
		idx, err := build(bctx, fingerprint)
		if err == nil && idx == nil {
			err = ErrNilIndex
		}
		if err != nil {
			c.errors.Add(1)
			c.rememberFailure(fingerprint, err)
			c.logger.Error("index build failed",
				slog.String("fingerprint", fingerprint),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		c.builds.Add(1)
		cacheBuildDuration.Observe(time.Since(start).Seconds())
		c.clearFailure(fingerprint)
		c.Publish(idx)
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*index.Index), nil
	}
}

// Stats returns a snapshot of the counters.
func (c *IndexCache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Builds:    c.builds.Load(),
		Errors:    c.errors.Load(),
		Publishes: c.publishes.Load(),
	}
	if cur := c.current.Load(); cur != nil {
		s.Fingerprint = cur.Fingerprint()
	}
	return s
}

func (c *IndexCache) cachedFailure(fingerprint string) *ErrBuildFailed {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	fb, ok := c.failures[fingerprint]
	if !ok {
		return nil
	}
	if time.Now().After(fb.RetryAt) {
		delete(c.failures, fingerprint)
		return nil
	}
	return fb
}

func (c *IndexCache) rememberFailure(fingerprint string, err error) {
	if c.backoff <= 0 {
		return
	}
	now := time.Now()
	c.failMu.Lock()
	c.failures[fingerprint] = &ErrBuildFailed{
		Fingerprint: fingerprint,
		Err:         err,
		FailedAt:    now,
		RetryAt:     now.Add(c.backoff),
	}
	c.failMu.Unlock()
}

func (c *IndexCache) clearFailure(fingerprint string) {
	c.failMu.Lock()
	delete(c.failures, fingerprint)
	c.failMu.Unlock()
}
