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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/index"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/records"
)

// blockingSource waits on release before loading.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Load(ctx context.Context) (*records.LoadResult, error) {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (&stringSource{data: testRecords}).Load(ctx)
}

func (s *blockingSource) Describe() string {
	return "blocking"
}

type failingSource struct{}

func (failingSource) Load(context.Context) (*records.LoadResult, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) Describe() string {
	return "failing"
}

func TestService_RebuildPublishes(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	_, err := svc.Resolver()
	assert.ErrorIs(t, err, cache.ErrNotPublished)

	status, err := svc.Rebuild(context.Background(), "startup")
	require.NoError(t, err)
	assert.True(t, status.Succeeded)
	assert.Equal(t, 5, status.Loaded)
	assert.Equal(t, 5, status.Nodes)
	assert.NotEmpty(t, status.RunID)
	assert.Equal(t, svc.Current().Fingerprint(), status.Fingerprint)
	assert.Same(t, status, svc.LastBuild())

	r, err := svc.Resolver()
	require.NoError(t, err)
	assert.Equal(t, 4, r.Resolve(index.Query{Year: 1840}).Len())
}

func TestService_RestoreFromStore(t *testing.T) {
	store := newStore(t)
	cfg := ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}}

	first := NewService(cfg, store, cache.NewIndexCache(), nil)
	_, err := first.Rebuild(context.Background(), "startup")
	require.NoError(t, err)

	second := NewService(ServiceConfig{}, store, cache.NewIndexCache(), nil)
	ok, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Current().Fingerprint(), second.Current().Fingerprint())

	q := index.Query{Year: 1840, Tag: "poet"}
	a, _ := first.Resolver()
	b, _ := second.Resolver()
	assert.Equal(t, a.Resolve(q), b.Resolve(q))
}

func TestService_RestoreEmptyStore(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	ok, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, svc.Current())
}

func TestService_StartReusesMatchingIndex(t *testing.T) {
	store := newStore(t)
	cfg := ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}}

	first := NewService(cfg, store, cache.NewIndexCache(), nil)
	status, err := first.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Reused)

	second := NewService(cfg, store, cache.NewIndexCache(), nil)
	status, err = second.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Reused)
	assert.Equal(t, first.Current().Fingerprint(), second.Current().Fingerprint())
}

func TestService_StartRejectsStaleIndex(t *testing.T) {
	store := newStore(t)
	first := NewService(ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}},
		store, cache.NewIndexCache(), nil)
	_, err := first.Start(context.Background())
	require.NoError(t, err)

	changed := testRecords + "Fay,6,0.005,,1835,1890,,,\"['poet']\",,,,\n"
	second := NewService(ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: changed}, CurrentYear: 2000}},
		store, cache.NewIndexCache(), nil)
	status, err := second.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Reused)
	assert.Equal(t, 6, second.Current().NodeCount())
	assert.NotEqual(t, first.Current().Fingerprint(), second.Current().Fingerprint())

	r, err := second.Resolver()
	require.NoError(t, err)
	assert.Equal(t, 5, r.Resolve(index.Query{Year: 1840}).Len())
}

func TestService_StartWithoutSource(t *testing.T) {
	store := newStore(t)
	built := NewService(ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}},
		store, cache.NewIndexCache(), nil)
	_, err := built.Start(context.Background())
	require.NoError(t, err)

	restored := NewService(ServiceConfig{}, store, cache.NewIndexCache(), nil)
	status, err := restored.Start(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Equal(t, built.Current().Fingerprint(), restored.Current().Fingerprint())

	empty := NewService(ServiceConfig{}, newStore(t), cache.NewIndexCache(), nil)
	_, err = empty.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestService_RebuildFailureKeepsPublished(t *testing.T) {
	store := newStore(t)
	c := cache.NewIndexCache()
	good := NewService(ServiceConfig{Index: pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}}, store, c, nil)
	_, err := good.Rebuild(context.Background(), "startup")
	require.NoError(t, err)
	published := c.Current()

	bad := NewService(ServiceConfig{Index: pipeline.IndexConfig{Source: failingSource{}}}, store, c, nil)
	status, err := bad.Rebuild(context.Background(), "watch")
	require.Error(t, err)
	assert.False(t, status.Succeeded)
	assert.Contains(t, status.Error, "connection refused")
	assert.Same(t, published, c.Current())
}

func TestService_SingleRebuildAtATime(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, ServiceConfig{Index: pipeline.IndexConfig{Source: src, CurrentYear: 2000}})

	require.NoError(t, svc.StartRebuild("api"))
	<-src.started
	assert.True(t, svc.Rebuilding())

	_, err := svc.Rebuild(context.Background(), "watch")
	assert.ErrorIs(t, err, ErrRebuildInProgress)
	assert.ErrorIs(t, svc.StartRebuild("api"), ErrRebuildInProgress)

	close(src.release)
	svc.Wait()
	assert.False(t, svc.Rebuilding())
	require.NotNil(t, svc.Current())
}
