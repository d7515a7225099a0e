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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

func newStore(t *testing.T) *badger.ArtifactStore {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return badger.NewArtifactStore(db, nil)
}

func TestPipeline_RunsStagesInOrder(t *testing.T) {
	store := newStore(t)
	var order []string
	stage := func(name string, loaded bool) func(ctx context.Context) (Outcome, error) {
		return func(ctx context.Context) (Outcome, error) {
			order = append(order, name)
			return Outcome{Fingerprint: "fp-" + name, Loaded: loaded, Counts: map[string]int{"n": len(order)}}, nil
		}
	}

	cp, err := New("demo", store, nil).
		Add("first", stage("first", false)).
		Add("second", stage("second", true)).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.True(t, cp.Succeeded())
	assert.NotEmpty(t, cp.RunID)
	require.Len(t, cp.Stages, 2)

	second, ok := cp.Completed("second")
	require.True(t, ok)
	assert.Equal(t, "fp-second", second.Fingerprint)
	assert.True(t, second.Loaded)
	assert.Equal(t, 2, second.Counts["n"])

	saved, err := LastCheckpoint(context.Background(), store, "demo")
	require.NoError(t, err)
	assert.Equal(t, cp.RunID, saved.RunID)
	assert.True(t, saved.Succeeded())
}

func TestPipeline_StopsAtFailure(t *testing.T) {
	store := newStore(t)
	boom := errors.New("boom")
	ran := false

	cp, err := New("demo", store, nil).
		Add("ok", func(ctx context.Context) (Outcome, error) { return Outcome{}, nil }).
		Add("bad", func(ctx context.Context) (Outcome, error) { return Outcome{}, boom }).
		Add("never", func(ctx context.Context) (Outcome, error) {
			ran = true
			return Outcome{}, nil
		}).
		Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.Equal(t, "bad", cp.FailedStage)
	assert.False(t, cp.Succeeded())
	_, ok := cp.Completed("ok")
	assert.True(t, ok)

	saved, err := LastCheckpoint(context.Background(), store, "demo")
	require.NoError(t, err)
	assert.Equal(t, "bad", saved.FailedStage)
	assert.Equal(t, "boom", saved.Error)
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cp, err := New("demo", nil, nil).
		Add("first", func(ctx context.Context) (Outcome, error) { return Outcome{}, nil }).
		Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "first", cp.FailedStage)
}

func TestPipeline_NoStages(t *testing.T) {
	_, err := New("empty", nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestLastCheckpoint_Missing(t *testing.T) {
	_, err := LastCheckpoint(context.Background(), newStore(t), "never-ran")
	assert.ErrorIs(t, err, badger.ErrArtifactNotFound)

	_, err = LastCheckpoint(context.Background(), nil, "never-ran")
	assert.ErrorIs(t, err, badger.ErrArtifactNotFound)
}
