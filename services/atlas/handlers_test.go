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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/records"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

const testRecords = `article_name,page_id,pagerank_score,wikipedia link,birth,death,image_url,description,occupation,field,latitude,longitude,outgoing_link_ids
Ada,1,0.5,,1800,1850,,,"['physicist']",,,,"2,3"
Ben,2,0.3,,1810,1870,,,"['physicist']",,,,1
Cy,3,0.1,,1820,1880,,,"['poet']",,,,4
Di,4,0.05,,1830,,,,"['poet']",,,,3
Ed,5,0.01,,,,,,,,,,
`

// stringSource serves records from memory.
type stringSource struct {
	data string
}

func (s *stringSource) Load(ctx context.Context) (*records.LoadResult, error) {
	return records.LoadCSV(ctx, strings.NewReader(s.data), nil)
}

func (s *stringSource) Describe() string {
	return "memory"
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newStore(t *testing.T) *badger.ArtifactStore {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return badger.NewArtifactStore(db, nil)
}

func newTestService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	if cfg.Index.Source == nil {
		cfg.Index = pipeline.IndexConfig{Source: &stringSource{data: testRecords}, CurrentYear: 2000}
	}
	svc := NewService(cfg, newStore(t), cache.NewIndexCache(), nil)
	t.Cleanup(svc.Wait)
	return svc
}

func publishedRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	svc := newTestService(t, ServiceConfig{})
	_, err := svc.Rebuild(context.Background(), "test")
	require.NoError(t, err)
	return NewRouter(NewHandlers(svc, nil), "atlas-test"), svc
}

func get(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func resultIDs(resp QueryResponse) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, e := range resp.Results {
		ids = append(ids, e.Record.ID)
	}
	return ids
}

func TestHandleQuery(t *testing.T) {
	router, svc := publishedRouter(t)

	tests := []struct {
		name  string
		query string
		want  []string
		total int
	}{
		{"year only", "year=1840", []string{"1", "2", "3", "4"}, 4},
		{"year boundary start", "year=1800", []string{"1"}, 1},
		{"year boundary end", "year=1850", []string{"1", "2", "3", "4"}, 4},
		{"after death", "year=1851", []string{"2", "3", "4"}, 3},
		{"tag", "year=1840&tag=poet", []string{"3", "4"}, 2},
		{"all tag", "year=1840&tag=All", []string{"1", "2", "3", "4"}, 4},
		{"unknown tag", "year=1840&tag=painter", []string{}, 0},
		{"neighbors", "year=1840&group=neighbors&anchor=1", []string{"2", "3"}, 2},
		{"unknown anchor", "year=1840&group=neighbors&anchor=999", []string{}, 0},
		{"group without anchor", "year=1840&group=cluster", []string{"1", "2", "3", "4"}, 4},
		{"limit", "year=1840&limit=2", []string{"1", "2"}, 4},
		{"default year", "", []string{"4"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, router, "/v1/atlas/query?"+tt.query)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decode[QueryResponse](t, w)
			assert.Equal(t, tt.want, resultIDs(resp))
			assert.Equal(t, tt.total, resp.Total)
			assert.Equal(t, svc.Current().Fingerprint(), resp.Fingerprint)
		})
	}
}

func TestHandleQuery_ClusterContainsAnchor(t *testing.T) {
	router, _ := publishedRouter(t)

	resp := decode[QueryResponse](t, get(t, router, "/v1/atlas/query?year=1840&group=cluster&anchor=1"))
	assert.Contains(t, resultIDs(resp), "1")
	for _, e := range resp.Results {
		require.NotNil(t, e.Cluster)
		assert.Equal(t, *resp.Results[0].Cluster, *e.Cluster)
	}
}

func TestHandleQuery_RankOrderAndColor(t *testing.T) {
	router, _ := publishedRouter(t)

	resp := decode[QueryResponse](t, get(t, router, "/v1/atlas/query?year=1840"))
	require.Len(t, resp.Results, 4)
	for i, e := range resp.Results {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.InDelta(t, 1.0, resp.Results[0].ColorValue, 1e-12)
}

func TestHandleQuery_Slider(t *testing.T) {
	router, _ := publishedRouter(t)

	// 1800 + 0^0.2 * 200
	resp := decode[QueryResponse](t, get(t, router, "/v1/atlas/query?x=0"))
	assert.Equal(t, 1800, resp.Year)
	assert.Equal(t, []string{"1"}, resultIDs(resp))

	resp = decode[QueryResponse](t, get(t, router, "/v1/atlas/query?x=1"))
	assert.Equal(t, 2000, resp.Year)
}

func TestHandleQuery_BadParameters(t *testing.T) {
	router, _ := publishedRouter(t)

	for _, q := range []string{"year=abc", "x=2", "x=nope", "group=friends", "limit=-1", "limit=x"} {
		t.Run(q, func(t *testing.T) {
			w := get(t, router, "/v1/atlas/query?"+q)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidParameter, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_NotPublished(t *testing.T) {
	svc := newTestService(t, ServiceConfig{})
	router := NewRouter(NewHandlers(svc, nil), "atlas-test")

	for _, path := range []string{"/v1/atlas/query?year=1840", "/v1/atlas/records/1", "/v1/atlas/tags", "/v1/atlas/years"} {
		w := get(t, router, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, CodeNotPublished, decode[ErrorResponse](t, w).Code)
	}

	w := get(t, router, "/v1/atlas/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, decode[ReadyResponse](t, w).Ready)

	w = get(t, router, "/v1/atlas/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRecord(t *testing.T) {
	router, _ := publishedRouter(t)

	w := get(t, router, "/v1/atlas/records/3")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"name":"Cy"`)

	w = get(t, router, "/v1/atlas/records/42")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, w).Code)
}

func TestHandleTags(t *testing.T) {
	router, _ := publishedRouter(t)

	resp := decode[TagsResponse](t, get(t, router, "/v1/atlas/tags"))
	require.Len(t, resp.Tags, 3)
	assert.Equal(t, "All", resp.Tags[0].Tag)
	assert.Equal(t, 5, resp.Tags[0].Count)
	assert.Equal(t, "physicist", resp.Tags[1].Tag)
	assert.Equal(t, "poet", resp.Tags[2].Tag)

	resp = decode[TagsResponse](t, get(t, router, "/v1/atlas/tags?limit=2"))
	assert.Len(t, resp.Tags, 2)
}

func TestHandleYears(t *testing.T) {
	router, _ := publishedRouter(t)

	resp := decode[YearsResponse](t, get(t, router, "/v1/atlas/years"))
	assert.Equal(t, 1800, resp.Min)
	assert.Equal(t, 2000, resp.Max)
	assert.Equal(t, 2000, resp.Current)
	assert.Nil(t, resp.Year)

	resp = decode[YearsResponse](t, get(t, router, "/v1/atlas/years?x=1"))
	require.NotNil(t, resp.Year)
	assert.Equal(t, 2000, *resp.Year)

	w := get(t, router, "/v1/atlas/years?x=-0.5")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReady(t *testing.T) {
	router, svc := publishedRouter(t)

	w := get(t, router, "/v1/atlas/ready")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[ReadyResponse](t, w)
	assert.True(t, resp.Ready)
	assert.Equal(t, svc.Current().Fingerprint(), resp.Fingerprint)
	assert.Equal(t, 5, resp.Nodes)
	require.NotNil(t, resp.LastBuild)
	assert.True(t, resp.LastBuild.Succeeded)
}

func TestHandleRebuild(t *testing.T) {
	svc := newTestService(t, ServiceConfig{ManualRebuildInterval: time.Hour})
	router := NewRouter(NewHandlers(svc, nil), "atlas-test")

	req := httptest.NewRequest(http.MethodPost, "/v1/atlas/rebuild", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	svc.Wait()
	require.NotNil(t, svc.Current())
	require.NotNil(t, svc.LastBuild())
	assert.Equal(t, "api", svc.LastBuild().Reason)

	req = httptest.NewRequest(http.MethodPost, "/v1/atlas/rebuild", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, CodeRebuildThrottled, decode[ErrorResponse](t, w).Code)
}

func TestRequestID(t *testing.T) {
	router, _ := publishedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/atlas/query?year=1840", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-7", w.Header().Get("X-Request-ID"))

	w = get(t, router, "/v1/atlas/query?year=1840")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := publishedRouter(t)
	get(t, router, "/v1/atlas/query?year=1840")

	w := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "atlas_index_cache_lookups_total")
}
