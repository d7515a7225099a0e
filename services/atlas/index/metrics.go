// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_index_queries_total",
		Help: "Total resolved queries by group kind and tag filter",
	}, []string{"group", "tag_filter"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_index_query_duration_seconds",
		Help:    "Time spent resolving one query",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	queryResultSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_index_query_result_size",
		Help:    "Number of ids returned per query",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
	})
)

func recordQuery(q Query, size int, elapsed time.Duration) {
	queriesTotal.WithLabelValues(q.Group.String(), strconv.FormatBool(q.TagActive())).Inc()
	queryDuration.Observe(elapsed.Seconds())
	queryResultSize.Observe(float64(size))
}
