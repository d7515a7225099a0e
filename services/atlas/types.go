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

import "github.com/AleutianAI/atlas/services/atlas/index"

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeNotPublished     = "INDEX_NOT_PUBLISHED"
	CodeNotFound         = "NOT_FOUND"
	CodeRebuildRunning   = "REBUILD_IN_PROGRESS"
	CodeRebuildThrottled = "REBUILD_THROTTLED"
)

// QueryResponse is returned by GET /v1/atlas/query.
type QueryResponse struct {
	// Fingerprint identifies the index that answered.
	Fingerprint string `json:"fingerprint"`

	Year   int    `json:"year"`
	Tag    string `json:"tag"`
	Group  string `json:"group"`
	Anchor string `json:"anchor,omitempty"`

	// Total is the number of matches before Limit was applied.
	Total int `json:"total"`

	// Results are ordered by rank, most important first.
	Results []index.Entry `json:"results"`
}

// TagsResponse is returned by GET /v1/atlas/tags.
type TagsResponse struct {
	Tags []index.TagCount `json:"tags"`
}

// YearsResponse is returned by GET /v1/atlas/years.
type YearsResponse struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Current int `json:"current"`

	// Year is the slider mapping of the "x" parameter, when given.
	Year *int `json:"year,omitempty"`
}

// HealthResponse is returned by GET /v1/atlas/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by GET /v1/atlas/ready.
type ReadyResponse struct {
	Ready       bool         `json:"ready"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Nodes       int          `json:"nodes"`
	Clusters    int          `json:"clusters"`
	Rebuilding  bool         `json:"rebuilding"`
	LastBuild   *BuildStatus `json:"last_build,omitempty"`
}

// RebuildResponse is returned by POST /v1/atlas/rebuild.
type RebuildResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`
}
