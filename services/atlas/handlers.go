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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/atlas/services/atlas/index"
	"github.com/AleutianAI/atlas/services/atlas/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the atlas API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleQuery handles GET /v1/atlas/query.
//
// Description:
//
//	Resolves one filter combination against the published index.
//
// Query Parameters:
//
//	year: Year the entities must be alive in. Defaults to the current year.
//	x: Slider position in [0, 1], mapped onto the year range. Ignored when
//	   year is given.
//	tag: Tag filter; empty or "All" disables it.
//	group: "none", "neighbors" or "cluster".
//	anchor: External id the group filter is centered on.
//	limit: Maximum results returned; 0 returns all.
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Invalid parameter
//	503 Service Unavailable: No index published yet
func (h *Handlers) HandleQuery(c *gin.Context) {
	logger := h.requestLogger(c, "HandleQuery")

	r, ok := h.resolver(c)
	if !ok {
		return
	}
	idx := r.Index()

	year, ok := yearParam(c, idx)
	if !ok {
		return
	}
	group, err := index.ParseGroupKind(c.Query("group"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := intParam(c, "limit", 0)
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return
	}

	tag := c.Query("tag")
	if tag == "" {
		tag = index.AllTags
	}
	q := index.Query{Year: year, Tag: tag, Group: group}
	anchor := c.Query("anchor")

	resp := QueryResponse{
		Fingerprint: idx.Fingerprint(),
		Year:        year,
		Tag:         tag,
		Group:       group.String(),
		Anchor:      anchor,
		Results:     []index.Entry{},
	}

	if group != index.GroupNone && anchor != "" {
		id, found := r.Lookup(anchor)
		if !found {
			logger.Info("unknown anchor", slog.String("anchor", anchor))
			c.JSON(http.StatusOK, resp)
			return
		}
		q.Anchor = &id
	}

	ids := r.Resolve(q)
	resp.Total = ids.Len()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	resp.Results = r.Entries(ids)

	logger.Debug("query resolved",
		slog.Int("year", year),
		slog.String("tag", tag),
		slog.String("group", group.String()),
		slog.Int("total", resp.Total),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleRecord handles GET /v1/atlas/records/:id, where id is the
// external id.
func (h *Handlers) HandleRecord(c *gin.Context) {
	r, ok := h.resolver(c)
	if !ok {
		return
	}
	id, found := r.Lookup(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "record not found", Code: CodeNotFound})
		return
	}
	entry, _ := r.Entry(id)
	c.JSON(http.StatusOK, entry)
}

// HandleTags handles GET /v1/atlas/tags.
//
// Query Parameters:
//
//	limit: Entries returned, "All" included. Defaults to the configured
//	       tag limit.
func (h *Handlers) HandleTags(c *gin.Context) {
	r, ok := h.resolver(c)
	if !ok {
		return
	}
	limit, err := intParam(c, "limit", h.svc.TagLimit())
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return
	}
	c.JSON(http.StatusOK, TagsResponse{Tags: r.Index().TagFrequencies(limit)})
}

// HandleYears handles GET /v1/atlas/years.
//
// Query Parameters:
//
//	x: Optional slider position in [0, 1] to map onto the range.
func (h *Handlers) HandleYears(c *gin.Context) {
	r, ok := h.resolver(c)
	if !ok {
		return
	}
	idx := r.Index()
	minYear, maxYear := idx.YearRange()
	resp := YearsResponse{Min: minYear, Max: maxYear, Current: idx.CurrentYear()}

	if raw := c.Query("x"); raw != "" {
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "x must be a number")
			return
		}
		year, err := index.MapToYear(x, minYear, maxYear)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		resp.Year = &year
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/atlas/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/atlas/ready.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true) - An index is published
//	503 Service Unavailable: ReadyResponse (Ready=false) - Start-up build
//	    still running
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Rebuilding: h.svc.Rebuilding(),
		LastBuild:  h.svc.LastBuild(),
	}
	idx := h.svc.Current()
	if idx == nil {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Ready = true
	resp.Fingerprint = idx.Fingerprint()
	resp.Nodes = idx.NodeCount()
	resp.Clusters = idx.ClusterCount()
	c.JSON(http.StatusOK, resp)
}

// HandleRebuild handles POST /v1/atlas/rebuild.
//
// Response:
//
//	202 Accepted: RebuildResponse - Rebuild started in the background
//	409 Conflict: A rebuild is already running
//	429 Too Many Requests: Manual rebuild rate exceeded
func (h *Handlers) HandleRebuild(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRebuild")

	err := h.svc.StartRebuild("api")
	switch {
	case err == nil:
		logger.Info("rebuild requested")
		c.JSON(http.StatusAccepted, RebuildResponse{Status: "started"})
	case errors.Is(err, ErrRebuildInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeRebuildRunning})
	case errors.Is(err, ErrRebuildThrottled):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: CodeRebuildThrottled})
	default:
		logger.Error("rebuild request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

// resolver writes 503 and returns false when nothing is published.
func (h *Handlers) resolver(c *gin.Context) (*index.Resolver, bool) {
	r, err := h.svc.Resolver()
	if err != nil {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeNotPublished})
		return nil, false
	}
	return r, true
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// yearParam reads "year", else maps "x", else uses the index's current
// year. It writes 400 and returns false on a bad value.
func yearParam(c *gin.Context, idx *index.Index) (int, bool) {
	if raw := c.Query("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "year must be an integer")
			return 0, false
		}
		return year, true
	}
	if raw := c.Query("x"); raw != "" {
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "x must be a number")
			return 0, false
		}
		minYear, maxYear := idx.YearRange()
		year, err := index.MapToYear(x, minYear, maxYear)
		if err != nil {
			badRequest(c, err.Error())
			return 0, false
		}
		return year, true
	}
	return idx.CurrentYear(), true
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeInvalidParameter})
}

// getOrCreateRequestID echoes X-Request-ID or assigns a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
