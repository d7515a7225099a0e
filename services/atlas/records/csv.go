// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package records

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Column names of the top-people CSV layout.
const (
	ColName        = "article_name"
	ColID          = "page_id"
	ColScore       = "pagerank_score"
	ColLink        = "wikipedia link"
	ColBirth       = "birth"
	ColDeath       = "death"
	ColImage       = "image_url"
	ColDescription = "description"
	ColOccupation  = "occupation"
	ColField       = "field"
	ColLatitude    = "latitude"
	ColLongitude   = "longitude"
	ColLinks       = "outgoing_link_ids"
)

// requiredColumns must be present in every records header.
var requiredColumns = []string{ColName, ColID}

// LoadCSVFile loads records from a CSV file.
func LoadCSVFile(ctx context.Context, path string, logger *slog.Logger) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()
	return LoadCSV(ctx, f, logger)
}

// LoadCSV loads records from CSV in the top-people layout.
//
// Description:
//
//	Columns are found by header name; only article_name and page_id are
//	required. Rows whose numbers, lists, or field values do not parse or
//	validate are skipped and counted. Records keep file order.
//
// Outputs:
//
//	*LoadResult - Records, kept row errors and stats.
//	error - ErrMissingColumn, an I/O error, or ctx.Err().
func LoadCSV(ctx context.Context, r io.Reader, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read records header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	c := newCollector()
	for {
		if c.result.Stats.Rows%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				c.add(int64(parseErr.Line), EntityRecord{}, err)
				continue
			}
			return nil, fmt.Errorf("read records: %w", err)
		}
		line, _ := cr.FieldPos(0)

		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		rec, parseErr := fromColumns(get)
		c.add(int64(line), rec, parseErr)
	}

	logLoad(logger, "csv", &c.result)
	return &c.result, nil
}

// fromColumns converts one row, read through get, into a record.
func fromColumns(get func(name string) string) (EntityRecord, error) {
	rec := EntityRecord{
		ID:          normalizeID(strings.TrimSpace(get(ColID))),
		Name:        strings.TrimSpace(get(ColName)),
		Link:        strings.TrimSpace(get(ColLink)),
		Description: strings.TrimSpace(get(ColDescription)),
		ImageURL:    strings.TrimSpace(get(ColImage)),
	}
	if isNull(rec.Link) {
		rec.Link = ""
	}
	if isNull(rec.ImageURL) {
		rec.ImageURL = ""
	}
	if isNull(rec.Description) {
		rec.Description = ""
	}

	score, err := parseOptFloat(get(ColScore))
	if err != nil {
		return rec, fmt.Errorf("%s: %w", ColScore, err)
	}
	if score != nil {
		rec.Score = *score
	}
	if rec.Birth, err = parseYear(get(ColBirth)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColBirth, err)
	}
	if rec.Death, err = parseYear(get(ColDeath)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColDeath, err)
	}
	if rec.Occupations, err = ParseTagList(get(ColOccupation)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColOccupation, err)
	}
	if rec.Fields, err = ParseTagList(get(ColField)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColField, err)
	}
	if rec.Latitude, err = parseOptFloat(get(ColLatitude)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColLatitude, err)
	}
	if rec.Longitude, err = parseOptFloat(get(ColLongitude)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColLongitude, err)
	}
	if rec.Links, err = ParseLinkList(get(ColLinks)); err != nil {
		return rec, fmt.Errorf("%s: %w", ColLinks, err)
	}
	return rec, nil
}

func logLoad(logger *slog.Logger, source string, res *LoadResult) {
	if res.Stats.Malformed > 0 {
		logger.Warn("skipped malformed records",
			slog.String("source", source),
			slog.Int("malformed", res.Stats.Malformed),
			slog.Int("kept_errors", len(res.Errors)),
		)
	}
	logger.Info("records loaded",
		slog.String("source", source),
		slog.Int("rows", res.Stats.Rows),
		slog.Int("loaded", res.Stats.Loaded),
		slog.Int("duplicates", res.Stats.Duplicates),
		slog.Int("missing_birth", res.Stats.MissingBirth),
	)
}
