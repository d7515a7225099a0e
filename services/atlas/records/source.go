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
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source loads a full set of entity records.
type Source interface {
	// Load reads every record. Malformed rows are skipped and counted.
	Load(ctx context.Context) (*LoadResult, error)

	// Describe names the source for logs and fingerprints.
	Describe() string
}

// CSVSource loads records from a CSV file.
type CSVSource struct {
	Path   string
	Logger *slog.Logger
}

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) (*LoadResult, error) {
	return LoadCSVFile(ctx, s.Path, s.Logger)
}

// Describe implements Source.
func (s *CSVSource) Describe() string {
	return "csv:" + s.Path
}

// sqlColumns maps CSV header names to table column names.
var sqlColumns = []struct{ csv, sql string }{
	{ColName, "article_name"},
	{ColID, "page_id"},
	{ColScore, "pagerank_score"},
	{ColLink, "wikipedia_link"},
	{ColBirth, "birth"},
	{ColDeath, "death"},
	{ColImage, "image_url"},
	{ColDescription, "description"},
	{ColOccupation, "occupation"},
	{ColField, "field"},
	{ColLatitude, "latitude"},
	{ColLongitude, "longitude"},
	{ColLinks, "outgoing_link_ids"},
}

// PostgresSource loads records from a PostgreSQL table with the top-people
// columns. Tag columns may be json/jsonb or text; every column is read as
// text and parsed exactly like the CSV layout.
type PostgresSource struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewPostgresSource connects a pool and checks it with a ping.
//
// Inputs:
//
//   - ctx: Context for the connection attempt.
//   - dsn: A libpq connection string or URL.
//   - table: Table name, optionally schema-qualified ("public.people").
//   - logger: Logger; nil uses slog.Default().
func NewPostgresSource(ctx context.Context, dsn, table string, logger *slog.Logger) (*PostgresSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("postgres source: empty table name")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresSource{pool: pool, table: table, logger: logger}, nil
}

// Query returns the SELECT statement used by Load.
func (s *PostgresSource) Query() string {
	return selectStatement(s.table)
}

func selectStatement(table string) string {
	cols := make([]string, len(sqlColumns))
	for i, c := range sqlColumns {
		cols[i] = pgx.Identifier{c.sql}.Sanitize() + "::text"
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + ident + " ORDER BY pagerank_score DESC NULLS LAST, page_id"
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context) (*LoadResult, error) {
	rows, err := s.pool.Query(ctx, s.Query())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int, len(sqlColumns))
	for i, c := range sqlColumns {
		index[c.csv] = i
	}

	c := newCollector()
	values := make([]*string, len(sqlColumns))
	dest := make([]any, len(sqlColumns))
	for i := range values {
		dest[i] = &values[i]
	}

	var line int64
	for rows.Next() {
		line++
		for i := range values {
			values[i] = nil
		}
		if err := rows.Scan(dest...); err != nil {
			c.add(line, EntityRecord{}, fmt.Errorf("scan: %w", err))
			continue
		}

		get := func(name string) string {
			if v := values[index[name]]; v != nil {
				return *v
			}
			return ""
		}
		rec, parseErr := fromColumns(get)
		c.add(line, rec, parseErr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	logLoad(s.logger, "postgres", &c.result)
	return &c.result, nil
}

// Describe implements Source.
func (s *PostgresSource) Describe() string {
	return "postgres:" + s.table
}

// Close releases the pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}
