// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Edge stream defaults. They match the public wikilinks dump layout.
const (
	// DefaultChunkSize is the number of rows returned per Next() call.
	DefaultChunkSize = 1_000_000

	// DefaultSourceColumn is the header name of the source id column.
	DefaultSourceColumn = "page_id_from"

	// DefaultTargetColumn is the header name of the target id column.
	DefaultTargetColumn = "page_id_to"
)

// RawEdge is one row of an edge stream, still in external-id terms.
type RawEdge struct {
	Source string
	Target string
	Line   int64
}

// EdgeReaderOptions configures an EdgeReader.
type EdgeReaderOptions struct {
	// Delimiter separates fields. Default: '\t'.
	Delimiter rune

	// HasHeader indicates the first row names the columns. Default: true.
	HasHeader bool

	// SourceColumn and TargetColumn select columns by header name.
	// Ignored when HasHeader is false (columns 0 and 1 are used).
	SourceColumn string
	TargetColumn string

	// ChunkSize bounds how many rows are held in memory. Default: 1,000,000.
	ChunkSize int
}

// DefaultEdgeReaderOptions returns the wikilinks dump layout.
func DefaultEdgeReaderOptions() EdgeReaderOptions {
	return EdgeReaderOptions{
		Delimiter:    '\t',
		HasHeader:    true,
		SourceColumn: DefaultSourceColumn,
		TargetColumn: DefaultTargetColumn,
		ChunkSize:    DefaultChunkSize,
	}
}

// EdgeReaderStats counts what a reader has seen so far.
type EdgeReaderStats struct {
	Rows      int64 `json:"rows"`
	Malformed int   `json:"malformed"`
	Bytes     int64 `json:"bytes"`
}

// EdgeReader reads an unbounded delimited edge stream in bounded chunks.
//
// Description:
//
//	Wraps encoding/csv with lazy quoting and a variable field count so that
//	a single bad row never stops the stream. Rows that cannot be parsed or
//	lack a column are skipped and counted. Every byte read is fed to a
//	SHA-256 hasher; Checksum() is the input checksum used by fingerprints.
//
// Thread Safety: Not safe for concurrent use.
type EdgeReader struct {
	csv    *csv.Reader
	hasher hash.Hash
	count  *countingReader
	opts   EdgeReaderOptions

	srcCol, dstCol int
	headerRead     bool
	done           bool

	stats     EdgeReaderStats
	rowErrors []RowError
}

// NewEdgeReader creates a reader over r.
func NewEdgeReader(r io.Reader, opts EdgeReaderOptions) *EdgeReader {
	if opts.Delimiter == 0 {
		opts.Delimiter = '\t'
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.SourceColumn == "" {
		opts.SourceColumn = DefaultSourceColumn
	}
	if opts.TargetColumn == "" {
		opts.TargetColumn = DefaultTargetColumn
	}

	h := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, h)}
	cr := csv.NewReader(counter)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	return &EdgeReader{
		csv:    cr,
		hasher: h,
		count:  counter,
		opts:   opts,
		srcCol: 0,
		dstCol: 1,
	}
}

// Next returns the next chunk of at most ChunkSize edges.
//
// Outputs:
//
//	[]RawEdge - The chunk. May be non-empty together with io.EOF.
//	error - io.EOF at end of stream, ErrMissingColumn for a bad header,
//	ctx.Err() when cancelled, or an I/O error.
func (r *EdgeReader) Next(ctx context.Context) ([]RawEdge, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.headerRead {
		if err := r.readHeader(); err != nil {
			return nil, err
		}
	}

	chunk := make([]RawEdge, 0, minInt(r.opts.ChunkSize, 4096))
	for len(chunk) < r.opts.ChunkSize {
		if len(chunk)%8192 == 0 && ctx.Err() != nil {
			return chunk, ctx.Err()
		}

		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			r.stats.Bytes = r.count.n
			return chunk, io.EOF
		}
		r.stats.Rows++

		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.skip(int64(parseErr.Line), err)
				continue
			}
			return chunk, fmt.Errorf("read edge stream: %w", err)
		}
		line, _ := r.csv.FieldPos(0)

		if r.srcCol >= len(record) || r.dstCol >= len(record) {
			r.skip(int64(line), fmt.Errorf("%w: %d fields", ErrMalformedEdge, len(record)))
			continue
		}
		src := strings.TrimSpace(record[r.srcCol])
		dst := strings.TrimSpace(record[r.dstCol])
		if src == "" || dst == "" {
			r.skip(int64(line), ErrMalformedEdge)
			continue
		}

		chunk = append(chunk, RawEdge{Source: src, Target: dst, Line: int64(line)})
	}

	r.stats.Bytes = r.count.n
	return chunk, nil
}

func (r *EdgeReader) readHeader() error {
	r.headerRead = true
	if !r.opts.HasHeader {
		return nil
	}

	header, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		r.done = true
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("read edge stream header: %w", err)
	}

	r.srcCol, r.dstCol = -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case r.opts.SourceColumn:
			r.srcCol = i
		case r.opts.TargetColumn:
			r.dstCol = i
		}
	}
	if r.srcCol < 0 {
		return fmt.Errorf("%w: %q", ErrMissingColumn, r.opts.SourceColumn)
	}
	if r.dstCol < 0 {
		return fmt.Errorf("%w: %q", ErrMissingColumn, r.opts.TargetColumn)
	}
	return nil
}

func (r *EdgeReader) skip(line int64, err error) {
	r.stats.Malformed++
	if len(r.rowErrors) < maxKeptRowErrors {
		r.rowErrors = append(r.rowErrors, RowError{Line: line, Err: err})
	}
}

// Stats returns counters for the rows read so far.
func (r *EdgeReader) Stats() EdgeReaderStats {
	return r.stats
}

// RowErrors returns the first skipped rows.
func (r *EdgeReader) RowErrors() []RowError {
	return r.rowErrors
}

// Checksum returns the hex SHA-256 of every byte consumed so far. After the
// reader returns io.EOF this is the checksum of the whole stream.
func (r *EdgeReader) Checksum() string {
	return hex.EncodeToString(r.hasher.Sum(nil))
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
