// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package records loads and validates the enriched entity records that the
// index is built from.
//
// Records come from a CSV file in the top-people layout or from a PostgreSQL
// table with the same columns. Tag columns are parsed once, at ingestion,
// from either JSON arrays or Python list literals. Rows that fail parsing or
// validation are skipped and counted in LoadStats; they never fail a load.
package records

import (
	"errors"
	"fmt"
)

// Sentinel errors for record loading.
var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrBadList is returned when a tag or link list cannot be parsed.
	ErrBadList = errors.New("malformed list literal")

	// ErrBadNumber is returned when a numeric column cannot be parsed.
	ErrBadNumber = errors.New("malformed number")
)

// RecordError describes one skipped record.
type RecordError struct {
	// Line is the 1-based source line (CSV) or row number (SQL).
	Line int64

	// ID is the record's external id, if it was readable.
	ID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %s (line %d): %v", e.ID, e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e RecordError) Unwrap() error {
	return e.Err
}
