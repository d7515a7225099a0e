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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// recordValidate is the validator instance for entity records.
var recordValidate = validator.New()

// EntityRecord is one enriched entity (a person article in the default
// dataset).
//
// Birth and Death are nil when unknown. A record without a birth year is kept
// for lookup but belongs to no year.
type EntityRecord struct {
	ID          string   `json:"id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	Link        string   `json:"link,omitempty" validate:"omitempty,url"`
	Score       float64  `json:"score" validate:"gte=0"`
	Birth       *int     `json:"birth,omitempty"`
	Death       *int     `json:"death,omitempty"`
	Occupations []string `json:"occupations,omitempty" validate:"omitempty,dive,required"`
	Fields      []string `json:"fields,omitempty" validate:"omitempty,dive,required"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty" validate:"omitempty,url"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Links       []string `json:"links,omitempty" validate:"omitempty,dive,required"`
}

// Validate checks field-level constraints.
func (r *EntityRecord) Validate() error {
	if err := recordValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Tags returns the record's category tags: occupations, then fields, without
// duplicates.
func (r *EntityRecord) Tags() []string {
	if len(r.Occupations) == 0 && len(r.Fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Occupations)+len(r.Fields))
	out := make([]string, 0, len(r.Occupations)+len(r.Fields))
	for _, list := range [][]string{r.Occupations, r.Fields} {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// LifespanValid reports whether Death, when present, is not before Birth.
func (r *EntityRecord) LifespanValid() bool {
	return r.Birth == nil || r.Death == nil || *r.Death >= *r.Birth
}

// LoadStats counts what a load has seen.
type LoadStats struct {
	// Rows is the number of data rows read.
	Rows int `json:"rows"`

	// Loaded is the number of records returned.
	Loaded int `json:"loaded"`

	// Malformed is the number of rows skipped for parse or validation errors.
	Malformed int `json:"malformed"`

	// Duplicates is the number of rows skipped because their id was seen.
	Duplicates int `json:"duplicates"`

	// MissingBirth is the number of loaded records without a birth year.
	MissingBirth int `json:"missing_birth"`
}

// LoadResult is the output of a record load.
type LoadResult struct {
	Records []EntityRecord
	Errors  []RecordError
	Stats   LoadStats
}

// maxKeptRecordErrors caps how many RecordErrors a load retains.
const maxKeptRecordErrors = 100

// collector accumulates records and stats for both loaders.
type collector struct {
	seen   map[string]struct{}
	result LoadResult
}

func newCollector() *collector {
	return &collector{seen: make(map[string]struct{})}
}

func (c *collector) add(line int64, rec EntityRecord, parseErr error) {
	c.result.Stats.Rows++
	if parseErr == nil {
		parseErr = rec.Validate()
	}
	if parseErr != nil {
		c.result.Stats.Malformed++
		if len(c.result.Errors) < maxKeptRecordErrors {
			c.result.Errors = append(c.result.Errors, RecordError{Line: line, ID: rec.ID, Err: parseErr})
		}
		return
	}
	if _, dup := c.seen[rec.ID]; dup {
		c.result.Stats.Duplicates++
		return
	}
	c.seen[rec.ID] = struct{}{}
	if rec.Birth == nil {
		c.result.Stats.MissingBirth++
	}
	c.result.Records = append(c.result.Records, rec)
	c.result.Stats.Loaded++
}

// Checksum returns a hex SHA-256 over the canonical JSON of records, in
// order. Two loads of the same content from CSV and SQL hash the same.
func Checksum(recs []EntityRecord) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i := range recs {
		// Encoding a plain struct into a hash cannot fail.
		_ = enc.Encode(&recs[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
