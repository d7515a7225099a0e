// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the published query index and the content addresses
// that key persisted artifacts.
package cache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotPublished is returned when no index has been published yet.
	ErrNotPublished = errors.New("no index published")

	// ErrNilIndex is returned when a build returns neither an index nor an
	// error.
	ErrNilIndex = errors.New("build returned a nil index")
)

// ErrBuildFailed is returned while a failed build for a fingerprint is still
// inside its retry backoff.
type ErrBuildFailed struct {
	Fingerprint string
	Err         error
	FailedAt    time.Time
	RetryAt     time.Time
}

func (e *ErrBuildFailed) Error() string {
	return fmt.Sprintf("index build for %s failed at %s, retry after %s: %v",
		e.Fingerprint, e.FailedAt.Format(time.RFC3339), e.RetryAt.Format(time.RFC3339), e.Err)
}

func (e *ErrBuildFailed) Unwrap() error {
	return e.Err
}
