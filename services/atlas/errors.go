// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package atlas serves the published query index over HTTP and keeps it
// fresh.
//
// Service owns the index lifecycle: restore the last stored index at
// start-up, rebuild from the record source on demand or when the dataset
// changes, and publish atomically. Handlers only read the published index;
// a query never waits for a build.
package atlas

import "errors"

var (
	// ErrRebuildInProgress is returned when a rebuild is requested while
	// one is running.
	ErrRebuildInProgress = errors.New("rebuild already in progress")

	// ErrRebuildThrottled is returned when manual rebuilds exceed the
	// configured rate.
	ErrRebuildThrottled = errors.New("rebuild rate exceeded")

	// ErrNoIndex is returned by Start when there is no record source and
	// no stored index.
	ErrNoIndex = errors.New("no record source and no stored index")
)
