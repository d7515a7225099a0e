// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the batch stages that turn raw inputs into published
// artifacts: edge stream to rank and top-N list, and records to partition and
// query index.
//
// Stages run sequentially. Each stage derives a fingerprint for its output
// and loads a stored artifact with that fingerprint instead of recomputing,
// so a rerun over unchanged input is cheap and an interrupted run resumes at
// the first stage whose artifact is missing.
package pipeline

import (
	"errors"
)

var (
	// ErrNoStages is returned when a pipeline has nothing to run.
	ErrNoStages = errors.New("pipeline has no stages")

	// ErrMissingInput is returned when a required input path or source is
	// not configured.
	ErrMissingInput = errors.New("missing pipeline input")

	// ErrStageFailed wraps the error of the stage that stopped a run.
	ErrStageFailed = errors.New("stage failed")
)
