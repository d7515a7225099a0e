// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command atlas ranks people by link structure, precomputes the query index
// and serves it.
//
// Usage:
//
//	atlas rank --edges links.tsv --out top_people.csv
//	atlas build --records top_people_enriched.csv
//	atlas serve --config atlas.yaml
//	atlas query --year 1850 --tag physicist
//	atlas tags --limit 20
//
// Example requests against a running server:
//
//	# Alive in 1850, physicists, in Ada's cluster
//	curl 'http://localhost:8080/v1/atlas/query?year=1850&tag=physicist&group=cluster&anchor=1'
//
//	# Tag list for the filter dropdown
//	curl http://localhost:8080/v1/atlas/tags
//
//	# Re-read the dataset
//	curl -X POST http://localhost:8080/v1/atlas/rebuild
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
