// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/atlas/pkg/logging"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envVar binds one variable to a field.
type envVar struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envVars = []envVar{
	{"ATLAS_LOG_LEVEL", func(c *Config, v string) error {
		level, err := logging.ParseLevel(v)
		c.Logging.Level = level
		return err
	}},
	{"ATLAS_LOG_DIR", func(c *Config, v string) error { c.Logging.LogDir = v; return nil }},
	{"ATLAS_LOG_JSON", func(c *Config, v string) error { return setBool(&c.Logging.JSON, v) }},
	{"ATLAS_STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"ATLAS_EDGES_PATH", func(c *Config, v string) error { c.Rank.EdgesPath = v; return nil }},
	{"ATLAS_TOP_N", func(c *Config, v string) error { return setInt(&c.Rank.TopN, v) }},
	{"ATLAS_RECORDS_PATH", func(c *Config, v string) error { c.Index.RecordsPath = v; return nil }},
	{"ATLAS_POSTGRES_DSN", func(c *Config, v string) error { c.Index.PostgresDSN = v; return nil }},
	{"ATLAS_POSTGRES_TABLE", func(c *Config, v string) error { c.Index.PostgresTable = v; return nil }},
	{"ATLAS_CURRENT_YEAR", func(c *Config, v string) error { return setInt(&c.Index.CurrentYear, v) }},
	{"ATLAS_SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"ATLAS_REBUILD_INTERVAL", func(c *Config, v string) error { return setDuration(&c.Server.RebuildInterval, v) }},
	{"ATLAS_WATCH", func(c *Config, v string) error { return setBool(&c.Watch.Enabled, v) }},
	{"ATLAS_OTLP_ENDPOINT", func(c *Config, v string) error { c.Telemetry.OTLPEndpoint = v; return nil }},
	{"ATLAS_TRACE_EXPORTER", func(c *Config, v string) error { c.Telemetry.TraceExporter = v; return nil }},
}

// applyEnv overrides cfg with every ATLAS_* variable that is set.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	for _, ev := range envVars {
		value, ok := lookup(ev.key)
		if !ok || value == "" {
			continue
		}
		if err := ev.apply(cfg, value); err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, ev.key, value, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
