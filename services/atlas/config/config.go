// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the Atlas configuration.
//
// Precedence, lowest first: DefaultConfig, the YAML file, a .env file, and
// ATLAS_* environment variables. Variables already set in the environment
// win over the .env file.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas/graph"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/records"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
	"github.com/AleutianAI/atlas/services/atlas/telemetry"
	"github.com/AleutianAI/atlas/services/atlas/watch"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid config")

	// ErrNoRecordSource is returned when neither a records file nor a
	// PostgreSQL DSN is configured.
	ErrNoRecordSource = errors.New("no record source configured")
)

var validate = validator.New()

// Config is the whole Atlas configuration.
type Config struct {
	Logging   logging.Config   `yaml:"logging"`
	Storage   StorageConfig    `yaml:"storage"`
	Rank      RankConfig       `yaml:"rank" validate:"-"`
	Index     IndexConfig      `yaml:"index"`
	Server    ServerConfig     `yaml:"server"`
	Watch     WatchConfig      `yaml:"watch"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// StorageConfig selects the artifact store.
type StorageConfig struct {
	Path           string        `yaml:"path" validate:"required_without=InMemory"`
	InMemory       bool          `yaml:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gte=0,lt=1"`
}

// Badger converts to the store's own settings.
func (s StorageConfig) Badger(logger *slog.Logger) badger.Config {
	return badger.Config{
		Path:           s.Path,
		InMemory:       s.InMemory,
		SyncWrites:     s.SyncWrites,
		GCInterval:     s.GCInterval,
		GCDiscardRatio: s.GCDiscardRatio,
		Logger:         logger,
	}
}

// RankConfig configures the edge stream → rank pipeline.
type RankConfig struct {
	EdgesPath       string                `yaml:"edges_path" validate:"required"`
	Delimiter       string                `yaml:"delimiter" validate:"omitempty,oneof=tab comma semicolon pipe"`
	HasHeader       bool                  `yaml:"has_header"`
	SourceColumn    string                `yaml:"source_column"`
	TargetColumn    string                `yaml:"target_column"`
	ChunkSize       int                   `yaml:"chunk_size" validate:"gte=0"`
	PageRank        graph.PageRankOptions `yaml:"pagerank"`
	TopN            int                   `yaml:"top_n" validate:"gte=0"`
	AllowlistPath   string                `yaml:"allowlist_path"`
	OutputPath      string                `yaml:"output_path"`
	LinksOutputPath string                `yaml:"links_output_path"`
}

var delimiters = map[string]rune{
	"":          '\t',
	"tab":       '\t',
	"comma":     ',',
	"semicolon": ';',
	"pipe":      '|',
}

// Pipeline validates the section and converts it for pipeline.RunRank.
func (r RankConfig) Pipeline() (pipeline.RankConfig, error) {
	if err := validate.Struct(r); err != nil {
		return pipeline.RankConfig{}, fmt.Errorf("%w: rank: %w", ErrInvalid, err)
	}
	edges := graph.DefaultEdgeReaderOptions()
	edges.Delimiter = delimiters[r.Delimiter]
	edges.HasHeader = r.HasHeader
	if r.SourceColumn != "" {
		edges.SourceColumn = r.SourceColumn
	}
	if r.TargetColumn != "" {
		edges.TargetColumn = r.TargetColumn
	}
	if r.ChunkSize > 0 {
		edges.ChunkSize = r.ChunkSize
	}
	return pipeline.RankConfig{
		EdgesPath:       r.EdgesPath,
		Edges:           edges,
		PageRank:        r.PageRank,
		TopN:            r.TopN,
		AllowlistPath:   r.AllowlistPath,
		OutputPath:      r.OutputPath,
		LinksOutputPath: r.LinksOutputPath,
	}, nil
}

// IndexConfig configures the records → index pipeline.
type IndexConfig struct {
	// RecordsPath is the top-people CSV. Takes precedence over
	// PostgresDSN.
	RecordsPath string `yaml:"records_path"`

	// PostgresDSN and PostgresTable select a table source instead.
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`

	Louvain graph.LouvainOptions `yaml:"louvain"`

	// CurrentYear bounds open lifespans. Zero uses the wall clock.
	CurrentYear int `yaml:"current_year" validate:"gte=0"`

	// TagLimit caps the tag list served to clients.
	TagLimit int `yaml:"tag_limit" validate:"gte=0"`
}

// Source opens the configured record source. The returned close func is
// never nil.
func (ix IndexConfig) Source(ctx context.Context, logger *slog.Logger) (records.Source, func(), error) {
	switch {
	case ix.RecordsPath != "":
		return &records.CSVSource{Path: ix.RecordsPath, Logger: logger}, func() {}, nil
	case ix.PostgresDSN != "":
		src, err := records.NewPostgresSource(ctx, ix.PostgresDSN, ix.PostgresTable, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return src, src.Close, nil
	default:
		return nil, func() {}, ErrNoRecordSource
	}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// RebuildInterval is the minimum spacing of POST /rebuild requests.
	RebuildInterval time.Duration `yaml:"rebuild_interval" validate:"gte=0"`

	// Debug enables gin's debug mode and request logging.
	Debug bool `yaml:"debug"`
}

// WatchConfig configures dataset watching in serve mode.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`

	watch.Options `yaml:",inline"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Logging: logging.Config{Level: logging.LevelInfo, Service: "atlas"},
		Storage: StorageConfig{
			Path:           "./data/atlas",
			SyncWrites:     true,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Rank: RankConfig{
			Delimiter:  "tab",
			HasHeader:  true,
			PageRank:   *graph.DefaultPageRankOptions(),
			TopN:       pipeline.DefaultTopN,
			OutputPath: "top_people.csv",
		},
		Index: IndexConfig{
			Louvain: *graph.DefaultLouvainOptions(),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RebuildInterval: time.Minute,
		},
		Watch:     WatchConfig{Options: watch.DefaultOptions()},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the configuration.
//
// Inputs:
//
//	path - YAML file. Empty means defaults only; a missing file is an error.
//	envFile - .env file. Empty tries ".env"; a missing file is ignored.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Read, parse, or ErrInvalid.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode rejects unknown keys so typos surface instead of being ignored.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func loadEnvFile(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			slog.Debug("no .env file found, using process environment")
			return nil
		}
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// Validate checks every section except rank, which is checked by
// RankConfig.Pipeline when the rank command runs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// WriteDefault writes DefaultConfig as YAML to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
