// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/pkg/ux"
	"github.com/AleutianAI/atlas/services/atlas/config"
	"github.com/AleutianAI/atlas/services/atlas/storage/badger"
)

// app carries what every command shares once flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	output     string

	cfg *config.Config
	log *logging.Logger
	out *ux.Printer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "atlas",
		Short: "Rank, index and serve historical figures by lifespan, tag and link structure",
		Long: `Atlas turns a link graph into a ranked list of people, precomputes the
indices behind the year / tag / neighbor / cluster filters, and serves
them over HTTP.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file (default: .env when present)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVarP(&a.output, "output", "o", "", "rich or machine (default: detected)")

	rootCmd.AddCommand(
		newRankCmd(a),
		newBuildCmd(a),
		newServeCmd(a),
		newQueryCmd(a),
		newTagsCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		level, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	}
	cfg.Logging.Output = cmd.ErrOrStderr()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	var mode ux.Mode
	if a.output != "" {
		mode = ux.ParseMode(a.output)
	}
	a.cfg = cfg
	a.log = logger
	a.out = ux.NewPrinter(cmd.OutOrStdout(), mode)
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.log == nil {
		return nil
	}
	return a.log.Close()
}

func (a *app) logger() *slog.Logger {
	return a.log.Slog()
}

// openStore opens the configured artifact store. Callers close the DB.
func (a *app) openStore() (*badger.DB, *badger.ArtifactStore, error) {
	db, err := badger.Open(a.cfg.Storage.Badger(a.logger()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open the artifact store (is atlas serve holding it?): %w", err)
	}
	return db, badger.NewArtifactStore(db, a.logger()), nil
}
