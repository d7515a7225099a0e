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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/atlas/services/atlas"
	"github.com/AleutianAI/atlas/services/atlas/cache"
	"github.com/AleutianAI/atlas/services/atlas/config"
	"github.com/AleutianAI/atlas/services/atlas/pipeline"
	"github.com/AleutianAI/atlas/services/atlas/records"
	"github.com/AleutianAI/atlas/services/atlas/telemetry"
	"github.com/AleutianAI/atlas/services/atlas/watch"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var watchFlag bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API, rebuilding the index when the dataset changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Watch.Enabled = watchFlag
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&watchFlag, "watch", false, "rebuild when the records file changes")
	return cmd
}

// serve runs until SIGINT/SIGTERM or a component fails.
//
// Start-up order: telemetry, artifact store, the startup index (a stored
// index is reused only when it matches the dataset), then the HTTP server
// alongside the optional file watcher.
func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.logger()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	db, store, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	src, closeSrc, err := cfg.Index.Source(ctx, logger)
	switch {
	case errors.Is(err, config.ErrNoRecordSource):
		logger.Warn("no record source configured; serving the stored index only")
	case err != nil:
		return err
	}
	defer closeSrc()

	svc := atlas.NewService(atlas.ServiceConfig{
		Index: pipeline.IndexConfig{
			Source:      src,
			Louvain:     cfg.Index.Louvain,
			CurrentYear: cfg.Index.CurrentYear,
		},
		TagLimit:              cfg.Index.TagLimit,
		ManualRebuildInterval: cfg.Server.RebuildInterval,
	}, store, cache.NewIndexCache(cache.WithLogger(logger)), logger)
	defer svc.Wait()

	status, err := svc.Start(ctx)
	if errors.Is(err, atlas.ErrNoIndex) {
		return config.ErrNoRecordSource
	}
	if err != nil {
		return err
	}
	reused := status == nil || status.Reused

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      atlas.NewRouter(atlas.NewHandlers(svc, logger), cfg.Telemetry.ServiceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	watcher, err := a.newWatcher(src, svc, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("atlas listening", slog.String("address", cfg.Server.Addr), slog.Bool("reused_index", reused))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down atlas server")
		return srv.Shutdown(sctx)
	})

	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	return g.Wait()
}

// newWatcher returns nil when watching is off or the source is not a file.
func (a *app) newWatcher(src records.Source, svc *atlas.Service, logger *slog.Logger) (*watch.Watcher, error) {
	if !a.cfg.Watch.Enabled {
		return nil, nil
	}
	csv, ok := src.(*records.CSVSource)
	if !ok {
		logger.Warn("watching needs a records file; watch disabled")
		return nil, nil
	}
	rebuild := func(ctx context.Context, reason string) error {
		_, err := svc.Rebuild(ctx, reason)
		if errors.Is(err, atlas.ErrRebuildInProgress) {
			return fmt.Errorf("%w: %w", watch.ErrBusy, err)
		}
		return err
	}
	return watch.New([]string{csv.Path}, rebuild, a.cfg.Watch.Options, logger)
}
