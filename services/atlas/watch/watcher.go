// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch triggers index rebuilds when dataset files change.
//
// The parent directory of every watched file is registered with fsnotify,
// so files replaced by rename (the usual way exports are written) keep
// being noticed. Bursts of events are debounced into one rebuild, and
// rebuilds are spaced by a token-bucket limiter.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

var (
	// ErrNoPaths is returned by New when there is nothing to watch.
	ErrNoPaths = errors.New("watch: no paths")

	// ErrBusy is wrapped by a RebuildFunc that could not start because
	// another rebuild is running. The change stays pending and is retried.
	ErrBusy = errors.New("watch: rebuild busy")
)

// RebuildFunc runs one rebuild. reason names the file that changed.
type RebuildFunc func(ctx context.Context, reason string) error

// DefaultRetryInterval is used when Options.RetryInterval is zero.
const DefaultRetryInterval = 2 * time.Second

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the files must stay quiet before a rebuild.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// MinInterval is the minimum spacing between rebuilds. Zero disables
	// the limit.
	MinInterval time.Duration `yaml:"min_interval" validate:"gte=0"`

	// RetryInterval is how long to wait before retrying a change that
	// found another rebuild running.
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gte=0"`
}

// DefaultOptions waits two quiet seconds and rebuilds at most once a minute.
func DefaultOptions() Options {
	return Options{
		Debounce:      2 * time.Second,
		MinInterval:   time.Minute,
		RetryInterval: DefaultRetryInterval,
	}
}

// Stats counts what a Watcher has done.
type Stats struct {
	Events   int64
	Rebuilds int64
	Failures int64
	Retries  int64
}

// Watcher turns file changes into rebuild calls.
//
// Thread Safety: Run must be called once. Stats and Close are safe to
// call from any goroutine.
type Watcher struct {
	files    map[string]struct{}
	fs       *fsnotify.Watcher
	rebuild  RebuildFunc
	limiter  *rate.Limiter
	debounce time.Duration
	retry    time.Duration
	logger   *slog.Logger

	events   atomic.Int64
	rebuilds atomic.Int64
	failures atomic.Int64
	retries  atomic.Int64

	closeOnce sync.Once
}

// New registers the parent directory of each path. The directories must
// exist; the files need not.
func New(paths []string, rebuild RebuildFunc, opts Options, logger *slog.Logger) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	if rebuild == nil {
		return nil, errors.New("watch: nil rebuild func")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]struct{}, len(paths)),
		fs:       fsw,
		rebuild:  rebuild,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		debounce: opts.Debounce,
		retry:    opts.RetryInterval,
		logger:   logger.With(slog.String("component", "watch")),
	}
	if w.retry <= 0 {
		w.retry = DefaultRetryInterval
	}
	if opts.MinInterval > 0 {
		w.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run processes events until ctx is cancelled or Close is called. A
// rebuild error is logged and counted; watching continues. A rebuild that
// reports ErrBusy is retried every RetryInterval until it runs.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	var timerC <-chan time.Time
	var pending string
	var retrying bool
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.events.Add(1)
			pending = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer, timerC = nil, nil
			retrying = w.fire(ctx, pending, !retrying)
			if retrying {
				timer = time.NewTimer(w.retry)
				timerC = timer.C
			}
		}
	}
}

// fire runs one rebuild and reports whether it must be retried. A retry
// skips the limiter because the busy attempt already took its token.
func (w *Watcher) fire(ctx context.Context, reason string, limited bool) bool {
	if limited {
		if err := w.limiter.Wait(ctx); err != nil {
			return false
		}
	}

	start := time.Now()
	w.logger.Info("dataset changed, rebuilding", slog.String("file", reason))
	err := w.rebuild(ctx, reason)
	if errors.Is(err, ErrBusy) && ctx.Err() == nil {
		w.retries.Add(1)
		w.logger.Info("another rebuild is running, retrying",
			slog.String("file", reason),
			slog.Duration("retry_in", w.retry),
		)
		return true
	}
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("rebuild failed",
			slog.String("file", reason),
			slog.String("error", err.Error()),
		)
		return false
	}
	w.rebuilds.Add(1)
	w.logger.Info("rebuild finished",
		slog.String("file", reason),
		slog.Duration("duration", time.Since(start)),
	)
	return false
}

// relevant keeps writes, creations, and rename-overs of watched files.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Events:   w.events.Load(),
		Rebuilds: w.rebuilds.Load(),
		Failures: w.failures.Load(),
		Retries:  w.retries.Load(),
	}
}

// Close stops the underlying fsnotify watcher and ends Run.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fs.Close()
	})
	return err
}
