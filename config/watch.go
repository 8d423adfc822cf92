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
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/plasmabus/bus"
)

// ReloadHandler receives each config that survives a full Load after the
// file changes on disk. Returning an error counts the reload as failed
// but does not stop the watcher.
type ReloadHandler func(Config) error

// Watcher reloads a config file when it changes.
//
// # Description
//
// Watches the file's parent directory, because editors and deploy tools
// replace config files by rename rather than writing in place. Events
// for other files in the directory are ignored.
//
// # Debouncing
//
// A save often produces several events in quick succession (truncate,
// write, rename). Events are collected until the debounce window passes
// without a new one, then the file is loaded once.
//
// # Failure Handling
//
// A file that fails to parse or validate is logged and ignored; the
// handler never sees it and the running config stays as it was. The
// watcher keeps watching, so fixing the file triggers a normal reload.
type Watcher struct {
	path     string
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	// Channels for communication
	changes  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more events before reloading.
	// Default: 250ms
	DebounceWindow time.Duration

	// Logger receives reload outcomes. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 250 * time.Millisecond,
		Logger:         slog.Default(),
	}
}

// NewWatcher creates a watcher for the given config file.
//
// # Inputs
//
//   - path: Path to the config file. The file does not need to exist
//     yet; creating it later triggers a reload.
//   - handler: Function called with each successfully loaded config.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the path cannot be resolved or the underlying
//     watcher could not be created.
//
// # Example
//
//	watcher, err := config.NewWatcher(path, config.RetuneHandler(b), nil)
//	if err != nil {
//	    return err
//	}
//	defer watcher.Stop()
//	if err := watcher.Start(ctx); err != nil {
//	    return err
//	}
func NewWatcher(path string, handler ReloadHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	abs, err := filepath.Abs(expandPath(path))
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     abs,
		handler:  handler,
		debounce: opts.DebounceWindow,
		logger:   opts.Logger,
		watcher:  watcher,
		changes:  make(chan struct{}, 16),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for changes to the config file.
//
// # Inputs
//
//   - ctx: Context for cancellation. When canceled, watching stops.
//
// # Outputs
//
//   - error: Non-nil if the parent directory cannot be watched.
//
// # Behavior
//
// Spawns two goroutines:
//   - Event processor: Filters directory events down to the target file
//   - Debouncer: Collapses event bursts and runs the reload
//
// Both goroutines exit when Stop() is called or context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Reloads returns the number of reloads that reached the handler and
// succeeded.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

// Failures returns the number of changes that failed to load, validate,
// or apply.
func (w *Watcher) Failures() uint64 {
	return w.failures.Load()
}

// processEvents filters directory events down to the target file.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			// Remove alone means the file is gone; reloading would
			// silently fall back to defaults. Wait for the replacement.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			select {
			case w.changes <- struct{}{}:
			default:
				// A reload is already pending; the debouncer will pick
				// up the latest file contents anyway.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "path", w.path, "error", err)
		}
	}
}

// debounceLoop collapses event bursts and runs the reload once per burst.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var pending bool
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.changes:
			pending = true

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			if pending {
				w.reload()
				pending = false
			}
			timer = nil
			timerC = nil
		}
	}
}

// reload runs the full Load pipeline and hands the result to the handler.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("Config reload rejected", "path", w.path, "error", err)
		return
	}

	if w.handler != nil {
		if err := w.handler(cfg); err != nil {
			w.failures.Add(1)
			w.logger.Warn("Config reload handler failed", "path", w.path, "error", err)
			return
		}
	}

	w.reloads.Add(1)
	w.logger.Info("Config reloaded", "path", w.path)
}

// RetuneHandler returns a ReloadHandler that rebuilds the bus tuning
// from each reloaded config and swaps it into the bus. Capacity fields
// are fixed at construction and are ignored on reload.
func RetuneHandler(b *bus.Bus) ReloadHandler {
	return func(cfg Config) error {
		tuning, err := cfg.Bus.Tuning.ToTuning()
		if err != nil {
			return err
		}
		return b.Retune(tuning)
	}
}
