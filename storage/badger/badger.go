// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger owns the embedded store under the admission journal.
//
// BadgerDB is the warm tier: the bus itself never touches it (hot state
// is RAM-resident atomics), the journal appends to it off the hot path,
// and checkpoints archive out of it to cold storage. This package wraps
// open/close lifecycle, transaction helpers, and a periodic value-log GC
// loop so the journal deals only in transactions.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds settings for one store instance.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory keeps everything in RAM. Testing only.
	InMemory bool

	// SyncWrites forces fsync per commit. The journal requires true for
	// its durability claim; tests run false.
	SyncWrites bool

	// Logger receives the store's internal log lines. Nil silences them.
	Logger *slog.Logger

	// NumVersionsToKeep per key. The journal is append-only with unique
	// keys, so one version suffices.
	NumVersionsToKeep int

	// GCInterval is how often the value-log GC loop runs. 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the production store settings: synchronous
// writes, single version retention, five-minute GC.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no fsync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
	}
}

// storeLogger adapts slog to BadgerDB's printf-style logger.
type storeLogger struct {
	logger *slog.Logger
}

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is a managed BadgerDB handle: the raw database plus the GC loop's
// lifecycle. Close stops GC before closing the store.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// isolation.
type DB struct {
	*badger.DB

	path     string
	inMemory bool

	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenDB opens a store and starts the GC loop when configured.
//
// # Inputs
//
//   - cfg: Store settings. Path required unless InMemory.
//
// # Outputs
//
//   - *DB: Managed handle. Caller must Close.
//   - error: Non-nil when the path is unusable or the store will not
//     open (held lock, corrupt manifest).
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&storeLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	d := &DB{
		DB:       raw,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.gcStop = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}

	return d, nil
}

// gcLoop periodically rewrites the value log. ErrNoRewrite just means
// there was nothing worth collecting.
func (d *DB) gcLoop(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			err := d.DB.RunValueLogGC(ratio)
			switch {
			case err == nil:
				if logger != nil {
					logger.Debug("badger value log GC completed")
				}
			case errors.Is(err, badger.ErrNoRewrite):
			default:
				if logger != nil {
					logger.Warn("badger value log GC error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// Close stops the GC loop and closes the store. Safe to call once.
func (d *DB) Close() error {
	if d.gcStop != nil {
		close(d.gcStop)
		<-d.gcDone
	}
	return d.DB.Close()
}

// Path returns the store directory; empty for in-memory stores.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the store lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// Sync forces pending writes to disk. No-op for in-memory stores.
func (d *DB) Sync() error {
	if d.inMemory {
		return nil
	}
	return d.DB.Sync()
}

// WithTxn runs fn in a read-write transaction, committing on nil and
// discarding otherwise. The context is checked before starting; Badger
// transactions are not themselves cancellable mid-flight.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}
