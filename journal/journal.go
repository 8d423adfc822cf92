// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists the admission audit trail.
//
// The bus keeps durable state out-of-band on purpose: a tap drain worker
// converts tap events into AdmissionRecords and appends them here, off
// the hot path. Records carry CRC32 checksums inside BadgerDB under
// monotonic sequence keys; replay validates integrity and ordering, and
// checkpoints truncate the log (optionally emitting a backup file for
// the cold-storage archiver).
//
// Journal failure never propagates into push/pop. A store that cannot
// open may run degraded (appends dropped and counted) when the
// configuration allows it.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/gate"
	"github.com/AleutianAI/plasmabus/pkg/validation"
	"github.com/AleutianAI/plasmabus/storage/badger"
)

var journalTracer = otel.Tracer("plasmabus.journal")

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrJournalClosed means an operation ran after Close.
	ErrJournalClosed = errors.New("journal: closed")

	// ErrJournalCorrupted means a stored record failed its CRC check.
	ErrJournalCorrupted = errors.New("journal: record corrupted (CRC mismatch)")

	// ErrJournalFull means the configured size limit is exceeded.
	ErrJournalFull = errors.New("journal: size limit exceeded")

	// ErrSequenceGap means replay found non-consecutive sequence numbers.
	ErrSequenceGap = errors.New("journal: sequence gap detected")

	errNilContext = errors.New("journal: ctx must not be nil")
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// AdmissionRecord is one journaled bus event. Everything an audit or a
// post-mortem needs to reconstruct the admission timeline; payload bytes
// are deliberately not persisted (the bus never interprets them and the
// journal does not either).
type AdmissionRecord struct {
	// Seq is the journal-assigned monotonic sequence number. Zero on
	// input; set by Append.
	Seq uint64

	// Kind is the tap event kind.
	Kind bus.EventKind

	// CommandID identifies the subject command, where the event has one.
	CommandID uuid.UUID

	// Lane is the lane involved.
	Lane bus.Priority

	// Reason details rejected events.
	Reason bus.RejectReason

	// From and To are the gate edge the attempt applied.
	From gate.State
	To   gate.State

	// Strength is the ring strength of the attempt.
	Strength float32

	// Admitted mirrors the admission decision.
	Admitted bool

	// Tick is the bus logical tick of the event.
	Tick uint64

	// At is the wall-clock capture time in Unix milliseconds. Set by the
	// recorder, not by the bus (the hot path makes no clock calls).
	At int64
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures a journal instance.
type Config struct {
	// Path is the directory for the backing store. Required unless
	// InMemory.
	Path string

	// SessionID scopes keys so multiple sessions can share a store
	// directory. Required.
	SessionID string

	// SyncWrites forces fsync per append. Required true for the
	// durability claim; tests run false.
	SyncWrites bool

	// MaxJournalBytes fails appends once exceeded until a checkpoint
	// truncates. 0 disables the limit.
	MaxJournalBytes int64

	// AllowDegraded permits construction even when the store cannot
	// open. Degraded journals drop appends and count the drops.
	AllowDegraded bool

	// SkipCorrupted makes replay log-and-skip corrupted records and
	// sequence gaps instead of failing.
	SkipCorrupted bool

	// CheckpointDir, when set, makes Checkpoint write a backup file
	// there and return its path for archiving. Empty disables backups.
	CheckpointDir string

	// InMemory backs the journal with an in-RAM store. Testing only.
	InMemory bool

	// Logger receives journal lifecycle and replay events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: synchronous writes, 1 GiB
// size limit, strict replay.
func DefaultConfig() Config {
	return Config{
		SyncWrites:      true,
		MaxJournalBytes: 1 << 30,
	}
}

// Validate checks construction requirements. The session id rule
// matters: the id is embedded in store keys and checkpoint file names,
// so it must never carry separators or traversal sequences.
func (c *Config) Validate() error {
	if c.SessionID == "" {
		return errors.New("journal: session_id must not be empty")
	}
	if err := validation.ValidateSessionID(c.SessionID); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if !c.InMemory && c.Path == "" {
		return errors.New("journal: path is required for a persistent journal")
	}
	if c.MaxJournalBytes < 0 {
		return errors.New("journal: max_journal_bytes must be non-negative")
	}
	return nil
}

// Stats is a point-in-time view of journal health.
type Stats struct {
	// TotalRecords is the count of records appended since the highest
	// existing sequence at open.
	TotalRecords int64

	// TotalBytes approximates the live journal size since the last
	// checkpoint.
	TotalBytes int64

	// LastSeq is the most recent sequence number.
	LastSeq uint64

	// LastCheckpoint is when the last checkpoint completed.
	LastCheckpoint time.Time

	// CorruptedCount is how many corrupted records replay has seen.
	CorruptedCount int64

	// DroppedCount is how many appends a degraded journal has dropped.
	DroppedCount int64

	// Degraded reports reduced durability.
	Degraded bool
}

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Journal is the admission audit log.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Journal interface {
	// Append persists one record, assigning its sequence number.
	// Degraded journals drop the record, count the drop, and return nil.
	Append(ctx context.Context, rec AdmissionRecord) error

	// AppendBatch persists records atomically in one transaction with
	// consecutive sequence numbers.
	AppendBatch(ctx context.Context, recs []AdmissionRecord) error

	// Replay streams stored records in sequence order to fn, starting
	// after max(fromSeq, last checkpoint). A non-nil error from fn
	// aborts the replay and is returned. Corrupted records and sequence
	// gaps fail the replay unless SkipCorrupted is set.
	Replay(ctx context.Context, fromSeq uint64, fn func(AdmissionRecord) error) error

	// Checkpoint marks the current position, truncates records at or
	// below it, and (when a checkpoint directory is configured) writes
	// a backup file and returns its path for archiving.
	Checkpoint(ctx context.Context) (string, error)

	// Sync flushes pending writes to disk.
	Sync() error

	// IsAvailable reports the journal accepts appends durably.
	IsAvailable() bool

	// IsDegraded reports reduced durability (drop-and-count mode).
	IsDegraded() bool

	// Stats returns journal health counters.
	Stats() Stats

	// Close syncs and releases the store.
	Close() error
}

// -----------------------------------------------------------------------------
// Badger implementation
// -----------------------------------------------------------------------------

// Badger is the BadgerDB-backed Journal.
//
// Key format: "rec:{session_id}:{seq:016d}".
// Value format: [4-byte big-endian CRC32][gob-encoded record].
type Badger struct {
	db     *badger.DB
	config Config
	logger *slog.Logger

	seq            atomic.Uint64
	appended       atomic.Int64
	totalBytes     atomic.Int64
	corruptedCount atomic.Int64
	droppedCount   atomic.Int64
	lastCheckpoint atomic.Int64
	degraded       atomic.Bool
	closed         atomic.Bool
}

// compile-time interface check
var _ Journal = (*Badger)(nil)

// New opens (or degrades) a journal per the configuration.
//
// # Outputs
//
//   - *Badger: Ready journal. Possibly degraded when AllowDegraded.
//   - error: Invalid configuration, or an unopenable store in strict
//     mode.
func New(config Config) (*Badger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	j := &Badger{
		config: config,
		logger: config.Logger.With(
			slog.String("component", "journal"),
			slog.String("session_id", config.SessionID),
		),
	}

	db, err := badger.OpenDB(badger.Config{
		Path:              config.Path,
		InMemory:          config.InMemory,
		SyncWrites:        config.SyncWrites,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
		Logger:            config.Logger,
	})
	if err != nil {
		if config.AllowDegraded {
			j.logger.Warn("journal store unavailable, running degraded",
				slog.String("path", config.Path),
				slog.String("error", err.Error()))
			j.degraded.Store(true)
			return j, nil
		}
		return nil, fmt.Errorf("open journal store: %w", err)
	}
	j.db = db

	if err := j.initSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sequence: %w", err)
	}

	j.logger.Info("journal opened",
		slog.String("path", config.Path),
		slog.Bool("sync_writes", config.SyncWrites),
		slog.Uint64("last_seq", j.seq.Load()))
	return j, nil
}

// initSeq resumes the sequence counter from the highest stored key.
func (j *Badger) initSeq() error {
	prefix := j.recordPrefix()
	var maxSeq uint64

	err := j.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(prefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix([]byte(prefix)) {
			if seq, ok := parseSeq(it.Item().Key(), prefix); ok {
				maxSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.seq.Store(maxSeq)
	return nil
}

func (j *Badger) recordPrefix() string {
	return fmt.Sprintf("rec:%s:", j.config.SessionID)
}

func (j *Badger) recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", j.recordPrefix(), seq))
}

func (j *Badger) checkpointKey() []byte {
	return []byte(fmt.Sprintf("checkpoint:latest:%s", j.config.SessionID))
}

func parseSeq(key []byte, prefix string) (uint64, bool) {
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}

// encodeRecord frames a record as [4-byte CRC32][gob bytes].
func encodeRecord(rec AdmissionRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(buf.Bytes()))
	copy(out[4:], buf.Bytes())
	return out, nil
}

// decodeRecord validates the CRC frame and decodes the record.
func decodeRecord(data []byte) (AdmissionRecord, error) {
	var rec AdmissionRecord
	if len(data) < 5 {
		return rec, fmt.Errorf("%w: entry too short", ErrJournalCorrupted)
	}

	stored := binary.BigEndian.Uint32(data[:4])
	body := data[4:]
	if computed := crc32.ChecksumIEEE(body); stored != computed {
		return rec, fmt.Errorf("%w: stored=%08x computed=%08x", ErrJournalCorrupted, stored, computed)
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
		return rec, fmt.Errorf("gob decode: %w", err)
	}
	return rec, nil
}

// Append persists one record.
func (j *Badger) Append(ctx context.Context, rec AdmissionRecord) error {
	if ctx == nil {
		return errNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if j.degraded.Load() {
		j.droppedCount.Add(1)
		return nil
	}

	ctx, span := journalTracer.Start(ctx, "journal.Append",
		trace.WithAttributes(
			attribute.String("session_id", j.config.SessionID),
			attribute.String("kind", rec.Kind.String()),
		))
	defer span.End()

	if j.config.MaxJournalBytes > 0 && j.totalBytes.Load() >= j.config.MaxJournalBytes {
		span.SetStatus(codes.Error, "journal full")
		return ErrJournalFull
	}

	seq := j.seq.Add(1)
	rec.Seq = seq

	data, err := encodeRecord(rec)
	if err != nil {
		j.seq.CompareAndSwap(seq, seq-1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode record: %w", err)
	}

	err = j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(j.recordKey(seq), data)
	})
	if err != nil {
		// Reclaim the number when no later append took one; otherwise
		// the gap surfaces at replay under the SkipCorrupted policy.
		j.seq.CompareAndSwap(seq, seq-1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write record: %w", err)
	}

	j.appended.Add(1)
	j.totalBytes.Add(int64(len(data)))
	span.SetAttributes(attribute.Int64("seq", int64(seq)))

	j.logger.Debug("record appended",
		slog.Uint64("seq", seq),
		slog.String("kind", rec.Kind.String()),
		slog.Int("bytes", len(data)))
	return nil
}

// AppendBatch persists records atomically with consecutive sequences.
func (j *Badger) AppendBatch(ctx context.Context, recs []AdmissionRecord) error {
	if ctx == nil {
		return errNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(recs) == 0 {
		return errors.New("journal: records must not be empty")
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if j.degraded.Load() {
		j.droppedCount.Add(int64(len(recs)))
		return nil
	}

	ctx, span := journalTracer.Start(ctx, "journal.AppendBatch",
		trace.WithAttributes(
			attribute.String("session_id", j.config.SessionID),
			attribute.Int("batch_size", len(recs)),
		))
	defer span.End()

	// Size gate runs before sequence reservation so a full journal never
	// burns numbers.
	if j.config.MaxJournalBytes > 0 && j.totalBytes.Load() >= j.config.MaxJournalBytes {
		span.SetStatus(codes.Error, "journal full")
		return ErrJournalFull
	}

	base := j.seq.Add(uint64(len(recs))) - uint64(len(recs)) + 1

	type entry struct {
		key  []byte
		data []byte
	}
	entries := make([]entry, 0, len(recs))
	var total int64
	for i, rec := range recs {
		rec.Seq = base + uint64(i)
		data, err := encodeRecord(rec)
		if err != nil {
			j.seq.CompareAndSwap(base+uint64(len(recs))-1, base-1)
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		entries = append(entries, entry{key: j.recordKey(rec.Seq), data: data})
		total += int64(len(data))
	}

	err := j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, e := range entries {
			if err := txn.Set(e.key, e.data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Reclaim the reserved range when no later append raced in.
		j.seq.CompareAndSwap(base+uint64(len(recs))-1, base-1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write batch: %w", err)
	}

	j.appended.Add(int64(len(recs)))
	j.totalBytes.Add(total)
	span.SetAttributes(
		attribute.Int64("first_seq", int64(base)),
		attribute.Int64("last_seq", int64(base)+int64(len(recs))-1),
	)

	j.logger.Debug("batch appended",
		slog.Int("count", len(recs)),
		slog.Uint64("first_seq", base),
		slog.Int64("bytes", total))
	return nil
}

// Replay streams records after max(fromSeq, checkpoint) to fn.
func (j *Badger) Replay(ctx context.Context, fromSeq uint64, fn func(AdmissionRecord) error) error {
	if ctx == nil {
		return errNilContext
	}
	if fn == nil {
		return errors.New("journal: replay fn must not be nil")
	}
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if j.degraded.Load() {
		// Nothing persisted to replay.
		return nil
	}

	ctx, span := journalTracer.Start(ctx, "journal.Replay",
		trace.WithAttributes(
			attribute.String("session_id", j.config.SessionID),
			attribute.Int64("from_seq", int64(fromSeq)),
		))
	defer span.End()

	floor, err := j.checkpointSeq()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if fromSeq > floor {
		floor = fromSeq
	}

	var lastSeq uint64
	count, corrupted := 0, 0

	prefix := []byte(j.recordPrefix())
	err = j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			seq, ok := parseSeq(it.Item().Key(), j.recordPrefix())
			if !ok {
				continue
			}
			if seq <= floor {
				continue
			}

			if lastSeq > 0 && seq != lastSeq+1 {
				if !j.config.SkipCorrupted {
					return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, lastSeq+1, seq)
				}
				j.logger.Warn("sequence gap",
					slog.Uint64("expected", lastSeq+1),
					slog.Uint64("got", seq))
			}
			lastSeq = seq

			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					if errors.Is(err, ErrJournalCorrupted) {
						corrupted++
						j.corruptedCount.Add(1)
						if j.config.SkipCorrupted {
							j.logger.Warn("skipping corrupted record",
								slog.Uint64("seq", seq),
								slog.String("error", err.Error()))
							return nil
						}
					}
					return err
				}
				count++
				return fn(rec)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay failed")
		return err
	}

	span.SetAttributes(
		attribute.Int("record_count", count),
		attribute.Int("corrupted_count", corrupted),
	)
	j.logger.Info("replay completed",
		slog.Int("records", count),
		slog.Int("corrupted", corrupted),
		slog.Uint64("floor", floor))
	return nil
}

// checkpointSeq reads the last checkpoint marker; zero when none.
func (j *Badger) checkpointSeq() (uint64, error) {
	var seq uint64
	err := j.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		item, err := txn.Get(j.checkpointKey())
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				seq = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	return seq, err
}

// Checkpoint marks the current position, truncates, and optionally
// writes a backup file for the archiver.
func (j *Badger) Checkpoint(ctx context.Context) (string, error) {
	if ctx == nil {
		return "", errNilContext
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if j.closed.Load() {
		return "", ErrJournalClosed
	}
	if j.degraded.Load() {
		return "", nil
	}

	ctx, span := journalTracer.Start(ctx, "journal.Checkpoint",
		trace.WithAttributes(attribute.String("session_id", j.config.SessionID)))
	defer span.End()

	current := j.seq.Load()
	marker := make([]byte, 8)
	binary.BigEndian.PutUint64(marker, current)

	err := j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(j.checkpointKey(), marker)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint marker failed")
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	j.lastCheckpoint.Store(time.Now().Unix())

	var backupPath string
	if j.config.CheckpointDir != "" {
		backupPath, err = j.writeBackup(current)
		if err != nil {
			span.RecordError(err)
			j.logger.Warn("checkpoint backup failed", slog.String("error", err.Error()))
			backupPath = ""
			// Marker is durable; truncation still proceeds.
		}
	}

	deleted := 0
	prefix := []byte(j.recordPrefix())
	err = j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seq, ok := parseSeq(it.Item().Key(), j.recordPrefix())
			if !ok || seq > current {
				continue
			}
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		j.logger.Warn("checkpoint truncation failed", slog.String("error", err.Error()))
		// The marker survived; replay still starts after it.
	}
	j.totalBytes.Store(0)

	span.SetAttributes(
		attribute.Int64("checkpoint_seq", int64(current)),
		attribute.Int("deleted", deleted),
		attribute.String("backup", backupPath),
	)
	j.logger.Info("checkpoint created",
		slog.Uint64("seq", current),
		slog.Int("deleted", deleted),
		slog.String("backup", backupPath))
	return backupPath, nil
}

// writeBackup streams a full store backup into the checkpoint directory.
func (j *Badger) writeBackup(seq uint64) (string, error) {
	if err := os.MkdirAll(j.config.CheckpointDir, 0750); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	name := fmt.Sprintf("checkpoint-%s-%016d.badger", j.config.SessionID, seq)
	path := filepath.Join(j.config.CheckpointDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	if _, err := j.db.Backup(f, 0); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync backup: %w", err)
	}
	return path, nil
}

// Sync flushes pending writes.
func (j *Badger) Sync() error {
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if j.degraded.Load() || j.db == nil {
		return nil
	}
	return j.db.Sync()
}

// IsAvailable reports the journal accepts durable appends.
func (j *Badger) IsAvailable() bool {
	return !j.degraded.Load() && !j.closed.Load()
}

// IsDegraded reports drop-and-count mode.
func (j *Badger) IsDegraded() bool {
	return j.degraded.Load()
}

// Stats returns journal health counters.
func (j *Badger) Stats() Stats {
	var lastCP time.Time
	if ts := j.lastCheckpoint.Load(); ts > 0 {
		lastCP = time.Unix(ts, 0)
	}
	return Stats{
		TotalRecords:   j.appended.Load(),
		TotalBytes:     j.totalBytes.Load(),
		LastSeq:        j.seq.Load(),
		LastCheckpoint: lastCP,
		CorruptedCount: j.corruptedCount.Load(),
		DroppedCount:   j.droppedCount.Load(),
		Degraded:       j.degraded.Load(),
	}
}

// Close syncs and releases the store. Idempotent.
func (j *Badger) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	j.logger.Info("closing journal")

	if j.db != nil {
		if err := j.db.Sync(); err != nil {
			j.logger.Warn("sync before close failed", slog.String("error", err.Error()))
		}
		return j.db.Close()
	}
	return nil
}
