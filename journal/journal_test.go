// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/plasmabus/bus"
	"github.com/AleutianAI/plasmabus/gate"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("valid in-memory config", func(t *testing.T) {
		cfg := Config{SessionID: "s1", InMemory: true}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing session id", func(t *testing.T) {
		cfg := Config{Path: "/tmp/j", InMemory: false}
		assert.Error(t, cfg.Validate())
	})

	t.Run("session id with traversal rejected", func(t *testing.T) {
		cfg := Config{SessionID: "../other", InMemory: true}
		assert.Error(t, cfg.Validate(), "session ids reach checkpoint file names")
	})

	t.Run("session id with key delimiter rejected", func(t *testing.T) {
		cfg := Config{SessionID: "s1:rec", InMemory: true}
		assert.Error(t, cfg.Validate())
	})

	t.Run("persistent journal requires path", func(t *testing.T) {
		cfg := Config{SessionID: "s1"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative size limit", func(t *testing.T) {
		cfg := Config{SessionID: "s1", InMemory: true, MaxJournalBytes: -1}
		assert.Error(t, cfg.Validate())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, int64(1<<30), cfg.MaxJournalBytes)
	assert.False(t, cfg.AllowDegraded)
	assert.False(t, cfg.SkipCorrupted)
}

func TestNew(t *testing.T) {
	t.Run("in-memory journal opens", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		assert.True(t, j.IsAvailable())
		assert.False(t, j.IsDegraded())
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		_, err := New(Config{InMemory: true})
		assert.Error(t, err)
	})

	t.Run("strict mode fails on unopenable path", func(t *testing.T) {
		_, err := New(Config{
			SessionID: "strict",
			Path:      unopenablePath(t),
		})
		assert.Error(t, err)
	})
}

func TestBadger_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("append single record", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		err := j.Append(ctx, testRecord(1))
		require.NoError(t, err)

		stats := j.Stats()
		assert.Equal(t, uint64(1), stats.LastSeq)
		assert.Equal(t, int64(1), stats.TotalRecords)
		assert.Greater(t, stats.TotalBytes, int64(0))
	})

	t.Run("append multiple records", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 10; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		assert.Equal(t, uint64(10), j.Stats().LastSeq)
	})

	t.Run("nil context returns error", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		err := j.Append(nil, testRecord(1))
		assert.ErrorIs(t, err, errNilContext)
	})

	t.Run("cancelled context returns error", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		err := j.Append(cancelled, testRecord(1))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed journal returns error", func(t *testing.T) {
		j := createTestJournal(t)
		j.Close()

		err := j.Append(ctx, testRecord(1))
		assert.ErrorIs(t, err, ErrJournalClosed)
	})
}

func TestBadger_AppendBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("batch gets consecutive sequences", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		batch := []AdmissionRecord{testRecord(1), testRecord(2), testRecord(3)}
		require.NoError(t, j.AppendBatch(ctx, batch))

		assert.Equal(t, uint64(3), j.Stats().LastSeq)

		var seqs []uint64
		err := j.Replay(ctx, 0, func(rec AdmissionRecord) error {
			seqs = append(seqs, rec.Seq)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, seqs)
	})

	t.Run("batch after singles continues the sequence", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		require.NoError(t, j.Append(ctx, testRecord(1)))
		require.NoError(t, j.AppendBatch(ctx, []AdmissionRecord{testRecord(2), testRecord(3)}))

		assert.Equal(t, uint64(3), j.Stats().LastSeq)
	})

	t.Run("empty batch returns error", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		assert.Error(t, j.AppendBatch(ctx, nil))
	})
}

func TestBadger_Replay(t *testing.T) {
	ctx := context.Background()

	t.Run("empty journal replays nothing", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		calls := 0
		err := j.Replay(ctx, 0, func(AdmissionRecord) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, calls)
	})

	t.Run("records come back in order with fields intact", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		want := AdmissionRecord{
			Kind:      bus.EventRejected,
			CommandID: uuid.New(),
			Lane:      bus.Urgent,
			Reason:    bus.ReasonBelowGate,
			From:      gate.Off,
			To:        gate.Primed,
			Strength:  0.42,
			Admitted:  false,
			Tick:      99,
			At:        time.Now().UnixMilli(),
		}
		require.NoError(t, j.Append(ctx, want))

		var got []AdmissionRecord
		err := j.Replay(ctx, 0, func(rec AdmissionRecord) error {
			got = append(got, rec)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got, 1)

		want.Seq = 1
		assert.Equal(t, want, got[0])
	})

	t.Run("fromSeq floor skips earlier records", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 5; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		var seqs []uint64
		err := j.Replay(ctx, 3, func(rec AdmissionRecord) error {
			seqs = append(seqs, rec.Seq)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{4, 5}, seqs)
	})

	t.Run("checkpoint floor skips truncated records", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 5; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}
		_, err := j.Checkpoint(ctx)
		require.NoError(t, err)

		for i := 6; i <= 8; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		count := 0
		err = j.Replay(ctx, 0, func(AdmissionRecord) error {
			count++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("callback error aborts the replay", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		boom := errors.New("stop here")
		calls := 0
		err := j.Replay(ctx, 0, func(AdmissionRecord) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, calls)
	})

	t.Run("nil fn returns error", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		assert.Error(t, j.Replay(ctx, 0, nil))
	})
}

func TestBadger_ReplayCorruption(t *testing.T) {
	ctx := context.Background()

	t.Run("strict replay fails on corrupted record", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}
		corruptRecord(t, j, 2)

		err := j.Replay(ctx, 0, func(AdmissionRecord) error { return nil })
		assert.ErrorIs(t, err, ErrJournalCorrupted)
	})

	t.Run("skip mode drops corrupted record and counts it", func(t *testing.T) {
		j := createSkippingJournal(t)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}
		corruptRecord(t, j, 2)

		var seqs []uint64
		err := j.Replay(ctx, 0, func(rec AdmissionRecord) error {
			seqs = append(seqs, rec.Seq)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 3}, seqs)
		assert.Equal(t, int64(1), j.Stats().CorruptedCount)
	})
}

func TestBadger_ReplaySequenceGap(t *testing.T) {
	ctx := context.Background()

	t.Run("strict replay fails on gap", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}
		deleteRecord(t, j, 2)

		err := j.Replay(ctx, 0, func(AdmissionRecord) error { return nil })
		assert.ErrorIs(t, err, ErrSequenceGap)
	})

	t.Run("skip mode logs the gap and continues", func(t *testing.T) {
		j := createSkippingJournal(t)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}
		deleteRecord(t, j, 2)

		var seqs []uint64
		err := j.Replay(ctx, 0, func(rec AdmissionRecord) error {
			seqs = append(seqs, rec.Seq)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 3}, seqs)
	})
}

func TestEncodeDecodeRecord(t *testing.T) {
	t.Run("round trip preserves every field", func(t *testing.T) {
		rec := AdmissionRecord{
			Seq:       17,
			Kind:      bus.EventSupersededDrop,
			CommandID: uuid.New(),
			Lane:      bus.Normal,
			Reason:    bus.ReasonEntropyDrought,
			From:      gate.Conducting,
			To:        gate.Off,
			Strength:  0.125,
			Admitted:  false,
			Tick:      4096,
			At:        1724580000000,
		}

		data, err := encodeRecord(rec)
		require.NoError(t, err)

		decoded, err := decodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	})

	t.Run("flipped payload byte fails the CRC check", func(t *testing.T) {
		data, err := encodeRecord(testRecord(1))
		require.NoError(t, err)
		require.Greater(t, len(data), 5)

		data[5] ^= 0xFF

		_, err = decodeRecord(data)
		assert.ErrorIs(t, err, ErrJournalCorrupted)
	})

	t.Run("truncated frame fails", func(t *testing.T) {
		_, err := decodeRecord([]byte{0x01, 0x02})
		assert.ErrorIs(t, err, ErrJournalCorrupted)
	})
}

func TestBadger_Checkpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("checkpoint without backup dir returns empty path", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		for i := 1; i <= 5; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		path, err := j.Checkpoint(ctx)
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.False(t, j.Stats().LastCheckpoint.IsZero())
	})

	t.Run("checkpoint resets the size counter", func(t *testing.T) {
		j := createTestJournal(t)
		defer j.Close()

		require.NoError(t, j.Append(ctx, testRecord(1)))
		require.Greater(t, j.Stats().TotalBytes, int64(0))

		_, err := j.Checkpoint(ctx)
		require.NoError(t, err)
		assert.Zero(t, j.Stats().TotalBytes)
	})

	t.Run("checkpoint with backup dir writes a backup file", func(t *testing.T) {
		dir := t.TempDir()
		j, err := New(Config{
			SessionID:     "backup-session",
			InMemory:      true,
			CheckpointDir: dir,
		})
		require.NoError(t, err)
		defer j.Close()

		for i := 1; i <= 3; i++ {
			require.NoError(t, j.Append(ctx, testRecord(i)))
		}

		path, err := j.Checkpoint(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
		assert.Contains(t, filepath.Base(path), "backup-session")
		assert.Contains(t, filepath.Base(path), fmt.Sprintf("%016d", 3))
	})
}

func TestBadger_DegradedMode(t *testing.T) {
	ctx := context.Background()

	t.Run("degraded journal drops appends and counts them", func(t *testing.T) {
		j, err := New(Config{
			SessionID:     "degraded",
			Path:          unopenablePath(t),
			AllowDegraded: true,
		})
		require.NoError(t, err)
		defer j.Close()

		assert.False(t, j.IsAvailable())
		assert.True(t, j.IsDegraded())

		require.NoError(t, j.Append(ctx, testRecord(1)))
		require.NoError(t, j.AppendBatch(ctx, []AdmissionRecord{testRecord(2), testRecord(3)}))

		stats := j.Stats()
		assert.Equal(t, int64(3), stats.DroppedCount)
		assert.True(t, stats.Degraded)
		assert.Zero(t, stats.LastSeq)
	})

	t.Run("degraded replay and checkpoint are no-ops", func(t *testing.T) {
		j, err := New(Config{
			SessionID:     "degraded",
			Path:          unopenablePath(t),
			AllowDegraded: true,
		})
		require.NoError(t, err)
		defer j.Close()

		calls := 0
		require.NoError(t, j.Replay(ctx, 0, func(AdmissionRecord) error {
			calls++
			return nil
		}))
		assert.Zero(t, calls)

		path, err := j.Checkpoint(ctx)
		require.NoError(t, err)
		assert.Empty(t, path)

		assert.NoError(t, j.Sync())
	})
}

func TestBadger_MaxJournalBytes(t *testing.T) {
	ctx := context.Background()

	t.Run("append fails once the limit is hit", func(t *testing.T) {
		j, err := New(Config{
			SessionID:       "full",
			InMemory:        true,
			MaxJournalBytes: 100,
		})
		require.NoError(t, err)
		defer j.Close()

		var full bool
		for i := 0; i < 100; i++ {
			err := j.Append(ctx, testRecord(i))
			if errors.Is(err, ErrJournalFull) {
				full = true
				break
			}
			require.NoError(t, err)
		}
		require.True(t, full, "journal never reached its size limit")

		// Checkpoint truncation frees the budget again.
		_, err = j.Checkpoint(ctx)
		require.NoError(t, err)
		assert.NoError(t, j.Append(ctx, testRecord(999)))
	})
}

func TestBadger_SequenceResumesAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{
		SessionID: "resume",
		Path:      dir,
	}

	j, err := New(cfg)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, j.Append(ctx, testRecord(i)))
	}
	require.NoError(t, j.Close())

	j2, err := New(cfg)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, uint64(3), j2.Stats().LastSeq)

	require.NoError(t, j2.Append(ctx, testRecord(4)))

	var seqs []uint64
	err = j2.Replay(ctx, 0, func(rec AdmissionRecord) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestBadger_Sync(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	assert.NoError(t, j.Sync())
}

func TestBadger_CloseIdempotent(t *testing.T) {
	j := createTestJournal(t)

	assert.NoError(t, j.Close())
	assert.NoError(t, j.Close())
}

// -----------------------------------------------------------------------------
// Benchmarks
// -----------------------------------------------------------------------------

func BenchmarkBadger_Append(b *testing.B) {
	ctx := context.Background()
	j := createBenchJournal(b)
	defer j.Close()

	rec := testRecord(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := j.Append(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBadger_AppendBatch64(b *testing.B) {
	ctx := context.Background()
	j := createBenchJournal(b)
	defer j.Close()

	batch := make([]AdmissionRecord, 64)
	for i := range batch {
		batch[i] = testRecord(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := j.AppendBatch(ctx, batch); err != nil {
			b.Fatal(err)
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func testRecord(i int) AdmissionRecord {
	return AdmissionRecord{
		Kind:      bus.EventAdmitted,
		CommandID: uuid.New(),
		Lane:      bus.Critical,
		From:      gate.Off,
		To:        gate.Conducting,
		Strength:  0.75,
		Admitted:  true,
		Tick:      uint64(i),
		At:        time.Now().UnixMilli(),
	}
}

func createTestJournal(t *testing.T) *Badger {
	t.Helper()

	j, err := New(Config{
		SessionID: "test-session-" + time.Now().Format("150405.000000"),
		InMemory:  true,
	})
	require.NoError(t, err)
	return j
}

func createSkippingJournal(t *testing.T) *Badger {
	t.Helper()

	j, err := New(Config{
		SessionID:     "skip-session-" + time.Now().Format("150405.000000"),
		InMemory:      true,
		SkipCorrupted: true,
	})
	require.NoError(t, err)
	return j
}

func createBenchJournal(b *testing.B) *Badger {
	b.Helper()

	j, err := New(Config{
		SessionID: "bench-session",
		InMemory:  true,
	})
	if err != nil {
		b.Fatal(err)
	}
	return j
}

// unopenablePath returns a path whose parent is a regular file, so
// MkdirAll fails no matter what user the tests run as.
func unopenablePath(t *testing.T) string {
	t.Helper()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	return filepath.Join(blocker, "journal")
}

// corruptRecord flips a payload byte of one stored record in place.
func corruptRecord(t *testing.T, j *Badger, seq uint64) {
	t.Helper()

	err := j.db.WithTxn(context.Background(), func(txn *dgbadger.Txn) error {
		key := j.recordKey(seq)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(val) <= 5 {
			return errors.New("record too short to corrupt")
		}
		val[5] ^= 0xFF
		return txn.Set(key, val)
	})
	require.NoError(t, err)
}

// deleteRecord removes one stored record, leaving a sequence gap.
func deleteRecord(t *testing.T, j *Badger, seq uint64) {
	t.Helper()

	err := j.db.WithTxn(context.Background(), func(txn *dgbadger.Txn) error {
		return txn.Delete(j.recordKey(seq))
	})
	require.NoError(t, err)
}

// Guards against the session prefix format drifting away from the keys
// the helpers build by hand.
func TestRecordKeyFormat(t *testing.T) {
	j := createTestJournal(t)
	defer j.Close()

	key := string(j.recordKey(42))
	assert.True(t, strings.HasPrefix(key, "rec:"))
	assert.True(t, strings.HasSuffix(key, ":0000000000000042"))
}
