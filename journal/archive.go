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
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ArchiverConfig configures checkpoint upload to cloud storage.
type ArchiverConfig struct {
	// Bucket is the target GCS bucket name. Required.
	Bucket string

	// Prefix is prepended to object names, e.g. "plasmabus/checkpoints".
	Prefix string

	// CredentialsFile is a service-account key path. Empty uses
	// application default credentials.
	CredentialsFile string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Archiver copies checkpoint backup files into a GCS bucket.
//
// Wire it behind Checkpoint: the returned backup path goes in, the
// stored object name comes back. Uploads are best-effort cold storage;
// a failed upload leaves the local backup file in place.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver builds a client for the configured bucket.
func NewArchiver(ctx context.Context, config ArchiverConfig) (*Archiver, error) {
	if config.Bucket == "" {
		return nil, errors.New("journal: archiver bucket must not be empty")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		if _, err := os.Stat(config.CredentialsFile); err != nil {
			return nil, fmt.Errorf("credentials file not accessible: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Archiver{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		logger: config.Logger.With(
			slog.String("component", "journal_archiver"),
			slog.String("bucket", config.Bucket),
		),
	}, nil
}

// Upload copies one local checkpoint file into the bucket and returns
// the object name it was stored under.
func (a *Archiver) Upload(ctx context.Context, src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open checkpoint file: %w", err)
	}
	defer f.Close()

	object := path.Join(a.prefix, filepath.Base(src))
	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", object, err)
	}

	a.logger.Info("checkpoint archived",
		slog.String("object", object),
		slog.String("source", src))
	return object, nil
}

// Close releases the storage client.
func (a *Archiver) Close() error {
	return a.client.Close()
}
