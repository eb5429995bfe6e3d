// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote moves projects and results between Google Cloud Storage
// and the local disk.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/corpustok/pkg/logging"
)

// ErrInvalidURI indicates a path that is not of the form gs://bucket/object.
var ErrInvalidURI = errors.New("invalid gs:// uri")

type Client struct {
	storageClient *storage.Client
	logger        *logging.Logger
	tempDir       string
}

// NewClient creates a GCS client. An empty credentialsFile uses the
// application default credentials.
func NewClient(ctx context.Context, credentialsFile string, logger *logging.Logger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{storageClient: storageClient, logger: logger}, nil
}

// SetTempDir sets where fetched projects are stored. Default: os.TempDir().
func (c *Client) SetTempDir(dir string) {
	c.tempDir = dir
}

func (c *Client) Close() error {
	return c.storageClient.Close()
}

// Fetch downloads the object at uri into a temporary file.
//
// The local file keeps the object's suffix so that format detection works
// on it too. cleanup removes the file.
func (c *Client) Fetch(ctx context.Context, uri string) (string, func(), error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", nil, err
	}

	reader, err := c.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open GCS object %s: %w", uri, err)
	}
	defer reader.Close()

	local, err := os.CreateTemp(c.tempDir, "corpustok-*-"+path.Base(object))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file for %s: %w", uri, err)
	}
	cleanup := func() { _ = os.Remove(local.Name()) }

	if _, err := io.Copy(local, reader); err != nil {
		_ = local.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to download %s: %w", uri, err)
	}
	if err := local.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close temp file for %s: %w", uri, err)
	}

	c.logger.Debug("fetched remote project", "uri", uri, "local", local.Name())
	return local.Name(), cleanup, nil
}

func (c *Client) UploadFile(ctx context.Context, bucket, localPath, object string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	writer := c.storageClient.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"

	if _, err := io.Copy(writer, localFile); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	c.logger.Info("uploaded", "file", localPath, "uri", "gs://"+bucket+"/"+object)
	return nil
}

// UploadDir uploads every regular file under localDir, keeping the
// directory layout below prefix/<base of localDir>.
func (c *Client) UploadDir(ctx context.Context, bucket, localDir, prefix string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		object, err := ObjectName(prefix, localDir, p)
		if err != nil {
			return err
		}
		return c.UploadFile(ctx, bucket, p, object)
	})
}

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, object, nil
}

// ObjectName maps a file below localDir to its object name.
func ObjectName(prefix, localDir, file string) (string, error) {
	rel, err := filepath.Rel(localDir, file)
	if err != nil {
		return "", err
	}
	return path.Join(prefix, filepath.Base(filepath.Clean(localDir)), filepath.ToSlash(rel)), nil
}
