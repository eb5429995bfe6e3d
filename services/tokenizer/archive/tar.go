// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/corpustok/services/tokenizer"
)

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicBzip2 = []byte("BZh")
)

// tar walks a tar stream in a single pass. The compression is detected
// from the first bytes of the file, not from its name.
func (w *walk) tar(ctx context.Context, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return tokenizer.NewError(tokenizer.KindProject, "open tar", w.project.Path, err)
	}
	defer f.Close()

	stream, closeStream, err := decompress(bufio.NewReader(f))
	if err != nil {
		return tokenizer.NewError(tokenizer.KindProject, "open tar", w.project.Path, joinCorrupt(err))
	}
	defer closeStream()

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return tokenizer.NewError(tokenizer.KindProject, "read tar", w.project.Path, joinCorrupt(err))
		}
		w.stats.Entries++

		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		if !w.accept(hdr.Name) {
			continue
		}
		open := func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
		if err := w.deliver(ctx, hdr.Name, hdr.Size, open); err != nil {
			return err
		}
	}
}

// decompress wraps br in the decoder its magic bytes call for.
func decompress(br *bufio.Reader) (io.Reader, func(), error) {
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}

	switch {
	case bytes.HasPrefix(head, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	case bytes.HasPrefix(head, magicBzip2):
		return bzip2.NewReader(br), func() {}, nil
	default:
		return br, func() {}, nil
	}
}

// joinCorrupt marks err as tokenizer.ErrArchiveCorrupt while keeping it
// inspectable.
func joinCorrupt(err error) error {
	return fmt.Errorf("%w: %w", tokenizer.ErrArchiveCorrupt, err)
}
