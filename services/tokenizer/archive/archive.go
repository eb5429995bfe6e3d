// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive streams the matching source files out of a project.
//
// A project is a zip archive, a tar stream (plain, gzip, bzip2 or zstd
// compressed) or a plain directory. Entries are delivered one at a time to
// a Visitor; the reader never holds more than one entry in memory.
//
// # Filtering
//
// Only regular files whose extension is in the configured set are
// delivered. Paths containing a newline are skipped since they cannot be
// written to the line-oriented output. Entries larger than MaxFileBytes are
// skipped.
//
// # Errors
//
// Failures on a single entry are logged and the walk continues. A project
// that cannot be opened or is structurally invalid yields a KindProject
// *tokenizer.Error. An error returned by the Visitor stops the walk and is
// returned unchanged.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/services/tokenizer"
)

// DefaultMaxFileBytes is the default per-entry size limit (10 MiB).
const DefaultMaxFileBytes int64 = 10 * 1024 * 1024

// Entry is one matching file inside a project.
type Entry struct {
	// Path is the path inside the archive, with forward slashes.
	Path string

	// Size is the uncompressed size in bytes.
	Size int64

	// Content is the raw file content.
	Content []byte
}

// Visitor receives each matching entry. A non-nil error stops the walk.
type Visitor func(ctx context.Context, e Entry) error

// Fetcher makes a remote project available as a local file.
//
// The returned cleanup function removes the local copy and must always be
// called when err is nil.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (local string, cleanup func(), err error)
}

// Options configures a Reader.
type Options struct {
	// Extensions lists the accepted extensions, with the leading dot.
	Extensions []string

	// MaxFileBytes skips larger entries. 0 selects DefaultMaxFileBytes.
	MaxFileBytes int64

	// Fetcher resolves gs:// project paths. Optional.
	Fetcher Fetcher

	// Logger receives per-entry warnings. Optional.
	Logger *logging.Logger
}

// Stats summarizes one walk.
type Stats struct {
	// Entries counts every archive member seen, including directories.
	Entries int

	// Matched counts entries delivered to the visitor.
	Matched int

	// Skipped counts matching entries that could not be delivered.
	Skipped int
}

// Reader walks projects.
//
// Thread Safety: a Reader holds no per-walk state and is safe for
// concurrent use; workers still create their own.
type Reader struct {
	extensions map[string]bool
	maxBytes   int64
	fetcher    Fetcher
	logger     *logging.Logger
}

// NewReader creates a Reader.
func NewReader(opts Options) *Reader {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[ext] = true
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reader{extensions: exts, maxBytes: maxBytes, fetcher: opts.Fetcher, logger: logger}
}

// Walk delivers every matching entry of project to visit.
//
// Description:
//
//	gs:// paths are first fetched through the configured Fetcher. The format
//	is taken from project.Format; FormatAuto is resolved with
//	tokenizer.DetectFormat.
//
// Outputs:
//
//	Stats - Counts for the entries seen so far, also on error.
//	error - KindProject *tokenizer.Error, a Visitor error, or the ctx error.
func (r *Reader) Walk(ctx context.Context, project tokenizer.Project, visit Visitor) (Stats, error) {
	var stats Stats

	format := project.Format
	if format == "" || format == tokenizer.FormatAuto {
		format = tokenizer.DetectFormat(project.Path)
	}

	local := project.Path
	if strings.HasPrefix(project.Path, "gs://") {
		if r.fetcher == nil {
			return stats, tokenizer.NewError(tokenizer.KindProject, "fetch", project.Path,
				errors.New("no fetcher configured for remote projects"))
		}
		fetched, cleanup, err := r.fetcher.Fetch(ctx, project.Path)
		if err != nil {
			return stats, tokenizer.NewError(tokenizer.KindProject, "fetch", project.Path, err)
		}
		defer cleanup()
		local = fetched
	}

	info, err := os.Stat(local)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, tokenizer.NewError(tokenizer.KindProject, "open", project.Path, tokenizer.ErrArchiveMissing)
		}
		return stats, tokenizer.NewError(tokenizer.KindProject, "open", project.Path, err)
	}
	if (format == tokenizer.FormatDir) != info.IsDir() {
		return stats, tokenizer.NewError(tokenizer.KindProject, "open", project.Path,
			fmt.Errorf("%w: %s project is not a %s", tokenizer.ErrArchiveCorrupt, format, kindName(info.IsDir())))
	}

	w := &walk{reader: r, project: project, visit: visit, stats: &stats}
	switch format {
	case tokenizer.FormatZip:
		err = w.zip(ctx, local)
	case tokenizer.FormatTar:
		err = w.tar(ctx, local)
	case tokenizer.FormatDir:
		err = w.dir(ctx, local)
	default:
		err = tokenizer.NewError(tokenizer.KindProject, "open", project.Path,
			fmt.Errorf("unsupported format %q", format))
	}
	return stats, err
}

// walk is the per-call state shared by the format readers.
type walk struct {
	reader  *Reader
	project tokenizer.Project
	visit   Visitor
	stats   *Stats
}

// accept reports whether an entry at name should be read.
func (w *walk) accept(name string) bool {
	if !w.reader.extensions[Ext(name)] {
		return false
	}
	if strings.ContainsAny(name, "\n\r") {
		w.reader.logger.Warn("entry skipped: newline in path",
			"project", w.project.Path, "file", strings.ReplaceAll(name, "\n", `\n`))
		w.stats.Skipped++
		return false
	}
	return true
}

// deliver reads r (bounded by the size limit) and hands it to the visitor.
//
// Read failures are logged and swallowed; only visitor and ctx errors are
// returned.
func (w *walk) deliver(ctx context.Context, name string, size int64, open func() (io.ReadCloser, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if size > w.reader.maxBytes {
		w.skip(name, tokenizer.ErrEntryTooLarge)
		return nil
	}

	rc, err := open()
	if err != nil {
		w.skip(name, err)
		return nil
	}
	content, err := io.ReadAll(io.LimitReader(rc, w.reader.maxBytes+1))
	_ = rc.Close()
	if err != nil {
		w.skip(name, err)
		return nil
	}
	if int64(len(content)) > w.reader.maxBytes {
		w.skip(name, tokenizer.ErrEntryTooLarge)
		return nil
	}

	w.stats.Matched++
	return w.visit(ctx, Entry{Path: name, Size: int64(len(content)), Content: content})
}

func (w *walk) skip(name string, cause error) {
	w.stats.Skipped++
	err := tokenizer.NewError(tokenizer.KindFile, "read", name, cause)
	w.reader.logger.Warn("entry skipped", "project", w.project.Path, "file", name, "error", err.Error())
}

// Ext returns the extension of the last path element, including the dot.
//
// A leading dot does not start an extension: Ext(".bashrc") is "".
func Ext(name string) string {
	base := path.Base(name)
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndexByte(trimmed, '.')
	if i < 0 {
		return ""
	}
	return trimmed[i:]
}

func kindName(isDir bool) string {
	if isDir {
		return "directory"
	}
	return "file"
}
