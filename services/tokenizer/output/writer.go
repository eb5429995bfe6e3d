// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package output writes the per-worker result files.
//
// Each worker owns three append-only files:
//
//	<stats_dir>/files-stats-<w>.stats          f and b rows
//	<tokens_dir>/files-tokens-<w>.tokens       token bags
//	<bookkeeping_dir>/bookkeeping-proj-<w>.projs  one row per project
//
// The row layouts are positional and consumed by clone detectors as is:
//
//	f,<proj>,<file_id>,"<path>","","<hash>",<bytes>,<lines>,<loc>,<sloc>
//	b,<proj>,<block_id>,"<hash>",<lines>,<loc>,<sloc>,<start>,<end>
//	<proj>,<block_id>,<total>,<unique>,<metadata>,<hash>@#@<tokens>
//	<proj>,<file_id>,<total>,<unique>,<hash>@#@<tokens>
//	<proj>,"<archive_path>"
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/corpustok/services/tokenizer/ids"
	"github.com/AleutianAI/corpustok/services/tokenizer/tokens"
)

// TokensSeparator separates the token hash from the token bag.
const TokensSeparator = "@#@"

// Dirs names the three output directories.
type Dirs struct {
	Stats       string
	Tokens      string
	Bookkeeping string
}

// FileNames returns the three file paths of worker w.
func (d Dirs) FileNames(w int) (stats, tokens, bookkeeping string) {
	return filepath.Join(d.Stats, fmt.Sprintf("files-stats-%d.stats", w)),
		filepath.Join(d.Tokens, fmt.Sprintf("files-tokens-%d.tokens", w)),
		filepath.Join(d.Bookkeeping, fmt.Sprintf("bookkeeping-proj-%d.projs", w))
}

// FileRow is a file statistics row.
type FileRow struct {
	Project string
	FileID  int64
	Path    string
	Hash    string
	Bytes   int64
	Lines   int
	LOC     int
	SLOC    int
}

// BlockRow is a block statistics row.
type BlockRow struct {
	Project   string
	ID        ids.BlockID
	Hash      string
	Lines     int
	LOC       int
	SLOC      int
	StartLine int
	EndLine   int
}

// Writer holds the buffered sinks of one worker.
//
// Thread Safety: NOT safe for concurrent use. Owned by one worker.
type Writer struct {
	files       []*os.File
	stats       *bufio.Writer
	tokens      *bufio.Writer
	bookkeeping *bufio.Writer
}

// Open opens (appending, creating if needed) the three files of worker w.
func Open(dirs Dirs, w int) (*Writer, error) {
	statsPath, tokensPath, bookPath := dirs.FileNames(w)

	out := &Writer{}
	open := func(p string) (*bufio.Writer, error) {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out.files = append(out.files, f)
		return bufio.NewWriterSize(f, 256*1024), nil
	}

	var err error
	if out.stats, err = open(statsPath); err != nil {
		return nil, out.closeWith(fmt.Errorf("open stats file: %w", err))
	}
	if out.tokens, err = open(tokensPath); err != nil {
		return nil, out.closeWith(fmt.Errorf("open tokens file: %w", err))
	}
	if out.bookkeeping, err = open(bookPath); err != nil {
		return nil, out.closeWith(fmt.Errorf("open bookkeeping file: %w", err))
	}
	return out, nil
}

// NewWriter builds a Writer over arbitrary sinks. Close only flushes.
func NewWriter(stats, tokens, bookkeeping io.Writer) *Writer {
	return &Writer{
		stats:       bufio.NewWriter(stats),
		tokens:      bufio.NewWriter(tokens),
		bookkeeping: bufio.NewWriter(bookkeeping),
	}
}

// WriteFile writes an f row.
func (w *Writer) WriteFile(r FileRow) error {
	_, err := fmt.Fprintf(w.stats, "f,%s,%d,\"%s\",\"\",\"%s\",%d,%d,%d,%d\n",
		r.Project, r.FileID, r.Path, r.Hash, r.Bytes, r.Lines, r.LOC, r.SLOC)
	return err
}

// WriteBlock writes a b row.
func (w *Writer) WriteBlock(r BlockRow) error {
	_, err := fmt.Fprintf(w.stats, "b,%s,%s,\"%s\",%d,%d,%d,%d,%d\n",
		r.Project, r.ID, r.Hash, r.Lines, r.LOC, r.SLOC, r.StartLine, r.EndLine)
	return err
}

// WriteBlockTokens writes the tokens row of a block. Commas in metadata
// are replaced by semicolons.
func (w *Writer) WriteBlockTokens(project string, id ids.BlockID, metadata string, rec tokens.Record) error {
	_, err := fmt.Fprintf(w.tokens, "%s,%s,%d,%d,%s,%s%s%s\n",
		project, id, rec.Total, rec.Unique, Metadata(metadata), rec.Hash, TokensSeparator, rec.Canonical)
	return err
}

// WriteFileTokens writes the tokens row of a whole file.
func (w *Writer) WriteFileTokens(project string, fileID int64, rec tokens.Record) error {
	_, err := fmt.Fprintf(w.tokens, "%s,%d,%d,%d,%s%s%s\n",
		project, fileID, rec.Total, rec.Unique, rec.Hash, TokensSeparator, rec.Canonical)
	return err
}

// WriteProject writes a bookkeeping row.
func (w *Writer) WriteProject(project, archivePath string) error {
	_, err := fmt.Fprintf(w.bookkeeping, "%s,\"%s\"\n", project, archivePath)
	return err
}

// Flush pushes buffered rows to the files.
func (w *Writer) Flush() error {
	return errors.Join(w.stats.Flush(), w.tokens.Flush(), w.bookkeeping.Flush())
}

// Close flushes and closes the files.
func (w *Writer) Close() error {
	return w.closeWith(w.Flush())
}

func (w *Writer) closeWith(err error) error {
	errs := []error{err}
	for _, f := range w.files {
		errs = append(errs, f.Close())
	}
	w.files = nil
	return errors.Join(errs...)
}

// Metadata sanitizes a block name for the tokens row.
func Metadata(name string) string {
	return strings.ReplaceAll(name, ",", ";")
}
