// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokenizer holds the types shared by every stage of the corpus
// tokenization pipeline: projects, archive formats, run modes and the
// error taxonomy.
//
// # Pipeline
//
// The pipeline turns archived source projects into SourcererCC input rows:
//
//	pool (orchestrator) -> worker -> archive -> normalize -> ast -> tokens -> ids -> output
//
// Each stage lives in its own sub-package. This package must not import any
// of them so that all stages can depend on it.
package tokenizer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Format identifies how a project's files are stored.
type Format string

const (
	// FormatAuto resolves the format from the project path (see DetectFormat).
	FormatAuto Format = "auto"

	// FormatZip is a zip archive read with random access.
	FormatZip Format = "zip"

	// FormatTar is a tar stream, optionally gzip, bzip2 or zstd compressed.
	FormatTar Format = "tar"

	// FormatDir is a plain directory walked recursively.
	FormatDir Format = "dir"
)

// ParseFormat converts a configuration string into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatZip, FormatTar, FormatDir:
		return f, nil
	case "":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown archive format %q", s)
	}
}

// tarSuffixes lists the path suffixes treated as tar streams.
var tarSuffixes = []string{".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.zst", ".tzst"}

// DetectFormat resolves FormatAuto for a concrete path.
//
// Existing directories are FormatDir, tar-like suffixes are FormatTar and
// everything else (including remote gs:// objects without a tar suffix) is
// treated as FormatZip.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	for _, suffix := range tarSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return FormatTar
		}
	}
	if !strings.HasPrefix(lower, "gs://") {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return FormatDir
		}
	}
	return FormatZip
}

// Mode selects the granularity of the emitted token rows.
type Mode string

const (
	// ModeBlock emits one tokens row per extracted function.
	ModeBlock Mode = "block"

	// ModeFile emits one tokens row per file.
	ModeFile Mode = "file"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBlock, ModeFile:
		return m, nil
	case "":
		return ModeBlock, nil
	default:
		return "", fmt.Errorf("unknown tokenization mode %q", s)
	}
}

// Project is one archive listed in the project list file.
//
// Projects are created once when the list is read and never modified.
type Project struct {
	// Ordinal is the project number derived from its list position.
	Ordinal int64

	// Path is the archive path (local path, directory or gs:// URI).
	Path string

	// Format is never FormatAuto once the project list has been loaded.
	Format Format
}

// Key returns the textual project id written to every output row.
//
// A non-zero prefix is concatenated in front of the ordinal as decimal
// text, so prefix 9 and ordinal 12 give "912".
func (p Project) Key(prefix int64) string {
	if prefix <= 0 {
		return strconv.FormatInt(p.Ordinal, 10)
	}
	return strconv.FormatInt(prefix, 10) + strconv.FormatInt(p.Ordinal, 10)
}

// String implements fmt.Stringer for log output.
func (p Project) String() string {
	return fmt.Sprintf("project <id: %d, path: %s>", p.Ordinal, p.Path)
}
