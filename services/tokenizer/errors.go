// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tokenizer

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures by the scope they abort.
type Kind int

const (
	// KindUnknown is the zero value; it is never produced by the pipeline.
	KindUnknown Kind = iota

	// KindStartup aborts the whole run (bad config, existing output dirs).
	KindStartup

	// KindProject skips one project (missing, unreadable or corrupt archive).
	KindProject

	// KindFile skips one archive entry (unreadable, too large, not UTF-8).
	KindFile

	// KindBlockExtraction skips one file the extractor could not parse.
	KindBlockExtraction

	// KindOverflow discards one file that has too many blocks.
	KindOverflow

	// KindIDSpace stops a worker whose file-id partition is exhausted.
	KindIDSpace
)

// String returns the lowercase name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindStartup:
		return "startup"
	case KindProject:
		return "project"
	case KindFile:
		return "file"
	case KindBlockExtraction:
		return "block_extraction"
	case KindOverflow:
		return "overflow"
	case KindIDSpace:
		return "id_space"
	default:
		return "unknown"
	}
}

// Sentinel causes shared across stages.
var (
	// ErrArchiveMissing indicates the project path does not exist.
	ErrArchiveMissing = errors.New("archive not found")

	// ErrArchiveCorrupt indicates the container could not be decoded.
	ErrArchiveCorrupt = errors.New("archive corrupt")

	// ErrNotUTF8 indicates file content failed UTF-8 validation.
	ErrNotUTF8 = errors.New("content is not valid UTF-8")

	// ErrEntryTooLarge indicates an entry exceeded the configured size limit.
	ErrEntryTooLarge = errors.New("entry exceeds size limit")

	// ErrTooManyBlocks indicates a file produced more blocks than ids allow.
	ErrTooManyBlocks = errors.New("too many blocks in file")

	// ErrOutputExists indicates an output directory is already present.
	ErrOutputExists = errors.New("output directory already exists")
)

// Error is a classified pipeline failure.
//
// Example:
//
//	err := tokenizer.NewError(tokenizer.KindProject, "open", path, tokenizer.ErrArchiveMissing)
//	if tokenizer.KindOf(err) == tokenizer.KindProject {
//	    // skip the project
//	}
type Error struct {
	// Kind is the scope the failure aborts.
	Kind Kind

	// Op names the failed operation ("open", "read", "decode", "extract", ...).
	Op string

	// Path is the archive or entry path involved, if any.
	Path string

	// Err is the underlying cause.
	Err error
}

// NewError creates a classified error.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Error formats as "<kind> <op> <path>: <cause>".
func (e *Error) Error() string {
	msg := e.Kind.String() + " " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
