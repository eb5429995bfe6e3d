// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize computes the line statistics and content hash of a
// source text and produces its comment-free, blank-line-free form.
//
// # Counting
//
// For raw content the normalizer reports three counts:
//
//   - Lines: newline terminators, plus one for a final unterminated line.
//   - LOC: lines that are not empty or whitespace-only.
//   - SLOC: LOC lines that are still non-blank after comment removal.
//
// The invariant 0 <= SLOC <= LOC <= Lines always holds.
//
// # Comment removal
//
// Block comments are removed first (non-greedy, across line breaks), then
// inline comments up to the end of their line. Delimiters are literal text,
// never regular expressions. An empty delimiter disables its pass.
//
// # Thread Safety
//
// A Normalizer is immutable after New and safe for concurrent use.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/corpustok/services/tokenizer"
)

// Rules holds the comment delimiters of one language.
type Rules struct {
	// InlineComment starts a comment that runs to the end of the line ("//", "#").
	InlineComment string

	// BlockOpen and BlockClose delimit multi-line comments ("/*", "*/").
	// Both must be non-empty for block comments to be stripped.
	BlockOpen  string
	BlockClose string
}

// Text is the result of normalizing one file or block.
type Text struct {
	// Hash is the lowercase hex MD5 of the original raw content.
	Hash string

	Lines int
	LOC   int
	SLOC  int

	// Clean is the comment-free text, one "\n"-terminated line per SLOC.
	Clean string
}

// Normalizer strips comments and counts lines for one language.
type Normalizer struct {
	block  *regexp.Regexp
	inline *regexp.Regexp
}

// New compiles the comment patterns for rules.
//
// Description:
//
//	Delimiters are escaped with regexp.QuoteMeta so that characters such as
//	'*' or '#' are matched literally. The block pattern is compiled in
//	dot-all mode with a lazy body; the inline pattern in multi-line mode so
//	that '$' stops at each line end.
//
// Outputs:
//
//	*Normalizer - Ready for use. Never nil when err is nil.
//	error - Non-nil only if a pattern fails to compile.
func New(rules Rules) (*Normalizer, error) {
	n := &Normalizer{}

	if rules.BlockOpen != "" && rules.BlockClose != "" {
		expr := `(?s)` + regexp.QuoteMeta(rules.BlockOpen) + `.*?` + regexp.QuoteMeta(rules.BlockClose)
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile block comment pattern: %w", err)
		}
		n.block = re
	}

	if rules.InlineComment != "" {
		re, err := regexp.Compile(`(?m)` + regexp.QuoteMeta(rules.InlineComment) + `.*$`)
		if err != nil {
			return nil, fmt.Errorf("compile inline comment pattern: %w", err)
		}
		n.inline = re
	}

	return n, nil
}

// Normalize validates raw as UTF-8 and normalizes it.
//
// Invalid UTF-8 yields a KindFile error wrapping tokenizer.ErrNotUTF8.
func (n *Normalizer) Normalize(raw []byte) (Text, error) {
	if !utf8.Valid(raw) {
		return Text{}, tokenizer.NewError(tokenizer.KindFile, "decode", "", tokenizer.ErrNotUTF8)
	}
	return n.NormalizeString(string(raw)), nil
}

// NormalizeString normalizes already-decoded text.
func (n *Normalizer) NormalizeString(s string) Text {
	t := Text{
		Hash:  Hash([]byte(s)),
		Lines: CountLines(s),
	}

	nonBlank := keepNonBlank(s)
	t.LOC = len(nonBlank)
	if t.LOC == 0 {
		return t
	}

	stripped := strings.Join(nonBlank, "\n")
	if n.block != nil {
		stripped = n.block.ReplaceAllString(stripped, "")
	}
	if n.inline != nil {
		stripped = n.inline.ReplaceAllString(stripped, "")
	}

	code := keepNonBlank(stripped)
	t.SLOC = len(code)
	if t.SLOC > 0 {
		t.Clean = strings.Join(code, "\n") + "\n"
	}
	return t
}

// CountLines returns the number of "\n" terminators in s, plus one when s
// is non-empty and does not end with "\n".
func CountLines(s string) int {
	n := strings.Count(s, "\n")
	if s != "" && !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// Hash returns the lowercase hex MD5 digest of b.
func Hash(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// keepNonBlank splits s into lines and drops the empty or whitespace-only
// ones. A trailing "\r" is kept with its line.
func keepNonBlank(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return kept
}
