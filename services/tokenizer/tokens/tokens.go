// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokens turns cleaned source text into a frequency bag of tokens
// and its canonical, hashable string form.
//
// The canonical form lists every distinct token once, in the order it was
// first seen, as "token@@::@@count", joined by commas:
//
//	return@@::@@2,x@@::@@1
//
// Tokenizing the same text with the same separators always yields the same
// string and hash.
package tokens

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/corpustok/services/tokenizer/normalize"
)

// Delimiter separates a token from its count in the canonical string.
const Delimiter = "@@::@@"

// Record is the token bag of one file or block.
type Record struct {
	// Total is the number of tokens, counting repeats.
	Total int

	// Unique is the number of distinct tokens.
	Unique int

	// Canonical is the comma-joined "token@@::@@count" list.
	Canonical string

	// Hash is the lowercase hex MD5 of Canonical.
	Hash string
}

// Tokenizer splits text on a fixed, ordered list of separators.
//
// Thread Safety: immutable after New; safe for concurrent use.
type Tokenizer struct {
	separators []string
}

// New creates a Tokenizer. Empty separators are ignored; order is kept.
func New(separators []string) *Tokenizer {
	seps := make([]string, 0, len(separators))
	for _, s := range separators {
		if s != "" {
			seps = append(seps, s)
		}
	}
	return &Tokenizer{separators: seps}
}

// Tokenize builds the Record for text.
//
// Every separator occurrence is replaced by a space, one separator at a
// time in configured order, and the result is split on whitespace.
func (t *Tokenizer) Tokenize(text string) Record {
	for _, sep := range t.separators {
		text = strings.ReplaceAll(text, sep, " ")
	}
	fields := strings.Fields(text)

	counts := make(map[string]int, len(fields))
	order := make([]string, 0, len(fields))
	for _, tok := range fields {
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	var b strings.Builder
	for i, tok := range order {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tok)
		b.WriteString(Delimiter)
		b.WriteString(strconv.Itoa(counts[tok]))
	}
	canonical := b.String()

	return Record{
		Total:     len(fields),
		Unique:    len(order),
		Canonical: canonical,
		Hash:      normalize.Hash([]byte(canonical)),
	}
}
