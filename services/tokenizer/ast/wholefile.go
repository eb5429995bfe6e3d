// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"strings"
)

// LangFile is the registry name of WholeFile.
const LangFile = "file"

// WholeFile reports the entire file as one block. Empty files have no blocks.
type WholeFile struct{}

// Language implements Extractor.
func (WholeFile) Language() string {
	return LangFile
}

// Extract implements Extractor.
func (WholeFile) Extract(ctx context.Context, content []byte, _ string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return &Result{Blocks: []Block{}}, nil
	}

	text := string(content)
	end := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		end++
	}
	return &Result{Blocks: []Block{{
		StartLine: 1,
		EndLine:   end,
		Body:      text,
	}}}, nil
}
