// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast locates function-level blocks in source files.
//
// An Extractor turns file content into an ordered list of Blocks, each with
// its 1-based inclusive line range, its name and its source text. The
// pipeline treats extraction as a black box: it only relies on the ordering
// and on ErrParseFailed for files that cannot be parsed.
//
// Tree-sitter extractors are provided for java, c, cpp, c_sharp, go and
// python. WholeFile returns the file as a single block and is used for
// file-level tokenization.
package ast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for extraction failures.
var (
	// ErrUnsupportedLanguage indicates no extractor is registered for a language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates the file could not be parsed at all.
	//
	// Extractors never panic: internal panics are recovered and returned
	// wrapped in this error.
	ErrParseFailed = errors.New("parse failed")
)

// Block is one extracted function, method or constructor.
type Block struct {
	// StartLine and EndLine are 1-based and inclusive.
	StartLine int
	EndLine   int

	// Name is the declared name, or "" when the grammar does not expose one.
	Name string

	// Body is the block's source text.
	Body string
}

// Result is the output of one extraction.
type Result struct {
	// Blocks are ordered by start position in the file.
	Blocks []Block
}

// Extractor finds the blocks of one language.
//
// Description:
//
//	Extract receives the decoded file content so that block line numbers
//	refer to the file as stored. Implementations must honor ctx where the
//	underlying parser allows it.
//
// Outputs:
//
//	*Result - Ordered blocks. Never nil when error is nil.
//	error - Wraps ErrParseFailed when the file is unparseable, or the ctx
//	        error when canceled.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, content []byte, path string) (*Result, error)

	// Language returns the name the extractor is registered under.
	Language() string
}

// Registry resolves extractors by language name.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// NewDefaultRegistry registers the tree-sitter extractors for every
// supported language plus WholeFile under "file".
func NewDefaultRegistry(opts ...TreeSitterOption) *Registry {
	r := NewRegistry()
	for _, lang := range TreeSitterLanguages() {
		ex, err := NewTreeSitter(lang, opts...)
		if err != nil {
			continue
		}
		r.Register(ex)
	}
	r.Register(WholeFile{})
	return r
}

// Register adds ex under ex.Language(), replacing any previous entry.
func (r *Registry) Register(ex Extractor) {
	if ex == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[ex.Language()] = ex
}

// Get returns the extractor for language.
func (r *Registry) Get(language string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.extractors[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return ex, nil
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]string, 0, len(r.extractors))
	for lang := range r.extractors {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

var (
	cppExtensions = []string{".cpp", ".h", ".C", ".hpp", ".c++", ".cxx", ".CPP"}
	cExtensions   = []string{".c", ".h", ".cc"}
)

// InferLanguage guesses the block language from the configured extensions.
//
// Checks run in a fixed order (java, c_sharp, cpp, c, go, python), so a
// list containing ".h" and ".cpp" resolves to cpp. Returns "" when nothing
// matches.
func InferLanguage(extensions []string) string {
	has := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		has[ext] = true
	}
	anyOf := func(exts ...string) bool {
		for _, ext := range exts {
			if has[ext] {
				return true
			}
		}
		return false
	}

	switch {
	case has[".java"]:
		return LangJava
	case anyOf(".cs", ".csx"):
		return LangCSharp
	case anyOf(cppExtensions...):
		return LangCPP
	case anyOf(cExtensions...):
		return LangC
	case has[".go"]:
		return LangGo
	case anyOf(".py", ".pyi"):
		return LangPython
	default:
		return ""
	}
}
