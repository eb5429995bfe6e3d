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
	"fmt"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"
)

// Language names accepted by NewTreeSitter.
const (
	LangJava   = "java"
	LangC      = "c"
	LangCPP    = "cpp"
	LangCSharp = "c_sharp"
	LangGo     = "go"
	LangPython = "python"
)

// grammar describes how to find blocks in one tree-sitter grammar.
type grammar struct {
	language   func() *sitter.Language
	blockTypes map[string]bool
}

var grammars = map[string]grammar{
	LangJava: {
		language:   java.GetLanguage,
		blockTypes: set("method_declaration", "constructor_declaration"),
	},
	LangC: {
		language:   c.GetLanguage,
		blockTypes: set("function_definition"),
	},
	LangCPP: {
		language:   cpp.GetLanguage,
		blockTypes: set("function_definition"),
	},
	LangCSharp: {
		language:   csharp.GetLanguage,
		blockTypes: set("method_declaration", "constructor_declaration", "local_function_statement"),
	},
	LangGo: {
		language:   golang.GetLanguage,
		blockTypes: set("function_declaration", "method_declaration"),
	},
	LangPython: {
		language:   python.GetLanguage,
		blockTypes: set("function_definition"),
	},
}

// TreeSitterLanguages returns the languages NewTreeSitter supports.
func TreeSitterLanguages() []string {
	return []string{LangJava, LangC, LangCPP, LangCSharp, LangGo, LangPython}
}

// TreeSitterOption configures a TreeSitter extractor.
type TreeSitterOption func(*TreeSitter)

// WithMaxDepth bounds the syntax tree traversal. Blocks nested deeper than
// depth levels below the root are not reported. 0 means unlimited.
func WithMaxDepth(depth int) TreeSitterOption {
	return func(t *TreeSitter) {
		if depth > 0 {
			t.maxDepth = depth
		}
	}
}

// TreeSitter extracts blocks with a tree-sitter grammar.
//
// Description:
//
//	Every node whose type is one of the grammar's block types becomes a
//	Block, including nested ones (local functions, methods of anonymous
//	classes). Blocks are reported in pre-order, which is start order.
//	Tree-sitter recovers from syntax errors, so files with ERROR nodes still
//	yield the blocks it could recognize.
//
// Thread Safety:
//
//	Safe for concurrent use. A new tree-sitter parser is created per call.
type TreeSitter struct {
	lang     string
	grammar  grammar
	maxDepth int
}

// NewTreeSitter creates the extractor for lang.
func NewTreeSitter(lang string, opts ...TreeSitterOption) (*TreeSitter, error) {
	g, ok := grammars[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	t := &TreeSitter{lang: lang, grammar: g}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Language implements Extractor.
func (t *TreeSitter) Language() string {
	return t.lang
}

// Extract implements Extractor.
func (t *TreeSitter) Extract(ctx context.Context, content []byte, path string) (result *Result, err error) {
	ctx, span := startExtractSpan(ctx, t.lang, path, len(content))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s: panic: %v", ErrParseFailed, path, r)
		}
		n := 0
		if result != nil {
			n = len(result.Blocks)
		}
		setExtractSpanResult(span, n, err)
		recordExtractMetrics(ctx, t.lang, time.Since(start), n, err == nil)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(t.grammar.language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailed, path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: %s: no syntax tree", ErrParseFailed, path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: %s: no root node", ErrParseFailed, path)
	}

	w := walker{
		ctx:        ctx,
		content:    content,
		blockTypes: t.grammar.blockTypes,
		maxDepth:   t.maxDepth,
		result:     &Result{Blocks: make([]Block, 0)},
	}
	if err := w.walk(root, 0); err != nil {
		return nil, err
	}
	return w.result, nil
}

// walker collects blocks in pre-order.
type walker struct {
	ctx        context.Context
	content    []byte
	blockTypes map[string]bool
	maxDepth   int
	visited    int
	result     *Result
}

// ctxCheckInterval is how many nodes are visited between ctx checks.
const ctxCheckInterval = 4096

func (w *walker) walk(node *sitter.Node, depth int) error {
	w.visited++
	if w.visited%ctxCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			return err
		}
	}

	if w.blockTypes[node.Type()] {
		w.result.Blocks = append(w.result.Blocks, Block{
			StartLine: int(node.StartPoint().Row + 1),
			EndLine:   int(node.EndPoint().Row + 1),
			Name:      blockName(node, w.content),
			Body:      string(w.content[node.StartByte():node.EndByte()]),
		})
	}

	if w.maxDepth > 0 && depth >= w.maxDepth {
		return nil
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		if err := w.walk(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// blockName returns the declared name of a block node.
//
// Most grammars expose a "name" field. C and C++ nest the name inside a
// chain of declarators (pointer, reference, function).
func blockName(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}

	decl := node.ChildByFieldName("declarator")
	for i := 0; decl != nil && i < 8; i++ {
		if decl.Type() == "function_declarator" {
			if inner := decl.ChildByFieldName("declarator"); inner != nil {
				return inner.Content(content)
			}
			return ""
		}
		next := decl.ChildByFieldName("declarator")
		if next == nil && decl.NamedChildCount() > 0 {
			next = decl.NamedChild(int(decl.NamedChildCount()) - 1)
		}
		decl = next
	}
	return ""
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}
