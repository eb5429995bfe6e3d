// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/archive"
	"github.com/AleutianAI/corpustok/services/tokenizer/ast"
	"github.com/AleutianAI/corpustok/services/tokenizer/ids"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
	"github.com/AleutianAI/corpustok/services/tokenizer/normalize"
	"github.com/AleutianAI/corpustok/services/tokenizer/output"
	"github.com/AleutianAI/corpustok/services/tokenizer/tokens"
)

const javaSource = "class A {\n  void m() {\n    int x = 1;\n  }\n}\n"

// fakeExtractor returns a fixed number of one-line blocks.
type fakeExtractor struct {
	blocks  int
	panics  bool
	failing bool
}

func (fakeExtractor) Language() string { return "fake" }

func (f fakeExtractor) Extract(ctx context.Context, content []byte, path string) (*ast.Result, error) {
	if f.panics {
		panic("extractor exploded on " + path)
	}
	if f.failing {
		return nil, fmt.Errorf("%w: broken", ast.ErrParseFailed)
	}
	res := &ast.Result{Blocks: make([]ast.Block, f.blocks)}
	for i := range res.Blocks {
		res.Blocks[i] = ast.Block{StartLine: 1, EndLine: 1, Name: "f", Body: "x = 1;\n"}
	}
	return res, nil
}

type fixture struct {
	dir  string
	dirs output.Dirs
	logs *bytes.Buffer
	kit  Toolkit
}

func newFixture(t *testing.T, ex ast.Extractor) *fixture {
	t.Helper()
	dir := t.TempDir()
	dirs := output.Dirs{
		Stats:       filepath.Join(dir, "stats"),
		Tokens:      filepath.Join(dir, "tokens"),
		Bookkeeping: filepath.Join(dir, "book"),
	}
	for _, d := range []string{dirs.Stats, dirs.Tokens, dirs.Bookkeeping} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	norm, err := normalize.New(normalize.Rules{InlineComment: "//", BlockOpen: "/*", BlockClose: "*/"})
	require.NoError(t, err)

	logs := &bytes.Buffer{}
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: logs, JSON: true})

	return &fixture{
		dir:  dir,
		dirs: dirs,
		logs: logs,
		kit: Toolkit{
			Reader:     archive.NewReader(archive.Options{Extensions: []string{".java"}, Logger: logger}),
			Normalizer: norm,
			Tokenizer:  tokens.New([]string{";", ".", "(", ")", "{", "}", "=", ","}),
			Extractor:  ex,
			Logger:     logger,
		},
	}
}

func (f *fixture) settings() Settings {
	return Settings{
		Dirs:         f.dirs,
		Mode:         tokenizer.ModeBlock,
		IDMultiplier: ids.DefaultMultiplier,
		RunID:        "run-1",
	}
}

func (f *fixture) zip(t *testing.T, name string, files map[string]string) tokenizer.Project {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return tokenizer.Project{Path: p, Format: tokenizer.FormatZip}
}

func (f *fixture) rows(t *testing.T, w int) (stats, toks, book []string) {
	t.Helper()
	s, tk, b := f.dirs.FileNames(w)
	return readLines(t, s), readLines(t, tk), readLines(t, b)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func runBatch(t *testing.T, w *Worker, ctx context.Context, b Batch) Completion {
	t.Helper()
	done := make(chan Completion, 1)
	w.Run(ctx, b, done)
	select {
	case c := <-done:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("no completion posted")
		return Completion{}
	}
}

func TestNew_RequiresStages(t *testing.T) {
	_, err := New(Settings{Mode: tokenizer.ModeBlock}, Toolkit{})
	assert.Error(t, err)

	f := newFixture(t, nil)
	_, err = New(f.settings(), f.kit)
	assert.Error(t, err, "block mode without extractor")

	s := f.settings()
	s.Mode = tokenizer.ModeFile
	_, err = New(s, f.kit)
	assert.NoError(t, err)
}

func TestRun_ZipSkipsUnmatchedExtensions(t *testing.T) {
	javaEx, err := ast.NewTreeSitter(ast.LangJava)
	require.NoError(t, err)
	f := newFixture(t, javaEx)
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"a.java": javaSource, "b.txt": "plain text\n"})
	p.Ordinal = 1

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)
	assert.Equal(t, int64(1), c.FilesProcessed)
	assert.Equal(t, 1, c.Projects)
	assert.Empty(t, c.Unprocessed)

	stats, toks, book := f.rows(t, 0)
	var fRows, bRows []string
	for _, r := range stats {
		switch {
		case strings.HasPrefix(r, "f,"):
			fRows = append(fRows, r)
		case strings.HasPrefix(r, "b,"):
			bRows = append(bRows, r)
		}
	}
	require.Len(t, fRows, 1)
	want := fmt.Sprintf(`f,1,0,"%s/a.java","","%s",%d,5,5,5`, p.Path, normalize.Hash([]byte(javaSource)), len(javaSource))
	assert.Equal(t, want, fRows[0])

	require.Len(t, bRows, 1)
	assert.True(t, strings.HasPrefix(bRows[0], "b,1,100000,"), bRows[0])
	assert.True(t, strings.HasSuffix(bRows[0], ",3,3,3,2,4"), bRows[0])

	require.Len(t, toks, 1)
	assert.True(t, strings.HasPrefix(toks[0], "1,100000,"), toks[0])
	assert.Contains(t, toks[0], ",m,")
	assert.Contains(t, toks[0], output.TokensSeparator)

	assert.Equal(t, []string{fmt.Sprintf(`1,"%s"`, p.Path)}, book)
	for _, r := range append(append(stats, toks...), book...) {
		assert.NotContains(t, r, "b.txt")
	}
}

func TestRun_TooManyBlocksDiscardsFile(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: ids.MaxBlocksPerFile + 1})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "big.zip", map[string]string{"Big.java": "x = 1;\n"})
	p.Ordinal = 7

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)
	assert.Equal(t, int64(1), c.FilesProcessed, "the id is still consumed")

	stats, toks, book := f.rows(t, 0)
	assert.Empty(t, stats)
	assert.Empty(t, toks)
	assert.Len(t, book, 1)
	assert.Equal(t, 1, strings.Count(f.logs.String(), "block limit exceeded"))
}

func TestRun_RowsPerBlock(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 3})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "three.zip", map[string]string{"T.java": "x = 1;\n"})
	p.Ordinal = 2
	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)

	stats, toks, _ := f.rows(t, 0)
	assert.Len(t, stats, 4)
	require.Len(t, toks, 3)
	for i, row := range toks {
		assert.True(t, strings.HasPrefix(row, fmt.Sprintf("2,%d0,", 10000+i)), row)
	}
}

func TestRun_WholeFileExtractorEmitsOneBlock(t *testing.T) {
	f := newFixture(t, ast.WholeFile{})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "whole.zip", map[string]string{"A.java": javaSource})
	p.Ordinal = 1
	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)

	stats, toks, book := f.rows(t, 0)
	require.Len(t, stats, 2)
	assert.True(t, strings.HasPrefix(stats[0], "f,1,0,"), stats[0])
	assert.True(t, strings.HasPrefix(stats[1], "b,1,"), stats[1])
	require.Len(t, toks, 1)
	assert.True(t, strings.HasPrefix(toks[0], "1,100000,"), toks[0])
	assert.Len(t, book, 1)
}

func TestRun_UnparseableFileSkipped(t *testing.T) {
	f := newFixture(t, fakeExtractor{failing: true})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "bad.zip", map[string]string{"Bad.java": "class {\n"})
	p.Ordinal = 1
	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)

	stats, toks, book := f.rows(t, 0)
	assert.Empty(t, stats)
	assert.Empty(t, toks)
	assert.Len(t, book, 1)
	assert.Contains(t, f.logs.String(), "file unparseable")
}

func TestRun_FileMode(t *testing.T) {
	f := newFixture(t, nil)
	s := f.settings()
	s.Mode = tokenizer.ModeFile
	s.ProjIDPrefix = 9
	w, err := New(s, f.kit)
	require.NoError(t, err)

	projDir := filepath.Join(f.dir, "proj")
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "X.java"), []byte("a = b; // c\n"), 0o600))
	p := tokenizer.Project{Ordinal: 12, Path: projDir, Format: tokenizer.FormatDir}

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)

	stats, toks, book := f.rows(t, 0)
	require.Len(t, stats, 1)
	assert.True(t, strings.HasPrefix(stats[0], `f,912,0,"`+projDir+`/X.java"`), stats[0])

	rec := tokens.New([]string{";", ".", "(", ")", "{", "}", "=", ","}).Tokenize("a = b;\n")
	assert.Equal(t, []string{fmt.Sprintf("912,0,2,2,%s@#@%s", rec.Hash, rec.Canonical)}, toks)
	assert.Equal(t, []string{fmt.Sprintf(`912,"%s"`, projDir)}, book)
}

func TestRun_MissingArchive(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	led, err := ledger.Open(ledger.InMemoryConfig())
	require.NoError(t, err)
	defer led.Close()
	f.kit.Ledger = led

	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	missing := tokenizer.Project{Ordinal: 4, Path: filepath.Join(f.dir, "nope.zip"), Format: tokenizer.FormatZip}
	present := f.zip(t, "ok.zip", map[string]string{"A.java": "x = 1;\n"})
	present.Ordinal = 5

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{missing, present}})
	require.NoError(t, c.Err)
	assert.Equal(t, 2, c.Projects)

	_, _, book := f.rows(t, 0)
	assert.Equal(t, []string{fmt.Sprintf(`5,"%s"`, present.Path)}, book)

	rec, found, err := led.Project(context.Background(), "4")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ledger.ProjectMissing, rec.Status)
	assert.Equal(t, "run-1", rec.RunID)

	rec, found, err = led.Project(context.Background(), "5")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ledger.ProjectDone, rec.Status)
	assert.Equal(t, int64(1), rec.Files)
}

func TestRun_CorruptArchiveStillBookkept(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	bad := filepath.Join(f.dir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o600))
	p := tokenizer.Project{Ordinal: 3, Path: bad, Format: tokenizer.FormatZip}

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)
	assert.Equal(t, int64(0), c.FilesProcessed)

	stats, _, book := f.rows(t, 0)
	assert.Empty(t, stats)
	assert.Len(t, book, 1)
	assert.Contains(t, f.logs.String(), "project failed")
}

func TestRun_RunningOffsetAndWorkerPartition(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 0})
	s := f.settings()
	s.IDMultiplier = 100
	s.BaseFileID = 10
	w, err := New(s, f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"A.java": "a\n"})
	p.Ordinal = 1
	c := runBatch(t, w, context.Background(), Batch{Worker: 2, Running: 3, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)
	assert.Equal(t, int64(1), c.FilesProcessed)

	stats, _, _ := f.rows(t, 2)
	require.Len(t, stats, 1)
	assert.True(t, strings.HasPrefix(stats[0], "f,1,213,"), stats[0])
}

func TestRun_PartitionExhaustedStopsBatch(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	s := f.settings()
	s.IDMultiplier = 2
	w, err := New(s, f.kit)
	require.NoError(t, err)

	first := f.zip(t, "first.zip", map[string]string{"A.java": "a\n", "B.java": "b\n"})
	first.Ordinal = 1
	second := f.zip(t, "second.zip", map[string]string{"C.java": "c\n"})
	second.Ordinal = 2

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Running: 1, Projects: []tokenizer.Project{first, second}})
	require.Error(t, c.Err)
	assert.True(t, tokenizer.IsKind(c.Err, tokenizer.KindIDSpace), c.Err.Error())
	assert.Equal(t, int64(1), c.FilesProcessed)
	assert.Equal(t, []tokenizer.Project{second}, c.Unprocessed)

	stats, _, _ := f.rows(t, 0)
	fRows := 0
	for _, r := range stats {
		if strings.HasPrefix(r, "f,1,1,") {
			fRows++
		}
	}
	assert.Equal(t, 1, fRows)
}

func TestRun_ExhaustedBeforeFirstFileReturnsProject(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	s := f.settings()
	s.IDMultiplier = 2
	w, err := New(s, f.kit)
	require.NoError(t, err)

	first := f.zip(t, "first.zip", map[string]string{"A.java": "a\n"})
	first.Ordinal = 1
	second := f.zip(t, "second.zip", map[string]string{"B.java": "b\n"})
	second.Ordinal = 2

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Running: 2, Projects: []tokenizer.Project{first, second}})
	require.Error(t, c.Err)
	assert.True(t, tokenizer.IsKind(c.Err, tokenizer.KindIDSpace), c.Err.Error())
	assert.Zero(t, c.Projects)
	assert.Zero(t, c.FilesProcessed)
	assert.Equal(t, []tokenizer.Project{first, second}, c.Unprocessed)

	stats, _, book := f.rows(t, 0)
	assert.Empty(t, stats)
	assert.Empty(t, book)
}

func TestRun_ReportsFilesProcessed(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"A.java": "a\n", "B.java": "b\n"})
	p.Ordinal = 1
	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Running: 5, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)
	assert.Equal(t, int64(2), c.FilesProcessed)
	assert.Equal(t, 1, c.Projects)

	stats, _, _ := f.rows(t, 0)
	var fRows []string
	for _, r := range stats {
		if strings.HasPrefix(r, "f,") {
			fRows = append(fRows, strings.Join(strings.Split(r, ",")[:3], ","))
		}
	}
	assert.ElementsMatch(t, []string{"f,1,5", "f,1,6"}, fRows)
}

func TestRun_BatchDeadlineStartsFirstProject(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	s := f.settings()
	s.BatchTimeout = time.Nanosecond
	w, err := New(s, f.kit)
	require.NoError(t, err)

	first := f.zip(t, "first.zip", map[string]string{"A.java": "a\n"})
	first.Ordinal = 1
	second := f.zip(t, "second.zip", map[string]string{"B.java": "b\n"})
	second.Ordinal = 2

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{first, second}})
	assert.ErrorIs(t, c.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.Projects)
	assert.Equal(t, []tokenizer.Project{second}, c.Unprocessed)

	_, _, book := f.rows(t, 0)
	assert.Len(t, book, 1)
}

func TestRun_PanicStillCompletes(t *testing.T) {
	f := newFixture(t, fakeExtractor{panics: true})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	first := f.zip(t, "first.zip", map[string]string{"A.java": "a\n"})
	first.Ordinal = 1
	second := f.zip(t, "second.zip", map[string]string{"B.java": "b\n"})
	second.Ordinal = 2

	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{first, second}})
	require.Error(t, c.Err)
	assert.Contains(t, c.Err.Error(), "panicked")
	assert.Equal(t, int64(1), c.FilesProcessed)
	assert.Equal(t, []tokenizer.Project{second}, c.Unprocessed)
	assert.Contains(t, f.logs.String(), "worker panic recovered")
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	w, err := New(f.settings(), f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"A.java": "a\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := runBatch(t, w, ctx, Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	assert.ErrorIs(t, c.Err, context.Canceled)
	assert.Equal(t, 0, c.Projects)
	assert.Equal(t, []tokenizer.Project{p}, c.Unprocessed)
}

func TestRun_OutputDirMissingDropsBatch(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	s := f.settings()
	s.Dirs.Stats = filepath.Join(f.dir, "does", "not", "exist")
	w, err := New(s, f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"A.java": "a\n"})
	c := runBatch(t, w, context.Background(), Batch{Worker: 0, Projects: []tokenizer.Project{p}})
	require.Error(t, c.Err)
	assert.Empty(t, c.Unprocessed)
}

func TestRun_WorkerLogFile(t *testing.T) {
	f := newFixture(t, fakeExtractor{blocks: 1})
	s := f.settings()
	s.LogsDir = filepath.Join(f.dir, "logs")
	w, err := New(s, f.kit)
	require.NoError(t, err)

	p := f.zip(t, "p.zip", map[string]string{"A.java": "a\n"})
	p.Ordinal = 1
	c := runBatch(t, w, context.Background(), Batch{Worker: 3, Projects: []tokenizer.Project{p}})
	require.NoError(t, c.Err)

	data, err := os.ReadFile(filepath.Join(s.LogsDir, "LOG-3.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "project finished")
	assert.Contains(t, string(data), `"worker":3`)
}

func TestJoinEntryPath(t *testing.T) {
	tests := []struct {
		archive, entry, want string
	}{
		{"/data/p.zip", "src/A.java", "/data/p.zip/src/A.java"},
		{"/data/dir/", "A.java", "/data/dir/A.java"},
		{"gs://bucket/p.tar.gz", "A.java", "gs://bucket/p.tar.gz/A.java"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinEntryPath(tt.archive, tt.entry))
	}
}
