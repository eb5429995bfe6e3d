// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" warn ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_OutputWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf, JSON: true, Service: "corpustok"})

	logger.Info("project done", "project", 7)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "project done" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["service"] != "corpustok" {
		t.Errorf("service = %v", rec["service"])
	}
	if rec["project"] != float64(7) {
		t.Errorf("project = %v", rec["project"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	out := buf.String()
	if strings.Contains(out, "msg=debug") || strings.Contains(out, "msg=info") {
		t.Errorf("records below Warn leaked: %q", out)
	}
	if !strings.Contains(out, "msg=warn") || !strings.Contains(out, "msg=error") {
		t.Errorf("missing Warn/Error records: %q", out)
	}
}

func TestNew_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Error("dropped")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, FileName: "LOG-main.log"})
	logger.Info("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "LOG-main.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file content = %q", data)
	}
}

func TestNew_WithLogDir_DefaultName(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir})
	logger.Info("x")
	_ = logger.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "corpustok_*.log"))
	if len(matches) != 1 {
		t.Errorf("expected one corpustok_*.log file, got %v", matches)
	}
}

func TestNew_WithLogDir_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{Output: &buf, LogDir: filepath.Join(blocker, "sub")})
	defer logger.Close()

	if !strings.Contains(buf.String(), "log file disabled") {
		t.Errorf("expected a warning about the log file, got %q", buf.String())
	}
	logger.Info("still works")
	if !strings.Contains(buf.String(), "still works") {
		t.Error("console destination stopped working")
	}
}

func TestLogger_Tee(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Output: &buf, Service: "corpustok"})

	path := filepath.Join(t.TempDir(), "logs", "LOG-3.log")
	child, err := parent.Tee(path)
	if err != nil {
		t.Fatalf("Tee() error = %v", err)
	}
	child.Warn("file skipped", "worker", 3)
	parent.Info("parent only")
	if err := child.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(buf.String(), "file skipped") {
		t.Errorf("tee did not reach parent destination: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tee file: %v", err)
	}
	if !strings.Contains(string(data), `"worker":3`) || !strings.Contains(string(data), `"service":"corpustok"`) {
		t.Errorf("tee file content = %q", data)
	}
	if strings.Contains(string(data), "parent only") {
		t.Error("parent records must not reach the tee file")
	}
}

func TestLogger_Tee_KeepsWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Output: &buf, Service: "corpustok", JSON: true}).With("run_id", "r-1")

	path := filepath.Join(t.TempDir(), "LOG-0.log")
	child, err := parent.Tee(path)
	if err != nil {
		t.Fatalf("Tee() error = %v", err)
	}
	child.With("worker", 0).Info("batch started")
	if err := child.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read tee file: %v", err)
	}
	for _, want := range []string{`"service":"corpustok"`, `"run_id":"r-1"`, `"worker":0`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("tee file missing %s: %q", want, data)
		}
	}
	if n := strings.Count(buf.String(), `"run_id":"r-1"`); n != 1 {
		t.Errorf("console record carries run_id %d times: %q", n, buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.With("worker", 2).Info("started")

	if !strings.Contains(buf.String(), "worker=2") {
		t.Errorf("With attribute missing: %q", buf.String())
	}
}

func TestLogger_With_DoesNotOwnFile(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir})
	defer logger.Close()

	derived := logger.With("k", "v")
	if err := derived.Close(); err != nil {
		t.Errorf("derived Close() error = %v", err)
	}
	logger.Info("after derived close")
}

func TestLogger_Close_Idempotent(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := New(Config{Output: &lockedWriter{mu: &mu, w: &buf}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("tick", "worker", id)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if n := strings.Count(buf.String(), "msg=tick"); n != 400 {
		t.Errorf("got %d records, want 400", n)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing")
	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Handle_LevelFiltering(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(h)

	logger.Info("info")

	if !strings.Contains(debugBuf.String(), "info") {
		t.Error("debug handler should receive Info")
	}
	if warnBuf.Len() != 0 {
		t.Error("warn handler should not receive Info")
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(Debug) should be true when any handler accepts it")
	}
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	var h slog.Handler = &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&buf, nil)}}
	h = h.WithAttrs([]slog.Attr{slog.String("run", "abc")}).WithGroup("g")

	slog.New(h).Info("m", "k", 1)

	out := buf.String()
	if !strings.Contains(out, "run=abc") || !strings.Contains(out, "g.k=1") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/abs"); got != "/abs" {
		t.Errorf("expandPath(/abs) = %q", got)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
