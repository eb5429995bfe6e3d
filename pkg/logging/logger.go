// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for corpustok components.
//
// The logger is a thin layer over the standard library slog package with
// two additions the pipeline needs:
//
//   - Multi-destination output: stderr (text or JSON) plus an optional
//     JSON log file, for example one LOG-<worker>.log per worker.
//   - Tee: derive a logger that additionally writes to its own file while
//     sharing the parent's destinations and attributes.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("starting run", "projects", n)
//	logger.Warn("file skipped", "file", path, "error", err)
//
// # Per-worker files
//
//	wlog, err := logger.Tee(filepath.Join(logsDir, "LOG-3.log"))
//	if err != nil {
//	    return err
//	}
//	defer wlog.Close()
//
// # Log Levels
//
// Four levels are supported, matching slog conventions:
//
//   - Debug: per-file progress
//   - Info: project and batch lifecycle
//   - Warn: skipped files and projects, stalled workers
//   - Error: worker failures, publish failures
//
// # Thread Safety
//
// Logger is safe for concurrent use. Each worker still gets its own
// derived logger so that its file is owned by exactly one goroutine.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity: Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for per-file troubleshooting output.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for skipped inputs and recoverable problems.
	LevelWarn

	// LevelError is for failures that stop a worker or the run.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string ("debug", "info", "warn",
// "warning", "error") into a Level. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// toSlogLevel converts our Level to slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// A zero-value Config creates a logger that writes Info+ messages to
// stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// The file is named FileName, or "{Service}_{YYYY-MM-DD}.log" when
	// FileName is empty. File logs are always JSON. Supports ~ expansion.
	LogDir string

	// FileName overrides the log file name inside LogDir.
	FileName string

	// Service is added as the "service" attribute of every record.
	Service string

	// JSON enables JSON output for the console destination.
	JSON bool

	// Quiet disables the console destination.
	Quiet bool

	// Output replaces stderr as the console destination. Default: os.Stderr.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with multi-destination output.
//
// Always call Close when the logger owns a file:
//
//	logger := logging.New(config)
//	defer logger.Close()
type Logger struct {
	slog    *slog.Logger
	handler slog.Handler
	config  Config

	// args are the attributes accumulated by New and With; Tee applies
	// them to its file handler.
	args []any

	// file is owned by this logger (nil when not file-backed or derived via With).
	file *os.File

	mu sync.Mutex
}

// New creates a new Logger with the given configuration.
//
// A log file that cannot be created is reported once on the console
// destination and otherwise ignored; logging never fails the caller.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{config: config}

	var fileErr error
	if config.LogDir != "" {
		name := config.FileName
		if name == "" {
			service := config.Service
			if service == "" {
				service = "corpustok"
			}
			name = fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		}
		file, err := openLogFile(filepath.Join(expandPath(config.LogDir), name))
		if err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		} else {
			fileErr = err
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
		logger.args = []any{"service", config.Service}
	}

	logger.handler = handler
	logger.slog = slog.New(handler)

	if fileErr != nil {
		logger.Warn("log file disabled", "error", fileErr.Error())
	}
	return logger
}

// Default returns an Info-level stderr text logger for service "corpustok".
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "corpustok",
	})
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *Logger {
	return New(Config{Quiet: true})
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// With returns a new Logger with additional attributes.
//
// The derived logger shares destinations with its parent but does not own
// the parent's file; closing it is a no-op.
func (l *Logger) With(args ...any) *Logger {
	s := l.slog.With(args...)
	return &Logger{
		slog:    s,
		handler: s.Handler(),
		config:  l.config,
		args:    append(slices.Clone(l.args), args...),
	}
}

// Tee returns a logger that writes to all of l's destinations and
// additionally appends JSON records to the file at path.
//
// The parent directory is created if needed. The returned logger owns the
// file and must be closed.
func (l *Logger) Tee(path string) (*Logger, error) {
	file, err := openLogFile(expandPath(path))
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: l.config.Level.toSlogLevel()}
	var fileHandler slog.Handler = slog.NewJSONHandler(file, opts)
	if len(l.args) > 0 {
		fileHandler = slog.New(fileHandler).With(l.args...).Handler()
	}
	handler := &multiHandler{handlers: []slog.Handler{l.handler, fileHandler}}
	return &Logger{
		slog:    slog.New(handler),
		handler: handler,
		config:  l.config,
		args:    slices.Clone(l.args),
		file:    file,
	}, nil
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file owned by this logger, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// openLogFile opens path for appending, creating its directory (0750) and
// the file (0640) when missing.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
