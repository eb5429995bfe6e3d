// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker processes one batch of projects on behalf of the pool.
//
// A worker owns its output files, its id allocator and its log file for the
// duration of a batch. It shares nothing mutable with other workers: the
// Toolkit it receives is read-only and safe for concurrent use.
//
// Every Run posts exactly one Completion, also when it panics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/archive"
	"github.com/AleutianAI/corpustok/services/tokenizer/ast"
	"github.com/AleutianAI/corpustok/services/tokenizer/ids"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
	"github.com/AleutianAI/corpustok/services/tokenizer/normalize"
	"github.com/AleutianAI/corpustok/services/tokenizer/output"
	"github.com/AleutianAI/corpustok/services/tokenizer/telemetry"
	"github.com/AleutianAI/corpustok/services/tokenizer/tokens"
)

// Settings is the immutable configuration snapshot a worker runs with.
type Settings struct {
	// Dirs are the output directories of the three sinks.
	Dirs output.Dirs

	// LogsDir enables the per-worker LOG-<w>.log file when non-empty.
	LogsDir string

	// Mode selects block or file tokenization.
	Mode tokenizer.Mode

	// ProjIDPrefix is prepended to project ordinals in every row.
	ProjIDPrefix int64

	// IDMultiplier is the size of each worker's file-id partition.
	IDMultiplier int64

	// BaseFileID is run.init_file_id.
	BaseFileID int64

	// BatchTimeout bounds one batch; zero disables the deadline.
	BatchTimeout time.Duration

	// RunID is recorded in the ledger.
	RunID string
}

// Toolkit holds the shared, read-only pipeline stages.
type Toolkit struct {
	Reader     *archive.Reader
	Normalizer *normalize.Normalizer
	Tokenizer  *tokens.Tokenizer

	// Extractor finds blocks in block mode. Unused in file mode.
	Extractor ast.Extractor

	// Ledger is optional.
	Ledger *ledger.Ledger

	// Logger is the parent logger; nil means discard.
	Logger *logging.Logger

	// Metrics is optional; nil uses telemetry.Global.
	Metrics *telemetry.Metrics
}

// Batch is one unit of work handed out by the pool.
type Batch struct {
	// Worker is the worker id, in [0, P).
	Worker int

	// Running is the number of file ids the worker consumed before this batch.
	Running int64

	// Projects are processed in order.
	Projects []tokenizer.Project
}

// Completion is posted once per Run.
type Completion struct {
	Worker int

	// FilesProcessed is the number of file ids consumed by the batch.
	FilesProcessed int64

	// Projects is the number of projects the batch started.
	Projects int

	// Err is set when the batch ended early (panic, deadline, id space,
	// cancellation, unusable output files).
	Err error

	// Unprocessed are the projects the batch never started.
	Unprocessed []tokenizer.Project
}

// Worker runs batches. One Worker value may serve any number of
// concurrent Run calls with different worker ids.
type Worker struct {
	settings Settings
	kit      Toolkit
}

// New validates the toolkit and returns a Worker.
func New(settings Settings, kit Toolkit) (*Worker, error) {
	if kit.Reader == nil || kit.Normalizer == nil || kit.Tokenizer == nil {
		return nil, errors.New("worker: reader, normalizer and tokenizer are required")
	}
	if settings.Mode == tokenizer.ModeBlock && kit.Extractor == nil {
		return nil, errors.New("worker: block mode requires an extractor")
	}
	if settings.IDMultiplier <= 0 {
		settings.IDMultiplier = ids.DefaultMultiplier
	}
	if kit.Logger == nil {
		kit.Logger = logging.Discard()
	}
	if kit.Metrics == nil {
		kit.Metrics = telemetry.Global()
	}
	return &Worker{settings: settings, kit: kit}, nil
}

// batchRun is the mutable state of one Run call.
type batchRun struct {
	*Worker
	id      int
	running int64
	log     *logging.Logger
	logFile *logging.Logger
	out     *output.Writer
	alloc   *ids.Allocator
	files   int64
	nextUp  int
	started int
}

// Run processes b and posts its Completion to done.
//
// Description:
//
//	Projects are processed sequentially. Per-file and per-project failures
//	are logged and never end the batch. The batch ends early on context
//	cancellation, on the batch deadline, when the id partition is exhausted
//	or on a panic; projects not yet started are then returned in
//	Completion.Unprocessed. Output buffers are flushed before the
//	completion is posted.
//
// Thread Safety: safe to call concurrently for distinct worker ids. Two
// concurrent calls with the same worker id would share output files.
func (w *Worker) Run(ctx context.Context, b Batch, done chan<- Completion) {
	started := time.Now()
	run := &batchRun{Worker: w, id: b.Worker, running: b.Running, log: w.kit.Logger}

	var c Completion
	defer func() {
		if r := recover(); r != nil {
			c.Err = fmt.Errorf("worker %d panicked: %v", b.Worker, r)
			run.log.Error("worker panic recovered",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		run.finish(ctx, started)
		c.Worker = b.Worker
		c.FilesProcessed = run.files
		c.Projects = run.started
		if c.Err != nil && run.nextUp < len(b.Projects) {
			c.Unprocessed = append([]tokenizer.Project(nil), b.Projects[run.nextUp:]...)
		}
		done <- c
	}()

	c.Err = run.process(ctx, b)
}

func (r *batchRun) process(ctx context.Context, b Batch) error {
	if r.settings.LogsDir != "" {
		teed, err := r.log.Tee(filepath.Join(r.settings.LogsDir, fmt.Sprintf("LOG-%d.log", b.Worker)))
		if err != nil {
			r.log.Warn("worker log file disabled", "worker", b.Worker, "error", err.Error())
		} else {
			r.log = teed
			r.logFile = teed
		}
	}
	r.log = r.log.With("worker", b.Worker)
	r.kit.Metrics.WorkerStarted(ctx)

	ctx, span := telemetry.StartSpan(ctx, "Worker.Batch", trace.WithAttributes(
		attribute.Int("worker", b.Worker),
		attribute.Int("batch.projects", len(b.Projects)),
		attribute.Int64("batch.running", b.Running),
	))
	defer span.End()

	alloc, err := ids.NewAllocator(b.Worker, r.settings.IDMultiplier, r.settings.BaseFileID, b.Running)
	if err != nil {
		telemetry.RecordError(span, err)
		r.log.Error("cannot allocate file ids, batch dropped", "error", err.Error())
		r.nextUp = len(b.Projects)
		return err
	}
	r.alloc = alloc

	out, err := output.Open(r.settings.Dirs, b.Worker)
	if err != nil {
		err = tokenizer.NewError(tokenizer.KindStartup, "open output", r.settings.Dirs.Stats, err)
		telemetry.RecordError(span, err)
		r.log.Error("cannot open output files, batch dropped", "error", err.Error())
		// Re-queueing would fail the same way on this worker.
		r.nextUp = len(b.Projects)
		return err
	}
	r.out = out

	// The deadline starts after setup and is only checked between
	// projects, so every batch starts at least one project.
	bctx := ctx
	if r.settings.BatchTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, r.settings.BatchTimeout)
		defer cancel()
	}

	r.log.Debug("batch started", "projects", len(b.Projects), "running", b.Running)
	for i, p := range b.Projects {
		err := ctx.Err()
		if err == nil && i > 0 {
			err = bctx.Err()
		}
		if err != nil {
			r.log.Warn("batch interrupted", "error", err.Error(), "remaining", len(b.Projects)-r.nextUp)
			telemetry.RecordError(span, err)
			return err
		}
		r.nextUp++
		r.started++
		if err := r.project(bctx, p); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	return nil
}

// finish closes the sinks and the worker log and records metrics.
func (r *batchRun) finish(ctx context.Context, started time.Time) {
	if r.alloc != nil {
		r.files = r.alloc.Count() - r.running
	}
	if r.out != nil {
		if err := r.out.Close(); err != nil {
			r.log.Error("flush output failed", "error", err.Error())
		}
	}
	elapsed := time.Since(started)
	r.kit.Metrics.RecordBatch(context.WithoutCancel(ctx), r.id, elapsed)
	r.kit.Metrics.WorkerStopped(context.WithoutCancel(ctx))
	r.log.Debug("batch finished", "files", r.files, "elapsed", elapsed.String())
	if r.logFile != nil {
		if err := r.logFile.Close(); err != nil {
			r.kit.Logger.Warn("close worker log failed", "worker", r.id, "error", err.Error())
		}
	}
}

// project processes one archive. The returned error ends the batch; every
// other failure is logged here.
func (r *batchRun) project(ctx context.Context, p tokenizer.Project) error {
	key := p.Key(r.settings.ProjIDPrefix)
	log := r.log.With("project", key)
	before := r.alloc.Count()
	started := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "Worker.Project", trace.WithAttributes(
		attribute.String("project.id", key),
		attribute.String("project.path", p.Path),
		attribute.String("project.format", string(p.Format)),
	))
	defer span.End()

	log.Info("project started", "path", p.Path)
	stats, err := r.kit.Reader.Walk(ctx, p, func(ctx context.Context, e archive.Entry) error {
		return r.file(ctx, log, p, key, e)
	})
	files := r.alloc.Count() - before

	status := ledger.ProjectDone
	var stop error
	switch {
	case err == nil:
	case errors.Is(err, tokenizer.ErrArchiveMissing):
		status = ledger.ProjectMissing
		log.Warn("project not found", "path", p.Path)
	case tokenizer.IsKind(err, tokenizer.KindIDSpace) && files == 0:
		// Nothing was written; hand the project back untouched.
		r.nextUp--
		r.started--
		log.Error("file id partition exhausted, project returned", "error", err.Error())
		telemetry.RecordError(span, err)
		return err
	case tokenizer.IsKind(err, tokenizer.KindIDSpace):
		status = ledger.ProjectFailed
		stop = err
		log.Error("file id partition exhausted", "error", err.Error(), "files", files)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = ledger.ProjectFailed
		stop = err
		log.Warn("project interrupted", "error", err.Error(), "files", files)
	default:
		status = ledger.ProjectFailed
		log.Error("project failed", "path", p.Path, "error", err.Error())
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}

	if status != ledger.ProjectMissing {
		if werr := r.out.WriteProject(key, p.Path); werr != nil {
			log.Error("write bookkeeping row failed", "error", werr.Error())
		}
	}
	r.record(ctx, log, p, key, files, status, err)

	span.SetAttributes(attribute.Int64("project.files", files))
	log.Info("project finished",
		"status", string(status),
		"files", files,
		"entries", stats.Entries,
		"skipped", stats.Skipped,
		"elapsed", time.Since(started).String())
	return stop
}

// record writes the ledger entry and the project metric.
func (r *batchRun) record(ctx context.Context, log *logging.Logger, p tokenizer.Project, key string, files int64, status ledger.ProjectStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	r.kit.Metrics.RecordProject(ctx, string(status))
	if r.kit.Ledger == nil {
		return
	}
	rec := ledger.ProjectRecord{
		ProjectID:  key,
		Path:       p.Path,
		RunID:      r.settings.RunID,
		Worker:     r.id,
		Files:      files,
		Status:     status,
		FinishedAt: time.Now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := r.kit.Ledger.RecordProject(ctx, rec); err != nil {
		log.Warn("ledger write failed", "error", err.Error())
	}
}

// file is the archive visitor. Only id exhaustion and context errors are
// returned; everything else skips the file.
func (r *batchRun) file(ctx context.Context, log *logging.Logger, p tokenizer.Project, key string, e archive.Entry) error {
	fileID, err := r.alloc.Next()
	if err != nil {
		return err
	}
	path := joinEntryPath(p.Path, e.Path)

	text, err := r.kit.Normalizer.Normalize(e.Content)
	if err != nil {
		r.kit.Metrics.RecordFile(ctx, "skipped")
		log.Warn("file skipped", "file", path, "file_id", fileID, "error", err.Error())
		return nil
	}
	row := output.FileRow{
		Project: key,
		FileID:  fileID,
		Path:    path,
		Hash:    text.Hash,
		Bytes:   e.Size,
		Lines:   text.Lines,
		LOC:     text.LOC,
		SLOC:    text.SLOC,
	}

	if r.settings.Mode == tokenizer.ModeFile {
		rec := r.kit.Tokenizer.Tokenize(text.Clean)
		err = errors.Join(r.out.WriteFile(row), r.out.WriteFileTokens(key, fileID, rec))
		if err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		r.kit.Metrics.RecordFile(ctx, "emitted")
		return nil
	}

	res, err := r.kit.Extractor.Extract(ctx, e.Content, e.Path)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		r.kit.Metrics.RecordFile(ctx, "unparseable")
		err = tokenizer.NewError(tokenizer.KindBlockExtraction, "extract", path, err)
		log.Warn("file unparseable", "file", path, "file_id", fileID, "error", err.Error())
		return nil
	}
	if n := len(res.Blocks); n > ids.MaxBlocksPerFile {
		r.kit.Metrics.RecordFile(ctx, "overflow")
		err = tokenizer.NewError(tokenizer.KindOverflow, "extract", path, tokenizer.ErrTooManyBlocks)
		log.Warn("file discarded: block limit exceeded",
			"file", path, "file_id", fileID, "blocks", n, "limit", ids.MaxBlocksPerFile, "error", err.Error())
		return nil
	}

	if err := r.out.WriteFile(row); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	for i, block := range res.Blocks {
		id, err := ids.NewBlockID(fileID, i)
		if err != nil {
			return err
		}
		stats := r.kit.Normalizer.NormalizeString(block.Body)
		rec := r.kit.Tokenizer.Tokenize(stats.Clean)
		err = errors.Join(
			r.out.WriteBlock(output.BlockRow{
				Project:   key,
				ID:        id,
				Hash:      stats.Hash,
				Lines:     stats.Lines,
				LOC:       stats.LOC,
				SLOC:      stats.SLOC,
				StartLine: block.StartLine,
				EndLine:   block.EndLine,
			}),
			r.out.WriteBlockTokens(key, id, block.Name, rec),
		)
		if err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	r.kit.Metrics.AddBlocks(ctx, len(res.Blocks))
	r.kit.Metrics.RecordFile(ctx, "emitted")
	return nil
}

// joinEntryPath joins an archive path and an entry path without cleaning,
// so gs:// prefixes survive.
func joinEntryPath(archivePath, entry string) string {
	return strings.TrimSuffix(archivePath, "/") + "/" + strings.TrimPrefix(entry, "/")
}
