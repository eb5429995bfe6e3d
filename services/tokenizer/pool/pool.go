// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool runs the fixed-size worker pool.
//
// The pool is a single goroutine that hands batches to P workers over one
// completion channel of capacity P:
//
//  1. The channel is pre-seeded with one empty completion per worker id.
//  2. Each received completion is folded into the worker's running file
//     count and the global totals; the worker id is then re-used for the
//     next batch.
//  3. Once the supply is empty the loop keeps receiving until every slot
//     is idle.
//
// At most P completions are ever outstanding, so workers never block on
// the send.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/ledger"
	"github.com/AleutianAI/corpustok/services/tokenizer/telemetry"
	"github.com/AleutianAI/corpustok/services/tokenizer/worker"
)

// ProgressInterval is the minimum time between two progress log lines.
const ProgressInterval = 10 * time.Second

// Runner runs one batch and posts exactly one completion. *worker.Worker
// implements it.
type Runner interface {
	Run(ctx context.Context, b worker.Batch, done chan<- worker.Completion)
}

// Config configures a Pool.
type Config struct {
	// Processes is the pool size P.
	Processes int

	// ProjectsBatch is the maximum number of projects per batch.
	ProjectsBatch int

	// BaseFileID is run.init_file_id; only used for ledger marks.
	BaseFileID int64

	// IDMultiplier is recorded in the run summary.
	IDMultiplier int64

	// StallWarning enables the heartbeat warning; zero disables it.
	StallWarning time.Duration

	// RunID identifies the run in the ledger.
	RunID string
}

// Option configures optional Pool collaborators.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithLedger records worker marks and the run summary in l.
func WithLedger(l *ledger.Ledger) Option {
	return func(p *Pool) { p.ledger = l }
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Processes   int       `json:"processes"`
	Spawns      int       `json:"spawns"`
	Completions int       `json:"completions"`
	Projects    int       `json:"projects"`
	Pending     int       `json:"pending"`
	Requeued    int       `json:"requeued"`
	Dropped     int       `json:"dropped"`
	Files       int64     `json:"files"`
	Errors      int       `json:"errors"`

	// Active lists the busy worker ids.
	Active []int `json:"active"`

	// Running is the file count consumed by each worker.
	Running []int64 `json:"running"`

	// Retired lists worker ids whose file-id partition is exhausted;
	// they receive no further batches.
	Retired  []int `json:"retired"`
	Finished bool  `json:"finished"`
}

// Pool is the orchestrator. A Pool runs once.
type Pool struct {
	cfg    Config
	runner Runner
	logger *logging.Logger
	ledger *ledger.Ledger

	progress rate.Sometimes

	mu   sync.Mutex
	snap Snapshot
	ran  bool
}

// New validates cfg and returns a Pool.
func New(cfg Config, runner Runner, opts ...Option) (*Pool, error) {
	if cfg.Processes < 1 {
		return nil, fmt.Errorf("pool: processes must be >= 1, got %d", cfg.Processes)
	}
	if cfg.ProjectsBatch < 1 {
		return nil, fmt.Errorf("pool: projects batch must be >= 1, got %d", cfg.ProjectsBatch)
	}
	if runner == nil {
		return nil, errors.New("pool: runner is required")
	}
	p := &Pool{
		cfg:      cfg,
		runner:   runner,
		progress: rate.Sometimes{Interval: ProgressInterval},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.snap = Snapshot{
		RunID:     cfg.RunID,
		Processes: cfg.Processes,
		Active:    []int{},
		Running:   make([]int64, cfg.Processes),
		Retired:   []int{},
	}
	return p, nil
}

// Snapshot returns a copy of the current pool state. Safe to call from
// any goroutine.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.snap
	s.Active = append([]int(nil), p.snap.Active...)
	s.Running = append([]int64(nil), p.snap.Running...)
	s.Retired = append([]int(nil), p.snap.Retired...)
	return s
}

// Run processes every project and returns the final snapshot.
//
// Description:
//
//	Priority projects are dispatched first, one per batch. Projects a
//	worker reports as unprocessed go back to the front of the supply
//	unless ctx is done. A worker that reports an exhausted file-id
//	partition is retired and gets no further batches; a batch that
//	started no project for any other reason has its projects dropped.
//	Cancelling ctx stops dispatching; Run still waits for every busy
//	worker before returning.
//
// Outputs:
//
//	Snapshot - Final totals.
//	error - ctx.Err() when the run was cancelled, nil otherwise.
//	        Per-project and per-batch failures are only logged.
func (p *Pool) Run(ctx context.Context, priority, regular []tokenizer.Project) (Snapshot, error) {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return Snapshot{}, errors.New("pool: Run called twice")
	}
	p.ran = true
	p.snap.StartedAt = time.Now().UTC()
	p.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "Pool.Run", trace.WithAttributes(
		attribute.Int("pool.processes", p.cfg.Processes),
		attribute.Int("pool.projects", len(priority)+len(regular)),
	))
	defer span.End()

	queue := newSupply(priority, regular)
	workers := p.cfg.Processes
	done := make(chan worker.Completion, workers)
	for w := 0; w < workers; w++ {
		done <- worker.Completion{Worker: w}
	}
	active := make([]bool, workers)
	running := make([]int64, workers)
	retired := make([]bool, workers)
	outstanding := workers

	p.update(func(s *Snapshot) { s.Pending = queue.len() })
	p.logger.Info("pool started",
		"processes", workers,
		"batch", p.cfg.ProjectsBatch,
		"priority", len(priority),
		"projects", len(priority)+len(regular))

	for outstanding > 0 {
		c := p.receive(done, active)
		outstanding--
		p.fold(ctx, c, queue, active, running, retired)

		if queue.len() == 0 || ctx.Err() != nil {
			continue
		}
		w := c.Worker
		if retired[w] {
			if w = idleWorker(active, retired); w < 0 {
				continue
			}
		}
		batch := queue.next(p.cfg.ProjectsBatch)
		active[w] = true
		p.update(func(s *Snapshot) {
			s.Spawns++
			s.Pending = queue.len()
			s.Active = activeIDs(active)
		})
		p.logger.Debug("batch dispatched", "worker", w, "projects", len(batch), "running", running[w])
		go p.runner.Run(ctx, worker.Batch{Worker: w, Running: running[w], Projects: batch}, done)
		outstanding++
	}

	if n := queue.len(); n > 0 {
		p.update(func(s *Snapshot) { s.Dropped += n })
		p.logger.Warn("projects not dispatched", "count", n)
	}
	p.update(func(s *Snapshot) {
		s.Finished = true
		s.Pending = 0
	})
	final := p.Snapshot()
	p.recordRun(ctx, final)
	p.logProgress(final, true)

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return final, err
	}
	return final, nil
}

// receive blocks for the next completion, warning every StallWarning
// while none arrives.
func (p *Pool) receive(done <-chan worker.Completion, active []bool) worker.Completion {
	if p.cfg.StallWarning <= 0 {
		return <-done
	}
	timer := time.NewTimer(p.cfg.StallWarning)
	defer timer.Stop()
	for {
		select {
		case c := <-done:
			return c
		case <-timer.C:
			p.logger.Warn("no worker completed recently",
				"waited", p.cfg.StallWarning.String(),
				"busy_workers", activeIDs(active))
			timer.Reset(p.cfg.StallWarning)
		}
	}
}

// fold applies one completion to the pool state.
func (p *Pool) fold(ctx context.Context, c worker.Completion, queue *supply, active []bool, running []int64, retired []bool) {
	w := c.Worker
	wasActive := active[w]
	active[w] = false
	if wasActive {
		running[w] += c.FilesProcessed
	}

	exhausted := wasActive && tokenizer.IsKind(c.Err, tokenizer.KindIDSpace)
	if exhausted && !retired[w] {
		retired[w] = true
		p.logger.Error("worker retired: file id partition exhausted",
			"worker", w, "running", running[w])
	}

	requeued, dropped := 0, 0
	if len(c.Unprocessed) > 0 {
		switch {
		case ctx.Err() != nil:
			dropped = len(c.Unprocessed)
		case wasActive && c.Projects == 0 && !exhausted:
			// Requeueing a batch that cannot start a project would
			// dispatch it forever.
			dropped = len(c.Unprocessed)
			p.logger.Error("batch started no project, projects dropped",
				"worker", w, "dropped", dropped)
		default:
			queue.requeue(c.Unprocessed)
			requeued = len(c.Unprocessed)
		}
	}

	if c.Err != nil {
		p.logger.Warn("batch ended early",
			"worker", w,
			"error", c.Err.Error(),
			"requeued", requeued,
			"dropped", dropped)
	}

	p.update(func(s *Snapshot) {
		if wasActive {
			s.Completions++
			s.Projects += c.Projects
		}
		if c.Err != nil {
			s.Errors++
		}
		s.Files += c.FilesProcessed
		s.Requeued += requeued
		s.Dropped += dropped
		s.Pending = queue.len()
		s.Running[w] = running[w]
		s.Active = activeIDs(active)
		s.Retired = activeIDs(retired)
	})

	if wasActive {
		p.recordWorker(ctx, w, running[w])
	}
	p.progress.Do(func() { p.logProgress(p.Snapshot(), false) })
}

func (p *Pool) update(fn func(s *Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	p.mu.Unlock()
}

func (p *Pool) logProgress(s Snapshot, final bool) {
	msg := "pool progress"
	if final {
		msg = "pool finished"
	}
	p.logger.Info(msg,
		"spawns", s.Spawns,
		"completions", s.Completions,
		"projects", s.Projects,
		"files", s.Files,
		"pending", s.Pending,
		"active", len(s.Active),
		"requeued", s.Requeued,
		"dropped", s.Dropped,
		"errors", s.Errors,
		"elapsed", time.Since(s.StartedAt).Round(time.Millisecond).String())
}

// recordWorker raises the ledger high-water mark of worker w.
func (p *Pool) recordWorker(ctx context.Context, w int, running int64) {
	if p.ledger == nil {
		return
	}
	mark := ledger.WorkerMark{
		Worker:     w,
		NextOffset: p.cfg.BaseFileID + running,
		RunID:      p.cfg.RunID,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := p.ledger.RecordWorker(context.WithoutCancel(ctx), mark); err != nil {
		p.logger.Warn("ledger worker mark failed", "worker", w, "error", err.Error())
	}
}

func (p *Pool) recordRun(ctx context.Context, s Snapshot) {
	if p.ledger == nil {
		return
	}
	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	run := ledger.RunSummary{
		RunID:        p.cfg.RunID,
		StartedAt:    s.StartedAt,
		FinishedAt:   time.Now().UTC(),
		Processes:    p.cfg.Processes,
		InitFileID:   p.cfg.BaseFileID,
		IDMultiplier: p.cfg.IDMultiplier,
		Projects:     s.Projects,
		Files:        s.Files,
		Status:       status,
	}
	if err := p.ledger.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn("ledger run summary failed", "error", err.Error())
	}
}

// idleWorker returns a worker that is neither busy nor retired, or -1.
func idleWorker(active, retired []bool) int {
	for w := range active {
		if !active[w] && !retired[w] {
			return w
		}
	}
	return -1
}

// activeIDs returns the indexes of the set flags.
func activeIDs(flags []bool) []int {
	ids := make([]int, 0, len(flags))
	for w, set := range flags {
		if set {
			ids = append(ids, w)
		}
	}
	return ids
}
