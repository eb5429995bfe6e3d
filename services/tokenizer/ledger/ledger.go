// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixProject = "project/"
	prefixWorker  = "worker/"
	prefixRun     = "run/"
)

// ProjectStatus is the outcome of one project.
type ProjectStatus string

const (
	ProjectDone    ProjectStatus = "done"
	ProjectMissing ProjectStatus = "missing"
	ProjectFailed  ProjectStatus = "failed"
)

// ProjectRecord is stored under project/<proj_id>.
type ProjectRecord struct {
	ProjectID  string        `json:"project_id"`
	Path       string        `json:"path"`
	RunID      string        `json:"run_id"`
	Worker     int           `json:"worker"`
	Files      int64         `json:"files"`
	Status     ProjectStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// WorkerMark is stored under worker/<w>.
type WorkerMark struct {
	Worker int `json:"worker"`

	// NextOffset is init_file_id plus the worker's running count: the
	// smallest in-partition offset the worker never handed out.
	NextOffset int64 `json:"next_offset"`

	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunSummary is stored under run/<run_id>.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Processes    int       `json:"processes"`
	InitFileID   int64     `json:"init_file_id"`
	IDMultiplier int64     `json:"id_multiplier"`
	Projects     int       `json:"projects"`
	Files        int64     `json:"files"`
	Status       string    `json:"status"`
}

// Ledger is the run ledger.
//
// Thread Safety: safe for concurrent use; keys written by different
// workers are disjoint.
type Ledger struct {
	db *badger.DB
	gc *gcRunner
}

// Open opens the ledger described by cfg.
func Open(cfg Config) (*Ledger, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	l := &Ledger{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		l.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return l, nil
}

// Close stops garbage collection and closes the database.
func (l *Ledger) Close() error {
	if l.gc != nil {
		l.gc.stop()
		l.gc = nil
	}
	return l.db.Close()
}

// RecordProject stores the outcome of one project, replacing any earlier
// record for the same project id.
func (l *Ledger) RecordProject(ctx context.Context, rec ProjectRecord) error {
	if rec.ProjectID == "" {
		return errors.New("project id is required")
	}
	return l.put(ctx, prefixProject+rec.ProjectID, rec)
}

// Project returns the record of one project.
func (l *Ledger) Project(ctx context.Context, projectID string) (ProjectRecord, bool, error) {
	var rec ProjectRecord
	found, err := l.get(ctx, prefixProject+projectID, &rec)
	return rec, found, err
}

// CountProjects returns the number of stored project records by status.
func (l *Ledger) CountProjects(ctx context.Context) (map[ProjectStatus]int, error) {
	counts := make(map[ProjectStatus]int)
	err := l.scan(ctx, prefixProject, func(val []byte) error {
		var rec ProjectRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		counts[rec.Status]++
		return nil
	})
	return counts, err
}

// RecordWorker raises the stored mark of mark.Worker to mark.NextOffset.
// A lower offset never replaces a higher one.
func (l *Ledger) RecordWorker(ctx context.Context, mark WorkerMark) error {
	key := []byte(prefixWorker + strconv.Itoa(mark.Worker))
	return update(ctx, l.db, func(txn *badger.Txn) error {
		var prev WorkerMark
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err != nil {
				return fmt.Errorf("decode worker mark: %w", err)
			}
			if prev.NextOffset > mark.NextOffset {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		data, err := json.Marshal(mark)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// Workers returns every stored worker mark ordered by worker id.
func (l *Ledger) Workers(ctx context.Context) ([]WorkerMark, error) {
	var marks []WorkerMark
	err := l.scan(ctx, prefixWorker, func(val []byte) error {
		var m WorkerMark
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		marks = append(marks, m)
		return nil
	})
	sort.Slice(marks, func(i, j int) bool { return marks[i].Worker < marks[j].Worker })
	return marks, err
}

// RecordRun stores a run summary.
func (l *Ledger) RecordRun(ctx context.Context, run RunSummary) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	return l.put(ctx, prefixRun+run.RunID, run)
}

// Runs returns every stored run ordered by start time.
func (l *Ledger) Runs(ctx context.Context) ([]RunSummary, error) {
	var runs []RunSummary
	err := l.scan(ctx, prefixRun, func(val []byte) error {
		var r RunSummary
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		runs = append(runs, r)
		return nil
	})
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })
	return runs, err
}

// SuggestInitFileID returns the smallest init_file_id that cannot reuse a
// file id handed out by any recorded worker.
//
// Every worker's ids live at w*M + offset, so a new run is safe when its
// base offset is at least the highest NextOffset recorded for any worker.
func (l *Ledger) SuggestInitFileID(ctx context.Context) (int64, error) {
	marks, err := l.Workers(ctx)
	if err != nil {
		return 0, err
	}
	var next int64
	for _, m := range marks {
		if m.NextOffset > next {
			next = m.NextOffset
		}
	}
	return next, nil
}

func (l *Ledger) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return update(ctx, l.db, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (l *Ledger) get(ctx context.Context, key string, v any) (bool, error) {
	found := false
	err := view(ctx, l.db, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
	})
	return found, err
}

func (l *Ledger) scan(ctx context.Context, prefix string, fn func(val []byte) error) error {
	return view(ctx, l.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}
