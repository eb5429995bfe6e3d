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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_Projects(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	require.NoError(t, l.RecordProject(ctx, ProjectRecord{ProjectID: "1", Path: "a.zip", Files: 3, Status: ProjectDone}))
	require.NoError(t, l.RecordProject(ctx, ProjectRecord{ProjectID: "2", Path: "b.zip", Status: ProjectMissing}))
	require.NoError(t, l.RecordProject(ctx, ProjectRecord{ProjectID: "3", Path: "c.zip", Status: ProjectDone}))

	rec, found, err := l.Project(ctx, "1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), rec.Files)

	_, found, err = l.Project(ctx, "99")
	require.NoError(t, err)
	assert.False(t, found)

	counts, err := l.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[ProjectStatus]int{ProjectDone: 2, ProjectMissing: 1}, counts)

	assert.Error(t, l.RecordProject(ctx, ProjectRecord{}))
}

func TestLedger_WorkerMarksOnlyIncrease(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	require.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: 0, NextOffset: 10}))
	require.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: 0, NextOffset: 7}))
	require.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: 1, NextOffset: 25}))
	require.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: 1, NextOffset: 30}))

	marks, err := l.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, marks, 2)
	assert.Equal(t, int64(10), marks[0].NextOffset)
	assert.Equal(t, int64(30), marks[1].NextOffset)

	next, err := l.SuggestInitFileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), next)
}

func TestLedger_SuggestInitFileID_Empty(t *testing.T) {
	next, err := openTest(t).SuggestInitFileID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, next)
}

func TestLedger_Runs(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, l.RecordRun(ctx, RunSummary{RunID: "b", StartedAt: t0.Add(time.Hour), Files: 5}))
	require.NoError(t, l.RecordRun(ctx, RunSummary{RunID: "a", StartedAt: t0, Files: 9}))

	runs, err := l.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
	assert.True(t, runs[0].StartedAt.Equal(t0))

	assert.Error(t, l.RecordRun(ctx, RunSummary{}))
}

func TestLedger_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := string(rune('a'+w)) + "-" + string(rune('a'+i))
				assert.NoError(t, l.RecordProject(ctx, ProjectRecord{ProjectID: id, Worker: w, Status: ProjectDone}))
				assert.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: w, NextOffset: int64(i + 1)}))
			}
		}(w)
	}
	wg.Wait()

	counts, err := l.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, counts[ProjectDone])

	next, err := l.SuggestInitFileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), next)
}

func TestLedger_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ledger")

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	l, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, l.RecordWorker(ctx, WorkerMark{Worker: 2, NextOffset: 42}))
	require.NoError(t, l.Close())

	l, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer l.Close()

	next, err := l.SuggestInitFileID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)
}

func TestLedger_CanceledContext(t *testing.T) {
	l := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.RecordRun(ctx, RunSummary{RunID: "x"}), context.Canceled)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
