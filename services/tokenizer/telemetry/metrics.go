// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pipeline instruments.
//
// All metrics use the "corpustok_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// ProjectsTotal counts finished projects by status (done, missing, failed).
	ProjectsTotal metric.Int64Counter

	// FilesTotal counts matching archive entries by outcome.
	FilesTotal metric.Int64Counter

	// BlocksTotal counts emitted blocks.
	BlocksTotal metric.Int64Counter

	// BatchDuration records how long one worker batch took, in seconds.
	BatchDuration metric.Float64Histogram

	// ActiveWorkers tracks running workers.
	ActiveWorkers metric.Int64UpDownCounter
}

// NewMetrics registers all instruments with meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ProjectsTotal, err = meter.Int64Counter(
		"corpustok_projects_total",
		metric.WithDescription("Finished projects by status"),
		metric.WithUnit("{project}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create projects_total: %w", err)
	}

	m.FilesTotal, err = meter.Int64Counter(
		"corpustok_files_total",
		metric.WithDescription("Matching files by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create files_total: %w", err)
	}

	m.BlocksTotal, err = meter.Int64Counter(
		"corpustok_blocks_total",
		metric.WithDescription("Emitted blocks"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create blocks_total: %w", err)
	}

	m.BatchDuration, err = meter.Float64Histogram(
		"corpustok_batch_duration_seconds",
		metric.WithDescription("Worker batch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch_duration: %w", err)
	}

	m.ActiveWorkers, err = meter.Int64UpDownCounter(
		"corpustok_active_workers",
		metric.WithDescription("Currently running workers"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_workers: %w", err)
	}

	return m, nil
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// Global returns instruments built from otel.Meter("corpustok").
//
// Init must run first for the instruments to reach an exporter. On
// registration failure the instruments come from a no-op meter.
func Global() *Metrics {
	globalMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.Meter("corpustok"))
		if err != nil {
			m, _ = NewMetrics(noopMeter())
		}
		globalMetrics = m
	})
	return globalMetrics
}

// RecordProject counts one finished project.
func (m *Metrics) RecordProject(ctx context.Context, status string) {
	m.ProjectsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFile counts one file outcome ("emitted", "skipped", "unparseable", "overflow").
func (m *Metrics) RecordFile(ctx context.Context, outcome string) {
	m.FilesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AddBlocks counts emitted blocks.
func (m *Metrics) AddBlocks(ctx context.Context, n int) {
	if n > 0 {
		m.BlocksTotal.Add(ctx, int64(n))
	}
}

// RecordBatch records a worker batch duration.
func (m *Metrics) RecordBatch(ctx context.Context, worker int, d time.Duration) {
	m.BatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Int("worker", worker)))
}

// WorkerStarted and WorkerStopped track the active worker gauge.
func (m *Metrics) WorkerStarted(ctx context.Context) { m.ActiveWorkers.Add(ctx, 1) }
func (m *Metrics) WorkerStopped(ctx context.Context) { m.ActiveWorkers.Add(ctx, -1) }
