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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for block extraction.
var (
	tracer = otel.Tracer("corpustok.ast")
	meter  = otel.Meter("corpustok.ast")
)

// Metrics for extraction operations.
var (
	extractLatency  metric.Float64Histogram
	extractTotal    metric.Int64Counter
	blocksExtracted metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		extractLatency, err = meter.Float64Histogram(
			"corpustok_extract_duration_seconds",
			metric.WithDescription("Duration of block extraction per file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		extractTotal, err = meter.Int64Counter(
			"corpustok_extract_total",
			metric.WithDescription("Total number of extraction operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		blocksExtracted, err = meter.Int64Histogram(
			"corpustok_blocks_per_file",
			metric.WithDescription("Number of blocks extracted per file"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordExtractMetrics records one extraction.
func recordExtractMetrics(ctx context.Context, language string, duration time.Duration, blocks int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	extractLatency.Record(ctx, duration.Seconds(), attrs)
	extractTotal.Add(ctx, 1, attrs)

	if success {
		blocksExtracted.Record(ctx, int64(blocks),
			metric.WithAttributes(attribute.String("language", language)),
		)
	}
}

// startExtractSpan creates a span for one extraction. Caller must End it.
func startExtractSpan(ctx context.Context, language, path string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Extractor.Extract",
		trace.WithAttributes(
			attribute.String("ast.language", language),
			attribute.String("ast.file", path),
			attribute.Int("ast.content_size", size),
		),
	)
}

func setExtractSpanResult(span trace.Span, blocks int, err error) {
	span.SetAttributes(attribute.Int("ast.block_count", blocks))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
