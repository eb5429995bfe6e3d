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
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // deliberately nil
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Disabled(t *testing.T) {
	setup, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, setup.MetricsHandler())
	assert.NoError(t, setup.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"trace", Config{TraceExporter: "jaeger"}},
		{"metric", Config{MetricExporter: "statsd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, ErrUnknownExporter)
		})
	}
}

func TestInit_Prometheus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "prometheus"
	setup, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer setup.Shutdown(context.Background())

	require.NotNil(t, setup.MetricsHandler())

	m := Global()
	m.RecordProject(context.Background(), "done")

	rec := httptest.NewRecorder()
	setup.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInit_PrometheusTwice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = "prometheus"
	for i := 0; i < 2; i++ {
		setup, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, setup.Shutdown(context.Background()))
	}
}

func TestInit_StdoutTrace(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.Output = &buf
	setup, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "test.span")
	span.End()
	require.NoError(t, setup.Shutdown(context.Background()))
	assert.True(t, strings.Contains(buf.String(), "test.span"))
}

func TestNewMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordProject(ctx, "done")
	m.RecordProject(ctx, "missing")
	m.RecordFile(ctx, "emitted")
	m.AddBlocks(ctx, 7)
	m.AddBlocks(ctx, 0)
	m.RecordBatch(ctx, 1, 2*time.Second)
	m.WorkerStarted(ctx)
	m.WorkerStopped(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
			if md.Name == "corpustok_blocks_total" {
				sum := md.Data.(metricdata.Sum[int64])
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(7), sum.DataPoints[0].Value)
			}
		}
	}
	for _, want := range []string{
		"corpustok_projects_total",
		"corpustok_files_total",
		"corpustok_blocks_total",
		"corpustok_batch_duration_seconds",
		"corpustok_active_workers",
	} {
		assert.True(t, names[want], want)
	}
}

func TestRecordError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}
