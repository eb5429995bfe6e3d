// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status serves the live pool state over HTTP.
//
// Routes:
//
//	GET /healthz    - liveness
//	GET /v1/status  - pool snapshot
//	GET /metrics    - Prometheus exposition (404 unless the prometheus
//	                  metric exporter is enabled)
package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/corpustok/services/tokenizer/pool"
)

// SnapshotSource provides the pool state. *pool.Pool implements it.
type SnapshotSource interface {
	Snapshot() pool.Snapshot
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Pool pool.Snapshot `json:"pool"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	source  SnapshotSource
	metrics http.Handler
	version string
	started time.Time
}

// NewHandlers creates the handlers. metrics may be nil.
func NewHandlers(source SnapshotSource, metrics http.Handler, version string) *Handlers {
	return &Handlers{
		source:  source,
		metrics: metrics,
		version: version,
		started: time.Now(),
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleStatus returns the current pool snapshot.
func (h *Handlers) HandleStatus(c *gin.Context) {
	if h.source == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "pool not started"})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Pool: h.source.Snapshot()})
}

// HandleMetrics delegates to the Prometheus handler.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "prometheus exporter not enabled"})
		return
	}
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers every route on r.
func RegisterRoutes(r gin.IRoutes, h *Handlers) {
	r.GET("/healthz", h.HandleHealth)
	r.GET("/v1/status", h.HandleStatus)
	r.GET("/metrics", h.HandleMetrics)
}

// NewRouter returns a gin engine with recovery and every route.
func NewRouter(h *Handlers, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	RegisterRoutes(router, h)
	return router
}
