// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the bandit service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/datatypes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/history"
	"github.com/AleutianAI/AleutianBandit/services/bandit/middleware"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

var banditTracer = otel.Tracer("aleutian.bandit.handlers")

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Store    storage.Store
	Sampler  *ab.Sampler
	Recorder history.Recorder
	Metrics  *observability.Metrics

	// Shards is applied to per-request samplers built from query overrides.
	Shards int

	// MaxSamples caps the samples query parameter.
	MaxSamples int

	// Confidence and ZMode configure GET /metrics intervals.
	Confidence float64
	ZMode      ab.ZMode

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) recorder() history.Recorder {
	if d.Recorder == nil {
		return history.NopRecorder{}
	}
	return d.Recorder
}

// Root describes the service.
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Multi-Armed Bandit Optimization API",
		"docs":    "/",
		"endpoints": gin.H{
			"POST /data":       "Submit daily experiment metrics",
			"GET /allocation":  "Get allocation percentages for the next day",
			"GET /metrics":     "Get experiment metrics (CTR, confidence intervals)",
			"GET /experiments": "List known experiments",
		},
	})
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// abortWithError logs, counts and writes an error body.
func abortWithError(c *gin.Context, d *Deps, endpoint observability.Endpoint, status int, detail string, err error) {
	d.Metrics.ObserveError(endpoint, err)
	attrs := []any{
		"endpoint", string(endpoint),
		"status", status,
		"request_id", middleware.GetRequestID(c),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
	} else {
		slog.Warn("request rejected", attrs...)
	}
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Detail: detail})
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ab.ErrEmptyInput), errors.Is(err, ab.ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrInvalidRecord), errors.Is(err, observability.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
