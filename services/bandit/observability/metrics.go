// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the bandit service.
//
// # Description
//
// Metrics cover the allocation engine (runs, rounds, latency, errors) and
// metric ingestion (rows written). They are exposed at /internal/metrics
// because /metrics is the experiment metrics API.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	banditSubsystem  = "bandit"
)

// Metrics holds all Prometheus metrics for the bandit service.
type Metrics struct {
	// AllocationsTotal counts allocation requests.
	// Labels: status (success, error)
	AllocationsTotal *prometheus.CounterVec

	// AllocationDurationSeconds measures Monte Carlo run time.
	AllocationDurationSeconds prometheus.Histogram

	// SamplingRoundsTotal counts Monte Carlo rounds executed.
	SamplingRoundsTotal prometheus.Counter

	// ErrorsTotal counts failures by endpoint and error code.
	ErrorsTotal *prometheus.CounterVec

	// MetricRowsTotal counts daily metric rows ingested.
	MetricRowsTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the metrics on a private registry, together with Go
// runtime and process collectors.
//
// A private registry lets several services (or tests) coexist in one
// process without duplicate registration panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AllocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: banditSubsystem,
				Name:      "allocations_total",
				Help:      "Total allocation requests by status",
			},
			[]string{"status"},
		),
		AllocationDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: banditSubsystem,
				Name:      "allocation_duration_seconds",
				Help:      "Time spent in Thompson sampling per allocation",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SamplingRoundsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: banditSubsystem,
				Name:      "sampling_rounds_total",
				Help:      "Total Monte Carlo rounds executed",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: banditSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		MetricRowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: banditSubsystem,
				Name:      "metric_rows_total",
				Help:      "Total daily metric rows ingested",
			},
		),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAllocation records a successful allocation run.
func (m *Metrics) ObserveAllocation(alloc ab.Allocation) {
	if m == nil {
		return
	}
	m.AllocationsTotal.WithLabelValues("success").Inc()
	m.AllocationDurationSeconds.Observe(alloc.Duration.Seconds())
	m.SamplingRoundsTotal.Add(float64(alloc.Samples))
}

// ObserveError records a failure on an endpoint.
func (m *Metrics) ObserveError(endpoint Endpoint, err error) {
	if m == nil {
		return
	}
	if endpoint == EndpointAllocation {
		m.AllocationsTotal.WithLabelValues("error").Inc()
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(Classify(err))).Inc()
}

// ObserveIngest records rows written by POST /data.
func (m *Metrics) ObserveIngest(rows int) {
	if m == nil {
		return
	}
	m.MetricRowsTotal.Add(float64(rows))
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	ErrorCodeEmptyInput   ErrorCode = "empty_input"
	ErrorCodeInvalidCount ErrorCode = "invalid_count"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodeCancelled    ErrorCode = "cancelled"
	ErrorCodeInternal     ErrorCode = "internal"
)

// ErrValidation marks request validation failures for classification.
var ErrValidation = errors.New("validation failed")

// Classify maps an error to its metric code.
func Classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ab.ErrEmptyInput):
		return ErrorCodeEmptyInput
	case errors.Is(err, ab.ErrInvalidCount):
		return ErrorCodeInvalidCount
	case errors.Is(err, storage.ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, storage.ErrInvalidRecord):
		return ErrorCodeValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeCancelled
	default:
		return ErrorCodeInternal
	}
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels an HTTP endpoint in metrics.
type Endpoint string

const (
	EndpointAllocation  Endpoint = "allocation"
	EndpointMetrics     Endpoint = "metrics"
	EndpointData        Endpoint = "data"
	EndpointExperiments Endpoint = "experiments"
)
