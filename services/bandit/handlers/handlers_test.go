// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/datatypes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/history"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	router   *gin.Engine
	deps     *Deps
	recorder *history.MemoryRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newTestEnvWithStore(t, store)
}

func newTestEnvWithStore(t *testing.T, store storage.Store) *testEnv {
	t.Helper()
	sampler, err := ab.NewSampler(ab.WithSamples(5000), ab.WithSeed(99))
	require.NoError(t, err)

	rec := history.NewMemoryRecorder(10)
	d := &Deps{
		Store:      store,
		Sampler:    sampler,
		Recorder:   rec,
		Metrics:    observability.NewMetrics(),
		MaxSamples: 100000,
		Confidence: ab.DefaultConfidence,
		Now:        func() time.Time { return fixedNow },
	}

	router := gin.New()
	router.GET("/", Root)
	router.GET("/health", HealthCheck)
	router.POST("/data", PostData(d))
	router.GET("/allocation", GetAllocation(d))
	router.GET("/metrics", GetMetrics(d))
	router.GET("/experiments", ListExperiments(d))
	return &testEnv{router: router, deps: d, recorder: rec}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	for _, day := range []string{"2025-06-01", "2025-06-02"} {
		w := e.do(t, http.MethodPost, "/data", datatypes.ExperimentData{
			ExperimentID: "homepage",
			Date:         day,
			Variants: []datatypes.VariantData{
				{VariantID: "control", Impressions: 500, Clicks: 10},
				{VariantID: "treatment", Impressions: 500, Clicks: 50},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
}

// =============================================================================
// Root / Health Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "POST /data")
}

// =============================================================================
// POST /data Tests
// =============================================================================

func TestPostData_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rows, err := env.deps.Store.CumulativeMetrics(context.Background(), "homepage")
	require.NoError(t, err)
	assert.Equal(t, []storage.Cumulative{
		{VariantID: "control", Clicks: 20, Impressions: 1000},
		{VariantID: "treatment", Clicks: 100, Impressions: 1000},
	}, rows)
}

func TestPostData_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"clicks exceed impressions", datatypes.ExperimentData{
			ExperimentID: "e", Date: "2025-01-01",
			Variants: []datatypes.VariantData{{VariantID: "a", Impressions: 1, Clicks: 2}},
		}},
		{"bad date", datatypes.ExperimentData{
			ExperimentID: "e", Date: "yesterday",
			Variants: []datatypes.VariantData{{VariantID: "a"}},
		}},
		{"no variants", datatypes.ExperimentData{ExperimentID: "e", Date: "2025-01-01"}},
		{"not json", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/data", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "detail")
		})
	}
}

type failingStore struct {
	storage.Store
}

func (failingStore) UpsertDailyMetrics(context.Context, string, time.Time, []storage.VariantMetric) error {
	return errors.New("connection refused")
}

func TestPostData_StorageFailure(t *testing.T) {
	inner, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer inner.Close()
	env := newTestEnvWithStore(t, failingStore{Store: inner})

	w := env.do(t, http.MethodPost, "/data", datatypes.ExperimentData{
		ExperimentID: "e", Date: "2025-01-01",
		Variants: []datatypes.VariantData{{VariantID: "a", Impressions: 1}},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

// =============================================================================
// GET /allocation Tests
// =============================================================================

func TestGetAllocation_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, http.MethodGet, "/allocation?experiment_id=homepage", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.AllocationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "homepage", resp.ExperimentID)
	assert.Equal(t, "2025-06-11", resp.Date)
	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, "treatment", resp.Allocations[0].VariantID)
	assert.Greater(t, resp.Allocations[0].Percentage, 90.0)

	total := resp.Allocations[0].Percentage + resp.Allocations[1].Percentage
	assert.InDelta(t, 100.0, total, 0.02)

	snaps := env.recorder.Snapshots("homepage")
	require.Len(t, snaps, 1)
	assert.Equal(t, 5000, snaps[0].Samples)
}

func TestGetAllocation_TargetDate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, http.MethodGet, "/allocation?experiment_id=homepage&target_date=2025-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2025-12-31")

	w = env.do(t, http.MethodGet, "/allocation?experiment_id=homepage&target_date=31-12-2025", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetAllocation_SeedIsReproducible(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	path := "/allocation?experiment_id=homepage&seed=7&samples=2000"
	first := env.do(t, http.MethodGet, path, nil)
	second := env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestGetAllocation_BadOverrides(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	for _, q := range []string{"samples=0", "samples=abc", "samples=1000000", "seed=-1"} {
		w := env.do(t, http.MethodGet, "/allocation?experiment_id=homepage&"+q, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, q)
	}
}

func TestGetAllocation_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/allocation?experiment_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Experiment 'missing' not found")

	_, err := env.deps.Store.GetOrCreateExperiment(context.Background(), "empty")
	require.NoError(t, err)
	w = env.do(t, http.MethodGet, "/allocation?experiment_id=empty", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "No data available")
}

func TestGetAllocation_MissingExperimentID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/allocation", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// =============================================================================
// GET /metrics Tests
// =============================================================================

func TestGetMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	t.Run("without confidence", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/metrics?experiment_id=homepage", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp datatypes.MetricsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "2025-06-10", resp.Date)
		require.Len(t, resp.Variants, 2)
		assert.Equal(t, "control", resp.Variants[0].VariantID)
		assert.Equal(t, 0.02, resp.Variants[0].CTR)
		assert.Equal(t, 0.1, resp.Variants[1].CTR)
		assert.Nil(t, resp.Variants[0].LowerBound)
	})

	t.Run("with confidence", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/metrics?experiment_id=homepage&include_confidence=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp datatypes.MetricsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, v := range resp.Variants {
			require.NotNil(t, v.LowerBound)
			require.NotNil(t, v.UpperBound)
			assert.LessOrEqual(t, *v.LowerBound, v.CTR)
			assert.GreaterOrEqual(t, *v.UpperBound, v.CTR)
		}
	})

	t.Run("bad flag", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/metrics?experiment_id=homepage&include_confidence=maybe", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("bad confidence", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/metrics?experiment_id=homepage&include_confidence=true&confidence=1.5", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/metrics?experiment_id=nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// =============================================================================
// GET /experiments Tests
// =============================================================================

func TestListExperiments(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	w := env.do(t, http.MethodGet, "/experiments", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ExperimentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Experiments, 1)
	assert.Equal(t, "homepage", resp.Experiments[0].ExperimentID)
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(storage.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(ab.ErrEmptyInput))
	assert.Equal(t, http.StatusBadRequest, statusFor(ab.ErrInvalidCount))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(storage.ErrInvalidRecord))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

// spanStore records whether reads ran under a recording span.
type spanStore struct {
	storage.Store
	mu    sync.Mutex
	spans []bool
}

func (s *spanStore) note(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, trace.SpanContextFromContext(ctx).IsValid())
}

func (s *spanStore) ExperimentExists(ctx context.Context, experimentID string) (bool, error) {
	s.note(ctx)
	return s.Store.ExperimentExists(ctx, experimentID)
}

func (s *spanStore) CumulativeMetrics(ctx context.Context, experimentID string) ([]storage.Cumulative, error) {
	s.note(ctx)
	return s.Store.CumulativeMetrics(ctx, experimentID)
}

func TestReads_RunUnderHandlerSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inner, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer inner.Close()
	store := &spanStore{Store: inner}
	env := newTestEnvWithStore(t, store)
	env.seed(t)

	for _, path := range []string{
		"/allocation?experiment_id=homepage",
		"/metrics?experiment_id=homepage",
	} {
		store.mu.Lock()
		store.spans = nil
		store.mu.Unlock()

		w := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		store.mu.Lock()
		assert.Equal(t, []bool{true, true}, store.spans, path)
		store.mu.Unlock()
	}
}
