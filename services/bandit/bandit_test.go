// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/history"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, ab.DefaultSamples, cfg.NumSamples)
	assert.Equal(t, 1, cfg.Shards)
	assert.Equal(t, ab.DefaultConfidence, cfg.Confidence)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	kept := applyConfigDefaults(Config{Port: 9000, NumSamples: 500})
	assert.Equal(t, 9000, kept.Port)
	assert.Equal(t, 500, kept.NumSamples)
}

func TestNew_InvalidSampleCount(t *testing.T) {
	_, err := New(context.Background(), Config{Store: StoreMemory, NumSamples: -1})
	assert.ErrorIs(t, err, ab.ErrInvalidSampleCount)
}

func TestNew_InvalidZMode(t *testing.T) {
	_, err := New(context.Background(), Config{Store: StoreMemory, ZMode: "approximate"})
	assert.Error(t, err)
}

func TestNew_UnsupportedStore(t *testing.T) {
	_, err := New(context.Background(), Config{Store: "cassandra"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Store: StorePostgres})
	assert.Error(t, err)
}

func TestService_EndToEnd(t *testing.T) {
	rec := history.NewMemoryRecorder(0)
	svc, err := New(context.Background(), Config{Store: StoreMemory, NumSamples: 2000}, WithRecorder(rec))
	require.NoError(t, err)
	defer svc.Close()

	router := svc.Router()

	body := `{"experiment_id":"exp","date":"2025-03-01","variants":[{"variant_id":"a","impressions":100,"clicks":5},{"variant_id":"b","impressions":100,"clicks":9}]}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/data", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/allocation?experiment_id=exp", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, rec.Snapshots("exp"), 1)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/internal/metrics", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_bandit_allocations_total")

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

func TestService_SQLiteStore(t *testing.T) {
	dir := t.TempDir()
	svc, err := New(context.Background(), Config{Store: StoreSQLite, DataDir: dir})
	require.NoError(t, err)
	defer svc.Close()

	assert.FileExists(t, filepath.Join(dir, "bandit.db"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc, err := New(context.Background(), Config{Store: StoreMemory})
	require.NoError(t, err)

	// listen on an ephemeral port
	svc.(*service).config.Port = 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_MemoryStoreKeepsHistory(t *testing.T) {
	svc, err := New(context.Background(), Config{Store: StoreMemory, NumSamples: 500})
	require.NoError(t, err)
	defer svc.Close()

	rec, ok := svc.(*service).recorder.(*history.MemoryRecorder)
	require.True(t, ok, "recorder is %T", svc.(*service).recorder)

	body := `{"experiment_id":"exp","date":"2025-03-01","variants":[{"variant_id":"a","impressions":10,"clicks":1}]}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/data", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/allocation?experiment_id=exp", nil)
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, rec.Snapshots("exp"), 1)
}

func TestNew_PersistentStoreSkipsMemoryHistory(t *testing.T) {
	svc, err := New(context.Background(), Config{Store: StoreSQLite, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer svc.Close()

	assert.IsType(t, history.NopRecorder{}, svc.(*service).recorder)
}

// stubTracerSetup swaps the tracer setup steps and captures the dialed
// connection.
func stubTracerSetup(t *testing.T, exporterErr, resourceErr error) **grpc.ClientConn {
	t.Helper()
	origDial, origExporter, origResource := dialCollector, newTraceExporter, newTraceResource
	t.Cleanup(func() {
		dialCollector, newTraceExporter, newTraceResource = origDial, origExporter, origResource
	})

	var conn *grpc.ClientConn
	dialCollector = func(endpoint string) (*grpc.ClientConn, error) {
		c, err := origDial(endpoint)
		conn = c
		return c, err
	}
	if exporterErr != nil {
		newTraceExporter = func(context.Context, *grpc.ClientConn) (sdktrace.SpanExporter, error) {
			return nil, exporterErr
		}
	}
	if resourceErr != nil {
		newTraceResource = func(context.Context) (*resource.Resource, error) {
			return nil, resourceErr
		}
	}
	return &conn
}

func TestInitTracer_ClosesConnOnFailure(t *testing.T) {
	tests := []struct {
		name        string
		exporterErr error
		resourceErr error
	}{
		{name: "exporter fails", exporterErr: errors.New("exporter down")},
		{name: "resource fails", resourceErr: errors.New("bad resource")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := stubTracerSetup(t, tt.exporterErr, tt.resourceErr)

			_, err := New(context.Background(), Config{Store: StoreMemory, OTelEndpoint: "localhost:4317"})
			require.Error(t, err)
			require.NotNil(t, *conn)
			assert.Equal(t, connectivity.Shutdown, (*conn).GetState())
		})
	}
}
