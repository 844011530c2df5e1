// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records every computed allocation so traffic splits can
// be charted over time.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

// Measurement is the InfluxDB measurement allocations are written to.
const Measurement = "bandit_allocation"

// Snapshot is one served allocation.
type Snapshot struct {
	ExperimentID string
	TargetDate   time.Time
	ComputedAt   time.Time
	Shares       []ab.Share
	Samples      int
	Seed         uint64
}

// Recorder stores allocation snapshots.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
	Close()
}

// -----------------------------------------------------------------------------
// Nop
// -----------------------------------------------------------------------------

// NopRecorder discards snapshots.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Snapshot) error { return nil }
func (NopRecorder) Close()                                 {}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

// MemoryRecorder keeps the most recent snapshots in memory.
type MemoryRecorder struct {
	mu    sync.Mutex
	limit int
	snaps []Snapshot
}

// NewMemoryRecorder keeps at most limit snapshots. A non-positive limit
// means 1000.
func NewMemoryRecorder(limit int) *MemoryRecorder {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryRecorder{limit: limit}
}

// Record appends snap, evicting the oldest when full.
func (m *MemoryRecorder) Record(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	if len(m.snaps) > m.limit {
		m.snaps = m.snaps[len(m.snaps)-m.limit:]
	}
	return nil
}

// Snapshots returns recorded snapshots for an experiment, oldest first.
// An empty experimentID returns all of them.
func (m *MemoryRecorder) Snapshots(experimentID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		if experimentID == "" || s.ExperimentID == experimentID {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemoryRecorder) Close() {}

// -----------------------------------------------------------------------------
// InfluxDB
// -----------------------------------------------------------------------------

// InfluxConfig configures the InfluxDB recorder.
type InfluxConfig struct {
	URL    string `env:"URL" yaml:"url"`
	Token  string `env:"TOKEN" yaml:"token"`
	Org    string `env:"ORG" envDefault:"aleutian" yaml:"org"`
	Bucket string `env:"BUCKET" envDefault:"bandit" yaml:"bucket"`
}

// pointWriter is the part of api.WriteAPIBlocking the recorder uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxRecorder writes one point per variant share.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI pointWriter
}

// NewInfluxRecorder connects to InfluxDB with a blocking write API.
func NewInfluxRecorder(cfg InfluxConfig) (*InfluxRecorder, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	slog.Info("Allocation history enabled", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Record writes the snapshot.
func (r *InfluxRecorder) Record(ctx context.Context, snap Snapshot) error {
	points := Points(snap)
	if len(points) == 0 {
		return nil
	}
	if err := r.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write allocation history: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *InfluxRecorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// Points converts a snapshot to InfluxDB points, one per share.
func Points(snap Snapshot) []*write.Point {
	ts := snap.ComputedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	points := make([]*write.Point, 0, len(snap.Shares))
	for _, s := range snap.Shares {
		p := influxdb2.NewPointWithMeasurement(Measurement).
			AddTag("experiment_id", snap.ExperimentID).
			AddTag("variant_id", s.ID).
			AddTag("target_date", snap.TargetDate.Format("2006-01-02")).
			AddField("percentage", s.Percentage).
			AddField("samples", snap.Samples).
			SetTime(ts)
		points = append(points, p)
	}
	return points
}
