// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines persistence for experiments and their daily
// per-variant metrics.
//
// Backends live in sub-packages:
//
//	storage/badger   - embedded BadgerDB (default)
//	storage/sqlstore - SQLite or Postgres through database/sql
//
// Every backend turns raw daily rows into cumulative per-variant counts, which
// is the only form the allocation engine sees.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianBandit/pkg/validation"
	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
)

// Errors
var (
	// ErrNotFound is returned when an experiment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord is returned when a record fails basic checks.
	ErrInvalidRecord = errors.New("invalid record")
)

// DateLayout is the calendar-day format used for metric dates.
const DateLayout = "2006-01-02"

// Experiment is a named experiment.
type Experiment struct {
	ID           int64     `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// VariantMetric is one variant's metrics for a single day.
type VariantMetric struct {
	VariantID   string `json:"variant_id"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
}

// Cumulative is a variant's metrics summed over all days.
type Cumulative struct {
	VariantID   string `json:"variant_id"`
	Clicks      int64  `json:"clicks"`
	Impressions int64  `json:"impressions"`
}

// Store persists experiments and daily metrics.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreateExperiment returns the experiment, creating it if needed.
	GetOrCreateExperiment(ctx context.Context, experimentID string) (*Experiment, error)

	// UpsertDailyMetrics writes one row per variant for the given day,
	// replacing any row already stored for the same (experiment, variant, day).
	// The experiment is created if it does not exist.
	UpsertDailyMetrics(ctx context.Context, experimentID string, date time.Time, metrics []VariantMetric) error

	// CumulativeMetrics sums clicks and impressions per variant over all
	// days, ordered by variant ID. Returns ErrNotFound for an unknown
	// experiment and an empty slice for one with no metrics.
	CumulativeMetrics(ctx context.Context, experimentID string) ([]Cumulative, error)

	// ExperimentExists reports whether the experiment has been created.
	ExperimentExists(ctx context.Context, experimentID string) (bool, error)

	// ListExperiments returns all experiments ordered by experiment ID.
	ListExperiments(ctx context.Context) ([]Experiment, error)

	// Close releases the backend.
	Close() error
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateWrite checks the arguments of UpsertDailyMetrics. Backends call it
// before touching storage.
func ValidateWrite(experimentID string, metrics []VariantMetric) error {
	if err := validation.ValidateIdentifier("experiment_id", experimentID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if len(metrics) == 0 {
		return fmt.Errorf("at least one variant is required: %w", ErrInvalidRecord)
	}
	seen := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		if err := validation.ValidateIdentifier("variant_id", m.VariantID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		if m.Impressions < 0 || m.Clicks < 0 || m.Clicks > m.Impressions {
			return fmt.Errorf("variant %q: clicks=%d impressions=%d: %w",
				m.VariantID, m.Clicks, m.Impressions, ErrInvalidRecord)
		}
		if _, dup := seen[m.VariantID]; dup {
			return fmt.Errorf("variant %q listed twice: %w", m.VariantID, ErrInvalidRecord)
		}
		seen[m.VariantID] = struct{}{}
	}
	return nil
}

// SortCumulative orders rows by variant ID.
func SortCumulative(rows []Cumulative) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].VariantID < rows[j].VariantID
	})
}

// ToCounts converts cumulative rows to engine input, keeping their order.
func ToCounts(rows []Cumulative) []ab.VariantCount {
	out := make([]ab.VariantCount, len(rows))
	for i, r := range rows {
		out[i] = ab.VariantCount{ID: r.VariantID, Successes: r.Clicks, Trials: r.Impressions}
	}
	return out
}
