// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
)

const (
	experimentPrefix = "exp/"
	metricPrefix     = "metric/"
	nextIDKey        = "meta/next_experiment_id"
	keySep           = byte(0)

	// maxConflictRetries bounds retries of a transaction that lost a
	// write-write conflict.
	maxConflictRetries = 5
)

// dailyRow is the stored value of one (experiment, variant, day) metric.
type dailyRow struct {
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store implements storage.Store on BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db       *badger.DB
	logger   *slog.Logger
	stopGC   context.CancelFunc
	gcDone   chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

var _ storage.Store = (*Store)(nil)

// Open opens the store and starts background GC for persistent databases.
//
// Inputs:
//   - cfg: Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//   - *Store: The opened store. Caller must call Close.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.gcDone = make(chan struct{})
		go gcLoop(ctx, db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.gcDone)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.isClosed {
		return nil
	}
	s.isClosed = true

	if s.stopGC != nil {
		s.stopGC()
		<-s.gcDone
	}
	return s.db.Close()
}

// GetOrCreateExperiment implements storage.Store.
func (s *Store) GetOrCreateExperiment(ctx context.Context, experimentID string) (*storage.Experiment, error) {
	if experimentID == "" {
		return nil, fmt.Errorf("experiment id is required: %w", storage.ErrInvalidRecord)
	}
	var exp *storage.Experiment
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		exp, err = getOrCreate(txn, experimentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get or create experiment %q: %w", experimentID, err)
	}
	return exp, nil
}

// UpsertDailyMetrics implements storage.Store.
func (s *Store) UpsertDailyMetrics(ctx context.Context, experimentID string, date time.Time, metrics []storage.VariantMetric) error {
	if err := storage.ValidateWrite(experimentID, metrics); err != nil {
		return err
	}
	day := storage.Day(date).Format(storage.DateLayout)
	now := time.Now().UTC()

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getOrCreate(txn, experimentID); err != nil {
			return err
		}
		for _, m := range metrics {
			val, err := json.Marshal(dailyRow{Impressions: m.Impressions, Clicks: m.Clicks, UpdatedAt: now})
			if err != nil {
				return fmt.Errorf("encode metric: %w", err)
			}
			if err := txn.Set(metricKey(experimentID, m.VariantID, day), val); err != nil {
				return fmt.Errorf("write metric %s: %w", m.VariantID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert metrics for %q: %w", experimentID, err)
	}

	s.logger.Debug("stored daily metrics",
		slog.String("experiment_id", experimentID),
		slog.String("date", day),
		slog.Int("variants", len(metrics)))
	return nil
}

// CumulativeMetrics implements storage.Store.
func (s *Store) CumulativeMetrics(ctx context.Context, experimentID string) ([]storage.Cumulative, error) {
	totals := make(map[string]*storage.Cumulative)

	err := s.view(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(experimentKey(experimentID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		prefix := metricExperimentPrefix(experimentID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			variantID, ok := variantFromKey(item.Key(), prefix)
			if !ok {
				continue
			}
			var row dailyRow
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("decode metric: %w", err)
			}
			c, ok := totals[variantID]
			if !ok {
				c = &storage.Cumulative{VariantID: variantID}
				totals[variantID] = c
			}
			c.Clicks += row.Clicks
			c.Impressions += row.Impressions
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cumulative metrics for %q: %w", experimentID, err)
	}

	rows := make([]storage.Cumulative, 0, len(totals))
	for _, c := range totals {
		rows = append(rows, *c)
	}
	storage.SortCumulative(rows)
	return rows, nil
}

// ExperimentExists implements storage.Store.
func (s *Store) ExperimentExists(ctx context.Context, experimentID string) (bool, error) {
	exists := false
	err := s.view(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(experimentKey(experimentID))
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("check experiment %q: %w", experimentID, err)
	}
	return exists, nil
}

// ListExperiments implements storage.Store.
func (s *Store) ListExperiments(ctx context.Context) ([]storage.Experiment, error) {
	var out []storage.Experiment
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte(experimentPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var exp storage.Experiment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exp)
			}); err != nil {
				return fmt.Errorf("decode experiment: %w", err)
			}
			out = append(out, exp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExperimentID < out[j].ExperimentID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("context cancelled: %w", cerr)
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

// getOrCreate loads an experiment inside txn, allocating an ID if new.
func getOrCreate(txn *badger.Txn, experimentID string) (*storage.Experiment, error) {
	key := experimentKey(experimentID)
	item, err := txn.Get(key)
	if err == nil {
		var exp storage.Experiment
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exp)
		}); err != nil {
			return nil, fmt.Errorf("decode experiment: %w", err)
		}
		return &exp, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	id, err := nextID(txn)
	if err != nil {
		return nil, err
	}
	exp := &storage.Experiment{
		ID:           id,
		ExperimentID: experimentID,
		CreatedAt:    time.Now().UTC(),
	}
	val, err := json.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("encode experiment: %w", err)
	}
	if err := txn.Set(key, val); err != nil {
		return nil, fmt.Errorf("write experiment: %w", err)
	}
	return exp, nil
}

// nextID increments the experiment counter stored in txn.
func nextID(txn *badger.Txn) (int64, error) {
	var current uint64
	item, err := txn.Get([]byte(nextIDKey))
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt id counter (%d bytes)", len(val))
			}
			current = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return 0, err
	}

	current++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, current)
	if err := txn.Set([]byte(nextIDKey), buf); err != nil {
		return 0, fmt.Errorf("write id counter: %w", err)
	}
	return int64(current), nil
}

// -----------------------------------------------------------------------------
// Keys
// -----------------------------------------------------------------------------

func experimentKey(experimentID string) []byte {
	return []byte(experimentPrefix + experimentID)
}

func metricExperimentPrefix(experimentID string) []byte {
	k := make([]byte, 0, len(metricPrefix)+len(experimentID)+1)
	k = append(k, metricPrefix...)
	k = append(k, experimentID...)
	return append(k, keySep)
}

func metricKey(experimentID, variantID, day string) []byte {
	k := metricExperimentPrefix(experimentID)
	k = append(k, variantID...)
	k = append(k, keySep)
	return append(k, day...)
}

// variantFromKey extracts the variant ID from a metric key under prefix.
func variantFromKey(key, prefix []byte) (string, bool) {
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, keySep)
	if i < 0 {
		return "", false
	}
	return string(rest[:i]), true
}
