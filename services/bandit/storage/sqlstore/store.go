// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlstore persists experiments and daily metrics in a relational
// database through database/sql. SQLite (modernc.org/sqlite, pure Go) and
// Postgres (github.com/lib/pq) share one implementation; only the schema
// file and placeholder style differ.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage/sqlstore/schema"
)

// Dialect names accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const (
	upsertExperimentSQL = `INSERT INTO experiments (experiment_id, created_at) VALUES (?, ?)
ON CONFLICT (experiment_id) DO NOTHING`

	selectExperimentSQL = `SELECT id, experiment_id, created_at FROM experiments WHERE experiment_id = ?`

	upsertMetricSQL = `INSERT INTO daily_metrics (experiment_id, variant_name, date, impressions, clicks, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (experiment_id, variant_name, date)
DO UPDATE SET impressions = excluded.impressions, clicks = excluded.clicks`

	cumulativeSQL = `SELECT m.variant_name, COALESCE(SUM(m.clicks), 0), COALESCE(SUM(m.impressions), 0)
FROM daily_metrics m
JOIN experiments e ON e.id = m.experiment_id
WHERE e.experiment_id = ?
GROUP BY m.variant_name
ORDER BY m.variant_name`

	listExperimentsSQL = `SELECT id, experiment_id, created_at FROM experiments ORDER BY experiment_id`
)

// Store implements storage.Store on a SQL database.
//
// Thread Safety: Safe for concurrent use; *sql.DB pools connections.
type Store struct {
	sqlDB   *sql.DB
	dialect string
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open connects to the database and applies the schema.
//
// Inputs:
//   - dialect: DialectSQLite or DialectPostgres.
//   - dsn: For SQLite a file path or ":memory:"; for Postgres a connection URL.
//
// Outputs:
//   - *Store: The ready store. Caller must call Close.
//   - error: Non-nil if the connection or schema setup fails.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}

	driverDSN := dsn
	switch dialect {
	case DialectSQLite:
		if dsn == ":memory:" {
			driverDSN = dsn + "?_pragma=foreign_keys(1)"
		} else {
			driverDSN = filepath.Clean(dsn) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	case DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	sqlDB, err := sql.Open(dialect, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer at a time; for :memory: every connection would
		// otherwise see its own empty database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	s := &Store{sqlDB: sqlDB, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Dialect returns the driver name in use.
func (s *Store) Dialect() string {
	return s.dialect
}

func (s *Store) migrate(ctx context.Context) error {
	ddl, err := schema.FS.ReadFile(s.dialect + ".sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// GetOrCreateExperiment implements storage.Store.
func (s *Store) GetOrCreateExperiment(ctx context.Context, experimentID string) (*storage.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(experimentID) == "" {
		return nil, fmt.Errorf("experiment id is required: %w", storage.ErrInvalidRecord)
	}
	exp, err := s.getOrCreate(ctx, s.sqlDB, experimentID)
	if err != nil {
		return nil, fmt.Errorf("get or create experiment %q: %w", experimentID, err)
	}
	return exp, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getOrCreate(ctx context.Context, q queryer, experimentID string) (*storage.Experiment, error) {
	if _, err := q.ExecContext(ctx, s.rebind(upsertExperimentSQL), experimentID, toMillis(time.Now())); err != nil {
		return nil, fmt.Errorf("insert experiment: %w", err)
	}
	var (
		exp     storage.Experiment
		created int64
	)
	err := q.QueryRowContext(ctx, s.rebind(selectExperimentSQL), experimentID).Scan(&exp.ID, &exp.ExperimentID, &created)
	if err != nil {
		return nil, fmt.Errorf("select experiment: %w", err)
	}
	exp.CreatedAt = fromMillis(created)
	return &exp, nil
}

// UpsertDailyMetrics implements storage.Store. All rows are written in one
// transaction.
func (s *Store) UpsertDailyMetrics(ctx context.Context, experimentID string, date time.Time, metrics []storage.VariantMetric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateWrite(experimentID, metrics); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exp, err := s.getOrCreate(ctx, tx, experimentID)
	if err != nil {
		return fmt.Errorf("upsert metrics for %q: %w", experimentID, err)
	}

	day := storage.Day(date).Format(storage.DateLayout)
	now := toMillis(time.Now())
	query := s.rebind(upsertMetricSQL)
	for _, m := range metrics {
		if _, err := tx.ExecContext(ctx, query, exp.ID, m.VariantID, day, m.Impressions, m.Clicks, now); err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", experimentID, m.VariantID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics: %w", err)
	}
	return nil
}

// CumulativeMetrics implements storage.Store.
func (s *Store) CumulativeMetrics(ctx context.Context, experimentID string) ([]storage.Cumulative, error) {
	exists, err := s.ExperimentExists(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("experiment %q: %w", experimentID, storage.ErrNotFound)
	}

	rows, err := s.sqlDB.QueryContext(ctx, s.rebind(cumulativeSQL), experimentID)
	if err != nil {
		return nil, fmt.Errorf("query cumulative metrics: %w", err)
	}
	defer rows.Close()

	out := make([]storage.Cumulative, 0)
	for rows.Next() {
		var c storage.Cumulative
		if err := rows.Scan(&c.VariantID, &c.Clicks, &c.Impressions); err != nil {
			return nil, fmt.Errorf("scan cumulative metrics: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cumulative metrics: %w", err)
	}
	// Collation differs between engines; normalise to byte order.
	storage.SortCumulative(out)
	return out, nil
}

// ExperimentExists implements storage.Store.
func (s *Store) ExperimentExists(ctx context.Context, experimentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var (
		id      int64
		extID   string
		created int64
	)
	err := s.sqlDB.QueryRowContext(ctx, s.rebind(selectExperimentSQL), experimentID).Scan(&id, &extID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check experiment %q: %w", experimentID, err)
	}
	return true, nil
}

// ListExperiments implements storage.Store.
func (s *Store) ListExperiments(ctx context.Context) ([]storage.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, listExperimentsSQL)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var out []storage.Experiment
	for rows.Next() {
		var (
			exp     storage.Experiment
			created int64
		)
		if err := rows.Scan(&exp.ID, &exp.ExperimentID, &created); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		exp.CreatedAt = fromMillis(created)
		out = append(out, exp)
	}
	return out, rows.Err()
}

// rebind converts ? placeholders to $N for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
