// Package perfstore persists measurement samples to SQLite, adapted from
// the teacher's benchmark result store: WAL-mode connection setup, a
// single-writer connection pool, and a full-row-as-JSON column alongside
// indexed scalar columns for querying.
package perfstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Store persists model.PerfStatus samples keyed by run and step.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens a WAL-mode SQLite database at path,
// then runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate perfstore tables: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS perf_samples (
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			window_start DATETIME NOT NULL,
			window_end DATETIME NOT NULL,

			concurrency INTEGER NOT NULL,
			batch_size INTEGER NOT NULL,
			model_name TEXT NOT NULL,
			model_version INTEGER NOT NULL,

			server_request_count INTEGER NOT NULL,
			client_request_count INTEGER NOT NULL,
			avg_latency_ns REAL NOT NULL,
			stddev_us REAL NOT NULL,
			inferences_per_second REAL NOT NULL,

			full_sample_json TEXT NOT NULL,

			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step_index)
		);

		CREATE INDEX IF NOT EXISTS idx_perf_samples_model ON perf_samples(model_name);
		CREATE INDEX IF NOT EXISTS idx_perf_samples_run ON perf_samples(run_id);
	`)
	return err
}

// Save inserts or replaces one sample.
func (s *Store) Save(ctx context.Context, sample model.PerfStatus) error {
	full, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO perf_samples (
			run_id, step_index, window_start, window_end,
			concurrency, batch_size, model_name, model_version,
			server_request_count, client_request_count,
			avg_latency_ns, stddev_us, inferences_per_second,
			full_sample_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.RunID, sample.StepIndex, sample.WindowStart, sample.WindowEnd,
		sample.Concurrency, sample.BatchSize, sample.ModelName, sample.ModelVersion,
		sample.ServerRequestCount, sample.ClientRequestCount,
		sample.AvgLatencyNs, sample.StdDevUs, sample.InferencesPerSecond,
		string(full),
	)
	return err
}

// ListByRun returns every sample recorded for runID, ordered by step.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]model.PerfStatus, error) {
	return s.query(ctx, `
		SELECT full_sample_json FROM perf_samples
		WHERE run_id = ?
		ORDER BY step_index ASC
	`, runID)
}

// ListByModel returns every sample recorded for modelName across all runs,
// most recent run first.
func (s *Store) ListByModel(ctx context.Context, modelName string) ([]model.PerfStatus, error) {
	return s.query(ctx, `
		SELECT full_sample_json FROM perf_samples
		WHERE model_name = ?
		ORDER BY created_at DESC
	`, modelName)
}

// BestThroughputForModel returns the sample with the highest observed
// inferences-per-second for modelName, or (zero, false) if none exist.
func (s *Store) BestThroughputForModel(ctx context.Context, modelName string) (model.PerfStatus, bool, error) {
	samples, err := s.query(ctx, `
		SELECT full_sample_json FROM perf_samples
		WHERE model_name = ?
		ORDER BY inferences_per_second DESC
		LIMIT 1
	`, modelName)
	if err != nil || len(samples) == 0 {
		return model.PerfStatus{}, false, err
	}
	return samples[0], true, nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]model.PerfStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PerfStatus
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return nil, err
		}
		var sample model.PerfStatus
		if err := json.Unmarshal([]byte(full), &sample); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
