// Package db keeps the sqlite audit trail of training runs and served
// estimates.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultListLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact_path TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    train_rows INTEGER NOT NULL,
    test_rows INTEGER NOT NULL,
    rejected_rows INTEGER DEFAULT 0,
    mae REAL,
    rmse REAL,
    r2 REAL,
    seed INTEGER,
    test_ratio REAL,
    trained_at INTEGER NOT NULL,
    created_at INTEGER DEFAULT (strftime('%s', 'now'))
);
CREATE TABLE IF NOT EXISTS rejected_listings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES training_runs(id),
    line INTEGER NOT NULL,
    rule TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT
);
CREATE TABLE IF NOT EXISTS estimates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    inputs TEXT NOT NULL,
    estimate_lakh REAL NOT NULL,
    unknown_categories TEXT,
    cached INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_estimates_created ON estimates(created_at);
CREATE INDEX IF NOT EXISTS idx_rejected_run ON rejected_listings(run_id);
`

// TrainingRun is one completed trainer invocation.
type TrainingRun struct {
	ID            int64     `json:"id"`
	ArtifactPath  string    `json:"artifact_path"`
	SchemaVersion int       `json:"schema_version"`
	TrainRows     int       `json:"train_rows"`
	TestRows      int       `json:"test_rows"`
	RejectedRows  int       `json:"rejected_rows"`
	MAE           float64   `json:"mae"`
	RMSE          float64   `json:"rmse"`
	R2            float64   `json:"r2"`
	Seed          int64     `json:"seed"`
	TestRatio     float64   `json:"test_ratio"`
	TrainedAt     time.Time `json:"trained_at"`
}

// RejectedListing is a training row the cleaner refused.
type RejectedListing struct {
	Line     int    `json:"line"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// EstimateRecord is one served estimate.
type EstimateRecord struct {
	ID                int64           `json:"id"`
	RequestID         string          `json:"request_id"`
	Inputs            json.RawMessage `json:"inputs"`
	EstimateLakh      float64         `json:"estimate_lakh"`
	UnknownCategories []string        `json:"unknown_categories"`
	Cached            bool            `json:"cached"`
	CreatedAt         time.Time       `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file and its tables if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if path == ":memory:" {
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(4)
		database.SetMaxIdleConns(2)
		database.SetConnMaxLifetime(time.Hour)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrainingRun stores the run and its rejected listings in one
// transaction and returns the run id.
func (s *Store) RecordTrainingRun(ctx context.Context, run TrainingRun, rejected []RejectedListing) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO training_runs (artifact_path, schema_version, train_rows, test_rows, rejected_rows,
            mae, rmse, r2, seed, test_ratio, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ArtifactPath, run.SchemaVersion, run.TrainRows, run.TestRows, len(rejected),
		run.MAE, run.RMSE, run.R2, run.Seed, run.TestRatio, run.TrainedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(rejected) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO rejected_listings (run_id, line, rule, severity, message)
            VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()
		for _, r := range rejected {
			if _, err := stmt.ExecContext(ctx, id, r.Line, r.Rule, r.Severity, r.Message); err != nil {
				return 0, err
			}
		}
	}

	return id, tx.Commit()
}

// TrainingRuns returns the most recent runs first.
func (s *Store) TrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, artifact_path, schema_version, train_rows, test_rows, rejected_rows,
            mae, rmse, r2, seed, test_ratio, trained_at
        FROM training_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var r TrainingRun
		var trainedAt int64
		if err := rows.Scan(&r.ID, &r.ArtifactPath, &r.SchemaVersion, &r.TrainRows, &r.TestRows, &r.RejectedRows,
			&r.MAE, &r.RMSE, &r.R2, &r.Seed, &r.TestRatio, &trainedAt); err != nil {
			return nil, err
		}
		r.TrainedAt = time.UnixMilli(trainedAt).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RejectedListings returns the listings the cleaner refused in a run.
func (s *Store) RejectedListings(ctx context.Context, runID int64) ([]RejectedListing, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT line, rule, severity, message FROM rejected_listings
        WHERE run_id = ? ORDER BY line`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RejectedListing, 0)
	for rows.Next() {
		var r RejectedListing
		var msg sql.NullString
		if err := rows.Scan(&r.Line, &r.Rule, &r.Severity, &msg); err != nil {
			return nil, err
		}
		r.Message = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordEstimate appends one served estimate.
func (s *Store) RecordEstimate(ctx context.Context, rec EstimateRecord) error {
	unknown, err := json.Marshal(rec.UnknownCategories)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	inputs := rec.Inputs
	if len(inputs) == 0 {
		inputs = json.RawMessage("{}")
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO estimates (request_id, inputs, estimate_lakh, unknown_categories, cached, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RequestID, string(inputs), rec.EstimateLakh, string(unknown), rec.Cached, rec.CreatedAt.UnixMilli())
	return err
}

// RecentEstimates returns the latest estimates, newest first.
func (s *Store) RecentEstimates(ctx context.Context, limit int) ([]EstimateRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, inputs, estimate_lakh, unknown_categories, cached, created_at
        FROM estimates ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]EstimateRecord, 0)
	for rows.Next() {
		var (
			rec       EstimateRecord
			inputs    string
			unknown   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &inputs, &rec.EstimateLakh, &unknown, &rec.Cached, &createdAt); err != nil {
			return nil, err
		}
		rec.Inputs = json.RawMessage(inputs)
		if unknown.Valid && unknown.String != "" && unknown.String != "null" {
			if err := json.Unmarshal([]byte(unknown.String), &rec.UnknownCategories); err != nil {
				return nil, fmt.Errorf("estimate %d: %w", rec.ID, err)
			}
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
