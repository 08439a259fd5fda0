package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		status TEXT NOT NULL,
		error_detail TEXT,
		response_len INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordRequest appends a settled request to the history.
func (s *SQLiteStore) RecordRequest(ctx context.Context, rec *RequestRecord) error {
	query := `
		INSERT INTO requests (id, prompt, status, error_detail, response_len, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Prompt, rec.Status, rec.ErrorDetail,
		rec.ResponseLen, rec.Duration.Milliseconds(), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert request record: %w", err)
	}
	return nil
}

// RecentRequests retrieves the most recent records, newest first.
func (s *SQLiteStore) RecentRequests(ctx context.Context, limit int) ([]*RequestRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, prompt, status, error_detail, response_len, duration_ms, created_at
		FROM requests ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query request records: %w", err)
	}
	defer rows.Close()

	var records []*RequestRecord
	for rows.Next() {
		var rec RequestRecord
		var errorDetail sql.NullString
		var durationMs, createdAt int64

		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Status, &errorDetail,
			&rec.ResponseLen, &durationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request record: %w", err)
		}

		rec.ErrorDetail = errorDetail.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request records: %w", err)
	}

	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
