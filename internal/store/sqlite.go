package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteHistory keeps the evaluation log in a SQLite table.
type SQLiteHistory struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteHistory opens or creates the database at path.
func NewSQLiteHistory(path string) (*SQLiteHistory, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS history (
			evaluation INTEGER PRIMARY KEY,
			iteration  INTEGER NOT NULL,
			parameter  TEXT    NOT NULL,
			value      INTEGER NOT NULL,
			score      REAL    NOT NULL,
			timestamp  TEXT    NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	return &SQLiteHistory{path: path, db: db}, nil
}

// Append inserts one entry. The table is append-only: a repeated evaluation
// number is an error and the earlier row is kept.
func (h *SQLiteHistory) Append(entry HistoryEntry) error {
	db, err := h.getDB()
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO history (evaluation, iteration, parameter, value, score, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Evaluation, entry.Iteration, entry.Param, entry.Value, entry.Score, entry.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert history entry %d: %w", entry.Evaluation, err)
	}
	return nil
}

// Entries returns every entry ordered by evaluation number.
func (h *SQLiteHistory) Entries() ([]HistoryEntry, error) {
	db, err := h.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT evaluation, iteration, parameter, value, score, timestamp
		FROM history
		ORDER BY evaluation ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ts string
		if err := rows.Scan(&e.Evaluation, &e.Iteration, &e.Param, &e.Value, &e.Score, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse history timestamp %q: %w", ts, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Flush is a no-op; every Append is committed.
func (h *SQLiteHistory) Flush() error {
	return nil
}

// Close closes the database.
func (h *SQLiteHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Path returns the database path.
func (h *SQLiteHistory) Path() string {
	return h.path
}

func (h *SQLiteHistory) getDB() (*sql.DB, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil, errors.New("sqlite history is closed")
	}
	return h.db, nil
}
