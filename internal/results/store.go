package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// Store persists run summaries in SQLite
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the summary database
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Migrate creates the schema
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id      TEXT NOT NULL,
			namespace   TEXT NOT NULL,
			build       TEXT NOT NULL,
			width       INTEGER NOT NULL,
			model       TEXT NOT NULL,
			dataset     TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			prompt_n    INTEGER NOT NULL,
			predicted_n INTEGER NOT NULL,
			duration_s  REAL NOT NULL,
			throughput  REAL NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, namespace)
		);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_namespace ON run_summaries(namespace);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Save inserts one summary row
func (s *Store) Save(ctx context.Context, rec models.RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO run_summaries (
			run_id, namespace, build, width, model, dataset,
			attempts, prompt_n, predicted_n, duration_s, throughput, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.RunID, rec.Namespace, rec.Build, rec.Width, rec.Model, rec.Dataset,
		rec.Attempts, rec.Summary.PromptN, rec.Summary.PredictedN,
		rec.Summary.DurationS, rec.Summary.Throughput, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// List returns all stored summaries, newest first
func (s *Store) List(ctx context.Context) ([]models.RunRecord, error) {
	query := `
		SELECT run_id, namespace, build, width, model, dataset,
		       attempts, prompt_n, predicted_n, duration_s, throughput, created_at
		FROM run_summaries
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		var rec models.RunRecord
		if err := rows.Scan(
			&rec.RunID, &rec.Namespace, &rec.Build, &rec.Width, &rec.Model, &rec.Dataset,
			&rec.Attempts, &rec.Summary.PromptN, &rec.Summary.PredictedN,
			&rec.Summary.DurationS, &rec.Summary.Throughput, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
