// Package store provides interview archive backends.
//
// This file implements the PostgreSQL-backed archive.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/voxform/voxform/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveInterview stores or replaces the full interview record transactionally.
func (s *PostgresStore) SaveInterview(iv models.Interview) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveInterview begin failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to begin transaction for interview %s: %w", iv.ID, err)
	}
	defer tx.Rollback()

	completed := sql.NullTime{Time: iv.CompletedAt, Valid: !iv.CompletedAt.IsZero()}
	if _, err := tx.Exec(`INSERT INTO interviews (id, script_name, started_at, completed_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET script_name = EXCLUDED.script_name, started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at`,
		iv.ID, iv.ScriptName, iv.StartedAt, completed); err != nil {
		slog.Error("PostgresStore SaveInterview insert failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to insert interview %s: %w", iv.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM answers WHERE interview_id = $1`, iv.ID); err != nil {
		return fmt.Errorf("failed to clear answers for %s: %w", iv.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM transcript_entries WHERE interview_id = $1`, iv.ID); err != nil {
		return fmt.Errorf("failed to clear transcript for %s: %w", iv.ID, err)
	}
	for qid, rec := range iv.Answers {
		if _, err := tx.Exec(`INSERT INTO answers (interview_id, question_id, normalized, raw_transcript) VALUES ($1, $2, $3, $4)`,
			iv.ID, qid, rec.Normalized, rec.RawTranscript); err != nil {
			slog.Error("PostgresStore SaveInterview answer insert failed", "error", err, "interview", iv.ID, "question", qid)
			return fmt.Errorf("failed to insert answer %s/%s: %w", iv.ID, qid, err)
		}
	}
	for seq, entry := range iv.Transcript {
		if _, err := tx.Exec(`INSERT INTO transcript_entries (interview_id, seq, role, text) VALUES ($1, $2, $3, $4)`,
			iv.ID, seq, entry.Role, entry.Text); err != nil {
			slog.Error("PostgresStore SaveInterview transcript insert failed", "error", err, "interview", iv.ID, "seq", seq)
			return fmt.Errorf("failed to insert transcript entry %s/%d: %w", iv.ID, seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveInterview commit failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to commit interview %s: %w", iv.ID, err)
	}
	slog.Debug("PostgresStore SaveInterview succeeded", "interview", iv.ID, "answers", len(iv.Answers))
	return nil
}

// GetInterview retrieves the full interview record, or nil when not found.
func (s *PostgresStore) GetInterview(id string) (*models.Interview, error) {
	var iv models.Interview
	var completed sql.NullTime
	err := s.db.QueryRow(`SELECT id, script_name, started_at, completed_at FROM interviews WHERE id = $1`, id).
		Scan(&iv.ID, &iv.ScriptName, &iv.StartedAt, &completed)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetInterview not found", "interview", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetInterview failed", "error", err, "interview", id)
		return nil, fmt.Errorf("failed to query interview %s: %w", id, err)
	}
	if completed.Valid {
		iv.CompletedAt = completed.Time
	}

	iv.Answers = make(map[string]models.AnswerRecord)
	rows, err := s.db.Query(`SELECT question_id, normalized, raw_transcript FROM answers WHERE interview_id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore GetInterview answers query failed", "error", err, "interview", id)
		return nil, fmt.Errorf("failed to query answers for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var qid string
		var rec models.AnswerRecord
		if err := rows.Scan(&qid, &rec.Normalized, &rec.RawTranscript); err != nil {
			return nil, fmt.Errorf("failed to scan answer row: %w", err)
		}
		iv.Answers[qid] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answer rows: %w", err)
	}

	trows, err := s.db.Query(`SELECT role, text FROM transcript_entries WHERE interview_id = $1 ORDER BY seq`, id)
	if err != nil {
		slog.Error("PostgresStore GetInterview transcript query failed", "error", err, "interview", id)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", id, err)
	}
	defer trows.Close()
	for trows.Next() {
		var entry models.TranscriptEntry
		if err := trows.Scan(&entry.Role, &entry.Text); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		iv.Transcript = append(iv.Transcript, entry)
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return &iv, nil
}

// ListInterviews returns interview metadata, most recently started first.
func (s *PostgresStore) ListInterviews() ([]models.Interview, error) {
	rows, err := s.db.Query(`SELECT id, script_name, started_at, completed_at FROM interviews ORDER BY started_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListInterviews query failed", "error", err)
		return nil, fmt.Errorf("failed to query interviews: %w", err)
	}
	defer rows.Close()

	var list []models.Interview
	for rows.Next() {
		var iv models.Interview
		var completed sql.NullTime
		if err := rows.Scan(&iv.ID, &iv.ScriptName, &iv.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan interview row: %w", err)
		}
		if completed.Valid {
			iv.CompletedAt = completed.Time
		}
		list = append(list, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interview rows: %w", err)
	}
	slog.Debug("PostgresStore ListInterviews succeeded", "count", len(list))
	return list, nil
}

// DeleteInterview removes an interview and its child rows.
func (s *PostgresStore) DeleteInterview(id string) error {
	for _, q := range []string{
		`DELETE FROM answers WHERE interview_id = $1`,
		`DELETE FROM transcript_entries WHERE interview_id = $1`,
		`DELETE FROM interviews WHERE id = $1`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			slog.Error("PostgresStore DeleteInterview failed", "error", err, "interview", id)
			return fmt.Errorf("failed to delete interview %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
