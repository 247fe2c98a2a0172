// Package store provides interview archive backends.
//
// This file implements the SQLite-backed archive.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voxform/voxform/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; its directory is
// created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveInterview stores or replaces the full interview record transactionally.
func (s *SQLiteStore) SaveInterview(iv models.Interview) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveInterview begin failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to begin transaction for interview %s: %w", iv.ID, err)
	}
	defer tx.Rollback()

	completed := sql.NullTime{Time: iv.CompletedAt, Valid: !iv.CompletedAt.IsZero()}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO interviews (id, script_name, started_at, completed_at) VALUES (?, ?, ?, ?)`,
		iv.ID, iv.ScriptName, iv.StartedAt, completed); err != nil {
		slog.Error("SQLiteStore SaveInterview insert failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to insert interview %s: %w", iv.ID, err)
	}

	// Replace child rows wholesale; a saved interview is immutable afterwards.
	if _, err := tx.Exec(`DELETE FROM answers WHERE interview_id = ?`, iv.ID); err != nil {
		return fmt.Errorf("failed to clear answers for %s: %w", iv.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM transcript_entries WHERE interview_id = ?`, iv.ID); err != nil {
		return fmt.Errorf("failed to clear transcript for %s: %w", iv.ID, err)
	}
	for qid, rec := range iv.Answers {
		if _, err := tx.Exec(`INSERT INTO answers (interview_id, question_id, normalized, raw_transcript) VALUES (?, ?, ?, ?)`,
			iv.ID, qid, rec.Normalized, rec.RawTranscript); err != nil {
			slog.Error("SQLiteStore SaveInterview answer insert failed", "error", err, "interview", iv.ID, "question", qid)
			return fmt.Errorf("failed to insert answer %s/%s: %w", iv.ID, qid, err)
		}
	}
	for seq, entry := range iv.Transcript {
		if _, err := tx.Exec(`INSERT INTO transcript_entries (interview_id, seq, role, text) VALUES (?, ?, ?, ?)`,
			iv.ID, seq, entry.Role, entry.Text); err != nil {
			slog.Error("SQLiteStore SaveInterview transcript insert failed", "error", err, "interview", iv.ID, "seq", seq)
			return fmt.Errorf("failed to insert transcript entry %s/%d: %w", iv.ID, seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveInterview commit failed", "error", err, "interview", iv.ID)
		return fmt.Errorf("failed to commit interview %s: %w", iv.ID, err)
	}
	slog.Debug("SQLiteStore SaveInterview succeeded", "interview", iv.ID, "answers", len(iv.Answers))
	return nil
}

// GetInterview retrieves the full interview record, or nil when not found.
func (s *SQLiteStore) GetInterview(id string) (*models.Interview, error) {
	var iv models.Interview
	var completed sql.NullTime
	err := s.db.QueryRow(`SELECT id, script_name, started_at, completed_at FROM interviews WHERE id = ?`, id).
		Scan(&iv.ID, &iv.ScriptName, &iv.StartedAt, &completed)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetInterview not found", "interview", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetInterview failed", "error", err, "interview", id)
		return nil, fmt.Errorf("failed to query interview %s: %w", id, err)
	}
	if completed.Valid {
		iv.CompletedAt = completed.Time
	}

	iv.Answers = make(map[string]models.AnswerRecord)
	rows, err := s.db.Query(`SELECT question_id, normalized, raw_transcript FROM answers WHERE interview_id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore GetInterview answers query failed", "error", err, "interview", id)
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

	trows, err := s.db.Query(`SELECT role, text FROM transcript_entries WHERE interview_id = ? ORDER BY seq`, id)
	if err != nil {
		slog.Error("SQLiteStore GetInterview transcript query failed", "error", err, "interview", id)
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

	slog.Debug("SQLiteStore GetInterview succeeded", "interview", id, "answers", len(iv.Answers))
	return &iv, nil
}

// ListInterviews returns interview metadata, most recently started first.
func (s *SQLiteStore) ListInterviews() ([]models.Interview, error) {
	rows, err := s.db.Query(`SELECT id, script_name, started_at, completed_at FROM interviews ORDER BY started_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListInterviews query failed", "error", err)
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
	slog.Debug("SQLiteStore ListInterviews succeeded", "count", len(list))
	return list, nil
}

// DeleteInterview removes an interview and its child rows.
func (s *SQLiteStore) DeleteInterview(id string) error {
	for _, q := range []string{
		`DELETE FROM answers WHERE interview_id = ?`,
		`DELETE FROM transcript_entries WHERE interview_id = ?`,
		`DELETE FROM interviews WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			slog.Error("SQLiteStore DeleteInterview failed", "error", err, "interview", id)
			return fmt.Errorf("failed to delete interview %s: %w", id, err)
		}
	}
	slog.Debug("SQLiteStore DeleteInterview succeeded", "interview", id)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
