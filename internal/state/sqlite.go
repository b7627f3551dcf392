// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides bridge state persistence with automatic schema creation

package state

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "state")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS mappings (
			conversation_id TEXT PRIMARY KEY,
			thread_id       TEXT NOT NULL UNIQUE,
			workspace       TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			claimed_at      TEXT,
			stale           INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_mappings_created
			ON mappings(created_at DESC);

		CREATE TABLE IF NOT EXISTS seen_chats (
			conversation_id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS archived_chats (
			conversation_id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS thread_activity (
			thread_id        TEXT PRIMARY KEY,
			last_activity_ms INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS explicit_archive (
			thread_id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS project_config (
			workspace    TEXT PRIMARY KEY,
			guild_id     TEXT NOT NULL,
			guild_name   TEXT NOT NULL DEFAULT '',
			channel_id   TEXT NOT NULL,
			channel_name TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS secrets (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: Add stale column to mappings (pre-existing databases).
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('mappings') WHERE name = 'stale'`).Scan(&exists)
	if err != nil {
		if _, err := s.db.Exec(`ALTER TABLE mappings ADD COLUMN stale INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("adding stale column to mappings: %w", err)
		}
		s.logger.Info("applied migration", "column", "stale", "table", "mappings")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
