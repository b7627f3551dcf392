// ABOUTME: Set-valued bridge state: seen conversations, mirrored archives, explicit archives
// ABOUTME: Plus the thread activity table used for manual-vs-inactivity archive detection

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeenConversations returns every conversation id the watcher has ever
// observed, in no particular order.
func (s *SQLiteStore) SeenConversations(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, `SELECT conversation_id FROM seen_chats`)
}

// AddSeenConversations records conversation ids as observed. Already
// present ids are ignored.
func (s *SQLiteStore) AddSeenConversations(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen_chats (conversation_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("inserting seen conversation: %w", err)
		}
	}

	return tx.Commit()
}

// ArchivedConversations returns the ids whose archived state has already
// been mirrored to Discord.
func (s *SQLiteStore) ArchivedConversations(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, `SELECT conversation_id FROM archived_chats`)
}

// AddArchivedConversation records a conversation as mirrored-archived.
func (s *SQLiteStore) AddArchivedConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archived_chats (conversation_id) VALUES (?)`, id)
	if err != nil {
		return fmt.Errorf("inserting archived conversation: %w", err)
	}
	return nil
}

// RemoveArchivedConversation drops a conversation from the mirrored set,
// typically after the IDE unarchives it.
func (s *SQLiteStore) RemoveArchivedConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM archived_chats WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting archived conversation: %w", err)
	}
	return nil
}

// SetThreadActivity records the last local activity time for a thread.
func (s *SQLiteStore) SetThreadActivity(ctx context.Context, threadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO thread_activity (thread_id, last_activity_ms)
		VALUES (?, ?)
	`, threadID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving thread activity: %w", err)
	}
	return nil
}

// ThreadActivity returns the last recorded activity time for a thread.
// Returns ErrNotFound when the thread has never been touched locally.
func (s *SQLiteStore) ThreadActivity(ctx context.Context, threadID string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_activity_ms FROM thread_activity WHERE thread_id = ?`, threadID).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying thread activity: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// AddExplicitArchive marks a thread as archived by the user in Discord.
func (s *SQLiteStore) AddExplicitArchive(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO explicit_archive (thread_id) VALUES (?)`, threadID)
	if err != nil {
		return fmt.Errorf("inserting explicit archive: %w", err)
	}
	return nil
}

// RemoveExplicitArchive clears the user-archived flag for a thread.
func (s *SQLiteStore) RemoveExplicitArchive(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM explicit_archive WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("deleting explicit archive: %w", err)
	}
	return nil
}

// IsExplicitArchive reports whether the user archived this thread in Discord.
func (s *SQLiteStore) IsExplicitArchive(ctx context.Context, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM explicit_archive WHERE thread_id = ?`, threadID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying explicit archive: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating id rows: %w", err)
	}
	return ids, nil
}
