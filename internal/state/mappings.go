// ABOUTME: Mapping persistence for conversation-to-thread bindings
// ABOUTME: Implements uniqueness on both keys, claim stamping, and freshness scans

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Mapping timestamps are stored at fixed-width nanosecond precision.
// The resolve freshness window is compared at millisecond granularity,
// and the fixed width keeps lexicographic SQL comparisons correct
// (RFC3339Nano trims trailing zeros, which would not sort).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PutMapping inserts a new mapping. Both the conversation id and the
// thread id must be unused; violations return ErrDuplicateMapping.
func (s *SQLiteStore) PutMapping(ctx context.Context, m *Mapping) error {
	query := `
		INSERT INTO mappings (conversation_id, thread_id, workspace, created_at, claimed_at, stale)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ConversationID,
		m.ThreadID,
		m.Workspace,
		m.CreatedAt.UTC().Format(timeLayout),
		nullTime(m.ClaimedAt),
		boolToInt(m.Stale),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMapping
		}
		return fmt.Errorf("inserting mapping: %w", err)
	}

	s.logger.Debug("created mapping", "conversation_id", m.ConversationID, "thread_id", m.ThreadID)
	return nil
}

// GetMapping retrieves a mapping by conversation id.
// Returns ErrNotFound if no mapping exists.
func (s *SQLiteStore) GetMapping(ctx context.Context, conversationID string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, thread_id, workspace, created_at, claimed_at, stale
		FROM mappings WHERE conversation_id = ?
	`, conversationID)
	return scanMapping(row)
}

// GetMappingByThread retrieves a mapping by thread id.
// Returns ErrNotFound if no mapping exists.
func (s *SQLiteStore) GetMappingByThread(ctx context.Context, threadID string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, thread_id, workspace, created_at, claimed_at, stale
		FROM mappings WHERE thread_id = ?
	`, threadID)
	return scanMapping(row)
}

// ListMappings returns every mapping, newest first.
func (s *SQLiteStore) ListMappings(ctx context.Context) ([]*Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, thread_id, workspace, created_at, claimed_at, stale
		FROM mappings
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// ListUnclaimedSince returns unclaimed mappings created at or after
// cutoff, ordered newest first.
func (s *SQLiteStore) ListUnclaimedSince(ctx context.Context, cutoff time.Time) ([]*Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, thread_id, workspace, created_at, claimed_at, stale
		FROM mappings
		WHERE claimed_at IS NULL AND created_at >= ?
		ORDER BY created_at DESC
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying unclaimed mappings: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows)
}

// MarkClaimed stamps claimed_at on an unclaimed mapping. A mapping that
// is already claimed keeps its original stamp; the call still succeeds.
// Returns ErrNotFound when the conversation has no mapping at all.
func (s *SQLiteStore) MarkClaimed(ctx context.Context, conversationID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mappings SET claimed_at = ?
		WHERE conversation_id = ? AND claimed_at IS NULL
	`, at.UTC().Format(timeLayout), conversationID)
	if err != nil {
		return fmt.Errorf("claiming mapping: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish "already claimed" (fine) from "no such mapping".
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM mappings WHERE conversation_id = ?`, conversationID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking mapping existence: %w", err)
		}
		return nil
	}

	s.logger.Debug("claimed mapping", "conversation_id", conversationID)
	return nil
}

// TryClaim stamps claimed_at iff it is still unset, reporting whether
// this call won the claim. The single conditional UPDATE makes the
// check-and-set atomic under concurrent resolvers.
func (s *SQLiteStore) TryClaim(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mappings SET claimed_at = ?
		WHERE conversation_id = ? AND claimed_at IS NULL
	`, at.UTC().Format(timeLayout), conversationID)
	if err != nil {
		return false, fmt.Errorf("claiming mapping: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("claimed mapping", "conversation_id", conversationID)
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mappings WHERE conversation_id = ?`, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checking mapping existence: %w", err)
	}
	return false, nil
}

// MarkMappingStale flags or unflags a mapping whose thread could not be
// fetched. Returns ErrNotFound when the conversation has no mapping.
func (s *SQLiteStore) MarkMappingStale(ctx context.Context, conversationID string, stale bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mappings SET stale = ? WHERE conversation_id = ?
	`, boolToInt(stale), conversationID)
	if err != nil {
		return fmt.Errorf("marking mapping stale: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMapping(row *sql.Row) (*Mapping, error) {
	var m Mapping
	var createdAt string
	var claimedAt sql.NullString
	var stale int

	err := row.Scan(&m.ConversationID, &m.ThreadID, &m.Workspace, &createdAt, &claimedAt, &stale)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning mapping: %w", err)
	}

	m.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if claimedAt.Valid {
		t, err := time.Parse(timeLayout, claimedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing claimed_at: %w", err)
		}
		m.ClaimedAt = &t
	}
	m.Stale = stale != 0

	return &m, nil
}

func collectMappings(rows *sql.Rows) ([]*Mapping, error) {
	var mappings []*Mapping
	for rows.Next() {
		var m Mapping
		var createdAt string
		var claimedAt sql.NullString
		var stale int

		if err := rows.Scan(&m.ConversationID, &m.ThreadID, &m.Workspace, &createdAt, &claimedAt, &stale); err != nil {
			return nil, fmt.Errorf("scanning mapping row: %w", err)
		}

		var err error
		m.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if claimedAt.Valid {
			t, err := time.Parse(timeLayout, claimedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing claimed_at: %w", err)
			}
			m.ClaimedAt = &t
		}
		m.Stale = stale != 0

		mappings = append(mappings, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mapping rows: %w", err)
	}
	return mappings, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
