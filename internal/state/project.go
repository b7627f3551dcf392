// ABOUTME: Project config and secrets persistence
// ABOUTME: Per-workspace channel binding plus the stored bot credential

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetProjectConfig upserts the per-workspace channel binding.
func (s *SQLiteStore) SetProjectConfig(ctx context.Context, pc *ProjectConfig) error {
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO project_config (workspace, guild_id, guild_name, channel_id, channel_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		pc.Workspace,
		pc.GuildID,
		pc.GuildName,
		pc.ChannelID,
		pc.ChannelName,
		pc.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving project config: %w", err)
	}

	s.logger.Debug("saved project config", "workspace", pc.Workspace, "channel_id", pc.ChannelID)
	return nil
}

// GetProjectConfig returns the channel binding for a workspace.
// Returns ErrNotFound when setup has not run for this workspace.
func (s *SQLiteStore) GetProjectConfig(ctx context.Context, workspace string) (*ProjectConfig, error) {
	var pc ProjectConfig
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT workspace, guild_id, guild_name, channel_id, channel_name, created_at
		FROM project_config WHERE workspace = ?
	`, workspace).Scan(&pc.Workspace, &pc.GuildID, &pc.GuildName, &pc.ChannelID, &pc.ChannelName, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project config: %w", err)
	}

	pc.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &pc, nil
}

// SetSecret stores or replaces a secret value.
func (s *SQLiteStore) SetSecret(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO secrets (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("saving secret: %w", err)
	}
	s.logger.Debug("saved secret", "key", key)
	return nil
}

// GetSecret returns a stored secret value.
// Returns ErrNotFound when the key has never been set.
func (s *SQLiteStore) GetSecret(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying secret: %w", err)
	}
	return value, nil
}
