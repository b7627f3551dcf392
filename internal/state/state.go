// ABOUTME: Store interface and data types for cursor-discord-bridge persistence
// ABOUTME: Defines Mapping, ProjectConfig and the Store interface for database operations

package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMapping is returned when a mapping would violate the
// one-conversation-one-thread uniqueness rules.
var ErrDuplicateMapping = errors.New("mapping already exists")

// SecretBotToken is the secrets key holding the Discord bot credential.
const SecretBotToken = "discord.botToken"

// Mapping binds one IDE conversation to one Discord thread. Both sides
// are unique keys. ClaimedAt is set once, the first time an external
// agent resolves the mapping, and never cleared.
type Mapping struct {
	ConversationID string
	ThreadID       string
	Workspace      string
	CreatedAt      time.Time
	ClaimedAt      *time.Time
	// Stale marks mappings whose thread could not be fetched. They are
	// kept for manual operations but skipped by sync passes.
	Stale bool
}

// Claimed reports whether the mapping has ever been resolved by an agent.
func (m *Mapping) Claimed() bool {
	return m.ClaimedAt != nil
}

// ProjectConfig is the per-workspace record naming the Discord channel
// threads are created under.
type ProjectConfig struct {
	Workspace   string
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	CreatedAt   time.Time
}

// Store defines the persistence interface for the bridge daemon.
// All implementations must be safe for concurrent use.
type Store interface {
	// Mappings
	PutMapping(ctx context.Context, m *Mapping) error
	GetMapping(ctx context.Context, conversationID string) (*Mapping, error)
	GetMappingByThread(ctx context.Context, threadID string) (*Mapping, error)
	ListMappings(ctx context.Context) ([]*Mapping, error)
	// ListUnclaimedSince returns unclaimed mappings created at or after
	// cutoff, newest first.
	ListUnclaimedSince(ctx context.Context, cutoff time.Time) ([]*Mapping, error)
	// MarkClaimed stamps claimed_at exactly once; calling it again is a
	// no-op. Returns ErrNotFound when no such mapping exists.
	MarkClaimed(ctx context.Context, conversationID string, at time.Time) error
	// TryClaim atomically stamps claimed_at iff it is unset. Reports
	// whether this call performed the claim; false means another caller
	// got there first. Returns ErrNotFound when no such mapping exists.
	TryClaim(ctx context.Context, conversationID string, at time.Time) (bool, error)
	MarkMappingStale(ctx context.Context, conversationID string, stale bool) error

	// Seen conversation ids (all-time; dedupes thread creation)
	SeenConversations(ctx context.Context) ([]string, error)
	AddSeenConversations(ctx context.Context, ids ...string) error

	// Conversations whose archive state has been mirrored to Discord
	ArchivedConversations(ctx context.Context) ([]string, error)
	AddArchivedConversation(ctx context.Context, id string) error
	RemoveArchivedConversation(ctx context.Context, id string) error

	// Thread activity (local posts and inbound user messages)
	SetThreadActivity(ctx context.Context, threadID string, at time.Time) error
	ThreadActivity(ctx context.Context, threadID string) (time.Time, error)

	// Threads the user archived in Discord; exempt from auto-reopen
	AddExplicitArchive(ctx context.Context, threadID string) error
	RemoveExplicitArchive(ctx context.Context, threadID string) error
	IsExplicitArchive(ctx context.Context, threadID string) (bool, error)

	// Per-workspace channel binding
	SetProjectConfig(ctx context.Context, pc *ProjectConfig) error
	GetProjectConfig(ctx context.Context, workspace string) (*ProjectConfig, error)

	// Secrets (bot token)
	SetSecret(ctx context.Context, key, value string) error
	GetSecret(ctx context.Context, key string) (string, error)

	// Close releases any resources held by the store
	Close() error
}
