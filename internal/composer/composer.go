// ABOUTME: Read-only adapter over the IDE's workspace-storage SQLite file
// ABOUTME: Parses the composer catalog and exposes id/name/archive/recency views

package composer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// composerDataKey is the ItemTable key holding the conversation catalog.
const composerDataKey = "composer.composerData"

// ErrUnavailable is returned when the storage file is missing, locked, or
// mid-write. Callers treat it as "no data this tick" and retry later.
var ErrUnavailable = errors.New("conversation store unavailable")

// ErrNotFound is returned when a conversation id is not in the catalog.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one entry of the IDE's composer catalog.
type Conversation struct {
	ID            string
	Name          string
	CreatedAt     time.Time // zero when the IDE omitted it
	LastUpdatedAt time.Time // zero when the IDE omitted it
	UnifiedMode   string
	Archived      bool
	Draft         bool
}

// Ranked is a conversation's position in the descending-recency view.
type Ranked struct {
	ID            string
	LastUpdatedAt time.Time
	Position      int
}

// Store reads the IDE's conversation catalog. Each query opens the file
// read-only and closes it again so the IDE's own writes are never blocked.
type Store struct {
	dbPath string
	logger *slog.Logger
}

// NewStore creates a Store over the given state.vscdb path.
func NewStore(dbPath string) *Store {
	return &Store{
		dbPath: dbPath,
		logger: slog.Default().With("component", "composer-store"),
	}
}

// DBPath returns the backing database file path.
func (s *Store) DBPath() string { return s.dbPath }

// WALPath returns the write-ahead log path next to the database file.
// The IDE creates it lazily, so it may not exist yet.
func (s *Store) WALPath() string { return s.dbPath + "-wal" }

// AllIDs returns every non-draft conversation id, archived or not.
func (s *Store) AllIDs(ctx context.Context) ([]string, error) {
	convs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Name returns the conversation's title with surrounding whitespace
// trimmed; an unnamed conversation yields the empty string. Unknown ids
// return ErrNotFound.
func (s *Store) Name(ctx context.Context, id string) (string, error) {
	convs, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range convs {
		if c.ID == id {
			return c.Name, nil
		}
	}
	return "", ErrNotFound
}

// AllNames returns id to title for every conversation with a non-empty name.
func (s *Store) AllNames(ctx context.Context) (map[string]string, error) {
	convs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, c := range convs {
		if c.Name != "" {
			names[c.ID] = c.Name
		}
	}
	return names, nil
}

// ArchivedIDs returns the set of conversations the IDE has archived.
func (s *Store) ArchivedIDs(ctx context.Context) (map[string]bool, error) {
	convs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	archived := make(map[string]bool)
	for _, c := range convs {
		if c.Archived {
			archived[c.ID] = true
		}
	}
	return archived, nil
}

// ActiveRankedByRecency returns non-archived conversations ordered by
// lastUpdatedAt descending. Entries without a timestamp sort last.
// Positions are assigned 0..n-1 in the returned order.
func (s *Store) ActiveRankedByRecency(ctx context.Context) ([]Ranked, error) {
	convs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	active := convs[:0:0]
	for _, c := range convs {
		if !c.Archived {
			active = append(active, c)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i].LastUpdatedAt, active[j].LastUpdatedAt
		switch {
		case a.IsZero() && b.IsZero():
			return false
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})

	ranked := make([]Ranked, len(active))
	for i, c := range active {
		ranked[i] = Ranked{ID: c.ID, LastUpdatedAt: c.LastUpdatedAt, Position: i}
	}
	return ranked, nil
}

// Conversations returns the full parsed catalog, drafts excluded.
func (s *Store) Conversations(ctx context.Context) ([]Conversation, error) {
	return s.load(ctx)
}

// load opens the database read-only and parses the composer catalog.
// A missing catalog key yields an empty slice, not an error.
func (s *Store) load(ctx context.Context) ([]Conversation, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(200)", s.dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening: %v", ErrUnavailable, err)
	}
	defer db.Close()

	var raw []byte
	err = db.QueryRowContext(ctx,
		`SELECT value FROM ItemTable WHERE key = ?`, composerDataKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("querying composer data: %w", err)
	}

	return parseCatalog(raw)
}

// isTransient reports the lock/busy errors the IDE's own writes cause.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

type catalogJSON struct {
	AllComposers []composerJSON `json:"allComposers"`
}

type composerJSON struct {
	ComposerID    string   `json:"composerId"`
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CreatedAt     *float64 `json:"createdAt"`
	LastUpdatedAt *float64 `json:"lastUpdatedAt"`
	UnifiedMode   string   `json:"unifiedMode"`
	IsArchived    bool     `json:"isArchived"`
	IsDraft       bool     `json:"isDraft"`
}

func parseCatalog(raw []byte) ([]Conversation, error) {
	var catalog catalogJSON
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parsing composer data: %w", err)
	}

	convs := make([]Conversation, 0, len(catalog.AllComposers))
	for _, c := range catalog.AllComposers {
		id := c.ComposerID
		if id == "" {
			id = c.ID
		}
		if id == "" || c.IsDraft {
			continue
		}
		convs = append(convs, Conversation{
			ID:            id,
			Name:          strings.TrimSpace(c.Name),
			CreatedAt:     msToTime(c.CreatedAt),
			LastUpdatedAt: msToTime(c.LastUpdatedAt),
			UnifiedMode:   c.UnifiedMode,
			Archived:      c.IsArchived,
			Draft:         c.IsDraft,
		})
	}
	return convs, nil
}

func msToTime(ms *float64) time.Time {
	if ms == nil || *ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(*ms))
}
