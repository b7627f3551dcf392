// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers mapping CRUD, claim idempotence, freshness scans, and set tables

package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "state.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "state.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestPutAndGetMapping(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	created := time.Now().UTC()
	m := &Mapping{
		ConversationID: "conv-123",
		ThreadID:       "111111111111111111",
		Workspace:      "widget",
		CreatedAt:      created,
	}

	if err := store.PutMapping(ctx, m); err != nil {
		t.Fatalf("PutMapping failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "conv-123")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if got.ThreadID != m.ThreadID {
		t.Errorf("ThreadID = %q, want %q", got.ThreadID, m.ThreadID)
	}
	if got.Workspace != "widget" {
		t.Errorf("Workspace = %q, want %q", got.Workspace, "widget")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.ClaimedAt != nil {
		t.Errorf("ClaimedAt = %v, want nil", got.ClaimedAt)
	}
	if got.Stale {
		t.Error("Stale = true, want false")
	}

	byThread, err := store.GetMappingByThread(ctx, "111111111111111111")
	if err != nil {
		t.Fatalf("GetMappingByThread failed: %v", err)
	}
	if byThread.ConversationID != "conv-123" {
		t.Errorf("ConversationID = %q, want %q", byThread.ConversationID, "conv-123")
	}
}

func TestGetMapping_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetMapping(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("GetMapping error = %v, want ErrNotFound", err)
	}

	_, err = store.GetMappingByThread(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("GetMappingByThread error = %v, want ErrNotFound", err)
	}
}

func TestPutMapping_DuplicateConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	first := &Mapping{ConversationID: "conv-1", ThreadID: "t-1", Workspace: "w", CreatedAt: now}
	if err := store.PutMapping(ctx, first); err != nil {
		t.Fatalf("PutMapping failed: %v", err)
	}

	dupConv := &Mapping{ConversationID: "conv-1", ThreadID: "t-2", Workspace: "w", CreatedAt: now}
	if err := store.PutMapping(ctx, dupConv); err != ErrDuplicateMapping {
		t.Errorf("PutMapping duplicate conversation error = %v, want ErrDuplicateMapping", err)
	}

	dupThread := &Mapping{ConversationID: "conv-2", ThreadID: "t-1", Workspace: "w", CreatedAt: now}
	if err := store.PutMapping(ctx, dupThread); err != ErrDuplicateMapping {
		t.Errorf("PutMapping duplicate thread error = %v, want ErrDuplicateMapping", err)
	}
}

func TestMarkClaimed_Idempotent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	created := time.Now().UTC()
	m := &Mapping{ConversationID: "conv-1", ThreadID: "t-1", Workspace: "w", CreatedAt: created}
	if err := store.PutMapping(ctx, m); err != nil {
		t.Fatalf("PutMapping failed: %v", err)
	}

	firstClaim := created.Add(time.Second)
	if err := store.MarkClaimed(ctx, "conv-1", firstClaim); err != nil {
		t.Fatalf("MarkClaimed failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if got.ClaimedAt == nil || !got.ClaimedAt.Equal(firstClaim) {
		t.Fatalf("ClaimedAt = %v, want %v", got.ClaimedAt, firstClaim)
	}
	if got.ClaimedAt.Before(got.CreatedAt) {
		t.Errorf("ClaimedAt %v precedes CreatedAt %v", got.ClaimedAt, got.CreatedAt)
	}

	// Second claim does not move the stamp.
	if err := store.MarkClaimed(ctx, "conv-1", firstClaim.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkClaimed failed: %v", err)
	}
	got, err = store.GetMapping(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if !got.ClaimedAt.Equal(firstClaim) {
		t.Errorf("ClaimedAt moved to %v after second claim, want %v", got.ClaimedAt, firstClaim)
	}
}

func TestMarkClaimed_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.MarkClaimed(context.Background(), "missing", time.Now())
	if err != ErrNotFound {
		t.Errorf("MarkClaimed error = %v, want ErrNotFound", err)
	}
}

func TestListUnclaimedSince(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	mappings := []*Mapping{
		{ConversationID: "old", ThreadID: "t-old", Workspace: "w", CreatedAt: now.Add(-2 * time.Minute)},
		{ConversationID: "fresh-1", ThreadID: "t-f1", Workspace: "w", CreatedAt: now.Add(-20 * time.Second)},
		{ConversationID: "fresh-2", ThreadID: "t-f2", Workspace: "w", CreatedAt: now.Add(-5 * time.Second)},
		{ConversationID: "claimed", ThreadID: "t-c", Workspace: "w", CreatedAt: now.Add(-time.Second)},
	}
	for _, m := range mappings {
		if err := store.PutMapping(ctx, m); err != nil {
			t.Fatalf("PutMapping(%s) failed: %v", m.ConversationID, err)
		}
	}
	if err := store.MarkClaimed(ctx, "claimed", now); err != nil {
		t.Fatalf("MarkClaimed failed: %v", err)
	}

	got, err := store.ListUnclaimedSince(ctx, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("ListUnclaimedSince failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("ListUnclaimedSince returned %d mappings, want 2", len(got))
	}
	// Newest first.
	if got[0].ConversationID != "fresh-2" || got[1].ConversationID != "fresh-1" {
		t.Errorf("order = [%s, %s], want [fresh-2, fresh-1]", got[0].ConversationID, got[1].ConversationID)
	}
}

func TestListUnclaimedSince_SubSecondBoundary(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	// One millisecond past the window must be excluded.
	past := &Mapping{ConversationID: "past", ThreadID: "t-p", Workspace: "w",
		CreatedAt: now.Add(-30*time.Second - time.Millisecond)}
	edge := &Mapping{ConversationID: "edge", ThreadID: "t-e", Workspace: "w",
		CreatedAt: now.Add(-30 * time.Second)}
	for _, m := range []*Mapping{past, edge} {
		if err := store.PutMapping(ctx, m); err != nil {
			t.Fatalf("PutMapping failed: %v", err)
		}
	}

	got, err := store.ListUnclaimedSince(ctx, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("ListUnclaimedSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ConversationID != "edge" {
		ids := make([]string, len(got))
		for i, m := range got {
			ids[i] = m.ConversationID
		}
		t.Errorf("ListUnclaimedSince = %v, want [edge]", ids)
	}
}

func TestMarkMappingStale(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	m := &Mapping{ConversationID: "conv-1", ThreadID: "t-1", Workspace: "w", CreatedAt: time.Now().UTC()}
	if err := store.PutMapping(ctx, m); err != nil {
		t.Fatalf("PutMapping failed: %v", err)
	}

	if err := store.MarkMappingStale(ctx, "conv-1", true); err != nil {
		t.Fatalf("MarkMappingStale failed: %v", err)
	}
	got, err := store.GetMapping(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if !got.Stale {
		t.Error("Stale = false after MarkMappingStale(true)")
	}

	if err := store.MarkMappingStale(ctx, "missing", true); err != ErrNotFound {
		t.Errorf("MarkMappingStale error = %v, want ErrNotFound", err)
	}
}

func TestSeenConversations(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.AddSeenConversations(ctx, "a", "b", "c"); err != nil {
		t.Fatalf("AddSeenConversations failed: %v", err)
	}
	// Re-adding is a no-op, not an error.
	if err := store.AddSeenConversations(ctx, "b", "d"); err != nil {
		t.Fatalf("AddSeenConversations (repeat) failed: %v", err)
	}

	ids, err := store.SeenConversations(ctx)
	if err != nil {
		t.Fatalf("SeenConversations failed: %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("SeenConversations len = %d, want 4 (%v)", len(ids), ids)
	}
}

func TestArchivedConversations(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.AddArchivedConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("AddArchivedConversation failed: %v", err)
	}
	if err := store.AddArchivedConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("AddArchivedConversation (repeat) failed: %v", err)
	}

	ids, err := store.ArchivedConversations(ctx)
	if err != nil {
		t.Fatalf("ArchivedConversations failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "conv-1" {
		t.Errorf("ArchivedConversations = %v, want [conv-1]", ids)
	}

	if err := store.RemoveArchivedConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("RemoveArchivedConversation failed: %v", err)
	}
	ids, err = store.ArchivedConversations(ctx)
	if err != nil {
		t.Fatalf("ArchivedConversations failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ArchivedConversations after remove = %v, want empty", ids)
	}
}

func TestThreadActivity(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.ThreadActivity(ctx, "t-1")
	if err != ErrNotFound {
		t.Errorf("ThreadActivity error = %v, want ErrNotFound", err)
	}

	at := time.Now().Truncate(time.Millisecond)
	if err := store.SetThreadActivity(ctx, "t-1", at); err != nil {
		t.Fatalf("SetThreadActivity failed: %v", err)
	}

	got, err := store.ThreadActivity(ctx, "t-1")
	if err != nil {
		t.Fatalf("ThreadActivity failed: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("ThreadActivity = %v, want %v", got, at)
	}

	// Overwrites keep the newest stamp.
	later := at.Add(time.Minute)
	if err := store.SetThreadActivity(ctx, "t-1", later); err != nil {
		t.Fatalf("SetThreadActivity (update) failed: %v", err)
	}
	got, err = store.ThreadActivity(ctx, "t-1")
	if err != nil {
		t.Fatalf("ThreadActivity failed: %v", err)
	}
	if !got.Equal(later) {
		t.Errorf("ThreadActivity = %v, want %v", got, later)
	}
}

func TestExplicitArchive(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	flagged, err := store.IsExplicitArchive(ctx, "t-1")
	if err != nil {
		t.Fatalf("IsExplicitArchive failed: %v", err)
	}
	if flagged {
		t.Error("IsExplicitArchive = true for unknown thread")
	}

	if err := store.AddExplicitArchive(ctx, "t-1"); err != nil {
		t.Fatalf("AddExplicitArchive failed: %v", err)
	}
	flagged, err = store.IsExplicitArchive(ctx, "t-1")
	if err != nil {
		t.Fatalf("IsExplicitArchive failed: %v", err)
	}
	if !flagged {
		t.Error("IsExplicitArchive = false after add")
	}

	if err := store.RemoveExplicitArchive(ctx, "t-1"); err != nil {
		t.Fatalf("RemoveExplicitArchive failed: %v", err)
	}
	flagged, err = store.IsExplicitArchive(ctx, "t-1")
	if err != nil {
		t.Fatalf("IsExplicitArchive failed: %v", err)
	}
	if flagged {
		t.Error("IsExplicitArchive = true after remove")
	}
}

func TestProjectConfig(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.GetProjectConfig(ctx, "widget")
	if err != ErrNotFound {
		t.Errorf("GetProjectConfig error = %v, want ErrNotFound", err)
	}

	pc := &ProjectConfig{
		Workspace:   "widget",
		GuildID:     "999999999999999999",
		GuildName:   "devs",
		ChannelID:   "888888888888888888",
		ChannelName: "widget-bridge",
	}
	if err := store.SetProjectConfig(ctx, pc); err != nil {
		t.Fatalf("SetProjectConfig failed: %v", err)
	}

	got, err := store.GetProjectConfig(ctx, "widget")
	if err != nil {
		t.Fatalf("GetProjectConfig failed: %v", err)
	}
	if got.ChannelID != pc.ChannelID || got.GuildID != pc.GuildID {
		t.Errorf("GetProjectConfig = %+v, want %+v", got, pc)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted on save")
	}

	// Upsert replaces the binding.
	pc.ChannelID = "777777777777777777"
	if err := store.SetProjectConfig(ctx, pc); err != nil {
		t.Fatalf("SetProjectConfig (update) failed: %v", err)
	}
	got, err = store.GetProjectConfig(ctx, "widget")
	if err != nil {
		t.Fatalf("GetProjectConfig failed: %v", err)
	}
	if got.ChannelID != "777777777777777777" {
		t.Errorf("ChannelID = %q after upsert, want updated value", got.ChannelID)
	}
}

func TestSecrets(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.GetSecret(ctx, SecretBotToken)
	if err != ErrNotFound {
		t.Errorf("GetSecret error = %v, want ErrNotFound", err)
	}

	if err := store.SetSecret(ctx, SecretBotToken, "abc123"); err != nil {
		t.Fatalf("SetSecret failed: %v", err)
	}
	v, err := store.GetSecret(ctx, SecretBotToken)
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if v != "abc123" {
		t.Errorf("GetSecret = %q, want %q", v, "abc123")
	}

	if err := store.SetSecret(ctx, SecretBotToken, "rotated"); err != nil {
		t.Fatalf("SetSecret (update) failed: %v", err)
	}
	v, err = store.GetSecret(ctx, SecretBotToken)
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if v != "rotated" {
		t.Errorf("GetSecret = %q, want %q", v, "rotated")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "state.db")

	ctx := context.Background()
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		m := &Mapping{
			ConversationID: fmt.Sprintf("conv-%d", i),
			ThreadID:       fmt.Sprintf("t-%d", i),
			Workspace:      "w",
			CreatedAt:      time.Now().UTC(),
		}
		if err := store.PutMapping(ctx, m); err != nil {
			t.Fatalf("PutMapping failed: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (reopen) failed: %v", err)
	}
	defer reopened.Close()

	mappings, err := reopened.ListMappings(ctx)
	if err != nil {
		t.Fatalf("ListMappings failed: %v", err)
	}
	if len(mappings) != 3 {
		t.Errorf("ListMappings after reopen = %d mappings, want 3", len(mappings))
	}
}
