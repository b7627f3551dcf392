// ABOUTME: Tests for the name sync reconciler
// ABOUTME: Seed-from-chat-service, stale sentinels, placeholder renames, fixed point

package namesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

type fakeNames struct {
	mu    sync.Mutex
	names map[string]string
}

func (f *fakeNames) AllNames(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.names))
	for k, v := range f.names {
		out[k] = v
	}
	return out, nil
}

func (f *fakeNames) set(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[id] = name
}

type fakeThreads struct {
	mu      sync.Mutex
	names   map[string]string // threadID -> name; absent means not fetchable
	renames []string          // "threadID=name"
}

func (f *fakeThreads) ThreadName(ctx context.Context, threadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[threadID]
	if !ok {
		return "", discord.ErrNotFound
	}
	return name, nil
}

func (f *fakeThreads) RenameThread(ctx context.Context, threadID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.names[threadID]; !ok {
		return discord.ErrNotFound
	}
	f.names[threadID] = name
	f.renames = append(f.renames, threadID+"="+name)
	return nil
}

func (f *fakeThreads) renameLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.renames...)
}

func newTestSyncer(t *testing.T) (*Syncer, *fakeNames, *fakeThreads, *state.MockStore) {
	t.Helper()
	st := state.NewMockStore()
	convs := &fakeNames{names: map[string]string{}}
	threads := &fakeThreads{names: map[string]string{}}
	s := New(st, convs, threads, nil, 10*time.Millisecond, time.Hour, time.Hour, nil)
	return s, convs, threads, st
}

func addMapping(t *testing.T, st *state.MockStore, conv, thread string) {
	t.Helper()
	require.NoError(t, st.PutMapping(context.Background(), &state.Mapping{
		ConversationID: conv,
		ThreadID:       thread,
		Workspace:      "demo",
		CreatedAt:      time.Now(),
	}))
}

func TestSeedDetectsStartupMismatchAndStaleThreads(t *testing.T) {
	s, convs, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	addMapping(t, st, "C2", "T2")
	threads.names["T1"] = "Old"
	// T2 is not fetchable.

	require.NoError(t, s.Seed(ctx))
	assert.Equal(t, "Old", s.cache["C1"])
	assert.Equal(t, "__STALE__C2", s.cache["C2"])

	m2, err := st.GetMapping(ctx, "C2")
	require.NoError(t, err)
	assert.True(t, m2.Stale)

	convs.set("C1", "New")
	convs.set("C2", "Rename me")
	s.SyncPass(ctx)

	assert.Equal(t, []string{"T1=New"}, threads.renameLog(), "only the fetchable thread is renamed")
	assert.Equal(t, "New", s.cache["C1"])
	assert.Equal(t, "__STALE__C2", s.cache["C2"], "stale sentinel is never overwritten")

	// Later passes never touch T2 either.
	s.SyncPass(ctx)
	assert.Equal(t, []string{"T1=New"}, threads.renameLog())
}

func TestSyncPassReachesFixedPoint(t *testing.T) {
	s, convs, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	threads.names["T1"] = "Old"
	require.NoError(t, s.Seed(ctx))

	convs.set("C1", "Final")
	s.SyncPass(ctx)
	s.SyncPass(ctx)
	s.SyncPass(ctx)

	assert.Equal(t, []string{"T1=Final"}, threads.renameLog(), "repeated passes must not re-rename")
}

func TestPlaceholderIsAlwaysRenamed(t *testing.T) {
	s, convs, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	threads.names["T1"] = discord.PlaceholderThreadName
	require.NoError(t, s.Seed(ctx))

	convs.set("C1", "Real title")
	s.SyncPass(ctx)

	assert.Equal(t, []string{"T1=Real title"}, threads.renameLog())
}

func TestUnnamedConversationsAreSkipped(t *testing.T) {
	s, _, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	threads.names["T1"] = "Whatever"
	require.NoError(t, s.Seed(ctx))

	s.SyncPass(ctx)
	assert.Empty(t, threads.renameLog())
}

func TestRenameFailureMarksStale(t *testing.T) {
	s, convs, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	threads.names["T1"] = "Old"
	require.NoError(t, s.Seed(ctx))

	// Thread deleted between seed and sync.
	threads.mu.Lock()
	delete(threads.names, "T1")
	threads.mu.Unlock()

	convs.set("C1", "New")
	s.SyncPass(ctx)

	assert.Equal(t, "__STALE__C1", s.cache["C1"])
	m, err := st.GetMapping(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, m.Stale)

	// No retry on later passes.
	s.SyncPass(ctx)
	assert.Empty(t, threads.renameLog())
}

func TestInvalidateAllowsRevalidation(t *testing.T) {
	s, convs, threads, st := newTestSyncer(t)
	ctx := context.Background()

	addMapping(t, st, "C1", "T1")
	require.NoError(t, s.Seed(ctx))
	require.Equal(t, "__STALE__C1", s.cache["C1"])

	// The thread reappears and the mapping is re-validated.
	threads.mu.Lock()
	threads.names["T1"] = "Old"
	threads.mu.Unlock()
	require.NoError(t, st.MarkMappingStale(ctx, "C1", false))
	s.Invalidate("C1")

	convs.set("C1", "New")
	s.SyncPass(ctx)
	assert.Equal(t, []string{"T1=New"}, threads.renameLog())
}
