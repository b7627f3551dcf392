// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu              sync.RWMutex
	mappings        map[string]*Mapping // keyed by conversation id
	threadIndex     map[string]string   // thread id -> conversation id
	seen            map[string]bool
	archived        map[string]bool
	activity        map[string]time.Time
	explicitArchive map[string]bool
	projects        map[string]*ProjectConfig
	secrets         map[string]string
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		mappings:        make(map[string]*Mapping),
		threadIndex:     make(map[string]string),
		seen:            make(map[string]bool),
		archived:        make(map[string]bool),
		activity:        make(map[string]time.Time),
		explicitArchive: make(map[string]bool),
		projects:        make(map[string]*ProjectConfig),
		secrets:         make(map[string]string),
	}
}

// PutMapping stores a new mapping, enforcing uniqueness on both keys.
func (m *MockStore) PutMapping(ctx context.Context, mapping *Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mappings[mapping.ConversationID]; ok {
		return ErrDuplicateMapping
	}
	if _, ok := m.threadIndex[mapping.ThreadID]; ok {
		return ErrDuplicateMapping
	}

	// Make a copy to avoid external modification
	cp := *mapping
	if cp.ClaimedAt != nil {
		t := *cp.ClaimedAt
		cp.ClaimedAt = &t
	}
	m.mappings[cp.ConversationID] = &cp
	m.threadIndex[cp.ThreadID] = cp.ConversationID
	return nil
}

// GetMapping retrieves a mapping by conversation id.
func (m *MockStore) GetMapping(ctx context.Context, conversationID string) (*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mapping, ok := m.mappings[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMapping(mapping), nil
}

// GetMappingByThread retrieves a mapping by thread id.
func (m *MockStore) GetMappingByThread(ctx context.Context, threadID string) (*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convID, ok := m.threadIndex[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMapping(m.mappings[convID]), nil
}

// ListMappings returns every mapping, newest first.
func (m *MockStore) ListMappings(ctx context.Context) ([]*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Mapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		out = append(out, copyMapping(mapping))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListUnclaimedSince returns unclaimed mappings created at or after cutoff, newest first.
func (m *MockStore) ListUnclaimedSince(ctx context.Context, cutoff time.Time) ([]*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Mapping
	for _, mapping := range m.mappings {
		if mapping.ClaimedAt == nil && !mapping.CreatedAt.Before(cutoff) {
			out = append(out, copyMapping(mapping))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkClaimed stamps claimed_at exactly once.
func (m *MockStore) MarkClaimed(ctx context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.mappings[conversationID]
	if !ok {
		return ErrNotFound
	}
	if mapping.ClaimedAt == nil {
		t := at
		mapping.ClaimedAt = &t
	}
	return nil
}

// TryClaim stamps claimed_at iff unset, reporting whether this call won.
func (m *MockStore) TryClaim(ctx context.Context, conversationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.mappings[conversationID]
	if !ok {
		return false, ErrNotFound
	}
	if mapping.ClaimedAt != nil {
		return false, nil
	}
	t := at
	mapping.ClaimedAt = &t
	return true, nil
}

// MarkMappingStale flags a mapping whose thread vanished.
func (m *MockStore) MarkMappingStale(ctx context.Context, conversationID string, stale bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.mappings[conversationID]
	if !ok {
		return ErrNotFound
	}
	mapping.Stale = stale
	return nil
}

// SeenConversations returns all observed conversation ids.
func (m *MockStore) SeenConversations(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return setToSlice(m.seen), nil
}

// AddSeenConversations records ids as observed.
func (m *MockStore) AddSeenConversations(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.seen[id] = true
	}
	return nil
}

// ArchivedConversations returns mirrored-archived ids.
func (m *MockStore) ArchivedConversations(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return setToSlice(m.archived), nil
}

// AddArchivedConversation records a conversation as mirrored-archived.
func (m *MockStore) AddArchivedConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[id] = true
	return nil
}

// RemoveArchivedConversation drops a conversation from the mirrored set.
func (m *MockStore) RemoveArchivedConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archived, id)
	return nil
}

// SetThreadActivity records last local activity.
func (m *MockStore) SetThreadActivity(ctx context.Context, threadID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[threadID] = at
	return nil
}

// ThreadActivity returns last recorded activity.
func (m *MockStore) ThreadActivity(ctx context.Context, threadID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.activity[threadID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

// AddExplicitArchive marks a thread user-archived.
func (m *MockStore) AddExplicitArchive(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explicitArchive[threadID] = true
	return nil
}

// RemoveExplicitArchive clears the user-archived flag.
func (m *MockStore) RemoveExplicitArchive(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.explicitArchive, threadID)
	return nil
}

// IsExplicitArchive reports the user-archived flag.
func (m *MockStore) IsExplicitArchive(ctx context.Context, threadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.explicitArchive[threadID], nil
}

// SetProjectConfig upserts the workspace channel binding.
func (m *MockStore) SetProjectConfig(ctx context.Context, pc *ProjectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pc
	m.projects[pc.Workspace] = &cp
	return nil
}

// GetProjectConfig returns the workspace channel binding.
func (m *MockStore) GetProjectConfig(ctx context.Context, workspace string) (*ProjectConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.projects[workspace]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pc
	return &cp, nil
}

// SetSecret stores a secret value.
func (m *MockStore) SetSecret(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

// GetSecret returns a stored secret value.
func (m *MockStore) GetSecret(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

func copyMapping(m *Mapping) *Mapping {
	cp := *m
	if cp.ClaimedAt != nil {
		t := *cp.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
