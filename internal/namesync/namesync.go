// ABOUTME: Name sync watcher keeping Discord thread names aligned with IDE conversation names
// ABOUTME: Triple-redundant triggering: file watch with debounce, backup poll, watchdog

package namesync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// stalePrefix marks cache entries whose thread could not be fetched.
// Stale entries are never renamed and never overwritten with real names.
const stalePrefix = "__STALE__"

// conversationNames is the slice of the composer store the syncer reads.
type conversationNames interface {
	AllNames(ctx context.Context) (map[string]string, error)
}

// threadNamer is the slice of the Discord client the syncer drives.
type threadNamer interface {
	ThreadName(ctx context.Context, threadID string) (string, error)
	RenameThread(ctx context.Context, threadID, name string) error
}

// Metrics is the single counter the syncer increments.
type Metrics interface {
	ThreadRenamed()
}

// Syncer reconciles IDE conversation names onto Discord threads. The
// SQLite source has no change feed, so three legs drive the same sync
// pass: fsnotify on the database and WAL files (debounced), an
// unconditional poll, and a watchdog that re-attaches dropped watches.
type Syncer struct {
	store   state.Store
	convs   conversationNames
	gateway threadNamer
	metrics Metrics
	logger  *slog.Logger

	// watchPaths are the files whose modification triggers a sync:
	// the IDE database and its write-ahead log.
	watchPaths []string

	debounce time.Duration
	poll     time.Duration
	watchdog time.Duration

	mu    sync.Mutex
	cache map[string]string // conversationID -> last known thread name

	// syncMu serializes sync passes; an overlapping pass returns
	// immediately instead of queueing.
	syncMu sync.Mutex
}

// New creates a Syncer watching the given database and WAL paths.
func New(st state.Store, convs conversationNames, gw threadNamer, watchPaths []string, debounce, poll, watchdog time.Duration, m Metrics) *Syncer {
	return &Syncer{
		store:      st,
		convs:      convs,
		gateway:    gw,
		metrics:    m,
		logger:     slog.Default().With("component", "name-sync"),
		watchPaths: watchPaths,
		debounce:   debounce,
		poll:       poll,
		watchdog:   watchdog,
		cache:      make(map[string]string),
	}
}

func staleMark(conversationID string) string {
	return stalePrefix + conversationID
}

func isStale(cached string) bool {
	return strings.HasPrefix(cached, stalePrefix)
}

// Seed fills the cache from the chat service, not the IDE, so that any
// mismatch already present at startup is caught by the first sync pass.
// Threads that cannot be fetched get a stale sentinel.
func (s *Syncer) Seed(ctx context.Context) error {
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mappings {
		if m.Stale {
			s.cache[m.ConversationID] = staleMark(m.ConversationID)
			continue
		}
		name, err := s.gateway.ThreadName(ctx, m.ThreadID)
		if err != nil {
			s.cache[m.ConversationID] = staleMark(m.ConversationID)
			s.logger.Warn("thread not fetchable, marking stale",
				"conversation_id", m.ConversationID, "thread_id", m.ThreadID, "error", err)
			if err := s.store.MarkMappingStale(ctx, m.ConversationID, true); err != nil {
				s.logger.Warn("persisting stale flag", "conversation_id", m.ConversationID, "error", err)
			}
			continue
		}
		s.cache[m.ConversationID] = name
	}
	s.logger.Info("name cache seeded", "entries", len(s.cache))
	return nil
}

// SyncPass reconciles every named conversation once. Overlapping calls
// return immediately. Individual rename failures are logged and do not
// abort the pass.
func (s *Syncer) SyncPass(ctx context.Context) {
	if !s.syncMu.TryLock() {
		return
	}
	defer s.syncMu.Unlock()

	names, err := s.convs.AllNames(ctx)
	if err != nil {
		s.logger.Debug("reading conversation names", "error", err)
		return
	}
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		s.logger.Warn("listing mappings", "error", err)
		return
	}

	for _, m := range mappings {
		name, ok := names[m.ConversationID]
		if !ok || name == "" {
			continue
		}
		s.reconcileOne(ctx, m, name)
	}
}

func (s *Syncer) reconcileOne(ctx context.Context, m *state.Mapping, name string) {
	s.mu.Lock()
	cached, seen := s.cache[m.ConversationID]
	s.mu.Unlock()

	if isStale(cached) {
		return
	}
	if seen && cached == name && cached != discord.PlaceholderThreadName {
		return
	}

	if err := s.gateway.RenameThread(ctx, m.ThreadID, name); err != nil {
		if errors.Is(err, discord.ErrNotFound) {
			// Remember the sentinel so we stop retrying until the
			// mapping is re-validated.
			s.mu.Lock()
			s.cache[m.ConversationID] = staleMark(m.ConversationID)
			s.mu.Unlock()
			if serr := s.store.MarkMappingStale(ctx, m.ConversationID, true); serr != nil {
				s.logger.Warn("persisting stale flag", "conversation_id", m.ConversationID, "error", serr)
			}
			s.logger.Warn("thread gone, marking stale", "conversation_id", m.ConversationID, "thread_id", m.ThreadID)
			return
		}
		s.logger.Warn("renaming thread", "thread_id", m.ThreadID, "error", err)
		return
	}

	s.mu.Lock()
	if !isStale(s.cache[m.ConversationID]) {
		s.cache[m.ConversationID] = name
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ThreadRenamed()
	}
	s.logger.Info("thread renamed", "thread_id", m.ThreadID, "name", name)
}

// Invalidate drops a conversation's cache entry so the next pass
// re-reads it. Used when a mapping is re-validated or removed.
func (s *Syncer) Invalidate(conversationID string) {
	s.mu.Lock()
	delete(s.cache, conversationID)
	s.mu.Unlock()
}

// Run drives the three trigger legs until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	s.attachWatches(watcher)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	pollTicker := time.NewTicker(s.poll)
	defer pollTicker.Stop()
	watchdogTicker := time.NewTicker(s.watchdog)
	defer watchdogTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(s.debounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(s.debounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			s.SyncPass(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watch error", "error", err)

		case <-pollTicker.C:
			s.SyncPass(ctx)

		case <-watchdogTicker.C:
			s.attachWatches(watcher)
		}
	}
}

// attachWatches (re)attaches watches for every watch path that exists
// but is not currently watched. A WAL file appears only after the IDE's
// first write, so this runs from the watchdog as well as at startup.
func (s *Syncer) attachWatches(w *fsnotify.Watcher) {
	current := make(map[string]bool)
	for _, p := range w.WatchList() {
		current[p] = true
	}
	for _, p := range s.watchPaths {
		if current[p] {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := w.Add(p); err != nil {
			s.logger.Warn("attaching file watch", "path", p, "error", err)
			continue
		}
		s.logger.Debug("file watch attached", "path", p)
	}
}
