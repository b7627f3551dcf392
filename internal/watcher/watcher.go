// ABOUTME: Chat watcher: 1-second reconciliation loop between the IDE and Discord
// ABOUTME: Detects new conversations, mirrors archive state, reopens truly-active threads

package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/composer"
	"github.com/2389/cursor-discord-bridge/internal/config"
	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/registry"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// reopenerCadence runs the inactivity reopener every Nth tick.
const reopenerCadence = 30

// conversations is the slice of the composer store the watcher reads.
type conversations interface {
	AllIDs(ctx context.Context) ([]string, error)
	Name(ctx context.Context, id string) (string, error)
	ArchivedIDs(ctx context.Context) (map[string]bool, error)
	ActiveRankedByRecency(ctx context.Context) ([]composer.Ranked, error)
}

// chatGateway is the slice of the Discord client the watcher drives.
type chatGateway interface {
	CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (*state.Mapping, error)
	ArchiveThread(ctx context.Context, id string) error
	UnarchiveThread(ctx context.Context, id string) error
	EnsureActiveThreadsOpen(ctx context.Context, conversationIDs []string) (int, error)
}

// Metrics is the subset of counters the watcher increments.
type Metrics interface {
	TickCompleted()
	TickSkipped()
	ThreadCreated()
	ThreadArchived()
	Reopened(n int)
}

// Watcher runs the reconciliation loop. A tick is atomic with respect
// to itself: if the previous tick is still running, the next is skipped
// entirely.
type Watcher struct {
	store    state.Store
	convs    conversations
	gateway  chatGateway
	resolver *registry.Resolver
	cfg      *config.Config
	logger   *slog.Logger
	metrics  Metrics

	running atomic.Bool
	ticks   uint64

	seen              map[string]bool
	processedArchived map[string]bool

	// SelectedHook, when set, exposes the IDE's currently selected
	// conversation ids as a fast path ahead of the storage read.
	SelectedHook func() []string

	// OnChatRemoved, when set, is called after a conversation's archive
	// state has been mirrored to Discord.
	OnChatRemoved func(conversationID string)

	now func() time.Time
}

// New creates a Watcher. Call Load before Run.
func New(st state.Store, convs conversations, gw chatGateway, resolver *registry.Resolver, cfg *config.Config, m Metrics) *Watcher {
	w := &Watcher{
		store:             st,
		convs:             convs,
		gateway:           gw,
		resolver:          resolver,
		cfg:               cfg,
		logger:            slog.Default().With("component", "chat-watcher"),
		metrics:           m,
		seen:              make(map[string]bool),
		processedArchived: make(map[string]bool),
		now:               time.Now,
	}
	resolver.SetBinder(w)
	return w
}

// Load seeds the seen and processed-archived sets from the state store.
func (w *Watcher) Load(ctx context.Context) error {
	seen, err := w.store.SeenConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading seen conversations: %w", err)
	}
	for _, id := range seen {
		w.seen[id] = true
	}

	archived, err := w.store.ArchivedConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading archived conversations: %w", err)
	}
	for _, id := range archived {
		w.processedArchived[id] = true
	}

	w.logger.Info("watcher state loaded", "seen", len(w.seen), "archived", len(w.processedArchived))
	return nil
}

// Run ticks until ctx is cancelled. Tick errors are logged, never fatal.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Cursor.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass. Reentrant calls are skipped.
func (w *Watcher) Tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		if w.metrics != nil {
			w.metrics.TickSkipped()
		}
		return
	}
	defer w.running.Store(false)

	w.ticks++
	if err := w.tick(ctx); err != nil {
		if errors.Is(err, composer.ErrUnavailable) {
			w.logger.Debug("conversation store unavailable, skipping tick")
		} else {
			w.logger.Error("tick failed", "error", err)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.TickCompleted()
	}
}

func (w *Watcher) tick(ctx context.Context) error {
	if w.SelectedHook != nil {
		for _, id := range w.SelectedHook() {
			if !w.seen[id] {
				if err := w.handleNewConversation(ctx, id); err != nil {
					w.logger.Warn("handling selected conversation", "conversation_id", id, "error", err)
				}
			}
		}
	}

	ids, err := w.convs.AllIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !w.seen[id] {
			if err := w.handleNewConversation(ctx, id); err != nil {
				w.logger.Warn("handling new conversation", "conversation_id", id, "error", err)
			}
		}
	}

	if pending := w.resolver.Pending(); pending != "" {
		if err := w.tryBindPending(ctx, pending); err != nil {
			w.logger.Warn("binding pending composer", "conversation_id", pending, "error", err)
		}
	}

	if err := w.mirrorArchives(ctx); err != nil {
		return err
	}

	if w.ticks%reopenerCadence == 0 {
		if err := w.reopenTrulyActive(ctx); err != nil {
			w.logger.Warn("inactivity reopener", "error", err)
		}
	}
	return nil
}

// handleNewConversation marks an id seen and either creates its thread
// (named) or parks it in the pending composer slot (nameless).
func (w *Watcher) handleNewConversation(ctx context.Context, id string) error {
	w.seen[id] = true
	if err := w.store.AddSeenConversations(ctx, id); err != nil {
		return fmt.Errorf("persisting seen id: %w", err)
	}

	name, err := w.convs.Name(ctx, id)
	if err != nil && !errors.Is(err, composer.ErrNotFound) {
		return err
	}
	if name != "" {
		if _, err := w.createThread(ctx, id, name); err != nil {
			return err
		}
		return nil
	}

	w.resolver.SetPending(id)
	w.logger.Info("conversation awaiting name", "conversation_id", id)
	return nil
}

// tryBindPending re-reads the pending conversation's name and creates
// its thread once one appears.
func (w *Watcher) tryBindPending(ctx context.Context, pending string) error {
	name, err := w.convs.Name(ctx, pending)
	if err != nil {
		if errors.Is(err, composer.ErrNotFound) {
			// The conversation vanished (discarded draft); drop it.
			w.resolver.ClearPending(pending)
			return nil
		}
		return err
	}
	if name == "" {
		return nil
	}
	if _, err := w.createThread(ctx, pending, name); err != nil {
		return err
	}
	w.resolver.ClearPending(pending)
	return nil
}

// BindPending force-creates a thread for the pending composer, using
// the IDE name when present and the placeholder otherwise. Called by
// the resolver's first strategy.
func (w *Watcher) BindPending(ctx context.Context) (*state.Mapping, error) {
	pending := w.resolver.Pending()
	if pending == "" {
		return nil, fmt.Errorf("no pending composer")
	}

	// The conversation may already be bound by a racing tick.
	if mapping, err := w.store.GetMapping(ctx, pending); err == nil {
		w.resolver.ClearPending(pending)
		return mapping, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	name, err := w.convs.Name(ctx, pending)
	if err != nil && !errors.Is(err, composer.ErrNotFound) && !errors.Is(err, composer.ErrUnavailable) {
		return nil, err
	}
	if name == "" {
		name = discord.PlaceholderThreadName
	}

	mapping, err := w.createThread(ctx, pending, name)
	if err != nil {
		return nil, err
	}
	w.resolver.ClearPending(pending)
	return mapping, nil
}

func (w *Watcher) createThread(ctx context.Context, conversationID, name string) (*state.Mapping, error) {
	// A mapping may already exist from a previous run.
	if mapping, err := w.store.GetMapping(ctx, conversationID); err == nil {
		return mapping, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	mapping, err := w.gateway.CreateThread(ctx, conversationID, w.cfg.Workspace.Label, name)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ThreadCreated()
	}
	return mapping, nil
}

// mirrorArchives pushes IDE-side archive transitions to Discord, both
// directions.
func (w *Watcher) mirrorArchives(ctx context.Context) error {
	archived, err := w.convs.ArchivedIDs(ctx)
	if err != nil {
		return err
	}

	for id := range archived {
		if w.processedArchived[id] {
			continue
		}
		if err := w.archiveConversation(ctx, id); err != nil {
			w.logger.Warn("mirroring archive", "conversation_id", id, "error", err)
			continue
		}
		w.processedArchived[id] = true
		if err := w.store.AddArchivedConversation(ctx, id); err != nil {
			return err
		}
		if w.OnChatRemoved != nil {
			w.OnChatRemoved(id)
		}
	}

	for id := range w.processedArchived {
		if archived[id] {
			continue
		}
		if err := w.unarchiveConversation(ctx, id); err != nil {
			w.logger.Warn("mirroring unarchive", "conversation_id", id, "error", err)
			continue
		}
		delete(w.processedArchived, id)
		if err := w.store.RemoveArchivedConversation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) archiveConversation(ctx context.Context, id string) error {
	mapping, err := w.store.GetMapping(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := w.gateway.ArchiveThread(ctx, mapping.ThreadID); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ThreadArchived()
	}
	return nil
}

// unarchiveConversation clears the explicit-archive flag before
// reopening: an IDE-side unarchive is an explicit user intent that
// outranks a Discord-side close.
func (w *Watcher) unarchiveConversation(ctx context.Context, id string) error {
	mapping, err := w.store.GetMapping(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := w.store.RemoveExplicitArchive(ctx, mapping.ThreadID); err != nil {
		return err
	}
	return w.gateway.UnarchiveThread(ctx, mapping.ThreadID)
}

// reopenTrulyActive computes the truly-active conversation set and
// reopens any of their threads Discord auto-archived. A conversation is
// truly active when it ranks inside the top implicit_archive_count by
// recency, or was touched within implicit_archive_hours.
func (w *Watcher) reopenTrulyActive(ctx context.Context) error {
	ranked, err := w.convs.ActiveRankedByRecency(ctx)
	if err != nil {
		return err
	}

	maxAge := time.Duration(w.cfg.Discord.ImplicitArchiveHours) * time.Hour
	now := w.now()

	var active []string
	for _, r := range ranked {
		byRank := r.Position < w.cfg.Discord.ImplicitArchiveCount
		byRecency := !r.LastUpdatedAt.IsZero() && now.Sub(r.LastUpdatedAt) < maxAge
		if byRank || byRecency {
			active = append(active, r.ID)
		}
	}
	if len(active) == 0 {
		return nil
	}

	reopened, err := w.gateway.EnsureActiveThreadsOpen(ctx, active)
	if err != nil {
		return err
	}
	if reopened > 0 {
		w.logger.Info("reopened auto-archived threads", "count", reopened)
		if w.metrics != nil {
			w.metrics.Reopened(reopened)
		}
	}
	return nil
}
