// ABOUTME: Mapping resolution: freshness-windowed claims and the pending composer slot
// ABOUTME: Implements the three-strategy protocol answering "which thread is mine"

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/state"
)

// Resolution methods reported to callers.
const (
	MethodLatestUnclaimed = "latest_unclaimed"
	MethodWaitedForNew    = "waited_for_new"
)

// Default timing for the resolution protocol.
const (
	DefaultFreshness = 30 * time.Second
	DefaultWaitMax   = 6 * time.Second
	DefaultPoll      = 200 * time.Millisecond
)

// ErrNoMappings is returned when resolution exhausts all three
// strategies without a claimable mapping.
var ErrNoMappings = errors.New("no mappings")

// Binder creates a thread for the pending composer on demand. The chat
// watcher provides the implementation; the resolver only triggers it.
type Binder interface {
	BindPending(ctx context.Context) (*state.Mapping, error)
}

// Resolver owns the pending-composer slot and answers resolve requests
// from external agents. All persistence goes through the state store;
// the resolver caches nothing.
type Resolver struct {
	store  state.Store
	logger *slog.Logger

	mu        sync.Mutex
	pendingID string
	binder    Binder

	freshness time.Duration
	waitMax   time.Duration
	poll      time.Duration
	now       func() time.Time
}

// NewResolver creates a Resolver with default timing.
func NewResolver(st state.Store) *Resolver {
	return &Resolver{
		store:     st,
		logger:    slog.Default().With("component", "registry"),
		freshness: DefaultFreshness,
		waitMax:   DefaultWaitMax,
		poll:      DefaultPoll,
		now:       time.Now,
	}
}

// SetBinder installs the pending-composer binder. Called once at wiring
// time by the chat watcher.
func (r *Resolver) SetBinder(b Binder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binder = b
}

// SetPending records the most recently created nameless conversation.
// Returns the id it replaced, if any.
func (r *Resolver) SetPending(conversationID string) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced = r.pendingID
	r.pendingID = conversationID
	if replaced != "" && replaced != conversationID {
		r.logger.Info("pending composer replaced", "old", replaced, "new", conversationID)
		return replaced
	}
	return ""
}

// ClearPending empties the slot iff it still holds the given id.
func (r *Resolver) ClearPending(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingID == conversationID {
		r.pendingID = ""
	}
}

// Pending returns the current pending composer id, or empty.
func (r *Resolver) Pending() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingID
}

// MostRecentUnclaimedWithin returns the newest unclaimed mapping whose
// creation falls inside the freshness window, or state.ErrNotFound.
func (r *Resolver) MostRecentUnclaimedWithin(ctx context.Context, freshness time.Duration) (*state.Mapping, error) {
	cutoff := r.now().Add(-freshness)
	mappings, err := r.store.ListUnclaimedSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		if !m.Stale {
			return m, nil
		}
	}
	return nil, state.ErrNotFound
}

// MarkClaimed stamps a mapping claimed; idempotent.
func (r *Resolver) MarkClaimed(ctx context.Context, conversationID string) error {
	return r.store.MarkClaimed(ctx, conversationID, r.now())
}

// WaitForUnclaimedWithin polls for a fresh unclaimed mapping and claims
// it, until maxWait elapses.
func (r *Resolver) WaitForUnclaimedWithin(ctx context.Context, maxWait, poll, freshness time.Duration) (*state.Mapping, error) {
	deadline := r.now().Add(maxWait)
	for {
		if m, err := r.claimFreshest(ctx, freshness); err == nil {
			return m, nil
		} else if !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}

		if r.now().After(deadline) {
			return nil, ErrNoMappings
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Resolve runs the three-strategy resolution protocol:
//
//  1. A pending composer forces thread creation and claims the result.
//  2. The newest unclaimed mapping inside the freshness window wins.
//  3. Poll for a new mapping until the wait budget runs out.
//
// Every success path claims the mapping before returning, so a mapping
// is handed to at most one caller.
func (r *Resolver) Resolve(ctx context.Context) (*state.Mapping, string, error) {
	r.mu.Lock()
	pending := r.pendingID
	binder := r.binder
	r.mu.Unlock()

	if pending != "" && binder != nil {
		mapping, err := binder.BindPending(ctx)
		if err == nil && mapping != nil {
			won, err := r.claim(ctx, mapping)
			if err != nil {
				return nil, "", err
			}
			if won {
				return mapping, MethodWaitedForNew, nil
			}
			// The binder handed back a mapping another caller already
			// claimed; this caller keeps looking.
			r.logger.Info("pending mapping already claimed",
				"conversation_id", mapping.ConversationID)
		}
		if err != nil {
			r.logger.Warn("binding pending composer", "conversation_id", pending, "error", err)
		}
	}

	if mapping, err := r.claimFreshest(ctx, r.freshness); err == nil {
		return mapping, MethodLatestUnclaimed, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, "", err
	}

	mapping, err := r.WaitForUnclaimedWithin(ctx, r.waitMax, r.poll, r.freshness)
	if err != nil {
		return nil, "", err
	}
	return mapping, MethodWaitedForNew, nil
}

// claimFreshest scans fresh unclaimed mappings newest-first and claims
// the first one this caller wins. Losing a claim race moves on to the
// next candidate rather than failing.
func (r *Resolver) claimFreshest(ctx context.Context, freshness time.Duration) (*state.Mapping, error) {
	cutoff := r.now().Add(-freshness)
	mappings, err := r.store.ListUnclaimedSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		if m.Stale {
			continue
		}
		won, err := r.store.TryClaim(ctx, m.ConversationID, r.now())
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if won {
			claimed, err := r.store.GetMapping(ctx, m.ConversationID)
			if err != nil {
				return nil, err
			}
			return claimed, nil
		}
	}
	return nil, state.ErrNotFound
}

// claim stamps a specific mapping for the current caller. A false
// result means another caller holds the claim already.
func (r *Resolver) claim(ctx context.Context, m *state.Mapping) (bool, error) {
	won, err := r.store.TryClaim(ctx, m.ConversationID, r.now())
	if err != nil {
		return false, fmt.Errorf("claiming mapping %s: %w", m.ConversationID, err)
	}
	if won {
		at := r.now()
		m.ClaimedAt = &at
	}
	return won, nil
}
