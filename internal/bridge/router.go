// ABOUTME: Routes gateway bus events: inbound messages, thread updates, button presses
// ABOUTME: Implements manual-vs-inactivity archive distinction and actuator forwarding

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/bus"
	"github.com/2389/cursor-discord-bridge/internal/interact"
	"github.com/2389/cursor-discord-bridge/internal/metrics"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// archiveDetectionBuffer is subtracted from the auto-archive duration
// when deciding whether an archive event was manual: an inactivity
// archive fires only once the full duration has elapsed since the last
// local activity, so anything earlier was a person.
const archiveDetectionBuffer = 5 * time.Minute

// reactor is the slice of the Discord client the router talks back to.
type reactor interface {
	BotUserID() string
	NoteUserMessage(threadID, userID string)
	React(threadID, messageID, emoji string) error
	ReplyInThread(threadID, content string) error
}

// questionSink consumes messages and button presses for open questions.
type questionSink interface {
	HandleThreadMessage(threadID, content string) bool
	HandleButton(press interact.ButtonPress)
}

// composerDeliverer injects forwarded text into the IDE.
type composerDeliverer interface {
	Deliver(ctx context.Context, conversationID, text, threadID string) error
}

// router subscribes to gateway events and applies the bridge's inbound
// semantics. It owns no state beyond its dependencies.
type router struct {
	store    state.Store
	gateway  reactor
	quest    questionSink
	actuator composerDeliverer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	now func() time.Time
}

func newRouter(st state.Store, gw reactor, q questionSink, act composerDeliverer, m *metrics.Metrics) *router {
	return &router{
		store:    st,
		gateway:  gw,
		quest:    q,
		actuator: act,
		metrics:  m,
		logger:   slog.Default().With("component", "router"),
		now:      time.Now,
	}
}

// run consumes bus events until ctx is cancelled.
func (rt *router) run(ctx context.Context, b *bus.Bus) error {
	msgCh, msgSub := b.Subscribe(ctx, bus.TopicMessage)
	defer b.Unsubscribe(bus.TopicMessage, msgSub)
	updCh, updSub := b.Subscribe(ctx, bus.TopicThreadUpdate)
	defer b.Unsubscribe(bus.TopicThreadUpdate, updSub)
	intCh, intSub := b.Subscribe(ctx, bus.TopicInteraction)
	defer b.Unsubscribe(bus.TopicInteraction, intSub)
	lifeCh, lifeSub := b.Subscribe(ctx, bus.TopicLifecycle)
	defer b.Unsubscribe(bus.TopicLifecycle, lifeSub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-msgCh:
			if !ok {
				return nil
			}
			if msg, isMsg := ev.(bus.Message); isMsg {
				rt.handleMessage(ctx, msg)
			}
		case ev, ok := <-updCh:
			if !ok {
				return nil
			}
			if upd, isUpd := ev.(bus.ThreadUpdate); isUpd {
				rt.handleThreadUpdate(ctx, upd)
			}
		case ev, ok := <-intCh:
			if !ok {
				return nil
			}
			if in, isIn := ev.(bus.Interaction); isIn {
				rt.quest.HandleButton(interact.ButtonPress{
					InteractionID: in.InteractionID,
					Token:         in.Token,
					ThreadID:      in.ThreadID,
					MessageID:     in.MessageID,
					CustomID:      in.CustomID,
				})
			}
		case ev, ok := <-lifeCh:
			if !ok {
				return nil
			}
			if lc, isLc := ev.(bus.Lifecycle); isLc {
				rt.logger.Info("gateway lifecycle", "state", lc.State)
			}
		}
	}
}

// handleMessage applies the inbound message rules for one non-bot
// message: activity update, explicit-archive clearing, question text
// override, then actuator forwarding.
func (rt *router) handleMessage(ctx context.Context, msg bus.Message) {
	if msg.AuthorBot || msg.AuthorID == rt.gateway.BotUserID() {
		return
	}

	mapping, err := rt.store.GetMappingByThread(ctx, msg.ThreadID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			rt.logger.Warn("mapping lookup", "thread_id", msg.ThreadID, "error", err)
		}
		return
	}

	if rt.metrics != nil {
		rt.metrics.InboundMessages.Inc()
	}

	if err := rt.store.SetThreadActivity(ctx, msg.ThreadID, rt.now()); err != nil {
		rt.logger.Warn("recording activity", "thread_id", msg.ThreadID, "error", err)
	}
	// A new message in an explicitly archived thread revives it.
	if err := rt.store.RemoveExplicitArchive(ctx, msg.ThreadID); err != nil {
		rt.logger.Warn("clearing explicit archive", "thread_id", msg.ThreadID, "error", err)
	}

	if rt.quest.HandleThreadMessage(msg.ThreadID, msg.Content) {
		return
	}

	rt.gateway.NoteUserMessage(msg.ThreadID, msg.AuthorID)

	if err := rt.actuator.Deliver(ctx, mapping.ConversationID, msg.Content, msg.ThreadID); err != nil {
		rt.logger.Error("forwarding to IDE", "conversation_id", mapping.ConversationID, "error", err)
		if rerr := rt.gateway.ReplyInThread(msg.ThreadID, "⚠️ Could not deliver this message to the IDE: "+err.Error()); rerr != nil {
			rt.logger.Warn("posting failure reply", "thread_id", msg.ThreadID, "error", rerr)
		}
		return
	}
	if err := rt.gateway.React(msg.ThreadID, msg.MessageID, "✅"); err != nil {
		rt.logger.Warn("acknowledging message", "thread_id", msg.ThreadID, "error", err)
	}
}

// handleThreadUpdate distinguishes a person archiving a thread from
// Discord's inactivity auto-archive, using the time since the last
// locally observed activity.
func (rt *router) handleThreadUpdate(ctx context.Context, upd bus.ThreadUpdate) {
	if _, err := rt.store.GetMappingByThread(ctx, upd.ThreadID); err != nil {
		return
	}

	if !upd.Archived {
		if err := rt.store.RemoveExplicitArchive(ctx, upd.ThreadID); err != nil {
			rt.logger.Warn("clearing explicit archive", "thread_id", upd.ThreadID, "error", err)
		}
		return
	}

	// Gateways may repeat an archive update long after the fact;
	// an already classified archive keeps its classification.
	if explicit, err := rt.store.IsExplicitArchive(ctx, upd.ThreadID); err == nil && explicit {
		return
	}

	last, err := rt.store.ThreadActivity(ctx, upd.ThreadID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			rt.logger.Warn("reading activity", "thread_id", upd.ThreadID, "error", err)
			return
		}
		// No activity record: assume a person archived it rather than
		// letting the reopener fight the user.
		if err := rt.store.AddExplicitArchive(ctx, upd.ThreadID); err != nil {
			rt.logger.Warn("recording explicit archive", "thread_id", upd.ThreadID, "error", err)
		}
		rt.logger.Info("thread archived by user", "thread_id", upd.ThreadID)
		return
	}

	threshold := upd.AutoArchiveDuration - archiveDetectionBuffer
	if threshold <= 0 || rt.now().Sub(last) <= threshold {
		if err := rt.store.AddExplicitArchive(ctx, upd.ThreadID); err != nil {
			rt.logger.Warn("recording explicit archive", "thread_id", upd.ThreadID, "error", err)
		}
		rt.logger.Info("thread archived by user", "thread_id", upd.ThreadID)
		return
	}
	rt.logger.Info("thread archived by inactivity", "thread_id", upd.ThreadID)
}
