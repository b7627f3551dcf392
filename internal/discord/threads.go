// ABOUTME: Thread lifecycle operations: create, rename, archive, unarchive
// ABOUTME: Creates mappings on thread creation and honors the explicit-archive set

package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/json/option"

	"github.com/2389/cursor-discord-bridge/internal/state"
)

// threadNameLimit is Discord's cap on thread names, in code points.
const threadNameLimit = 100

// ArchivedState is the tri-state answer to "is this thread archived".
type ArchivedState int

const (
	ArchivedUnknown ArchivedState = iota
	ArchivedYes
	ArchivedNo
)

// CreateThread creates a public thread for a conversation on the
// selected channel, persists the mapping, posts the welcome message,
// and invites configured users. It refuses to create nameless threads;
// callers that have no name yet pass PlaceholderThreadName explicitly.
func (c *Client) CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (*state.Mapping, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}
	rest, err := c.api()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if !channelID.IsValid() {
		return nil, ErrNoChannel
	}

	thread, err := rest.StartThreadWithoutMessage(channelID, api.StartThreadData{
		Name:                truncateName(name),
		Type:                arikawadiscord.GuildPublicThread,
		AutoArchiveDuration: arikawadiscord.SevenDaysArchive,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}

	mapping := &state.Mapping{
		ConversationID: conversationID,
		ThreadID:       thread.ID.String(),
		Workspace:      workspaceLabel,
		CreatedAt:      time.Now(),
	}
	// Persist before the welcome post: a mapping without a welcome
	// message recovers on its own, a welcomed thread without a mapping
	// is orphaned.
	if err := c.store.PutMapping(ctx, mapping); err != nil {
		return nil, fmt.Errorf("persisting mapping: %w", err)
	}

	welcome := fmt.Sprintf("Mirroring conversation `%s` from workspace **%s**. Messages here are delivered back to the agent.",
		conversationID, workspaceLabel)
	if _, err := rest.SendMessage(thread.ID, welcome); err != nil {
		c.logger.Warn("posting welcome message", "thread_id", mapping.ThreadID, "error", wrapAPIError(err))
	}

	for _, uid := range c.cfg.Discord.InviteUserIDs {
		userID, err := arikawadiscord.ParseSnowflake(uid)
		if err != nil {
			c.logger.Warn("invalid invite user id", "user_id", uid)
			continue
		}
		if err := rest.AddThreadMember(thread.ID, arikawadiscord.UserID(userID)); err != nil {
			c.logger.Warn("inviting user to thread", "user_id", uid, "error", wrapAPIError(err))
		}
	}

	if c.cfg.Discord.ThreadCreationNotify == "ping" && len(c.cfg.Discord.InviteUserIDs) > 0 {
		mentions := make([]string, 0, len(c.cfg.Discord.InviteUserIDs))
		for _, uid := range c.cfg.Discord.InviteUserIDs {
			mentions = append(mentions, "<@"+uid+">")
		}
		if _, err := rest.SendMessage(thread.ID, strings.Join(mentions, " ")); err != nil {
			c.logger.Warn("posting creation ping", "thread_id", mapping.ThreadID, "error", wrapAPIError(err))
		}
	}

	if err := c.store.SetThreadActivity(ctx, mapping.ThreadID, time.Now()); err != nil {
		c.logger.Warn("recording thread activity", "thread_id", mapping.ThreadID, "error", err)
	}

	c.logger.Info("created thread", "conversation_id", conversationID, "thread_id", mapping.ThreadID, "name", name)
	return mapping, nil
}

// RenameThread sets a thread's name, truncating to Discord's limit.
// Renaming to the current name is a no-op.
func (c *Client) RenameThread(ctx context.Context, threadID, name string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}

	name = truncateName(name)
	ch, err := rest.Channel(tid)
	if err != nil {
		return wrapAPIError(err)
	}
	if ch.Name == name {
		return nil
	}

	if err := rest.ModifyChannel(tid, api.ModifyChannelData{Name: name}); err != nil {
		return wrapAPIError(err)
	}
	c.logger.Info("renamed thread", "thread_id", threadID, "name", name)
	return nil
}

// ThreadName fetches a thread's current name.
func (c *Client) ThreadName(ctx context.Context, threadID string) (string, error) {
	rest, err := c.api()
	if err != nil {
		return "", err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return "", err
	}
	ch, err := rest.Channel(tid)
	if err != nil {
		return "", wrapAPIError(err)
	}
	return ch.Name, nil
}

// ArchiveThread archives the thread mapped to a conversation id, or the
// thread id itself when no mapping matches.
func (c *Client) ArchiveThread(ctx context.Context, id string) error {
	return c.setArchived(ctx, id, true)
}

// UnarchiveThread reopens the thread mapped to a conversation id, or
// the thread id itself when no mapping matches.
func (c *Client) UnarchiveThread(ctx context.Context, id string) error {
	return c.setArchived(ctx, id, false)
}

func (c *Client) setArchived(ctx context.Context, id string, archived bool) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	threadID, err := c.resolveThreadID(ctx, id)
	if err != nil {
		return err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}
	if err := rest.ModifyChannel(tid, api.ModifyChannelData{
		Archived: option.Bool(&archived),
	}); err != nil {
		return wrapAPIError(err)
	}
	c.logger.Info("set thread archived", "thread_id", threadID, "archived", archived)
	return nil
}

// IsThreadArchived reports the archived state of a conversation's
// thread. Unknown when no mapping exists or the thread is unfetchable.
func (c *Client) IsThreadArchived(ctx context.Context, conversationID string) (ArchivedState, error) {
	rest, err := c.api()
	if err != nil {
		return ArchivedUnknown, err
	}
	mapping, err := c.store.GetMapping(ctx, conversationID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return ArchivedUnknown, nil
		}
		return ArchivedUnknown, err
	}
	tid, err := parseChannelID(mapping.ThreadID)
	if err != nil {
		return ArchivedUnknown, err
	}
	ch, err := rest.Channel(tid)
	if err != nil {
		if errors.Is(wrapAPIError(err), ErrNotFound) {
			return ArchivedUnknown, nil
		}
		return ArchivedUnknown, wrapAPIError(err)
	}
	if ch.ThreadMetadata == nil {
		return ArchivedUnknown, nil
	}
	if ch.ThreadMetadata.Archived {
		return ArchivedYes, nil
	}
	return ArchivedNo, nil
}

// EnsureActiveThreadsOpen unarchives the thread of every given
// conversation whose thread is archived but not explicitly archived by
// the user. Returns the number of threads reopened.
func (c *Client) EnsureActiveThreadsOpen(ctx context.Context, conversationIDs []string) (int, error) {
	if _, err := c.api(); err != nil {
		return 0, err
	}

	reopened := 0
	for _, convID := range conversationIDs {
		mapping, err := c.store.GetMapping(ctx, convID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return reopened, err
		}

		explicit, err := c.store.IsExplicitArchive(ctx, mapping.ThreadID)
		if err != nil {
			return reopened, err
		}
		if explicit {
			continue
		}

		st, err := c.IsThreadArchived(ctx, convID)
		if err != nil {
			c.logger.Warn("checking thread archive state", "conversation_id", convID, "error", err)
			continue
		}
		if st != ArchivedYes {
			continue
		}

		if err := c.UnarchiveThread(ctx, mapping.ThreadID); err != nil {
			c.logger.Warn("reopening thread", "thread_id", mapping.ThreadID, "error", err)
			continue
		}
		reopened++
	}
	return reopened, nil
}

// resolveThreadID accepts either a conversation id with a mapping or a
// raw thread id.
func (c *Client) resolveThreadID(ctx context.Context, id string) (string, error) {
	if mapping, err := c.store.GetMapping(ctx, id); err == nil {
		return mapping.ThreadID, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return "", err
	}
	return id, nil
}

// truncateName caps a thread name at Discord's 100 code point limit.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= threadNameLimit {
		return name
	}
	return string(runes[:threadNameLimit])
}
