// ABOUTME: Discord gateway client: session lifecycle and event fan-out
// ABOUTME: Wraps an arikawa session; emits bus events instead of calling peers

package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diamondburned/arikawa/v3/api"
	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/diamondburned/arikawa/v3/session"
	"github.com/diamondburned/arikawa/v3/utils/sendpart"
	"github.com/diamondburned/arikawa/v3/utils/ws"

	"github.com/2389/cursor-discord-bridge/internal/bus"
	"github.com/2389/cursor-discord-bridge/internal/config"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// PlaceholderThreadName is used for threads created before the IDE has
// assigned the conversation a title. The name sync watcher renames them
// once a real title appears.
const PlaceholderThreadName = "New conversation"

// restAPI is the slice of the arikawa REST client the bridge uses. The
// production implementation is the session; tests substitute a fake.
type restAPI interface {
	Me() (*arikawadiscord.User, error)
	Guilds(limit uint) ([]arikawadiscord.Guild, error)
	Channels(guildID arikawadiscord.GuildID) ([]arikawadiscord.Channel, error)
	Channel(channelID arikawadiscord.ChannelID) (*arikawadiscord.Channel, error)
	CreateChannel(guildID arikawadiscord.GuildID, data api.CreateChannelData) (*arikawadiscord.Channel, error)
	ModifyChannel(channelID arikawadiscord.ChannelID, data api.ModifyChannelData) error
	StartThreadWithoutMessage(channelID arikawadiscord.ChannelID, data api.StartThreadData) (*arikawadiscord.Channel, error)
	AddThreadMember(threadID arikawadiscord.ChannelID, userID arikawadiscord.UserID) error
	SendMessage(channelID arikawadiscord.ChannelID, content string, embeds ...arikawadiscord.Embed) (*arikawadiscord.Message, error)
	SendMessageComplex(channelID arikawadiscord.ChannelID, data api.SendMessageData) (*arikawadiscord.Message, error)
	EditMessageComplex(channelID arikawadiscord.ChannelID, messageID arikawadiscord.MessageID, data api.EditMessageData) (*arikawadiscord.Message, error)
	Typing(channelID arikawadiscord.ChannelID) error
	React(channelID arikawadiscord.ChannelID, messageID arikawadiscord.MessageID, emoji arikawadiscord.APIEmoji) error
	Member(guildID arikawadiscord.GuildID, userID arikawadiscord.UserID) (*arikawadiscord.Member, error)
	Roles(guildID arikawadiscord.GuildID) ([]arikawadiscord.Role, error)
	RespondInteraction(id arikawadiscord.InteractionID, token string, resp api.InteractionResponse) error
}

// Client is the bridge's view of the Discord service. Methods are safe
// for concurrent use; gateway events serialize through the bus.
type Client struct {
	cfg    *config.Config
	store  state.Store
	bus    *bus.Bus
	logger *slog.Logger

	mu        sync.Mutex
	ses       *session.Session
	rest      restAPI
	botUserID arikawadiscord.UserID
	guildID   arikawadiscord.GuildID
	channelID arikawadiscord.ChannelID

	connected atomic.Bool

	typing *typingSet
	active *activeConversations

	// sendFn posts one already-chunked message; swapped in tests.
	sendFn func(threadID arikawadiscord.ChannelID, content string) error
}

// NewClient creates a Client. Connect must be called before any
// operation that talks to Discord.
func NewClient(cfg *config.Config, st state.Store, b *bus.Bus) *Client {
	c := &Client{
		cfg:    cfg,
		store:  st,
		bus:    b,
		logger: slog.Default().With("component", "discord"),
		active: newActiveConversations(cfg.Discord.PingWindow),
	}
	c.typing = newTypingSet(c.typingOnce, c.logger)
	c.sendFn = c.sendChunk
	return c
}

// Connect opens the gateway session, identifies as a bot, and registers
// the event handlers. It blocks until the ready event arrives.
func (c *Client) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("bot token is empty")
	}

	ses := session.NewWithIntents("Bot "+token,
		gateway.IntentGuilds,
		gateway.IntentGuildMessages,
		gateway.IntentMessageContent,
		gateway.IntentGuildMessageReactions,
	)

	ses.AddHandler(c.onReady)
	ses.AddHandler(c.onMessageCreate)
	ses.AddHandler(c.onThreadUpdate)
	ses.AddHandler(c.onInteraction)
	ses.AddHandler(c.onClose)

	if err := ses.Open(ctx); err != nil {
		return fmt.Errorf("opening gateway session: %w", err)
	}

	me, err := ses.Me()
	if err != nil {
		ses.Close()
		return fmt.Errorf("fetching bot user: %w", err)
	}

	c.mu.Lock()
	c.ses = ses
	c.rest = ses
	c.botUserID = me.ID
	c.mu.Unlock()
	c.connected.Store(true)

	c.logger.Info("connected to Discord", "bot_user", me.Username, "bot_id", me.ID)
	return nil
}

// Reconnect tears down any existing session and opens a fresh one.
func (c *Client) Reconnect(ctx context.Context, token string) error {
	c.Close()
	return c.Connect(ctx, token)
}

// Close stops typing indicators and destroys the gateway session.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.typing.stopAll()

	c.mu.Lock()
	ses := c.ses
	c.ses = nil
	c.mu.Unlock()

	if ses == nil {
		return nil
	}
	if err := ses.Close(); err != nil {
		return fmt.Errorf("closing gateway session: %w", err)
	}
	return nil
}

// Connected reports whether a live gateway session exists.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// BotUserID returns the connected bot's user id, or empty when offline.
func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.botUserID.IsValid() {
		return ""
	}
	return c.botUserID.String()
}

// SelectChannel sets the guild and channel threads are created under.
func (c *Client) SelectChannel(guildID, channelID string) error {
	gid, err := parseGuildID(guildID)
	if err != nil {
		return err
	}
	cid, err := parseChannelID(channelID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.guildID = gid
	c.channelID = cid
	c.mu.Unlock()
	return nil
}

// api returns the REST seam, or ErrNotConnected.
func (c *Client) api() (restAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rest == nil {
		return nil, ErrNotConnected
	}
	return c.rest, nil
}

// NoteUserMessage records a recent in-thread user message for the
// on_recent_user_message ping mode.
func (c *Client) NoteUserMessage(threadID, userID string) {
	c.active.note(threadID, userID, time.Now())
}

func (c *Client) onReady(ev *gateway.ReadyEvent) {
	c.connected.Store(true)
	c.mu.Lock()
	c.botUserID = ev.User.ID
	c.mu.Unlock()
	c.bus.Publish(bus.TopicLifecycle, bus.Lifecycle{State: "ready"})
}

func (c *Client) onClose(ev *ws.CloseEvent) {
	c.connected.Store(false)
	c.logger.Warn("gateway connection closed", "code", ev.Code)
	c.bus.Publish(bus.TopicLifecycle, bus.Lifecycle{State: "disconnect"})
}

func (c *Client) onMessageCreate(ev *gateway.MessageCreateEvent) {
	c.bus.Publish(bus.TopicMessage, bus.Message{
		ThreadID:  ev.ChannelID.String(),
		MessageID: ev.ID.String(),
		AuthorID:  ev.Author.ID.String(),
		AuthorBot: ev.Author.Bot,
		Content:   ev.Content,
	})
}

func (c *Client) onThreadUpdate(ev *gateway.ThreadUpdateEvent) {
	if ev.ThreadMetadata == nil {
		return
	}
	c.bus.Publish(bus.TopicThreadUpdate, bus.ThreadUpdate{
		ThreadID:            ev.ID.String(),
		Archived:            ev.ThreadMetadata.Archived,
		AutoArchiveDuration: time.Duration(ev.ThreadMetadata.AutoArchiveDuration) * time.Minute,
	})
}

func (c *Client) onInteraction(ev *gateway.InteractionCreateEvent) {
	data, ok := ev.Data.(*arikawadiscord.ButtonInteraction)
	if !ok {
		return
	}
	var userID, messageID string
	if ev.Member != nil {
		userID = ev.Member.User.ID.String()
	} else if ev.User != nil {
		userID = ev.User.ID.String()
	}
	if ev.Message != nil {
		messageID = ev.Message.ID.String()
	}
	c.bus.Publish(bus.TopicInteraction, bus.Interaction{
		InteractionID: ev.ID.String(),
		Token:         ev.Token,
		ThreadID:      ev.ChannelID.String(),
		MessageID:     messageID,
		CustomID:      string(data.CustomID),
		UserID:        userID,
	})
}

// sendChunk posts a single pre-chunked message to a thread.
func (c *Client) sendChunk(threadID arikawadiscord.ChannelID, content string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	_, err = rest.SendMessage(threadID, content)
	return wrapAPIError(err)
}

// SendFile uploads a file into a thread. Content takes precedence over
// a local path; a path that does not exist locally is an error and is
// never dereferenced blindly.
func (c *Client) SendFile(ctx context.Context, threadID string, content []byte, name, description string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}
	if name == "" {
		name = "file"
	}

	data := api.SendMessageData{
		Content: description,
		Files: []sendpart.File{
			{Name: name, Reader: bytes.NewReader(content)},
		},
	}
	if _, err := rest.SendMessageComplex(tid, data); err != nil {
		return wrapAPIError(err)
	}

	if err := c.store.SetThreadActivity(ctx, threadID, time.Now()); err != nil {
		c.logger.Warn("recording thread activity", "thread_id", threadID, "error", err)
	}
	return nil
}

// React adds a reaction emoji to a message in a thread.
func (c *Client) React(threadID, messageID, emoji string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}
	mid, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	return wrapAPIError(rest.React(tid, mid, arikawadiscord.APIEmoji(emoji)))
}

// ReplyInThread posts a plain message without chunking or pings. Used
// for short operational notices (delivery failures, welcome lines).
func (c *Client) ReplyInThread(threadID, content string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}
	_, err = rest.SendMessage(tid, content)
	return wrapAPIError(err)
}

func parseChannelID(s string) (arikawadiscord.ChannelID, error) {
	sf, err := arikawadiscord.ParseSnowflake(s)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", s, err)
	}
	return arikawadiscord.ChannelID(sf), nil
}

func parseGuildID(s string) (arikawadiscord.GuildID, error) {
	sf, err := arikawadiscord.ParseSnowflake(s)
	if err != nil {
		return 0, fmt.Errorf("invalid guild id %q: %w", s, err)
	}
	return arikawadiscord.GuildID(sf), nil
}

func parseMessageID(s string) (arikawadiscord.MessageID, error) {
	sf, err := arikawadiscord.ParseSnowflake(s)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return arikawadiscord.MessageID(sf), nil
}
