// ABOUTME: In-memory restAPI fake for exercising the client without a gateway
// ABOUTME: Records calls and serves canned channels, threads, and members

package discord

import (
	"fmt"
	"sync"

	"github.com/diamondburned/arikawa/v3/api"
	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/httputil"
)

type fakeRest struct {
	mu sync.Mutex

	channels map[arikawadiscord.ChannelID]*arikawadiscord.Channel
	guilds   []arikawadiscord.Guild
	member   *arikawadiscord.Member
	roles    []arikawadiscord.Role

	nextID arikawadiscord.Snowflake

	sent         []sentMessage
	renames      []string
	archivedSet  []archiveCall
	threadsMade  []string
	typingCalls  []arikawadiscord.ChannelID
	reactions    []string
	addedMembers []string
}

type sentMessage struct {
	ChannelID arikawadiscord.ChannelID
	Content   string
}

type archiveCall struct {
	ChannelID arikawadiscord.ChannelID
	Archived  bool
}

func newFakeRest() *fakeRest {
	return &fakeRest{
		channels: make(map[arikawadiscord.ChannelID]*arikawadiscord.Channel),
		nextID:   1000,
	}
}

func notFoundErr() error {
	return &httputil.HTTPError{Status: 404, Code: codeUnknownChannel}
}

func (f *fakeRest) addThread(id arikawadiscord.ChannelID, name string, archived bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &arikawadiscord.Channel{
		ID:   id,
		Name: name,
		Type: arikawadiscord.GuildPublicThread,
		ThreadMetadata: &arikawadiscord.ThreadMetadata{
			Archived:            archived,
			AutoArchiveDuration: arikawadiscord.SevenDaysArchive,
		},
	}
}

func (f *fakeRest) Me() (*arikawadiscord.User, error) {
	return &arikawadiscord.User{ID: 42, Username: "bridge-bot", Bot: true}, nil
}

func (f *fakeRest) Guilds(limit uint) ([]arikawadiscord.Guild, error) {
	return f.guilds, nil
}

func (f *fakeRest) Channels(guildID arikawadiscord.GuildID) ([]arikawadiscord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []arikawadiscord.Channel
	for _, ch := range f.channels {
		out = append(out, *ch)
	}
	return out, nil
}

func (f *fakeRest) Channel(channelID arikawadiscord.ChannelID) (*arikawadiscord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, notFoundErr()
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeRest) CreateChannel(guildID arikawadiscord.GuildID, data api.CreateChannelData) (*arikawadiscord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := &arikawadiscord.Channel{
		ID:   arikawadiscord.ChannelID(f.nextID),
		Name: data.Name,
		Type: data.Type,
	}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeRest) ModifyChannel(channelID arikawadiscord.ChannelID, data api.ModifyChannelData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return notFoundErr()
	}
	if data.Name != "" {
		ch.Name = data.Name
		f.renames = append(f.renames, fmt.Sprintf("%s=%s", channelID, data.Name))
	}
	if data.Archived != nil {
		if ch.ThreadMetadata == nil {
			ch.ThreadMetadata = &arikawadiscord.ThreadMetadata{}
		}
		ch.ThreadMetadata.Archived = *data.Archived
		f.archivedSet = append(f.archivedSet, archiveCall{ChannelID: channelID, Archived: *data.Archived})
	}
	return nil
}

func (f *fakeRest) StartThreadWithoutMessage(channelID arikawadiscord.ChannelID, data api.StartThreadData) (*arikawadiscord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	th := &arikawadiscord.Channel{
		ID:       arikawadiscord.ChannelID(f.nextID),
		Name:     data.Name,
		Type:     data.Type,
		ParentID: channelID,
		ThreadMetadata: &arikawadiscord.ThreadMetadata{
			AutoArchiveDuration: data.AutoArchiveDuration,
		},
	}
	f.channels[th.ID] = th
	f.threadsMade = append(f.threadsMade, data.Name)
	return th, nil
}

func (f *fakeRest) AddThreadMember(threadID arikawadiscord.ChannelID, userID arikawadiscord.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedMembers = append(f.addedMembers, userID.String())
	return nil
}

func (f *fakeRest) SendMessage(channelID arikawadiscord.ChannelID, content string, embeds ...arikawadiscord.Embed) (*arikawadiscord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content})
	return &arikawadiscord.Message{ID: arikawadiscord.MessageID(f.nextID), ChannelID: channelID, Content: content}, nil
}

func (f *fakeRest) SendMessageComplex(channelID arikawadiscord.ChannelID, data api.SendMessageData) (*arikawadiscord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: data.Content})
	return &arikawadiscord.Message{ID: arikawadiscord.MessageID(f.nextID), ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeRest) EditMessageComplex(channelID arikawadiscord.ChannelID, messageID arikawadiscord.MessageID, data api.EditMessageData) (*arikawadiscord.Message, error) {
	return &arikawadiscord.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeRest) Typing(channelID arikawadiscord.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls = append(f.typingCalls, channelID)
	return nil
}

func (f *fakeRest) React(channelID arikawadiscord.ChannelID, messageID arikawadiscord.MessageID, emoji arikawadiscord.APIEmoji) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, string(emoji))
	return nil
}

func (f *fakeRest) Member(guildID arikawadiscord.GuildID, userID arikawadiscord.UserID) (*arikawadiscord.Member, error) {
	if f.member == nil {
		return nil, notFoundErr()
	}
	return f.member, nil
}

func (f *fakeRest) Roles(guildID arikawadiscord.GuildID) ([]arikawadiscord.Role, error) {
	return f.roles, nil
}

func (f *fakeRest) RespondInteraction(id arikawadiscord.InteractionID, token string, resp api.InteractionResponse) error {
	return nil
}

func (f *fakeRest) sentContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Content
	}
	return out
}

var _ restAPI = (*fakeRest)(nil)
