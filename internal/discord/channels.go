// ABOUTME: Guild and channel discovery, channel creation, permission checks
// ABOUTME: Computes the bot's effective guild permissions and the reinstall invite URL

package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/diamondburned/arikawa/v3/api"
	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
)

// invitePermissions is the permission bit set requested by the invite
// URL: view channels, send messages, create public threads, send in
// threads, manage channels, read history, add reactions.
const invitePermissions = "397284550672"

// channelNameLimit is Discord's cap on channel names.
const channelNameLimit = 100

// GuildInfo is one guild the bot can see.
type GuildInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelInfo is one channel or category in a guild.
type ChannelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// PermissionReport lists the capabilities the bot is missing in a guild.
type PermissionReport struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
}

// requiredPermissions pairs each needed capability with its bit. Order
// is stable so the missing list is deterministic.
var requiredPermissions = []struct {
	name string
	bit  arikawadiscord.Permissions
}{
	{"View Channels", arikawadiscord.PermissionViewChannel},
	{"Send Messages", arikawadiscord.PermissionSendMessages},
	{"Create Public Threads", arikawadiscord.PermissionCreatePublicThreads},
	{"Send Messages in Threads", arikawadiscord.PermissionSendMessagesInThreads},
	{"Manage Channels", arikawadiscord.PermissionManageChannels},
	{"Read Message History", arikawadiscord.PermissionReadMessageHistory},
	{"Add Reactions", arikawadiscord.PermissionAddReactions},
}

// ListGuilds returns the guilds the bot is a member of.
func (c *Client) ListGuilds(ctx context.Context) ([]GuildInfo, error) {
	rest, err := c.api()
	if err != nil {
		return nil, err
	}
	guilds, err := rest.Guilds(100)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	out := make([]GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, GuildInfo{ID: g.ID.String(), Name: g.Name})
	}
	return out, nil
}

// ListChannels returns the text channels of a guild.
func (c *Client) ListChannels(ctx context.Context, guildID string) ([]ChannelInfo, error) {
	return c.listChannelsOfType(guildID, arikawadiscord.GuildText)
}

// ListCategories returns the category channels of a guild.
func (c *Client) ListCategories(ctx context.Context, guildID string) ([]ChannelInfo, error) {
	return c.listChannelsOfType(guildID, arikawadiscord.GuildCategory)
}

func (c *Client) listChannelsOfType(guildID string, typ arikawadiscord.ChannelType) ([]ChannelInfo, error) {
	rest, err := c.api()
	if err != nil {
		return nil, err
	}
	gid, err := parseGuildID(guildID)
	if err != nil {
		return nil, err
	}
	channels, err := rest.Channels(gid)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	var out []ChannelInfo
	for _, ch := range channels {
		if ch.Type != typ {
			continue
		}
		info := ChannelInfo{ID: ch.ID.String(), Name: ch.Name}
		if ch.ParentID.IsValid() {
			info.ParentID = ch.ParentID.String()
		}
		out = append(out, info)
	}
	return out, nil
}

// CreateChannel creates a text channel with a sanitized name, optionally
// under a category.
func (c *Client) CreateChannel(ctx context.Context, guildID, name, categoryID string) (*ChannelInfo, error) {
	rest, err := c.api()
	if err != nil {
		return nil, err
	}
	gid, err := parseGuildID(guildID)
	if err != nil {
		return nil, err
	}

	data := api.CreateChannelData{
		Name: SanitizeChannelName(name),
		Type: arikawadiscord.GuildText,
	}
	if categoryID != "" {
		cid, err := parseChannelID(categoryID)
		if err != nil {
			return nil, err
		}
		data.CategoryID = cid
	}

	ch, err := rest.CreateChannel(gid, data)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	c.logger.Info("created channel", "guild_id", guildID, "channel_id", ch.ID, "name", ch.Name)
	return &ChannelInfo{ID: ch.ID.String(), Name: ch.Name}, nil
}

// CheckPermissions folds the bot member's role permissions guild-wide
// and reports which required capabilities are missing.
func (c *Client) CheckPermissions(ctx context.Context, guildID string) (*PermissionReport, error) {
	rest, err := c.api()
	if err != nil {
		return nil, err
	}
	gid, err := parseGuildID(guildID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	botID := c.botUserID
	c.mu.Unlock()

	member, err := rest.Member(gid, botID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	roles, err := rest.Roles(gid)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	roleSet := make(map[arikawadiscord.RoleID]bool, len(member.RoleIDs))
	for _, id := range member.RoleIDs {
		roleSet[id] = true
	}

	var perms arikawadiscord.Permissions
	for _, role := range roles {
		// The @everyone role shares the guild's id and applies to all.
		if roleSet[role.ID] || role.ID == arikawadiscord.RoleID(gid) {
			perms |= role.Permissions
		}
	}

	report := &PermissionReport{OK: true}
	if perms.Has(arikawadiscord.PermissionAdministrator) {
		return report, nil
	}
	for _, req := range requiredPermissions {
		if !perms.Has(req.bit) {
			report.OK = false
			report.Missing = append(report.Missing, req.name)
		}
	}
	return report, nil
}

// InviteURL builds the bot install URL with the permission set the
// bridge requires. Empty until connected.
func (c *Client) InviteURL() string {
	botID := c.BotUserID()
	if botID == "" {
		return ""
	}
	return fmt.Sprintf("https://discord.com/oauth2/authorize?client_id=%s&permissions=%s&scope=bot",
		botID, invitePermissions)
}

// SanitizeChannelName lowercases, maps non-alphanumerics to hyphens,
// collapses hyphen runs, trims, and caps at 100.
func SanitizeChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-")
	runes := []rune(out)
	if len(runes) > channelNameLimit {
		out = string(runes[:channelNameLimit])
	}
	if out == "" {
		out = "project"
	}
	return out
}
