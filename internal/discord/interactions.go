// ABOUTME: Component-message helpers used by the interactive question manager
// ABOUTME: Posting and editing messages with button rows, plus interaction responses

package discord

import (
	"github.com/diamondburned/arikawa/v3/api"
	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/utils/json/option"
)

// PostComponents posts a message with button components and returns the
// new message's id.
func (c *Client) PostComponents(threadID, content string, components arikawadiscord.ContainerComponents) (string, error) {
	rest, err := c.api()
	if err != nil {
		return "", err
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return "", err
	}
	msg, err := rest.SendMessageComplex(tid, api.SendMessageData{
		Content:    content,
		Components: components,
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	return msg.ID.String(), nil
}

// EditComponents rewrites a message's content and component rows. A nil
// components pointer leaves the rows untouched; an empty non-nil set
// strips them.
func (c *Client) EditComponents(threadID, messageID, content string, components *arikawadiscord.ContainerComponents) error {
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
	data := api.EditMessageData{
		Content:    option.NewNullableString(content),
		Components: components,
	}
	if _, err := rest.EditMessageComplex(tid, mid, data); err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// RespondUpdate answers a component interaction by rewriting the
// message it is attached to.
func (c *Client) RespondUpdate(interactionID, token, content string, components *arikawadiscord.ContainerComponents) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	sf, err := arikawadiscord.ParseSnowflake(interactionID)
	if err != nil {
		return err
	}
	resp := api.InteractionResponse{
		Type: api.UpdateMessage,
		Data: &api.InteractionResponseData{
			Content:    option.NewNullableString(content),
			Components: components,
		},
	}
	return wrapAPIError(rest.RespondInteraction(arikawadiscord.InteractionID(sf), token, resp))
}

// RespondEphemeral answers an interaction with a message only the
// clicking user sees.
func (c *Client) RespondEphemeral(interactionID, token, content string) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	sf, err := arikawadiscord.ParseSnowflake(interactionID)
	if err != nil {
		return err
	}
	resp := api.InteractionResponse{
		Type: api.MessageInteractionWithSource,
		Data: &api.InteractionResponseData{
			Content: option.NewNullableString(content),
			Flags:   arikawadiscord.EphemeralMessage,
		},
	}
	return wrapAPIError(rest.RespondInteraction(arikawadiscord.InteractionID(sf), token, resp))
}
