// ABOUTME: Chunked thread posting with the ping prefix policy
// ABOUTME: Splits at paragraph/word/character boundaries into 2000-code-point messages

package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/config"
)

// messageLimit is Discord's cap on message content, in code points.
const messageLimit = 2000

// PostToThread delivers text into a thread, splitting it into chunks of
// at most 2000 code points. Only the first chunk carries the optional
// ping prefix; when more than one chunk is needed each carries an
// "(i/n) " counter. Updates the thread's local activity stamp.
func (c *Client) PostToThread(ctx context.Context, threadID, text string) error {
	if text == "" {
		return nil
	}
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}

	prefix := c.pingPrefix(threadID)
	chunks := splitMessage(text, messageLimit)

	for i, chunk := range chunks {
		content := chunk
		if len(chunks) > 1 {
			content = fmt.Sprintf("(%d/%d) %s", i+1, len(chunks), content)
		}
		if i == 0 && prefix != "" {
			content = prefix + " " + content
		}
		if err := c.sendFn(tid, content); err != nil {
			return fmt.Errorf("posting chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	// The prefix is consumed only after the post lands.
	if prefix != "" && c.cfg.Discord.MessagePingMode == config.PingOnRecentUserReply {
		c.active.consume(threadID)
	}

	if err := c.store.SetThreadActivity(ctx, threadID, time.Now()); err != nil {
		c.logger.Warn("recording thread activity", "thread_id", threadID, "error", err)
	}
	return nil
}

// pingPrefix computes the mention prefix for one post, per the
// configured message ping mode. It never consumes the active
// conversation record; the caller does that after a successful post.
func (c *Client) pingPrefix(threadID string) string {
	switch c.cfg.Discord.MessagePingMode {
	case config.PingAlways:
		if len(c.cfg.Discord.InviteUserIDs) == 0 {
			return ""
		}
		mentions := make([]string, 0, len(c.cfg.Discord.InviteUserIDs))
		for _, uid := range c.cfg.Discord.InviteUserIDs {
			mentions = append(mentions, "<@"+uid+">")
		}
		return strings.Join(mentions, " ")
	case config.PingOnRecentUserReply:
		if userID, ok := c.active.peek(threadID); ok {
			return "<@" + userID + ">"
		}
	}
	return ""
}

// splitMessage splits text into chunks of at most limit code points.
// A newline or space break is preferred when it sits in the second half
// of the window; otherwise the chunk is cut mid-word. No chunk is empty
// and the chunks concatenate back to the original text.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := limit
		window := runes[:limit]
		if nl := lastIndexRune(window, '\n'); nl >= limit/2 {
			cut = nl + 1
		} else if sp := lastIndexRune(window, ' '); sp >= limit/2 {
			cut = sp + 1
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
