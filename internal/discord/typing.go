// ABOUTME: Per-thread typing indicator cells
// ABOUTME: Refreshes every 8 seconds with a 5-minute hard self-stop

package discord

import (
	"log/slog"
	"sync"
	"time"

	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
)

const (
	typingRefresh  = 8 * time.Second
	typingHardStop = 5 * time.Minute
)

// typingSet tracks one refresh loop per thread. Start is idempotent
// while a loop runs; Stop on an idle thread is a no-op.
type typingSet struct {
	mu      sync.Mutex
	cells   map[string]chan struct{}
	trigger func(threadID arikawadiscord.ChannelID) error
	logger  *slog.Logger

	// timings are fields so tests can tighten them
	refresh  time.Duration
	hardStop time.Duration
}

func newTypingSet(trigger func(arikawadiscord.ChannelID) error, logger *slog.Logger) *typingSet {
	return &typingSet{
		cells:    make(map[string]chan struct{}),
		trigger:  trigger,
		logger:   logger,
		refresh:  typingRefresh,
		hardStop: typingHardStop,
	}
}

// typingOnce fires a single typing indicator on a thread.
func (c *Client) typingOnce(threadID arikawadiscord.ChannelID) error {
	rest, err := c.api()
	if err != nil {
		return err
	}
	return wrapAPIError(rest.Typing(threadID))
}

// StartTyping begins a typing indicator loop for the thread. Starting
// an already-typing thread is a no-op.
func (c *Client) StartTyping(threadID string) error {
	tid, err := parseChannelID(threadID)
	if err != nil {
		return err
	}
	c.typing.start(threadID, tid)
	return nil
}

// StopTyping cancels the thread's typing loop; idempotent.
func (c *Client) StopTyping(threadID string) {
	c.typing.stop(threadID)
}

func (t *typingSet) start(key string, threadID arikawadiscord.ChannelID) {
	t.mu.Lock()
	if _, running := t.cells[key]; running {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.cells[key] = stop
	t.mu.Unlock()

	go t.loop(key, threadID, stop)
}

func (t *typingSet) loop(key string, threadID arikawadiscord.ChannelID, stop chan struct{}) {
	if err := t.trigger(threadID); err != nil {
		t.logger.Debug("typing indicator failed", "thread_id", key, "error", err)
	}

	refresh := time.NewTicker(t.refresh)
	defer refresh.Stop()
	hard := time.NewTimer(t.hardStop)
	defer hard.Stop()

	for {
		select {
		case <-refresh.C:
			if err := t.trigger(threadID); err != nil {
				t.logger.Debug("typing indicator failed", "thread_id", key, "error", err)
			}
		case <-hard.C:
			t.stop(key)
			return
		case <-stop:
			return
		}
	}
}

func (t *typingSet) stop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, running := t.cells[key]; running {
		close(stop)
		delete(t.cells, key)
	}
}

func (t *typingSet) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, stop := range t.cells {
		close(stop)
		delete(t.cells, key)
	}
}

// activeCount reports how many typing loops are running. Test helper.
func (t *typingSet) activeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cells)
}
